package gcstack

import (
	"errors"
	"unsafe"
)

// ErrCorruptChain is returned when a walk does not terminate.
var ErrCorruptChain = errors.New("gcstack: root list does not terminate")

// MaxWalkFrames bounds a walk so that a cycle in a corrupted list is
// reported instead of looping.
const MaxWalkFrames = 1 << 20

// FrameInfo describes a frame as the collector sees it.
type FrameInfo struct {
	Addr     uintptr // address of the header cell
	NRoots   int
	Indirect bool // low tag bit: slots hold pointers to roots
	Prev     uintptr
}

// loadCell reads one cell at addr. Every address reaching it comes from a
// root list built over off-heap slot buffers.
func loadCell(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

// Walk follows the root list from head, newest frame first, reading each
// frame with nothing but the binary layout. visit receives the frame and
// its raw slots; returning false stops the walk.
func Walk(head uintptr, visit func(f FrameInfo, slots []uintptr) bool) error {
	n := 0
	for addr := head; addr != 0; {
		if n++; n > MaxWalkFrames {
			return ErrCorruptChain
		}
		tag := loadCell(addr)
		f := FrameInfo{
			Addr:     addr,
			NRoots:   int(tag >> 1),
			Indirect: tag&1 == 1,
			Prev:     loadCell(addr + cellSize),
		}
		var slots []uintptr
		if f.NRoots > 0 {
			slots = unsafe.Slice((*uintptr)(unsafe.Pointer(addr+2*cellSize)), f.NRoots)
		}
		if !visit(f, slots) {
			return nil
		}
		addr = f.Prev
	}
	return nil
}

// WalkRoots calls fn with every non-null root reachable from head and
// returns the number of frames and roots seen. Indirect slots are followed
// once.
func WalkRoots(head uintptr, fn func(root uintptr)) (frames, roots int, err error) {
	err = Walk(head, func(f FrameInfo, slots []uintptr) bool {
		frames++
		for _, s := range slots {
			if f.Indirect && s != 0 {
				s = loadCell(s)
			}
			if s == 0 {
				continue
			}
			roots++
			fn(s)
		}
		return true
	})
	return frames, roots, err
}
