package gcstack

import (
	"fmt"
	"unsafe"

	"github.com/chazu/rootstack/internal/rawmem"
)

// Reserved cells at the start of every buffer.
const (
	offsetCell   = 0 // bump offset
	sentinelCell = 1 // sentinel header (Chained)
	chainCell    = 2 // sentinel link, head of the private frame list (Chained)

	// ReservedCells is the number of cells in front of the first frame.
	ReservedCells = 3

	// HeaderCells is the number of header cells in front of a frame's roots.
	HeaderCells = 2
)

const cellSize = uintptr(rawmem.CellSize)

// SlotBuffer is a fixed-capacity array of pointer-sized cells that the
// foreign collector is told to scan. Its memory lives outside the Go heap
// and never moves, so cell addresses may be stored in the collector's root
// list. A buffer cannot grow; build a new one instead.
type SlotBuffer struct {
	block *rawmem.Block
	cells []uintptr
	owner Mode
}

// NewSlotBuffer allocates a buffer with size usable cells. The reserved
// cells come on top of size.
func NewSlotBuffer(size int) (*SlotBuffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("gcstack: invalid buffer size %d", size)
	}
	block, err := rawmem.Alloc(ReservedCells + size)
	if err != nil {
		return nil, fmt.Errorf("gcstack: allocate slot buffer: %w", err)
	}
	b := &SlotBuffer{
		block: block,
		cells: block.Cells(),
	}
	b.setOffset(ReservedCells)
	return b, nil
}

// Size returns the number of usable cells.
func (b *SlotBuffer) Size() int {
	return len(b.cells) - ReservedCells
}

// Len returns the total number of cells, reserved cells included.
func (b *SlotBuffer) Len() int {
	return len(b.cells)
}

// Offset returns the bump offset: the index of the next free cell.
func (b *SlotBuffer) Offset() int {
	return int(b.cells[offsetCell])
}

func (b *SlotBuffer) setOffset(o int) {
	b.cells[offsetCell] = uintptr(o)
}

// Used returns the number of usable cells held by live frames.
func (b *SlotBuffer) Used() int {
	return b.Offset() - ReservedCells
}

// Remaining returns the number of free cells.
func (b *SlotBuffer) Remaining() int {
	return len(b.cells) - b.Offset()
}

// Cell returns the raw contents of cell i.
func (b *SlotBuffer) Cell(i int) uintptr {
	return b.cells[i]
}

// Addr returns the address of cell i.
func (b *SlotBuffer) Addr(i int) uintptr {
	return uintptr(unsafe.Pointer(&b.cells[i]))
}

// Index maps a cell address back to its index.
func (b *SlotBuffer) Index(addr uintptr) (int, bool) {
	return b.block.Contains(addr)
}

// Attached reports whether a StackView currently owns the buffer.
func (b *SlotBuffer) Attached() bool {
	return b.owner != nil
}

// Close frees the buffer's memory. The buffer must not be attached.
func (b *SlotBuffer) Close() error {
	if b.owner != nil {
		return ErrAttached
	}
	b.cells = nil
	return b.block.Free()
}
