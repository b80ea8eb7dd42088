package simrt

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/rootstack/internal/rawmem"
)

// Kind is the type of a heap object.
type Kind uint8

const (
	KindFree Kind = iota
	KindInt64
	KindFloat64
	KindBool
	KindString
	KindPair
)

func (k Kind) String() string {
	switch k {
	case KindFree:
		return "free"
	case KindInt64:
		return "Int64"
	case KindFloat64:
		return "Float64"
	case KindBool:
		return "Bool"
	case KindString:
		return "String"
	case KindPair:
		return "Pair"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

var (
	ErrHeapExhausted = errors.New("simrt: heap exhausted")
	ErrNotObject     = errors.New("simrt: not a live heap object")
	ErrKind          = errors.New("simrt: wrong object kind")
)

// Object layout: [tag, w1, w2]. tag holds the kind in the low byte and the
// mark bit above it. Free objects have tag 0 and keep the free list in w1.
const (
	objectCells = 3
	kindMask    = 0xff
	markBit     = 1 << 8
	noFree      = ^uintptr(0)
)

// Heap is a fixed arena of objects outside the Go heap. Object addresses
// are what the embedding layer stores in root slots.
type Heap struct {
	block   *rawmem.Block
	cells   []uintptr
	free    uintptr // object index of the first free object
	live    int
	strings map[uintptr]string
}

// NewHeap allocates room for n objects.
func NewHeap(n int) (*Heap, error) {
	if n <= 0 {
		return nil, fmt.Errorf("simrt: invalid heap size %d", n)
	}
	block, err := rawmem.Alloc(n * objectCells)
	if err != nil {
		return nil, fmt.Errorf("simrt: allocate heap: %w", err)
	}
	h := &Heap{
		block:   block,
		cells:   block.Cells(),
		strings: make(map[uintptr]string),
	}
	for i := 0; i < n; i++ {
		next := uintptr(i + 1)
		if i == n-1 {
			next = noFree
		}
		h.cells[i*objectCells+1] = next
	}
	h.free = 0
	return h, nil
}

// Capacity returns the number of objects the heap can hold.
func (h *Heap) Capacity() int {
	return len(h.cells) / objectCells
}

// Live returns the number of allocated objects.
func (h *Heap) Live() int {
	return h.live
}

func (h *Heap) alloc(kind Kind, w1, w2 uintptr) (uintptr, error) {
	if h.free == noFree {
		return 0, ErrHeapExhausted
	}
	idx := int(h.free) * objectCells
	h.free = h.cells[idx+1]
	h.cells[idx] = uintptr(kind)
	h.cells[idx+1] = w1
	h.cells[idx+2] = w2
	h.live++
	return h.block.Base() + uintptr(idx*rawmem.CellSize), nil
}

// index maps an object address to the index of its tag cell.
func (h *Heap) index(p uintptr) (int, bool) {
	idx, ok := h.block.Contains(p)
	if !ok || idx%objectCells != 0 {
		return 0, false
	}
	if Kind(h.cells[idx]&kindMask) == KindFree {
		return 0, false
	}
	return idx, true
}

// Contains reports whether p is a live object.
func (h *Heap) Contains(p uintptr) bool {
	_, ok := h.index(p)
	return ok
}

// KindOf returns the kind of object p.
func (h *Heap) KindOf(p uintptr) (Kind, error) {
	idx, ok := h.index(p)
	if !ok {
		return KindFree, fmt.Errorf("%w: %#x", ErrNotObject, p)
	}
	return Kind(h.cells[idx] & kindMask), nil
}

func (h *Heap) words(p uintptr, want Kind) (uintptr, uintptr, error) {
	idx, ok := h.index(p)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %#x", ErrNotObject, p)
	}
	if k := Kind(h.cells[idx] & kindMask); k != want {
		return 0, 0, fmt.Errorf("%w: %s is not %s", ErrKind, k, want)
	}
	return h.cells[idx+1], h.cells[idx+2], nil
}

// 64-bit payloads are split over two words so the layout is the same on
// 32-bit targets.
func split(x uint64) (uintptr, uintptr) {
	return uintptr(uint32(x)), uintptr(x >> 32)
}

func join(lo, hi uintptr) uint64 {
	return uint64(uint32(lo)) | uint64(hi)<<32
}

// NewInt64 boxes an int64.
func (h *Heap) NewInt64(v int64) (uintptr, error) {
	lo, hi := split(uint64(v))
	return h.alloc(KindInt64, lo, hi)
}

// NewFloat64 boxes a float64.
func (h *Heap) NewFloat64(v float64) (uintptr, error) {
	lo, hi := split(math.Float64bits(v))
	return h.alloc(KindFloat64, lo, hi)
}

// NewBool boxes a bool.
func (h *Heap) NewBool(v bool) (uintptr, error) {
	var w uintptr
	if v {
		w = 1
	}
	return h.alloc(KindBool, w, 0)
}

// NewString boxes a string. The bytes stay on the Go side, keyed by the
// object's address.
func (h *Heap) NewString(s string) (uintptr, error) {
	p, err := h.alloc(KindString, uintptr(len(s)), 0)
	if err != nil {
		return 0, err
	}
	h.strings[p] = s
	return p, nil
}

// NewPair allocates a pair referencing a and b. Either may be 0.
func (h *Heap) NewPair(a, b uintptr) (uintptr, error) {
	for _, p := range []uintptr{a, b} {
		if p != 0 && !h.Contains(p) {
			return 0, fmt.Errorf("%w: pair element %#x", ErrNotObject, p)
		}
	}
	return h.alloc(KindPair, a, b)
}

// Int64 unboxes an Int64 object.
func (h *Heap) Int64(p uintptr) (int64, error) {
	lo, hi, err := h.words(p, KindInt64)
	return int64(join(lo, hi)), err
}

// Float64 unboxes a Float64 object.
func (h *Heap) Float64(p uintptr) (float64, error) {
	lo, hi, err := h.words(p, KindFloat64)
	return math.Float64frombits(join(lo, hi)), err
}

// Bool unboxes a Bool object.
func (h *Heap) Bool(p uintptr) (bool, error) {
	w, _, err := h.words(p, KindBool)
	return w == 1, err
}

// String unboxes a String object.
func (h *Heap) String(p uintptr) (string, error) {
	if _, _, err := h.words(p, KindString); err != nil {
		return "", err
	}
	return h.strings[p], nil
}

// Pair returns the elements of a Pair object.
func (h *Heap) Pair(p uintptr) (uintptr, uintptr, error) {
	return h.words(p, KindPair)
}

// mark sets the mark bit on p and everything reachable from it. It
// returns false when p is not a live object.
func (h *Heap) mark(p uintptr) bool {
	idx, ok := h.index(p)
	if !ok {
		return false
	}
	work := []int{idx}
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		if h.cells[i]&markBit != 0 {
			continue
		}
		h.cells[i] |= markBit
		if Kind(h.cells[i]&kindMask) != KindPair {
			continue
		}
		for _, ref := range h.cells[i+1 : i+3] {
			if j, ok := h.index(ref); ok {
				work = append(work, j)
			}
		}
	}
	return true
}

// sweep frees every unmarked object and clears the marks of the rest.
func (h *Heap) sweep() int {
	swept := 0
	for idx := len(h.cells) - objectCells; idx >= 0; idx -= objectCells {
		tag := h.cells[idx]
		if Kind(tag&kindMask) == KindFree {
			continue
		}
		if tag&markBit != 0 {
			h.cells[idx] = tag &^ markBit
			continue
		}
		p := h.block.Base() + uintptr(idx*rawmem.CellSize)
		delete(h.strings, p)
		h.cells[idx] = 0
		h.cells[idx+1] = h.free
		h.cells[idx+2] = 0
		h.free = uintptr(idx / objectCells)
		h.live--
		swept++
	}
	return swept
}

func (h *Heap) clearMarks() {
	for idx := 0; idx < len(h.cells); idx += objectCells {
		h.cells[idx] &^= markBit
	}
}

// Close frees the arena.
func (h *Heap) Close() error {
	h.cells = nil
	h.strings = nil
	return h.block.Free()
}
