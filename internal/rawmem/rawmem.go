// Package rawmem allocates fixed-size blocks of pointer-sized cells outside
// the Go heap. Blocks never move, so the address of any cell stays valid
// until the block is freed and may be handed to foreign code.
package rawmem

import (
	"errors"
	"fmt"
	"unsafe"
)

// CellSize is the size in bytes of one cell.
const CellSize = int(unsafe.Sizeof(uintptr(0)))

// ErrFreed is returned when a block is freed twice.
var ErrFreed = errors.New("rawmem: block already freed")

// Block is a contiguous run of cells.
type Block struct {
	mem   []byte
	cells []uintptr
}

// Alloc maps a zeroed block of n cells.
func Alloc(n int) (*Block, error) {
	if n <= 0 {
		return nil, fmt.Errorf("rawmem: invalid block length %d", n)
	}
	mem, err := mapCells(n * CellSize)
	if err != nil {
		return nil, fmt.Errorf("rawmem: map %d cells: %w", n, err)
	}
	return &Block{
		mem:   mem,
		cells: unsafe.Slice((*uintptr)(unsafe.Pointer(&mem[0])), n),
	}, nil
}

// Cells returns the block's cells. The slice is invalid after Free.
func (b *Block) Cells() []uintptr {
	return b.cells
}

// Len returns the number of cells in the block.
func (b *Block) Len() int {
	return len(b.cells)
}

// Base returns the address of cell 0.
func (b *Block) Base() uintptr {
	return uintptr(unsafe.Pointer(&b.cells[0]))
}

// Contains reports whether addr points at a cell boundary inside the block,
// and if so returns the cell index.
func (b *Block) Contains(addr uintptr) (int, bool) {
	if b.cells == nil {
		return 0, false
	}
	base := b.Base()
	if addr < base {
		return 0, false
	}
	off := addr - base
	if off%uintptr(CellSize) != 0 {
		return 0, false
	}
	idx := int(off / uintptr(CellSize))
	if idx >= len(b.cells) {
		return 0, false
	}
	return idx, true
}

// Free releases the block's memory.
func (b *Block) Free() error {
	if b.mem == nil {
		return ErrFreed
	}
	mem := b.mem
	b.mem = nil
	b.cells = nil
	return unmapCells(mem)
}
