package gcstack

import "fmt"

// Mode is the linkage policy that splices frames into, and out of, the
// collector's root list. There are exactly two: Direct and Chained. A mode
// is chosen when a StackView is built and never changes for that buffer.
type Mode interface {
	// Name identifies the policy ("direct" or "chained").
	Name() string

	attach(b *SlotBuffer)
	// detach undoes attach. It fails, changing nothing, when the buffer
	// cannot be unlinked yet.
	detach(b *SlotBuffer) error
	// push links the frame whose header is at cell o. The header and the
	// zeroed roots are already in place.
	push(b *SlotBuffer, o int) FrameHandle
	// pop unlinks the frame addressed by h. The caller rewinds the offset.
	pop(b *SlotBuffer, h FrameHandle)
}

// Mode names.
const (
	DirectName  = "direct"
	ChainedName = "chained"
)

// ---------------------------------------------------------------------------
// Direct: single-threaded synchronous execution
// ---------------------------------------------------------------------------

// Direct links every frame straight into the collector's root list. Each
// push and pop reads and overwrites the head, so the head always lists all
// live frames, newest first.
type Direct struct {
	head RootListHead
}

// NewDirect returns a Direct policy over head.
func NewDirect(head RootListHead) *Direct {
	return &Direct{head: head}
}

func (d *Direct) Name() string { return DirectName }

func (d *Direct) attach(b *SlotBuffer) {}

func (d *Direct) detach(b *SlotBuffer) error { return nil }

func (d *Direct) push(b *SlotBuffer, o int) FrameHandle {
	b.cells[o+1] = d.head.Load()
	d.head.Store(b.Addr(o))
	return FrameHandle(o + HeaderCells)
}

func (d *Direct) pop(b *SlotBuffer, h FrameHandle) {
	top := d.head.Load()
	if top != b.Addr(h.Header()) {
		panic(fmt.Sprintf("gcstack: direct pop of frame %d but root-list head is %#x", h, top))
	}
	// The collector's own view of the frame holds the previous head.
	d.head.Store(loadCell(top + cellSize))
}

// ---------------------------------------------------------------------------
// Chained: cooperative multitasking
// ---------------------------------------------------------------------------

// Chained keeps a private frame list per buffer. The buffer's sentinel
// frame (cells 1 and 2, zero roots) is pinned into the root list once, when
// the policy is attached. Frames are then linked through cell 2 only, so
// pushes and pops never touch the head. From the collector's side the chain
// looks the same as under Direct: sentinel, newest frame, ..., oldest frame,
// then whatever the head held before the sentinel was pinned.
type Chained struct {
	head RootListHead
	buf  *SlotBuffer
}

// NewChained returns a Chained policy that will pin its sentinel on head.
func NewChained(head RootListHead) *Chained {
	return &Chained{head: head}
}

func (c *Chained) Name() string { return ChainedName }

func (c *Chained) attach(b *SlotBuffer) {
	if c.buf != nil {
		panic("gcstack: chained policy is already attached to a buffer")
	}
	c.buf = b
	b.cells[sentinelCell] = 0
	b.cells[chainCell] = c.head.Load()
	c.head.Store(b.Addr(sentinelCell))
}

func (c *Chained) detach(b *SlotBuffer) error {
	if c.buf != b {
		panic("gcstack: chained policy detached from a foreign buffer")
	}
	if top := c.head.Load(); top != b.Addr(sentinelCell) {
		return fmt.Errorf("%w (head %#x)", ErrSentinelBuried, top)
	}
	c.head.Store(b.cells[chainCell])
	b.cells[chainCell] = 0
	c.buf = nil
	return nil
}

func (c *Chained) push(b *SlotBuffer, o int) FrameHandle {
	b.cells[o+1] = b.cells[chainCell]
	b.cells[chainCell] = b.Addr(o)
	return FrameHandle(o + HeaderCells)
}

func (c *Chained) pop(b *SlotBuffer, h FrameHandle) {
	if top := b.cells[chainCell]; top != b.Addr(h.Header()) {
		panic(fmt.Sprintf("gcstack: chained pop of frame %d but chain head is %#x", h, top))
	}
	b.cells[chainCell] = b.cells[int(h)-1]
}

var (
	_ Mode = (*Direct)(nil)
	_ Mode = (*Chained)(nil)
)
