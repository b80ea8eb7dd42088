package gcstack

// FrameHandle identifies a live frame by the index of its first root slot.
// It owns nothing; it is only valid until the frame is released.
type FrameHandle int

// Header returns the index of the frame's header cell.
func (h FrameHandle) Header() int {
	return int(h) - HeaderCells
}

// Payload returns the index of the frame's first root slot.
func (h FrameHandle) Payload() int {
	return int(h)
}

// SlotRef addresses one root slot. The zero SlotRef is invalid.
type SlotRef struct {
	buf   *SlotBuffer
	index int
}

// Valid reports whether the ref addresses a slot.
func (s SlotRef) Valid() bool {
	return s.buf != nil
}

// Index returns the slot's cell index.
func (s SlotRef) Index() int {
	return s.index
}

// Get returns the pointer stored in the slot, 0 for the null sentinel.
func (s SlotRef) Get() uintptr {
	return s.buf.cells[s.index]
}

// Set roots ptr in the slot.
func (s SlotRef) Set(ptr uintptr) {
	s.buf.cells[s.index] = ptr
}

// IsNull reports whether the slot holds the null sentinel.
func (s SlotRef) IsNull() bool {
	return s.Get() == 0
}

// Addr returns the slot's address, for runtimes that take a pointer to a
// root.
func (s SlotRef) Addr() uintptr {
	return s.buf.Addr(s.index)
}
