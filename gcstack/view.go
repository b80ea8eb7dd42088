package gcstack

import "fmt"

type frameRecord struct {
	handle  FrameHandle
	dynamic bool
}

// StackView hands out frames from a SlotBuffer by bump allocation and links
// them into the collector's root list through its Mode.
//
// Frames must be released in the reverse order of their reservation.
// Violations are programming errors and panic. A StackView is not safe for
// concurrent use.
type StackView struct {
	buf    *SlotBuffer
	mode   Mode
	frames []frameRecord
}

// NewStackView attaches mode to buf. The buffer must be empty and must not
// be attached to another view.
func NewStackView(buf *SlotBuffer, mode Mode) (*StackView, error) {
	if buf.owner != nil {
		return nil, ErrAttached
	}
	if buf.Offset() != ReservedCells {
		return nil, fmt.Errorf("gcstack: attach %s view: %w", mode.Name(), ErrFramesLive)
	}
	mode.attach(buf)
	buf.owner = mode
	return &StackView{buf: buf, mode: mode}, nil
}

// Buffer returns the underlying buffer.
func (v *StackView) Buffer() *SlotBuffer { return v.buf }

// Mode returns the linkage policy.
func (v *StackView) Mode() Mode { return v.mode }

// Depth returns the number of live frames.
func (v *StackView) Depth() int { return len(v.frames) }

// Offset returns the current bump offset.
func (v *StackView) Offset() int { return v.buf.Offset() }

// Remaining returns the number of free cells.
func (v *StackView) Remaining() int { return v.buf.Remaining() }

// Reserve pushes a frame with capacity root slots, all null. It needs
// capacity+2 free cells; if they are not available it returns a
// *CapacityError and changes nothing.
func (v *StackView) Reserve(capacity int) (FrameHandle, error) {
	if capacity < 0 {
		panic(fmt.Sprintf("gcstack: negative frame capacity %d", capacity))
	}
	return v.reserve(capacity, false)
}

// ReserveDynamic pushes a frame with no root slots. Slots are added one at a
// time with AppendSlot while the frame is the newest live frame.
func (v *StackView) ReserveDynamic() (FrameHandle, error) {
	return v.reserve(0, true)
}

func (v *StackView) reserve(capacity int, dynamic bool) (FrameHandle, error) {
	v.mustBeOpen()
	free := v.buf.Remaining()
	if capacity > free-HeaderCells {
		return 0, &CapacityError{Requested: capacity + HeaderCells, Free: free}
	}

	o := v.buf.Offset()
	end := o + HeaderCells + capacity
	cells := v.buf.cells
	cells[o] = uintptr(capacity) << 1
	clear(cells[o+HeaderCells : end])

	h := v.mode.push(v.buf, o)
	v.buf.setOffset(end)
	v.frames = append(v.frames, frameRecord{handle: h, dynamic: dynamic})
	return h, nil
}

// AppendSlot grows the dynamic frame h by one null slot. h must be the
// newest live frame. It needs one free cell; if none is available it returns
// a *CapacityError and changes nothing.
func (v *StackView) AppendSlot(h FrameHandle) (SlotRef, error) {
	top := v.top("append to")
	if top.handle != h {
		panic(fmt.Sprintf("gcstack: append to frame %d but the newest frame is %d", h, top.handle))
	}
	if !top.dynamic {
		panic(fmt.Sprintf("gcstack: append to fixed-capacity frame %d", h))
	}
	free := v.buf.Remaining()
	if free < 1 {
		return SlotRef{}, &CapacityError{Requested: 1, Free: free}
	}

	o := v.buf.Offset()
	v.buf.cells[o] = 0
	v.buf.cells[h.Header()] += 1 << 1
	v.buf.setOffset(o + 1)
	return SlotRef{buf: v.buf, index: o}, nil
}

// Len returns the number of root slots frame h currently has.
func (v *StackView) Len(h FrameHandle) int {
	return int(v.buf.cells[h.Header()] >> 1)
}

// Slot returns root slot i of frame h.
func (v *StackView) Slot(h FrameHandle, i int) SlotRef {
	if n := v.Len(h); i < 0 || i >= n {
		panic(fmt.Sprintf("gcstack: slot %d out of range for frame %d with %d slots", i, h, n))
	}
	return SlotRef{buf: v.buf, index: int(h) + i}
}

// Live reports whether h is a live frame of this view.
func (v *StackView) Live(h FrameHandle) bool {
	for i := len(v.frames) - 1; i >= 0; i-- {
		if v.frames[i].handle == h {
			return true
		}
	}
	return false
}

// Dynamic reports whether h was reserved with ReserveDynamic.
func (v *StackView) Dynamic(h FrameHandle) bool {
	for i := len(v.frames) - 1; i >= 0; i-- {
		if v.frames[i].handle == h {
			return v.frames[i].dynamic
		}
	}
	return false
}

// Top returns the newest live frame.
func (v *StackView) Top() (FrameHandle, bool) {
	if len(v.frames) == 0 {
		return 0, false
	}
	return v.frames[len(v.frames)-1].handle, true
}

// Release unlinks frame h and restores the bump offset to the value it had
// before h was reserved. h must be the newest live frame.
func (v *StackView) Release(h FrameHandle) {
	top := v.top("release")
	if top.handle != h {
		panic(fmt.Sprintf("gcstack: release of frame %d out of order, newest frame is %d", h, top.handle))
	}
	if end := int(h) + v.Len(h); end != v.buf.Offset() {
		panic(fmt.Sprintf("gcstack: frame %d ends at %d but offset is %d", h, end, v.buf.Offset()))
	}

	v.mode.pop(v.buf, h)
	v.buf.setOffset(h.Header())
	v.frames = v.frames[:len(v.frames)-1]
}

// Close detaches the view from its buffer. All frames must be released.
// Chained views pinned on a shared head must be closed newest first;
// closing one out of order returns ErrSentinelBuried and leaves the view
// open. The buffer may then be closed or attached to a new view.
func (v *StackView) Close() error {
	if v.mode == nil {
		return nil
	}
	if len(v.frames) > 0 {
		return fmt.Errorf("gcstack: close with %d frames: %w", len(v.frames), ErrFramesLive)
	}
	if err := v.mode.detach(v.buf); err != nil {
		return err
	}
	v.buf.owner = nil
	v.mode = nil
	return nil
}

func (v *StackView) top(op string) frameRecord {
	v.mustBeOpen()
	if len(v.frames) == 0 {
		panic("gcstack: " + op + " with no live frames")
	}
	return v.frames[len(v.frames)-1]
}

func (v *StackView) mustBeOpen() {
	if v.mode == nil {
		panic("gcstack: use of closed stack view")
	}
}
