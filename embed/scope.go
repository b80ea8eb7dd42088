package embed

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/rootstack/gcstack"
	"github.com/chazu/rootstack/trace"
)

var log = commonlog.GetLogger("rootstack.embed")

// ---------------------------------------------------------------------------
// stack: frame machinery shared by Session and Task
// ---------------------------------------------------------------------------

type stack struct {
	name   string
	view   *gcstack.StackView
	rec    *trace.Recorder
	active *scope

	frames    uint64
	overflows uint64
}

func newStack(name string, size int, mode gcstack.Mode, rec *trace.Recorder) (*stack, error) {
	buf, err := gcstack.NewSlotBuffer(size)
	if err != nil {
		return nil, err
	}
	view, err := gcstack.NewStackView(buf, mode)
	if err != nil {
		buf.Close()
		return nil, err
	}
	return &stack{name: name, view: view, rec: rec}, nil
}

// close detaches the view and frees the buffer.
func (st *stack) close() error {
	if err := st.view.Close(); err != nil {
		return err
	}
	return st.view.Buffer().Close()
}

func (st *stack) open(capacity int, dynamic bool) (*scope, error) {
	var h gcstack.FrameHandle
	var err error
	if dynamic {
		h, err = st.view.ReserveDynamic()
	} else {
		h, err = st.view.Reserve(capacity)
	}
	if err != nil {
		st.overflows++
		st.record(trace.KindOverflow, dynamic, capacity)
		log.Debugf("%s: frame of %d slots does not fit: %s", st.name, capacity, err)
		return nil, fmt.Errorf("embed: open frame: %w", err)
	}
	sc := &scope{
		st:       st,
		parent:   st.active,
		handle:   h,
		dynamic:  dynamic,
		capacity: capacity,
	}
	st.active = sc
	st.frames++
	st.record(trace.KindEnter, dynamic, capacity)
	return sc, nil
}

func (st *stack) close1(sc *scope) {
	n := st.view.Len(sc.handle)
	st.view.Release(sc.handle)
	sc.released = true
	st.active = sc.parent
	st.record(trace.KindExit, sc.dynamic, n)
}

func (st *stack) record(kind trace.Kind, dynamic bool, capacity int) {
	if st.rec == nil {
		return
	}
	frame := trace.FrameStatic
	if dynamic {
		frame = trace.FrameDynamic
	}
	st.rec.Record(trace.Event{
		Stack:    st.name,
		Kind:     kind,
		Frame:    frame,
		Capacity: capacity,
		Offset:   st.view.Offset(),
		Depth:    st.view.Depth(),
	})
}

func (st *stack) staticFrame(capacity int, fn func(*StaticFrame) error) error {
	if capacity < 0 {
		return fmt.Errorf("embed: negative frame capacity %d", capacity)
	}
	sc, err := st.open(capacity, false)
	if err != nil {
		return err
	}
	defer st.close1(sc)
	return fn(&StaticFrame{sc})
}

func (st *stack) dynamicFrame(fn func(*DynamicFrame) error) error {
	sc, err := st.open(0, true)
	if err != nil {
		return err
	}
	defer st.close1(sc)
	return fn(&DynamicFrame{sc})
}

func (st *stack) stats() Stats {
	snap := st.view.Snapshot()
	return Stats{
		Name:      st.name,
		Mode:      snap.Mode,
		Size:      snap.Size,
		Used:      st.view.Buffer().Used(),
		Remaining: snap.Remaining,
		Depth:     len(snap.Frames),
		LiveRoots: snap.LiveRoots(),
		Frames:    st.frames,
		Overflows: st.overflows,
	}
}

// Stats summarizes a stack.
type Stats struct {
	Name      string
	Mode      string
	Size      int
	Used      int
	Remaining int
	Depth     int
	LiveRoots int
	Frames    uint64 // frames opened so far
	Overflows uint64 // frames refused for lack of space
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// Frame is a scope of root slots. Values rooted in a frame stay reachable
// for the foreign collector until the frame's callback returns.
type Frame interface {
	// Root stores ptr in a fresh slot of this frame.
	Root(ptr uintptr) (Value, error)
	// Output reserves a slot in this frame to be filled from a nested frame.
	Output() (Output, error)
	// Frame runs fn inside a nested frame with capacity slots.
	Frame(capacity int, fn func(*StaticFrame) error) error
	// DynamicFrame runs fn inside a nested frame that grows one slot per
	// rooted value.
	DynamicFrame(fn func(*DynamicFrame) error) error
	// Len returns the number of slots in use.
	Len() int
}

type scope struct {
	st       *stack
	parent   *scope
	handle   gcstack.FrameHandle
	dynamic  bool
	capacity int
	used     int
	released bool
}

func (sc *scope) check() error {
	if sc.released {
		return ErrFrameReleased
	}
	return nil
}

func (sc *scope) nested(capacity int, fn func(*StaticFrame) error) error {
	if err := sc.check(); err != nil {
		return err
	}
	return sc.st.staticFrame(capacity, fn)
}

func (sc *scope) nestedDynamic(fn func(*DynamicFrame) error) error {
	if err := sc.check(); err != nil {
		return err
	}
	return sc.st.dynamicFrame(fn)
}

// StaticFrame is a frame with a fixed number of slots.
type StaticFrame struct {
	sc *scope
}

// Capacity returns the number of slots the frame was opened with.
func (f *StaticFrame) Capacity() int { return f.sc.capacity }

// Len returns the number of slots in use.
func (f *StaticFrame) Len() int { return f.sc.used }

func (f *StaticFrame) slot() (gcstack.SlotRef, error) {
	if err := f.sc.check(); err != nil {
		return gcstack.SlotRef{}, err
	}
	if f.sc.used >= f.sc.capacity {
		return gcstack.SlotRef{}, fmt.Errorf("%w (capacity %d)", ErrFrameFull, f.sc.capacity)
	}
	s := f.sc.st.view.Slot(f.sc.handle, f.sc.used)
	f.sc.used++
	return s, nil
}

func (f *StaticFrame) Root(ptr uintptr) (Value, error) {
	s, err := f.slot()
	if err != nil {
		return Value{}, err
	}
	s.Set(ptr)
	return Value{owner: f.sc, slot: s}, nil
}

func (f *StaticFrame) Output() (Output, error) {
	s, err := f.slot()
	if err != nil {
		return Output{}, err
	}
	return Output{owner: f.sc, slot: s}, nil
}

func (f *StaticFrame) Frame(capacity int, fn func(*StaticFrame) error) error {
	return f.sc.nested(capacity, fn)
}

func (f *StaticFrame) DynamicFrame(fn func(*DynamicFrame) error) error {
	return f.sc.nestedDynamic(fn)
}

// DynamicFrame is a frame that grows by one slot per rooted value. It can
// only grow while it is the innermost frame of its stack.
type DynamicFrame struct {
	sc *scope
}

// Len returns the number of slots in use.
func (f *DynamicFrame) Len() int { return f.sc.used }

func (f *DynamicFrame) slot() (gcstack.SlotRef, error) {
	if err := f.sc.check(); err != nil {
		return gcstack.SlotRef{}, err
	}
	if f.sc.st.active != f.sc {
		return gcstack.SlotRef{}, ErrFrameInactive
	}
	s, err := f.sc.st.view.AppendSlot(f.sc.handle)
	if err != nil {
		return gcstack.SlotRef{}, fmt.Errorf("embed: grow dynamic frame: %w", err)
	}
	f.sc.used++
	return s, nil
}

func (f *DynamicFrame) Root(ptr uintptr) (Value, error) {
	s, err := f.slot()
	if err != nil {
		return Value{}, err
	}
	s.Set(ptr)
	return Value{owner: f.sc, slot: s}, nil
}

func (f *DynamicFrame) Output() (Output, error) {
	s, err := f.slot()
	if err != nil {
		return Output{}, err
	}
	return Output{owner: f.sc, slot: s}, nil
}

func (f *DynamicFrame) Frame(capacity int, fn func(*StaticFrame) error) error {
	return f.sc.nested(capacity, fn)
}

func (f *DynamicFrame) DynamicFrame(fn func(*DynamicFrame) error) error {
	return f.sc.nestedDynamic(fn)
}

var (
	_ Frame = (*StaticFrame)(nil)
	_ Frame = (*DynamicFrame)(nil)
)

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

// Value is a foreign value rooted in a frame. Reading it after the frame is
// released panics.
type Value struct {
	owner *scope
	slot  gcstack.SlotRef
}

// Ptr returns the rooted pointer.
func (v Value) Ptr() uintptr {
	v.mustBeLive()
	return v.slot.Get()
}

// IsNil reports whether the rooted pointer is null.
func (v Value) IsNil() bool {
	return v.Ptr() == 0
}

// Live reports whether the owning frame is still live.
func (v Value) Live() bool {
	return v.owner != nil && !v.owner.released
}

func (v Value) mustBeLive() {
	if v.owner == nil {
		panic("embed: use of zero Value")
	}
	if v.owner.released {
		panic(ErrFrameReleased)
	}
}

// Output is a slot reserved in one frame and filled from a nested frame, so
// a result outlives the frame that computed it.
type Output struct {
	owner *scope
	slot  gcstack.SlotRef
}

// Set roots ptr in the reserved slot and returns it as a Value of the frame
// that reserved it.
func (o Output) Set(ptr uintptr) (Value, error) {
	if o.owner == nil {
		return Value{}, fmt.Errorf("embed: zero Output")
	}
	if err := o.owner.check(); err != nil {
		return Value{}, err
	}
	o.slot.Set(ptr)
	return Value{owner: o.owner, slot: o.slot}, nil
}
