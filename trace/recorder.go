// Package trace records frame scope events and persists them to SQLite for
// offline inspection of root-stack usage.
package trace

import (
	"sync"
	"time"
)

// Kind is the type of a frame event.
type Kind string

const (
	KindEnter    Kind = "enter"
	KindExit     Kind = "exit"
	KindOverflow Kind = "overflow"
)

// Frame kinds.
const (
	FrameStatic  = "static"
	FrameDynamic = "dynamic"
)

// Event is one frame scope transition.
type Event struct {
	Seq      int64
	Stack    string // "session" or "task-N"
	Kind     Kind
	Frame    string // FrameStatic or FrameDynamic
	Capacity int    // declared capacity; slots at exit for dynamic frames
	Offset   int    // bump offset after the event
	Depth    int    // live frames after the event
	At       time.Time
}

// DefaultLimit bounds the number of buffered events.
const DefaultLimit = 1 << 16

// Recorder buffers events in memory. Once the limit is reached further
// events are counted and dropped until the buffer is drained. A nil
// *Recorder records nothing.
type Recorder struct {
	mu      sync.Mutex
	events  []Event
	seq     int64
	limit   int
	dropped int
}

// NewRecorder creates a recorder holding at most limit events.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Recorder{limit: limit}
}

// Record appends e, assigning its sequence number and timestamp.
func (r *Recorder) Record(e Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	if len(r.events) >= r.limit {
		r.dropped++
		return
	}
	e.Seq = r.seq
	if e.At.IsZero() {
		e.At = time.Now()
	}
	r.events = append(r.events, e)
}

// Events returns a copy of the buffered events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Drain returns the buffered events and empties the buffer.
func (r *Recorder) Drain() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

// Len returns the number of buffered events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Dropped returns how many events were discarded because the buffer was
// full.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
