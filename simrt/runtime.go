package simrt

import (
	"errors"
	"fmt"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/rootstack/gcstack"
)

var log = commonlog.GetLogger("rootstack.simrt")

var (
	ErrNotStarted     = errors.New("simrt: runtime not started")
	ErrAlreadyStarted = errors.New("simrt: runtime already started")
	ErrInvalidRoot    = errors.New("simrt: root slot holds a foreign pointer")
)

// DefaultHeapObjects is the heap size used when none is given.
const DefaultHeapObjects = 4096

// CollectStats holds statistics from a single collection.
type CollectStats struct {
	Heads        int
	Frames       int
	Roots        int
	InvalidRoots int
	Swept        int
	Live         int
	Duration     time.Duration
	Timestamp    time.Time
}

// Runtime is a simulated managed runtime. It has one root-list head for
// the main thread and any number of task heads for cooperative tasks; a
// collection walks all of them.
//
// Runtime is single-threaded, like the runtime it simulates.
type Runtime struct {
	heapObjects int
	heap        *Heap
	main        *gcstack.CellHead
	tasks       map[*gcstack.CellHead]struct{}
	started     bool

	collections uint64
	lastStats   *CollectStats
}

// New creates a runtime whose heap holds heapObjects objects. It does
// nothing until Init.
func New(heapObjects int) *Runtime {
	if heapObjects <= 0 {
		heapObjects = DefaultHeapObjects
	}
	return &Runtime{
		heapObjects: heapObjects,
		main:        gcstack.NewCellHead(),
		tasks:       make(map[*gcstack.CellHead]struct{}),
	}
}

// Init starts the runtime and allocates its heap.
func (r *Runtime) Init() error {
	if r.started {
		return ErrAlreadyStarted
	}
	heap, err := NewHeap(r.heapObjects)
	if err != nil {
		return err
	}
	r.heap = heap
	r.started = true
	log.Debugf("runtime started with %d heap objects", r.heapObjects)
	return nil
}

// Shutdown frees the heap. Root lists must be empty.
func (r *Runtime) Shutdown() error {
	if !r.started {
		return ErrNotStarted
	}
	if r.main.Load() != 0 {
		return fmt.Errorf("simrt: shutdown with frames on the main root list: %w", gcstack.ErrFramesLive)
	}
	if len(r.tasks) > 0 {
		return fmt.Errorf("simrt: shutdown with %d task heads registered: %w", len(r.tasks), gcstack.ErrFramesLive)
	}
	r.started = false
	err := r.heap.Close()
	r.heap = nil
	log.Debugf("runtime stopped after %d collections", r.collections)
	return err
}

// Started reports whether Init has been called.
func (r *Runtime) Started() bool {
	return r.started
}

// Heap returns the runtime's heap. It is nil before Init.
func (r *Runtime) Heap() *Heap {
	return r.heap
}

// RootListHead returns the main thread's root-list head.
func (r *Runtime) RootListHead() gcstack.RootListHead {
	return r.main
}

// NewTaskHead registers a root-list head for a new cooperative task.
func (r *Runtime) NewTaskHead() (gcstack.RootListHead, error) {
	if !r.started {
		return nil, ErrNotStarted
	}
	h := gcstack.NewCellHead()
	r.tasks[h] = struct{}{}
	return h, nil
}

// ReleaseTaskHead unregisters a task head. Its list must be empty.
func (r *Runtime) ReleaseTaskHead(head gcstack.RootListHead) error {
	h, ok := head.(*gcstack.CellHead)
	if !ok {
		return fmt.Errorf("simrt: foreign task head %T", head)
	}
	if _, ok := r.tasks[h]; !ok {
		return fmt.Errorf("simrt: task head not registered")
	}
	if h.Load() != 0 {
		return fmt.Errorf("simrt: release task head: %w", gcstack.ErrFramesLive)
	}
	delete(r.tasks, h)
	return nil
}

// TaskHeads returns the number of registered task heads.
func (r *Runtime) TaskHeads() int {
	return len(r.tasks)
}

// Collect marks everything reachable from the root lists and frees the
// rest. If any root slot holds something that is not a live object the
// collection is abandoned before sweeping and ErrInvalidRoot is returned
// along with the stats gathered so far.
func (r *Runtime) Collect() (*CollectStats, error) {
	if !r.started {
		return nil, ErrNotStarted
	}
	start := time.Now()
	stats := &CollectStats{Timestamp: start}

	heads := make([]*gcstack.CellHead, 0, len(r.tasks)+1)
	heads = append(heads, r.main)
	for h := range r.tasks {
		heads = append(heads, h)
	}

	for _, h := range heads {
		frames, roots, err := gcstack.WalkRoots(h.Load(), func(root uintptr) {
			if !r.heap.mark(root) {
				stats.InvalidRoots++
			}
		})
		if err != nil {
			r.heap.clearMarks()
			return stats, fmt.Errorf("simrt: walk root list: %w", err)
		}
		stats.Heads++
		stats.Frames += frames
		stats.Roots += roots
	}
	if stats.InvalidRoots > 0 {
		r.heap.clearMarks()
		return stats, fmt.Errorf("%w (%d slots)", ErrInvalidRoot, stats.InvalidRoots)
	}

	stats.Swept = r.heap.sweep()
	stats.Live = r.heap.Live()
	stats.Duration = time.Since(start)

	r.collections++
	r.lastStats = stats
	log.Debugf("collect: %d heads, %d frames, %d roots, swept %d, live %d",
		stats.Heads, stats.Frames, stats.Roots, stats.Swept, stats.Live)
	return stats, nil
}

// Collections returns the number of completed collections.
func (r *Runtime) Collections() uint64 {
	return r.collections
}

// LastStats returns statistics from the most recent collection, or nil.
func (r *Runtime) LastStats() *CollectStats {
	return r.lastStats
}
