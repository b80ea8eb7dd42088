package embed

import (
	"context"
	"errors"
	"fmt"

	"github.com/chazu/rootstack/gcstack"
)

// TaskFunc is the body of a cooperative task.
type TaskFunc func(t *Task) error

// Executor runs cooperative tasks. Each task owns a slot buffer in Chained
// mode whose sentinel is pinned on a task head of its own, so switching
// tasks never touches a root list shared with another task. Exactly one
// task runs at a time; a task gives up control only by calling Yield or
// returning.
type Executor struct {
	rt     TaskRuntime
	cfg    *config
	nextID int
	closed bool
}

// OpenExecutor creates an executor from a guard. The guarded runtime must
// implement TaskRuntime. The guard is consumed.
func OpenExecutor(g *Guard, opts ...Option) (*Executor, error) {
	if g != nil && !g.used {
		if _, ok := g.rt.(TaskRuntime); !ok {
			return nil, ErrNoTaskSupport
		}
	}
	rt, err := g.consume()
	if err != nil {
		return nil, err
	}
	return &Executor{rt: rt.(TaskRuntime), cfg: newConfig(opts)}, nil
}

// Task is one cooperative task. Its methods must only be called from the
// task's own function.
type Task struct {
	id     int
	index  int
	st     *stack
	head   gcstack.RootListHead
	fn     TaskFunc
	resume chan error
	events chan<- taskEvent

	started bool
	yields  int
}

type taskEvent struct {
	t    *Task
	done bool
	err  error
}

// ID returns the task's identifier, unique within its executor.
func (t *Task) ID() int { return t.id }

// Yields returns how many times the task has yielded.
func (t *Task) Yields() int { return t.yields }

// Frame runs fn inside a new frame of the task's stack.
func (t *Task) Frame(capacity int, fn func(*StaticFrame) error) error {
	return t.st.staticFrame(capacity, fn)
}

// DynamicFrame runs fn inside a new dynamic frame of the task's stack.
func (t *Task) DynamicFrame(fn func(*DynamicFrame) error) error {
	return t.st.dynamicFrame(fn)
}

// Stats summarizes the task's stack.
func (t *Task) Stats() Stats {
	return t.st.stats()
}

// Yield suspends the task and lets the next runnable task run. Frames stay
// live while the task is suspended. Yield returns a non-nil error when the
// executor is cancelled; the task should then return.
func (t *Task) Yield() error {
	t.yields++
	t.events <- taskEvent{t: t}
	return <-t.resume
}

func (t *Task) run() {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("embed: task %d panicked: %v", t.id, r)
			}
		}()
		err = t.fn(t)
	}()
	t.events <- taskEvent{t: t, done: true, err: err}
}

func (e *Executor) newTask(id int, fn TaskFunc, events chan<- taskEvent) (*Task, error) {
	head, err := e.rt.NewTaskHead()
	if err != nil {
		return nil, fmt.Errorf("embed: task %d head: %w", id, err)
	}
	st, err := newStack(fmt.Sprintf("task-%d", id), e.cfg.stackSize, gcstack.NewChained(head), e.cfg.recorder)
	if err != nil {
		e.rt.ReleaseTaskHead(head)
		return nil, fmt.Errorf("embed: task %d stack: %w", id, err)
	}
	return &Task{
		id:     id,
		st:     st,
		head:   head,
		fn:     fn,
		resume: make(chan error),
		events: events,
	}, nil
}

func (e *Executor) finish(t *Task) error {
	if err := t.st.close(); err != nil {
		return fmt.Errorf("embed: task %d stack: %w", t.id, err)
	}
	if err := e.rt.ReleaseTaskHead(t.head); err != nil {
		return fmt.Errorf("embed: task %d head: %w", t.id, err)
	}
	return nil
}

// Run runs fns as cooperative tasks in round-robin order until all have
// returned. The returned error joins every task's error. If ctx is
// cancelled, tasks that have not started are skipped and suspended tasks
// see the context's error from Yield.
func (e *Executor) Run(ctx context.Context, fns ...TaskFunc) error {
	if e.closed {
		return ErrSessionClosed
	}
	events := make(chan taskEvent)
	tasks := make([]*Task, 0, len(fns))
	for _, fn := range fns {
		t, err := e.newTask(e.nextID, fn, events)
		if err != nil {
			errs := []error{err}
			for _, created := range tasks {
				errs = append(errs, e.finish(created))
			}
			return errors.Join(errs...)
		}
		e.nextID++
		t.index = len(tasks)
		tasks = append(tasks, t)
	}

	errs := make([]error, len(tasks))
	queue := append([]*Task(nil), tasks...)
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]

		cause := ctx.Err()
		switch {
		case cause != nil && !t.started:
			errs[t.index] = errors.Join(cause, e.finish(t))
			continue
		case !t.started:
			t.started = true
			go t.run()
		default:
			t.resume <- cause
		}

		ev := <-events
		if !ev.done {
			queue = append(queue, t)
			continue
		}
		errs[t.index] = ev.err
		if err := e.finish(t); err != nil {
			log.Errorf("%s", err)
			errs[t.index] = errors.Join(ev.err, err)
		}
	}
	log.Debugf("ran %d tasks", len(tasks))
	return errors.Join(errs...)
}

// Close shuts the runtime down.
func (e *Executor) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.rt.Shutdown(); err != nil {
		return fmt.Errorf("embed: shut down runtime: %w", err)
	}
	return nil
}
