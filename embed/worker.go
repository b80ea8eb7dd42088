package embed

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("embed: worker stopped")

// workRequest is a unit of work to be executed on the worker goroutine.
type workRequest struct {
	fn   func(*Session) error
	done chan error
}

// Worker serializes all session access through a single goroutine locked
// to its OS thread. The foreign runtime is single-threaded; callers on
// other goroutines must go through the worker.
type Worker struct {
	session  *Session
	requests chan workRequest
	quit     chan struct{}
	stopped  chan error
}

// StartWorker opens a session from g on a new locked goroutine. The guard
// is consumed.
func StartWorker(g *Guard, opts ...Option) (*Worker, error) {
	w := &Worker{
		requests: make(chan workRequest),
		quit:     make(chan struct{}),
		stopped:  make(chan error, 1),
	}
	opened := make(chan error, 1)
	go w.loop(g, opts, opened)
	if err := <-opened; err != nil {
		return nil, err
	}
	return w, nil
}

// loop processes requests sequentially on a dedicated thread.
func (w *Worker) loop(g *Guard, opts []Option, opened chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s, err := Open(g, opts...)
	if err != nil {
		opened <- err
		return
	}
	w.session = s
	opened <- nil

	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			w.stopped <- s.Close()
			return
		}
	}
}

// execute runs fn on the session, recovering from panics.
func (w *Worker) execute(fn func(*Session) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("embed: worker: %v", r)
		}
	}()
	return fn(w.session)
}

// Do submits fn for execution on the worker goroutine and blocks until it
// completes. A panic in fn is returned as an error; frames opened by fn
// are released before Do returns.
func (w *Worker) Do(fn func(*Session) error) error {
	req := workRequest{
		fn:   fn,
		done: make(chan error, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return ErrWorkerStopped
	}
	return <-req.done
}

// Stop shuts down the worker and closes its session. It must be called
// once.
func (w *Worker) Stop() error {
	close(w.quit)
	return <-w.stopped
}
