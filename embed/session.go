package embed

import (
	"fmt"

	"github.com/chazu/rootstack/gcstack"
)

// Session is the synchronous embedding of a foreign runtime. It owns one
// slot buffer whose frames are linked straight into the runtime's root
// list (Direct mode).
//
// A Session is single-threaded: every call must come from the goroutine
// that talks to the runtime. Use a worker to serialize access from
// elsewhere.
type Session struct {
	rt     Runtime
	cfg    *config
	st     *stack
	closed bool
}

// Open creates a session from a guard. The guard is consumed.
func Open(g *Guard, opts ...Option) (*Session, error) {
	rt, err := g.consume()
	if err != nil {
		return nil, err
	}
	cfg := newConfig(opts)
	st, err := newStack("session", cfg.stackSize, gcstack.NewDirect(rt.RootListHead()), cfg.recorder)
	if err != nil {
		return nil, fmt.Errorf("embed: open session: %w", err)
	}
	log.Infof("session opened with %d stack cells", cfg.stackSize)
	return &Session{rt: rt, cfg: cfg, st: st}, nil
}

// Runtime returns the session's runtime.
func (s *Session) Runtime() Runtime {
	return s.rt
}

// Frame runs fn inside a new frame with capacity root slots. The frame
// needs capacity+2 free cells; if they are not available fn is not called
// and an error matching gcstack.ErrCapacity is returned.
func (s *Session) Frame(capacity int, fn func(*StaticFrame) error) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.st.staticFrame(capacity, fn)
}

// DynamicFrame runs fn inside a new frame that grows one slot per rooted
// value. The frame needs two free cells plus one per value.
func (s *Session) DynamicFrame(fn func(*DynamicFrame) error) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.st.dynamicFrame(fn)
}

// StackSize returns the number of usable cells in the slot buffer, or 0
// once the session is closed.
func (s *Session) StackSize() int {
	if s.closed {
		return 0
	}
	return s.st.view.Buffer().Size()
}

// SetStackSize replaces the slot buffer with one of n usable cells. A
// buffer cannot be replaced while frames live in it, since their slots
// would be left behind; that returns ErrFramesLive.
func (s *Session) SetStackSize(n int) error {
	if s.closed {
		return ErrSessionClosed
	}
	if d := s.st.view.Depth(); d > 0 {
		return fmt.Errorf("embed: resize stack with %d frames: %w", d, ErrFramesLive)
	}
	st, err := newStack(s.st.name, n, gcstack.NewDirect(s.rt.RootListHead()), s.cfg.recorder)
	if err != nil {
		return fmt.Errorf("embed: resize stack: %w", err)
	}
	st.frames, st.overflows = s.st.frames, s.st.overflows
	if err := s.st.close(); err != nil {
		st.close()
		return fmt.Errorf("embed: release old stack: %w", err)
	}
	s.st = st
	s.cfg.stackSize = n
	log.Debugf("session stack resized to %d cells", n)
	return nil
}

// Depth returns the number of live frames.
func (s *Session) Depth() int {
	return s.st.view.Depth()
}

// Stats summarizes the session's stack.
func (s *Session) Stats() Stats {
	if s.closed {
		return Stats{Name: s.st.name}
	}
	return s.st.stats()
}

// Snapshot captures the session's live frames. It returns nil once the
// session is closed.
func (s *Session) Snapshot() *gcstack.Snapshot {
	if s.closed {
		return nil
	}
	return s.st.view.Snapshot()
}

// Close frees the slot buffer and shuts the runtime down. The runtime
// cannot be started again in this process.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	if d := s.st.view.Depth(); d > 0 {
		return fmt.Errorf("embed: close session with %d frames: %w", d, ErrFramesLive)
	}
	s.closed = true
	if err := s.st.close(); err != nil {
		return fmt.Errorf("embed: close session stack: %w", err)
	}
	if err := s.rt.Shutdown(); err != nil {
		return fmt.Errorf("embed: shut down runtime: %w", err)
	}
	log.Info("session closed")
	return nil
}
