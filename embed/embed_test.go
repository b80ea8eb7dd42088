package embed

import (
	"errors"
	"testing"

	"github.com/chazu/rootstack/gcstack"
	"github.com/chazu/rootstack/simrt"
)

// Each test gets a fresh runtime; the process-wide guard is reset so the
// tests can each acquire it.
func acquireTestGuard(t *testing.T, rt Runtime) *Guard {
	t.Helper()
	initialized.Store(false)
	g, err := Acquire(rt)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	return g
}

func newTestSession(t *testing.T, opts ...Option) (*Session, *simrt.Runtime) {
	t.Helper()
	rt := simrt.New(256)
	s, err := Open(acquireTestGuard(t, rt), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s, rt
}

type failingRuntime struct {
	simrt.Runtime
	err error
}

func (f *failingRuntime) Init() error { return f.err }

type syncOnlyRuntime struct {
	head *gcstack.CellHead
}

func (r *syncOnlyRuntime) Init() error                        { return nil }
func (r *syncOnlyRuntime) Shutdown() error                    { return nil }
func (r *syncOnlyRuntime) RootListHead() gcstack.RootListHead { return r.head }

func TestAcquireOnce(t *testing.T) {
	g := acquireTestGuard(t, simrt.New(8))
	if _, err := Acquire(simrt.New(8)); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("second Acquire = %v, want ErrAlreadyInitialized", err)
	}

	s, err := Open(g)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, err := Open(g); !errors.Is(err, ErrGuardUsed) {
		t.Fatalf("Open with used guard = %v, want ErrGuardUsed", err)
	}
	if _, err := OpenExecutor(g); !errors.Is(err, ErrGuardUsed) {
		t.Fatalf("OpenExecutor with used guard = %v, want ErrGuardUsed", err)
	}
}

func TestAcquireFailedInitCanRetry(t *testing.T) {
	initialized.Store(false)
	boom := errors.New("boom")
	if _, err := Acquire(&failingRuntime{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("Acquire = %v, want boom", err)
	}
	if initialized.Load() {
		t.Fatal("failed init must not keep the guard")
	}
	rt := simrt.New(8)
	g, err := Acquire(rt)
	if err != nil {
		t.Fatalf("retry Acquire: %v", err)
	}
	if g.Runtime() != Runtime(rt) {
		t.Error("guard holds the wrong runtime")
	}
	rt.Shutdown()
}

func TestOpenExecutorNeedsTaskRuntime(t *testing.T) {
	g := acquireTestGuard(t, &syncOnlyRuntime{head: gcstack.NewCellHead()})
	if _, err := OpenExecutor(g); !errors.Is(err, ErrNoTaskSupport) {
		t.Fatalf("OpenExecutor = %v, want ErrNoTaskSupport", err)
	}
	// The guard was not consumed by the refused executor.
	s, err := Open(g)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()
}
