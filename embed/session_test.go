package embed

import (
	"errors"
	"testing"

	"github.com/chazu/rootstack/gcstack"
	"github.com/chazu/rootstack/simrt"
	"github.com/chazu/rootstack/trace"
)

func mustCollect(t *testing.T, rt *simrt.Runtime) *simrt.CollectStats {
	t.Helper()
	stats, err := rt.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return stats
}

func TestFrameRootsSurviveCollection(t *testing.T) {
	s, rt := newTestSession(t)
	heap := rt.Heap()

	var kept uintptr
	err := s.Frame(2, func(f *StaticFrame) error {
		p, err := heap.NewInt64(42)
		if err != nil {
			return err
		}
		v, err := f.Root(p)
		if err != nil {
			return err
		}
		kept = p
		heap.NewInt64(13) // unrooted

		stats := mustCollect(t, rt)
		if stats.Swept != 1 {
			t.Errorf("swept %d, want 1", stats.Swept)
		}
		got, err := heap.Int64(v.Ptr())
		if err != nil || got != 42 {
			t.Errorf("rooted value = %d, %v", got, err)
		}
		if f.Len() != 1 || f.Capacity() != 2 {
			t.Errorf("Len/Capacity = %d/%d", f.Len(), f.Capacity())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}

	mustCollect(t, rt)
	if heap.Contains(kept) {
		t.Fatal("value outlived its frame")
	}
	if s.Depth() != 0 {
		t.Fatalf("Depth = %d after frame returned", s.Depth())
	}
}

func TestOutputOutlivesNestedFrame(t *testing.T) {
	s, rt := newTestSession(t)
	heap := rt.Heap()

	err := s.Frame(1, func(outer *StaticFrame) error {
		out, err := outer.Output()
		if err != nil {
			return err
		}
		var result Value
		err = outer.DynamicFrame(func(inner *DynamicFrame) error {
			a, _ := heap.NewInt64(2)
			b, _ := heap.NewInt64(3)
			va, _ := inner.Root(a)
			vb, _ := inner.Root(b)
			pair, err := heap.NewPair(va.Ptr(), vb.Ptr())
			if err != nil {
				return err
			}
			result, err = out.Set(pair)
			return err
		})
		if err != nil {
			return err
		}

		mustCollect(t, rt)
		a, b, err := heap.Pair(result.Ptr())
		if err != nil {
			t.Fatalf("pair collected: %v", err)
		}
		x, _ := heap.Int64(a)
		y, _ := heap.Int64(b)
		if x+y != 5 {
			t.Errorf("pair elements = %d, %d", x, y)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
}

func TestFrameCapacityError(t *testing.T) {
	s, _ := newTestSession(t, WithStackSize(10))

	err := s.Frame(3, func(f *StaticFrame) error {
		return f.Frame(2, func(g *StaticFrame) error {
			called := false
			err := g.Frame(1, func(*StaticFrame) error {
				called = true
				return nil
			})
			if !errors.Is(err, gcstack.ErrCapacity) {
				t.Errorf("nested Frame(1) = %v, want ErrCapacity", err)
			}
			if called {
				t.Error("callback ran without a frame")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if st := s.Stats(); st.Overflows != 1 || st.Frames != 2 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestStaticFrameFull(t *testing.T) {
	s, _ := newTestSession(t)
	err := s.Frame(1, func(f *StaticFrame) error {
		if _, err := f.Root(0); err != nil {
			return err
		}
		if _, err := f.Root(0); !errors.Is(err, ErrFrameFull) {
			t.Errorf("Root on full frame = %v, want ErrFrameFull", err)
		}
		if _, err := f.Output(); !errors.Is(err, ErrFrameFull) {
			t.Errorf("Output on full frame = %v, want ErrFrameFull", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
}

func TestDynamicFrameGrowth(t *testing.T) {
	s, _ := newTestSession(t, WithStackSize(8))

	err := s.DynamicFrame(func(f *DynamicFrame) error {
		for i := 0; i < 6; i++ {
			if _, err := f.Root(uintptr(0)); err != nil {
				return err
			}
		}
		if _, err := f.Root(0); !errors.Is(err, gcstack.ErrCapacity) {
			t.Errorf("Root past the buffer = %v, want ErrCapacity", err)
		}
		if f.Len() != 6 {
			t.Errorf("Len = %d, want 6", f.Len())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("DynamicFrame: %v", err)
	}
	if s.Stats().Used != 0 {
		t.Error("dynamic frame not released")
	}
}

func TestDynamicFrameInactiveWhileNested(t *testing.T) {
	s, _ := newTestSession(t)
	err := s.DynamicFrame(func(outer *DynamicFrame) error {
		return outer.Frame(1, func(*StaticFrame) error {
			if _, err := outer.Root(0); !errors.Is(err, ErrFrameInactive) {
				t.Errorf("Root on covered dynamic frame = %v, want ErrFrameInactive", err)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("DynamicFrame: %v", err)
	}
}

func TestUseAfterRelease(t *testing.T) {
	s, rt := newTestSession(t)
	p, _ := rt.Heap().NewBool(true)

	var escaped Value
	var frame *StaticFrame
	s.Frame(1, func(f *StaticFrame) error {
		escaped, _ = f.Root(p)
		frame = f
		return nil
	})

	if escaped.Live() {
		t.Fatal("value reports live after release")
	}
	func() {
		defer func() {
			if r := recover(); r != ErrFrameReleased {
				t.Errorf("Ptr after release panicked with %v", r)
			}
		}()
		escaped.Ptr()
	}()
	if _, err := frame.Root(p); !errors.Is(err, ErrFrameReleased) {
		t.Errorf("Root after release = %v", err)
	}
	if err := frame.Frame(0, func(*StaticFrame) error { return nil }); !errors.Is(err, ErrFrameReleased) {
		t.Errorf("nested Frame after release = %v", err)
	}
}

func TestPanicReleasesFrames(t *testing.T) {
	s, _ := newTestSession(t)
	func() {
		defer func() { recover() }()
		s.Frame(2, func(f *StaticFrame) error {
			return f.DynamicFrame(func(*DynamicFrame) error {
				panic("boom")
			})
		})
	}()
	if s.Depth() != 0 || s.Stats().Used != 0 {
		t.Fatalf("frames left after panic: %+v", s.Stats())
	}
}

func TestCallbackErrorPropagates(t *testing.T) {
	s, _ := newTestSession(t)
	boom := errors.New("boom")
	if err := s.Frame(0, func(*StaticFrame) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Frame = %v, want boom", err)
	}
	if err := s.Frame(-1, func(*StaticFrame) error { return nil }); err == nil {
		t.Fatal("negative capacity accepted")
	}
}

func TestSetStackSize(t *testing.T) {
	s, _ := newTestSession(t, WithStackSize(4))
	if s.StackSize() != 4 {
		t.Fatalf("StackSize = %d", s.StackSize())
	}

	err := s.Frame(0, func(*StaticFrame) error {
		if err := s.SetStackSize(32); !errors.Is(err, ErrFramesLive) {
			t.Errorf("SetStackSize with live frame = %v, want ErrFramesLive", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}

	if err := s.Frame(8, func(*StaticFrame) error { return nil }); !errors.Is(err, gcstack.ErrCapacity) {
		t.Fatalf("Frame(8) on small stack = %v", err)
	}
	if err := s.SetStackSize(32); err != nil {
		t.Fatalf("SetStackSize: %v", err)
	}
	if s.StackSize() != 32 {
		t.Fatalf("StackSize = %d", s.StackSize())
	}
	if err := s.Frame(8, func(*StaticFrame) error { return nil }); err != nil {
		t.Fatalf("Frame(8) after resize: %v", err)
	}
	if st := s.Stats(); st.Overflows != 1 {
		t.Errorf("counters lost across resize: %+v", st)
	}
}

func TestSessionStatsAndSnapshot(t *testing.T) {
	s, rt := newTestSession(t, WithStackSize(16))
	p, _ := rt.Heap().NewString("x")

	s.Frame(2, func(f *StaticFrame) error {
		f.Root(p)
		return f.DynamicFrame(func(d *DynamicFrame) error {
			d.Root(p)
			st := s.Stats()
			want := Stats{Name: "session", Mode: gcstack.DirectName, Size: 16, Used: 7, Remaining: 9, Depth: 2, LiveRoots: 2, Frames: 2}
			if st != want {
				t.Errorf("Stats = %+v, want %+v", st, want)
			}
			snap := s.Snapshot()
			if len(snap.Frames) != 2 || !snap.Frames[1].Dynamic {
				t.Errorf("Snapshot = %+v", snap)
			}
			return nil
		})
	})
}

func TestSessionClose(t *testing.T) {
	initialized.Store(false)
	rt := simrt.New(8)
	g, _ := Acquire(rt)
	s, err := Open(g)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	s.Frame(0, func(*StaticFrame) error {
		if err := s.Close(); !errors.Is(err, ErrFramesLive) {
			t.Errorf("Close inside frame = %v, want ErrFramesLive", err)
		}
		return nil
	})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if rt.Started() {
		t.Error("runtime still running after Close")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if err := s.Frame(0, func(*StaticFrame) error { return nil }); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Frame after Close = %v", err)
	}
	if s.Snapshot() != nil {
		t.Error("Snapshot after Close should be nil")
	}
	if n := s.StackSize(); n != 0 {
		t.Errorf("StackSize after Close = %d, want 0", n)
	}
}

func TestSessionRecordsEvents(t *testing.T) {
	rec := trace.NewRecorder(0)
	s, _ := newTestSession(t, WithStackSize(6), WithRecorder(rec))

	s.Frame(1, func(f *StaticFrame) error {
		f.Frame(10, func(*StaticFrame) error { return nil })
		return f.DynamicFrame(func(d *DynamicFrame) error {
			d.Root(0)
			return nil
		})
	})

	events := rec.Events()
	kinds := []trace.Kind{trace.KindEnter, trace.KindOverflow, trace.KindEnter, trace.KindExit, trace.KindExit}
	if len(events) != len(kinds) {
		t.Fatalf("recorded %d events, want %d: %+v", len(events), len(kinds), events)
	}
	for i, k := range kinds {
		if events[i].Kind != k {
			t.Errorf("event %d = %s, want %s", i, events[i].Kind, k)
		}
	}
	if events[3].Frame != trace.FrameDynamic || events[3].Capacity != 1 {
		t.Errorf("dynamic exit = %+v", events[3])
	}
	if last := events[4]; last.Depth != 0 || last.Offset != gcstack.ReservedCells {
		t.Errorf("final exit = %+v", last)
	}
}
