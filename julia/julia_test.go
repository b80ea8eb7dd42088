//go:build julia && cgo

package julia

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/chazu/rootstack/embed"
)

// Julia starts once per process, so one test covers the whole binding.
func TestRootedValueSurvivesGC(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	rt := Runtime{}
	g, err := embed.Acquire(rt)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	s, err := embed.Open(g)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	err = s.Frame(1, func(f *embed.StaticFrame) error {
		p, err := rt.EvalString(`collect(1:1000)`)
		if err != nil {
			return err
		}
		v, err := f.Root(p)
		if err != nil {
			return err
		}
		rt.GC()
		if v.Ptr() != p {
			t.Errorf("root slot changed")
		}
		_, err = rt.EvalString(`sum(collect(1:1000))`)
		return err
	})
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}

	if _, err := rt.EvalString(`error("boom")`); err == nil {
		t.Error("expected exception")
	}

	dir := t.TempDir()
	file := filepath.Join(dir, "defs.jl")
	if err := os.WriteFile(file, []byte("included_answer() = 42\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := rt.Include(s, file); err != nil {
		t.Fatalf("Include: %v", err)
	}
	if _, err := rt.EvalString(`@assert included_answer() == 42`); err != nil {
		t.Errorf("included definition: %v", err)
	}
	if err := rt.Include(s, filepath.Join(dir, "missing.jl")); !errors.Is(err, ErrIncludeNotFound) {
		t.Errorf("Include(missing) = %v, want ErrIncludeNotFound", err)
	}
	bad := filepath.Join(dir, "bad.jl")
	if err := os.WriteFile(bad, []byte("error(\"boom\")\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := rt.Include(s, bad); !errors.Is(err, ErrException) {
		t.Errorf("Include(bad) = %v, want ErrException", err)
	}
	if d := s.Depth(); d != 0 {
		t.Errorf("Depth after Include = %d", d)
	}
}
