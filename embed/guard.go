package embed

import (
	"fmt"
	"sync/atomic"
)

// The foreign runtime can be started once per process.
var initialized atomic.Bool

// Guard proves the runtime was started. It is consumed by exactly one Open
// or OpenExecutor.
type Guard struct {
	rt   Runtime
	used bool
}

// Acquire starts rt. Only the first call in a process succeeds; later calls
// return ErrAlreadyInitialized. If rt fails to start, the guard is not
// taken and Acquire may be retried.
func Acquire(rt Runtime) (*Guard, error) {
	if !initialized.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInitialized
	}
	if err := rt.Init(); err != nil {
		initialized.Store(false)
		return nil, fmt.Errorf("embed: init runtime: %w", err)
	}
	log.Infof("runtime initialized (%T)", rt)
	return &Guard{rt: rt}, nil
}

// Runtime returns the guarded runtime.
func (g *Guard) Runtime() Runtime {
	return g.rt
}

func (g *Guard) consume() (Runtime, error) {
	if g == nil {
		return nil, fmt.Errorf("embed: nil guard")
	}
	if g.used {
		return nil, ErrGuardUsed
	}
	g.used = true
	return g.rt, nil
}
