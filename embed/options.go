package embed

import "github.com/chazu/rootstack/trace"

// DefaultStackSize is the number of usable slot-buffer cells per stack.
const DefaultStackSize = 64

// Option configures a Session or Executor.
type Option func(*config)

type config struct {
	stackSize int
	recorder  *trace.Recorder
}

func newConfig(opts []Option) *config {
	cfg := &config{stackSize: DefaultStackSize}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithStackSize sets the number of usable cells in each slot buffer.
func WithStackSize(n int) Option {
	return func(c *config) { c.stackSize = n }
}

// WithRecorder records every frame scope transition in r.
func WithRecorder(r *trace.Recorder) Option {
	return func(c *config) { c.recorder = r }
}
