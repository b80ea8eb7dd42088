package embed

import "github.com/chazu/rootstack/gcstack"

// Runtime is the foreign runtime as seen by a session: start it once, stop
// it once, and expose the collector's root-list head.
type Runtime interface {
	Init() error
	Shutdown() error
	RootListHead() gcstack.RootListHead
}

// TaskRuntime is a Runtime that can scan a separate root list per
// cooperative task.
type TaskRuntime interface {
	Runtime
	NewTaskHead() (gcstack.RootListHead, error)
	ReleaseTaskHead(gcstack.RootListHead) error
}
