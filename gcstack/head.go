package gcstack

// RootListHead is the collector's entry point into its list of root
// frames. The foreign runtime keeps it in thread-local state; it is passed
// to the linkage policies explicitly so they can be driven by a fake.
type RootListHead interface {
	// Load returns the address of the newest frame, or 0.
	Load() uintptr
	// Store makes frame the newest frame.
	Store(frame uintptr)
}

// CellHead is a RootListHead held in ordinary memory. Simulated runtimes
// and tests use it in place of the collector's thread-local pointer.
type CellHead struct {
	frame uintptr
}

// NewCellHead returns an empty head.
func NewCellHead() *CellHead {
	return &CellHead{}
}

func (h *CellHead) Load() uintptr {
	return h.frame
}

func (h *CellHead) Store(frame uintptr) {
	h.frame = frame
}
