package gcstack

import (
	"errors"
	"fmt"
)

// ErrCapacity is matched by every *CapacityError.
var ErrCapacity = errors.New("gcstack: not enough free cells")

// ErrFramesLive is returned when an operation needs an empty stack.
var ErrFramesLive = errors.New("gcstack: frames are still live")

// ErrSentinelBuried is returned when a Chained view is closed while
// another frame list is pinned above its sentinel on the same head. Views
// sharing a head must be closed newest first.
var ErrSentinelBuried = errors.New("gcstack: chained sentinel is not the root-list head")

// ErrAttached is returned when a buffer is already owned by a view.
var ErrAttached = errors.New("gcstack: buffer is attached to a stack view")

// CapacityError reports a reservation that did not fit. Nothing was
// modified when it is returned.
type CapacityError struct {
	Requested int // cells the operation needed
	Free      int // cells that were free
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("gcstack: need %d cells, %d free", e.Requested, e.Free)
}

// Is makes errors.Is(err, ErrCapacity) hold.
func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacity
}
