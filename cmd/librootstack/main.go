// Package main builds librootstack - the rooted-value stack as a C library
// for hosts that drive a foreign collector themselves.
// This is built with -buildmode=c-shared.
//
// A host passes the address of its root-list head cell to RS_ViewOpen and
// gets back an opaque view handle. Frame handles are cell indexes into the
// view's buffer. Functions return a negative RS_Status on failure: an
// unknown or closed view handle gives RS_ERR_HANDLE, and contract
// violations that would panic in Go give RS_ERR_CONTRACT. No panic ever
// crosses into the host.
package main

/*
#include <stdint.h>

typedef enum {
    RS_OK = 0,
    RS_ERR_CAPACITY = -1,
    RS_ERR_CONTRACT = -2,
    RS_ERR_HANDLE = -3,
    RS_ERR_ARG = -4,
    RS_ERR_FRAMES_LIVE = -5,
} RS_Status;

typedef enum {
    RS_MODE_DIRECT = 0,
    RS_MODE_CHAINED = 1,
} RS_Mode;
*/
import "C"
import (
	"errors"
	"sync"

	"github.com/chazu/rootstack/gcstack"
)

func main() {}

// Go names for the ABI's C types and constants.
type (
	rsStatus = C.int64_t
	rsCell   = C.uintptr_t
	rsMode   = C.int
)

const (
	statusOK         = rsStatus(C.RS_OK)
	statusCapacity   = rsStatus(C.RS_ERR_CAPACITY)
	statusContract   = rsStatus(C.RS_ERR_CONTRACT)
	statusHandle     = rsStatus(C.RS_ERR_HANDLE)
	statusArg        = rsStatus(C.RS_ERR_ARG)
	statusFramesLive = rsStatus(C.RS_ERR_FRAMES_LIVE)

	modeDirect  = rsMode(C.RS_MODE_DIRECT)
	modeChained = rsMode(C.RS_MODE_CHAINED)
)

// ============================================================================
// Head and view registry
// ============================================================================

// cHead is a root-list head living in host memory.
type cHead struct {
	cell *rsCell
}

func (h cHead) Load() uintptr       { return uintptr(*h.cell) }
func (h cHead) Store(frame uintptr) { *h.cell = rsCell(frame) }

// views maps handles given to the host to open views. Handles are never
// reused.
var views = struct {
	sync.Mutex
	next rsStatus
	byID map[rsStatus]*gcstack.StackView
}{byID: make(map[rsStatus]*gcstack.StackView)}

func register(v *gcstack.StackView) rsStatus {
	views.Lock()
	defer views.Unlock()
	views.next++
	views.byID[views.next] = v
	return views.next
}

func lookup(handle rsStatus) (*gcstack.StackView, bool) {
	views.Lock()
	defer views.Unlock()
	v, ok := views.byID[handle]
	return v, ok
}

func unregister(handle rsStatus) {
	views.Lock()
	defer views.Unlock()
	delete(views.byID, handle)
}

func status(err error) rsStatus {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, gcstack.ErrCapacity):
		return statusCapacity
	case errors.Is(err, gcstack.ErrFramesLive):
		return statusFramesLive
	case errors.Is(err, gcstack.ErrSentinelBuried):
		return statusContract
	default:
		return statusArg
	}
}

// guard turns a contract panic into RS_ERR_CONTRACT.
func guard(rc *rsStatus) {
	if r := recover(); r != nil {
		*rc = statusContract
	}
}

// ============================================================================
// Views
// ============================================================================

//export RS_ViewOpen
func RS_ViewOpen(size C.int64_t, mode C.int, head *C.uintptr_t) (rc C.int64_t) {
	defer guard(&rc)
	if size < 0 || head == nil {
		return statusArg
	}
	h := cHead{cell: head}
	var m gcstack.Mode
	switch mode {
	case modeDirect:
		m = gcstack.NewDirect(h)
	case modeChained:
		m = gcstack.NewChained(h)
	default:
		return statusArg
	}

	buf, err := gcstack.NewSlotBuffer(int(size))
	if err != nil {
		return status(err)
	}
	v, err := gcstack.NewStackView(buf, m)
	if err != nil {
		buf.Close()
		return status(err)
	}
	return register(v)
}

// RS_ViewClose detaches and frees a view. On failure the view stays open.
//
//export RS_ViewClose
func RS_ViewClose(view C.int64_t) (rc C.int64_t) {
	defer guard(&rc)
	v, ok := lookup(view)
	if !ok {
		return statusHandle
	}
	if err := v.Close(); err != nil {
		return status(err)
	}
	unregister(view)
	return status(v.Buffer().Close())
}

//export RS_Remaining
func RS_Remaining(view C.int64_t) (rc C.int64_t) {
	defer guard(&rc)
	v, ok := lookup(view)
	if !ok {
		return statusHandle
	}
	return C.int64_t(v.Remaining())
}

//export RS_Depth
func RS_Depth(view C.int64_t) (rc C.int64_t) {
	defer guard(&rc)
	v, ok := lookup(view)
	if !ok {
		return statusHandle
	}
	return C.int64_t(v.Depth())
}

// ============================================================================
// Frames
// ============================================================================

//export RS_Reserve
func RS_Reserve(view, capacity C.int64_t) (rc C.int64_t) {
	defer guard(&rc)
	v, ok := lookup(view)
	if !ok {
		return statusHandle
	}
	if capacity < 0 {
		return statusArg
	}
	h, err := v.Reserve(int(capacity))
	if err != nil {
		return status(err)
	}
	return C.int64_t(h)
}

//export RS_ReserveDynamic
func RS_ReserveDynamic(view C.int64_t) (rc C.int64_t) {
	defer guard(&rc)
	v, ok := lookup(view)
	if !ok {
		return statusHandle
	}
	h, err := v.ReserveDynamic()
	if err != nil {
		return status(err)
	}
	return C.int64_t(h)
}

// RS_AppendSlot grows a dynamic frame by one slot holding value and
// returns the slot's index within the frame.
//
//export RS_AppendSlot
func RS_AppendSlot(view, frame C.int64_t, value C.uintptr_t) (rc C.int64_t) {
	defer guard(&rc)
	v, ok := lookup(view)
	if !ok {
		return statusHandle
	}
	s, err := v.AppendSlot(gcstack.FrameHandle(frame))
	if err != nil {
		return status(err)
	}
	s.Set(uintptr(value))
	return C.int64_t(s.Index() - int(frame))
}

//export RS_SetSlot
func RS_SetSlot(view, frame, index C.int64_t, value C.uintptr_t) (rc C.int64_t) {
	defer guard(&rc)
	v, ok := lookup(view)
	if !ok {
		return statusHandle
	}
	if !v.Live(gcstack.FrameHandle(frame)) {
		return statusContract
	}
	v.Slot(gcstack.FrameHandle(frame), int(index)).Set(uintptr(value))
	return statusOK
}

//export RS_GetSlot
func RS_GetSlot(view, frame, index C.int64_t, out *C.uintptr_t) (rc C.int64_t) {
	defer guard(&rc)
	v, ok := lookup(view)
	if !ok {
		return statusHandle
	}
	if out == nil {
		return statusArg
	}
	if !v.Live(gcstack.FrameHandle(frame)) {
		return statusContract
	}
	*out = C.uintptr_t(v.Slot(gcstack.FrameHandle(frame), int(index)).Get())
	return statusOK
}

//export RS_Release
func RS_Release(view, frame C.int64_t) (rc C.int64_t) {
	defer guard(&rc)
	v, ok := lookup(view)
	if !ok {
		return statusHandle
	}
	v.Release(gcstack.FrameHandle(frame))
	return statusOK
}

// ============================================================================
// Collector side
// ============================================================================

// RS_WalkRoots counts the frames and non-null roots reachable from the
// head cell, as the collector would see them.
//
//export RS_WalkRoots
func RS_WalkRoots(head *C.uintptr_t, frames, roots *C.int64_t) (rc C.int64_t) {
	defer guard(&rc)
	if head == nil {
		return statusArg
	}
	nf, nr, err := gcstack.WalkRoots(uintptr(*head), func(uintptr) {})
	if err != nil {
		return status(err)
	}
	if frames != nil {
		*frames = C.int64_t(nf)
	}
	if roots != nil {
		*roots = C.int64_t(nr)
	}
	return statusOK
}
