//go:build julia && cgo

// Package julia binds the rooted-value stack to a real Julia runtime
// through libjulia. Build with -tags julia, taking CGO_CFLAGS and
// CGO_LDFLAGS from julia-config.jl.
//
// Julia must be started, used and stopped from one OS thread; drive it
// through an embed.Worker.
package julia

/*
#cgo LDFLAGS: -ljulia
#include <stdint.h>
#include <stdlib.h>
#include <julia.h>

static uintptr_t rs_load_head(void) {
	return (uintptr_t)*jl_get_pgcstack();
}

static void rs_store_head(uintptr_t frame) {
	*jl_get_pgcstack() = (jl_gcframe_t *)frame;
}

static uintptr_t rs_eval(const char *src) {
	jl_value_t *v = jl_eval_string(src);
	if (jl_exception_occurred()) {
		return 0;
	}
	return (uintptr_t)v;
}

static uintptr_t rs_string(const char *s) {
	return (uintptr_t)jl_cstr_to_string(s);
}

static uintptr_t rs_main_function(const char *name) {
	return (uintptr_t)jl_get_function(jl_main_module, name);
}

static uintptr_t rs_call1(uintptr_t f, uintptr_t arg) {
	jl_value_t *v = jl_call1((jl_function_t *)f, (jl_value_t *)arg);
	if (jl_exception_occurred()) {
		return 0;
	}
	return (uintptr_t)v;
}

static const char *rs_exception_type(void) {
	jl_value_t *e = jl_exception_occurred();
	if (!e) {
		return NULL;
	}
	return jl_typeof_str(e);
}

static void rs_gc(void) {
	jl_gc_collect(JL_GC_FULL);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"github.com/tliron/commonlog"

	"github.com/chazu/rootstack/embed"
	"github.com/chazu/rootstack/gcstack"
)

var log = commonlog.GetLogger("rootstack.julia")

// ErrException is returned when evaluated code throws.
var ErrException = errors.New("julia: exception")

// ErrIncludeNotFound is returned by Include for a path that does not exist.
var ErrIncludeNotFound = errors.New("julia: include file not found")

// Head is the calling thread's root-list head (pgcstack).
type Head struct{}

func (Head) Load() uintptr       { return uintptr(C.rs_load_head()) }
func (Head) Store(frame uintptr) { C.rs_store_head(C.uintptr_t(frame)) }

var _ gcstack.RootListHead = Head{}

// Runtime is the process's Julia runtime.
type Runtime struct{}

// Init starts Julia.
func (Runtime) Init() error {
	C.jl_init()
	log.Infof("julia runtime started")
	return nil
}

// Shutdown runs Julia's exit hooks. Julia cannot be restarted afterwards.
func (Runtime) Shutdown() error {
	C.jl_atexit_hook(0)
	return nil
}

// RootListHead returns the calling thread's head.
func (Runtime) RootListHead() gcstack.RootListHead {
	return Head{}
}

// EvalString evaluates src in Main and returns the resulting value. The
// value is unrooted; root it before allocating again.
func (rt Runtime) EvalString(src string) (uintptr, error) {
	csrc := C.CString(src)
	defer C.free(unsafe.Pointer(csrc))
	v := uintptr(C.rs_eval(csrc))
	if v == 0 {
		return 0, rt.exception("eval")
	}
	return v, nil
}

// Framer opens a static frame. Sessions, tasks and frames all qualify.
type Framer interface {
	Frame(capacity int, fn func(*embed.StaticFrame) error) error
}

// Include evaluates the file at path in Main, as Main.include would. The
// path string, the include function and its result are rooted in a frame
// opened on f for the duration of the call.
func (rt Runtime) Include(f Framer, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrIncludeNotFound, path)
	}
	return f.Frame(3, func(frame *embed.StaticFrame) error {
		cpath := C.CString(path)
		defer C.free(unsafe.Pointer(cpath))
		str, err := frame.Root(uintptr(C.rs_string(cpath)))
		if err != nil {
			return err
		}

		cname := C.CString("include")
		defer C.free(unsafe.Pointer(cname))
		fn, err := frame.Root(uintptr(C.rs_main_function(cname)))
		if err != nil {
			return err
		}

		res := uintptr(C.rs_call1(C.uintptr_t(fn.Ptr()), C.uintptr_t(str.Ptr())))
		if res == 0 {
			return rt.exception(path)
		}
		_, err = frame.Root(res)
		log.Debugf("included %s", path)
		return err
	})
}

func (Runtime) exception(what string) error {
	if t := C.rs_exception_type(); t != nil {
		return fmt.Errorf("%w: %s: %s", ErrException, what, C.GoString(t))
	}
	return fmt.Errorf("%w: %s returned null", ErrException, what)
}

// GC runs a full collection.
func (Runtime) GC() {
	C.rs_gc()
}
