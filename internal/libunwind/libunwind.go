// Package libunwind binds the five calls spec.md §6 pins as the "opaque
// unwinder interface" to the real libunwind-ptrace library, grounded
// directly on original_source/unwind.c's #include <libunwind-ptrace.h> and
// its use of unw_create_addr_space, _UPT_create/_UPT_destroy,
// unw_init_remote, unw_get_reg, unw_get_proc_name, and unw_step.
package libunwind

/*
#cgo LDFLAGS: -lunwind-ptrace -lunwind-generic -lunwind

#include <stdlib.h>
#include <libunwind-ptrace.h>

static unw_accessors_t *unwind_ptrace_accessors(void) {
	return &_UPT_accessors;
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/tracekit/unwind"
)

// Unwinder implements unwind.Unwinder against libunwind-ptrace.
type Unwinder struct{}

// New returns the libunwind-ptrace backed Unwinder.
func New() unwind.Unwinder {
	return Unwinder{}
}

func (Unwinder) NewAddressSpace() (unwind.AddressSpace, error) {
	as := C.unw_create_addr_space(C.unwind_ptrace_accessors(), 0)
	if as == nil {
		return nil, fmt.Errorf("libunwind: unw_create_addr_space failed")
	}
	return addressSpace{as: as}, nil
}

func (Unwinder) NewUnwindInfo(pid int) (unwind.UnwindInfo, error) {
	arg := C._UPT_create(C.pid_t(pid))
	if arg == nil {
		return nil, fmt.Errorf("libunwind: _UPT_create failed for pid %d (out of memory)", pid)
	}
	return unwindInfo{arg: arg}, nil
}

func (Unwinder) InitRemote(as unwind.AddressSpace, info unwind.UnwindInfo) (unwind.Cursor, error) {
	a := as.(addressSpace)
	i := info.(unwindInfo)

	cursor := new(C.unw_cursor_t)
	if ret := C.unw_init_remote(cursor, a.as, i.arg); ret < 0 {
		return nil, fmt.Errorf("libunwind: unw_init_remote: %d", int(ret))
	}
	return &cursorImpl{cursor: cursor}, nil
}

type addressSpace struct {
	as C.unw_addr_space_t
}

func (a addressSpace) Close() error {
	C.unw_destroy_addr_space(a.as)
	return nil
}

type unwindInfo struct {
	arg unsafe.Pointer
}

func (i unwindInfo) Close() error {
	C._UPT_destroy(i.arg)
	return nil
}

type cursorImpl struct {
	cursor *C.unw_cursor_t
}

func (c *cursorImpl) RegisterIP() (uint64, error) {
	var ip C.unw_word_t
	if ret := C.unw_get_reg(c.cursor, C.UNW_REG_IP, &ip); ret < 0 {
		return 0, fmt.Errorf("libunwind: unw_get_reg(UNW_REG_IP): %d", int(ret))
	}
	return uint64(ip), nil
}

func (c *cursorImpl) ProcName(buf []byte) (name string, offset uint64, shortBuffer bool, err error) {
	var off C.unw_word_t
	ret := C.unw_get_proc_name(c.cursor, (*C.char)(unsafe.Pointer(&buf[0])), C.size_t(len(buf)), &off)
	switch {
	case ret == -C.UNW_ENOMEM:
		return "", 0, true, nil
	case ret != 0:
		return "", 0, false, fmt.Errorf("libunwind: unw_get_proc_name: %d", int(ret))
	}
	return C.GoString((*C.char)(unsafe.Pointer(&buf[0]))), uint64(off), false, nil
}

func (c *cursorImpl) Step() (more bool, err error) {
	ret := C.unw_step(c.cursor)
	if ret < 0 {
		return false, fmt.Errorf("libunwind: unw_step: %d", int(ret))
	}
	return ret > 0, nil
}
