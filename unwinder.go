package unwind

import "io"

// AddressSpace is a process-wide handle bound to the unwinder's remote
// ptrace accessor set. Exactly one is created per Manager, at Init, and it
// is never destroyed short of process exit.
type AddressSpace interface {
	io.Closer
}

// UnwindInfo is a per-tracee handle allowing the unwinder to read the
// registers and memory of one specific traced process.
type UnwindInfo interface {
	io.Closer
}

// Cursor walks the physical stack frames of one tracee, innermost first.
// A Cursor is created fresh for every walk; it is never reused across
// walks, since the tracee's registers may have changed between them.
type Cursor interface {
	// RegisterIP returns the instruction pointer at the cursor's current
	// frame. An error here stops the walk without being fatal to the
	// tracer (spec §7: non-fatal per-tracee).
	RegisterIP() (uint64, error)

	// ProcName resolves the symbol name (if any) covering the cursor's
	// current frame into buf, returning the name, the offset of the
	// frame's IP from the symbol's start, and whether buf was too small
	// to hold the name (in which case the caller should retry with a
	// larger buffer; the contents of buf are then undefined).
	//
	// A non-nil err other than a too-small buffer means "no symbol for
	// this frame" — it is not itself an error condition for the walk.
	ProcName(buf []byte) (name string, offset uint64, shortBuffer bool, err error)

	// Step advances the cursor to the caller's frame. more is false when
	// the walk has reached the bottom of the stack; err is non-nil only
	// for conditions the unwinder considers unrecoverable for this walk.
	Step() (more bool, err error)
}

// Unwinder is the opaque external collaborator this package consumes: a
// cross-process stack unwinder exposing address spaces, per-tracee unwind
// info, and remote cursors. See internal/libunwind for the concrete
// implementation binding to libunwind-ptrace.
type Unwinder interface {
	// NewAddressSpace creates the process-wide address space. Failure is
	// fatal to the whole subsystem.
	NewAddressSpace() (AddressSpace, error)

	// NewUnwindInfo creates per-PID unwind info for a newly attached
	// tracee. Failure is fatal for that tracee.
	NewUnwindInfo(pid int) (UnwindInfo, error)

	// InitRemote creates a cursor over as/info, ready to walk. Failure is
	// fatal.
	InitRemote(as AddressSpace, info UnwindInfo) (Cursor, error)
}

// LineWriter is the output formatter's interface, consumed but not owned by
// this package: emit a chunk of text, then end the current line.
type LineWriter interface {
	WriteString(s string) (int, error)
	EndLine() error
}

// SyscallFlags mirrors the syscall dispatcher's per-syscall descriptor
// flags. Only CaptureOnEntering is consumed by this package.
type SyscallFlags uint32

// CaptureOnEntering marks syscalls whose backtrace must be captured on
// entry because the address space will be gone by the time the exit stop
// arrives (execve being the canonical example).
const CaptureOnEntering SyscallFlags = 1 << 0
