// Command tracewalk is a minimal demonstration of the stack-unwinding
// subsystem: it starts a child process under ptrace, watches a handful of
// syscalls, and prints a backtrace whenever one of them fires.
//
// It is deliberately not a full tracer — the real ptrace attach/detach
// loop, signal forwarding, and syscall table are the "external
// collaborator" spec.md §1 keeps out of scope. This binary carries just
// enough of that collaborator to exercise unwind.Manager end to end.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/tracekit/unwind"
	"github.com/tracekit/unwind/internal/libunwind"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var verbose bool

func init() {
	flag.BoolVar(&verbose, "v", false, "log each address-space-mutating syscall that invalidates the cache")
}

func run() error {
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		return fmt.Errorf("usage: tracewalk <program> [args...]")
	}

	manager := unwind.NewManager(libunwind.New())
	if err := manager.Init(); err != nil {
		return fmt.Errorf("initializing unwinder: %w", err)
	}

	return trace(manager, args[0], args[1:])
}

// addressSpaceMutatingSyscalls mirrors spec.md §3's global-generation
// trigger list: syscalls that can mutate a process's address space.
var addressSpaceMutatingSyscalls = map[int]string{
	unix.SYS_MMAP:     "mmap",
	unix.SYS_MPROTECT: "mprotect",
	unix.SYS_MUNMAP:   "munmap",
	unix.SYS_BRK:      "brk",
	unix.SYS_EXECVE:   "execve",
}

// backtracedSyscalls is the small, literal syscall-flag table (component J)
// this demo carries in place of the real syscall dispatcher's full table:
// which syscalls get a backtrace at all, and whether it must be captured
// on entry because the syscall can destroy the address space before its
// exit stop (execve being the textbook case).
var backtracedSyscalls = map[int]unwind.SyscallFlags{
	unix.SYS_EXECVE:     unwind.CaptureOnEntering,
	unix.SYS_EXECVEAT:   unwind.CaptureOnEntering,
	unix.SYS_EXIT:       0,
	unix.SYS_EXIT_GROUP: 0,
}

func trace(manager *unwind.Manager, path string, args []string) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cmd := exec.Command(path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &unix.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", path, err)
	}
	pid := cmd.Process.Pid

	var status unix.WaitStatus
	if _, err := unix.Wait4(pid, &status, 0, nil); err != nil {
		return fmt.Errorf("waiting for initial stop: %w", err)
	}

	tracee, err := manager.TraceeInit(pid)
	if err != nil {
		return fmt.Errorf("attaching unwinder to pid %d: %w", pid, err)
	}

	out := stdoutWriter{}
	inSyscall := false
	var currentSyscall int
	var capturedOnEntry bool

	for {
		if err := unix.PtraceSyscall(pid, 0); err != nil {
			return fmt.Errorf("ptrace(PTRACE_SYSCALL): %w", err)
		}
		if _, err := unix.Wait4(pid, &status, 0, nil); err != nil {
			return fmt.Errorf("wait4: %w", err)
		}
		if status.Exited() || status.Signaled() {
			manager.TraceeFin(tracee, capturedOnEntry, out)
			return nil
		}

		var regs unix.PtraceRegs
		if err := unix.PtraceGetRegs(pid, &regs); err != nil {
			return fmt.Errorf("ptrace(PTRACE_GETREGS): %w", err)
		}

		if !inSyscall {
			inSyscall = true
			currentSyscall = int(regs.Orig_rax)

			if name, ok := addressSpaceMutatingSyscalls[currentSyscall]; ok {
				if verbose {
					log.Printf("tracewalk: pid %d entering %s, invalidating cache", pid, name)
				}
				manager.InvalidateCache(tracee)
			}

			flags, backtraced := backtracedSyscalls[currentSyscall]
			capturedOnEntry = backtraced && flags&unwind.CaptureOnEntering != 0
			if capturedOnEntry {
				if err := manager.CaptureStackTrace(tracee); err != nil {
					log.Printf("tracewalk: pid %d: capturing stack trace: %v", pid, err)
				}
			}
		} else {
			inSyscall = false

			if flags, backtraced := backtracedSyscalls[currentSyscall]; backtraced {
				onEntry := flags&unwind.CaptureOnEntering != 0
				if err := manager.PrintStackTrace(tracee, onEntry, out); err != nil {
					log.Printf("tracewalk: pid %d: printing stack trace: %v", pid, err)
				}
			}
		}
	}
}

// stdoutWriter implements unwind.LineWriter over os.Stdout, standing in
// for the surrounding tracer's output formatter (spec.md §6: emit + end of
// line).
type stdoutWriter struct{}

func (stdoutWriter) WriteString(s string) (int, error) {
	return fmt.Fprint(os.Stdout, s)
}

func (stdoutWriter) EndLine() error {
	return nil
}
