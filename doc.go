// Package unwind implements the stack-unwinding subsystem of a ptrace-based
// syscall tracer: for a traced process stopped at a syscall boundary, it
// produces a symbolic backtrace of that process's user-space call stack.
//
// The package is driven from a single control thread — the tracer's own —
// and holds no locks: a Manager and the Tracees it owns are only ever
// touched from one goroutine at a time, serialized by the tracer's ptrace
// stops. See Manager for the lifecycle and the five operations a tracer
// calls.
package unwind
