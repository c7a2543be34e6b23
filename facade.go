package unwind

import (
	"fmt"
	"io"
	"log"
)

// Manager owns the process-wide state of the subsystem: the shared
// address-space handle (component A) and the global cache generation
// (component D). It is created once per tracer process.
type Manager struct {
	unwinder   Unwinder
	addrSpace  AddressSpace
	generation uint32
	mapsSource func(pid int) (io.ReadCloser, error)
}

// ManagerOption configures a Manager constructed by NewManager, following
// the same functional-option shape as the teacher's CPUProfilerOption.
type ManagerOption func(*Manager)

// MapsSource overrides how a Manager reads a tracee's memory map, in place
// of opening /proc/<pid>/maps. Tests use this to script the map-cache
// contents a tracee sees without a real traced process.
func MapsSource(source func(pid int) (io.ReadCloser, error)) ManagerOption {
	return func(m *Manager) { m.mapsSource = source }
}

// Tracee is the per-process state this package attaches to whatever
// descriptor the surrounding tracer uses for a traced process (spec §3).
// The tracer owns the outer struct it embeds or references a Tracee from;
// this package owns the four fields below and releases them in TraceeFin.
type Tracee struct {
	PID int

	unwindInfo UnwindInfo
	cache      mapCache
	queue      deferredQueue
}

// NewManager constructs a Manager bound to the given Unwinder without yet
// creating the address space. Call Init before any other operation.
func NewManager(unwinder Unwinder, opts ...ManagerOption) *Manager {
	m := &Manager{unwinder: unwinder, mapsSource: openProcMaps}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init creates the process-wide address space (component A). It must be
// called exactly once before any other Manager operation. Failure is
// fatal to the subsystem: the caller should treat a non-nil error as
// unrecoverable.
func (m *Manager) Init() error {
	as, err := m.unwinder.NewAddressSpace()
	if err != nil {
		return fmt.Errorf("unwind: creating address space: %w", err)
	}
	m.addrSpace = as
	return nil
}

// TraceeInit creates the per-tracee unwind info and an empty deferred
// queue for a newly attached process (spec §4.H). Failure is fatal for
// this tracee (out-of-memory class in the unwinder).
func (m *Manager) TraceeInit(pid int) (*Tracee, error) {
	info, err := m.unwinder.NewUnwindInfo(pid)
	if err != nil {
		return nil, fmt.Errorf("unwind: creating unwind info for pid %d: %w", pid, err)
	}
	return &Tracee{PID: pid, unwindInfo: info}, nil
}

// TraceeFin releases everything this package attached to t. If
// capturedOnEntry is set (the tracee's current syscall carries
// CaptureOnEntering), any queued lines are drained and printed through out
// first; otherwise the queue is drained silently. Either way, the queue,
// cache, and unwind info are all freed.
func (m *Manager) TraceeFin(t *Tracee, capturedOnEntry bool, out LineWriter) {
	if capturedOnEntry {
		m.drainAndPrint(t, out)
	} else {
		t.queue.drain(nil)
	}
	t.cache = mapCache{}
	if err := t.unwindInfo.Close(); err != nil {
		log.Printf("unwind: closing unwind info for pid %d: %v", t.PID, err)
	}
}

// CaptureStackTrace captures a backtrace now and pushes its lines onto
// t's deferred queue, to be emitted later by PrintStackTrace or TraceeFin.
// Any previously queued lines are discarded first. It is a no-op if the
// map cache cannot be made available (spec §4.H). The only error it can
// return is the fatal-per-tracee class from ensureCache/walk (spec §7);
// the caller should treat it as this tracee's backtrace being unavailable,
// not as fatal to the tracer itself.
func (m *Manager) CaptureStackTrace(t *Tracee) error {
	t.queue.drain(nil)
	available, err := m.ensureCache(t)
	if err != nil {
		return err
	}
	if !available {
		return nil
	}
	return m.walk(t, queueSink{queue: &t.queue})
}

// PrintStackTrace emits a backtrace through out. If t's current syscall is
// a capture-on-entry kind, the lines captured earlier by CaptureStackTrace
// are drained and printed verbatim (spec §8 scenario S6: this must not
// re-walk the — possibly now-invalid — address space). Otherwise a fresh
// walk is performed directly against out. See CaptureStackTrace for the
// meaning of a non-nil error.
func (m *Manager) PrintStackTrace(t *Tracee, capturedOnEntry bool, out LineWriter) error {
	if capturedOnEntry {
		m.drainAndPrint(t, out)
		return nil
	}
	available, err := m.ensureCache(t)
	if err != nil {
		return err
	}
	if !available {
		return nil
	}
	return m.walk(t, directSink{out: out})
}

func (m *Manager) drainAndPrint(t *Tracee, out LineWriter) {
	sink := directSink{out: out}
	t.queue.drain(func(line string) {
		sink.write(line)
	})
}
