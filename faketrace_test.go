package unwind

import (
	"fmt"
	"io"
	"strings"
)

// fakeFrame is one scripted stack frame for a fakeCursor: the instruction
// pointer it reports, and the symbol (if any) ProcName resolves for it.
type fakeFrame struct {
	ip     uint64
	symbol string
	offset uint64
}

// fakeAddressSpace and fakeUnwindInfo are inert handles: Close only
// records that it was called, and the fakeUnwinder below reads nothing
// from them except the PID in InitRemote, which selects the frame script.
// They are threaded through InitRemote so callers exercise the real
// Manager/walker call shape.
type fakeAddressSpace struct{ closed *bool }

func (a fakeAddressSpace) Close() error {
	if a.closed != nil {
		*a.closed = true
	}
	return nil
}

type fakeUnwindInfo struct {
	pid    int
	closed *bool
}

func (i fakeUnwindInfo) Close() error {
	if i.closed != nil {
		*i.closed = true
	}
	return nil
}

// fakeUnwinder is the test double for Unwinder: it hands out a fakeCursor
// pre-loaded with whatever frame script the test registered for a PID,
// playing the role the teacher's wazerotest fakes play for CPUProfiler.
type fakeUnwinder struct {
	frames map[int][]fakeFrame

	newAddressSpaceErr error
	newUnwindInfoErr    error
	initRemoteErr       error

	asClosed   bool
	infoClosed map[int]*bool
}

func newFakeUnwinder() *fakeUnwinder {
	return &fakeUnwinder{
		frames:     map[int][]fakeFrame{},
		infoClosed: map[int]*bool{},
	}
}

func (u *fakeUnwinder) NewAddressSpace() (AddressSpace, error) {
	if u.newAddressSpaceErr != nil {
		return nil, u.newAddressSpaceErr
	}
	return fakeAddressSpace{closed: &u.asClosed}, nil
}

func (u *fakeUnwinder) NewUnwindInfo(pid int) (UnwindInfo, error) {
	if u.newUnwindInfoErr != nil {
		return nil, u.newUnwindInfoErr
	}
	closed := new(bool)
	u.infoClosed[pid] = closed
	return fakeUnwindInfo{pid: pid, closed: closed}, nil
}

func (u *fakeUnwinder) InitRemote(as AddressSpace, info UnwindInfo) (Cursor, error) {
	if u.initRemoteErr != nil {
		return nil, u.initRemoteErr
	}
	i := info.(fakeUnwindInfo)
	script := u.frames[i.pid]
	return &fakeCursor{script: script}, nil
}

// fakeCursor walks a fixed, pre-scripted sequence of frames. The zero
// value starts at script[0], so the first RegisterIP call (before any
// Step) reports the innermost scripted frame.
type fakeCursor struct {
	script []fakeFrame
	index  int

	registerIPErr error
	procNameErr   error
	shortBufferN  int // number of leading ProcName calls that report shortBuffer
	stepErr       error
}

func (c *fakeCursor) current() (fakeFrame, bool) {
	if c.index < 0 || c.index >= len(c.script) {
		return fakeFrame{}, false
	}
	return c.script[c.index], true
}

func (c *fakeCursor) RegisterIP() (uint64, error) {
	if c.registerIPErr != nil {
		return 0, c.registerIPErr
	}
	f, ok := c.current()
	if !ok {
		return 0, fmt.Errorf("fakeCursor: no current frame")
	}
	return f.ip, nil
}

func (c *fakeCursor) ProcName(buf []byte) (name string, offset uint64, shortBuffer bool, err error) {
	if c.shortBufferN > 0 {
		c.shortBufferN--
		return "", 0, true, nil
	}
	if c.procNameErr != nil {
		return "", 0, false, c.procNameErr
	}
	f, ok := c.current()
	if !ok || f.symbol == "" {
		return "", 0, false, fmt.Errorf("fakeCursor: no symbol")
	}
	return f.symbol, f.offset, false, nil
}

func (c *fakeCursor) Step() (more bool, err error) {
	if c.stepErr != nil {
		return false, c.stepErr
	}
	c.index++
	_, ok := c.current()
	return ok, nil
}

// fakeLineWriter records every line passed to it, standing in for the
// tracer's real output formatter (cmd/tracewalk's stdoutWriter).
type fakeLineWriter struct {
	lines []string

	writeErr   error
	endLineErr error
}

func (w *fakeLineWriter) WriteString(s string) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	w.lines = append(w.lines, s)
	return len(s), nil
}

func (w *fakeLineWriter) EndLine() error {
	return w.endLineErr
}

// fakeMapsSource returns a Manager option that hands back a fixed maps
// file body every time, regardless of PID, so tests can script the cache
// contents a tracee sees without a real process. Scenarios that need the
// body to change between calls (S5/S6) use their own MapsSource instead.
func fakeMapsSource(body string) ManagerOption {
	return MapsSource(func(pid int) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	})
}

// countingMapsSource returns a maps source that always serves body and
// increments *calls once per invocation, so a test can assert how many
// times the cache was actually rebuilt.
func countingMapsSource(calls *int, body string) func(pid int) (io.ReadCloser, error) {
	return func(pid int) (io.ReadCloser, error) {
		*calls++
		return io.NopCloser(strings.NewReader(body)), nil
	}
}
