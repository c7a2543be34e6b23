package unwind

import (
	"fmt"
	"log"
)

// maxStackFrames is the defense against corrupt unwind info described in
// spec §4.E step 7: after this many frames the walk is abandoned with a
// "too many stack frames" error line instead of looping forever.
const maxStackFrames = 255

// initialSymbolBufferSize is the starting size of the growable buffer
// passed to Cursor.ProcName, matching the original's 40-byte buffer.
const initialSymbolBufferSize = 40

// frameSink is the only polymorphism in this package (spec §9): a walk
// either writes frames straight through a LineWriter, or pushes them onto
// a tracee's deferred queue. Both variants are plain structs implementing
// this one-method-pair interface — no function-pointer dispatch table.
type frameSink interface {
	onFrame(binary, symbol string, symOffset, trueOffset uint64)
	onError(message string, offset uint64)
}

// directSink writes formatted lines straight to a LineWriter, for
// PrintStackTrace's non-deferred path.
type directSink struct {
	out LineWriter
}

func (s directSink) onFrame(binary, symbol string, symOffset, trueOffset uint64) {
	s.write(formatFrame(binary, symbol, symOffset, trueOffset))
}

func (s directSink) onError(message string, offset uint64) {
	s.write(formatError(message, offset))
}

func (s directSink) write(line string) {
	if _, err := s.out.WriteString(line); err != nil {
		log.Printf("unwind: writing stack trace line: %v", err)
		return
	}
	if err := s.out.EndLine(); err != nil {
		log.Printf("unwind: ending stack trace line: %v", err)
	}
}

// queueSink formats lines and appends them to a tracee's deferred queue,
// for CaptureStackTrace's capture-on-entry path.
type queueSink struct {
	queue *deferredQueue
}

func (s queueSink) onFrame(binary, symbol string, symOffset, trueOffset uint64) {
	s.queue.push(formatFrame(binary, symbol, symOffset, trueOffset))
}

func (s queueSink) onError(message string, offset uint64) {
	s.queue.push(formatError(message, offset))
}

// walk drives a fresh cursor over t's stack, resolving each frame's IP
// against t's map cache and reporting it through sink. It implements spec
// §4.E in full, including the 255-frame guard and the growable proc-name
// buffer. The only error it returns is fatal-per-tracee: failure to
// initialize the remote cursor. Every other stopping condition (no IP, no
// cache entry, too many frames, end of stack) is expected and reported
// through sink or logged, never returned as an error.
func (m *Manager) walk(t *Tracee, sink frameSink) error {
	cursor, err := m.unwinder.InitRemote(m.addrSpace, t.unwindInfo)
	if err != nil {
		return fmt.Errorf("unwind: initializing remote cursor for pid %d: %w", t.PID, err)
	}

	buf := make([]byte, initialSymbolBufferSize)

	for frames := 0; ; frames++ {
		ip, err := cursor.RegisterIP()
		if err != nil {
			log.Printf("unwind: cannot read instruction pointer for pid %d: %v", t.PID, err)
			return nil
		}

		entry, ok := t.cache.find(ip)
		if !ok {
			offset := ip
			if ip == 0 {
				offset = 0
			}
			sink.onError("backtracing_error", offset)
			return nil
		}

		if frames >= maxStackFrames {
			sink.onError("too many stack frames", 0)
			return nil
		}

		symbol, symOffset := resolveSymbol(cursor, &buf)
		trueOffset := ip - entry.Start + entry.MMapOffset
		sink.onFrame(entry.BinaryPath, symbol, symOffset, trueOffset)

		more, err := cursor.Step()
		if err != nil || !more {
			return nil
		}
	}
}

// resolveSymbol calls Cursor.ProcName into *buf, doubling *buf and
// retrying whenever the cursor reports the buffer was too small. Any
// other error is treated as "no symbol for this frame" (spec §4.E step 3).
func resolveSymbol(cursor Cursor, buf *[]byte) (name string, offset uint64) {
	for {
		name, offset, short, err := cursor.ProcName(*buf)
		if short {
			*buf = make([]byte, len(*buf)*2)
			continue
		}
		if err != nil {
			return "", 0
		}
		return name, offset
	}
}
