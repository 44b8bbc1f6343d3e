package output

import (
	"bytes"
	"strings"
	"sync"
)

// maxPending caps a line that never sees a newline; it is emitted in pieces
// rather than growing without bound.
const maxPending = 64 * 1024

// LineWriter is an io.Writer that turns arbitrary chunks into lines. Lines
// end at "\n", "\r\n" or "\r"; each is trimmed and empty ones are dropped.
// A partial line is carried over to the next Write and emitted by Flush.
type LineWriter struct {
	mu      sync.Mutex
	pending []byte
	emit    func(string)
}

// NewLineWriter returns a LineWriter that hands every line to emit.
func NewLineWriter(emit func(string)) *LineWriter {
	return &LineWriter{emit: emit}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	data := p
	if len(w.pending) > 0 {
		data = make([]byte, 0, len(w.pending)+len(p))
		data = append(append(data, w.pending...), p...)
		w.pending = w.pending[:0]
	}
	for {
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			break
		}
		w.line(data[:i])
		// "\r\n" is one break; a trailing "\r" may be the first half of one
		if data[i] == '\r' {
			if i+1 == len(data) {
				w.pending = append(w.pending, '\r')
				return len(p), nil
			}
			if data[i+1] == '\n' {
				i++
			}
		}
		data = data[i+1:]
	}
	if len(data) >= maxPending {
		w.line(data)
		data = nil
	}
	w.pending = append(w.pending, data...)
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		w.line(w.pending)
		w.pending = w.pending[:0]
	}
}

func (w *LineWriter) line(b []byte) {
	s := strings.TrimSpace(string(b))
	if s == "" || w.emit == nil {
		return
	}
	w.emit(s)
}
