// Package output keeps the most recent lines a child wrote to its standard
// streams so they can be shown after a crash.
package output

// DefaultCapacity is the number of lines kept per stream.
const DefaultCapacity = 80

// Stream identifies stdout or stderr.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// ParseStream maps a name to a Stream.
func ParseStream(s string) (Stream, bool) {
	switch Stream(s) {
	case Stdout, Stderr:
		return Stream(s), true
	}
	return "", false
}

// Buffer is a fixed-capacity ring of lines; appending to a full buffer
// evicts the oldest line. It is not safe for concurrent use; the owner
// serializes access.
type Buffer struct {
	lines []string
	start int
	n     int
}

// NewBuffer returns an empty Buffer holding up to capacity lines.
// A non-positive capacity falls back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{lines: make([]string, capacity)}
}

// Cap returns the capacity.
func (b *Buffer) Cap() int { return len(b.lines) }

// Len returns the number of stored lines.
func (b *Buffer) Len() int { return b.n }

// Append stores line, evicting the oldest when full.
func (b *Buffer) Append(line string) {
	c := len(b.lines)
	if b.n < c {
		b.lines[(b.start+b.n)%c] = line
		b.n++
		return
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % c
}

// Lines returns a copy of the stored lines, oldest first.
func (b *Buffer) Lines() []string { return b.Tail(b.n) }

// Tail returns a copy of the last n lines, oldest first.
func (b *Buffer) Tail(n int) []string {
	if n > b.n {
		n = b.n
	}
	if n <= 0 {
		return nil
	}
	out := make([]string, n)
	c := len(b.lines)
	first := b.start + b.n - n
	for i := 0; i < n; i++ {
		out[i] = b.lines[(first+i)%c]
	}
	return out
}
