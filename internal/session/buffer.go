package session

import "bytes"

var crlf = []byte("\r\n")

// compactBuffer reclaims consumed prefix capacity when the underlying buffer
// grows too large relative to unread bytes. It returns true if compaction
// occurred.
func compactBuffer(b *bytes.Buffer) bool {
	data := b.Bytes()
	if len(data) < 1024 {
		return false
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		_, _ = b.Write(clone)
		return true
	}
	return false
}

// lineBuffer accumulates raw reads and hands out CRLF terminated lines in
// arrival order. Bytes are never discarded until a full line is taken.
type lineBuffer struct {
	b bytes.Buffer
}

func (l *lineBuffer) write(p []byte) { _, _ = l.b.Write(p) }

// next removes and returns the first complete line without its terminator.
// The bytes are returned unchanged, invalid UTF-8 included.
func (l *lineBuffer) next() (string, bool) {
	data := l.b.Bytes()
	i := bytes.Index(data, crlf)
	if i < 0 {
		return "", false
	}
	line := string(data[:i])
	l.b.Next(i + len(crlf))
	_ = compactBuffer(&l.b)
	return line, true
}

func (l *lineBuffer) len() int { return l.b.Len() }

func (l *lineBuffer) reset() { l.b.Reset() }
