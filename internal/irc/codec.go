package irc

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/kstaniek/ircprobe/internal/metrics"
)

// Decode parses one raw line. It never fails: malformed input yields a
// partially populated Message and an empty Command when no command token
// exists. A trailing CR/LF, if present, is ignored.
func Decode(raw string) Message {
	line := strings.TrimRight(raw, "\r\n")
	m := Message{Raw: line}
	rest := line

	// token pops the next space-delimited token, collapsing repeated spaces.
	token := func() (string, bool) {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			return "", false
		}
		i := strings.IndexByte(rest, ' ')
		if i < 0 {
			tok := rest
			rest = ""
			return tok, true
		}
		tok := rest[:i]
		rest = rest[i+1:]
		return tok, true
	}

	tok, ok := token()
	if !ok {
		metrics.IncMalformed()
		return m
	}
	if tok[0] == ':' {
		m.Prefix = tok[1:]
		if tok, ok = token(); !ok {
			metrics.IncMalformed()
			return m
		}
	}
	m.Command = tok

	for {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}
		if rest[0] == ':' {
			// Everything after the marker is one parameter, spaces included.
			m.Params = append(m.Params, rest[1:])
			break
		}
		tok, _ = token()
		m.Params = append(m.Params, tok)
	}
	return m
}

// ErrBadParam reports a parameter that cannot be encoded as given.
var ErrBadParam = errors.New("parameter not encodable")

// Encode joins command and params with single spaces and appends CRLF.
// The last parameter is marked as trailing when it is empty, contains a
// space or starts with ':'. Length is not checked so that oversize input can
// be sent on purpose.
//
// Only the last parameter may be empty, contain a space or start with ':'.
// Encode does not enforce this; callers that need the line to decode back to
// the same params check them with CheckParams first.
func Encode(command string, params ...string) string {
	var b strings.Builder
	n := len(command) + len(CRLF)
	for _, p := range params {
		n += len(p) + 2
	}
	b.Grow(n)
	b.WriteString(command)
	for i, p := range params {
		b.WriteByte(' ')
		if i == len(params)-1 && needsTrailing(p) {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return Terminate(b.String())
}

// CheckParams returns ErrBadParam when params would not survive an
// Encode/Decode cycle: a non-final param that is empty, holds a space or
// starts with ':', or any param holding CR or LF.
func CheckParams(params ...string) error {
	for i, p := range params {
		if strings.ContainsAny(p, "\r\n") {
			return fmt.Errorf("%w: param %d contains a line break", ErrBadParam, i)
		}
		if i < len(params)-1 && needsTrailing(p) {
			return fmt.Errorf("%w: middle param %d %q", ErrBadParam, i, p)
		}
	}
	return nil
}

func needsTrailing(p string) bool {
	return p == "" || strings.IndexByte(p, ' ') >= 0 || p[0] == ':'
}

// Terminate appends CRLF unless s already ends with it. It is idempotent.
func Terminate(s string) string {
	if strings.HasSuffix(s, CRLF) {
		return s
	}
	return s + CRLF
}

// ScanLines is a bufio.SplitFunc yielding CRLF (or bare LF) terminated lines
// without the terminator. An unterminated tail at EOF is dropped: a partial
// command is never a command.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimSuffix(data[:i], []byte{'\r'}), nil
	}
	if atEOF && len(data) > 0 {
		return len(data), nil, nil
	}
	return 0, nil, nil
}
