package refserver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/ircprobe/internal/irc"
	"github.com/kstaniek/ircprobe/internal/metrics"
)

const readChunk = 4096

var eot = []byte{0x04}

func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, u *user, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Closing the hub client makes the writer flush and close conn.
		defer s.disconnect(u, "Connection closed")
		var pending bytes.Buffer
		chunk := make([]byte, readChunk)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			n, err := conn.Read(chunk)
			if n > 0 {
				pending.Write(bytes.ReplaceAll(chunk[:n], eot, nil))
				for {
					line, ok := nextLine(&pending)
					if !ok {
						break
					}
					if line == "" {
						continue
					}
					metrics.IncRefIn()
					if !s.handleLine(u, line) {
						return
					}
				}
				if pending.Len() > s.maxLineBuffer {
					wrap := fmt.Errorf("%w: %d bytes unterminated", ErrLineBuffer, pending.Len())
					metrics.IncError(mapErrToMetric(wrap))
					s.totalBufferOverrun.Add(1)
					logger.Warn("line_buffer_overflow", "bytes", pending.Len())
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					select {
					case <-ctxDone:
						return
					default:
						continue
					}
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}
			select {
			case <-ctxDone:
				return
			case <-u.cl.Closed:
				return
			default:
			}
		}
	}()
}

// nextLine removes the first LF terminated line from b, trimming a trailing
// CR and truncating to the conventional line ceiling.
func nextLine(b *bytes.Buffer) (string, bool) {
	data := b.Bytes()
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", false
	}
	line := bytes.TrimSuffix(data[:i], []byte{'\r'})
	if limit := irc.MaxLineLen - len(irc.CRLF); len(line) > limit {
		line = line[:limit]
	}
	out := string(bytes.ToValidUTF8(line, nil))
	b.Next(i + 1)
	return out, true
}
