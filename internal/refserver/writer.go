package refserver

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kstaniek/ircprobe/internal/hub"
	"github.com/kstaniek/ircprobe/internal/metrics"
)

// startWriter launches the goroutine pushing queued lines to a single client
// connection.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			s.dropClient(cl)
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		var batch bytes.Buffer
		n := 0
		flush := func() error {
			if n == 0 {
				return nil
			}
			count := n
			_, err := conn.Write(batch.Bytes())
			batch.Reset()
			n = 0
			if err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				metrics.IncError(mapErrToMetric(wrap))
				return wrap
			}
			metrics.AddRefOut(count)
			return nil
		}
		// drain moves whatever is still queued into the batch.
		drain := func() {
			for {
				select {
				case line := <-cl.Out:
					batch.WriteString(line)
					n++
				default:
					return
				}
			}
		}
		for {
			select {
			case line := <-cl.Out:
				batch.WriteString(line)
				n++
				if n >= s.batchSize {
					if err := flush(); err != nil {
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-cl.Closed:
				drain()
				_ = conn.SetWriteDeadline(time.Now().Add(s.handshakeTimeout))
				_ = flush()
				return
			case <-ctxDone:
				drain()
				_ = flush()
				return
			}
		}
	}()
}
