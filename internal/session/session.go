package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/kstaniek/ircprobe/internal/irc"
	"github.com/kstaniek/ircprobe/internal/logging"
	"github.com/kstaniek/ircprobe/internal/metrics"
)

const (
	defaultTimeout  = 5 * time.Second
	readChunkSize   = 4096
	defaultKeepLive = 30 * time.Second
	quitGrace       = time.Second
)

// Session owns one TCP connection to the server under test. Its receive
// buffer is touched only by its own read operations. A Session is driven by
// one goroutine at a time; separate sessions share nothing.
type Session struct {
	host    string
	port    int
	timeout time.Duration
	base    *slog.Logger
	logger  *slog.Logger

	mu   sync.Mutex
	conn net.Conn

	buf     lineBuffer
	scratch []byte

	nick          string
	authenticated bool
}

type Option func(*Session)

// New prepares an unconnected session.
func New(host string, port int, opts ...Option) *Session {
	s := &Session{
		host:    host,
		port:    port,
		timeout: defaultTimeout,
		logger:  logging.L(),
		scratch: make([]byte, readChunkSize),
	}
	for _, o := range opts {
		o(s)
	}
	s.base = s.logger
	return s
}

func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithNick(n string) Option { return func(s *Session) { s.nick = n } }

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Session) Addr() string             { return net.JoinHostPort(s.host, strconv.Itoa(s.port)) }
func (s *Session) Timeout() time.Duration   { return s.timeout }
func (s *Session) Nickname() string         { return s.nick }
func (s *Session) SetNick(n string)         { s.nick = n }
func (s *Session) Authenticated() bool      { return s.authenticated }
func (s *Session) SetAuthenticated(ok bool) { s.authenticated = ok }
func (s *Session) Logger() *slog.Logger     { return s.logger }
func (s *Session) Buffered() int            { return s.buf.len() }
func (s *Session) Connected() bool          { return s.current() != nil }
func (s *Session) current() net.Conn        { s.mu.Lock(); defer s.mu.Unlock(); return s.conn }
func (s *Session) setConn(c net.Conn)       { s.mu.Lock(); s.conn = c; s.mu.Unlock() }
func (s *Session) String() string           { return s.nick + "@" + s.Addr() }

// Connect dials the server with the configured timeout and resets the
// receive buffer.
func (s *Session) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: s.timeout, KeepAlive: defaultKeepLive}
	conn, err := d.DialContext(ctx, "tcp", s.Addr())
	if err != nil {
		wrap := fmt.Errorf("%w: %s: %v", ErrConnect, s.Addr(), err)
		metrics.IncError(mapErrToMetric(wrap))
		return wrap
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	// Reconnecting drops the previous transport first.
	s.Disconnect()
	s.buf.reset()
	s.authenticated = false
	s.setConn(conn)
	metrics.SessionOpened()
	s.logger = s.base.With("remote", conn.RemoteAddr().String())
	s.logger.Debug("session_connected", "nick", s.nick)
	return nil
}

// Disconnect closes the transport and clears buffered state. It is
// idempotent and never fails.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	s.buf.reset()
	s.authenticated = false
	if conn == nil {
		return
	}
	_ = conn.Close()
	metrics.SessionClosed()
	s.logger.Debug("session_disconnected", "nick", s.nick)
}

// Teardown attempts a graceful QUIT, gives the server up to quitGrace to
// answer with ERROR or close, and then closes the transport. Errors from
// every step are swallowed.
func (s *Session) Teardown(reason string) {
	if s.Connected() && s.Quit(reason) == nil {
		_, _ = s.WaitFor(quitGrace, func(m irc.Message) bool { return m.Command == irc.CmdError })
	}
	s.Disconnect()
}

// Send writes text as one line, appending CRLF when absent. It does not retry.
func (s *Session) Send(text string) error {
	return s.write([]byte(irc.Terminate(text)))
}

// SendRaw writes p verbatim, without adding a terminator.
func (s *Session) SendRaw(p []byte) error { return s.write(p) }

func (s *Session) write(p []byte) error {
	conn := s.current()
	if conn == nil {
		return fmt.Errorf("%w: %w", ErrSend, ErrNotConnected)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if _, err := conn.Write(p); err != nil {
		wrap := fmt.Errorf("%w: %v", ErrSend, err)
		metrics.IncError(mapErrToMetric(wrap))
		return wrap
	}
	metrics.IncSent()
	return nil
}

// ReceiveLine returns the next complete line without its terminator. Lines
// already buffered are returned without touching the network. It fails with
// ErrTimeout when the configured timeout elapses and ErrConnectionClosed when
// the peer closes first.
func (s *Session) ReceiveLine() (string, error) {
	return s.receiveLineBy(time.Now().Add(s.timeout))
}

func (s *Session) receiveLineBy(deadline time.Time) (string, error) {
	for {
		if line, ok := s.buf.next(); ok {
			metrics.IncReceived()
			return line, nil
		}
		conn := s.current()
		if conn == nil {
			return "", fmt.Errorf("%w: %w", ErrConnectionClosed, ErrNotConnected)
		}
		if !time.Now().Before(deadline) {
			return "", ErrTimeout
		}
		_ = conn.SetReadDeadline(deadline)
		n, err := conn.Read(s.scratch)
		if n > 0 {
			s.buf.write(s.scratch[:n])
		}
		if err != nil {
			// Surface a line completed by this read before the error.
			if line, ok := s.buf.next(); ok {
				metrics.IncReceived()
				return line, nil
			}
			return "", classifyReadErr(err)
		}
		if n == 0 {
			return "", ErrConnectionClosed
		}
	}
}

func classifyReadErr(err error) error {
	var ne net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return ErrTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return ErrConnectionClosed
	}
	wrap := fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	metrics.IncError(mapErrToMetric(wrap))
	return wrap
}

// ReceiveLines drains every line arriving within window. Timeouts and peer
// closure end the window normally; the result may be empty.
func (s *Session) ReceiveLines(window time.Duration) []string {
	deadline := time.Now().Add(window)
	var lines []string
	for {
		line, err := s.receiveLineBy(deadline)
		if err != nil {
			return lines
		}
		lines = append(lines, line)
	}
}

// ReceiveMessages is ReceiveLines followed by decoding.
func (s *Session) ReceiveMessages(window time.Duration) []irc.Message {
	lines := s.ReceiveLines(window)
	out := make([]irc.Message, 0, len(lines))
	for _, l := range lines {
		out = append(out, irc.Decode(l))
	}
	return out
}

// WaitFor polls for the first decoded message satisfying match until timeout
// elapses. Non matching lines are consumed and discarded. It reports false,
// not an error, when nothing matched in time or the peer closed.
func (s *Session) WaitFor(timeout time.Duration, match func(irc.Message) bool) (irc.Message, bool) {
	start := time.Now()
	deadline := start.Add(timeout)
	defer func() { metrics.ObserveWait(time.Since(start).Seconds()) }()
	for {
		line, err := s.receiveLineBy(deadline)
		if err != nil {
			return irc.Message{}, false
		}
		m := irc.Decode(line)
		if match(m) {
			return m, true
		}
	}
}

// WaitForReply waits for a message whose command equals expected.
func (s *Session) WaitForReply(expected string, timeout time.Duration) (irc.Message, bool) {
	return s.WaitFor(timeout, func(m irc.Message) bool { return m.Command == expected })
}

// WaitForAny waits for a message whose command is one of cmds.
func (s *Session) WaitForAny(timeout time.Duration, cmds ...string) (irc.Message, bool) {
	return s.WaitFor(timeout, func(m irc.Message) bool { return m.Is(cmds...) })
}
