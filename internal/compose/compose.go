// Package compose builds session topologies on top of session.Session:
// a single registered session, pairs and N-way pools, each torn down in
// reverse order on every exit path.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/kstaniek/ircprobe/internal/config"
	"github.com/kstaniek/ircprobe/internal/irc"
	"github.com/kstaniek/ircprobe/internal/logging"
	"github.com/kstaniek/ircprobe/internal/metrics"
	"github.com/kstaniek/ircprobe/internal/session"
)

const (
	// greetWindow bounds the best-effort read of the unsolicited greeting.
	greetWindow = 300 * time.Millisecond
	quitReason  = "Leaving"

	serverBackoffMin = 50 * time.Millisecond
	serverBackoffMax = time.Second
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// Composer creates sessions against one server using a configuration value
// fixed at construction.
type Composer struct {
	host         string
	port         int
	password     string
	timeout      time.Duration
	replyTimeout time.Duration
	logger       *slog.Logger
}

type Option func(*Composer)

func WithLogger(l *slog.Logger) Option {
	return func(c *Composer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTarget overrides the configured host and port.
func WithTarget(host string, port int) Option {
	return func(c *Composer) { c.host, c.port = host, port }
}

func New(cfg config.Config, opts ...Option) *Composer {
	c := &Composer{
		host:         cfg.Host,
		port:         cfg.Port,
		password:     cfg.Password,
		timeout:      cfg.Timeout,
		replyTimeout: cfg.ReplyTimeout,
		logger:       logging.L(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Composer) Addr() string                { return net.JoinHostPort(c.host, strconv.Itoa(c.port)) }
func (c *Composer) Password() string            { return c.password }
func (c *Composer) ReplyTimeout() time.Duration { return c.replyTimeout }

// Session returns an unconnected session for nick.
func (c *Composer) Session(nick string) *session.Session {
	return session.New(c.host, c.port,
		session.WithTimeout(c.timeout),
		session.WithNick(nick),
		session.WithLogger(c.logger.With("nick", nick)),
	)
}

// Connect opens a session without registering it and consumes the greeting
// if one arrives.
func (c *Composer) Connect(ctx context.Context, nick string) (*session.Session, error) {
	s := c.Session(nick)
	if err := s.Connect(ctx); err != nil {
		return nil, c.fixture(StepConnect, nick, err)
	}
	_, _ = s.WaitFor(greetWindow, func(irc.Message) bool { return true })
	return s, nil
}

// Register sends PASS (when a password is configured), NICK and USER and
// requires a 001 within the reply budget.
func (c *Composer) Register(s *session.Session) error {
	nick := s.Nickname()
	if c.password != "" {
		if err := s.Pass(c.password); err != nil {
			return c.fixture(StepRegister, nick, err)
		}
	}
	if err := s.Nick(nick); err != nil {
		return c.fixture(StepRegister, nick, err)
	}
	if err := s.User(nick, "Test "+nick); err != nil {
		return c.fixture(StepRegister, nick, err)
	}
	if _, ok := s.WaitForReply(irc.RplWelcome, c.replyTimeout); !ok {
		return c.fixture(StepWelcome, nick, ErrNoWelcome)
	}
	s.SetAuthenticated(true)
	return nil
}

// Single connects and registers one session. On failure nothing is left
// open.
func (c *Composer) Single(ctx context.Context, nick string) (*session.Session, error) {
	s, err := c.Connect(ctx, nick)
	if err != nil {
		return nil, err
	}
	if err := c.Register(s); err != nil {
		s.Teardown(quitReason)
		return nil, err
	}
	return s, nil
}

// Pair registers two sessions.
func (c *Composer) Pair(ctx context.Context, a, b string) (*session.Session, *session.Session, error) {
	p, err := c.Pool(ctx, a, b)
	if err != nil {
		return nil, nil, err
	}
	return p[0], p[1], nil
}

// Pool registers one session per nick in order. If any step fails the
// sessions built so far are torn down in reverse order.
func (c *Composer) Pool(ctx context.Context, nicks ...string) (Pool, error) {
	p := make(Pool, 0, len(nicks))
	for _, n := range nicks {
		s, err := c.Single(ctx, n)
		if err != nil {
			p.Close()
			return nil, err
		}
		p = append(p, s)
	}
	return p, nil
}

// With builds a pool, runs fn and tears the pool down however fn returns.
func (c *Composer) With(ctx context.Context, nicks []string, fn func(Pool) error) error {
	p, err := c.Pool(ctx, nicks...)
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(p)
}

// WaitForServer dials until the server accepts a TCP connection or ctx ends,
// backing off between attempts.
func (c *Composer) WaitForServer(ctx context.Context) error {
	backoff := serverBackoffMin
	d := net.Dialer{Timeout: c.timeout}
	for {
		conn, err := d.DialContext(ctx, "tcp", c.Addr())
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if ctx.Err() != nil {
			return c.fixture(StepServer, "", fmt.Errorf("%s unreachable: %w", c.Addr(), err))
		}
		c.logger.Debug("server_wait", "addr", c.Addr(), "error", err, "backoff", backoff)
		sleepFn(backoff)
		backoff *= 2
		if backoff > serverBackoffMax {
			backoff = serverBackoffMax
		}
	}
}

func (c *Composer) fixture(step, nick string, err error) error {
	metrics.IncError(metrics.ErrFixture)
	fe := &FixtureError{Step: step, Nick: nick, Err: err}
	c.logger.Warn("fixture_failed", "step", step, "nick", nick, "error", err)
	return fe
}

// Pool is an ordered set of registered sessions.
type Pool []*session.Session

// Close tears every session down in reverse construction order. It never
// fails and is safe to call more than once.
func (p Pool) Close() {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] != nil {
			p[i].Teardown(quitReason)
		}
	}
}

// Nicks lists the pool's nicknames in order.
func (p Pool) Nicks() []string {
	out := make([]string, len(p))
	for i, s := range p {
		out[i] = s.Nickname()
	}
	return out
}
