package compose

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/ircprobe/internal/config"
	"github.com/kstaniek/ircprobe/internal/irc"
	"github.com/kstaniek/ircprobe/internal/refserver"
)

func startRef(t *testing.T, opts ...refserver.ServerOption) *refserver.Server {
	t.Helper()
	opts = append([]refserver.ServerOption{
		refserver.WithListenAddr("127.0.0.1:0"),
		refserver.WithPassword("pw"),
	}, opts...)
	srv, stop, err := refserver.Start(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(stop)
	return srv
}

func composerFor(srv *refserver.Server, password string) *Composer {
	cfg := config.Default()
	host, port := srv.HostPort()
	cfg.Host, cfg.Port, cfg.Password = host, port, password
	cfg.Timeout = time.Second
	cfg.ReplyTimeout = 500 * time.Millisecond
	return New(cfg)
}

func TestSingleRegisters(t *testing.T) {
	srv := startRef(t)
	c := composerFor(srv, "pw")
	s, err := c.Single(context.Background(), "user1")
	require.NoError(t, err)
	defer s.Teardown("bye")
	assert.True(t, s.Authenticated())
	assert.Equal(t, "user1", s.Nickname())

	require.NoError(t, s.Ping("tok"))
	m, ok := s.WaitForReply(irc.CmdPong, time.Second)
	require.True(t, ok)
	assert.Equal(t, "tok", m.Last())
}

func TestSingleWrongPasswordIsFixtureFailure(t *testing.T) {
	srv := startRef(t)
	c := composerFor(srv, "nope")
	s, err := c.Single(context.Background(), "user1")
	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, ErrFixture))
	assert.True(t, errors.Is(err, ErrNoWelcome))
	var fe *FixtureError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, StepWelcome, fe.Step)
	assert.Equal(t, "user1", fe.Nick)
	assert.Contains(t, err.Error(), "no welcome reply")
}

func TestConnectRefusedIsFixtureFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	cfg := config.Default()
	cfg.Host, cfg.Port = "127.0.0.1", port
	_, err = New(cfg).Single(context.Background(), "user1")
	var fe *FixtureError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, StepConnect, fe.Step)
}

func TestPoolTearsDownOnLateFailure(t *testing.T) {
	srv := startRef(t)
	c := composerFor(srv, "pw")
	// The duplicate nick never receives 001.
	p, err := c.Pool(context.Background(), "a1", "a2", "a1")
	require.Error(t, err)
	assert.Nil(t, p)
	var fe *FixtureError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "a1", fe.Nick)

	require.Eventually(t, func() bool { return srv.Stats().Users == 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestPairAndWithCleanup(t *testing.T) {
	srv := startRef(t)
	c := composerFor(srv, "pw")
	a, b, err := c.Pair(context.Background(), "alice", "bob")
	require.NoError(t, err)
	Pool{a, b}.Close()
	assert.False(t, a.Connected())
	assert.False(t, b.Connected())
	Pool{a, b}.Close()

	var seen []string
	err = c.With(context.Background(), []string{"u1", "u2", "u3"}, func(p Pool) error {
		seen = p.Nicks()
		return errors.New("scenario failed")
	})
	require.EqualError(t, err, "scenario failed")
	assert.Equal(t, []string{"u1", "u2", "u3"}, seen)
	require.Eventually(t, func() bool { return srv.Stats().Users == 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestNoPasswordSkipsPass(t *testing.T) {
	srv := startRef(t, refserver.WithPassword(""))
	s, err := composerFor(srv, "").Single(context.Background(), "open")
	require.NoError(t, err)
	s.Teardown("")
}

func TestWaitForServerBacksOff(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	var seen []time.Duration
	sleepFn = func(d time.Duration) { seen = append(seen, d); time.Sleep(5 * time.Millisecond) }
	defer func() { sleepFn = time.Sleep }()

	cfg := config.Default()
	cfg.Host, cfg.Port, cfg.Timeout = "127.0.0.1", port, 100*time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err = New(cfg).WaitForServer(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFixture))
	require.NotEmpty(t, seen)
	assert.Equal(t, serverBackoffMin, seen[0])
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
		assert.LessOrEqual(t, seen[i], serverBackoffMax)
	}
}

func TestWaitForServerReachable(t *testing.T) {
	srv := startRef(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, composerFor(srv, "pw").WaitForServer(ctx))
}
