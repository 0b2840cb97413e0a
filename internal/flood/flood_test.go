package flood

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/ircprobe/internal/compose"
	"github.com/kstaniek/ircprobe/internal/config"
	"github.com/kstaniek/ircprobe/internal/irc"
	"github.com/kstaniek/ircprobe/internal/refserver"
	"github.com/kstaniek/ircprobe/internal/session"
	"github.com/kstaniek/ircprobe/internal/transport"
)

type recorder struct {
	mu     sync.Mutex
	lines  []string
	failAt int
}

var errBroken = errors.New("broken pipe")

func (r *recorder) Send(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.lines)+1 == r.failAt {
		return errBroken
	}
	r.lines = append(r.lines, text)
	return nil
}

type fakeSock struct {
	recorder
	infos int
}

func (f *fakeSock) SockInfo() (session.SockInfo, error) {
	f.infos++
	return session.SockInfo{RTT: time.Millisecond}, nil
}

func TestRunDefaultPayload(t *testing.T) {
	r := &recorder{}
	res, err := Run(context.Background(), r, Job{Target: "#test", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Sent)
	require.Len(t, r.lines, 3)
	m := irc.Decode(strings.TrimRight(r.lines[0], "\r\n"))
	assert.Equal(t, irc.CmdPrivmsg, m.Command)
	assert.Equal(t, []string{"#test", "Msg 1: " + strings.Repeat("X", 80)}, m.Params)
	assert.True(t, strings.HasPrefix(irc.Decode(r.lines[2]).Last(), "Msg 3: "))
}

func TestRunFixedPayloadAndZeroCount(t *testing.T) {
	r := &recorder{}
	_, err := Run(context.Background(), r, Job{Target: "bob", Count: 2, Payload: "Flood message"})
	require.NoError(t, err)
	assert.Equal(t, "PRIVMSG bob :Flood message\r\n", r.lines[1])

	res, err := Run(context.Background(), &recorder{}, Job{Target: "bob"})
	require.NoError(t, err)
	assert.Zero(t, res.Sent)
}

func TestRunRejectsBadJob(t *testing.T) {
	_, err := Run(context.Background(), &recorder{}, Job{Count: 1})
	assert.ErrorIs(t, err, ErrBadJob)
	_, err = Run(context.Background(), &recorder{}, Job{Target: "#x", Count: -1})
	assert.ErrorIs(t, err, ErrBadJob)

	r := &recorder{}
	_, err = Run(context.Background(), r, Job{Target: "#a b", Count: 1})
	assert.ErrorIs(t, err, ErrBadJob)
	assert.ErrorIs(t, err, irc.ErrBadParam)
	_, err = Run(context.Background(), r, Job{Target: "#x", Count: 1, Payload: "a\r\nQUIT"})
	assert.ErrorIs(t, err, irc.ErrBadParam)
	assert.Empty(t, r.lines)
}

func TestRunStopsOnTransportError(t *testing.T) {
	r := &recorder{failAt: 4}
	res, err := Run(context.Background(), r, Job{Target: "#t", Count: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFlood)
	assert.ErrorIs(t, err, errBroken)
	assert.Equal(t, 3, res.Sent)
}

func TestRunHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, &recorder{}, Job{Target: "#t", Count: 5})
	assert.ErrorIs(t, err, ErrFlood)
	assert.Zero(t, res.Sent)
}

func TestRunProgressReports(t *testing.T) {
	var pauses []time.Duration
	sleepFn = func(d time.Duration) { pauses = append(pauses, d) }
	defer func() { sleepFn = time.Sleep }()

	f := &fakeSock{}
	res, err := Run(context.Background(), f, Job{Target: "#t", Count: 25, ReportEvery: 10})
	require.NoError(t, err)
	assert.Equal(t, 25, res.Sent)
	assert.Equal(t, []time.Duration{progressPause, progressPause}, pauses)
	assert.Equal(t, 2, f.infos)
}

func TestRunParallel(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	res, err := RunParallel(context.Background(),
		Worker{Sender: a, Job: Job{Target: "#c1", Count: 20}},
		Worker{Sender: b, Job: Job{Target: "#c2", Count: 30}},
	)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, 20, res[0].Sent)
	assert.Equal(t, 30, res[1].Sent)
	assert.Equal(t, "#c2", res[1].Target)

	_, err = RunParallel(context.Background(),
		Worker{Sender: &recorder{failAt: 2}, Job: Job{Target: "#c1", Count: 5}},
		Worker{Sender: &recorder{}, Job: Job{Target: "#c2", Count: 5}},
	)
	assert.ErrorIs(t, err, errBroken)
}

func TestRunThroughAsyncSender(t *testing.T) {
	r := &recorder{}
	a := transport.NewAsyncSender(context.Background(), 128, r.Send, transport.Hooks{})
	res, err := Run(context.Background(), a, Job{Target: "#t", Count: 100})
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.Equal(t, 100, res.Sent)
	assert.Len(t, r.lines, 100)
	assert.EqualValues(t, 100, a.Sent())
}

func registered(t *testing.T, nicks ...string) compose.Pool {
	t.Helper()
	srv, stop, err := refserver.Start(context.Background(),
		refserver.WithListenAddr("127.0.0.1:0"), refserver.WithPassword("pw"))
	require.NoError(t, err)
	t.Cleanup(stop)
	cfg := config.Default()
	cfg.Host, cfg.Port = srv.HostPort()
	cfg.Password = "pw"
	p, err := compose.New(cfg).Pool(context.Background(), nicks...)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestFloodThenLiveness(t *testing.T) {
	p := registered(t, "sender", "watcher")
	sender, watcher := p[0], p[1]
	require.NoError(t, sender.Join("#flood"))
	_, ok := sender.WaitForReply(irc.RplEndOfNames, 2*time.Second)
	require.True(t, ok)
	require.NoError(t, watcher.Join("#flood"))
	_, ok = watcher.WaitForReply(irc.RplEndOfNames, 2*time.Second)
	require.True(t, ok)

	res, err := Run(context.Background(), sender, Job{Target: "#flood", Count: 50, Payload: "Flood message"})
	require.NoError(t, err)
	assert.Equal(t, 50, res.Sent)

	require.NoError(t, CheckLiveness(sender, "alive-sender", 3*time.Second))
	require.NoError(t, CheckLiveness(watcher, "alive-watcher", 3*time.Second))
}

func TestCheckLivenessFailsOnClosedSession(t *testing.T) {
	p := registered(t, "gone")
	p[0].Disconnect()
	err := CheckLiveness(p[0], "x", 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrNotLive)
	assert.ErrorIs(t, err, session.ErrNotConnected)
}
