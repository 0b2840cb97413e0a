package oracle

import (
	"context"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kstaniek/ircprobe/internal/compose"
	"github.com/kstaniek/ircprobe/internal/config"
	"github.com/kstaniek/ircprobe/internal/irc"
	"github.com/kstaniek/ircprobe/internal/refserver"
)

func testConfig(t *testing.T, opts ...refserver.ServerOption) config.Config {
	t.Helper()
	opts = append([]refserver.ServerOption{
		refserver.WithListenAddr("127.0.0.1:0"),
		refserver.WithPassword("password"),
	}, opts...)
	srv, stop, err := refserver.Start(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(stop)
	cfg := config.Default()
	cfg.Host, cfg.Port = srv.HostPort()
	cfg.Password = "password"
	cfg.Timeout = 2 * time.Second
	cfg.ReplyTimeout = 2 * time.Second
	cfg.Window = 300 * time.Millisecond
	return cfg
}

func runner(cfg config.Config) *Runner {
	return NewRunner(compose.New(cfg), cfg)
}

func TestTableAgainstReferenceServer(t *testing.T) {
	for _, p := range []Policy{Strict, Lenient} {
		t.Run(p.String(), func(t *testing.T) {
			cfg := testConfig(t)
			r := runner(cfg)
			for _, sc := range Table(p) {
				t.Run(sc.Name, func(t *testing.T) {
					require.NoError(t, r.Run(context.Background(), sc))
				})
			}
		})
	}
}

func TestTableShape(t *testing.T) {
	seen := map[string]bool{}
	for _, sc := range Table(Strict) {
		assert.False(t, seen[sc.Name], "duplicate scenario %s", sc.Name)
		seen[sc.Name] = true
		require.NotEmpty(t, sc.Steps, sc.Name)
		for _, n := range sc.Nicks {
			assert.LessOrEqual(t, len(n), 9, "nick %s in %s", n, sc.Name)
		}
	}
	for _, name := range []string{"privmsg_channel", "privmsg_no_such_channel", "channel_flood", "rapid_reconnect", "dcc_send"} {
		assert.True(t, seen[name], name)
	}
}

func TestPolicyCodes(t *testing.T) {
	assert.Equal(t, []string{irc.ErrNoSuchChannel}, Strict.NotJoinedCodes(false))
	assert.Equal(t, []string{irc.ErrCannotSendToChan}, Strict.NotJoinedCodes(true))
	assert.ElementsMatch(t, []string{"401", "403", "404"}, Lenient.NotJoinedCodes(false))
	assert.ElementsMatch(t, []string{"401", "403", "404"}, Lenient.NotJoinedCodes(true))

	p, err := ParsePolicy("LENIENT")
	require.NoError(t, err)
	assert.Equal(t, Lenient, p)
	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, Strict, p)
	_, err = ParsePolicy("loose")
	assert.Error(t, err)
}

func TestAssertionFailureReportsObservedLines(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReplyTimeout = 300 * time.Millisecond
	sc := Scenario{
		Name:  "wrong_code",
		Nicks: []string{"user1"},
		Steps: []Step{
			Send(0, irc.CmdPrivmsg, "#nowhere", "hi"),
			Reply(0, codes(irc.ErrCannotSendToChan)),
		},
	}
	err := runner(cfg).Run(context.Background(), sc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAssertion))
	assert.False(t, errors.Is(err, compose.ErrFixture))
	var ae *AssertionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "wrong_code", ae.Scenario)
	assert.Equal(t, 1, ae.Step)
	require.NotEmpty(t, ae.Observed)
	assert.Contains(t, ae.Observed[len(ae.Observed)-1], " 403 ")
	assert.Contains(t, err.Error(), "reply 404 on user1")
}

func TestEchoIsDetected(t *testing.T) {
	cfg := testConfig(t)
	// A PRIVMSG to oneself comes back, so a no-echo expectation must fail.
	sc := Scenario{
		Name:  "self_echo",
		Nicks: []string{"user1"},
		Steps: []Step{
			Send(0, irc.CmdPrivmsg, "user1", "mirror"),
			NoEcho(0, irc.CmdPrivmsg, "user1", "mirror"),
		},
	}
	err := runner(cfg).Run(context.Background(), sc)
	assert.ErrorIs(t, err, ErrAssertion)
}

func TestRelayQuorum(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReplyTimeout = 300 * time.Millisecond
	sc := Scenario{
		Name:  "quorum",
		Nicks: []string{"a", "b", "c"},
		Steps: []Step{
			join(0, "#q"),
			join(1, "#q"),
			Send(0, irc.CmdPrivmsg, "#q", "hello all"),
			// c never joined, so one of two observers is enough.
			Relay(irc.CmdPrivmsg, "#q", "hello all", 1, 2).AtLeast(1),
		},
	}
	require.NoError(t, runner(cfg).Run(context.Background(), sc))

	sc.Name = "quorum_strict"
	sc.Steps[len(sc.Steps)-1] = Relay(irc.CmdPrivmsg, "#q", "hello all", 1, 2)
	err := runner(cfg).Run(context.Background(), sc)
	var ae *AssertionError
	require.True(t, errors.As(err, &ae))
	assert.Contains(t, ae.Expectation, "relayed to c")
}

func TestFixtureFailureIsClassified(t *testing.T) {
	cfg := testConfig(t)
	cfg.Password = "wrong"
	cfg.ReplyTimeout = 300 * time.Millisecond
	rep := runner(cfg).RunAll(context.Background(), Filter(Table(Strict), regexp.MustCompile(`^ping_pong$`)))
	require.Len(t, rep.Outcomes, 1)
	assert.Equal(t, 1, rep.Fixture())
	assert.False(t, rep.OK())
	assert.ErrorIs(t, rep.Outcomes[0].Err, compose.ErrFixture)
}

func TestUnknownActorIsAnError(t *testing.T) {
	cfg := testConfig(t)
	err := runner(cfg).Run(context.Background(), Scenario{Name: "bad", Steps: []Step{Pong(3, "x")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session 3")
}

func TestRunAllAndFilter(t *testing.T) {
	cfg := testConfig(t)
	table := Filter(Table(Strict), regexp.MustCompile(`^(ping_pong|join|part)$`))
	require.Len(t, table, 3)
	rep := runner(cfg).RunAll(context.Background(), table)
	assert.True(t, rep.OK())
	assert.Equal(t, 3, rep.Passed())
	assert.Zero(t, rep.Failed())
	assert.Len(t, Filter(table, nil), 3)
}

// TestExternalServer runs the table against a live server named by
// IRC_SERVER_HOST/IRC_SERVER_PORT/IRC_SERVER_PASSWORD.
func TestExternalServer(t *testing.T) {
	if os.Getenv("IRC_SERVER_HOST") == "" {
		t.Skip("IRC_SERVER_HOST not set")
	}
	cfg := config.Default()
	require.NoError(t, config.ApplyEnv(&cfg, nil))
	require.NoError(t, cfg.Validate())
	p, err := ParsePolicy(cfg.Policy)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	comp := compose.New(cfg)
	require.NoError(t, comp.WaitForServer(ctx))
	r := NewRunner(comp, cfg)
	for _, sc := range Table(p) {
		t.Run(sc.Name, func(t *testing.T) {
			assert.NoError(t, r.Run(context.Background(), sc))
		})
	}
}
