package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kstaniek/ircprobe/internal/compose"
	"github.com/kstaniek/ircprobe/internal/config"
	"github.com/kstaniek/ircprobe/internal/flood"
	"github.com/kstaniek/ircprobe/internal/irc"
	"github.com/kstaniek/ircprobe/internal/logging"
	"github.com/kstaniek/ircprobe/internal/metrics"
	"github.com/kstaniek/ircprobe/internal/session"
)

// Runner executes scenarios against the server the composer points at.
type Runner struct {
	comp   *compose.Composer
	reply  time.Duration
	window time.Duration
	logger *slog.Logger
}

type RunnerOption func(*Runner)

func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner uses cfg.ReplyTimeout for positive waits and cfg.Window for
// negative ones.
func NewRunner(comp *compose.Composer, cfg config.Config, opts ...RunnerOption) *Runner {
	r := &Runner{comp: comp, reply: cfg.ReplyTimeout, window: cfg.Window, logger: logging.L()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Outcome is the result of one scenario.
type Outcome struct {
	Scenario string
	Result   string
	Err      error
	Elapsed  time.Duration
}

// Report collects outcomes in run order.
type Report struct {
	Outcomes []Outcome
}

func (r Report) count(result string) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Result == result {
			n++
		}
	}
	return n
}

func (r Report) Passed() int  { return r.count(metrics.ResultPass) }
func (r Report) Failed() int  { return r.count(metrics.ResultFail) }
func (r Report) Fixture() int { return r.count(metrics.ResultFixture) }
func (r Report) OK() bool     { return r.Passed() == len(r.Outcomes) }

// Filter keeps scenarios whose name matches re. A nil re keeps all.
func Filter(table []Scenario, re *regexp.Regexp) []Scenario {
	if re == nil {
		return table
	}
	out := make([]Scenario, 0, len(table))
	for _, sc := range table {
		if re.MatchString(sc.Name) {
			out = append(out, sc)
		}
	}
	return out
}

// RunAll runs every scenario sequentially. It stops early only when ctx
// ends.
func (r *Runner) RunAll(ctx context.Context, table []Scenario) Report {
	var rep Report
	for _, sc := range table {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		err := r.Run(ctx, sc)
		rep.Outcomes = append(rep.Outcomes, Outcome{Scenario: sc.Name, Result: classify(err), Err: err, Elapsed: time.Since(start)})
	}
	return rep
}

func classify(err error) string {
	switch {
	case err == nil:
		return metrics.ResultPass
	case errors.Is(err, compose.ErrFixture):
		return metrics.ResultFixture
	default:
		return metrics.ResultFail
	}
}

// Run builds the scenario's sessions, executes its steps and tears every
// session down. It returns nil, a *compose.FixtureError or an
// *AssertionError.
func (r *Runner) Run(ctx context.Context, sc Scenario) (err error) {
	start := time.Now()
	l := r.logger.With("scenario", sc.Name)
	defer func() {
		res := classify(err)
		metrics.IncScenario(res)
		switch res {
		case metrics.ResultPass:
			l.Info("scenario_passed", "elapsed", time.Since(start))
		case metrics.ResultFixture:
			l.Error("scenario_fixture_failed", "error", err)
		default:
			l.Error("scenario_failed", "error", err)
		}
	}()
	pool, err := r.comp.Pool(ctx, sc.Nicks...)
	if err != nil {
		return err
	}
	x := &run{r: r, sc: sc, sessions: pool}
	defer x.close()
	for i, st := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := x.do(ctx, i, st); err != nil {
			return err
		}
	}
	return nil
}

// run is the state of one scenario execution.
type run struct {
	r        *Runner
	sc       Scenario
	sessions compose.Pool
}

func (x *run) close() { x.sessions.Close() }

func (x *run) at(i int) (*session.Session, error) {
	if i < 0 || i >= len(x.sessions) {
		return nil, fmt.Errorf("scenario %s: no session %d", x.sc.Name, i)
	}
	return x.sessions[i], nil
}

func (x *run) fail(i int, st Step, nick string, seen observed, err error) error {
	return &AssertionError{Scenario: x.sc.Name, Step: i, Expectation: st.describe(nick), Observed: seen, Err: err}
}

func (x *run) positive(st Step) time.Duration {
	if st.Window > 0 {
		return st.Window
	}
	return x.r.reply
}

func (x *run) negative(st Step) time.Duration {
	if st.Window > 0 {
		return st.Window
	}
	return x.r.window
}

// wait polls s for a match, recording every line it consumes.
func wait(s *session.Session, d time.Duration, seen *observed, match func(irc.Message) bool) bool {
	_, ok := s.WaitFor(d, func(m irc.Message) bool {
		seen.add(m.Raw)
		return match(m)
	})
	return ok
}

func (x *run) do(ctx context.Context, i int, st Step) error {
	switch st.Kind {
	case KindDial:
		s := x.r.comp.Session(st.Nick)
		if err := s.Connect(ctx); err != nil {
			return x.fail(i, st, st.Nick, nil, err)
		}
		x.sessions = append(x.sessions, s)
		return nil
	case KindDrain:
		for _, s := range x.sessions {
			if s.Connected() {
				s.ReceiveLines(st.Window)
			}
		}
		return nil
	case KindCycle:
		return x.cycle(ctx, i, st)
	case KindRelay:
		return x.relay(i, st)
	}

	s, err := x.at(st.Actor)
	if err != nil {
		return err
	}
	nick := s.Nickname()
	var seen observed
	switch st.Kind {
	case KindSend:
		if err := s.Command(st.Command, st.Params...); err != nil {
			return x.fail(i, st, nick, nil, err)
		}
		if st.Await != "" && !wait(s, x.positive(st), &seen, func(m irc.Message) bool { return m.Command == st.Await }) {
			return x.fail(i, st, nick, seen, nil)
		}
	case KindRaw:
		if err := s.SendRaw([]byte(st.Text)); err != nil {
			return x.fail(i, st, nick, nil, err)
		}
	case KindHandshake:
		if err := x.handshake(s, st); err != nil {
			return x.fail(i, st, nick, nil, err)
		}
	case KindKill:
		s.Disconnect()
	case KindFlood:
		job := flood.Job{Target: st.Target, Count: st.Count, Payload: st.Text}
		if _, err := flood.Run(ctx, s, job); err != nil {
			return x.fail(i, st, nick, nil, err)
		}
	case KindReply:
		if !wait(s, x.positive(st), &seen, func(m irc.Message) bool { return replyMatches(st, m) }) {
			return x.fail(i, st, nick, seen, nil)
		}
	case KindNoReply:
		if wait(s, x.negative(st), &seen, func(m irc.Message) bool { return m.Is(st.Codes...) }) {
			return x.fail(i, st, nick, seen, nil)
		}
	case KindNoEcho:
		if wait(s, x.negative(st), &seen, func(m irc.Message) bool { return echoMatches(st, m) }) {
			return x.fail(i, st, nick, seen, nil)
		}
	case KindPong:
		if err := flood.CheckLiveness(s, st.Text, x.positive(st)); err != nil {
			return x.fail(i, st, nick, nil, err)
		}
	default:
		return fmt.Errorf("scenario %s: step %d: unknown kind %s", x.sc.Name, i, st.Kind)
	}
	return nil
}

func (x *run) handshake(s *session.Session, st Step) error {
	nick := s.Nickname()
	if !st.NoPass {
		pw := st.Password
		if pw == "" {
			pw = x.r.comp.Password()
		}
		if pw != "" {
			if err := s.Pass(pw); err != nil {
				return err
			}
		}
	}
	if err := s.Nick(nick); err != nil {
		return err
	}
	return s.User(nick, "Test "+nick)
}

func (x *run) relay(i int, st Step) error {
	observers := st.Observers
	if len(observers) == 0 {
		observers = []int{st.Actor}
	}
	need := st.Quorum
	if need <= 0 || need > len(observers) {
		need = len(observers)
	}
	got := 0
	var missed []string
	var seen observed
	for _, o := range observers {
		s, err := x.at(o)
		if err != nil {
			return err
		}
		if wait(s, x.positive(st), &seen, func(m irc.Message) bool { return relayMatches(st, m) }) {
			got++
			continue
		}
		missed = append(missed, s.Nickname())
	}
	if got < need {
		return x.fail(i, st, strings.Join(missed, ","), seen, fmt.Errorf("%d of %d observers, need %d", got, len(observers), need))
	}
	return nil
}

// cycle opens and drops sessions in quick succession. Send errors are
// tolerated; a refused connection is not.
func (x *run) cycle(ctx context.Context, i int, st Step) error {
	for k := 0; k < st.Count; k++ {
		nick := fmt.Sprintf("%s%d", st.Nick, k)
		s := x.r.comp.Session(nick)
		if err := s.Connect(ctx); err != nil {
			return x.fail(i, st, nick, nil, err)
		}
		_ = x.handshake(s, Step{})
		sleep(ctx, st.Window)
		s.Disconnect()
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func replyMatches(st Step, m irc.Message) bool {
	if !m.Is(st.Codes...) {
		return false
	}
	for j, p := range st.Params {
		if p != "" && !strings.EqualFold(m.Param(j), p) {
			return false
		}
	}
	return st.Text == "" || strings.Contains(m.Last(), st.Text)
}

// relayMatches requires the relayed body to equal the sent text exactly.
// KICK carries the kicked nick before its reason; every other relayed
// command is target plus body. An empty text matches any body (JOIN).
func relayMatches(st Step, m irc.Message) bool {
	if m.Command != st.Command || !strings.EqualFold(m.Param(0), st.Target) {
		return false
	}
	switch {
	case st.Text == "":
		return true
	case m.Command == irc.CmdKick:
		return len(m.Params) == 3 && m.Last() == st.Text
	default:
		return len(m.Params) == 2 && m.Param(1) == st.Text
	}
}

// echoMatches is the looser test used to detect an echo: any line of the
// same command and target whose body contains the text.
func echoMatches(st Step, m irc.Message) bool {
	return m.Command == st.Command &&
		strings.EqualFold(m.Param(0), st.Target) &&
		strings.Contains(m.Last(), st.Text)
}
