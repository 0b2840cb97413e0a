// Package flood emits bursts of PRIVMSG lines with no throttling and checks
// that the server still answers PING afterwards.
package flood

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kstaniek/ircprobe/internal/irc"
	"github.com/kstaniek/ircprobe/internal/logging"
	"github.com/kstaniek/ircprobe/internal/metrics"
	"github.com/kstaniek/ircprobe/internal/session"
	"github.com/kstaniek/ircprobe/internal/transport"
)

const (
	DefaultReportEvery = 1000
	fillerLen          = 80
	// progressPause is for observability only.
	progressPause = 10 * time.Millisecond
)

var (
	ErrFlood   = errors.New("flood")
	ErrBadJob  = errors.New("invalid flood job")
	ErrNotLive = errors.New("no PONG within budget")
)

var filler = strings.Repeat("X", fillerLen)

// sleepFn allows tests to intercept the progress pause.
var sleepFn = time.Sleep

// Job describes one burst. An empty Payload selects the numbered default
// "Msg <i>: XXX...". ReportEvery <= 0 disables progress reports.
type Job struct {
	Target      string
	Count       int
	Payload     string
	ReportEvery int
}

// Text returns the message body for the i-th message, counting from 1.
func (j Job) Text(i int) string {
	if j.Payload != "" {
		return j.Payload
	}
	return fmt.Sprintf("Msg %d: %s", i, filler)
}

// Line returns the encoded PRIVMSG for the i-th message.
func (j Job) Line(i int) string {
	return irc.Encode(irc.CmdPrivmsg, j.Target, j.Text(i))
}

func (j Job) Validate() error {
	if j.Target == "" {
		return fmt.Errorf("%w: empty target", ErrBadJob)
	}
	if j.Count < 0 {
		return fmt.Errorf("%w: negative count %d", ErrBadJob, j.Count)
	}
	if err := irc.CheckParams(j.Target, j.Text(1)); err != nil {
		return fmt.Errorf("%w: %w", ErrBadJob, err)
	}
	return nil
}

// Result reports how many lines were handed to the transport.
type Result struct {
	Target  string
	Sent    int
	Elapsed time.Duration
}

func (r Result) Rate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Sent) / r.Elapsed.Seconds()
}

// Run issues job.Count sends back to back. Delivery and ordering on the
// receiving side are not checked. On a transport error the partial Result is
// returned with the error; nothing already sent is retracted.
func Run(ctx context.Context, w transport.LineSender, job Job) (Result, error) {
	res := Result{Target: job.Target}
	if err := job.Validate(); err != nil {
		return res, err
	}
	l := logging.L().With("target", job.Target)
	start := time.Now()
	for i := 1; i <= job.Count; i++ {
		if err := ctx.Err(); err != nil {
			res.Elapsed = time.Since(start)
			return res, fmt.Errorf("%w: interrupted after %d: %v", ErrFlood, res.Sent, err)
		}
		if err := w.Send(job.Line(i)); err != nil {
			metrics.IncError(metrics.ErrFlood)
			res.Elapsed = time.Since(start)
			return res, fmt.Errorf("%w: message %d: %w", ErrFlood, i, err)
		}
		res.Sent++
		metrics.IncFlood()
		if job.ReportEvery > 0 && i%job.ReportEvery == 0 {
			report(l, w, i, job.Count, time.Since(start))
			sleepFn(progressPause)
		}
	}
	res.Elapsed = time.Since(start)
	l.Info("flood_done", "sent", res.Sent, "elapsed", res.Elapsed, "rate", int(res.Rate()))
	return res, nil
}

func report(l *slog.Logger, w transport.LineSender, sent, total int, elapsed time.Duration) {
	args := []any{"sent", sent, "total", total, "elapsed", elapsed}
	if si, ok := w.(transport.SockInfoer); ok {
		if info, err := si.SockInfo(); err == nil {
			args = append(args, "rtt", info.RTT, "unacked", info.Unacked, "lost", info.Lost, "retrans", info.TotalRetrans)
		}
	}
	l.Info("flood_progress", args...)
}

// Worker pairs a sender with the job it floods.
type Worker struct {
	Sender transport.LineSender
	Job    Job
}

// RunParallel floods every worker concurrently. The first error cancels the
// others; results are returned in worker order either way.
func RunParallel(ctx context.Context, workers ...Worker) ([]Result, error) {
	results := make([]Result, len(workers))
	g, gctx := errgroup.WithContext(ctx)
	for i, wk := range workers {
		g.Go(func() error {
			r, err := Run(gctx, wk.Sender, wk.Job)
			results[i] = r
			return err
		})
	}
	return results, g.Wait()
}

// Pinger is a transport that can issue PING.
type Pinger interface {
	transport.LineReceiver
	Ping(token string) error
}

var _ Pinger = (*session.Session)(nil)

// CheckLiveness sends PING token and waits for a PONG carrying it.
func CheckLiveness(p Pinger, token string, timeout time.Duration) error {
	if err := p.Ping(token); err != nil {
		return fmt.Errorf("%w: %w", ErrNotLive, err)
	}
	_, ok := p.WaitFor(timeout, func(m irc.Message) bool {
		return m.Command == irc.CmdPong && m.Last() == token
	})
	if !ok {
		return fmt.Errorf("%w: token %q after %s", ErrNotLive, token, timeout)
	}
	return nil
}
