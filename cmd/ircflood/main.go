// Command ircflood registers one or more sessions, floods a channel or nick
// with unthrottled PRIVMSGs and checks that the server still answers PING.
//
//	ircflood [flags] <target> <count>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/ircprobe/internal/compose"
	"github.com/kstaniek/ircprobe/internal/config"
	"github.com/kstaniek/ircprobe/internal/discovery"
	"github.com/kstaniek/ircprobe/internal/flood"
	"github.com/kstaniek/ircprobe/internal/irc"
	"github.com/kstaniek/ircprobe/internal/logging"
	"github.com/kstaniek/ircprobe/internal/metrics"
	"github.com/kstaniek/ircprobe/internal/session"
	"github.com/kstaniek/ircprobe/internal/transport"
)

const quitMessage = "Flood test complete"

var errUsage = errors.New("usage")

type options struct {
	cfg         config.Config
	target      string
	count       int
	nick        string
	sessions    int
	reportEvery int
	payload     string
	asyncBuf    int
	toUser      bool
	liveness    bool
	version     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintf(fs.Output(), "usage: ircflood [flags] <target> <count>\n")
		fs.PrintDefaults()
	}
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{cfg: config.Default()}
	fs := flag.NewFlagSet("ircflood", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = usage(fs)
	o.cfg.BindClient(fs)
	configPath := fs.String("config", "", "Optional TOML configuration file")
	fs.StringVar(&o.nick, "nick", "flooder", "Nickname; extra sessions get a numeric suffix")
	fs.IntVar(&o.sessions, "sessions", 1, "Number of sessions flooding in parallel")
	fs.IntVar(&o.reportEvery, "report-every", flood.DefaultReportEvery, "Log progress every N messages (0 disables)")
	fs.StringVar(&o.payload, "payload", "", "Fixed message text (default \"Msg <i>: \" followed by 80 X)")
	fs.IntVar(&o.asyncBuf, "async-buffer", 0, "If >0, queue sends through an async writer of this size")
	fs.BoolVar(&o.toUser, "to-user", false, "Target is a nickname rather than a channel")
	fs.BoolVar(&o.liveness, "liveness", true, "PING each session after the flood and require PONG")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.version {
		return o, nil
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return nil, fmt.Errorf("%w: expected <target> <count>", errUsage)
	}
	o.target = fs.Arg(0)
	if !o.toUser && !irc.IsChannel(o.target) {
		return nil, fmt.Errorf("%w: channel target %q must start with # or &", errUsage, o.target)
	}
	n, err := strconv.Atoi(fs.Arg(1))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: count must be a non-negative integer, got %q", errUsage, fs.Arg(1))
	}
	o.count = n
	if o.sessions < 1 {
		return nil, fmt.Errorf("%w: -sessions must be >= 1", errUsage)
	}
	if err := config.Load(fs, &o.cfg, *configPath); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *options) nicks() []string {
	out := make([]string, o.sessions)
	for i := range out {
		out[i] = o.nick
		if i > 0 {
			out[i] = o.nick + strconv.Itoa(i)
		}
	}
	return out
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "ircflood:", err)
		return 2
	}
	if o.version {
		fmt.Fprintf(stdout, "ircflood %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	cfg := &o.cfg
	l := logging.Setup("ircflood", cfg.LogFormat, cfg.LogLevel, stderr)
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()
	metrics.StartLogger(ctx, cfg.LogMetricsEvery, l, &wg)
	if cfg.MetricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
		srvHTTP := metrics.StartHTTP(cfg.MetricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	if cfg.MDNSBrowse {
		ep, err := discovery.Browse(ctx, cfg.MDNSTimeout)
		if err != nil {
			l.Error("target_unavailable", "error", err)
			return 1
		}
		cfg.Host, cfg.Port = ep.Host, ep.Port
	}

	comp := compose.New(*cfg, compose.WithLogger(l))
	l.Info("connecting", "addr", comp.Addr(), "sessions", o.sessions)
	pool, err := comp.Pool(ctx, o.nicks()...)
	if err != nil {
		l.Error("connect_failed", "error", err)
		return 1
	}
	defer func() {
		for i := len(pool) - 1; i >= 0; i-- {
			pool[i].Teardown(quitMessage)
		}
	}()

	if !o.toUser {
		for _, s := range pool {
			if err := s.Join(o.target); err != nil {
				l.Error("join_failed", "nick", s.Nickname(), "error", err)
				return 1
			}
			if _, ok := s.WaitForReply(irc.RplEndOfNames, cfg.ReplyTimeout); !ok {
				l.Warn("join_unconfirmed", "nick", s.Nickname(), "channel", o.target)
			}
		}
	}

	if err := o.flood(ctx, pool); err != nil {
		l.Error("flood_failed", "error", err)
		return 1
	}
	if o.liveness {
		for _, s := range pool {
			if err := flood.CheckLiveness(s, "alive-"+s.Nickname(), cfg.ReplyTimeout); err != nil {
				l.Error("liveness_failed", "nick", s.Nickname(), "error", err)
				return 1
			}
		}
		l.Info("liveness_ok", "sessions", len(pool))
	}
	metrics.LogSnapshot(l)
	return 0
}

// flood runs one job per session. With -async-buffer the sends of each
// session go through a transport.AsyncSender that is drained before return.
func (o *options) flood(ctx context.Context, pool compose.Pool) error {
	job := flood.Job{Target: o.target, Count: o.count, Payload: o.payload, ReportEvery: o.reportEvery}
	workers := make([]flood.Worker, len(pool))
	var async []queued
	for i, s := range pool {
		var w transport.LineSender = s
		if o.asyncBuf > 0 {
			a := newAsync(ctx, s, o.asyncBuf)
			async = append(async, a)
			w = a
		}
		workers[i] = flood.Worker{Sender: w, Job: job}
	}
	start := time.Now()
	res, err := flood.RunParallel(ctx, workers...)
	for _, a := range async {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	total := 0
	for _, r := range res {
		total += r.Sent
	}
	logging.L().Info("flood_summary", "target", o.target, "sent", total, "elapsed", time.Since(start))
	return err
}

// queued retries a full AsyncSender queue until it drains or ctx ends, so
// every message counted as sent reaches the socket.
type queued struct {
	ctx context.Context
	*transport.AsyncSender
}

func newAsync(ctx context.Context, s *session.Session, buf int) queued {
	a := transport.NewAsyncSender(ctx, buf, s.Send, transport.Hooks{
		OnError: func(error) { metrics.IncError(metrics.ErrFlood) },
	})
	return queued{ctx: ctx, AsyncSender: a}
}

func (q queued) Send(line string) error {
	for {
		err := q.AsyncSender.Send(line)
		if !errors.Is(err, transport.ErrOverflow) {
			return err
		}
		select {
		case <-q.ctx.Done():
			return q.ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}
