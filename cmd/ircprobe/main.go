// Command ircprobe runs the scenario table against a chat server and exits
// non-zero when any scenario fails.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/ircprobe/internal/compose"
	"github.com/kstaniek/ircprobe/internal/config"
	"github.com/kstaniek/ircprobe/internal/discovery"
	"github.com/kstaniek/ircprobe/internal/logging"
	"github.com/kstaniek/ircprobe/internal/metrics"
	"github.com/kstaniek/ircprobe/internal/oracle"
	"github.com/kstaniek/ircprobe/internal/refserver"
)

type options struct {
	cfg     config.Config
	run     *regexp.Regexp
	list    bool
	self    bool
	version bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{cfg: config.Default()}
	fs := flag.NewFlagSet("ircprobe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	o.cfg.BindClient(fs)
	configPath := fs.String("config", "", "Optional TOML configuration file")
	pattern := fs.String("run", "", "Only run scenarios whose name matches this regexp")
	fs.BoolVar(&o.list, "list", false, "List scenarios and exit")
	fs.BoolVar(&o.self, "self", false, "Probe an in-process reference server instead of -host/-port")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.version {
		return o, nil
	}
	if *pattern != "" {
		re, err := regexp.Compile(*pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid -run: %w", err)
		}
		o.run = re
	}
	if err := config.Load(fs, &o.cfg, *configPath); err != nil {
		return nil, err
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "ircprobe:", err)
		return 2
	}
	if o.version {
		fmt.Fprintf(stdout, "ircprobe %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	cfg := &o.cfg
	policy, err := oracle.ParsePolicy(cfg.Policy)
	if err != nil {
		fmt.Fprintln(stderr, "ircprobe:", err)
		return 2
	}
	table := oracle.Filter(oracle.Table(policy), o.run)
	if o.list {
		for _, sc := range table {
			fmt.Fprintf(stdout, "%-28s %s\n", sc.Name, sc.About)
		}
		return 0
	}
	if len(table) == 0 {
		fmt.Fprintln(stderr, "ircprobe: no scenario matches -run")
		return 2
	}

	l := logging.Setup("ircprobe", cfg.LogFormat, cfg.LogLevel, stderr)
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

	if err := resolveTarget(ctx, o, l); err != nil {
		l.Error("target_unavailable", "error", err)
		return 1
	}
	if o.self {
		srv, stop, err := refserver.Start(ctx, refserver.WithListenAddr("127.0.0.1:0"), refserver.WithPassword(cfg.Password), refserver.WithLogger(l.With("component", "refserver")))
		if err != nil {
			l.Error("refserver_start_failed", "error", err)
			return 1
		}
		defer stop()
		cfg.Host, cfg.Port = srv.HostPort()
	}

	comp := compose.New(*cfg, compose.WithLogger(l))
	wctx, wcancel := context.WithTimeout(ctx, cfg.Timeout)
	err = comp.WaitForServer(wctx)
	wcancel()
	if err != nil {
		l.Error("server_unreachable", "addr", comp.Addr(), "error", err)
		return 1
	}
	l.Info("probe_start", "addr", comp.Addr(), "scenarios", len(table), "policy", policy.String())
	rep := oracle.NewRunner(comp, *cfg, oracle.WithLogger(l)).RunAll(ctx, table)
	printReport(stdout, rep)
	metrics.LogSnapshot(l)
	if !rep.OK() || len(rep.Outcomes) < len(table) {
		return 1
	}
	return 0
}

// resolveTarget replaces host and port with the first mDNS answer when
// browsing is enabled.
func resolveTarget(ctx context.Context, o *options, l *slog.Logger) error {
	if !o.cfg.MDNSBrowse || o.self {
		return nil
	}
	ep, err := discovery.Browse(ctx, o.cfg.MDNSTimeout)
	if err != nil {
		return err
	}
	o.cfg.Host, o.cfg.Port = ep.Host, ep.Port
	l.Info("target_resolved", "instance", ep.Instance, "addr", ep.Addr())
	return nil
}

func printReport(w io.Writer, rep oracle.Report) {
	for _, oc := range rep.Outcomes {
		switch oc.Result {
		case metrics.ResultPass:
			fmt.Fprintf(w, "PASS    %-28s %s\n", oc.Scenario, oc.Elapsed.Round(time.Millisecond))
		case metrics.ResultFixture:
			fmt.Fprintf(w, "FIXTURE %-28s %v\n", oc.Scenario, oc.Err)
		default:
			fmt.Fprintf(w, "FAIL    %-28s %v\n", oc.Scenario, oc.Err)
		}
	}
	fmt.Fprintf(w, "%d passed, %d failed, %d fixture\n", rep.Passed(), rep.Failed(), rep.Fixture())
}
