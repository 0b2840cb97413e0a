// Command ircrefd runs the reference chat server standalone.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/ircprobe/internal/config"
	"github.com/kstaniek/ircprobe/internal/logging"
	"github.com/kstaniek/ircprobe/internal/metrics"
	"github.com/kstaniek/ircprobe/internal/refserver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (*config.Config, bool, error) {
	cfg := config.Default()
	fs := flag.NewFlagSet("ircrefd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfg.BindServer(fs)
	configPath := fs.String("config", "", "Optional TOML configuration file")
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return &cfg, true, nil
	}
	if err := config.Load(fs, &cfg, *configPath); err != nil {
		return nil, false, err
	}
	return &cfg, false, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, showVersion, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "ircrefd:", err)
		return 2
	}
	if showVersion {
		fmt.Fprintf(stdout, "ircrefd %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}
	l := logging.Setup("ircrefd", cfg.LogFormat, cfg.LogLevel, stderr)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	metrics.StartLogger(ctx, cfg.LogMetricsEvery, l, &wg)

	srv := refserver.NewServer(
		refserver.WithHub(h),
		refserver.WithLogger(l),
		refserver.WithName(cfg.ServerName),
		refserver.WithPassword(cfg.Password),
		refserver.WithMaxClients(cfg.MaxClients),
		refserver.WithReadDeadline(cfg.ClientReadTO),
	)
	srv.SetListenAddr(cfg.ListenAddr)
	serveErr := make(chan error, 1)
	go func() {
		err := srv.Serve(ctx)
		if err != nil {
			l.Error("tcp_server_error", "error", err)
		}
		serveErr <- err
		cancel()
	}()
	startMDNS(ctx, cfg, srv, l)

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.MetricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.MetricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	<-ctx.Done()
	l.Info("shutdown_signal")
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		l.Warn("shutdown_error", "error", err)
	}
	wg.Wait()
	select {
	case err := <-serveErr:
		if err != nil {
			return 1
		}
	default:
	}
	return 0
}
