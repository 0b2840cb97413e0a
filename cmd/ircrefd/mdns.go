package main

import (
	"context"
	"log/slog"

	"github.com/kstaniek/ircprobe/internal/config"
	"github.com/kstaniek/ircprobe/internal/discovery"
	"github.com/kstaniek/ircprobe/internal/refserver"
)

// startMDNS advertises the server once it listens. The advertisement is
// withdrawn when ctx ends.
func startMDNS(ctx context.Context, cfg *config.Config, srv *refserver.Server, l *slog.Logger) {
	if !cfg.MDNSEnable {
		return
	}
	go func() {
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		instance := cfg.MDNSName
		if instance == "" {
			instance = discovery.DefaultInstance("ircrefd")
		}
		meta := []string{"version=" + version, "commit=" + commit, "password=" + boolText(cfg.Password != "")}
		cleanup, err := discovery.Register(ctx, instance, srv.Port(), meta)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", discovery.ServiceType, "name", instance, "port", srv.Port())
		<-ctx.Done()
		cleanup()
	}()
}

func boolText(b bool) string {
	if b {
		return "required"
	}
	return "none"
}
