package main

import (
	"log/slog"

	"github.com/kstaniek/ircprobe/internal/config"
	"github.com/kstaniek/ircprobe/internal/hub"
)

func initHub(cfg *config.Config, l *slog.Logger) *hub.Hub {
	h := hub.New()
	h.OutBufSize = cfg.HubBuffer
	h.Policy = hub.ParsePolicy(cfg.HubPolicy)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("hub_config", "policy", h.Policy.String(), "buffer", h.OutBufSize)
	return h
}
