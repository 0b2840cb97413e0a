package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StartLogger periodically logs the local snapshot until ctx ends. It does
// nothing when interval <= 0.
func StartLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				LogSnapshot(l)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// LogSnapshot writes one metrics_snapshot record.
func LogSnapshot(l *slog.Logger) {
	snap := Snap()
	l.Info("metrics_snapshot",
		"lines_sent", snap.Sent,
		"lines_received", snap.Received,
		"flood", snap.Flood,
		"sessions", snap.Sessions,
		"pass", snap.Pass,
		"fail", snap.Fail,
		"fixture", snap.Fixture,
		"ref_in", snap.RefIn,
		"ref_out", snap.RefOut,
		"hub_drops", snap.HubDrops,
		"hub_kicks", snap.HubKicks,
		"errors", snap.Errors,
	)
}
