package session

import (
	"errors"

	"github.com/kstaniek/ircprobe/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrConnect          = errors.New("connect")
	ErrSend             = errors.New("send")
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection_closed")
	ErrNotConnected     = errors.New("not_connected")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnect):
		return metrics.ErrConnect
	case errors.Is(err, ErrSend):
		return metrics.ErrSend
	case errors.Is(err, ErrTimeout):
		return metrics.ErrTimeout
	case errors.Is(err, ErrConnectionClosed):
		return metrics.ErrClosed
	default:
		return metrics.ErrRecv
	}
}
