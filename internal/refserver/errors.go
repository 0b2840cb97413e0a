package refserver

import (
	"errors"

	"github.com/kstaniek/ircprobe/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrListen     = errors.New("listen")
	ErrAccept     = errors.New("accept")
	ErrGreeting   = errors.New("greeting")
	ErrConnRead   = errors.New("conn_read")
	ErrConnWrite  = errors.New("conn_write")
	ErrLineBuffer = errors.New("line_buffer_overflow")
	ErrContext    = errors.New("context_cancelled")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead), errors.Is(err, ErrLineBuffer):
		return metrics.ErrRefRead
	case errors.Is(err, ErrConnWrite), errors.Is(err, ErrGreeting):
		return metrics.ErrRefWrite
	case errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return metrics.ErrRefAccept
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
