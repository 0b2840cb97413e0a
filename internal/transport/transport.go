// Package transport holds the narrow line-level interfaces the flood
// generator and scenario oracle are written against.
package transport

import (
	"time"

	"github.com/kstaniek/ircprobe/internal/irc"
	"github.com/kstaniek/ircprobe/internal/session"
)

// LineSender writes one protocol line, terminating it when needed.
type LineSender interface {
	Send(text string) error
}

// LineReceiver performs bounded waits over decoded lines.
type LineReceiver interface {
	WaitFor(timeout time.Duration, match func(irc.Message) bool) (irc.Message, bool)
	WaitForReply(expected string, timeout time.Duration) (irc.Message, bool)
	ReceiveMessages(window time.Duration) []irc.Message
}

// Conn is a full duplex line transport.
type Conn interface {
	LineSender
	LineReceiver
}

// SockInfoer optionally reports kernel socket statistics.
type SockInfoer interface {
	SockInfo() (session.SockInfo, error)
}

var (
	_ Conn       = (*session.Session)(nil)
	_ SockInfoer = (*session.Session)(nil)
	_ LineSender = (*AsyncSender)(nil)
)
