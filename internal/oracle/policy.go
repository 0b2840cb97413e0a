package oracle

import (
	"fmt"
	"strings"

	"github.com/kstaniek/ircprobe/internal/irc"
)

// Policy decides which numerics satisfy a PRIVMSG to a channel the sender
// has not joined.
type Policy int

const (
	// Strict requires 403 for a channel that does not exist and 404 for an
	// existing channel the sender is not on.
	Strict Policy = iota
	// Lenient accepts any of 401, 403 and 404 in both cases.
	Lenient
)

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return Strict, nil
	case "lenient":
		return Lenient, nil
	default:
		return Strict, fmt.Errorf("unknown policy %q (use strict|lenient)", s)
	}
}

func (p Policy) String() string {
	if p == Lenient {
		return "lenient"
	}
	return "strict"
}

// NotJoinedCodes returns the acceptable replies. exists reports whether the
// channel has members.
func (p Policy) NotJoinedCodes(exists bool) []string {
	if p == Lenient {
		return []string{irc.ErrNoSuchNick, irc.ErrNoSuchChannel, irc.ErrCannotSendToChan}
	}
	if exists {
		return []string{irc.ErrCannotSendToChan}
	}
	return []string{irc.ErrNoSuchChannel}
}
