package oracle

import (
	"fmt"
	"strings"
	"time"
)

// Kind selects what a Step does. Actions drive sessions; expectations poll
// a session's stream within a bounded window.
type Kind int

const (
	KindSend      Kind = iota // Actor sends Command Params, optionally awaiting a reply
	KindRaw                   // Actor writes Text verbatim, no terminator added
	KindDial                  // open an unregistered session for Nick
	KindHandshake             // Actor sends PASS/NICK/USER without waiting
	KindKill                  // Actor's transport is closed without QUIT
	KindFlood                 // Actor floods Target Count times with payload Text
	KindCycle                 // Count connect/handshake/close cycles with nick prefix Nick
	KindDrain                 // every session drains its stream for Window

	KindReply   // Actor receives one of Codes
	KindNoReply // Actor receives none of Codes within Window
	KindRelay   // Observers receive Command to Target containing Text
	KindNoEcho  // Actor does not receive Command to Target containing Text
	KindPong    // Actor's PING Text is answered
)

var kindNames = [...]string{
	"send", "raw", "dial", "handshake", "kill", "flood", "cycle", "drain",
	"reply", "no_reply", "relay", "no_echo", "pong",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Step is one entry of a scenario. Only the fields relevant to Kind are
// read.
type Step struct {
	Kind    Kind
	Actor   int
	Command string
	// Params are sent for KindSend. For KindReply they are matched against
	// the leading reply params; an empty entry matches anything.
	Params    []string
	Codes     []string
	Target    string
	Text      string
	Nick      string
	Password  string
	NoPass    bool
	Await     string
	Count     int
	Observers []int
	Quorum    int
	Window    time.Duration
}

// Scenario is a fixed arrangement of registered sessions, one per Nicks
// entry, followed by Steps run in order. Expectations consume the lines
// they skip, so steps reading the same session must follow arrival order.
type Scenario struct {
	Name  string
	About string
	Nicks []string
	Steps []Step
}

// Send builds a KindSend step.
func Send(actor int, cmd string, params ...string) Step {
	return Step{Kind: KindSend, Actor: actor, Command: cmd, Params: params}
}

// Awaiting makes a send step wait for cmd on the actor's stream.
func (s Step) Awaiting(cmd string) Step { s.Await = cmd; return s }

// Within overrides the step's window.
func (s Step) Within(d time.Duration) Step { s.Window = d; return s }

func Raw(actor int, text string) Step { return Step{Kind: KindRaw, Actor: actor, Text: text} }
func Dial(nick string) Step           { return Step{Kind: KindDial, Nick: nick} }
func Kill(actor int) Step             { return Step{Kind: KindKill, Actor: actor} }
func Drain(d time.Duration) Step      { return Step{Kind: KindDrain, Window: d} }

// Handshake registers Actor with the configured password.
func Handshake(actor int) Step { return Step{Kind: KindHandshake, Actor: actor} }

// HandshakeWith registers Actor with an explicit password.
func HandshakeWith(actor int, password string) Step {
	return Step{Kind: KindHandshake, Actor: actor, Password: password}
}

// HandshakeNoPass registers Actor without sending PASS.
func HandshakeNoPass(actor int) Step { return Step{Kind: KindHandshake, Actor: actor, NoPass: true} }

func Flood(actor int, target string, count int, payload string) Step {
	return Step{Kind: KindFlood, Actor: actor, Target: target, Count: count, Text: payload}
}

func Cycle(prefix string, count int, pause time.Duration) Step {
	return Step{Kind: KindCycle, Nick: prefix, Count: count, Window: pause}
}

// Reply expects one of codes on actor's stream. params constrain the leading
// reply params.
func Reply(actor int, codes []string, params ...string) Step {
	return Step{Kind: KindReply, Actor: actor, Codes: codes, Params: params}
}

// Containing requires the last param of the matched message to contain text.
func (s Step) Containing(text string) Step { s.Text = text; return s }

func NoReply(actor int, codes ...string) Step {
	return Step{Kind: KindNoReply, Actor: actor, Codes: codes}
}

// Relay expects every observer to receive cmd addressed to target with text
// in its last param.
func Relay(cmd, target, text string, observers ...int) Step {
	return Step{Kind: KindRelay, Command: cmd, Target: target, Text: text, Observers: observers}
}

// AtLeast lowers the number of observers that must see a relay.
func (s Step) AtLeast(n int) Step { s.Quorum = n; return s }

func NoEcho(actor int, cmd, target, text string) Step {
	return Step{Kind: KindNoEcho, Actor: actor, Command: cmd, Target: target, Text: text}
}

func Pong(actor int, token string) Step { return Step{Kind: KindPong, Actor: actor, Text: token} }

// describe renders the step for failure messages.
func (s Step) describe(nick string) string {
	switch s.Kind {
	case KindReply:
		d := fmt.Sprintf("reply %s on %s", strings.Join(s.Codes, "|"), nick)
		if len(s.Params) > 0 {
			d += fmt.Sprintf(" with params %q", s.Params)
		}
		if s.Text != "" {
			d += fmt.Sprintf(" containing %q", s.Text)
		}
		return d
	case KindNoReply:
		return fmt.Sprintf("no %s on %s", strings.Join(s.Codes, "|"), nick)
	case KindRelay:
		return fmt.Sprintf("%s %s %q relayed to %s", s.Command, s.Target, s.Text, nick)
	case KindNoEcho:
		return fmt.Sprintf("%s %s %q not echoed to %s", s.Command, s.Target, s.Text, nick)
	case KindPong:
		return fmt.Sprintf("PONG %q on %s", s.Text, nick)
	case KindSend:
		if s.Await != "" {
			return fmt.Sprintf("%s answered by %s on %s", s.Command, s.Await, nick)
		}
		return fmt.Sprintf("%s sent by %s", s.Command, nick)
	default:
		return fmt.Sprintf("%s by %s", s.Kind, nick)
	}
}
