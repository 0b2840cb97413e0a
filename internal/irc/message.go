package irc

import "strings"

// Line framing constants.
const (
	CRLF = "\r\n"
	// MaxLineLen is the conventional ceiling for one line including CRLF.
	// The codec does not enforce it.
	MaxLineLen = 512
)

// Commands issued by the harness.
const (
	CmdPass    = "PASS"
	CmdNick    = "NICK"
	CmdUser    = "USER"
	CmdJoin    = "JOIN"
	CmdPart    = "PART"
	CmdPrivmsg = "PRIVMSG"
	CmdNotice  = "NOTICE"
	CmdTopic   = "TOPIC"
	CmdMode    = "MODE"
	CmdKick    = "KICK"
	CmdInvite  = "INVITE"
	CmdPing    = "PING"
	CmdPong    = "PONG"
	CmdQuit    = "QUIT"
	CmdError   = "ERROR"
)

// Numeric replies. Names follow RFC 1459/2812.
const (
	RplWelcome          = "001"
	RplYourHost         = "002"
	RplCreated          = "003"
	RplMyInfo           = "004"
	RplUModeIs          = "221"
	RplChannelModeIs    = "324"
	RplNoTopic          = "331"
	RplTopic            = "332"
	RplInviting         = "341"
	RplNamReply         = "353"
	RplEndOfNames       = "366"
	ErrNoSuchNick       = "401"
	ErrNoSuchChannel    = "403"
	ErrCannotSendToChan = "404"
	ErrUnknownCommand   = "421"
	ErrNoNicknameGiven  = "431"
	ErrErroneusNickname = "432"
	ErrNicknameInUse    = "433"
	ErrUserNotInChannel = "441"
	ErrNotOnChannel     = "442"
	ErrUserOnChannel    = "443"
	ErrNotRegistered    = "451"
	ErrNeedMoreParams   = "461"
	ErrAlreadyRegistred = "462"
	ErrPasswdMismatch   = "464"
	ErrChannelIsFull    = "471"
	ErrUnknownMode      = "472"
	ErrInviteOnlyChan   = "473"
	ErrBadChannelKey    = "475"
	ErrChanOPrivsNeeded = "482"
	ErrUsersDontMatch   = "502"
)

// Message is one decoded protocol line:
//
//	[':' prefix SP] command *(SP param) [SP ':' trailing]
//
// An empty Command means the line could not be parsed. Prefix is empty when
// the line carried none. The trailing parameter, if any, is the last element
// of Params.
type Message struct {
	Raw     string
	Prefix  string
	Command string
	Params  []string
}

// Param returns the i-th parameter or "" if absent.
func (m Message) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// Last returns the final parameter (usually the trailing text) or "".
func (m Message) Last() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// Nick extracts the nickname part of a nick!user@host prefix.
func (m Message) Nick() string {
	p := m.Prefix
	if i := strings.IndexAny(p, "!@"); i >= 0 {
		p = p[:i]
	}
	return p
}

// IsNumeric reports whether the command is a three digit reply code.
func (m Message) IsNumeric() bool {
	if len(m.Command) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if m.Command[i] < '0' || m.Command[i] > '9' {
			return false
		}
	}
	return true
}

// Valid reports whether a command was found.
func (m Message) Valid() bool { return m.Command != "" }

// Is reports whether the message command matches any of cmds.
func (m Message) Is(cmds ...string) bool {
	for _, c := range cmds {
		if m.Command == c {
			return true
		}
	}
	return false
}

// String re-encodes the message (with prefix) without the terminator.
func (m Message) String() string {
	line := strings.TrimSuffix(Encode(m.Command, m.Params...), CRLF)
	if m.Prefix != "" {
		return ":" + m.Prefix + " " + line
	}
	return line
}

// IsChannel reports whether name carries a channel prefix character.
func IsChannel(name string) bool {
	return name != "" && (name[0] == '#' || name[0] == '&')
}
