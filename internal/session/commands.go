package session

import (
	"fmt"

	"github.com/kstaniek/ircprobe/internal/irc"
)

// Command wrappers. Each encodes with irc.Encode and sends one line.

// Command refuses params that would decode differently from what was given;
// use SendRaw for deliberately malformed lines.
func (s *Session) Command(cmd string, params ...string) error {
	if err := irc.CheckParams(params...); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return s.Send(irc.Encode(cmd, params...))
}

func (s *Session) Pass(password string) error { return s.Command(irc.CmdPass, password) }

// Nick sends NICK and remembers the requested nickname.
func (s *Session) Nick(nick string) error {
	s.nick = nick
	return s.Command(irc.CmdNick, nick)
}

// User sends USER <username> 0 * :<realname>.
func (s *Session) User(username, realname string) error {
	if realname == "" {
		realname = username
	}
	return s.Send("USER " + username + " 0 * :" + realname)
}

// Join sends JOIN with an optional key.
func (s *Session) Join(channel string, key ...string) error {
	if len(key) > 0 && key[0] != "" {
		return s.Command(irc.CmdJoin, channel, key[0])
	}
	return s.Command(irc.CmdJoin, channel)
}

func (s *Session) Part(channel, reason string) error {
	if reason == "" {
		return s.Command(irc.CmdPart, channel)
	}
	return s.Send("PART " + channel + " :" + reason)
}

func (s *Session) Privmsg(target, text string) error {
	return s.Send("PRIVMSG " + target + " :" + text)
}

func (s *Session) Kick(channel, nick, reason string) error {
	if reason == "" {
		return s.Command(irc.CmdKick, channel, nick)
	}
	return s.Send("KICK " + channel + " " + nick + " :" + reason)
}

func (s *Session) Invite(nick, channel string) error {
	return s.Command(irc.CmdInvite, nick, channel)
}

// Topic queries the channel topic.
func (s *Session) Topic(channel string) error { return s.Command(irc.CmdTopic, channel) }

// SetTopic sets the channel topic; an empty topic clears it.
func (s *Session) SetTopic(channel, topic string) error {
	return s.Send("TOPIC " + channel + " :" + topic)
}

// Mode sends MODE target followed by each mode word as its own parameter,
// e.g. Mode("#c", "+k", "secret").
func (s *Session) Mode(target string, modes ...string) error {
	return s.Command(irc.CmdMode, append([]string{target}, modes...)...)
}

func (s *Session) Quit(reason string) error {
	if reason == "" {
		reason = "Leaving"
	}
	return s.Send("QUIT :" + reason)
}

func (s *Session) Ping(token string) error { return s.Command(irc.CmdPing, token) }

func (s *Session) Pong(token string) error { return s.Command(irc.CmdPong, token) }
