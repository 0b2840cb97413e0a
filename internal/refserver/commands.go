package refserver

import (
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/ircprobe/internal/irc"
)

const serverVersion = "ircrefd-1"

// handleLine dispatches one command line from u. It reports false once the
// connection should end.
func (s *Server) handleLine(u *user, line string) bool {
	m := irc.Decode(line)
	if !m.Valid() {
		return true
	}
	cmd := strings.ToUpper(m.Command)
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if u.gone {
		return false
	}
	u.logger.Debug("command", "cmd", cmd, "params", len(m.Params))
	switch cmd {
	case irc.CmdPass:
		s.handlePass(u, m)
	case irc.CmdNick:
		s.handleNick(u, m)
	case irc.CmdUser:
		s.handleUser(u, m)
	case irc.CmdPing:
		s.handlePing(u, m)
	case irc.CmdPong:
	case irc.CmdQuit:
		s.handleQuit(u, m)
	default:
		if !u.registered {
			s.numeric(u, irc.ErrNotRegistered, "You have not registered")
			break
		}
		switch cmd {
		case irc.CmdJoin:
			s.handleJoin(u, m)
		case irc.CmdPart:
			s.handlePart(u, m)
		case irc.CmdPrivmsg, irc.CmdNotice:
			s.handlePrivmsg(u, m, cmd)
		case irc.CmdTopic:
			s.handleTopic(u, m)
		case irc.CmdMode:
			s.handleMode(u, m)
		case irc.CmdKick:
			s.handleKick(u, m)
		case irc.CmdInvite:
			s.handleInvite(u, m)
		default:
			s.numeric(u, irc.ErrUnknownCommand, cmd, "Unknown command")
		}
	}
	return !u.gone
}

func (s *Server) needMore(u *user, cmd string) {
	s.numeric(u, irc.ErrNeedMoreParams, cmd, "Not enough parameters")
}

func (s *Server) handlePass(u *user, m irc.Message) {
	if u.registered {
		s.numeric(u, irc.ErrAlreadyRegistred, "You may not reregister")
		return
	}
	if len(m.Params) == 0 {
		s.needMore(u, irc.CmdPass)
		return
	}
	if s.password != "" && m.Param(0) != s.password {
		u.logger.Warn("auth_failed", "reason", "password_mismatch")
		s.numeric(u, irc.ErrPasswdMismatch, "Password incorrect")
		return
	}
	u.authenticated = true
}

func (s *Server) handleNick(u *user, m irc.Message) {
	nick := m.Param(0)
	if nick == "" {
		s.numeric(u, irc.ErrNoNicknameGiven, "No nickname given")
		return
	}
	if !validNick(nick, s.maxNickLen) {
		s.numeric(u, irc.ErrErroneusNickname, nick, "Erroneous nickname")
		return
	}
	if other, ok := s.users[fold(nick)]; ok && other != u {
		s.numeric(u, irc.ErrNicknameInUse, nick, "Nickname is already in use")
		return
	}
	if u.nick != "" {
		delete(s.users, fold(u.nick))
	}
	if u.registered {
		line := relay(u, irc.CmdNick, nil, nick)
		s.send(u, line)
		for _, p := range u.peers() {
			s.send(p, line)
		}
	}
	u.nick = nick
	s.users[fold(nick)] = u
	s.tryRegister(u)
}

func (s *Server) handleUser(u *user, m irc.Message) {
	if u.registered {
		s.numeric(u, irc.ErrAlreadyRegistred, "You may not reregister")
		return
	}
	if len(m.Params) < 4 {
		s.needMore(u, irc.CmdUser)
		return
	}
	u.username = m.Param(0)
	u.realname = m.Param(3)
	s.tryRegister(u)
}

// tryRegister completes registration once the password was accepted and both
// NICK and USER have been seen, in either order.
func (s *Server) tryRegister(u *user) {
	if u.registered || u.nick == "" || u.username == "" {
		return
	}
	if s.password != "" && !u.authenticated {
		return
	}
	u.registered = true
	s.totalRegistered.Add(1)
	s.numeric(u, irc.RplWelcome, "Welcome to the "+s.name+" Network "+u.prefix())
	s.numeric(u, irc.RplYourHost, "Your host is "+s.name+", running version "+serverVersion)
	s.numeric(u, irc.RplCreated, "This server was created "+s.created.Format(time.RFC1123))
	s.numeric(u, irc.RplMyInfo, s.name, serverVersion, "o", "iklot")
	u.logger.Info("user_registered", "nick", u.nick, "username", u.username)
}

func (s *Server) handlePing(u *user, m irc.Message) {
	if len(m.Params) == 0 {
		s.needMore(u, irc.CmdPing)
		return
	}
	s.send(u, ":"+s.name+" PONG "+s.name+" :"+m.Last())
}

func (s *Server) handleQuit(u *user, m irc.Message) {
	reason := m.Param(0)
	if reason == "" {
		reason = "Client quit"
	}
	s.send(u, "ERROR :Closing Link: "+u.host+" ("+reason+")")
	s.quitLocked(u, reason)
}

func (s *Server) handleJoin(u *user, m irc.Message) {
	if len(m.Params) == 0 {
		s.needMore(u, irc.CmdJoin)
		return
	}
	if m.Param(0) == "0" {
		for _, c := range u.channels {
			s.toChannel(c, relay(u, irc.CmdPart, []string{c.name}, "Left all channels"), nil)
			s.removeMember(c, u)
		}
		return
	}
	names := strings.Split(m.Param(0), ",")
	var keys []string
	if k := m.Param(1); k != "" {
		keys = strings.Split(k, ",")
	}
	for i, name := range names {
		key := ""
		if i < len(keys) {
			key = keys[i]
		}
		s.joinOne(u, name, key)
	}
}

func (s *Server) joinOne(u *user, name, key string) {
	if !validChannel(name) {
		s.numeric(u, irc.ErrNoSuchChannel, name, "No such channel")
		return
	}
	c, ok := s.channels[fold(name)]
	if !ok {
		c = newChannel(name)
		s.channels[fold(name)] = c
		c.members[u] = true
	} else {
		if c.has(u) {
			return
		}
		if _, invited := c.invited[fold(u.nick)]; c.inviteOnly && !invited {
			s.numeric(u, irc.ErrInviteOnlyChan, c.name, "Cannot join channel (+i)")
			return
		}
		if c.key != "" && key != c.key {
			s.numeric(u, irc.ErrBadChannelKey, c.name, "Cannot join channel (+k)")
			return
		}
		if c.limit > 0 && len(c.members) >= c.limit {
			s.numeric(u, irc.ErrChannelIsFull, c.name, "Cannot join channel (+l)")
			return
		}
		c.members[u] = false
		delete(c.invited, fold(u.nick))
	}
	u.channels[fold(name)] = c
	s.toChannel(c, relay(u, irc.CmdJoin, nil, c.name), nil)
	if c.topic != "" {
		s.numeric(u, irc.RplTopic, c.name, c.topic)
	}
	s.numeric(u, irc.RplNamReply, "=", c.name, c.names())
	s.numeric(u, irc.RplEndOfNames, c.name, "End of /NAMES list")
}

func (s *Server) handlePart(u *user, m irc.Message) {
	if len(m.Params) == 0 {
		s.needMore(u, irc.CmdPart)
		return
	}
	reason := m.Param(1)
	for _, name := range strings.Split(m.Param(0), ",") {
		c, ok := s.channels[fold(name)]
		if !ok {
			s.numeric(u, irc.ErrNoSuchChannel, name, "No such channel")
			continue
		}
		if !c.has(u) {
			s.numeric(u, irc.ErrNotOnChannel, c.name, "You're not on that channel")
			continue
		}
		s.toChannel(c, relay(u, irc.CmdPart, []string{c.name}, reason), nil)
		s.removeMember(c, u)
	}
}

// handlePrivmsg serves PRIVMSG and NOTICE. Channel messages are never echoed
// to the sender. NOTICE produces no error replies.
func (s *Server) handlePrivmsg(u *user, m irc.Message, cmd string) {
	notice := cmd == irc.CmdNotice
	if len(m.Params) < 2 || m.Param(1) == "" {
		if !notice {
			s.needMore(u, cmd)
		}
		return
	}
	text := m.Param(1)
	for _, target := range strings.Split(m.Param(0), ",") {
		if irc.IsChannel(target) {
			c, ok := s.channels[fold(target)]
			switch {
			case !ok:
				if !notice {
					s.numeric(u, irc.ErrNoSuchChannel, target, "No such channel")
				}
			case !c.has(u):
				if !notice {
					s.numeric(u, irc.ErrCannotSendToChan, c.name, "Cannot send to channel")
				}
			default:
				s.toChannel(c, relay(u, cmd, []string{c.name}, text), u)
			}
			continue
		}
		t, ok := s.users[fold(target)]
		if !ok || !t.registered {
			if !notice {
				s.numeric(u, irc.ErrNoSuchNick, target, "No such nick/channel")
			}
			continue
		}
		s.send(t, relay(u, cmd, []string{t.nick}, text))
	}
}

func (s *Server) handleTopic(u *user, m irc.Message) {
	if len(m.Params) == 0 {
		s.needMore(u, irc.CmdTopic)
		return
	}
	c, ok := s.channels[fold(m.Param(0))]
	if !ok {
		s.numeric(u, irc.ErrNoSuchChannel, m.Param(0), "No such channel")
		return
	}
	if !c.has(u) {
		s.numeric(u, irc.ErrNotOnChannel, c.name, "You're not on that channel")
		return
	}
	if len(m.Params) == 1 {
		if c.topic == "" {
			s.numeric(u, irc.RplNoTopic, c.name, "No topic is set")
		} else {
			s.numeric(u, irc.RplTopic, c.name, c.topic)
		}
		return
	}
	if c.topicLocked && !c.isOp(u) {
		s.numeric(u, irc.ErrChanOPrivsNeeded, c.name, "You're not channel operator")
		return
	}
	c.topic = m.Param(1)
	s.toChannel(c, ":"+u.prefix()+" TOPIC "+c.name+" :"+c.topic+irc.CRLF, nil)
}

func (s *Server) handleMode(u *user, m irc.Message) {
	if len(m.Params) == 0 {
		s.needMore(u, irc.CmdMode)
		return
	}
	target := m.Param(0)
	if !irc.IsChannel(target) {
		if fold(target) != fold(u.nick) {
			s.numeric(u, irc.ErrUsersDontMatch, "Cannot change mode for other users")
			return
		}
		s.numeric(u, irc.RplUModeIs, "+")
		return
	}
	c, ok := s.channels[fold(target)]
	if !ok {
		s.numeric(u, irc.ErrNoSuchChannel, target, "No such channel")
		return
	}
	if len(m.Params) == 1 {
		s.numeric(u, irc.RplChannelModeIs, append([]string{c.name}, strings.Fields(c.modeString())...)...)
		return
	}
	if !c.has(u) {
		s.numeric(u, irc.ErrNotOnChannel, c.name, "You're not on that channel")
		return
	}
	if !c.isOp(u) {
		s.numeric(u, irc.ErrChanOPrivsNeeded, c.name, "You're not channel operator")
		return
	}
	applied, args := s.applyModes(u, c, m.Param(1), m.Params[2:])
	if applied == "" {
		return
	}
	s.toChannel(c, relay(u, irc.CmdMode, append([]string{c.name, applied}, args...), ""), nil)
}

// applyModes changes c according to the mode string and returns the mode
// changes actually made with their arguments.
func (s *Server) applyModes(u *user, c *channel, modes string, params []string) (string, []string) {
	var (
		out     strings.Builder
		outArgs []string
		adding  = true
		sign    byte
		next    int
	)
	record := func(ch byte, arg string) {
		want := byte('-')
		if adding {
			want = '+'
		}
		if sign != want {
			out.WriteByte(want)
			sign = want
		}
		out.WriteByte(ch)
		if arg != "" {
			outArgs = append(outArgs, arg)
		}
	}
	arg := func() (string, bool) {
		if next >= len(params) {
			return "", false
		}
		next++
		return params[next-1], true
	}
	for i := 0; i < len(modes); i++ {
		ch := modes[i]
		switch ch {
		case '+':
			adding = true
		case '-':
			adding = false
		case 'i':
			c.inviteOnly = adding
			record(ch, "")
		case 't':
			c.topicLocked = adding
			record(ch, "")
		case 'k':
			if !adding {
				_, _ = arg()
				c.key = ""
				record(ch, "")
				continue
			}
			k, ok := arg()
			if !ok || k == "" {
				s.needMore(u, irc.CmdMode)
				continue
			}
			c.key = k
			record(ch, k)
		case 'l':
			if !adding {
				c.limit = 0
				record(ch, "")
				continue
			}
			v, ok := arg()
			n, err := strconv.Atoi(v)
			if !ok || err != nil || n <= 0 {
				s.needMore(u, irc.CmdMode)
				continue
			}
			c.limit = n
			record(ch, v)
		case 'o':
			nick, ok := arg()
			if !ok {
				s.needMore(u, irc.CmdMode)
				continue
			}
			t, found := s.users[fold(nick)]
			if !found {
				s.numeric(u, irc.ErrNoSuchNick, nick, "No such nick/channel")
				continue
			}
			if !c.has(t) {
				s.numeric(u, irc.ErrUserNotInChannel, nick, c.name, "They aren't on that channel")
				continue
			}
			c.members[t] = adding
			record(ch, t.nick)
		default:
			s.numeric(u, irc.ErrUnknownMode, string(ch), "is unknown mode char to me")
		}
	}
	return out.String(), outArgs
}

func (s *Server) handleKick(u *user, m irc.Message) {
	if len(m.Params) < 2 {
		s.needMore(u, irc.CmdKick)
		return
	}
	c, ok := s.channels[fold(m.Param(0))]
	if !ok {
		s.numeric(u, irc.ErrNoSuchChannel, m.Param(0), "No such channel")
		return
	}
	if !c.has(u) {
		s.numeric(u, irc.ErrNotOnChannel, c.name, "You're not on that channel")
		return
	}
	if !c.isOp(u) {
		s.numeric(u, irc.ErrChanOPrivsNeeded, c.name, "You're not channel operator")
		return
	}
	t, ok := s.users[fold(m.Param(1))]
	if !ok || !c.has(t) {
		s.numeric(u, irc.ErrUserNotInChannel, m.Param(1), c.name, "They aren't on that channel")
		return
	}
	reason := m.Param(2)
	if reason == "" {
		reason = u.nick
	}
	s.toChannel(c, relay(u, irc.CmdKick, []string{c.name, t.nick}, reason), nil)
	s.removeMember(c, t)
}

func (s *Server) handleInvite(u *user, m irc.Message) {
	if len(m.Params) < 2 {
		s.needMore(u, irc.CmdInvite)
		return
	}
	nick, name := m.Param(0), m.Param(1)
	t, ok := s.users[fold(nick)]
	if !ok || !t.registered {
		s.numeric(u, irc.ErrNoSuchNick, nick, "No such nick/channel")
		return
	}
	c, ok := s.channels[fold(name)]
	if !ok {
		s.numeric(u, irc.ErrNoSuchChannel, name, "No such channel")
		return
	}
	if !c.has(u) {
		s.numeric(u, irc.ErrNotOnChannel, c.name, "You're not on that channel")
		return
	}
	if c.has(t) {
		s.numeric(u, irc.ErrUserOnChannel, t.nick, c.name, "is already on channel")
		return
	}
	if c.inviteOnly && !c.isOp(u) {
		s.numeric(u, irc.ErrChanOPrivsNeeded, c.name, "You're not channel operator")
		return
	}
	c.invited[fold(t.nick)] = struct{}{}
	s.numeric(u, irc.RplInviting, t.nick, c.name)
	s.send(t, relay(u, irc.CmdInvite, []string{t.nick}, c.name))
}
