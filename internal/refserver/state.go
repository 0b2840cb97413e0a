package refserver

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/kstaniek/ircprobe/internal/hub"
	"github.com/kstaniek/ircprobe/internal/irc"
)

type user struct {
	id       uint64
	cl       *hub.Client
	host     string
	logger   *slog.Logger
	nick     string
	username string
	realname string

	authenticated bool
	registered    bool
	gone          bool
	channels      map[string]*channel
}

func newUser(id uint64, cl *hub.Client, host string, logger *slog.Logger) *user {
	return &user{id: id, cl: cl, host: host, logger: logger, channels: make(map[string]*channel)}
}

func (u *user) prefix() string { return u.nick + "!" + u.username + "@" + u.host }

// target is the first parameter of numerics addressed to u.
func (u *user) target() string {
	if u.nick == "" {
		return "*"
	}
	return u.nick
}

type channel struct {
	name    string
	topic   string
	members map[*user]bool // value reports operator status
	invited map[string]struct{}

	inviteOnly  bool
	topicLocked bool
	key         string
	limit       int
}

func newChannel(name string) *channel {
	return &channel{name: name, members: make(map[*user]bool), invited: make(map[string]struct{})}
}

func (c *channel) isOp(u *user) bool { return c.members[u] }

func (c *channel) has(u *user) bool { _, ok := c.members[u]; return ok }

func (c *channel) modeString() string {
	var b strings.Builder
	b.WriteByte('+')
	var args []string
	if c.inviteOnly {
		b.WriteByte('i')
	}
	if c.topicLocked {
		b.WriteByte('t')
	}
	if c.key != "" {
		b.WriteByte('k')
		args = append(args, c.key)
	}
	if c.limit > 0 {
		b.WriteByte('l')
		args = append(args, strconv.Itoa(c.limit))
	}
	return strings.TrimSpace(b.String() + " " + strings.Join(args, " "))
}

// names lists members for RPL_NAMREPLY, operators marked with '@'.
func (c *channel) names() string {
	out := make([]string, 0, len(c.members))
	for m, op := range c.members {
		if op {
			out = append(out, "@"+m.nick)
		} else {
			out = append(out, m.nick)
		}
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}

// fold maps nicknames and channel names to registry keys.
func fold(s string) string { return strings.ToLower(s) }

func validNick(n string, maxLen int) bool {
	if n == "" || len(n) > maxLen {
		return false
	}
	c := n[0]
	if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
		return false
	}
	for i := 1; i < len(n); i++ {
		c := n[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("-[]\\`^{}_|", c) >= 0:
		default:
			return false
		}
	}
	return true
}

func validChannel(n string) bool {
	if !irc.IsChannel(n) || len(n) > 200 {
		return false
	}
	return !strings.ContainsAny(n, " ,\x07")
}

// send queues line for u. Output to a user that already left is discarded.
func (s *Server) send(u *user, line string) {
	if u.gone {
		return
	}
	s.Hub.Send(u.cl, irc.Terminate(line))
}

// numeric sends a server-prefixed reply whose first parameter is u's target.
func (s *Server) numeric(u *user, code string, params ...string) {
	s.send(u, ":"+s.name+" "+irc.Encode(code, append([]string{u.target()}, params...)...))
}

// relay formats a line originating from u. text, when non-empty, is always
// sent as the trailing parameter.
func relay(from *user, cmd string, args []string, text string) string {
	line := ":" + from.prefix() + " " + cmd
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	if text != "" {
		line += " :" + text
	}
	return line + irc.CRLF
}

// toChannel delivers line to every member of c except skip (may be nil).
func (s *Server) toChannel(c *channel, line string, skip *user) {
	to := make([]*hub.Client, 0, len(c.members))
	for m := range c.members {
		if m == skip || m.gone {
			continue
		}
		to = append(to, m.cl)
	}
	s.Hub.Deliver(line, to...)
}

// peers returns every user sharing at least one channel with u, u excluded.
func (u *user) peers() []*user {
	seen := make(map[*user]struct{})
	var out []*user
	for _, c := range u.channels {
		for m := range c.members {
			if m == u {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// removeMember drops u from c and deletes c when it becomes empty.
func (s *Server) removeMember(c *channel, u *user) {
	delete(c.members, u)
	delete(u.channels, fold(c.name))
	if len(c.members) == 0 {
		delete(s.channels, fold(c.name))
	}
}

// disconnect removes u from the registry, tells channel peers it quit and
// closes its outbound queue. Safe to call more than once.
func (s *Server) disconnect(u *user, reason string) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.quitLocked(u, reason)
}

func (s *Server) quitLocked(u *user, reason string) {
	if u.gone {
		return
	}
	if u.registered {
		line := relay(u, irc.CmdQuit, nil, reason)
		var to []*hub.Client
		for _, p := range u.peers() {
			to = append(to, p.cl)
		}
		s.Hub.Deliver(line, to...)
	}
	for _, c := range u.channels {
		s.removeMember(c, u)
	}
	if u.nick != "" && s.users[fold(u.nick)] == u {
		delete(s.users, fold(u.nick))
	}
	u.gone = true
	u.cl.Close()
	u.logger.Debug("user_quit", "nick", u.nick, "reason", reason)
}
