package oracle

import (
	"fmt"
	"strings"
	"time"

	"github.com/kstaniek/ircprobe/internal/irc"
)

const (
	dccSend     = "\x01DCC SEND testfile.txt 2130706433 12345 1024\x01"
	dccChat     = "\x01DCC CHAT chat 2130706433 54321\x01"
	dccChanSend = "\x01DCC SEND file.txt 2130706433 12345 1024\x01"
	ctcpVersion = "\x01VERSION\x01"

	floodWindow = 3 * time.Second
)

func codes(c ...string) []string { return c }

// join sends JOIN and waits for the end of the names list.
func join(actor int, channel string, key ...string) Step {
	return Send(actor, irc.CmdJoin, append([]string{channel}, key...)...).Awaiting(irc.RplEndOfNames)
}

// mode sends MODE and waits for the change to be broadcast back.
func mode(actor int, channel string, modes ...string) Step {
	return Send(actor, irc.CmdMode, append([]string{channel}, modes...)...).Awaiting(irc.CmdMode)
}

func nicks(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func seq(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

// Table returns every scenario. p decides the not-joined channel replies.
func Table(p Policy) []Scenario {
	pair := []string{"user1", "user2"}
	one := []string{"testuser"}

	t := []Scenario{
		{
			Name:  "connect_notice",
			About: "server greets a fresh connection",
			Steps: []Step{
				Dial("probe"),
				Reply(0, codes(irc.CmdNotice)),
			},
		},
		{
			Name:  "auth_success",
			About: "PASS/NICK/USER yields 001 addressed to the nick",
			Steps: []Step{
				Dial("testuser"),
				Handshake(0),
				Reply(0, codes(irc.RplWelcome), "testuser").Containing("Welcome"),
			},
		},
		{
			Name:  "auth_wrong_password",
			About: "a bad password is answered with 464 and never welcomed",
			Steps: []Step{
				Dial("testuser"),
				HandshakeWith(0, "wrongpassword"),
				Reply(0, codes(irc.ErrPasswdMismatch)),
				NoReply(0, irc.RplWelcome),
			},
		},
		{
			Name:  "auth_missing_pass",
			About: "registration without PASS is never welcomed",
			Steps: []Step{
				Dial("testuser"),
				HandshakeNoPass(0),
				NoReply(0, irc.RplWelcome),
			},
		},
		{
			Name:  "nick_in_use",
			Nicks: one,
			Steps: []Step{
				Dial("testuser"),
				Handshake(1),
				Reply(1, codes(irc.ErrNicknameInUse), "", "testuser"),
			},
		},
		{
			Name:  "ping_pong",
			Nicks: one,
			Steps: []Step{Pong(0, "test123")},
		},
		{
			Name:  "join",
			Nicks: one,
			Steps: []Step{
				Send(0, irc.CmdJoin, "#test"),
				Relay(irc.CmdJoin, "#test", "", 0),
			},
		},
		{
			Name:  "join_multiple",
			Nicks: one,
			Steps: []Step{
				Send(0, irc.CmdJoin, "#test1"),
				Send(0, irc.CmdJoin, "#test2"),
				Send(0, irc.CmdJoin, "#test3"),
				Relay(irc.CmdJoin, "#test1", "", 0),
				Relay(irc.CmdJoin, "#test2", "", 0),
				Relay(irc.CmdJoin, "#test3", "", 0),
			},
		},
		{
			Name:  "join_key",
			About: "+k rejects a keyless JOIN with 475 and admits the right key",
			Nicks: pair,
			Steps: []Step{
				join(0, "#private"),
				mode(0, "#private", "+k", "secret123"),
				Send(1, irc.CmdJoin, "#private"),
				Reply(1, codes(irc.ErrBadChannelKey), "", "#private"),
				Send(1, irc.CmdJoin, "#private", "secret123"),
				Relay(irc.CmdJoin, "#private", "", 1),
			},
		},
		{
			Name:  "part",
			Nicks: one,
			Steps: []Step{
				join(0, "#test"),
				Send(0, irc.CmdPart, "#test", "Goodbye"),
				Relay(irc.CmdPart, "#test", "Goodbye", 0),
			},
		},
		{
			Name:  "topic_broadcast",
			Nicks: pair,
			Steps: []Step{
				join(0, "#topic-test"),
				join(1, "#topic-test"),
				Send(0, irc.CmdTopic, "#topic-test", "Welcome to our IRC channel!"),
				Relay(irc.CmdTopic, "#topic-test", "Welcome to our IRC channel!", 1),
			},
		},
		{
			Name:  "mode_invite_only",
			Nicks: pair,
			Steps: []Step{
				join(0, "#invite-only"),
				mode(0, "#invite-only", "+i"),
				Send(1, irc.CmdJoin, "#invite-only"),
				Reply(1, codes(irc.ErrInviteOnlyChan)),
			},
		},
		{
			Name:  "mode_topic_restricted",
			Nicks: pair,
			Steps: []Step{
				join(0, "#restricted"),
				join(1, "#restricted"),
				mode(0, "#restricted", "+t"),
				Send(1, irc.CmdTopic, "#restricted", "New topic by non-op"),
				Reply(1, codes(irc.ErrChanOPrivsNeeded)),
			},
		},
		{
			Name:  "mode_user_limit",
			Nicks: pair,
			Steps: []Step{
				join(0, "#limited"),
				mode(0, "#limited", "+l", "1"),
				Send(1, irc.CmdJoin, "#limited"),
				Reply(1, codes(irc.ErrChannelIsFull)),
			},
		},
		{
			Name:  "privmsg_user",
			Nicks: pair,
			Steps: []Step{
				Send(0, irc.CmdPrivmsg, "user2", "Hello user2!"),
				Relay(irc.CmdPrivmsg, "user2", "Hello user2!", 1),
			},
		},
		{
			Name:  "privmsg_channel",
			About: "channel text reaches other members and is not echoed",
			Nicks: pair,
			Steps: []Step{
				join(0, "#chat"),
				join(1, "#chat"),
				Send(0, irc.CmdPrivmsg, "#chat", "Hello everyone in #chat!"),
				Relay(irc.CmdPrivmsg, "#chat", "Hello everyone in #chat!", 1),
				NoEcho(0, irc.CmdPrivmsg, "#chat", "Hello everyone in #chat!"),
			},
		},
		{
			Name:  "privmsg_no_such_nick",
			Nicks: one,
			Steps: []Step{
				Send(0, irc.CmdPrivmsg, "nonexistent", "Hello?"),
				Reply(0, codes(irc.ErrNoSuchNick), "", "nonexistent"),
			},
		},
		{
			Name:  "privmsg_no_such_channel",
			About: "PRIVMSG to a channel nobody joined; judged by policy " + p.String(),
			Nicks: one,
			Steps: []Step{
				Send(0, irc.CmdPrivmsg, "#notjoined", "Hello?"),
				Reply(0, p.NotJoinedCodes(false)),
			},
		},
		{
			Name:  "privmsg_not_member",
			About: "PRIVMSG to an existing channel the sender is not on; judged by policy " + p.String(),
			Nicks: pair,
			Steps: []Step{
				join(0, "#members"),
				Send(1, irc.CmdPrivmsg, "#members", "Hello?"),
				Reply(1, p.NotJoinedCodes(true)),
				NoEcho(0, irc.CmdPrivmsg, "#members", "Hello?"),
			},
		},
		{
			Name:  "kick_broadcast",
			Nicks: pair,
			Steps: []Step{
				join(0, "#kick-test"),
				join(1, "#kick-test"),
				Send(0, irc.CmdKick, "#kick-test", "user2", "You have been kicked"),
				Relay(irc.CmdKick, "#kick-test", "You have been kicked", 1, 0),
			},
		},
		{
			Name:  "kick_requires_op",
			Nicks: pair,
			Steps: []Step{
				join(0, "#nokick"),
				join(1, "#nokick"),
				Send(1, irc.CmdKick, "#nokick", "user1", "Trying to kick"),
				Reply(1, codes(irc.ErrChanOPrivsNeeded)),
			},
		},
		{
			Name:  "invite",
			About: "INVITE confirms with 341, notifies the target and admits it to a +i channel",
			Nicks: pair,
			Steps: []Step{
				join(0, "#invite-test"),
				mode(0, "#invite-test", "+i"),
				Send(0, irc.CmdInvite, "user2", "#invite-test").Awaiting(irc.RplInviting),
				Relay(irc.CmdInvite, "user2", "#invite-test", 1),
				Send(1, irc.CmdJoin, "#invite-test"),
				Relay(irc.CmdJoin, "#invite-test", "", 1),
			},
		},
		{
			Name:  "invite_requires_membership",
			Nicks: []string{"user1", "user2", "user3"},
			Steps: []Step{
				join(0, "#noinvite"),
				mode(0, "#noinvite", "+i"),
				Send(1, irc.CmdInvite, "user3", "#noinvite"),
				Reply(1, codes(irc.ErrNotOnChannel, irc.ErrChanOPrivsNeeded)),
			},
		},
		{
			Name:  "channel_flood",
			About: "50 unthrottled messages, then the sender still gets PONG",
			Nicks: pair,
			Steps: []Step{
				join(0, "#flood"),
				join(1, "#flood"),
				Flood(0, "#flood", 50, "Flood message"),
				Relay(irc.CmdPrivmsg, "#flood", "Flood message", 1).Within(floodWindow),
				Pong(0, "stillalive").Within(floodWindow),
			},
		},
		largeBroadcast(),
		multiChannelFlood(),
		{
			Name:  "slow_client",
			About: "a member that never reads does not stall the others",
			Nicks: []string{"sender", "fast", "slow"},
			Steps: []Step{
				join(0, "#mixed"),
				join(1, "#mixed"),
				join(2, "#mixed"),
				Flood(0, "#mixed", 30, "Message"),
				Relay(irc.CmdPrivmsg, "#mixed", "Message", 1).Within(floodWindow),
				Pong(0, "check").Within(floodWindow),
			},
		},
		{
			Name:  "partial_command",
			About: "an unterminated line does not block other clients",
			Nicks: one,
			Steps: []Step{
				Raw(0, "JOIN #te"),
				Dial("testuser2"),
				Handshake(1),
				Reply(1, codes(irc.RplWelcome)),
			},
		},
		{
			Name:  "sudden_disconnect",
			Nicks: one,
			Steps: []Step{
				join(0, "#test"),
				Kill(0),
				Dial("testuser2"),
				Handshake(1),
				Reply(1, codes(irc.RplWelcome)),
			},
		},
		{
			Name:  "partial_command_then_kill",
			Nicks: one,
			Steps: []Step{
				Raw(0, "JOIN #partial"),
				Kill(0),
				Dial("testuser2"),
				Handshake(1),
				Reply(1, codes(irc.RplWelcome)),
			},
		},
		simultaneous(),
		{
			Name:  "oversize_line",
			About: "a 1000 byte PRIVMSG does not wedge the connection",
			Nicks: one,
			Steps: []Step{
				Send(0, irc.CmdPrivmsg, "#test", strings.Repeat("A", 1000)),
				Pong(0, "stillalive"),
			},
		},
		{
			Name:  "rapid_reconnect",
			About: "ten connect/drop cycles leave the server accepting",
			Steps: []Step{
				Cycle("test", 10, 20*time.Millisecond),
				Dial("finaltest"),
				Handshake(0),
				Reply(0, codes(irc.RplWelcome)),
			},
		},
		{
			Name:  "dcc_send",
			About: "CTCP DCC SEND is relayed verbatim as PRIVMSG",
			Nicks: pair,
			Steps: []Step{
				Send(0, irc.CmdPrivmsg, "user2", dccSend),
				Relay(irc.CmdPrivmsg, "user2", dccSend, 1),
			},
		},
		{
			Name:  "dcc_chat",
			Nicks: pair,
			Steps: []Step{
				Send(0, irc.CmdPrivmsg, "user2", dccChat),
				Relay(irc.CmdPrivmsg, "user2", dccChat, 1),
			},
		},
		{
			Name:  "dcc_channel",
			Nicks: pair,
			Steps: []Step{
				join(0, "#test"),
				join(1, "#test"),
				Send(0, irc.CmdPrivmsg, "#test", dccChanSend),
				Relay(irc.CmdPrivmsg, "#test", dccChanSend, 1),
			},
		},
		{
			Name:  "ctcp_version_self",
			Nicks: one,
			Steps: []Step{
				Send(0, irc.CmdPrivmsg, "testuser", ctcpVersion),
				Relay(irc.CmdPrivmsg, "testuser", ctcpVersion, 0),
			},
		},
	}
	return t
}

func largeBroadcast() Scenario {
	const n = 10
	steps := make([]Step, 0, n+2)
	for i := 0; i < n; i++ {
		steps = append(steps, join(i, "#large"))
	}
	steps = append(steps,
		Send(0, irc.CmdPrivmsg, "#large", "Broadcast to large channel"),
		Relay(irc.CmdPrivmsg, "#large", "Broadcast to large channel", seq(1, n)...).AtLeast(n-2),
	)
	return Scenario{
		Name:  "large_broadcast",
		About: "one message to a ten member channel reaches at least eight others",
		Nicks: nicks("user", n),
		Steps: steps,
	}
}

func multiChannelFlood() Scenario {
	channels := []string{"#chan1", "#chan2", "#chan3"}
	var steps []Step
	for _, c := range channels {
		steps = append(steps, join(0, c))
	}
	for i, c := range channels {
		steps = append(steps, join(i+1, c))
	}
	for _, c := range channels {
		steps = append(steps, Flood(0, c, 20, "Flood message to "+c))
	}
	steps = append(steps, Pong(0, "stillalive").Within(floodWindow))
	for i, c := range channels {
		steps = append(steps, Relay(irc.CmdPrivmsg, c, "Flood message to "+c, i+1).Within(floodWindow))
	}
	return Scenario{
		Name:  "multi_channel_flood",
		Nicks: append([]string{"flooder"}, nicks("receiver", len(channels))...),
		Steps: steps,
	}
}

func simultaneous() Scenario {
	const n = 5
	steps := make([]Step, 0, n+2)
	for i := 0; i < n; i++ {
		steps = append(steps, join(i, "#multi"))
	}
	steps = append(steps,
		Send(0, irc.CmdPrivmsg, "#multi", "Testing multiple connections"),
		Relay(irc.CmdPrivmsg, "#multi", "Testing multiple connections", seq(1, n)...),
	)
	return Scenario{
		Name:  "simultaneous_connections",
		Nicks: nicks("user", n),
		Steps: steps,
	}
}
