package main

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/kstaniek/ircprobe/internal/compose"
	"github.com/kstaniek/ircprobe/internal/config"
	"github.com/kstaniek/ircprobe/internal/irc"
	"github.com/kstaniek/ircprobe/internal/refserver"
	"github.com/kstaniek/ircprobe/internal/session"
)

func TestUsageErrors(t *testing.T) {
	cases := [][]string{
		{},
		{"#c"},
		{"chan", "10"},
		{"#c", "ten"},
		{"#c", "-1"},
		{"-sessions", "0", "#c", "1"},
	}
	for _, args := range cases {
		var errOut bytes.Buffer
		if code := run(context.Background(), args, io.Discard, &errOut); code != 2 {
			t.Fatalf("%v: expected exit 2, got %d (%s)", args, code, errOut.String())
		}
	}
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	if code := run(context.Background(), []string{"-version"}, &out, io.Discard); code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.HasPrefix(out.String(), "ircflood ") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestNicks(t *testing.T) {
	o := &options{nick: "flooder", sessions: 3}
	got := strings.Join(o.nicks(), ",")
	if got != "flooder,flooder1,flooder2" {
		t.Fatalf("nicks = %s", got)
	}
}

// watch starts a reference server and joins a watcher to channel.
func watch(t *testing.T, channel string) (*session.Session, []string) {
	t.Helper()
	srv, stop, err := refserver.Start(context.Background(),
		refserver.WithListenAddr("127.0.0.1:0"), refserver.WithPassword("pw"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(stop)
	cfg := config.Default()
	cfg.Host, cfg.Port = srv.HostPort()
	cfg.Password = "pw"
	w, err := compose.New(cfg).Single(context.Background(), "watcher")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Teardown("") })
	if err := w.Join(channel); err != nil {
		t.Fatal(err)
	}
	if _, ok := w.WaitForReply(irc.RplEndOfNames, 2*time.Second); !ok {
		t.Fatal("watcher join not confirmed")
	}
	return w, []string{"-host", cfg.Host, "-port", strconv.Itoa(cfg.Port), "-password", "pw", "-log-level", "error"}
}

func countFlood(w *session.Session, want int) int {
	got := 0
	for got < want {
		if _, ok := w.WaitFor(2*time.Second, func(m irc.Message) bool {
			return m.Command == irc.CmdPrivmsg && strings.HasPrefix(m.Nick(), "flooder")
		}); !ok {
			break
		}
		got++
	}
	return got
}

func TestFloodChannel(t *testing.T) {
	w, args := watch(t, "#42tokyo")
	args = append(args, "#42tokyo", "30")
	if code := run(context.Background(), args, io.Discard, io.Discard); code != 0 {
		t.Fatalf("exit %d", code)
	}
	if got := countFlood(w, 30); got != 30 {
		t.Fatalf("watcher saw %d of 30 messages", got)
	}
}

func TestFloodParallelAsync(t *testing.T) {
	w, args := watch(t, "#load")
	args = append(args, "-sessions", "2", "-async-buffer", "4", "#load", "25")
	if code := run(context.Background(), args, io.Discard, io.Discard); code != 0 {
		t.Fatalf("exit %d", code)
	}
	if got := countFlood(w, 50); got != 50 {
		t.Fatalf("watcher saw %d of 50 messages", got)
	}
}

func TestFloodUser(t *testing.T) {
	w, args := watch(t, "#unused")
	args = append(args, "-to-user", "-liveness=false", w.Nickname(), "5")
	if code := run(context.Background(), args, io.Discard, io.Discard); code != 0 {
		t.Fatalf("exit %d", code)
	}
	if got := countFlood(w, 5); got != 5 {
		t.Fatalf("watcher saw %d of 5 messages", got)
	}
}

func TestFloodUnreachable(t *testing.T) {
	args := []string{"-host", "127.0.0.1", "-port", "1", "-timeout", "200ms", "-log-level", "error", "#c", "1"}
	if code := run(context.Background(), args, io.Discard, io.Discard); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}
