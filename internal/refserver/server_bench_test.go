package refserver

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
)

// startBenchServer launches the server on :0 for benchmarks.
func startBenchServer(b *testing.B) (*Server, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(WithListenAddr("127.0.0.1:0"))
	go func() { _ = srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case <-time.After(time.Second):
		b.Fatalf("server not ready")
	}
	return srv, cancel
}

func benchJoin(b *testing.B, addr, nick string) net.Conn {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		b.Fatalf("dial: %v", err)
	}
	if _, err := io.WriteString(conn, "NICK "+nick+"\r\nUSER "+nick+" 0 * :b\r\nJOIN #bench\r\n"); err != nil {
		b.Fatalf("register: %v", err)
	}
	r := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			b.Fatalf("await join: %v", err)
		}
		if strings.Contains(line, " 366 ") {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn
}

func BenchmarkChannelFanout(b *testing.B) {
	srv, cancel := startBenchServer(b)
	defer cancel()
	sender := benchJoin(b, srv.Addr(), "sender")
	defer sender.Close()
	for i := 0; i < 4; i++ {
		rc := benchJoin(b, srv.Addr(), "recv"+strconv.Itoa(i))
		defer rc.Close()
		go func() { _, _ = io.Copy(io.Discard, rc) }()
	}
	go func() { _, _ = io.Copy(io.Discard, sender) }()
	line := []byte("PRIVMSG #bench :" + strings.Repeat("X", 80) + "\r\n")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := sender.Write(line); err != nil {
			b.Fatalf("write: %v", err)
		}
	}
}

func TestNextLine(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("PING a\r\nPING b\nPART")
	for _, want := range []string{"PING a", "PING b"} {
		got, ok := nextLine(&b)
		if !ok || got != want {
			t.Fatalf("nextLine = %q,%v want %q", got, ok, want)
		}
	}
	if _, ok := nextLine(&b); ok {
		t.Fatalf("unterminated tail must stay buffered")
	}
	if b.String() != "PART" {
		t.Fatalf("remainder = %q", b.String())
	}
	b.Reset()
	b.WriteString(strings.Repeat("Z", 600) + "\r\n")
	got, _ := nextLine(&b)
	if len(got) != 510 {
		t.Fatalf("truncated len = %d, want 510", len(got))
	}
}
