package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/kstaniek/ircprobe/internal/compose"
	"github.com/kstaniek/ircprobe/internal/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func TestVersionFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"-version"}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	if !strings.HasPrefix(out.String(), "ircrefd dev") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestBadFlagsExitTwo(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"-hub-policy", "block"}, &out, &errOut); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if code := run(context.Background(), []string{"-no-such-flag"}, &out, &errOut); code != 2 {
		t.Fatalf("expected exit 2 for unknown flag, got %d", code)
	}
}

func TestServesUntilCancelled(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		done <- run(ctx, []string{"-listen", "127.0.0.1:" + strconv.Itoa(port), "-password", "pw", "-log-level", "error"}, io.Discard, io.Discard)
	}()

	cfg := config.Default()
	cfg.Host, cfg.Port, cfg.Password = "127.0.0.1", port, "pw"
	cfg.ReplyTimeout = time.Second
	comp := compose.New(cfg)
	wctx, wcancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer wcancel()
	if err := comp.WaitForServer(wctx); err != nil {
		cancel()
		t.Fatalf("server never came up: %v", err)
	}
	s, err := comp.Single(context.Background(), "probe")
	if err != nil {
		cancel()
		t.Fatalf("register: %v", err)
	}
	s.Teardown("done")

	cancel()
	select {
	case code := <-done:
		if code != 0 {
			t.Fatalf("exit %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
