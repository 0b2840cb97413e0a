package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

func TestListScenarios(t *testing.T) {
	var out bytes.Buffer
	if code := run(context.Background(), []string{"-list", "-run", "^dcc_"}, &out, io.Discard); code != 0 {
		t.Fatalf("exit %d", code)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 dcc scenarios, got %q", lines)
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "dcc_") {
			t.Fatalf("unexpected line %q", l)
		}
	}
}

func TestUsageErrors(t *testing.T) {
	cases := [][]string{
		{"-run", "("},
		{"-policy", "loose"},
		{"-run", "^nothing$"},
		{"extra"},
	}
	for _, args := range cases {
		var errOut bytes.Buffer
		if code := run(context.Background(), args, io.Discard, &errOut); code != 2 {
			t.Fatalf("%v: expected exit 2, got %d (%s)", args, code, errOut.String())
		}
	}
}

func TestSelfProbe(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), []string{"-self", "-run", "^(ping_pong|privmsg_channel|channel_flood)$", "-log-level", "error"}, &out, io.Discard)
	if code != 0 {
		t.Fatalf("exit %d:\n%s", code, out.String())
	}
	if !strings.Contains(out.String(), "3 passed, 0 failed, 0 fixture") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}
}

func TestUnreachableServer(t *testing.T) {
	code := run(context.Background(), []string{"-host", "127.0.0.1", "-port", "1", "-timeout", "200ms", "-run", "^ping_pong$", "-log-level", "error"}, io.Discard, io.Discard)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}
