package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestSetupJSONInstallsGlobal(t *testing.T) {
	prev := L()
	defer Set(prev)
	var buf bytes.Buffer
	l := Setup("ircprobe", "json", "info", &buf)
	if L() != l {
		t.Fatalf("expected Setup to install logger globally")
	}
	L().Debug("hidden")
	L().Info("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked at info level: %s", out)
	}
	if !strings.Contains(out, `"app":"ircprobe"`) || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected json output: %s", out)
	}
}

func TestSetNilKeepsLogger(t *testing.T) {
	prev := L()
	Set(nil)
	if L() != prev {
		t.Fatalf("Set(nil) replaced logger")
	}
}
