package irc

import (
	"reflect"
	"strings"
	"testing"
)

// FuzzDecodeTotal ensures the decoder never panics and that anything it
// decodes with a command survives an encode/decode cycle.
func FuzzDecodeTotal(f *testing.F) {
	for _, s := range []string{
		"PASS secret",
		":nick!user@host JOIN :#chan",
		":srv 001 me :Welcome",
		"",
		":",
		"   :x",
		"PRIVMSG #a ::)",
	} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		m := Decode(raw)
		if !m.Valid() || strings.HasPrefix(m.Command, ":") || strings.ContainsAny(raw, "\r\n") {
			return
		}
		back := Decode(Encode(m.Command, m.Params...))
		if back.Command != m.Command || !reflect.DeepEqual(back.Params, m.Params) {
			t.Fatalf("round trip mismatch: %q -> %+v -> %+v", raw, m, back)
		}
	})
}
