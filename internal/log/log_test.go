package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/coursekit/admission/internal/xerrors"
)

func newTestLogger(t *testing.T, lvl slog.Level) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(Options{App: "test", Level: lvl, JsonFormat: true, Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &buf
}

// lastLine decodes the final JSON record written to buf.
func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("unmarshal log line: %v\n%s", err, buf.String())
	}
	return m
}

func TestInfo_WritesMessageAndApp(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)
	l.Info(context.Background(), "server listening", "addr", ":8080")

	m := lastLine(t, buf)
	if m["msg"] != "server listening" {
		t.Errorf("msg = %v", m["msg"])
	}
	if m["app"] != "test" {
		t.Errorf("app = %v", m["app"])
	}
	if m["addr"] != ":8080" {
		t.Errorf("addr = %v", m["addr"])
	}
}

func TestDebug_SuppressedAtInfoLevel(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)
	l.Debug(context.Background(), "noisy detail")
	if buf.Len() != 0 {
		t.Errorf("debug record should be suppressed, got %q", buf.String())
	}
}

func TestWith_AccumulatesAttrs(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)
	l2 := l.With("component", "limiter").With("backend", "redis")
	l2.Info(context.Background(), "check")

	m := lastLine(t, buf)
	if m["component"] != "limiter" || m["backend"] != "redis" {
		t.Errorf("missing accumulated attrs: %v", m)
	}

	// original logger unchanged
	buf.Reset()
	l.Info(context.Background(), "plain")
	m = lastLine(t, buf)
	if _, ok := m["component"]; ok {
		t.Error("With should not mutate the receiver")
	}
}

func TestError_EmitsChain(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)
	base := errors.New("dial tcp: refused")
	err := xerrors.Wrap(base, "redis increment")
	l.Error(context.Background(), err, "store unavailable")

	m := lastLine(t, buf)
	if m["msg"] != "store unavailable" {
		t.Errorf("msg = %v", m["msg"])
	}
	chain, ok := m["error_chain"].([]any)
	if !ok || len(chain) != 2 {
		t.Fatalf("error_chain = %v, want 2 entries", m["error_chain"])
	}
	if chain[1] != "dial tcp: refused" {
		t.Errorf("root cause = %v", chain[1])
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{" warn ", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("ParseLevel(%q) = %v, %v", c.in, got, err)
		}
		if !c.ok && err == nil {
			t.Errorf("ParseLevel(%q) should fail", c.in)
		}
	}
}

func TestFromContext_Fallback(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext should never return nil")
	}

	l, _ := newTestLogger(t, slog.LevelInfo)
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("FromContext should return the stored logger")
	}
}
