package ratelimit

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantSub string
	}{
		{"valid", Config{Requests: 100, Window: time.Minute, KeyPrefix: "op"}, ""},
		{"zero requests", Config{Requests: 0, Window: time.Minute, KeyPrefix: "op"}, "requests"},
		{"negative requests", Config{Requests: -1, Window: time.Minute, KeyPrefix: "op"}, "requests"},
		{"sub-second window", Config{Requests: 1, Window: 500 * time.Millisecond, KeyPrefix: "op"}, "window"},
		{"fractional window", Config{Requests: 1, Window: 1500 * time.Millisecond, KeyPrefix: "op"}, "whole seconds"},
		{"missing prefix", Config{Requests: 1, Window: time.Second}, "prefix"},
		{"prefix with separator", Config{Requests: 1, Window: time.Second, KeyPrefix: "a:b"}, "must not contain"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.Validate()
			if c.wantSub == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), c.wantSub) {
				t.Fatalf("error %v should mention %q", err, c.wantSub)
			}
		})
	}
}

func TestBuildKey(t *testing.T) {
	if got := buildKey("op", "user:u1", 42); got != "op:user:u1:42" {
		t.Errorf("buildKey = %q", got)
	}
	// same pair, different windows -> different keys
	if buildKey("op", "user:u1", 1) == buildKey("op", "user:u1", 2) {
		t.Error("window id must differentiate keys")
	}
	// different pairs never collide
	if buildKey("a", "x", 1) == buildKey("b", "x", 1) {
		t.Error("prefix must differentiate keys")
	}
}

func TestParseStrategy(t *testing.T) {
	for _, name := range []string{"", "default", "user", "org", "ip"} {
		if _, err := ParseStrategy(name); err != nil {
			t.Errorf("ParseStrategy(%q): %v", name, err)
		}
	}
	if _, err := ParseStrategy("session"); err == nil {
		t.Error("unknown strategy should be rejected")
	}
}

func TestParseFailMode(t *testing.T) {
	if m, err := ParseFailMode("open"); err != nil || m != FailOpen {
		t.Errorf("open: %v, %v", m, err)
	}
	if m, err := ParseFailMode("closed"); err != nil || m != FailClosed {
		t.Errorf("closed: %v, %v", m, err)
	}
	if _, err := ParseFailMode("half"); err == nil {
		t.Error("invalid mode should be rejected")
	}
}

func TestParseUnidentifiedPolicy(t *testing.T) {
	if p, err := ParseUnidentifiedPolicy("allow"); err != nil || p != UnidentifiedAllow {
		t.Errorf("allow: %v, %v", p, err)
	}
	if p, err := ParseUnidentifiedPolicy("deny"); err != nil || p != UnidentifiedDeny {
		t.Errorf("deny: %v, %v", p, err)
	}
	if _, err := ParseUnidentifiedPolicy("meter"); err == nil {
		t.Error("invalid policy should be rejected")
	}
}
