package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/coursekit/admission/internal/clock"
	"github.com/coursekit/admission/internal/log"
	"github.com/coursekit/admission/internal/store"
)

// FailMode decides what happens when the counter store is unreachable.
type FailMode int

const (
	// FailOpen admits the call unmetered and records a diagnostic.
	// Favors availability over abuse protection.
	FailOpen FailMode = iota
	// FailClosed denies the call. Favors abuse protection.
	FailClosed
)

func ParseFailMode(s string) (FailMode, error) {
	switch s {
	case "open":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	default:
		return 0, fmt.Errorf("unknown fail mode %q (valid: open|closed)", s)
	}
}

// UnidentifiedPolicy decides what happens when no identifier resolves.
type UnidentifiedPolicy int

const (
	// UnidentifiedAllow admits the call without metering.
	UnidentifiedAllow UnidentifiedPolicy = iota
	// UnidentifiedDeny rejects calls that carry no identity.
	UnidentifiedDeny
)

func ParseUnidentifiedPolicy(s string) (UnidentifiedPolicy, error) {
	switch s {
	case "allow":
		return UnidentifiedAllow, nil
	case "deny":
		return UnidentifiedDeny, nil
	default:
		return 0, fmt.Errorf("unknown unidentified policy %q (valid: allow|deny)", s)
	}
}

// Limiter answers "is this call allowed" against a shared counter store.
// Safe for concurrent use; all mutable state lives in the store.
type Limiter struct {
	store        store.CounterStore
	clk          clock.Clock
	logger       log.Logger
	failMode     FailMode
	unidentified UnidentifiedPolicy

	// storeTimeout bounds each increment so a slow store resolves via
	// the fail policy instead of blocking the caller.
	storeTimeout time.Duration

	// OnDenied is called on every quota denial, keyed by the operation
	// prefix. Used for prometheus counters.
	onDenied func(keyPrefix string)

	// onStoreError is called when an increment fails or times out.
	onStoreError func(keyPrefix string, err error)
}

type Option func(*Limiter)

func WithFailMode(m FailMode) Option {
	return func(l *Limiter) { l.failMode = m }
}

func WithUnidentifiedPolicy(p UnidentifiedPolicy) Option {
	return func(l *Limiter) { l.unidentified = p }
}

func WithStoreTimeout(d time.Duration) Option {
	return func(l *Limiter) { l.storeTimeout = d }
}

func WithLimiterClock(clk clock.Clock) Option {
	return func(l *Limiter) { l.clk = clk }
}

func WithLogger(lg log.Logger) Option {
	return func(l *Limiter) { l.logger = lg }
}

// WithOnDenied sets a callback fired on every quota denial.
func WithOnDenied(fn func(keyPrefix string)) Option {
	return func(l *Limiter) { l.onDenied = fn }
}

// WithOnStoreError sets a callback fired when the store errors out.
func WithOnStoreError(fn func(keyPrefix string, err error)) Option {
	return func(l *Limiter) { l.onStoreError = fn }
}

func New(s store.CounterStore, opts ...Option) *Limiter {
	l := &Limiter{
		store:        s,
		clk:          clock.System{},
		logger:       log.Nop(),
		failMode:     FailOpen,
		unidentified: UnidentifiedAllow,
		storeTimeout: 250 * time.Millisecond,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Check evaluates cfg for the caller in ctx. cfg must already be
// validated; Check never returns an error because every expected
// condition (quota exceeded, no identity, store outage) maps to a
// Decision via policy.
func (l *Limiter) Check(ctx context.Context, cfg Config) Decision {
	id, ok := cfg.strategy().Resolve(ctx)
	if !ok {
		if l.unidentified == UnidentifiedDeny {
			l.logger.Debug(ctx, "denying unidentified call", "key_prefix", cfg.KeyPrefix)
			return l.deny(cfg, 0, l.clk.Now())
		}
		return Decision{
			Allowed:   true,
			Unmetered: true,
			Limit:     cfg.Requests,
			Remaining: cfg.Requests,
		}
	}

	now := l.clk.Now()
	windowID := now.Unix() / cfg.windowSeconds()
	key := buildKey(cfg.KeyPrefix, id, windowID)

	sctx := ctx
	if l.storeTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, l.storeTimeout)
		defer cancel()
	}

	count, expiresAt, err := l.store.Increment(sctx, key, cfg.Window)
	if err != nil {
		if l.onStoreError != nil {
			l.onStoreError(cfg.KeyPrefix, err)
		}
		if l.failMode == FailClosed {
			l.logger.Warn(ctx, "counter store unavailable, failing closed",
				"key_prefix", cfg.KeyPrefix, "error", err.Error())
			return l.deny(cfg, 0, now)
		}
		l.logger.Warn(ctx, "counter store unavailable, admitting unmetered",
			"key_prefix", cfg.KeyPrefix, "error", err.Error())
		return Decision{
			Allowed:   true,
			Unmetered: true,
			Limit:     cfg.Requests,
			Remaining: cfg.Requests,
		}
	}

	remaining := cfg.Requests - count
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:   count <= cfg.Requests,
		Limit:     cfg.Requests,
		Remaining: remaining,
		Current:   count,
		Reset:     expiresAt,
	}
	if !d.Allowed {
		d.RetryAfter = clampRetryAfter(expiresAt.Sub(now), cfg.Window)
		if l.onDenied != nil {
			l.onDenied(cfg.KeyPrefix)
		}
	}
	return d
}

// deny builds the denial used when no counter was consulted (store down
// under fail-closed, or unidentified under deny). Reset is derived from
// local window arithmetic so retry guidance stays meaningful.
func (l *Limiter) deny(cfg Config, count int64, now time.Time) Decision {
	reset := time.Unix((now.Unix()/cfg.windowSeconds()+1)*cfg.windowSeconds(), 0)
	return Decision{
		Allowed:    false,
		Limit:      cfg.Requests,
		Remaining:  0,
		Current:    count,
		Reset:      reset,
		RetryAfter: clampRetryAfter(reset.Sub(now), cfg.Window),
	}
}

// clampRetryAfter keeps retry guidance within [1s, window].
func clampRetryAfter(d, window time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	if d > window {
		return window
	}
	return d
}
