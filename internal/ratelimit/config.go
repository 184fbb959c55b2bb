package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the immutable per-operation limit. Only serializable data
// plus a named Strategy; behavior never hides inside it.
type Config struct {
	// Requests is the maximum number of calls admitted per window.
	Requests int64

	// Window is the fixed window length. Whole seconds only; window ids
	// and the Retry-After header are second-granular.
	Window time.Duration

	// KeyPrefix namespaces this operation's counters. Must not contain
	// the key separator.
	KeyPrefix string

	// Strategy scopes the quota (nil means StrategyDefault).
	Strategy Strategy
}

// Validate rejects bad configs at setup so they never reach per-request
// evaluation.
func (c Config) Validate() error {
	var errs []error
	if c.Requests <= 0 {
		errs = append(errs, fmt.Errorf("requests must be > 0 (got %d)", c.Requests))
	}
	if c.Window < time.Second {
		errs = append(errs, fmt.Errorf("window must be >= 1s (got %v)", c.Window))
	} else if c.Window%time.Second != 0 {
		errs = append(errs, fmt.Errorf("window must be whole seconds (got %v)", c.Window))
	}
	if c.KeyPrefix == "" {
		errs = append(errs, errors.New("key prefix is required"))
	} else if strings.Contains(c.KeyPrefix, keySep) {
		errs = append(errs, fmt.Errorf("key prefix %q must not contain %q", c.KeyPrefix, keySep))
	}
	return errors.Join(errs...)
}

func (c Config) strategy() Strategy {
	if c.Strategy != nil {
		return c.Strategy
	}
	return StrategyDefault
}

// windowSeconds is used for window ids and denial payloads.
func (c Config) windowSeconds() int64 { return int64(c.Window / time.Second) }
