package ratelimit

import "time"

// Decision is the limiter's answer for one call. Denials are normal
// decisions, not errors.
type Decision struct {
	// Allowed reports whether the call may proceed.
	Allowed bool

	// Limit echoes the configured request budget.
	Limit int64

	// Remaining is the budget left in the current window, never negative.
	Remaining int64

	// Current is the count observed for this window including this call.
	// Zero when the call was unmetered.
	Current int64

	// Reset is the moment the current window ends. Zero when unmetered.
	Reset time.Time

	// RetryAfter is a lower bound on the wait before a retry can
	// succeed. Set only on denial; always within [1s, window].
	RetryAfter time.Duration

	// Unmetered marks calls admitted without touching a counter: no
	// resolvable identity under the allow policy, or a store outage
	// under fail-open.
	Unmetered bool
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the
// Retry-After header and denial payloads.
func (d Decision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int64((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
