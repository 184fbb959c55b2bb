// Package store provides the shared window counter behind the rate
// limiter. The only write path is Increment; no caller may
// read-modify-write a counter directly.
package store

import (
	"context"
	"time"
)

// CounterStore is an atomic, self-expiring counter keyed by window key.
//
// Increment adds one to the counter under key and returns the new count
// together with the moment the counter's window ends. Concurrent
// increments of the same key observe a gap-free sequence. An entry not
// touched for its window duration becomes logically absent.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, expiresAt time.Time, err error)
}
