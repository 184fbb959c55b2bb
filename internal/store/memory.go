package store

import (
	"context"
	"sync"
	"time"

	"github.com/coursekit/admission/internal/clock"
)

// entry is one window counter. Replaced wholesale when its window ends.
type entry struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is a process-local CounterStore backed by a map with lazy
// expiry on read and a background sweep so idle keys don't accumulate.
// State is local to the process, so limits are per-instance; use the
// Redis backend when a fleet must share one budget.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry

	clk           clock.Clock
	sweepInterval time.Duration
}

type MemoryOption func(*MemoryStore)

// WithClock injects a time source, used by tests to cross window
// boundaries deterministically.
func WithClock(clk clock.Clock) MemoryOption {
	return func(s *MemoryStore) { s.clk = clk }
}

// WithSweepInterval controls how often the background sweep evicts
// expired entries. Zero disables the sweep goroutine entirely; lazy
// expiry on read still applies.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.sweepInterval = d }
}

// NewMemory creates a MemoryStore and, unless disabled, starts the sweep
// goroutine. The goroutine stops when ctx is cancelled.
func NewMemory(ctx context.Context, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:       make(map[string]*entry),
		clk:           clock.System{},
		sweepInterval: time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	if s.sweepInterval > 0 {
		go s.sweep(ctx)
	}
	return s
}

// windowEnd returns the end of the fixed window containing now.
// Computed from Unix seconds, not time.Truncate, so boundaries match
// the epoch-aligned window ids used in counter keys for any window
// length.
func windowEnd(now time.Time, window time.Duration) time.Time {
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return time.Unix((now.Unix()/secs+1)*secs, 0)
}

func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}
	now := s.clk.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		e = &entry{expiresAt: windowEnd(now, window)}
		s.entries[key] = e
	}
	e.count++
	return e.count, e.expiresAt, nil
}

// Len reports live (non-expired) entries. Exposed for tests and the
// admin surface.
func (s *MemoryStore) Len() int {
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// sweep periodically drops expired entries so the map does not grow
// unbounded under high identifier cardinality.
func (s *MemoryStore) sweep(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.clk.Now()
			s.mu.Lock()
			for k, e := range s.entries {
				if !now.Before(e.expiresAt) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}
