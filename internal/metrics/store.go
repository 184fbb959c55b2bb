package metrics

import (
	"context"
	"time"

	"github.com/coursekit/admission/internal/store"
)

// instrumentedStore wraps a CounterStore and times every increment.
type instrumentedStore struct {
	inner store.CounterStore
	m     *ServerMetrics
}

// InstrumentStore decorates s so store latency shows up in
// admission_store_op_duration_seconds.
func (m *ServerMetrics) InstrumentStore(s store.CounterStore) store.CounterStore {
	return &instrumentedStore{inner: s, m: m}
}

func (s *instrumentedStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	start := time.Now()
	count, expiresAt, err := s.inner.Increment(ctx, key, window)
	s.m.ObserveStoreOpDuration(time.Since(start).Seconds())
	return count, expiresAt, err
}
