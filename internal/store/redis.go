package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coursekit/admission/internal/clock"
	"github.com/coursekit/admission/internal/xerrors"
)

// RedisStore is a CounterStore shared across every instance of the
// service. INCR and EXPIREAT run in one transactional pipeline, so
// concurrent increments of the same key are serialized by Redis and the
// key expires exactly at the window boundary.
type RedisStore struct {
	client *redis.Client
	prefix string
	clk    clock.Clock
}

type RedisOption func(*RedisStore)

// WithPrefix namespaces all counter keys (default "adm:").
func WithPrefix(p string) RedisOption {
	return func(s *RedisStore) { s.prefix = p }
}

// WithRedisClock injects a time source for tests.
func WithRedisClock(clk clock.Clock) RedisOption {
	return func(s *RedisStore) { s.clk = clk }
}

// NewRedis verifies connectivity with a ping and returns the store.
func NewRedis(client *redis.Client, opts ...RedisOption) (*RedisStore, error) {
	s := &RedisStore{
		client: client,
		prefix: "adm:",
		clk:    clock.System{},
	}
	for _, o := range opts {
		o(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, xerrors.Wrap(err, "redis ping")
	}
	return s, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := s.clk.Now()
	expiresAt := windowEnd(now, window)

	// EXPIREAT on every increment is idempotent and repairs a missing
	// TTL if a previous pipeline was interrupted between the two ops.
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, s.prefix+key)
	pipe.ExpireAt(ctx, s.prefix+key, expiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, xerrors.Wrap(err, "redis increment")
	}
	return incr.Val(), expiresAt, nil
}

// Ping reports store reachability, used by the readiness probe.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return xerrors.Wrap(err, "redis ping")
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
