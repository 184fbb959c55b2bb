package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coursekit/admission/internal/clock"
)

func newTestStore(t *testing.T, clk clock.Clock) *MemoryStore {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewMemory(ctx, WithClock(clk), WithSweepInterval(0))
}

func TestIncrement_CountsUpWithinWindow(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_000_000, 0))
	s := newTestStore(t, clk)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		count, _, err := s.Increment(ctx, "op:u1:16666", time.Minute)
		if err != nil {
			t.Fatalf("Increment: %v", err)
		}
		if count != i {
			t.Fatalf("count = %d, want %d", count, i)
		}
	}
}

func TestIncrement_ExpiryAlignedToWindow(t *testing.T) {
	// 10:00:30 inside a 60s window -> expiry at 10:01:00
	now := time.Unix(1_000_000, 0).Truncate(time.Minute).Add(30 * time.Second)
	clk := clock.NewManual(now)
	s := newTestStore(t, clk)

	_, expiresAt, err := s.Increment(context.Background(), "k", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	want := now.Truncate(time.Minute).Add(time.Minute)
	if !expiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", expiresAt, want)
	}
}

func TestIncrement_FreshEntryAfterExpiry(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_000_000, 0))
	s := newTestStore(t, clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.Increment(ctx, "k", time.Minute)
	}
	clk.Advance(2 * time.Minute)

	count, _, err := s.Increment(ctx, "k", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count after expiry = %d, want 1 (fresh entry)", count)
	}
}

func TestIncrement_IndependentKeys(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_000_000, 0))
	s := newTestStore(t, clk)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		s.Increment(ctx, "op:u1:1", time.Minute)
	}
	count, _, _ := s.Increment(ctx, "op:u2:1", time.Minute)
	if count != 1 {
		t.Errorf("second key count = %d, want 1", count)
	}
}

func TestIncrement_ConcurrentNoLostUpdates(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_000_000, 0))
	s := newTestStore(t, clk)
	ctx := context.Background()

	const goroutines = 50
	const perGoroutine = 20

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				if _, _, err := s.Increment(ctx, "hot", time.Hour); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	count, _, err := s.Increment(ctx, "hot", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(goroutines*perGoroutine + 1); count != want {
		t.Errorf("final count = %d, want %d (no lost updates)", count, want)
	}
}

func TestIncrement_CancelledContext(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_000_000, 0))
	s := newTestStore(t, clk)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := s.Increment(ctx, "k", time.Minute); err == nil {
		t.Error("cancelled context should surface an error")
	}
}

func TestSweep_EvictsExpiredEntries(t *testing.T) {
	clk := clock.NewManual(time.Unix(1_000_000, 0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewMemory(ctx, WithClock(clk), WithSweepInterval(10*time.Millisecond))

	for i := 0; i < 10; i++ {
		s.Increment(ctx, fmt.Sprintf("k%d", i), time.Minute)
	}
	clk.Advance(2 * time.Minute)

	deadline := time.After(2 * time.Second)
	for s.Len() > 0 {
		select {
		case <-deadline:
			t.Fatalf("sweep did not evict, %d entries remain", s.Len())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
