package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/kiosktrust/internal/ratelimit"
)

var ctx = context.Background()

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(d)
}

func TestMemoryStore_slidingWindow(t *testing.T) {
	clock := newFakeClock()
	store := ratelimit.NewMemoryStore()
	store.SetClock(clock.Now)

	steps := []struct {
		at        time.Duration
		allowed   bool
		remaining int
	}{
		{0, true, 2},
		{1 * time.Second, true, 1},
		{2 * time.Second, true, 0},
		{3 * time.Second, false, 0},
		{11 * time.Second, true, 1},
	}
	for _, st := range steps {
		clock.Set(st.at)
		res, err := store.Allow(ctx, "ip:10.0.0.1", 3, 10*time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if res.Allowed != st.allowed || res.Remaining != st.remaining {
			t.Errorf("t=%s: got allowed=%v remaining=%d, want %v %d",
				st.at, res.Allowed, res.Remaining, st.allowed, st.remaining)
		}
	}
}

func TestMemoryStore_retryAfterOnDenial(t *testing.T) {
	clock := newFakeClock()
	store := ratelimit.NewMemoryStore()
	store.SetClock(clock.Now)

	for i := range 3 {
		clock.Set(time.Duration(i) * time.Second)
		_, _ = store.Allow(ctx, "k", 3, 10*time.Second)
	}
	clock.Set(3 * time.Second)
	res, _ := store.Allow(ctx, "k", 3, 10*time.Second)
	if res.Allowed {
		t.Fatal("expected denial")
	}
	if res.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter: got %s, want 7s", res.RetryAfter)
	}
}

func TestMemoryStore_deniedRequestsAreNotRecorded(t *testing.T) {
	clock := newFakeClock()
	store := ratelimit.NewMemoryStore()
	store.SetClock(clock.Now)

	_, _ = store.Allow(ctx, "k", 1, 10*time.Second)
	for i := 1; i < 10; i++ {
		clock.Set(time.Duration(i) * time.Second)
		_, _ = store.Allow(ctx, "k", 1, 10*time.Second)
	}
	// Only the first request counts, so the window frees at t=10s.
	clock.Set(10*time.Second + time.Millisecond)
	if res, _ := store.Allow(ctx, "k", 1, 10*time.Second); !res.Allowed {
		t.Error("denied requests must not extend the window")
	}
}

func TestMemoryStore_keysAreIndependent(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	_, _ = store.Allow(ctx, "a", 1, time.Minute)
	if res, _ := store.Allow(ctx, "b", 1, time.Minute); !res.Allowed {
		t.Error("key b must not share key a's window")
	}
}

func TestMemoryStore_concurrentNeverExceedsLimit(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	const limit = 25

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := store.Allow(ctx, "shared", limit, time.Minute)
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != limit {
		t.Errorf("expected exactly %d admissions, got %d", limit, allowed)
	}
}

func TestMemoryStore_ResetAndSweep(t *testing.T) {
	clock := newFakeClock()
	store := ratelimit.NewMemoryStore()
	store.SetClock(clock.Now)

	_, _ = store.Allow(ctx, "a", 1, 10*time.Second)
	_, _ = store.Allow(ctx, "b", 1, 10*time.Second)

	if err := store.Reset(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if res, _ := store.Allow(ctx, "a", 1, 10*time.Second); !res.Allowed {
		t.Error("Reset must clear the window")
	}

	clock.Set(time.Minute)
	if n := store.Sweep(); n != 2 {
		t.Errorf("Sweep removed %d keys, want 2", n)
	}
}
