package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmerrifield20/kiosktrust/internal/ratelimit"
)

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("connection refused")
}

func TestLimiter_failsOpen(t *testing.T) {
	l := ratelimit.NewLimiter(failingStore{}, zap.NewNop())

	var recorded []ratelimit.Result
	l.SetMetricsRecord(func(_ string, res ratelimit.Result) { recorded = append(recorded, res) })

	for range 5 {
		res := l.Allow(ctx, "ip:1.2.3.4", 1, time.Minute)
		if !res.Allowed || !res.Degraded {
			t.Fatalf("expected degraded admission, got %+v", res)
		}
	}
	if len(recorded) != 5 || !recorded[0].Degraded {
		t.Errorf("metrics callback must see degraded results, got %v", recorded)
	}
}

func TestLimiter_failsOpenOnUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	store := ratelimit.NewRedisStore(client)
	if _, err := store.Allow(ctx, "k", 1, time.Second); !errors.Is(err, ratelimit.ErrBackendUnavailable) {
		t.Fatalf("store: expected ErrBackendUnavailable, got %v", err)
	}

	res := ratelimit.NewLimiter(store, zap.NewNop()).Allow(ctx, "k", 1, time.Second)
	if !res.Allowed || !res.Degraded {
		t.Errorf("expected degraded admission, got %+v", res)
	}
}

func TestLimiter_Check(t *testing.T) {
	l := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), zap.NewNop())

	if _, err := l.Check(ctx, "otp", "otp:abc", 1, time.Minute); err != nil {
		t.Fatalf("first check: %v", err)
	}
	_, err := l.Check(ctx, "otp", "otp:abc", 1, time.Minute)
	var exceeded *ratelimit.ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected *ExceededError, got %v", err)
	}
	if exceeded.RetryAfter <= 0 || exceeded.RetryAfter > time.Minute {
		t.Errorf("RetryAfter out of range: %s", exceeded.RetryAfter)
	}

	if err := l.Reset(ctx, "otp:abc"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Check(ctx, "otp", "otp:abc", 1, time.Minute); err != nil {
		t.Errorf("after Reset: %v", err)
	}
}

func TestKeyFor(t *testing.T) {
	a := ratelimit.KeyFor("Bearer eyJhbGciOiJIUzI1NiJ9.aaaa", "10.0.0.1")
	b := ratelimit.KeyFor("Bearer eyJhbGciOiJIUzI1NiJ9.bbbb", "10.0.0.1")
	if a == b {
		t.Error("tokens sharing a prefix must get distinct keys")
	}
	if len(a) != len("tok:")+64 || a[:4] != "tok:" {
		t.Errorf("unexpected token key %q", a)
	}
	if got := ratelimit.KeyFor("", "10.0.0.1"); got != "ip:10.0.0.1" {
		t.Errorf("anonymous key: got %q", got)
	}
	if got := ratelimit.KeyFor("Basic dXNlcjpwYXNz", "10.0.0.2"); got != "ip:10.0.0.2" {
		t.Errorf("non-bearer credential must fall back to IP, got %q", got)
	}
	if got := ratelimit.KeyFor("Bearer ", ""); got != "ip:unknown" {
		t.Errorf("empty token, no address: got %q", got)
	}
}
