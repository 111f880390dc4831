// Package ratelimit implements sliding-window admission control.
//
// A Store counts requests per identity key inside a trailing window. Two
// stores exist: RedisStore is authoritative across every instance sharing
// the Redis server; MemoryStore is local to one process. The Limiter on top
// fails open: when the store errors, requests are admitted and the result is
// flagged Degraded.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrBackendUnavailable wraps store failures. The Limiter never returns it
// to callers; it is visible to Store users and in logs.
var ErrBackendUnavailable = errors.New("ratelimit: backend unavailable")

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAfter is the time until the oldest counted request leaves the window.
	ResetAfter time.Duration
	// RetryAfter is set on denial: the earliest time a retry can succeed.
	RetryAfter time.Duration
	// Degraded is set when the backend failed and the request was admitted anyway.
	Degraded bool
}

// ExceededError is returned by Limiter.Check when a key is over its limit.
type ExceededError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

// Store records and counts requests. Allow must be atomic per key: prune,
// count, and conditionally record happen as one step.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// Resetter is implemented by stores that can forget a key.
type Resetter interface {
	Reset(ctx context.Context, key string) error
}

func resetAfter(oldest, now time.Time, window time.Duration) time.Duration {
	d := oldest.Add(window).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
