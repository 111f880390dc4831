package ratelimit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Limiter applies a Store and fails open on backend errors.
type Limiter struct {
	store    Store
	logger   *zap.Logger
	onResult func(scope string, res Result)
}

// NewLimiter creates a Limiter over store.
func NewLimiter(store Store, logger *zap.Logger) *Limiter {
	return &Limiter{store: store, logger: logger}
}

// SetMetricsRecord registers a callback invoked with every result. scope is
// the caller-supplied label passed to AllowScoped.
func (l *Limiter) SetMetricsRecord(fn func(scope string, res Result)) {
	l.onResult = fn
}

// Allow checks key against limit requests per window. It never fails: a
// store error admits the request with Degraded set.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Result {
	return l.AllowScoped(ctx, "default", key, limit, window)
}

// AllowScoped is Allow with a metrics scope label.
func (l *Limiter) AllowScoped(ctx context.Context, scope, key string, limit int, window time.Duration) Result {
	res, err := l.store.Allow(ctx, key, limit, window)
	if err != nil {
		if !errors.Is(err, ErrBackendUnavailable) {
			err = errors.Join(ErrBackendUnavailable, err)
		}
		l.logger.Warn("rate limit backend unavailable, admitting request",
			zap.String("scope", scope),
			zap.Error(err),
		)
		res = Result{Allowed: true, Limit: limit, Remaining: limit, ResetAfter: window, Degraded: true}
	}
	if l.onResult != nil {
		l.onResult(scope, res)
	}
	return res
}

// Check is Allow returning *ExceededError on denial.
func (l *Limiter) Check(ctx context.Context, scope, key string, limit int, window time.Duration) (Result, error) {
	res := l.AllowScoped(ctx, scope, key, limit, window)
	if !res.Allowed {
		return res, &ExceededError{Key: key, RetryAfter: res.RetryAfter}
	}
	return res, nil
}

// Reset forgets key if the store supports it.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	r, ok := l.store.(Resetter)
	if !ok {
		return nil
	}
	return r.Reset(ctx, key)
}
