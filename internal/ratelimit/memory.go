package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local sliding window store. Counts are not shared
// with other instances.
type MemoryStore struct {
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*slidingWindow
}

// slidingWindow holds the request timestamps still inside the window, oldest first.
type slidingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, windows: make(map[string]*slidingWindow)}
}

// SetClock overrides the time source. Used in tests.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

// Allow implements Store.
func (s *MemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sw := s.windows[key]
	if sw == nil {
		sw = &slidingWindow{window: window}
		s.windows[key] = sw
	}
	sw.window = window
	sw.cleanup(now)

	res := Result{Limit: limit, ResetAfter: window}
	if len(sw.timestamps) >= limit {
		if len(sw.timestamps) > 0 {
			res.ResetAfter = resetAfter(sw.timestamps[0], now, window)
		}
		res.RetryAfter = res.ResetAfter
		return res, nil
	}

	sw.timestamps = append(sw.timestamps, now)
	res.Allowed = true
	res.Remaining = limit - len(sw.timestamps)
	res.ResetAfter = resetAfter(sw.timestamps[0], now, window)
	return res, nil
}

// Reset implements Resetter.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// Sweep drops keys with no requests left in their window and returns how
// many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, sw := range s.windows {
		sw.cleanup(now)
		if len(sw.timestamps) == 0 {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// cleanup drops timestamps at or before now-window.
func (sw *slidingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}
