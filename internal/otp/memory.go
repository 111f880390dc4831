package otp

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

type challenge struct {
	digest    string
	expiresAt time.Time
}

// MemoryStore is a process-local challenge store. Challenges are lost on
// restart and are not visible to other instances.
type MemoryStore struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]challenge
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, entries: make(map[string]challenge)}
}

// SetClock overrides the time source. Used in tests.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key, digest string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = challenge{digest: digest, expiresAt: s.now().Add(ttl)}
	return nil
}

// CompareAndDelete implements Store.
func (s *MemoryStore) CompareAndDelete(_ context.Context, key, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.entries[key]
	if !ok {
		return ErrCredentialNotFound
	}
	if !s.now().Before(c.expiresAt) {
		delete(s.entries, key)
		return ErrCredentialExpired
	}
	if subtle.ConstantTimeCompare([]byte(c.digest), []byte(digest)) != 1 {
		return ErrCredentialMismatch
	}
	delete(s.entries, key)
	return nil
}

// Evict removes all expired challenges and returns how many were dropped.
func (s *MemoryStore) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, c := range s.entries {
		if !now.Before(c.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored challenges, including expired ones.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// RunEvictor calls Evict every interval until ctx is done.
func (s *MemoryStore) RunEvictor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Evict()
		}
	}
}
