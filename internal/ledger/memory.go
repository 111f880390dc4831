package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultLockTimeout bounds how long an append waits for its chain lock.
const DefaultLockTimeout = 5 * time.Second

// MemoryStore is an in-process Store. It is safe for concurrent use but is
// not durable and is not shared between processes.
type MemoryStore struct {
	lockTimeout time.Duration

	mu     sync.Mutex
	chains map[string]*memChain
}

type memChain struct {
	writer *semaphore.Weighted

	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryStore creates an empty MemoryStore. A non-positive lockTimeout
// selects DefaultLockTimeout.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &MemoryStore{lockTimeout: lockTimeout, chains: make(map[string]*memChain)}
}

func (s *MemoryStore) chain(key string) *memChain {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chains[key]
	if !ok {
		c = &memChain{writer: semaphore.NewWeighted(1)}
		s.chains[key] = c
	}
	return c
}

func (c *memChain) tail() Tail {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return Tail{ContentHash: GenesisHash}
	}
	last := c.entries[len(c.entries)-1]
	return Tail{Seq: last.Seq, ContentHash: last.ContentHash}
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, chainKey string, build BuildFunc) (*Entry, error) {
	c := s.chain(chainKey)

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	if err := c.writer.Acquire(lockCtx, 1); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: lock wait exceeded %s", ErrChainWriteConflict, chainKey, s.lockTimeout)
	}
	defer c.writer.Release(1)

	prev := c.tail()
	e, err := build(prev)
	if err != nil {
		return nil, err
	}
	e.Seq = prev.Seq + 1

	c.mu.Lock()
	c.entries = append(c.entries, e.clone())
	c.mu.Unlock()
	return e, nil
}

// Tail implements Store.
func (s *MemoryStore) Tail(_ context.Context, chainKey string) (Tail, error) {
	return s.chain(chainKey).tail(), nil
}

// Scan implements Store. The walk covers the entries present when it starts.
func (s *MemoryStore) Scan(ctx context.Context, chainKey string) iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		c := s.chain(chainKey)
		c.mu.RLock()
		snapshot := c.entries[:len(c.entries):len(c.entries)]
		c.mu.RUnlock()

		for _, e := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(e.clone(), nil) {
				return
			}
		}
	}
}

// FindByHash implements Store.
func (s *MemoryStore) FindByHash(_ context.Context, chainKey, contentHash string) (*Entry, error) {
	c := s.chain(chainKey)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.ContentHash == contentHash {
			return e.clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrEntryNotFound, contentHash, chainKey)
}
