package ledger

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"
)

// Tail is the current tip of a chain. An empty chain has Seq 0 and
// ContentHash GenesisHash.
type Tail struct {
	Seq         int64  `json:"seq"`
	ContentHash string `json:"content_hash"`
}

// BuildFunc produces the next entry given the chain tail. Stores call it
// while holding the chain's exclusive lock.
type BuildFunc func(prev Tail) (*Entry, error)

// Store persists entries. Implementations must serialise Append calls for
// the same chain key and must not write anything when build or the write
// itself fails.
type Store interface {
	// Append locks chainKey, reads its tail, calls build and persists the
	// returned entry with Seq set to prev.Seq+1.
	Append(ctx context.Context, chainKey string, build BuildFunc) (*Entry, error)

	// Tail returns the current tip of chainKey.
	Tail(ctx context.Context, chainKey string) (Tail, error)

	// Scan walks chainKey in append order. Each call starts a fresh walk.
	// A read failure is yielded once with a nil entry and ends the walk.
	Scan(ctx context.Context, chainKey string) iter.Seq2[*Entry, error]

	// FindByHash returns the entry in chainKey whose content hash matches.
	FindByHash(ctx context.Context, chainKey, contentHash string) (*Entry, error)
}

// Ledger appends and verifies hash-chained entries on top of a Store.
type Ledger struct {
	store    Store
	logger   *zap.Logger
	now      func() time.Time
	onAppend func(chainKey string, action ActionKind, err error)
}

// New creates a Ledger over store.
func New(store Store, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the time source. Used in tests.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// SetMetricsRecord registers a callback invoked after every append attempt.
func (l *Ledger) SetMetricsRecord(fn func(chainKey string, action ActionKind, err error)) {
	l.onAppend = fn
}

// Append records a new entry at the end of chainKey and returns it. The
// returned entry's ContentHash is the receipt.
func (l *Ledger) Append(ctx context.Context, chainKey string, action ActionKind, actor ActorRef, resource *ResourceRef, md Metadata) (*Entry, error) {
	if chainKey == "" {
		return nil, fmt.Errorf("append: chain key must not be empty")
	}
	if !action.IsValid() {
		return nil, fmt.Errorf("append: %w: %q", ErrUnknownActionKind, action)
	}
	if err := actor.validate(); err != nil {
		return nil, fmt.Errorf("append: %w", err)
	}
	if err := resource.validate(); err != nil {
		return nil, fmt.Errorf("append: %w", err)
	}

	entry, err := l.store.Append(ctx, chainKey, func(prev Tail) (*Entry, error) {
		e := &Entry{
			ChainKey:  chainKey,
			Seq:       prev.Seq + 1,
			Action:    action,
			Actor:     actor,
			Resource:  resource,
			Metadata:  append(Metadata{}, md...),
			CreatedAt: l.now().UTC().Truncate(time.Microsecond),
			LinkHash:  prev.ContentHash,
		}
		e.ContentHash = hashEntry(e)
		return e, nil
	})
	if l.onAppend != nil {
		l.onAppend(chainKey, action, err)
	}
	if err != nil {
		l.logger.Warn("ledger append failed",
			zap.String("chain_key", chainKey),
			zap.String("action", string(action)),
			zap.Error(err),
		)
		return nil, err
	}

	l.logger.Debug("ledger entry appended",
		zap.String("chain_key", chainKey),
		zap.Int64("seq", entry.Seq),
		zap.String("action", string(action)),
	)
	return entry, nil
}

// Tail returns the current tip of chainKey.
func (l *Ledger) Tail(ctx context.Context, chainKey string) (Tail, error) {
	return l.store.Tail(ctx, chainKey)
}

// FindByHash looks up a receipt within chainKey.
func (l *Ledger) FindByHash(ctx context.Context, chainKey, contentHash string) (*Entry, error) {
	return l.store.FindByHash(ctx, chainKey, contentHash)
}

// VerifyChain returns a lazy walk over chainKey that checks every entry.
// Ranging over the result again performs a fresh walk.
func (l *Ledger) VerifyChain(ctx context.Context, chainKey string) iter.Seq2[Verification, error] {
	return func(yield func(Verification, error) bool) {
		for v, err := range verifyEntries(chainKey, l.store.Scan(ctx, chainKey)) {
			if !yield(v, err) {
				return
			}
		}
	}
}

// Verify walks the whole chain and returns the first *ChainIntegrityError,
// a wrapped ErrChainLookup, or nil when every entry verifies.
func (l *Ledger) Verify(ctx context.Context, chainKey string) error {
	for v, err := range l.VerifyChain(ctx, chainKey) {
		if err != nil {
			return err
		}
		if !v.Verified {
			return v.Err
		}
	}
	return nil
}
