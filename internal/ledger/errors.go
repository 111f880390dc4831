package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrChainWriteConflict is returned when the per-chain lock could not be
	// acquired within the configured timeout. The append may be retried.
	ErrChainWriteConflict = errors.New("ledger: chain write conflict")

	// ErrChainLookup wraps read failures from the backing store.
	ErrChainLookup = errors.New("ledger: chain lookup failed")

	// ErrEntryNotFound is returned by FindByHash when no entry matches.
	ErrEntryNotFound = errors.New("ledger: entry not found")
)

// ChainIntegrityError describes the first entry at which a chain stops
// verifying.
type ChainIntegrityError struct {
	ChainKey string
	Seq      int64
	Reason   string
}

func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("ledger: chain %q broken at seq %d: %s", e.ChainKey, e.Seq, e.Reason)
}

// IsRetryable reports whether err is a transient failure that the caller may
// retry unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrChainWriteConflict) || errors.Is(err, ErrChainLookup)
}
