package ledger

import (
	"fmt"
	"iter"
)

// Verification is one element of a chain walk.
type Verification struct {
	Entry    *Entry
	Verified bool
	// Err is the first break in the chain. It is set on the breaking entry
	// and repeated on every entry after it.
	Err *ChainIntegrityError
}

func verifyEntries(chainKey string, entries iter.Seq2[*Entry, error]) iter.Seq2[Verification, error] {
	return func(yield func(Verification, error) bool) {
		prev := Tail{ContentHash: GenesisHash}
		var broken *ChainIntegrityError
		for e, err := range entries {
			if err != nil {
				yield(Verification{}, fmt.Errorf("%w: %s: %v", ErrChainLookup, chainKey, err))
				return
			}
			if broken == nil {
				broken = check(e, prev)
			}
			prev = Tail{Seq: e.Seq, ContentHash: e.ContentHash}
			if !yield(Verification{Entry: e, Verified: broken == nil, Err: broken}, nil) {
				return
			}
		}
	}
}

// check validates e against its predecessor. Sequence numbers are not part
// of the content hash, so they are checked for contiguity here.
func check(e *Entry, prev Tail) *ChainIntegrityError {
	switch {
	case e.Seq != prev.Seq+1:
		return &ChainIntegrityError{ChainKey: e.ChainKey, Seq: e.Seq,
			Reason: fmt.Sprintf("seq %d does not follow %d", e.Seq, prev.Seq)}
	case e.LinkHash != prev.ContentHash:
		return &ChainIntegrityError{ChainKey: e.ChainKey, Seq: e.Seq,
			Reason: fmt.Sprintf("link_hash %q does not match predecessor %q", e.LinkHash, prev.ContentHash)}
	case hashEntry(e) != e.ContentHash:
		return &ChainIntegrityError{ChainKey: e.ChainKey, Seq: e.Seq, Reason: "content hash mismatch"}
	}
	return nil
}
