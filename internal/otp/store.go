// Package otp issues and verifies single-use numeric login codes.
//
// At most one challenge is outstanding per subject: issuing again replaces
// the previous code. A successful verification consumes the challenge; a
// wrong code leaves it in place.
package otp

import (
	"context"
	"errors"
	"time"

	"github.com/jmerrifield20/kiosktrust/internal/envelope"
)

var (
	// ErrCredentialNotFound means no challenge is outstanding for the subject.
	ErrCredentialNotFound = errors.New("otp: no outstanding challenge")
	// ErrCredentialExpired means the challenge existed but its TTL passed.
	ErrCredentialExpired = errors.New("otp: challenge expired")
	// ErrCredentialMismatch means the submitted code is wrong.
	ErrCredentialMismatch = errors.New("otp: code mismatch")
	// ErrInvalidSubject is returned for an empty subject identifier.
	ErrInvalidSubject = errors.New("otp: subject is required")
)

// Store holds outstanding challenges keyed by Key(subject).
type Store interface {
	// Put stores the digest of code under key, replacing any prior value.
	Put(ctx context.Context, key, digest string, ttl time.Duration) error
	// CompareAndDelete removes key if and only if its digest equals digest,
	// as one atomic step. It returns ErrCredentialNotFound,
	// ErrCredentialExpired or ErrCredentialMismatch on failure.
	CompareAndDelete(ctx context.Context, key, digest string) error
}

// Key returns the storage key for subject. The raw identifier never reaches
// the store.
func Key(subject string) string {
	return "otp:" + envelope.HashForLookup(subject)
}

// digest binds code to its key so equal codes for different subjects
// store differently.
func digest(key, code string) string {
	return envelope.Digest([]byte(key + ":" + code))
}
