// Package envelope provides reversible at-rest encryption and deterministic
// lookup hashing for personally identifying data (mobile numbers, Aadhaar
// numbers, addresses).
//
// Ciphertext layout before base64url encoding:
//
//	[Version: 1 byte] [Nonce: 24 bytes] [Ciphertext+Tag: N+16 bytes]
//
// The version byte is authenticated as additional data, so any modification
// of the stored value makes Decrypt fail rather than return garbage.
package envelope

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// Version is the format byte prepended to every ciphertext.
const Version byte = 0x01

// KeySize is the size in bytes of the derived symmetric key.
const KeySize = chacha20poly1305.KeySize

const (
	// LegacySalt and LegacyIterations reproduce the legacy key derivation so
	// existing deployments derive the same master key from the same secret.
	LegacySalt       = "suvidha_salt_v1"
	LegacyIterations = 100_000
)

const overhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var (
	// ErrEncryption is returned when plaintext cannot be sealed.
	ErrEncryption = errors.New("envelope: encryption failed")
	// ErrDecryption is returned for malformed or tampered ciphertext, or a wrong key.
	ErrDecryption = errors.New("envelope: decryption failed")
)

// Options configures key derivation.
type Options struct {
	Salt       string
	Iterations int
}

// Envelope seals and opens PII values under a single derived key.
// It is safe for concurrent use.
type Envelope struct {
	key  []byte
	info string
}

// New derives the envelope key from masterSecret with PBKDF2-HMAC-SHA256.
// Zero-valued options fall back to LegacySalt and LegacyIterations.
func New(masterSecret string, opts Options) (*Envelope, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret must not be empty")
	}
	if opts.Salt == "" {
		opts.Salt = LegacySalt
	}
	if opts.Iterations <= 0 {
		opts.Iterations = LegacyIterations
	}
	key := pbkdf2.Key([]byte(masterSecret), []byte(opts.Salt), opts.Iterations, KeySize, sha256.New)
	return &Envelope{key: key}, nil
}

// ForField returns an Envelope whose key is derived from e's key with
// HKDF-SHA256 using field as the info string. Ciphertext produced for one
// field cannot be opened under another.
func (e *Envelope) ForField(field string) (*Envelope, error) {
	if field == "" {
		return e, nil
	}
	info := "kiosk.envelope.field.v1:" + field
	r := hkdf.New(sha256.New, e.key, nil, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive field key %q: %w", field, err)
	}
	return &Envelope{key: key, info: info}, nil
}

// Encrypt seals plaintext and returns the base64url-encoded blob.
// The empty string maps to the empty string.
func (e *Envelope) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("%w: generate nonce: %v", ErrEncryption, err)
	}

	out := make([]byte, 1+len(nonce), overhead+len(plaintext))
	out[0] = Version
	copy(out[1:], nonce[:])
	out = aead.Seal(out, nonce[:], []byte(plaintext), e.aad(Version))
	return base64.URLEncoding.EncodeToString(out), nil
}

// Decrypt opens a blob produced by Encrypt. The empty string maps to the
// empty string; anything else that does not authenticate returns ErrDecryption.
func (e *Envelope) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	blob, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrDecryption, err)
	}
	if len(blob) < overhead {
		return "", fmt.Errorf("%w: blob is %d bytes, minimum is %d", ErrDecryption, len(blob), overhead)
	}
	if blob[0] != Version {
		return "", fmt.Errorf("%w: unsupported version %d", ErrDecryption, blob[0])
	}

	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plain, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], e.aad(blob[0]))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(plain), nil
}

// HashForLookup returns the deterministic lookup digest of data.
func (e *Envelope) HashForLookup(data string) string {
	return HashForLookup(data)
}

func (e *Envelope) aad(version byte) []byte {
	return append([]byte{version}, e.info...)
}

// HashForLookup returns the hex SHA-256 of data, or "" for empty input.
// Equal inputs always produce equal digests, which makes it usable as a
// unique-index column for encrypted values. It must never be used to verify
// credentials.
func HashForLookup(data string) string {
	if data == "" {
		return ""
	}
	return Digest([]byte(data))
}

// Digest returns the hex-encoded SHA-256 of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
