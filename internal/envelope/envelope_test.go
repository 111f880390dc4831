package envelope_test

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/jmerrifield20/kiosktrust/internal/envelope"
)

// Low iteration count keeps the suite fast; the derivation path is identical.
func newEnvelope(t *testing.T, secret string) *envelope.Envelope {
	t.Helper()
	e, err := envelope.New(secret, envelope.Options{Iterations: 1000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestEncryptDecrypt_roundTrip(t *testing.T) {
	e := newEnvelope(t, "master-secret")

	for _, in := range []string{"9876543210", "x", "123412341234", "नमस्ते कियोस्क", strings.Repeat("a", 4096)} {
		ct, err := e.Encrypt(in)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", in, err)
		}
		if ct == in {
			t.Fatalf("ciphertext equals plaintext for %q", in)
		}
		got, err := e.Decrypt(ct)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != in {
			t.Errorf("round trip: got %q, want %q", got, in)
		}
	}
}

func TestEncrypt_nonDeterministic(t *testing.T) {
	e := newEnvelope(t, "master-secret")
	a, _ := e.Encrypt("9876543210")
	b, _ := e.Encrypt("9876543210")
	if a == b {
		t.Error("two encryptions of the same value must differ (random nonce)")
	}
}

func TestEmptyValues(t *testing.T) {
	e := newEnvelope(t, "master-secret")

	ct, err := e.Encrypt("")
	if err != nil || ct != "" {
		t.Errorf("Encrypt(\"\") = %q, %v; want \"\", nil", ct, err)
	}
	pt, err := e.Decrypt("")
	if err != nil || pt != "" {
		t.Errorf("Decrypt(\"\") = %q, %v; want \"\", nil", pt, err)
	}
}

func TestDecrypt_tamperedFails(t *testing.T) {
	e := newEnvelope(t, "master-secret")
	ct, err := e.Encrypt("9876543210")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := base64.URLEncoding.DecodeString(ct)

	for i := range raw {
		mutated := append([]byte(nil), raw...)
		mutated[i] ^= 0x01
		got, err := e.Decrypt(base64.URLEncoding.EncodeToString(mutated))
		if !errors.Is(err, envelope.ErrDecryption) {
			t.Fatalf("byte %d flipped: expected ErrDecryption, got %q, %v", i, got, err)
		}
		if got != "" {
			t.Fatalf("byte %d flipped: plaintext must be empty on failure, got %q", i, got)
		}
	}
}

func TestDecrypt_malformedInput(t *testing.T) {
	e := newEnvelope(t, "master-secret")
	for _, in := range []string{"not base64!!", "AAAA", base64.URLEncoding.EncodeToString(make([]byte, 64))} {
		if _, err := e.Decrypt(in); !errors.Is(err, envelope.ErrDecryption) {
			t.Errorf("Decrypt(%q): expected ErrDecryption, got %v", in, err)
		}
	}
}

func TestDecrypt_wrongKeyFails(t *testing.T) {
	a := newEnvelope(t, "secret-a")
	b := newEnvelope(t, "secret-b")
	ct, _ := a.Encrypt("9876543210")
	if _, err := b.Decrypt(ct); !errors.Is(err, envelope.ErrDecryption) {
		t.Errorf("expected ErrDecryption with the wrong key, got %v", err)
	}
}

func TestForField_domainSeparation(t *testing.T) {
	e := newEnvelope(t, "master-secret")
	mobile, err := e.ForField("mobile")
	if err != nil {
		t.Fatal(err)
	}
	aadhaar, err := e.ForField("aadhaar")
	if err != nil {
		t.Fatal(err)
	}

	ct, _ := mobile.Encrypt("9876543210")
	if got, err := mobile.Decrypt(ct); err != nil || got != "9876543210" {
		t.Fatalf("same-field round trip failed: %q, %v", got, err)
	}
	if _, err := aadhaar.Decrypt(ct); !errors.Is(err, envelope.ErrDecryption) {
		t.Errorf("cross-field decrypt must fail, got %v", err)
	}
	if _, err := e.Decrypt(ct); !errors.Is(err, envelope.ErrDecryption) {
		t.Errorf("field ciphertext must not open under the root key, got %v", err)
	}
}

func TestNew_emptySecret(t *testing.T) {
	if _, err := envelope.New("", envelope.Options{}); err == nil {
		t.Error("expected error for empty master secret")
	}
}

func TestHashForLookup(t *testing.T) {
	a := envelope.HashForLookup("9876543210")
	b := envelope.HashForLookup("9876543210")
	if a != b {
		t.Error("lookup hash must be deterministic")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if a == envelope.HashForLookup("9876543211") {
		t.Error("different inputs must hash differently")
	}
	// sha256("abc")
	if got := envelope.HashForLookup("abc"); got != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("unexpected digest %s", got)
	}
	if envelope.HashForLookup("") != "" {
		t.Error("empty input must hash to empty string")
	}
}

func TestMasking(t *testing.T) {
	if got := envelope.MaskMobile("9876543210"); got != "******3210" {
		t.Errorf("MaskMobile: got %q", got)
	}
	if got := envelope.MaskMobile("12"); got != "****" {
		t.Errorf("MaskMobile short: got %q", got)
	}
	if got := envelope.MaskAadhaar("123456789012"); got != "XXXX-XXXX-9012" {
		t.Errorf("MaskAadhaar: got %q", got)
	}
	if got := envelope.MaskAadhaar("1234"); got != "XXXX-XXXX-XXXX" {
		t.Errorf("MaskAadhaar invalid: got %q", got)
	}
}
