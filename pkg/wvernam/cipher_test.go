package wvernam_test

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
	"github.com/zkswarm/zks-core/pkg/crypto"
	"github.com/zkswarm/zks-core/pkg/entropy"
	"github.com/zkswarm/zks-core/pkg/wvernam"
)

func newPair(t *testing.T, source wvernam.SnapshotSource) (*wvernam.Cipher, *wvernam.Cipher) {
	t.Helper()
	key := crypto.MustSecureRandomBytes(constants.AEADKeySize)

	sender, err := wvernam.New(constants.CipherSuiteChaCha20Poly1305, key, 0, source, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	receiver, err := wvernam.New(constants.CipherSuiteChaCha20Poly1305, key, 0, source, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return sender, receiver
}

func TestRoundTripWithEntropy(t *testing.T) {
	pool := entropy.NewPool(256)
	if err := pool.Mix(crypto.MustSecureRandomBytes(128)); err != nil {
		t.Fatalf("Mix failed: %v", err)
	}

	sender, receiver := newPair(t, pool)

	plaintext := []byte("payload routed through the swarm")
	aad := []byte("frame-meta")

	ct, counter, err := sender.Encrypt(plaintext, aad)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	got, err := receiver.Decrypt(ct, counter, aad)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Error("Round trip mismatch")
	}
}

func TestRoundTripEmptyPool(t *testing.T) {
	// Both ends see an empty pool and must agree on pure AEAD mode.
	pool := entropy.NewPool(256)
	sender, receiver := newPair(t, pool)

	plaintext := []byte("no swarm entropy yet")
	ct, counter, err := sender.Encrypt(plaintext, nil)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	got, err := receiver.Decrypt(ct, counter, nil)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Error("Empty-pool round trip mismatch")
	}
}

func TestRoundTripNilSource(t *testing.T) {
	sender, receiver := newPair(t, nil)

	plaintext := []byte("pure aead")
	ct, counter, err := sender.Encrypt(plaintext, nil)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	got, err := receiver.Decrypt(ct, counter, nil)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Error("Nil-source round trip mismatch")
	}
}

func TestCiphertextUniqueness(t *testing.T) {
	pool := entropy.NewPool(256)
	if err := pool.Mix(crypto.MustSecureRandomBytes(64)); err != nil {
		t.Fatalf("Mix failed: %v", err)
	}
	sender, _ := newPair(t, pool)

	plaintext := []byte("identical plaintext")

	ct1, c1, err := sender.Encrypt(plaintext, nil)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	ct2, c2, err := sender.Encrypt(plaintext, nil)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if c1 == c2 {
		t.Error("Counter did not advance")
	}
	if bytes.Equal(ct1, ct2) {
		t.Error("Same plaintext produced identical ciphertexts")
	}
}

func TestTamperedFrameRejected(t *testing.T) {
	pool := entropy.NewPool(256)
	if err := pool.Mix(crypto.MustSecureRandomBytes(64)); err != nil {
		t.Fatalf("Mix failed: %v", err)
	}
	sender, receiver := newPair(t, pool)

	ct, counter, err := sender.Encrypt([]byte("sensitive"), nil)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	for bit := 0; bit < 8; bit++ {
		tampered := append([]byte(nil), ct...)
		tampered[0] ^= 1 << bit
		if _, err := receiver.Decrypt(tampered, counter, nil); !errors.Is(err, zerrors.ErrAuthenticationFailed) {
			t.Errorf("Bit %d flip: got %v, want ErrAuthenticationFailed", bit, err)
		}
	}
}

func TestWrongCounterRejected(t *testing.T) {
	sender, receiver := newPair(t, nil)

	ct, counter, err := sender.Encrypt([]byte("frame"), nil)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// A shifted counter changes both the nonce and the AAD binding.
	if _, err := receiver.Decrypt(ct, counter+1, nil); !errors.Is(err, zerrors.ErrAuthenticationFailed) {
		t.Errorf("Wrong counter: got %v, want ErrAuthenticationFailed", err)
	}
}

func TestGenerationBinding(t *testing.T) {
	key := crypto.MustSecureRandomBytes(constants.AEADKeySize)

	gen0, err := wvernam.New(constants.CipherSuiteChaCha20Poly1305, key, 0, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	gen1, err := wvernam.New(constants.CipherSuiteChaCha20Poly1305, key, 1, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ct, counter, err := gen0.Encrypt([]byte("cross-generation"), nil)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Same key but different generation in the AAD must not decrypt.
	if _, err := gen1.Decrypt(ct, counter, nil); !errors.Is(err, zerrors.ErrAuthenticationFailed) {
		t.Errorf("Cross-generation decrypt: got %v, want ErrAuthenticationFailed", err)
	}
}

func TestSnapshotStability(t *testing.T) {
	// A frame sealed against an older snapshot must still decrypt if the
	// receiver reads the same snapshot, even after the pool advances.
	pool := entropy.NewPool(64)
	if err := pool.Mix(crypto.MustSecureRandomBytes(64)); err != nil {
		t.Fatalf("Mix failed: %v", err)
	}

	sender, receiver := newPair(t, pool)

	ct, counter, err := sender.Encrypt([]byte("in flight"), nil)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	got, err := receiver.Decrypt(ct, counter, nil)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if !bytes.Equal(got, []byte("in flight")) {
		t.Error("Round trip mismatch")
	}
}

func TestNonceExhaustion(t *testing.T) {
	sender, _ := newPair(t, nil)

	// Park the counter one step below the limit.
	if err := sender.SetCounter(math.MaxUint64 - constants.NonceExhaustionMargin - 1); err != nil {
		t.Fatalf("SetCounter failed: %v", err)
	}

	if _, _, err := sender.Encrypt([]byte("last frame"), nil); err != nil {
		t.Fatalf("Encrypt at limit-1 failed: %v", err)
	}

	if _, _, err := sender.Encrypt([]byte("one too many"), nil); !errors.Is(err, zerrors.ErrNonceExhausted) {
		t.Errorf("Exhausted counter: got %v, want ErrNonceExhausted", err)
	}
}

func TestBytesProcessed(t *testing.T) {
	sender, _ := newPair(t, nil)

	if _, _, err := sender.Encrypt(make([]byte, 100), nil); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, _, err := sender.Encrypt(make([]byte, 50), nil); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if got := sender.BytesProcessed(); got != 150 {
		t.Errorf("BytesProcessed: got %d, want 150", got)
	}
}
