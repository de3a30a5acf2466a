// aead.go implements Authenticated Encryption with Associated Data (AEAD).
//
// This package supports two AEAD algorithms:
//   - ChaCha20-Poly1305: High performance without hardware support (default)
//   - AES-256-GCM: FIPS-approved, hardware-accelerated on modern CPUs
//
// Mathematical Foundation:
//
// ChaCha20-Poly1305:
//   - ChaCha20: Stream cipher with 256-bit key, 96-bit nonce
//   - Poly1305: One-time authenticator for MAC
//   - Security: IND-CCA2 secure, 128-bit authentication tag
//   - Nonce: 96-bit, MUST be unique per (key, plaintext) pair
//
// AES-256-GCM:
//   - AES: Block cipher with 256-bit key, 128-bit blocks
//   - GCM: Galois/Counter Mode for authenticated encryption
//   - Security: IND-CCA2 secure, 128-bit authentication tag
//   - Nonce: 96-bit, MUST be unique per (key, plaintext) pair
//
// CRITICAL: Nonce reuse completely breaks security. Each (key, nonce) pair
// MUST be used at most once. This implementation derives nonces from a
// monotonic 64-bit counter and refuses to wrap: when the counter reaches its
// limit, encryption fails with ErrNonceExhausted and the session must rotate
// to a fresh key before sending anything further.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"math"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
)

// nonceLimit is the highest counter value a single key may consume. The
// margin below the 64-bit maximum forces rotation strictly before any
// counter could repeat.
const nonceLimit = math.MaxUint64 - constants.NonceExhaustionMargin

// AEAD represents an authenticated encryption cipher bound to one traffic
// key. The counter state makes each instance strictly one-directional.
type AEAD struct {
	cipher cipher.AEAD
	suite  constants.CipherSuite

	// Nonce state management
	mu      sync.Mutex
	counter uint64
}

// NewAEAD creates a new AEAD cipher with the specified suite and key.
//
// Parameters:
//   - suite: CipherSuiteChaCha20Poly1305 or CipherSuiteAES256GCM
//   - key: 32-byte encryption key
//
// Returns:
//   - AEAD: The initialized cipher
//   - error: Non-nil if the key size is wrong or suite unsupported
func NewAEAD(suite constants.CipherSuite, key []byte) (*AEAD, error) {
	if len(key) != constants.AEADKeySize {
		return nil, zerrors.ErrInvalidKeySize
	}

	var aeadCipher cipher.AEAD
	var err error

	switch suite {
	case constants.CipherSuiteChaCha20Poly1305:
		aeadCipher, err = chacha20poly1305.New(key)
		if err != nil {
			return nil, zerrors.NewCryptoError("NewAEAD", err)
		}

	case constants.CipherSuiteAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, zerrors.NewCryptoError("NewAEAD", err)
		}
		aeadCipher, err = cipher.NewGCM(block)
		if err != nil {
			return nil, zerrors.NewCryptoError("NewAEAD", err)
		}

	default:
		return nil, zerrors.ErrUnsupportedCipherSuite
	}

	return &AEAD{
		cipher:  aeadCipher,
		suite:   suite,
		counter: 0,
	}, nil
}

// NextNonce reserves the next counter value and returns it along with the
// corresponding 96-bit nonce. Returns ErrNonceExhausted when the counter
// cannot advance without risking reuse.
func (a *AEAD) NextNonce() (uint64, []byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.counter >= nonceLimit {
		return 0, nil, zerrors.ErrNonceExhausted
	}

	counter := a.counter
	a.counter++

	return counter, NonceFromCounter(counter), nil
}

// NonceFromCounter builds the 96-bit nonce for a given counter value:
// 4 zero bytes followed by the counter in big-endian order.
func NonceFromCounter(counter uint64) []byte {
	nonce := make([]byte, constants.AEADNonceSize)
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// Seal encrypts and authenticates plaintext using the next counter nonce.
//
// Returns:
//   - ciphertext: encrypted_data || auth_tag (nonce not included; the caller
//     transmits the counter and reconstructs the nonce on the other side)
//   - counter: The counter value consumed by this encryption
//   - error: Non-nil if nonce space is exhausted
func (a *AEAD) Seal(plaintext, additionalData []byte) ([]byte, uint64, error) {
	counter, nonce, err := a.NextNonce()
	if err != nil {
		return nil, 0, err
	}

	ciphertext := a.cipher.Seal(nil, nonce, plaintext, additionalData)
	return ciphertext, counter, nil
}

// SealWithNonce encrypts using an explicit nonce (for specific protocol needs).
//
// WARNING: The caller is responsible for ensuring nonce uniqueness.
// Prefer Seal() with automatic nonce generation when possible.
func (a *AEAD) SealWithNonce(nonce, plaintext, additionalData []byte) ([]byte, error) {
	if len(nonce) != constants.AEADNonceSize {
		return nil, zerrors.ErrInvalidNonce
	}

	ciphertext := a.cipher.Seal(nil, nonce, plaintext, additionalData)
	return ciphertext, nil
}

// Open decrypts and verifies ciphertext sealed under the given counter.
//
// Parameters:
//   - ciphertext: encrypted_data || auth_tag
//   - counter: The counter value the sender consumed for this frame
//   - additionalData: Must match the additionalData used during Seal
//
// Returns:
//   - plaintext: Decrypted data
//   - error: ErrAuthenticationFailed if the tag does not verify
func (a *AEAD) Open(ciphertext []byte, counter uint64, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < constants.AEADTagSize {
		return nil, zerrors.ErrInvalidCiphertext
	}

	plaintext, err := a.cipher.Open(nil, NonceFromCounter(counter), ciphertext, additionalData)
	if err != nil {
		return nil, zerrors.ErrAuthenticationFailed
	}

	return plaintext, nil
}

// OpenWithNonce decrypts using an explicit nonce.
func (a *AEAD) OpenWithNonce(nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != constants.AEADNonceSize {
		return nil, zerrors.ErrInvalidNonce
	}

	if len(ciphertext) < constants.AEADTagSize {
		return nil, zerrors.ErrInvalidCiphertext
	}

	plaintext, err := a.cipher.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, zerrors.ErrAuthenticationFailed
	}

	return plaintext, nil
}

// Counter returns the current nonce counter value.
// This can be used to check how many frames have been sent.
func (a *AEAD) Counter() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counter
}

// SetCounter sets the nonce counter value.
// Use with caution - only for resuming sessions with known state.
func (a *AEAD) SetCounter(counter uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if counter >= nonceLimit {
		return zerrors.ErrNonceExhausted
	}
	a.counter = counter
	return nil
}

// NeedsRotation returns true if the cipher is approaching nonce exhaustion.
// Callers should initiate key rotation when this returns true.
func (a *AEAD) NeedsRotation() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counter >= nonceLimit-constants.NonceExhaustionMargin
}

// Suite returns the cipher suite identifier.
func (a *AEAD) Suite() constants.CipherSuite {
	return a.suite
}

// Overhead returns the number of bytes added by encryption (the auth tag).
func (a *AEAD) Overhead() int {
	return a.cipher.Overhead()
}

// NonceSize returns the required nonce size in bytes.
func (a *AEAD) NonceSize() int {
	return a.cipher.NonceSize()
}
