// Package wvernam implements the Wasif-Vernam double-key engine.
//
// Every frame is protected by two independent key layers:
//
//  1. An entropy mix: the plaintext is XORed against a point-in-time
//     snapshot of the swarm entropy pool, cycled to the plaintext length.
//  2. A standard AEAD (ChaCha20-Poly1305 or AES-256-GCM) sealing the mixed
//     bytes under the session's traffic key.
//
// The AEAD alone already gives confidentiality and integrity; the entropy
// layer adds keying material that never appeared in the handshake, so an
// adversary who records traffic and later breaks the session key still has
// to reproduce the pool state. Mixing happens before sealing, so the
// authentication tag covers the mixed bytes and tampering is detected
// before any unmixing work.
//
// An empty pool degrades gracefully to pure AEAD. The degradation is
// reported once per cipher, never fatal.
package wvernam

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
	"github.com/zkswarm/zks-core/pkg/crypto"
	"github.com/zkswarm/zks-core/pkg/metrics"
)

// SnapshotSource supplies immutable entropy pool snapshots.
// A nil snapshot means the pool is empty and the mix step is skipped.
type SnapshotSource interface {
	Snapshot() []byte
}

// Cipher is a one-directional double-key cipher bound to a single traffic
// key generation. Rotation replaces the Cipher; it is never rekeyed in
// place.
//
// The nonce counter inside the AEAD serializes concurrent Encrypt calls;
// everything else is read-only after construction.
type Cipher struct {
	aead       *crypto.AEAD
	suite      constants.CipherSuite
	generation uint64
	source     SnapshotSource
	logger     *metrics.Logger

	bytesProcessed atomic.Uint64
	degraded       atomic.Bool
}

// New creates a cipher for one direction of a session.
//
// Parameters:
//   - suite: The AEAD suite, fixed for the whole session
//   - key: 32-byte traffic key for this direction and generation
//   - generation: The key generation this cipher serves
//   - source: Entropy snapshot source; nil disables the mix layer
//   - logger: May be nil
func New(suite constants.CipherSuite, key []byte, generation uint64, source SnapshotSource, logger *metrics.Logger) (*Cipher, error) {
	aead, err := crypto.NewAEAD(suite, key)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = metrics.NullLogger()
	}

	return &Cipher{
		aead:       aead,
		suite:      suite,
		generation: generation,
		source:     source,
		logger:     logger.Named("wvernam"),
	}, nil
}

// aadFor binds generation, counter, and caller AAD into the sealed data.
// A frame replayed under a different generation or counter fails
// authentication instead of decrypting at the wrong position.
func (c *Cipher) aadFor(counter uint64, aad []byte) []byte {
	full := make([]byte, constants.FrameHeaderSize, constants.FrameHeaderSize+len(aad))
	binary.BigEndian.PutUint64(full[0:8], c.generation)
	binary.BigEndian.PutUint64(full[8:16], counter)
	return append(full, aad...)
}

// mix XORs data against the snapshot, cycling the snapshot as needed.
func mix(dst, data, snapshot []byte) {
	n := len(snapshot)
	for i := range data {
		dst[i] = data[i] ^ snapshot[i%n]
	}
}

// Encrypt seals plaintext and returns the ciphertext together with the
// nonce counter the frame consumed. The caller transmits the counter in the
// frame header; it is already authenticated via the AAD.
//
// Returns ErrNonceExhausted when this generation's counter space is spent;
// the session must rotate before any further sends.
func (c *Cipher) Encrypt(plaintext, aad []byte) ([]byte, uint64, error) {
	counter, nonce, err := c.aead.NextNonce()
	if err != nil {
		return nil, 0, err
	}

	toSeal := plaintext
	snapshot := c.snapshot()
	if snapshot != nil {
		mixed := crypto.GetMixBuffer(len(plaintext))
		defer crypto.PutMixBuffer(mixed)
		mix(mixed, plaintext, snapshot)
		toSeal = mixed
	}

	ciphertext, err := c.aead.SealWithNonce(nonce, toSeal, c.aadFor(counter, aad))
	if err != nil {
		return nil, 0, err
	}

	c.bytesProcessed.Add(uint64(len(plaintext)))
	return ciphertext, counter, nil
}

// Decrypt opens a frame sealed by the peer's cipher of the same generation.
// Authentication runs first: a tampered frame is rejected before the unmix
// step, and the error is fatal to the frame only, never the session.
func (c *Cipher) Decrypt(ciphertext []byte, counter uint64, aad []byte) ([]byte, error) {
	mixed, err := c.aead.OpenWithNonce(crypto.NonceFromCounter(counter), ciphertext, c.aadFor(counter, aad))
	if err != nil {
		return nil, zerrors.ErrAuthenticationFailed
	}

	snapshot := c.snapshot()
	if snapshot != nil {
		mix(mixed, mixed, snapshot)
	}

	c.bytesProcessed.Add(uint64(len(mixed)))
	return mixed, nil
}

// snapshot fetches the current pool snapshot, logging the first fallback
// to pure-AEAD mode.
func (c *Cipher) snapshot() []byte {
	if c.source == nil {
		return nil
	}
	snapshot := c.source.Snapshot()
	if len(snapshot) == 0 {
		if c.degraded.CompareAndSwap(false, true) {
			c.logger.Warn("entropy pool empty, operating in pure AEAD mode", metrics.Fields{
				"generation": c.generation,
			})
		}
		return nil
	}
	return snapshot
}

// Generation returns the key generation this cipher serves.
func (c *Cipher) Generation() uint64 {
	return c.generation
}

// Suite returns the AEAD suite.
func (c *Cipher) Suite() constants.CipherSuite {
	return c.suite
}

// BytesProcessed returns the total plaintext bytes encrypted or decrypted.
func (c *Cipher) BytesProcessed() uint64 {
	return c.bytesProcessed.Load()
}

// NonceCounter returns the next counter value to be consumed.
func (c *Cipher) NonceCounter() uint64 {
	return c.aead.Counter()
}

// SetCounter positions the nonce counter, for resuming a known state.
func (c *Cipher) SetCounter(counter uint64) error {
	return c.aead.SetCounter(counter)
}

// NeedsRotation reports whether the counter is close enough to exhaustion
// that the session should rotate now.
func (c *Cipher) NeedsRotation() bool {
	return c.aead.NeedsRotation()
}
