// Package errors defines the error taxonomy for the ZKS tunnel core.
// Error messages never include key material or plaintext; they identify the
// failing subsystem and condition only.
package errors

import (
	"errors"
	"fmt"
)

// Handshake errors. A handshake error is fatal to the connection attempt;
// retries must use fresh ephemeral key material.
var (
	// ErrMalformed indicates a handshake message failed structural validation
	ErrMalformed = errors.New("handshake: malformed message")

	// ErrTimeout indicates a peer message did not arrive in time
	ErrTimeout = errors.New("handshake: timed out waiting for peer")
)

// Cipher errors.
var (
	// ErrAuthenticationFailed indicates AEAD tag verification failed.
	// Fatal to the current frame only; the session may continue.
	ErrAuthenticationFailed = errors.New("cipher: authentication failed")

	// ErrNonceExhausted indicates the nonce counter cannot advance without
	// repeating; rotation must complete before any further encryption
	ErrNonceExhausted = errors.New("cipher: nonce space exhausted, rotation required")
)

// Rotation errors.
var (
	// ErrPeerUnresponsive indicates the peer never acknowledged a rotation.
	// Fatal to the session: an over-threshold key is never kept in service.
	ErrPeerUnresponsive = errors.New("rotation: peer unresponsive")

	// ErrDerivationMismatch indicates the peer's confirmation MAC does not
	// match the locally derived rotated key
	ErrDerivationMismatch = errors.New("rotation: key derivation mismatch")

	// ErrRotationInFlight indicates a rotation is already in progress for
	// this direction
	ErrRotationInFlight = errors.New("rotation: rotation already in flight")
)

// Entropy errors. Always absorbed locally: the cipher degrades to pure-AEAD
// mode and continues.
var (
	// ErrSourceUnavailable indicates the entropy feed closed or failed
	ErrSourceUnavailable = errors.New("entropy: source unavailable")

	// ErrCommitmentMismatch indicates a revealed contribution does not match
	// its earlier commitment
	ErrCommitmentMismatch = errors.New("entropy: reveal does not match commitment")

	// ErrUnknownCommitment indicates a reveal arrived without a commitment
	ErrUnknownCommitment = errors.New("entropy: reveal without prior commitment")
)

// Crypto primitive errors.
var (
	// ErrInvalidKeySize indicates a key has an incorrect size
	ErrInvalidKeySize = errors.New("crypto: invalid key size")

	// ErrInvalidNonce indicates the nonce size is incorrect
	ErrInvalidNonce = errors.New("crypto: invalid nonce size")

	// ErrInvalidPublicKey indicates a public key is invalid
	ErrInvalidPublicKey = errors.New("crypto: invalid public key")

	// ErrInvalidPrivateKey indicates a private key is invalid
	ErrInvalidPrivateKey = errors.New("crypto: invalid private key")

	// ErrInvalidCiphertext indicates ciphertext is malformed or truncated
	ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext")
)

// Protocol and session errors.
var (
	// ErrInvalidMessage indicates a protocol message is malformed
	ErrInvalidMessage = errors.New("protocol: invalid message")

	// ErrMessageTooLarge indicates a message exceeds the maximum size
	ErrMessageTooLarge = errors.New("protocol: message too large")

	// ErrUnsupportedVersion indicates an unsupported protocol version
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")

	// ErrUnsupportedCipherSuite indicates an unsupported cipher suite
	ErrUnsupportedCipherSuite = errors.New("protocol: unsupported cipher suite")

	// ErrInvalidState indicates an operation in the wrong protocol state
	ErrInvalidState = errors.New("protocol: invalid state")

	// ErrReplayDetected indicates a frame counter was already consumed
	ErrReplayDetected = errors.New("session: replay detected")

	// ErrStaleGeneration indicates a frame's key generation is outside the
	// rotation grace window
	ErrStaleGeneration = errors.New("session: frame generation outside grace window")

	// ErrSessionClosed indicates the session has been torn down
	ErrSessionClosed = errors.New("session: closed")
)

// HandshakeError wraps a handshake failure with the protocol step at which
// it occurred.
type HandshakeError struct {
	Step string // Handshake step (e.g., "msg1", "msg2", "confirm")
	Err  error  // Underlying error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake %s: %v", e.Step, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// NewHandshakeError creates a new HandshakeError.
func NewHandshakeError(step string, err error) *HandshakeError {
	return &HandshakeError{Step: step, Err: err}
}

// RotationError wraps a rotation failure with the affected direction.
type RotationError struct {
	Direction string // "send" or "recv"
	Err       error  // Underlying error
}

func (e *RotationError) Error() string {
	return fmt.Sprintf("rotation %s: %v", e.Direction, e.Err)
}

func (e *RotationError) Unwrap() error {
	return e.Err
}

// NewRotationError creates a new RotationError.
func NewRotationError(direction string, err error) *RotationError {
	return &RotationError{Direction: direction, Err: err}
}

// CryptoError wraps a cryptographic primitive failure with the operation
// that failed.
type CryptoError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError.
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
