// Package constants defines security parameters and protocol constants for
// the ZKS tunnel cryptographic core.
//
// The core targets hybrid post-quantum security: X25519 (RFC 7748) combined
// with ML-KEM-1024 (NIST FIPS 203, Category 5), so that a break of either
// primitive leaves the session key indistinguishable from random.
package constants

// Protocol identification
const (
	// ProtocolVersion is the current version of the ZKS core protocol
	ProtocolVersion uint16 = 0x0001

	// ProtocolName is used for domain separation in key derivation
	ProtocolName = "zks-core-v1"
)

// ML-KEM-1024 Parameters (NIST FIPS 203)
const (
	// MLKEMPublicKeySize is the size of ML-KEM-1024 encapsulation key in bytes
	MLKEMPublicKeySize = 1568

	// MLKEMCiphertextSize is the size of ML-KEM-1024 ciphertext in bytes
	MLKEMCiphertextSize = 1568

	// MLKEMSharedSecretSize is the size of the shared secret from ML-KEM in bytes
	MLKEMSharedSecretSize = 32
)

// X25519 Parameters (RFC 7748)
const (
	// X25519PublicKeySize is the size of X25519 public key in bytes
	X25519PublicKeySize = 32

	// X25519PrivateKeySize is the size of X25519 private key in bytes
	X25519PrivateKeySize = 32

	// X25519SharedSecretSize is the size of the X25519 shared secret in bytes
	X25519SharedSecretSize = 32
)

// Symmetric Encryption Parameters
const (
	// AEADKeySize is the size of AEAD keys in bytes (256 bits)
	AEADKeySize = 32

	// AEADNonceSize is the size of the AEAD nonce in bytes (96 bits)
	AEADNonceSize = 12

	// AEADTagSize is the size of the authentication tag in bytes (128 bits)
	AEADTagSize = 16
)

// Key Derivation Parameters (HKDF-SHA256)
const (
	// KDFOutputSize is the default output size for key derivation in bytes
	KDFOutputSize = 32

	// TranscriptHashSize is the size of the handshake transcript hash in bytes
	TranscriptHashSize = 32

	// InfoSession labels derivation of the master session secret
	InfoSession = "zks-session"

	// InfoSendInitiator labels the initiator-to-responder traffic key
	InfoSendInitiator = "zks-send-i2r"

	// InfoSendResponder labels the responder-to-initiator traffic key
	InfoSendResponder = "zks-send-r2i"

	// InfoIdentityMsg1 labels the Msg1 identity-encryption key
	InfoIdentityMsg1 = "zks-id1"

	// InfoIdentityMsg2 labels the Msg2 identity-encryption key
	InfoIdentityMsg2 = "zks-id2"

	// InfoConfirmInitiator labels the initiator's confirmation-MAC key
	InfoConfirmInitiator = "zks-confirm-i"

	// InfoConfirmResponder labels the responder's confirmation-MAC key
	InfoConfirmResponder = "zks-confirm-r"

	// InfoRotate labels rotated-key derivation; the new generation number
	// (big-endian uint64) is appended to this label
	InfoRotate = "zks-rotate"

	// InfoRotateConfirm labels the rotation confirmation-MAC key
	InfoRotateConfirm = "zks-rotate-confirm"

	// InfoOnionLayer labels per-hop onion keystream expansion
	InfoOnionLayer = "zks-onion-layer"
)

// Key Rotation Parameters
const (
	// DefaultRotationByteThreshold is the default bytes-sent threshold that
	// triggers a key rotation (2^32 bytes per generation)
	DefaultRotationByteThreshold uint64 = 1 << 32

	// DefaultRotationIntervalSeconds is the default wall-clock age threshold
	DefaultRotationIntervalSeconds = 60

	// DefaultRotationAckTimeoutSeconds bounds how long a rotation waits for
	// the peer's acknowledgment before retrying
	DefaultRotationAckTimeoutSeconds = 10

	// DefaultGraceWindowSeconds bounds how long the previous generation's
	// key remains usable for decrypting in-flight frames
	DefaultGraceWindowSeconds = 15

	// RotationNonceSize is the size of the fresh random nonce carried in a
	// rotation control message
	RotationNonceSize = 32

	// RotationMaxRetries is the number of rotation request retransmissions
	// before the peer is declared unresponsive
	RotationMaxRetries = 3

	// NonceExhaustionMargin is the headroom below the 64-bit counter maximum
	// at which rotation is forced before any further encryption
	NonceExhaustionMargin uint64 = 1 << 10
)

// Entropy Pool Parameters
const (
	// DefaultEntropyPoolCapacity is the default bounded pool size in bytes
	DefaultEntropyPoolCapacity = 4096

	// EntropyChunkSize is the size of a single swarm contribution in bytes
	EntropyChunkSize = 32

	// CommitmentSize is the size of a contribution commitment (SHA-256)
	CommitmentSize = 32
)

// Session Parameters
const (
	// SessionIDSize is the size of session identifiers in bytes
	SessionIDSize = 16

	// DefaultHandshakeTimeoutSeconds is the per-message handshake timeout
	DefaultHandshakeTimeoutSeconds = 30
)

// Message Size Limits
const (
	// MaxMessageSize is the maximum size of a single protocol message
	MaxMessageSize = 65536

	// MaxPayloadSize is the maximum size of plaintext per data frame
	MaxPayloadSize = 65507

	// FrameHeaderSize is generation (8) plus nonce counter (8), prepended to
	// every data frame
	FrameHeaderSize = 16

	// MinFrameSize is the minimum size of a valid encrypted data frame
	MinFrameSize = FrameHeaderSize + AEADTagSize
)

// CipherSuite identifies the base AEAD. The suite is fixed per session.
type CipherSuite uint16

const (
	// CipherSuiteChaCha20Poly1305 uses ChaCha20-Poly1305 for the base AEAD
	CipherSuiteChaCha20Poly1305 CipherSuite = 0x0001

	// CipherSuiteAES256GCM uses AES-256-GCM for the base AEAD
	CipherSuiteAES256GCM CipherSuite = 0x0002
)

// String returns a human-readable name for the cipher suite
func (cs CipherSuite) String() string {
	switch cs {
	case CipherSuiteChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	case CipherSuiteAES256GCM:
		return "AES-256-GCM"
	default:
		return "Unknown"
	}
}

// IsSupported returns true if the cipher suite is supported
func (cs CipherSuite) IsSupported() bool {
	return cs == CipherSuiteChaCha20Poly1305 || cs == CipherSuiteAES256GCM
}
