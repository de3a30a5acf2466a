// mlkem.go implements the ML-KEM-1024 key encapsulation mechanism wrapper.
//
// ML-KEM (Module-Lattice-based Key-Encapsulation Mechanism) is standardized
// in NIST FIPS 203. Its security rests on the Module Learning With Errors
// (MLWE) problem over the polynomial ring Z_q[X]/(X^256 + 1) with q = 3329.
//
// Security Level: NIST Category 5 (equivalent to AES-256 against quantum
// adversaries).
package crypto

import (
	"github.com/cloudflare/circl/kem/mlkem/mlkem1024"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
)

// MLKEMPublicKey wraps an ML-KEM-1024 encapsulation key.
type MLKEMPublicKey struct {
	key *mlkem1024.PublicKey
}

// MLKEMPrivateKey wraps an ML-KEM-1024 decapsulation key.
type MLKEMPrivateKey struct {
	key *mlkem1024.PrivateKey
}

// MLKEMKeyPair represents an ML-KEM-1024 key pair for post-quantum key encapsulation.
type MLKEMKeyPair struct {
	// EncapsulationKey is the public key used by others to encapsulate secrets
	EncapsulationKey *MLKEMPublicKey

	// DecapsulationKey is the private key used to decapsulate secrets
	DecapsulationKey *MLKEMPrivateKey
}

// GenerateMLKEMKeyPair generates a new ML-KEM-1024 key pair.
// Returns error if the system's CSPRNG fails.
func GenerateMLKEMKeyPair() (*MLKEMKeyPair, error) {
	pk, sk, err := mlkem1024.GenerateKeyPair(Reader)
	if err != nil {
		return nil, zerrors.NewCryptoError("MLKEMKeyPair.Generate", err)
	}

	return &MLKEMKeyPair{
		EncapsulationKey: &MLKEMPublicKey{key: pk},
		DecapsulationKey: &MLKEMPrivateKey{key: sk},
	}, nil
}

// NewMLKEMKeyPairFromSeed generates an ML-KEM-1024 key pair from a 64-byte seed.
// This is deterministic: the same seed will always produce the same key pair.
//
// The seed must come from a cryptographically secure source. Useful for
// deriving identity keys from a master secret and for test vectors.
func NewMLKEMKeyPairFromSeed(seed []byte) (*MLKEMKeyPair, error) {
	if len(seed) != 64 {
		return nil, zerrors.ErrInvalidKeySize
	}

	pk, sk, err := mlkem1024.GenerateKeyPair(&deterministicReader{data: seed})
	if err != nil {
		return nil, zerrors.NewCryptoError("MLKEMKeyPair.FromSeed", err)
	}

	return &MLKEMKeyPair{
		EncapsulationKey: &MLKEMPublicKey{key: pk},
		DecapsulationKey: &MLKEMPrivateKey{key: sk},
	}, nil
}

// deterministicReader provides deterministic "randomness" from a seed
type deterministicReader struct {
	data   []byte
	offset int
}

func (r *deterministicReader) Read(p []byte) (n int, err error) {
	n = copy(p, r.data[r.offset:])
	r.offset += n
	return n, nil
}

// MLKEMEncapsulate performs key encapsulation to the given public key.
//
// Returns:
//   - ciphertext: The encapsulated ciphertext (1568 bytes for ML-KEM-1024)
//   - sharedSecret: The shared secret (32 bytes)
//   - error: Non-nil if encapsulation fails
func MLKEMEncapsulate(ek *MLKEMPublicKey) (ciphertext, sharedSecret []byte, err error) {
	if ek == nil || ek.key == nil {
		return nil, nil, zerrors.ErrInvalidPublicKey
	}

	ct := make([]byte, mlkem1024.CiphertextSize)
	ss := make([]byte, mlkem1024.SharedKeySize)

	seed := make([]byte, mlkem1024.EncapsulationSeedSize)
	if err := SecureRandom(seed); err != nil {
		return nil, nil, zerrors.NewCryptoError("MLKEMEncapsulate", err)
	}

	ek.key.EncapsulateTo(ct, ss, seed)

	return ct, ss, nil
}

// MLKEMDecapsulate performs key decapsulation using ML-KEM-1024.
//
// ML-KEM uses implicit rejection (Fujisaki-Okamoto transform): a malformed
// but correctly-sized ciphertext decapsulates to a pseudorandom value rather
// than an error, so downstream key confirmation is what detects tampering.
//
// Returns:
//   - sharedSecret: The shared secret (32 bytes)
//   - error: Non-nil if the ciphertext size is wrong
func MLKEMDecapsulate(dk *MLKEMPrivateKey, ciphertext []byte) ([]byte, error) {
	if dk == nil || dk.key == nil {
		return nil, zerrors.ErrInvalidPrivateKey
	}

	if len(ciphertext) != constants.MLKEMCiphertextSize {
		return nil, zerrors.ErrInvalidCiphertext
	}

	ss := make([]byte, mlkem1024.SharedKeySize)
	dk.key.DecapsulateTo(ss, ciphertext)

	return ss, nil
}

// Bytes returns the encoded bytes of the public key.
func (pk *MLKEMPublicKey) Bytes() []byte {
	if pk == nil || pk.key == nil {
		return nil
	}
	buf := make([]byte, mlkem1024.PublicKeySize)
	pk.key.Pack(buf)
	return buf
}

// PublicKeyBytes returns the encoded bytes of the encapsulation key.
func (kp *MLKEMKeyPair) PublicKeyBytes() []byte {
	return kp.EncapsulationKey.Bytes()
}

// ParseMLKEMPublicKey parses an ML-KEM-1024 public key from its encoded form.
func ParseMLKEMPublicKey(data []byte) (*MLKEMPublicKey, error) {
	if len(data) != constants.MLKEMPublicKeySize {
		return nil, zerrors.ErrInvalidPublicKey
	}

	pk := new(mlkem1024.PublicKey)
	if err := pk.Unpack(data); err != nil {
		return nil, zerrors.NewCryptoError("ParseMLKEMPublicKey", err)
	}

	return &MLKEMPublicKey{key: pk}, nil
}

// Zeroize drops the private key material.
// This should be called when the key pair is no longer needed.
func (kp *MLKEMKeyPair) Zeroize() {
	if kp.DecapsulationKey != nil {
		// Note: CIRCL doesn't expose direct zeroization, so we clear our
		// reference.
		kp.DecapsulationKey = nil
	}
	kp.EncapsulationKey = nil
}
