// kdf.go implements key derivation for the ZKS handshake, traffic keys, and
// key rotation using HKDF-SHA256 (RFC 5869).
//
// HKDF's extract-then-expand structure gives us:
//   - Extract: PRK = HMAC-SHA256(salt, IKM) concentrates possibly
//     non-uniform input keying material into a uniform pseudorandom key
//   - Expand: OKM = HMAC-SHA256(PRK, info || counter) stretches the PRK
//     into independent outputs, one per info label
//
// Every derivation in this package carries a distinct "zks-*" info label so
// that no two keys in the protocol are ever derived under the same context.
// Keystream expansion for onion layers uses SHAKE-256 instead, since layers
// need arbitrary-length output proportional to the payload.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
)

// DeriveKey derives outputLen bytes from the input keying material using
// HKDF-SHA256.
//
// Parameters:
//   - secret: Input keying material (need not be uniform)
//   - salt: Optional non-secret randomizer; nil is allowed
//   - info: Context label binding the output to one protocol purpose
//   - outputLen: Desired output length in bytes
//
// Returns:
//   - derived: The derived key material
//   - error: Non-nil if parameters are invalid
func DeriveKey(secret, salt, info []byte, outputLen int) ([]byte, error) {
	if outputLen <= 0 || outputLen > 255*sha256.Size {
		return nil, zerrors.NewCryptoError("DeriveKey", zerrors.ErrInvalidKeySize)
	}

	r := hkdf.New(sha256.New, secret, salt, info)
	output := make([]byte, outputLen)
	if _, err := io.ReadFull(r, output); err != nil {
		return nil, zerrors.NewCryptoError("DeriveKey", err)
	}

	return output, nil
}

// TranscriptHash computes a hash of the handshake transcript.
//
// The transcript starts with the protocol name for domain separation and
// includes every public value exchanged during the handshake, in wire
// order. Each component is length-prefixed with a 4-byte big-endian integer
// so the encoding is unambiguous.
//
// Binding the session secret to the transcript means any tampering with a
// handshake message changes the derived keys on one side and the handshake
// fails at key confirmation.
func TranscriptHash(components ...[]byte) []byte {
	h := sha256.New()
	lenBuf := make([]byte, 4)

	h.Write([]byte(constants.ProtocolName))
	binary.BigEndian.PutUint32(lenBuf, uint32(len(components)))
	h.Write(lenBuf)

	for _, component := range components {
		binary.BigEndian.PutUint32(lenBuf, uint32(len(component)))
		h.Write(lenBuf)
		h.Write(component)
	}

	return h.Sum(nil)
}

// DeriveSessionSecret derives the master session secret from the hybrid
// handshake outputs:
//
//	master = HKDF-SHA256(
//	    ikm  = dh_ee || kem_secret,
//	    salt = transcript_hash,
//	    info = "zks-session",
//	)
//
// If EITHER the X25519 exchange OR the ML-KEM encapsulations remain secure,
// the output is indistinguishable from random.
//
// Parameters:
//   - dhSecret: 32-byte X25519 ephemeral-ephemeral shared secret
//   - kemSecret: Concatenated ML-KEM shared secrets (ss1 || ss2)
//   - transcriptHash: 32-byte hash of the full handshake transcript
//
// Returns:
//   - masterSecret: 32-byte session secret
//   - error: Non-nil if inputs are invalid
func DeriveSessionSecret(dhSecret, kemSecret, transcriptHash []byte) ([]byte, error) {
	if len(dhSecret) != constants.X25519SharedSecretSize {
		return nil, zerrors.NewCryptoError("DeriveSessionSecret", zerrors.ErrInvalidKeySize)
	}
	if len(kemSecret) != 2*constants.MLKEMSharedSecretSize {
		return nil, zerrors.NewCryptoError("DeriveSessionSecret", zerrors.ErrInvalidKeySize)
	}
	if len(transcriptHash) != constants.TranscriptHashSize {
		return nil, zerrors.NewCryptoError("DeriveSessionSecret", zerrors.ErrInvalidKeySize)
	}

	ikm := make([]byte, 0, len(dhSecret)+len(kemSecret))
	ikm = append(ikm, dhSecret...)
	ikm = append(ikm, kemSecret...)
	defer Zeroize(ikm)

	return DeriveKey(ikm, transcriptHash, []byte(constants.InfoSession), constants.KDFOutputSize)
}

// DeriveTrafficKeys derives the two directional traffic keys from the master
// session secret. The initiator sends under the i2r key and receives under
// the r2i key; the responder mirrors this. Separate labels guarantee the two
// directions never share a (key, nonce) pair.
func DeriveTrafficKeys(masterSecret []byte) (initiatorToResponder, responderToInitiator []byte, err error) {
	if len(masterSecret) != constants.KDFOutputSize {
		return nil, nil, zerrors.NewCryptoError("DeriveTrafficKeys", zerrors.ErrInvalidKeySize)
	}

	initiatorToResponder, err = DeriveKey(masterSecret, nil, []byte(constants.InfoSendInitiator), constants.AEADKeySize)
	if err != nil {
		return nil, nil, err
	}

	responderToInitiator, err = DeriveKey(masterSecret, nil, []byte(constants.InfoSendResponder), constants.AEADKeySize)
	if err != nil {
		Zeroize(initiatorToResponder)
		return nil, nil, err
	}

	return initiatorToResponder, responderToInitiator, nil
}

// DeriveConfirmKeys derives the two key-confirmation MAC keys from the
// master session secret. Each side proves possession of the session secret
// by producing a MAC over the transcript hash under its own confirm key.
func DeriveConfirmKeys(masterSecret []byte) (initiatorKey, responderKey []byte, err error) {
	if len(masterSecret) != constants.KDFOutputSize {
		return nil, nil, zerrors.NewCryptoError("DeriveConfirmKeys", zerrors.ErrInvalidKeySize)
	}

	initiatorKey, err = DeriveKey(masterSecret, nil, []byte(constants.InfoConfirmInitiator), constants.AEADKeySize)
	if err != nil {
		return nil, nil, err
	}

	responderKey, err = DeriveKey(masterSecret, nil, []byte(constants.InfoConfirmResponder), constants.AEADKeySize)
	if err != nil {
		Zeroize(initiatorKey)
		return nil, nil, err
	}

	return initiatorKey, responderKey, nil
}

// DeriveIdentityKey derives an ephemeral key used to encrypt a party's
// static identity bundle inside a handshake message. The label differs per
// message so the Msg1 and Msg2 identity keys are independent.
func DeriveIdentityKey(dhSecret []byte, info string) ([]byte, error) {
	if len(dhSecret) == 0 {
		return nil, zerrors.NewCryptoError("DeriveIdentityKey", zerrors.ErrInvalidKeySize)
	}
	return DeriveKey(dhSecret, nil, []byte(info), constants.AEADKeySize)
}

// DeriveRotatedKey ratchets a traffic key forward one generation:
//
//	k_new = HKDF-SHA256(
//	    ikm  = k_old,
//	    salt = nonce,
//	    info = "zks-rotate" || BE64(newGeneration),
//	)
//
// The fresh nonce contributed by the rotation initiator ensures the new key
// is not a deterministic function of the old one. The one-way extract step
// gives forward secrecy within the session: compromise of k_new reveals
// nothing about traffic sent under k_old.
//
// Parameters:
//   - oldKey: The current 32-byte traffic key
//   - nonce: 32-byte fresh random value from the rotation request
//   - newGeneration: Generation number the new key will carry
//
// Returns:
//   - newKey: 32-byte rotated traffic key
//   - error: Non-nil if inputs are invalid
func DeriveRotatedKey(oldKey, nonce []byte, newGeneration uint64) ([]byte, error) {
	if len(oldKey) != constants.AEADKeySize {
		return nil, zerrors.NewCryptoError("DeriveRotatedKey", zerrors.ErrInvalidKeySize)
	}
	if len(nonce) != constants.RotationNonceSize {
		return nil, zerrors.NewCryptoError("DeriveRotatedKey", zerrors.ErrInvalidNonce)
	}

	info := make([]byte, 0, len(constants.InfoRotate)+8)
	info = append(info, constants.InfoRotate...)
	genBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(genBuf, newGeneration)
	info = append(info, genBuf...)

	return DeriveKey(oldKey, nonce, info, constants.AEADKeySize)
}

// DeriveRotationConfirmKey derives the MAC key used to confirm a rotated
// key. Both sides derive it from the NEW key, so a matching MAC proves the
// peer arrived at the same k_new without ever sending key material.
func DeriveRotationConfirmKey(newKey []byte) ([]byte, error) {
	if len(newKey) != constants.AEADKeySize {
		return nil, zerrors.NewCryptoError("DeriveRotationConfirmKey", zerrors.ErrInvalidKeySize)
	}
	return DeriveKey(newKey, nil, []byte(constants.InfoRotateConfirm), constants.AEADKeySize)
}

// ExpandKeystream expands a 32-byte layer key into an arbitrary-length
// keystream using SHAKE-256. Used by onion layering, where each hop's
// keystream must cover the whole nested payload.
//
// The context label and a 4-byte length prefix are absorbed before the key
// so the keystream is domain-separated from every fixed-length derivation.
func ExpandKeystream(key []byte, context string, length int) ([]byte, error) {
	if len(key) != constants.AEADKeySize {
		return nil, zerrors.NewCryptoError("ExpandKeystream", zerrors.ErrInvalidKeySize)
	}
	if length <= 0 || length > 1<<24 {
		return nil, zerrors.NewCryptoError("ExpandKeystream", zerrors.ErrInvalidKeySize)
	}

	h := sha3.NewShake256()
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(context)))
	h.Write(lenBuf)
	h.Write([]byte(context))
	h.Write(key)

	out := make([]byte, length)
	_, _ = h.Read(out) // SHAKE256.Read never fails

	return out, nil
}

// ComputeMAC computes an HMAC-SHA256 tag over the message.
func ComputeMAC(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// VerifyMAC verifies an HMAC-SHA256 tag in constant time.
func VerifyMAC(key, message, tag []byte) bool {
	expected := ComputeMAC(key, message)
	return hmac.Equal(expected, tag)
}
