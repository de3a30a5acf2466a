// Package handshake implements the 3-message hybrid key exchange.
//
// The handshake combines X25519 (classical) with ML-KEM-1024 (post-quantum)
// so the derived session keys stay secret if either primitive survives. It
// also hides both parties' static identities: static key material only ever
// appears on the wire encrypted under keys derived from ephemeral exchanges,
// so a passive observer learns nothing about who is talking.
//
// Message flow:
//
//	Msg1 (I -> R): e_I || KEM-ct to R's static key || enc(identity_I)
//	Msg2 (R -> I): e_R || KEM-ct to I's static key || enc(identity_R, mac_R)
//	Msg3 (I -> R): mac_I
//
// Both confirmation MACs cover the transcript hash, so each side proves it
// derived the same session secret before any traffic flows.
package handshake

import (
	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
	"github.com/zkswarm/zks-core/pkg/crypto"
)

// BundleSize is the encoded size of a public identity bundle:
// X25519 identity key followed by the ML-KEM-1024 encapsulation key.
const BundleSize = constants.X25519PublicKeySize + constants.MLKEMPublicKeySize

// Bundle is a party's public identity: the static X25519 key and the static
// ML-KEM encapsulation key. Initiators must know the responder's bundle out
// of band; the initiator's bundle travels encrypted inside Msg1.
type Bundle struct {
	X25519Pub []byte // 32 bytes
	MLKEMPub  []byte // 1568 bytes
}

// Encode serializes the bundle to its fixed 1600-byte wire form.
func (b *Bundle) Encode() ([]byte, error) {
	if len(b.X25519Pub) != constants.X25519PublicKeySize ||
		len(b.MLKEMPub) != constants.MLKEMPublicKeySize {
		return nil, zerrors.ErrInvalidPublicKey
	}

	buf := make([]byte, 0, BundleSize)
	buf = append(buf, b.X25519Pub...)
	buf = append(buf, b.MLKEMPub...)
	return buf, nil
}

// ParseBundle parses a bundle from its wire form.
func ParseBundle(data []byte) (*Bundle, error) {
	if len(data) != BundleSize {
		return nil, zerrors.ErrMalformed
	}

	return &Bundle{
		X25519Pub: append([]byte(nil), data[:constants.X25519PublicKeySize]...),
		MLKEMPub:  append([]byte(nil), data[constants.X25519PublicKeySize:]...),
	}, nil
}

// Equal compares two bundles byte for byte in constant time.
func (b *Bundle) Equal(other *Bundle) bool {
	if other == nil {
		return false
	}
	return crypto.ConstantTimeCompare(b.X25519Pub, other.X25519Pub) &&
		crypto.ConstantTimeCompare(b.MLKEMPub, other.MLKEMPub)
}

// Identity is a party's static key material.
type Identity struct {
	X25519 *crypto.X25519KeyPair
	MLKEM  *crypto.MLKEMKeyPair
}

// NewIdentity generates a fresh static identity.
func NewIdentity() (*Identity, error) {
	xkp, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, err
	}

	mkp, err := crypto.GenerateMLKEMKeyPair()
	if err != nil {
		xkp.Zeroize()
		return nil, err
	}

	return &Identity{X25519: xkp, MLKEM: mkp}, nil
}

// Bundle returns the public half of the identity.
func (id *Identity) Bundle() *Bundle {
	return &Bundle{
		X25519Pub: id.X25519.PublicKeyBytes(),
		MLKEMPub:  id.MLKEM.PublicKeyBytes(),
	}
}

// Zeroize drops the identity's private key material.
func (id *Identity) Zeroize() {
	if id.X25519 != nil {
		id.X25519.Zeroize()
	}
	if id.MLKEM != nil {
		id.MLKEM.Zeroize()
	}
}
