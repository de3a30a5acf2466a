// Package onion implements multi-hop payload layering.
//
// A payload crossing hops [A, B, C] is wrapped in one layer per hop. Inner
// layers are SHAKE-256 keystream XORs: cheap, length-preserving, and
// reversible only with the hop's key. The outermost layer is a full AEAD
// seal, so the first relay to touch the packet authenticates it before any
// inner layer is exposed. Each relay peels exactly one layer and forwards;
// only the exit hop sees the payload.
//
// Layer keystreams are domain-separated by the hop's kind and per-hop
// entropy, so a relay key reused across roles or circuits never reproduces
// a keystream.
package onion

import (
	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
	"github.com/zkswarm/zks-core/pkg/crypto"
)

// HopKind distinguishes relay hops from the exit hop.
type HopKind byte

const (
	// HopRelay forwards the peeled payload to the next hop.
	HopRelay HopKind = 0x01

	// HopExit is the final hop; peeling its layer yields the payload.
	HopExit HopKind = 0x02
)

// String returns the hop kind name.
func (k HopKind) String() string {
	switch k {
	case HopRelay:
		return "relay"
	case HopExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Hop is one station on a path: a layer key plus the per-hop entropy that
// freshens its keystream.
type Hop struct {
	Kind    HopKind
	Key     []byte
	Entropy []byte
}

// layerContext builds the keystream domain-separation context for a hop.
func layerContext(hop Hop) []byte {
	ctx := make([]byte, 0, len(constants.InfoOnionLayer)+1+len(hop.Entropy))
	ctx = append(ctx, constants.InfoOnionLayer...)
	ctx = append(ctx, byte(hop.Kind))
	ctx = append(ctx, hop.Entropy...)
	return ctx
}

// validateHop checks a hop's key size and kind.
func validateHop(hop Hop) error {
	if len(hop.Key) != constants.AEADKeySize {
		return zerrors.ErrInvalidKeySize
	}
	if hop.Kind != HopRelay && hop.Kind != HopExit {
		return zerrors.NewCryptoError("onion", zerrors.ErrInvalidMessage)
	}
	return nil
}

// Path is an ordered list of hops, innermost first: hops[0] is the exit
// whose layer is peeled last, hops[len-1] is the first relay on the wire.
type Path struct {
	suite constants.CipherSuite
	hops  []Hop
}

// NewPath builds a path from hops listed innermost first. Keys are copied.
func NewPath(suite constants.CipherSuite, hops []Hop) (*Path, error) {
	if len(hops) == 0 {
		return nil, zerrors.NewCryptoError("onion", zerrors.ErrInvalidMessage)
	}
	if !suite.IsSupported() {
		return nil, zerrors.ErrUnsupportedCipherSuite
	}

	owned := make([]Hop, len(hops))
	for i, hop := range hops {
		if err := validateHop(hop); err != nil {
			return nil, err
		}
		owned[i] = Hop{
			Kind:    hop.Kind,
			Key:     append([]byte(nil), hop.Key...),
			Entropy: append([]byte(nil), hop.Entropy...),
		}
	}

	return &Path{suite: suite, hops: owned}, nil
}

// Len returns the number of hops.
func (p *Path) Len() int {
	return len(p.hops)
}

// Wrap layers the payload for transit: inner hops applied innermost first
// as keystream XORs, then the outermost hop's AEAD seal. The result is
// nonce-prefixed ciphertext ready for the first relay.
func (p *Path) Wrap(payload []byte) ([]byte, error) {
	if len(p.hops) == 0 {
		return nil, zerrors.NewCryptoError("onion", zerrors.ErrInvalidState)
	}
	layered := append([]byte(nil), payload...)

	for i := 0; i < len(p.hops)-1; i++ {
		if err := applyLayer(p.hops[i], layered); err != nil {
			crypto.Zeroize(layered)
			return nil, err
		}
	}

	outer := p.hops[len(p.hops)-1]
	wire, err := sealOuter(p.suite, outer, layered)
	crypto.Zeroize(layered)
	if err != nil {
		return nil, err
	}
	return wire, nil
}

// Unwrap peels every layer, outermost first, and returns the payload.
// A relay holding only its own hop uses PeelOuter and PeelInner instead.
func (p *Path) Unwrap(wire []byte) ([]byte, error) {
	if len(p.hops) == 0 {
		return nil, zerrors.NewCryptoError("onion", zerrors.ErrInvalidState)
	}
	data, err := PeelOuter(p.suite, p.hops[len(p.hops)-1], wire)
	if err != nil {
		return nil, err
	}

	for i := len(p.hops) - 2; i >= 0; i-- {
		if err := applyLayer(p.hops[i], data); err != nil {
			crypto.Zeroize(data)
			return nil, err
		}
	}
	return data, nil
}

// Destroy zeroizes all hop keys. The path is unusable afterwards.
func (p *Path) Destroy() {
	for i := range p.hops {
		crypto.Zeroize(p.hops[i].Key)
		p.hops[i].Key = nil
	}
	p.hops = nil
}

// applyLayer XORs data in place with the hop's keystream. XOR is its own
// inverse, so the same call both wraps and peels an inner layer.
func applyLayer(hop Hop, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	keystream, err := crypto.ExpandKeystream(hop.Key, string(layerContext(hop)), len(data))
	if err != nil {
		return err
	}
	for i := range data {
		data[i] ^= keystream[i]
	}
	crypto.Zeroize(keystream)
	return nil
}

// sealOuter AEAD-seals the layered bytes under the outermost hop key with a
// fresh random nonce. The hop context rides in the AAD, binding the hop's
// kind and entropy to the packet.
func sealOuter(suite constants.CipherSuite, hop Hop, layered []byte) ([]byte, error) {
	aead, err := crypto.NewAEAD(suite, hop.Key)
	if err != nil {
		return nil, err
	}

	nonce, err := crypto.SecureRandomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}

	ct, err := aead.SealWithNonce(nonce, layered, layerContext(hop))
	if err != nil {
		return nil, err
	}
	return append(nonce, ct...), nil
}

// PeelOuter removes the outermost AEAD layer. This is the entry relay's
// operation; a forged or misrouted packet fails here before any inner layer
// is touched.
func PeelOuter(suite constants.CipherSuite, hop Hop, wire []byte) ([]byte, error) {
	if err := validateHop(hop); err != nil {
		return nil, err
	}

	aead, err := crypto.NewAEAD(suite, hop.Key)
	if err != nil {
		return nil, err
	}
	if len(wire) < aead.NonceSize()+aead.Overhead() {
		return nil, zerrors.ErrInvalidCiphertext
	}

	nonce, ct := wire[:aead.NonceSize()], wire[aead.NonceSize():]
	data, err := aead.OpenWithNonce(nonce, ct, layerContext(hop))
	if err != nil {
		return nil, zerrors.ErrAuthenticationFailed
	}
	return data, nil
}

// PeelInner removes one keystream layer in place and returns the same
// slice. Inner layers carry no authenticator of their own; integrity was
// settled at the outer AEAD.
func PeelInner(hop Hop, data []byte) ([]byte, error) {
	if err := validateHop(hop); err != nil {
		return nil, err
	}
	if err := applyLayer(hop, data); err != nil {
		return nil, err
	}
	return data, nil
}
