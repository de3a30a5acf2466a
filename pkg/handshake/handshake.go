package handshake

import (
	"time"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
	"github.com/zkswarm/zks-core/pkg/crypto"
	"github.com/zkswarm/zks-core/pkg/protocol"
)

// State tracks handshake progress. The state machine is monotonic: no state
// is ever revisited, and any failure moves to StateFailed permanently. A
// retry requires a new Initiator or Responder with fresh ephemerals.
type State int

const (
	StateInitial State = iota
	StateInitSent
	StateReplySent
	StateComplete
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateInitSent:
		return "InitSent"
	case StateReplySent:
		return "ReplySent"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// SessionKeys is the handshake output: one key per direction, starting at
// generation zero. SendKey and RecvKey are from the caller's perspective.
type SessionKeys struct {
	SendKey    [constants.AEADKeySize]byte
	RecvKey    [constants.AEADKeySize]byte
	Suite      constants.CipherSuite
	Generation uint64
	CreatedAt  time.Time
	PeerBundle *Bundle
}

// Zeroize erases the key material.
func (k *SessionKeys) Zeroize() {
	crypto.Zeroize(k.SendKey[:])
	crypto.Zeroize(k.RecvKey[:])
}

// sealOnce encrypts a single plaintext under a single-use key with an
// all-zero nonce. Safe only because every identity key is derived from
// fresh ephemeral DH output and used exactly once.
func sealOnce(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := crypto.NewAEAD(constants.CipherSuiteChaCha20Poly1305, key)
	if err != nil {
		return nil, err
	}
	return aead.SealWithNonce(make([]byte, constants.AEADNonceSize), plaintext, aad)
}

func openOnce(key, ciphertext, aad []byte) ([]byte, error) {
	aead, err := crypto.NewAEAD(constants.CipherSuiteChaCha20Poly1305, key)
	if err != nil {
		return nil, err
	}
	return aead.OpenWithNonce(make([]byte, constants.AEADNonceSize), ciphertext, aad)
}

// deriveKeys computes the session secret and all downstream keys from the
// handshake outputs. Both sides call it with identical inputs.
func deriveKeys(dhEE, ss1, ss2, transcript []byte) (i2r, r2i, confirmI, confirmR []byte, err error) {
	kemSecret := make([]byte, 0, len(ss1)+len(ss2))
	kemSecret = append(kemSecret, ss1...)
	kemSecret = append(kemSecret, ss2...)
	defer crypto.Zeroize(kemSecret)

	master, err := crypto.DeriveSessionSecret(dhEE, kemSecret, transcript)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	defer crypto.Zeroize(master)

	i2r, r2i, err = crypto.DeriveTrafficKeys(master)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	confirmI, confirmR, err = crypto.DeriveConfirmKeys(master)
	if err != nil {
		crypto.ZeroizeMultiple(i2r, r2i)
		return nil, nil, nil, nil, err
	}

	return i2r, r2i, confirmI, confirmR, nil
}

// --- Initiator ---

// Initiator drives the initiator side of the handshake.
type Initiator struct {
	state State
	suite constants.CipherSuite
	local *Identity
	peer  *Bundle

	eph  *crypto.X25519KeyPair
	dhES []byte // DH(e_I, static_R)
	ss1  []byte // KEM secret encapsulated to R's static key
	msg1 []byte // Encoded Msg1 payload, kept for the transcript
}

// NewInitiator creates an initiator targeting the given responder bundle.
func NewInitiator(local *Identity, peerBundle *Bundle, suite constants.CipherSuite) (*Initiator, error) {
	if local == nil || peerBundle == nil {
		return nil, zerrors.ErrInvalidPublicKey
	}
	if !suite.IsSupported() {
		return nil, zerrors.ErrUnsupportedCipherSuite
	}
	return &Initiator{
		state: StateInitial,
		suite: suite,
		local: local,
		peer:  peerBundle,
	}, nil
}

// State returns the current handshake state.
func (i *Initiator) State() State { return i.state }

// CreateInit builds the Msg1 payload.
//
// Msg1 establishes two secrets the responder can recover immediately: the
// ephemeral-static DH (which keys the identity encryption) and the first
// KEM encapsulation to the responder's static key.
func (i *Initiator) CreateInit() ([]byte, error) {
	if i.state != StateInitial {
		return nil, zerrors.NewHandshakeError("msg1", zerrors.ErrInvalidState)
	}

	eph, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, i.fail("msg1", err)
	}
	i.eph = eph

	peerStatic, err := crypto.ParseX25519PublicKey(i.peer.X25519Pub)
	if err != nil {
		return nil, i.fail("msg1", err)
	}
	dhES, err := crypto.X25519(eph.PrivateKey, peerStatic)
	if err != nil {
		return nil, i.fail("msg1", err)
	}
	i.dhES = dhES

	peerKEM, err := crypto.ParseMLKEMPublicKey(i.peer.MLKEMPub)
	if err != nil {
		return nil, i.fail("msg1", err)
	}
	ct1, ss1, err := crypto.MLKEMEncapsulate(peerKEM)
	if err != nil {
		return nil, i.fail("msg1", err)
	}
	i.ss1 = ss1

	kID1, err := crypto.DeriveIdentityKey(dhES, constants.InfoIdentityMsg1)
	if err != nil {
		return nil, i.fail("msg1", err)
	}
	defer crypto.Zeroize(kID1)

	bundle, err := i.local.Bundle().Encode()
	if err != nil {
		return nil, i.fail("msg1", err)
	}
	encIdentity, err := sealOnce(kID1, bundle, eph.PublicKeyBytes())
	if err != nil {
		return nil, i.fail("msg1", err)
	}

	msg := &protocol.HandshakeInit{
		Version:       constants.ProtocolVersion,
		Suite:         i.suite,
		EphemeralPub:  eph.PublicKeyBytes(),
		KEMCiphertext: ct1,
		EncIdentity:   encIdentity,
	}
	payload, err := msg.Encode()
	if err != nil {
		return nil, i.fail("msg1", err)
	}

	i.msg1 = payload
	i.state = StateInitSent
	return payload, nil
}

// ProcessReply consumes the Msg2 payload, verifies the responder, and
// returns the Msg3 payload together with the finished session keys.
func (i *Initiator) ProcessReply(payload []byte) ([]byte, *SessionKeys, error) {
	if i.state != StateInitSent {
		return nil, nil, zerrors.NewHandshakeError("msg2", zerrors.ErrInvalidState)
	}

	reply, err := protocol.DecodeHandshakeReply(payload)
	if err != nil {
		return nil, nil, i.fail("msg2", zerrors.ErrMalformed)
	}

	ephR, err := crypto.ParseX25519PublicKey(reply.EphemeralPub)
	if err != nil {
		return nil, nil, i.fail("msg2", zerrors.ErrMalformed)
	}
	dhEE, err := crypto.X25519(i.eph.PrivateKey, ephR)
	if err != nil {
		return nil, nil, i.fail("msg2", err)
	}
	defer crypto.Zeroize(dhEE)

	// k_id2 binds the Msg2 identity encryption to both DH exchanges.
	idSecret := make([]byte, 0, len(dhEE)+len(i.dhES))
	idSecret = append(idSecret, dhEE...)
	idSecret = append(idSecret, i.dhES...)
	kID2, err := crypto.DeriveIdentityKey(idSecret, constants.InfoIdentityMsg2)
	crypto.Zeroize(idSecret)
	if err != nil {
		return nil, nil, i.fail("msg2", err)
	}
	defer crypto.Zeroize(kID2)

	inner, err := openOnce(kID2, reply.EncPayload, reply.EphemeralPub)
	if err != nil {
		return nil, nil, i.fail("msg2", zerrors.ErrAuthenticationFailed)
	}
	if len(inner) != BundleSize+32 {
		return nil, nil, i.fail("msg2", zerrors.ErrMalformed)
	}

	peerBundle, err := ParseBundle(inner[:BundleSize])
	if err != nil {
		return nil, nil, i.fail("msg2", zerrors.ErrMalformed)
	}
	macR := inner[BundleSize:]

	// The decrypted identity must be the responder we intended to reach.
	if !peerBundle.Equal(i.peer) {
		return nil, nil, i.fail("msg2", zerrors.ErrAuthenticationFailed)
	}

	ss2, err := crypto.MLKEMDecapsulate(i.local.MLKEM.DecapsulationKey, reply.KEMCiphertext)
	if err != nil {
		return nil, nil, i.fail("msg2", err)
	}
	defer crypto.Zeroize(ss2)

	transcript := crypto.TranscriptHash(i.msg1, reply.EphemeralPub, reply.KEMCiphertext)

	i2r, r2i, confirmI, confirmR, err := deriveKeys(dhEE, i.ss1, ss2, transcript)
	if err != nil {
		return nil, nil, i.fail("msg2", err)
	}
	defer crypto.ZeroizeMultiple(i2r, r2i, confirmI, confirmR)

	if !crypto.VerifyMAC(confirmR, transcript, macR) {
		return nil, nil, i.fail("msg2", zerrors.ErrAuthenticationFailed)
	}

	confirm := &protocol.HandshakeConfirm{
		ConfirmMAC: crypto.ComputeMAC(confirmI, transcript),
	}
	msg3, err := confirm.Encode()
	if err != nil {
		return nil, nil, i.fail("confirm", err)
	}

	keys := &SessionKeys{
		Suite:      i.suite,
		Generation: 0,
		CreatedAt:  time.Now(),
		PeerBundle: peerBundle,
	}
	copy(keys.SendKey[:], i2r)
	copy(keys.RecvKey[:], r2i)

	i.cleanup()
	i.state = StateComplete
	return msg3, keys, nil
}

// Abort zeroizes all handshake state. Safe to call in any state.
func (i *Initiator) Abort() {
	i.cleanup()
	i.state = StateFailed
}

func (i *Initiator) cleanup() {
	if i.eph != nil {
		i.eph.Zeroize()
		i.eph = nil
	}
	crypto.ZeroizeMultiple(i.dhES, i.ss1)
	i.dhES = nil
	i.ss1 = nil
}

func (i *Initiator) fail(step string, err error) error {
	i.cleanup()
	i.state = StateFailed
	return zerrors.NewHandshakeError(step, err)
}

// --- Responder ---

// Responder drives the responder side of the handshake.
type Responder struct {
	state State
	suite constants.CipherSuite
	local *Identity

	// Authorize, when set, decides whether a decrypted initiator identity
	// may proceed. Nil accepts any initiator that proves key possession.
	Authorize func(*Bundle) bool

	peerBundle *Bundle
	transcript []byte
	confirmI   []byte // Expected initiator confirm key
	pending    *SessionKeys
}

// NewResponder creates a responder around the given local identity.
func NewResponder(local *Identity) (*Responder, error) {
	if local == nil {
		return nil, zerrors.ErrInvalidPrivateKey
	}
	return &Responder{
		state: StateInitial,
		local: local,
	}, nil
}

// State returns the current handshake state.
func (r *Responder) State() State { return r.state }

// ProcessInit consumes the Msg1 payload and returns the Msg2 payload.
func (r *Responder) ProcessInit(payload []byte) ([]byte, error) {
	if r.state != StateInitial {
		return nil, zerrors.NewHandshakeError("msg1", zerrors.ErrInvalidState)
	}

	init, err := protocol.DecodeHandshakeInit(payload)
	if err != nil {
		return nil, r.fail("msg1", err)
	}
	r.suite = init.Suite

	ephI, err := crypto.ParseX25519PublicKey(init.EphemeralPub)
	if err != nil {
		return nil, r.fail("msg1", zerrors.ErrMalformed)
	}
	dhES, err := crypto.X25519(r.local.X25519.PrivateKey, ephI)
	if err != nil {
		return nil, r.fail("msg1", err)
	}
	defer crypto.Zeroize(dhES)

	kID1, err := crypto.DeriveIdentityKey(dhES, constants.InfoIdentityMsg1)
	if err != nil {
		return nil, r.fail("msg1", err)
	}
	defer crypto.Zeroize(kID1)

	bundleBytes, err := openOnce(kID1, init.EncIdentity, init.EphemeralPub)
	if err != nil {
		return nil, r.fail("msg1", zerrors.ErrAuthenticationFailed)
	}
	peerBundle, err := ParseBundle(bundleBytes)
	if err != nil {
		return nil, r.fail("msg1", zerrors.ErrMalformed)
	}

	if r.Authorize != nil && !r.Authorize(peerBundle) {
		return nil, r.fail("msg1", zerrors.ErrAuthenticationFailed)
	}
	r.peerBundle = peerBundle

	ss1, err := crypto.MLKEMDecapsulate(r.local.MLKEM.DecapsulationKey, init.KEMCiphertext)
	if err != nil {
		return nil, r.fail("msg1", err)
	}
	defer crypto.Zeroize(ss1)

	eph, err := crypto.GenerateX25519KeyPair()
	if err != nil {
		return nil, r.fail("msg2", err)
	}
	defer eph.Zeroize()

	dhEE, err := crypto.X25519(eph.PrivateKey, ephI)
	if err != nil {
		return nil, r.fail("msg2", err)
	}
	defer crypto.Zeroize(dhEE)

	peerKEM, err := crypto.ParseMLKEMPublicKey(peerBundle.MLKEMPub)
	if err != nil {
		return nil, r.fail("msg2", zerrors.ErrMalformed)
	}
	ct2, ss2, err := crypto.MLKEMEncapsulate(peerKEM)
	if err != nil {
		return nil, r.fail("msg2", err)
	}
	defer crypto.Zeroize(ss2)

	transcript := crypto.TranscriptHash(payload, eph.PublicKeyBytes(), ct2)
	r.transcript = transcript

	i2r, r2i, confirmI, confirmR, err := deriveKeys(dhEE, ss1, ss2, transcript)
	if err != nil {
		return nil, r.fail("msg2", err)
	}
	defer crypto.ZeroizeMultiple(i2r, r2i, confirmR)

	macR := crypto.ComputeMAC(confirmR, transcript)

	localBundle, err := r.local.Bundle().Encode()
	if err != nil {
		crypto.Zeroize(confirmI)
		return nil, r.fail("msg2", err)
	}
	inner := make([]byte, 0, len(localBundle)+len(macR))
	inner = append(inner, localBundle...)
	inner = append(inner, macR...)

	idSecret := make([]byte, 0, len(dhEE)+len(dhES))
	idSecret = append(idSecret, dhEE...)
	idSecret = append(idSecret, dhES...)
	kID2, err := crypto.DeriveIdentityKey(idSecret, constants.InfoIdentityMsg2)
	crypto.Zeroize(idSecret)
	if err != nil {
		crypto.Zeroize(confirmI)
		return nil, r.fail("msg2", err)
	}
	defer crypto.Zeroize(kID2)

	encPayload, err := sealOnce(kID2, inner, eph.PublicKeyBytes())
	if err != nil {
		crypto.Zeroize(confirmI)
		return nil, r.fail("msg2", err)
	}

	reply := &protocol.HandshakeReply{
		EphemeralPub:  eph.PublicKeyBytes(),
		KEMCiphertext: ct2,
		EncPayload:    encPayload,
	}
	msg2, err := reply.Encode()
	if err != nil {
		crypto.Zeroize(confirmI)
		return nil, r.fail("msg2", err)
	}

	// Session keys are held back until the initiator's confirmation lands.
	keys := &SessionKeys{
		Suite:      r.suite,
		Generation: 0,
		CreatedAt:  time.Now(),
		PeerBundle: peerBundle,
	}
	copy(keys.SendKey[:], r2i)
	copy(keys.RecvKey[:], i2r)
	r.pending = keys
	r.confirmI = confirmI

	r.state = StateReplySent
	return msg2, nil
}

// ProcessConfirm consumes the Msg3 payload and releases the session keys.
func (r *Responder) ProcessConfirm(payload []byte) (*SessionKeys, error) {
	if r.state != StateReplySent {
		return nil, zerrors.NewHandshakeError("confirm", zerrors.ErrInvalidState)
	}

	confirm, err := protocol.DecodeHandshakeConfirm(payload)
	if err != nil {
		return nil, r.fail("confirm", zerrors.ErrMalformed)
	}

	if !crypto.VerifyMAC(r.confirmI, r.transcript, confirm.ConfirmMAC) {
		return nil, r.fail("confirm", zerrors.ErrAuthenticationFailed)
	}

	keys := r.pending
	r.pending = nil
	crypto.Zeroize(r.confirmI)
	r.confirmI = nil

	r.state = StateComplete
	return keys, nil
}

// Abort zeroizes all handshake state. Safe to call in any state.
func (r *Responder) Abort() {
	r.cleanup()
	r.state = StateFailed
}

func (r *Responder) cleanup() {
	if r.pending != nil {
		r.pending.Zeroize()
		r.pending = nil
	}
	crypto.Zeroize(r.confirmI)
	r.confirmI = nil
}

func (r *Responder) fail(step string, err error) error {
	r.cleanup()
	r.state = StateFailed
	return zerrors.NewHandshakeError(step, err)
}
