// Package protocol defines the wire messages exchanged by the ZKS crypto
// core: the three handshake messages, encrypted data frames, and the key
// rotation control messages.
//
// All multi-byte integers are big-endian. Every message travels under a
// 5-byte header of type (1 byte) and payload length (4 bytes).
package protocol

import (
	"encoding/binary"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
)

// MessageType identifies a protocol message.
type MessageType uint8

const (
	// Handshake messages
	MsgTypeHandshakeInit    MessageType = 0x01
	MsgTypeHandshakeReply   MessageType = 0x02
	MsgTypeHandshakeConfirm MessageType = 0x03

	// Data plane
	MsgTypeData MessageType = 0x10

	// Rotation control
	MsgTypeRotationRequest MessageType = 0x11
	MsgTypeRotationAck     MessageType = 0x12

	// Alerts
	MsgTypeAlert MessageType = 0xF0
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MsgTypeHandshakeInit:
		return "HandshakeInit"
	case MsgTypeHandshakeReply:
		return "HandshakeReply"
	case MsgTypeHandshakeConfirm:
		return "HandshakeConfirm"
	case MsgTypeData:
		return "Data"
	case MsgTypeRotationRequest:
		return "RotationRequest"
	case MsgTypeRotationAck:
		return "RotationAck"
	case MsgTypeAlert:
		return "Alert"
	default:
		return "Unknown"
	}
}

// HandshakeInit is the first handshake message (initiator to responder).
//
// Wire layout:
//
//	version(2) || suite(2) || ephemeral_pub(32) || kem_ct(1568) || enc_identity(var)
//
// The KEM ciphertext encapsulates to the responder's static ML-KEM key. The
// identity block is the initiator's static bundle encrypted under a key
// derived from DH(ephemeral, responder static), so a passive observer never
// sees who is connecting.
type HandshakeInit struct {
	Version      uint16
	Suite        constants.CipherSuite
	EphemeralPub []byte // 32 bytes
	KEMCiphertext []byte // 1568 bytes
	EncIdentity  []byte // AEAD-sealed identity bundle
}

const handshakeInitFixedLen = 2 + 2 + constants.X25519PublicKeySize + constants.MLKEMCiphertextSize

// Encode serializes the message payload.
func (m *HandshakeInit) Encode() ([]byte, error) {
	if len(m.EphemeralPub) != constants.X25519PublicKeySize ||
		len(m.KEMCiphertext) != constants.MLKEMCiphertextSize ||
		len(m.EncIdentity) == 0 {
		return nil, zerrors.ErrInvalidMessage
	}

	buf := make([]byte, 0, handshakeInitFixedLen+len(m.EncIdentity))
	buf = binary.BigEndian.AppendUint16(buf, m.Version)
	buf = binary.BigEndian.AppendUint16(buf, uint16(m.Suite))
	buf = append(buf, m.EphemeralPub...)
	buf = append(buf, m.KEMCiphertext...)
	buf = append(buf, m.EncIdentity...)
	return buf, nil
}

// DecodeHandshakeInit parses a HandshakeInit payload.
func DecodeHandshakeInit(data []byte) (*HandshakeInit, error) {
	if len(data) <= handshakeInitFixedLen {
		return nil, zerrors.ErrMalformed
	}

	m := &HandshakeInit{
		Version: binary.BigEndian.Uint16(data[0:2]),
		Suite:   constants.CipherSuite(binary.BigEndian.Uint16(data[2:4])),
	}

	off := 4
	m.EphemeralPub = append([]byte(nil), data[off:off+constants.X25519PublicKeySize]...)
	off += constants.X25519PublicKeySize
	m.KEMCiphertext = append([]byte(nil), data[off:off+constants.MLKEMCiphertextSize]...)
	off += constants.MLKEMCiphertextSize
	m.EncIdentity = append([]byte(nil), data[off:]...)

	if m.Version != constants.ProtocolVersion {
		return nil, zerrors.ErrUnsupportedVersion
	}
	if !m.Suite.IsSupported() {
		return nil, zerrors.ErrUnsupportedCipherSuite
	}

	return m, nil
}

// HandshakeReply is the second handshake message (responder to initiator).
//
// Wire layout:
//
//	ephemeral_pub(32) || kem_ct(1568) || enc_payload(var)
//
// The KEM ciphertext encapsulates to the initiator's static ML-KEM key,
// learned from the decrypted Msg1 identity. The encrypted payload carries
// the responder's identity bundle and its key-confirmation MAC.
type HandshakeReply struct {
	EphemeralPub  []byte // 32 bytes
	KEMCiphertext []byte // 1568 bytes
	EncPayload    []byte // AEAD-sealed identity bundle + confirmation MAC
}

const handshakeReplyFixedLen = constants.X25519PublicKeySize + constants.MLKEMCiphertextSize

// Encode serializes the message payload.
func (m *HandshakeReply) Encode() ([]byte, error) {
	if len(m.EphemeralPub) != constants.X25519PublicKeySize ||
		len(m.KEMCiphertext) != constants.MLKEMCiphertextSize ||
		len(m.EncPayload) == 0 {
		return nil, zerrors.ErrInvalidMessage
	}

	buf := make([]byte, 0, handshakeReplyFixedLen+len(m.EncPayload))
	buf = append(buf, m.EphemeralPub...)
	buf = append(buf, m.KEMCiphertext...)
	buf = append(buf, m.EncPayload...)
	return buf, nil
}

// DecodeHandshakeReply parses a HandshakeReply payload.
func DecodeHandshakeReply(data []byte) (*HandshakeReply, error) {
	if len(data) <= handshakeReplyFixedLen {
		return nil, zerrors.ErrMalformed
	}

	m := &HandshakeReply{}
	off := 0
	m.EphemeralPub = append([]byte(nil), data[off:off+constants.X25519PublicKeySize]...)
	off += constants.X25519PublicKeySize
	m.KEMCiphertext = append([]byte(nil), data[off:off+constants.MLKEMCiphertextSize]...)
	off += constants.MLKEMCiphertextSize
	m.EncPayload = append([]byte(nil), data[off:]...)

	return m, nil
}

// HandshakeConfirm is the third handshake message (initiator to responder).
// It carries the initiator's key-confirmation MAC over the transcript.
type HandshakeConfirm struct {
	ConfirmMAC []byte // 32 bytes, HMAC-SHA256
}

// Encode serializes the message payload.
func (m *HandshakeConfirm) Encode() ([]byte, error) {
	if len(m.ConfirmMAC) != 32 {
		return nil, zerrors.ErrInvalidMessage
	}
	return append([]byte(nil), m.ConfirmMAC...), nil
}

// DecodeHandshakeConfirm parses a HandshakeConfirm payload.
func DecodeHandshakeConfirm(data []byte) (*HandshakeConfirm, error) {
	if len(data) != 32 {
		return nil, zerrors.ErrMalformed
	}
	return &HandshakeConfirm{ConfirmMAC: append([]byte(nil), data...)}, nil
}

// RotationRequest asks the peer to rotate the sender's traffic key to a new
// generation.
//
// Wire layout:
//
//	generation(8) || nonce(32) || confirm_mac(32)
//
// The generation is the NEW generation number. The nonce is the fresh
// randomness for the ratchet. The MAC is computed under a key derived from
// the new traffic key, proving the requester's derivation without exposing
// any key material.
type RotationRequest struct {
	Generation uint64
	Nonce      []byte // 32 bytes
	ConfirmMAC []byte // 32 bytes
}

const rotationRequestLen = 8 + constants.RotationNonceSize + 32

// Encode serializes the message payload.
func (m *RotationRequest) Encode() ([]byte, error) {
	if len(m.Nonce) != constants.RotationNonceSize || len(m.ConfirmMAC) != 32 {
		return nil, zerrors.ErrInvalidMessage
	}

	buf := make([]byte, 0, rotationRequestLen)
	buf = binary.BigEndian.AppendUint64(buf, m.Generation)
	buf = append(buf, m.Nonce...)
	buf = append(buf, m.ConfirmMAC...)
	return buf, nil
}

// DecodeRotationRequest parses a RotationRequest payload.
func DecodeRotationRequest(data []byte) (*RotationRequest, error) {
	if len(data) != rotationRequestLen {
		return nil, zerrors.ErrMalformed
	}

	m := &RotationRequest{
		Generation: binary.BigEndian.Uint64(data[0:8]),
	}
	m.Nonce = append([]byte(nil), data[8:8+constants.RotationNonceSize]...)
	m.ConfirmMAC = append([]byte(nil), data[8+constants.RotationNonceSize:]...)
	return m, nil
}

// RotationAck confirms that the peer installed the rotated key.
//
// Wire layout:
//
//	generation(8) || confirm_mac(32)
//
// The MAC is computed under the same rotation-confirm key, over the literal
// string "ack" and the generation, so the requester knows the peer holds the
// identical new key before retiring the old one.
type RotationAck struct {
	Generation uint64
	ConfirmMAC []byte // 32 bytes
}

const rotationAckLen = 8 + 32

// Encode serializes the message payload.
func (m *RotationAck) Encode() ([]byte, error) {
	if len(m.ConfirmMAC) != 32 {
		return nil, zerrors.ErrInvalidMessage
	}

	buf := make([]byte, 0, rotationAckLen)
	buf = binary.BigEndian.AppendUint64(buf, m.Generation)
	buf = append(buf, m.ConfirmMAC...)
	return buf, nil
}

// DecodeRotationAck parses a RotationAck payload.
func DecodeRotationAck(data []byte) (*RotationAck, error) {
	if len(data) != rotationAckLen {
		return nil, zerrors.ErrMalformed
	}

	m := &RotationAck{
		Generation: binary.BigEndian.Uint64(data[0:8]),
	}
	m.ConfirmMAC = append([]byte(nil), data[8:]...)
	return m, nil
}

// AlertCode identifies an alert condition.
type AlertCode uint8

const (
	AlertCloseNotify   AlertCode = 0x00
	AlertProtocolError AlertCode = 0x01
	AlertRotationError AlertCode = 0x02
)

// Alert is a fatal or informational notification to the peer.
type Alert struct {
	Code AlertCode
}

// Encode serializes the message payload.
func (m *Alert) Encode() ([]byte, error) {
	return []byte{byte(m.Code)}, nil
}

// DecodeAlert parses an Alert payload.
func DecodeAlert(data []byte) (*Alert, error) {
	if len(data) != 1 {
		return nil, zerrors.ErrMalformed
	}
	return &Alert{Code: AlertCode(data[0])}, nil
}

// DataFrame is an encrypted data frame.
//
// Wire layout:
//
//	generation(8) || counter(8) || aead_ct(var)
//
// The header is not encrypted but is bound into the AEAD associated data,
// so any tampering with generation or counter fails authentication.
type DataFrame struct {
	Generation uint64
	Counter    uint64
	Ciphertext []byte
}

// Encode serializes the frame.
func (f *DataFrame) Encode() ([]byte, error) {
	if len(f.Ciphertext) < constants.AEADTagSize {
		return nil, zerrors.ErrInvalidMessage
	}

	buf := make([]byte, 0, constants.FrameHeaderSize+len(f.Ciphertext))
	buf = binary.BigEndian.AppendUint64(buf, f.Generation)
	buf = binary.BigEndian.AppendUint64(buf, f.Counter)
	buf = append(buf, f.Ciphertext...)
	return buf, nil
}

// DecodeDataFrame parses an encrypted data frame.
func DecodeDataFrame(data []byte) (*DataFrame, error) {
	if len(data) < constants.MinFrameSize {
		return nil, zerrors.ErrMalformed
	}

	return &DataFrame{
		Generation: binary.BigEndian.Uint64(data[0:8]),
		Counter:    binary.BigEndian.Uint64(data[8:16]),
		Ciphertext: append([]byte(nil), data[constants.FrameHeaderSize:]...),
	}, nil
}
