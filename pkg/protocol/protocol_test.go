package protocol_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
	"github.com/zkswarm/zks-core/pkg/protocol"
)

func TestWriteReadMessage(t *testing.T) {
	var buf bytes.Buffer

	payload := []byte("hello swarm")
	if err := protocol.WriteMessage(&buf, protocol.MsgTypeData, payload); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	msgType, got, err := protocol.ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if msgType != protocol.MsgTypeData {
		t.Errorf("Message type: got %v, want Data", msgType)
	}
	if !bytes.Equal(got, payload) {
		t.Error("Payload does not match")
	}
}

func TestReadMessageSizeGuard(t *testing.T) {
	// Header claiming a payload larger than the limit.
	var buf bytes.Buffer
	buf.Write([]byte{byte(protocol.MsgTypeData), 0xFF, 0xFF, 0xFF, 0xFF})

	if _, _, err := protocol.ReadMessage(&buf); !errors.Is(err, zerrors.ErrMessageTooLarge) {
		t.Errorf("Oversized message: got %v, want ErrMessageTooLarge", err)
	}
}

func TestExpectMessageWrongType(t *testing.T) {
	var buf bytes.Buffer
	if err := protocol.WriteMessage(&buf, protocol.MsgTypeAlert, []byte{0}); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	if _, err := protocol.ExpectMessage(&buf, protocol.MsgTypeData); !errors.Is(err, zerrors.ErrInvalidMessage) {
		t.Errorf("Wrong type: got %v, want ErrInvalidMessage", err)
	}
}

func TestHandshakeInitRoundTrip(t *testing.T) {
	m := &protocol.HandshakeInit{
		Version:       constants.ProtocolVersion,
		Suite:         constants.CipherSuiteChaCha20Poly1305,
		EphemeralPub:  bytes.Repeat([]byte{0x01}, constants.X25519PublicKeySize),
		KEMCiphertext: bytes.Repeat([]byte{0x02}, constants.MLKEMCiphertextSize),
		EncIdentity:   bytes.Repeat([]byte{0x03}, 100),
	}

	encoded, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := protocol.DecodeHandshakeInit(encoded)
	if err != nil {
		t.Fatalf("DecodeHandshakeInit failed: %v", err)
	}

	if decoded.Version != m.Version || decoded.Suite != m.Suite {
		t.Error("Version or suite mismatch")
	}
	if !bytes.Equal(decoded.EphemeralPub, m.EphemeralPub) ||
		!bytes.Equal(decoded.KEMCiphertext, m.KEMCiphertext) ||
		!bytes.Equal(decoded.EncIdentity, m.EncIdentity) {
		t.Error("Decoded fields do not match")
	}
}

func TestHandshakeInitRejectsBadVersion(t *testing.T) {
	m := &protocol.HandshakeInit{
		Version:       0x7777,
		Suite:         constants.CipherSuiteChaCha20Poly1305,
		EphemeralPub:  make([]byte, constants.X25519PublicKeySize),
		KEMCiphertext: make([]byte, constants.MLKEMCiphertextSize),
		EncIdentity:   make([]byte, 10),
	}

	encoded, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if _, err := protocol.DecodeHandshakeInit(encoded); !errors.Is(err, zerrors.ErrUnsupportedVersion) {
		t.Errorf("Bad version: got %v, want ErrUnsupportedVersion", err)
	}
}

func TestHandshakeInitRejectsTruncated(t *testing.T) {
	if _, err := protocol.DecodeHandshakeInit(make([]byte, 50)); !errors.Is(err, zerrors.ErrMalformed) {
		t.Errorf("Truncated init: got %v, want ErrMalformed", err)
	}
}

func TestRotationRequestRoundTrip(t *testing.T) {
	m := &protocol.RotationRequest{
		Generation: 7,
		Nonce:      bytes.Repeat([]byte{0xAA}, constants.RotationNonceSize),
		ConfirmMAC: bytes.Repeat([]byte{0xBB}, 32),
	}

	encoded, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := protocol.DecodeRotationRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeRotationRequest failed: %v", err)
	}

	if decoded.Generation != 7 ||
		!bytes.Equal(decoded.Nonce, m.Nonce) ||
		!bytes.Equal(decoded.ConfirmMAC, m.ConfirmMAC) {
		t.Error("Decoded fields do not match")
	}
}

func TestRotationAckRoundTrip(t *testing.T) {
	m := &protocol.RotationAck{
		Generation: 9,
		ConfirmMAC: bytes.Repeat([]byte{0xCC}, 32),
	}

	encoded, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := protocol.DecodeRotationAck(encoded)
	if err != nil {
		t.Fatalf("DecodeRotationAck failed: %v", err)
	}
	if decoded.Generation != 9 || !bytes.Equal(decoded.ConfirmMAC, m.ConfirmMAC) {
		t.Error("Decoded fields do not match")
	}
}

func TestDataFrameRoundTrip(t *testing.T) {
	f := &protocol.DataFrame{
		Generation: 3,
		Counter:    42,
		Ciphertext: bytes.Repeat([]byte{0xDD}, 64),
	}

	encoded, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := protocol.DecodeDataFrame(encoded)
	if err != nil {
		t.Fatalf("DecodeDataFrame failed: %v", err)
	}
	if decoded.Generation != 3 || decoded.Counter != 42 {
		t.Error("Header fields do not match")
	}
	if !bytes.Equal(decoded.Ciphertext, f.Ciphertext) {
		t.Error("Ciphertext does not match")
	}
}

func TestDecodeDataFrameRejectsShort(t *testing.T) {
	if _, err := protocol.DecodeDataFrame(make([]byte, constants.MinFrameSize-1)); !errors.Is(err, zerrors.ErrMalformed) {
		t.Errorf("Short frame: got %v, want ErrMalformed", err)
	}
}
