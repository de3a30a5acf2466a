package protocol

import (
	"encoding/binary"
	"io"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
)

// headerSize is the fixed message header: type (1 byte) + length (4 bytes).
const headerSize = 5

// WriteMessage frames and writes a message payload to w.
// It blocks until the full message is written or w fails.
func WriteMessage(w io.Writer, msgType MessageType, payload []byte) error {
	if len(payload) > constants.MaxMessageSize {
		return zerrors.ErrMessageTooLarge
	}

	header := make([]byte, headerSize)
	header[0] = byte(msgType)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadMessage reads one framed message from r.
// It rejects messages larger than MaxMessageSize before reading the body.
func ReadMessage(r io.Reader) (MessageType, []byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}

	msgType := MessageType(header[0])
	length := binary.BigEndian.Uint32(header[1:])

	if length > constants.MaxMessageSize {
		return 0, nil, zerrors.ErrMessageTooLarge
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}

	return msgType, payload, nil
}

// ExpectMessage reads one message and fails unless it has the wanted type.
// Used by the handshake, where message order is fixed.
func ExpectMessage(r io.Reader, want MessageType) ([]byte, error) {
	msgType, payload, err := ReadMessage(r)
	if err != nil {
		return nil, err
	}
	if msgType != want {
		return nil, zerrors.ErrInvalidMessage
	}
	return payload, nil
}
