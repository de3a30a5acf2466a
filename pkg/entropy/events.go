package entropy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
)

// EventType discriminates swarm entropy events on the wire.
type EventType string

const (
	// EventCommit announces a hash commitment to a future contribution
	EventCommit EventType = "commit"

	// EventReveal discloses the contribution matching an earlier commitment
	EventReveal EventType = "reveal"

	// EventReady signals that enough peers have completed commit-reveal
	EventReady EventType = "ready"
)

// Event is a swarm entropy event as carried on the coordination channel.
// Binary fields are hex-encoded, matching the swarm's JSON wire format.
type Event struct {
	Type EventType `json:"type"`

	// PeerID identifies the contributing peer (commit and reveal)
	PeerID string `json:"peer_id,omitempty"`

	// Commitment is the hex SHA-256 commitment (commit only)
	Commitment string `json:"commitment,omitempty"`

	// Entropy is the hex-encoded revealed contribution (reveal only)
	Entropy string `json:"entropy,omitempty"`

	// PeerCount is the number of peers that completed the round (ready only)
	PeerCount int `json:"peer_count,omitempty"`
}

// Commitment computes the SHA-256 commitment for a contribution.
// Publishing the hash before the value prevents a peer from choosing its
// contribution after seeing everyone else's.
func Commitment(data []byte) [sha256.Size]byte {
	return sha256.Sum256(data)
}

// NewCommitEvent builds a commit event for the given contribution.
func NewCommitEvent(peerID string, data []byte) Event {
	c := Commitment(data)
	return Event{
		Type:       EventCommit,
		PeerID:     peerID,
		Commitment: hex.EncodeToString(c[:]),
	}
}

// NewRevealEvent builds a reveal event disclosing the contribution.
func NewRevealEvent(peerID string, data []byte) Event {
	return Event{
		Type:    EventReveal,
		PeerID:  peerID,
		Entropy: hex.EncodeToString(data),
	}
}

// NewReadyEvent builds a ready event for a completed round.
func NewReadyEvent(peerCount int) Event {
	return Event{
		Type:      EventReady,
		PeerCount: peerCount,
	}
}

// Encode serializes the event to its JSON wire form.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses an event from its JSON wire form.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, zerrors.NewCryptoError("DecodeEvent", err)
	}
	switch e.Type {
	case EventCommit, EventReveal, EventReady:
	default:
		return Event{}, zerrors.ErrInvalidMessage
	}
	return e, nil
}

// RevealedBytes decodes the hex contribution of a reveal event.
// Contributions are fixed-size chunks; anything else is malformed.
func (e Event) RevealedBytes() ([]byte, error) {
	if e.Type != EventReveal {
		return nil, zerrors.ErrInvalidMessage
	}
	data, err := hex.DecodeString(e.Entropy)
	if err != nil {
		return nil, zerrors.NewCryptoError("RevealedBytes", err)
	}
	if len(data) != constants.EntropyChunkSize {
		return nil, zerrors.ErrInvalidMessage
	}
	return data, nil
}

// CommitmentBytes decodes the hex commitment of a commit event.
func (e Event) CommitmentBytes() ([]byte, error) {
	if e.Type != EventCommit {
		return nil, zerrors.ErrInvalidMessage
	}
	c, err := hex.DecodeString(e.Commitment)
	if err != nil {
		return nil, zerrors.NewCryptoError("CommitmentBytes", err)
	}
	if len(c) != constants.CommitmentSize {
		return nil, zerrors.ErrInvalidMessage
	}
	return c, nil
}
