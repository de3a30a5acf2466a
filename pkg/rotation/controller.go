// Package rotation implements per-direction traffic key rotation.
//
// A key generation is retired when it has carried too many bytes, lived too
// long, or is running out of nonces. The replacement key is ratcheted from
// the old one with fresh randomness:
//
//	k_new = HKDF-SHA256(ikm = k_old, salt = nonce, info = "zks-rotate" || gen)
//
// No key material crosses the wire. The rotation request carries only the
// nonce, the new generation number, and a MAC under a key derived from
// k_new; a peer that derives a different k_new fails the MAC check and the
// rotation aborts before either side installs anything inconsistent.
//
// Each direction rotates independently: the sender of a direction decides
// when its key rotates, and the receiver follows. In-flight frames from the
// previous generation remain decryptable during the session's grace window.
package rotation

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
	"github.com/zkswarm/zks-core/pkg/crypto"
	"github.com/zkswarm/zks-core/pkg/metrics"
)

// State is the controller's rotation state.
type State int

const (
	// StateActive means the current generation is in service and no
	// rotation is pending.
	StateActive State = iota

	// StateInFlight means a rotation request has been issued and awaits
	// the peer's acknowledgment.
	StateInFlight

	// StateFailed means the peer never confirmed and the controller is
	// unusable. The session must be torn down.
	StateFailed
)

// Reason identifies what triggered a rotation.
type Reason int

const (
	ReasonBytes Reason = iota
	ReasonAge
	ReasonNoncePressure
	ReasonPeerRequest
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonBytes:
		return "bytes"
	case ReasonAge:
		return "age"
	case ReasonNoncePressure:
		return "nonce-pressure"
	case ReasonPeerRequest:
		return "peer-request"
	default:
		return "unknown"
	}
}

// Event describes a rotation the session must announce to the peer.
// NewKey is the ratcheted key for building the replacement cipher once the
// peer acknowledges.
type Event struct {
	Generation uint64 // The NEW generation number
	Nonce      []byte
	ConfirmMAC []byte
	NewKey     []byte
	Reason     Reason
}

// Config bounds a single key generation's service life.
type Config struct {
	// ByteThreshold rotates after this many plaintext bytes (default 2^32)
	ByteThreshold uint64

	// Interval rotates after this much wall-clock time (default 60s)
	Interval time.Duration

	// AckTimeout bounds the wait for the peer's acknowledgment
	AckTimeout time.Duration

	// MaxRetries is the number of request retransmissions before the peer
	// is declared unresponsive
	MaxRetries int
}

// DefaultConfig returns the standard rotation thresholds.
func DefaultConfig() Config {
	return Config{
		ByteThreshold: constants.DefaultRotationByteThreshold,
		Interval:      constants.DefaultRotationIntervalSeconds * time.Second,
		AckTimeout:    constants.DefaultRotationAckTimeoutSeconds * time.Second,
		MaxRetries:    constants.RotationMaxRetries,
	}
}

func (c Config) withDefaults() Config {
	if c.ByteThreshold == 0 {
		c.ByteThreshold = constants.DefaultRotationByteThreshold
	}
	if c.Interval <= 0 {
		c.Interval = constants.DefaultRotationIntervalSeconds * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = constants.DefaultRotationAckTimeoutSeconds * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = constants.RotationMaxRetries
	}
	return c
}

// Controller manages key rotation for one direction of a session.
type Controller struct {
	mu sync.Mutex

	direction string // "send" or "recv", for errors and logs
	cfg       Config
	logger    *metrics.Logger

	state      State
	generation uint64
	currentKey []byte
	installedAt time.Time

	// In-flight rotation state
	pendingGen    uint64
	pendingKey    []byte
	pendingNonce  []byte
	pendingMAC    []byte
	pendingReason Reason
	requestedAt   time.Time
	retries       int
}

// NewController creates a controller holding the given traffic key.
// The key is copied; the caller may zeroize its copy.
func NewController(direction string, key []byte, generation uint64, cfg Config, logger *metrics.Logger) (*Controller, error) {
	if len(key) != constants.AEADKeySize {
		return nil, zerrors.ErrInvalidKeySize
	}
	if logger == nil {
		logger = metrics.NullLogger()
	}

	return &Controller{
		direction:   direction,
		cfg:         cfg.withDefaults(),
		logger:      logger.Named("rotation"),
		state:       StateActive,
		generation:  generation,
		currentKey:  append([]byte(nil), key...),
		installedAt: time.Now(),
	}, nil
}

// Generation returns the current key generation.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// State returns the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MaybeRotate checks the rotation triggers against the current counters and
// returns at most one Event per threshold crossing. While a rotation is in
// flight, further calls return nil until the peer acknowledges; crossing a
// threshold fires exactly one event.
func (c *Controller) MaybeRotate(bytesSent uint64, noncePressure bool, now time.Time) (*Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateFailed {
		return nil, zerrors.NewRotationError(c.direction, zerrors.ErrPeerUnresponsive)
	}
	if c.state != StateActive {
		return nil, nil
	}

	var reason Reason
	switch {
	case noncePressure:
		reason = ReasonNoncePressure
	case bytesSent >= c.cfg.ByteThreshold:
		reason = ReasonBytes
	case now.Sub(c.installedAt) >= c.cfg.Interval:
		reason = ReasonAge
	default:
		return nil, nil
	}

	ev, err := c.beginRotation(reason, now)
	if err != nil {
		return nil, zerrors.NewRotationError(c.direction, err)
	}
	return ev, nil
}

// beginRotation derives the next generation and moves to InFlight.
// Caller holds c.mu.
func (c *Controller) beginRotation(reason Reason, now time.Time) (*Event, error) {
	nonce, err := crypto.SecureRandomBytes(constants.RotationNonceSize)
	if err != nil {
		return nil, err
	}

	newGen := c.generation + 1
	newKey, err := crypto.DeriveRotatedKey(c.currentKey, nonce, newGen)
	if err != nil {
		return nil, err
	}

	mac, err := requestMAC(newKey, nonce, newGen)
	if err != nil {
		crypto.Zeroize(newKey)
		return nil, err
	}

	c.state = StateInFlight
	c.pendingGen = newGen
	c.pendingKey = newKey
	c.pendingNonce = nonce
	c.pendingMAC = mac
	c.pendingReason = reason
	c.requestedAt = now
	c.retries = 0

	c.logger.Info("key rotation initiated", metrics.Fields{
		"direction":  c.direction,
		"generation": newGen,
		"reason":     reason.String(),
	})

	return &Event{
		Generation: newGen,
		Nonce:      append([]byte(nil), nonce...),
		ConfirmMAC: append([]byte(nil), mac...),
		NewKey:     append([]byte(nil), newKey...),
		Reason:     reason,
	}, nil
}

// RequestRotation starts a rotation immediately, regardless of thresholds.
// Used when the peer asks this endpoint to retire its send key early. At
// most one rotation can be in flight per direction.
func (c *Controller) RequestRotation(now time.Time) (*Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateFailed:
		return nil, zerrors.NewRotationError(c.direction, zerrors.ErrPeerUnresponsive)
	case StateInFlight:
		return nil, zerrors.NewRotationError(c.direction, zerrors.ErrRotationInFlight)
	}

	ev, err := c.beginRotation(ReasonPeerRequest, now)
	if err != nil {
		return nil, zerrors.NewRotationError(c.direction, err)
	}
	return ev, nil
}

// HandlePeerRequest processes the peer's rotation request for the key this
// controller tracks. On success the new key is installed immediately and
// the returned key and acknowledgment MAC go back to the peer.
func (c *Controller) HandlePeerRequest(newGen uint64, nonce, mac []byte, now time.Time) (newKey, ackMAC []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateFailed {
		return nil, nil, zerrors.NewRotationError(c.direction, zerrors.ErrInvalidState)
	}
	if newGen != c.generation+1 {
		return nil, nil, zerrors.NewRotationError(c.direction, zerrors.ErrStaleGeneration)
	}
	if len(nonce) != constants.RotationNonceSize {
		return nil, nil, zerrors.NewRotationError(c.direction, zerrors.ErrInvalidNonce)
	}

	derived, err := crypto.DeriveRotatedKey(c.currentKey, nonce, newGen)
	if err != nil {
		return nil, nil, zerrors.NewRotationError(c.direction, err)
	}

	expected, err := requestMAC(derived, nonce, newGen)
	if err != nil {
		crypto.Zeroize(derived)
		return nil, nil, zerrors.NewRotationError(c.direction, err)
	}
	if !crypto.ConstantTimeCompare(expected, mac) {
		crypto.Zeroize(derived)
		return nil, nil, zerrors.NewRotationError(c.direction, zerrors.ErrDerivationMismatch)
	}

	ack, err := ackMACFor(derived, newGen)
	if err != nil {
		crypto.Zeroize(derived)
		return nil, nil, zerrors.NewRotationError(c.direction, err)
	}

	c.install(derived, newGen, now)

	c.logger.Info("peer key rotation applied", metrics.Fields{
		"direction":  c.direction,
		"generation": newGen,
	})

	return append([]byte(nil), derived...), ack, nil
}

// HandleAck processes the peer's acknowledgment of our in-flight rotation.
// On success the pending key is installed and returned for cipher
// replacement.
func (c *Controller) HandleAck(gen uint64, mac []byte, now time.Time) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInFlight || gen != c.pendingGen {
		return nil, zerrors.NewRotationError(c.direction, zerrors.ErrInvalidState)
	}

	expected, err := ackMACFor(c.pendingKey, gen)
	if err != nil {
		return nil, zerrors.NewRotationError(c.direction, err)
	}
	if !crypto.ConstantTimeCompare(expected, mac) {
		return nil, zerrors.NewRotationError(c.direction, zerrors.ErrDerivationMismatch)
	}

	newKey := c.pendingKey
	c.clearPendingLocked(false)
	c.install(newKey, gen, now)

	c.logger.Info("key rotation confirmed", metrics.Fields{
		"direction":  c.direction,
		"generation": gen,
	})

	return append([]byte(nil), newKey...), nil
}

// CheckAckTimeout re-issues the in-flight request if the peer is slow, and
// fails the controller once retries are exhausted. The returned Event, when
// non-nil, is the retransmission.
func (c *Controller) CheckAckTimeout(now time.Time) (*Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInFlight {
		return nil, nil
	}
	if now.Sub(c.requestedAt) < c.cfg.AckTimeout {
		return nil, nil
	}

	if c.retries >= c.cfg.MaxRetries {
		c.state = StateFailed
		c.clearPendingLocked(true)
		c.logger.Error("peer never acknowledged rotation", metrics.Fields{
			"direction": c.direction,
			"retries":   c.retries,
		})
		return nil, zerrors.NewRotationError(c.direction, zerrors.ErrPeerUnresponsive)
	}

	c.retries++
	c.requestedAt = now

	c.logger.Warn("rotation ack overdue, retransmitting", metrics.Fields{
		"direction": c.direction,
		"attempt":   c.retries,
	})

	return &Event{
		Generation: c.pendingGen,
		Nonce:      append([]byte(nil), c.pendingNonce...),
		ConfirmMAC: append([]byte(nil), c.pendingMAC...),
		NewKey:     append([]byte(nil), c.pendingKey...),
		Reason:     c.pendingReason,
	}, nil
}

// install replaces the current key. Caller holds c.mu; ownership of key
// transfers to the controller.
func (c *Controller) install(key []byte, gen uint64, now time.Time) {
	crypto.Zeroize(c.currentKey)
	c.currentKey = key
	c.generation = gen
	c.installedAt = now
	if c.state != StateFailed {
		c.state = StateActive
	}
}

// clearPendingLocked drops in-flight state. Caller holds c.mu.
func (c *Controller) clearPendingLocked(zeroizeKey bool) {
	if zeroizeKey {
		crypto.Zeroize(c.pendingKey)
	}
	c.pendingKey = nil
	c.pendingNonce = nil
	c.pendingMAC = nil
	c.pendingGen = 0
	c.retries = 0
}

// Zeroize erases all key material. The controller is unusable afterwards.
func (c *Controller) Zeroize() {
	c.mu.Lock()
	defer c.mu.Unlock()

	crypto.ZeroizeMultiple(c.currentKey, c.pendingKey)
	c.currentKey = nil
	c.pendingKey = nil
	c.pendingNonce = nil
	c.pendingMAC = nil
	c.state = StateFailed
}

// requestMAC authenticates a rotation request: MAC over nonce and the new
// generation, keyed by the rotation-confirm key of the NEW traffic key.
func requestMAC(newKey, nonce []byte, gen uint64) ([]byte, error) {
	kc, err := crypto.DeriveRotationConfirmKey(newKey)
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(kc)

	msg := make([]byte, 0, len(nonce)+8)
	msg = append(msg, nonce...)
	msg = binary.BigEndian.AppendUint64(msg, gen)
	return crypto.ComputeMAC(kc, msg), nil
}

// ackMACFor authenticates a rotation acknowledgment.
func ackMACFor(newKey []byte, gen uint64) ([]byte, error) {
	kc, err := crypto.DeriveRotationConfirmKey(newKey)
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(kc)

	msg := make([]byte, 0, 3+8)
	msg = append(msg, "ack"...)
	msg = binary.BigEndian.AppendUint64(msg, gen)
	return crypto.ComputeMAC(kc, msg), nil
}
