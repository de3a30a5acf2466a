// Package tunnel assembles the cryptographic core into a session: hybrid
// handshake, double-key traffic protection, swarm entropy, key rotation
// with a grace window, and replay defense.
//
// A Session is one end of an established tunnel. It owns a send cipher for
// the current generation and a small set of receive ciphers: the current
// generation plus recently retired ones that stay decryptable for in-flight
// frames until the grace window closes.
package tunnel

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
	"github.com/zkswarm/zks-core/pkg/crypto"
	"github.com/zkswarm/zks-core/pkg/entropy"
	"github.com/zkswarm/zks-core/pkg/handshake"
	"github.com/zkswarm/zks-core/pkg/metrics"
	"github.com/zkswarm/zks-core/pkg/protocol"
	"github.com/zkswarm/zks-core/pkg/rotation"
	"github.com/zkswarm/zks-core/pkg/wvernam"
)

// Role indicates whether this endpoint initiated the session.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// String returns the role name.
func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// SessionState represents the session lifecycle state.
type SessionState int32

const (
	// SessionStateEstablished means the session is carrying traffic
	SessionStateEstablished SessionState = iota

	// SessionStateRotating means a send-key rotation awaits the peer's ack
	SessionStateRotating

	// SessionStateClosed means the session is terminated and zeroized
	SessionStateClosed
)

// String returns a human-readable name for the session state.
func (s SessionState) String() string {
	switch s {
	case SessionStateEstablished:
		return "Established"
	case SessionStateRotating:
		return "Rotating"
	case SessionStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// recvEntry is one receive generation: its cipher, its replay window, and
// the moment it was superseded (zero while current).
type recvEntry struct {
	cipher    *wvernam.Cipher
	window    *ReplayWindow
	retiredAt time.Time
}

// Session is one end of an established tunnel.
type Session struct {
	// Unique session identifier
	ID []byte

	// Role of this endpoint
	Role Role

	cfg      Config
	logger   *metrics.Logger
	observer Observer
	pool     *entropy.Pool

	state atomic.Int32

	mu          sync.RWMutex
	sendCipher  *wvernam.Cipher
	recvCiphers map[uint64]*recvEntry
	recvGen     uint64
	sendCtl     *rotation.Controller
	recvCtl     *rotation.Controller

	// Completion hook for the in-flight rotation span
	rotationDone func(error)

	CreatedAt     time.Time
	EstablishedAt time.Time

	BytesSent     atomic.Uint64
	BytesReceived atomic.Uint64
	FramesSent    atomic.Uint64
	FramesRecv    atomic.Uint64
}

// Initiate dials the handshake over rw and returns an established session.
func Initiate(ctx context.Context, rw io.ReadWriter, local *handshake.Identity,
	peerBundle *handshake.Bundle, cfg Config) (*Session, error) {

	cfg = cfg.withDefaults()
	start := time.Now()
	if cfg.Stats != nil {
		cfg.Stats.HandshakeStarted()
	}

	keys, err := handshake.Initiate(ctx, rw, local, peerBundle, cfg.Suite, cfg.HandshakeTimeout, cfg.Logger)
	if err != nil {
		if cfg.Stats != nil {
			cfg.Stats.HandshakeFailed()
		}
		return nil, err
	}
	if cfg.Stats != nil {
		cfg.Stats.HandshakeCompleted(time.Since(start))
	}

	return NewSessionFromKeys(RoleInitiator, keys, cfg)
}

// Respond answers the handshake over rw and returns an established session.
func Respond(ctx context.Context, rw io.ReadWriter, local *handshake.Identity,
	authorize func(*handshake.Bundle) bool, cfg Config) (*Session, error) {

	cfg = cfg.withDefaults()
	start := time.Now()
	if cfg.Stats != nil {
		cfg.Stats.HandshakeStarted()
	}

	keys, err := handshake.Respond(ctx, rw, local, authorize, cfg.HandshakeTimeout, cfg.Logger)
	if err != nil {
		if cfg.Stats != nil {
			cfg.Stats.HandshakeFailed()
		}
		return nil, err
	}
	if cfg.Stats != nil {
		cfg.Stats.HandshakeCompleted(time.Since(start))
	}

	return NewSessionFromKeys(RoleResponder, keys, cfg)
}

// NewSessionFromKeys builds an established session from handshake output.
// The session takes ownership of keys and zeroizes them.
func NewSessionFromKeys(role Role, keys *handshake.SessionKeys, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	cfg.Suite = keys.Suite
	defer keys.Zeroize()

	sessionID, err := crypto.SecureRandomBytes(constants.SessionIDSize)
	if err != nil {
		return nil, err
	}

	pool := entropy.NewPool(cfg.EntropyPoolCapacity)
	logger := cfg.Logger.Named("tunnel").With(metrics.Fields{"role": role.String()})

	sendCipher, err := wvernam.New(keys.Suite, keys.SendKey[:], keys.Generation, pool, logger)
	if err != nil {
		return nil, err
	}
	recvCipher, err := wvernam.New(keys.Suite, keys.RecvKey[:], keys.Generation, pool, logger)
	if err != nil {
		return nil, err
	}

	sendCtl, err := rotation.NewController("send", keys.SendKey[:], keys.Generation, cfg.rotationConfig(), logger)
	if err != nil {
		return nil, err
	}
	recvCtl, err := rotation.NewController("recv", keys.RecvKey[:], keys.Generation, cfg.rotationConfig(), logger)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:         sessionID,
		Role:       role,
		cfg:        cfg,
		logger:     logger,
		observer:   cfg.Observer,
		pool:       pool,
		sendCipher: sendCipher,
		recvCiphers: map[uint64]*recvEntry{
			keys.Generation: {cipher: recvCipher, window: NewReplayWindow()},
		},
		recvGen:       keys.Generation,
		sendCtl:       sendCtl,
		recvCtl:       recvCtl,
		CreatedAt:     keys.CreatedAt,
		EstablishedAt: time.Now(),
	}
	s.state.Store(int32(SessionStateEstablished))

	if s.observer != nil {
		s.observer.OnSessionStart()
	}
	return s, nil
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Pool returns the session's entropy pool, for feeding swarm contributions.
func (s *Session) Pool() *entropy.Pool {
	return s.pool
}

// Encrypt seals plaintext into a data frame under the current send
// generation. The optional aad is authenticated but not transmitted; the
// peer must supply the same bytes to Decrypt.
func (s *Session) Encrypt(plaintext, aad []byte) (*protocol.DataFrame, error) {
	if s.State() == SessionStateClosed {
		return nil, zerrors.ErrSessionClosed
	}
	if len(plaintext) > constants.MaxPayloadSize {
		return nil, zerrors.ErrMessageTooLarge
	}
	// An over-threshold key whose rotation failed never carries more
	// traffic; the session is only good for teardown.
	if s.sendCtl.State() == rotation.StateFailed {
		return nil, zerrors.NewRotationError("send", zerrors.ErrPeerUnresponsive)
	}

	s.mu.RLock()
	cipher := s.sendCipher
	s.mu.RUnlock()

	var done func(error)
	if s.observer != nil {
		_, done = s.observer.OnEncrypt(context.Background(), len(plaintext))
	}

	ciphertext, counter, err := cipher.Encrypt(plaintext, aad)
	if err != nil {
		if done != nil {
			done(err)
		}
		return nil, err
	}
	if done != nil {
		done(nil)
	}

	s.BytesSent.Add(uint64(len(plaintext)))
	s.FramesSent.Add(1)

	return &protocol.DataFrame{
		Generation: cipher.Generation(),
		Counter:    counter,
		Ciphertext: ciphertext,
	}, nil
}

// Decrypt opens a received data frame. The frame's generation selects the
// receive cipher: the current generation always works, a retired one works
// until its grace window closes, anything else is stale. The aad must match
// what the sender passed to Encrypt.
func (s *Session) Decrypt(frame *protocol.DataFrame, aad []byte) ([]byte, error) {
	if s.State() == SessionStateClosed {
		return nil, zerrors.ErrSessionClosed
	}

	s.mu.RLock()
	entry, ok := s.recvCiphers[frame.Generation]
	var retiredAt time.Time
	if ok {
		retiredAt = entry.retiredAt
	}
	s.mu.RUnlock()

	if !ok {
		if s.observer != nil {
			s.observer.OnProtocolError(zerrors.ErrStaleGeneration)
		}
		return nil, zerrors.ErrStaleGeneration
	}
	if !retiredAt.IsZero() && time.Since(retiredAt) > s.cfg.GraceWindow {
		s.pruneRetired(time.Now())
		if s.observer != nil {
			s.observer.OnProtocolError(zerrors.ErrStaleGeneration)
		}
		return nil, zerrors.ErrStaleGeneration
	}

	if !entry.window.Check(frame.Counter) {
		if s.observer != nil {
			s.observer.OnReplayDetected()
		}
		return nil, zerrors.ErrReplayDetected
	}

	var done func(error)
	if s.observer != nil {
		_, done = s.observer.OnDecrypt(context.Background(), len(frame.Ciphertext))
	}

	plaintext, err := entry.cipher.Decrypt(frame.Ciphertext, frame.Counter, aad)
	if err != nil {
		if s.observer != nil && zerrors.Is(err, zerrors.ErrAuthenticationFailed) {
			s.observer.OnAuthFailure()
		}
		if done != nil {
			done(err)
		}
		return nil, err
	}
	if done != nil {
		done(nil)
	}

	// Only authenticated frames advance the window. A forged counter must
	// never block the genuine frame that later arrives with the same value.
	if !entry.window.Mark(frame.Counter) {
		crypto.Zeroize(plaintext)
		if s.observer != nil {
			s.observer.OnReplayDetected()
		}
		return nil, zerrors.ErrReplayDetected
	}

	s.BytesReceived.Add(uint64(len(plaintext)))
	s.FramesRecv.Add(1)

	return plaintext, nil
}

// MaybeRotate checks the send direction's rotation triggers. When a
// threshold has been crossed it returns the rotation request to send to the
// peer; otherwise nil. The send cipher keeps serving the old generation
// until the peer acknowledges.
func (s *Session) MaybeRotate(now time.Time) (*protocol.RotationRequest, error) {
	if s.State() == SessionStateClosed {
		return nil, zerrors.ErrSessionClosed
	}

	s.mu.RLock()
	bytesSent := s.sendCipher.BytesProcessed()
	pressure := s.sendCipher.NeedsRotation()
	s.mu.RUnlock()

	ev, err := s.sendCtl.MaybeRotate(bytesSent, pressure, now)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, nil
	}
	return s.announceRotation(ev), nil
}

// ForceRotate starts a send-key rotation immediately, regardless of
// thresholds. Used when the peer asks this endpoint to retire its key early.
// While a rotation is already in flight it fails with ErrRotationInFlight.
func (s *Session) ForceRotate(now time.Time) (*protocol.RotationRequest, error) {
	if s.State() == SessionStateClosed {
		return nil, zerrors.ErrSessionClosed
	}

	ev, err := s.sendCtl.RequestRotation(now)
	if err != nil {
		return nil, err
	}
	return s.announceRotation(ev), nil
}

// announceRotation moves the session into the rotating state and converts
// the controller event into the wire request.
func (s *Session) announceRotation(ev *rotation.Event) *protocol.RotationRequest {
	// The event's key copy lives in the controller until the ack arrives.
	crypto.Zeroize(ev.NewKey)

	s.mu.Lock()
	if s.observer != nil {
		_, s.rotationDone = s.observer.OnRotationStart(context.Background())
	}
	s.mu.Unlock()
	s.state.Store(int32(SessionStateRotating))

	s.logger.Info("send key rotation requested", metrics.Fields{
		"generation": ev.Generation,
		"reason":     ev.Reason.String(),
	})

	return &protocol.RotationRequest{
		Generation: ev.Generation,
		Nonce:      ev.Nonce,
		ConfirmMAC: ev.ConfirmMAC,
	}
}

// HandleRotationRequest processes the peer's rotation of ITS send key,
// which is our receive key. The new receive generation becomes current
// immediately; the previous one stays decryptable until the grace window
// closes.
func (s *Session) HandleRotationRequest(req *protocol.RotationRequest, now time.Time) (*protocol.RotationAck, error) {
	if s.State() == SessionStateClosed {
		return nil, zerrors.ErrSessionClosed
	}

	newKey, ackMAC, err := s.recvCtl.HandlePeerRequest(req.Generation, req.Nonce, req.ConfirmMAC, now)
	if err != nil {
		if s.observer != nil {
			s.observer.OnProtocolError(err)
		}
		return nil, err
	}
	defer crypto.Zeroize(newKey)

	newCipher, err := wvernam.New(s.cfg.Suite, newKey, req.Generation, s.pool, s.logger)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if prev, ok := s.recvCiphers[s.recvGen]; ok {
		prev.retiredAt = now
	}
	s.recvCiphers[req.Generation] = &recvEntry{cipher: newCipher, window: NewReplayWindow()}
	s.recvGen = req.Generation
	s.pruneRetiredLocked(now)
	s.mu.Unlock()

	s.logger.Info("receive key rotated", metrics.Fields{"generation": req.Generation})

	return &protocol.RotationAck{
		Generation: req.Generation,
		ConfirmMAC: ackMAC,
	}, nil
}

// HandleRotationAck completes our in-flight send rotation: the new send
// cipher takes over and the counter space restarts for the new key.
func (s *Session) HandleRotationAck(ack *protocol.RotationAck, now time.Time) error {
	if s.State() == SessionStateClosed {
		return zerrors.ErrSessionClosed
	}

	newKey, err := s.sendCtl.HandleAck(ack.Generation, ack.ConfirmMAC, now)
	if err != nil {
		if s.observer != nil {
			s.observer.OnProtocolError(err)
		}
		return err
	}
	defer crypto.Zeroize(newKey)

	newCipher, err := wvernam.New(s.cfg.Suite, newKey, ack.Generation, s.pool, s.logger)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sendCipher = newCipher
	done := s.rotationDone
	s.rotationDone = nil
	s.mu.Unlock()
	s.state.Store(int32(SessionStateEstablished))

	if done != nil {
		done(nil)
	}

	s.logger.Info("send key rotated", metrics.Fields{"generation": ack.Generation})
	return nil
}

// CheckRotationTimeout retransmits an unacknowledged rotation request or,
// once retries are exhausted, fails the session.
func (s *Session) CheckRotationTimeout(now time.Time) (*protocol.RotationRequest, error) {
	if s.State() == SessionStateClosed {
		return nil, zerrors.ErrSessionClosed
	}

	ev, err := s.sendCtl.CheckAckTimeout(now)
	if err != nil {
		s.mu.Lock()
		done := s.rotationDone
		s.rotationDone = nil
		s.mu.Unlock()
		if done != nil {
			done(err)
		}
		return nil, err
	}
	if ev == nil {
		return nil, nil
	}

	crypto.Zeroize(ev.NewKey)
	return &protocol.RotationRequest{
		Generation: ev.Generation,
		Nonce:      ev.Nonce,
		ConfirmMAC: ev.ConfirmMAC,
	}, nil
}

// pruneRetired drops receive generations whose grace window has closed.
func (s *Session) pruneRetired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneRetiredLocked(now)
}

// pruneRetiredLocked implements pruneRetired. Caller holds s.mu.
func (s *Session) pruneRetiredLocked(now time.Time) {
	for gen, entry := range s.recvCiphers {
		if gen == s.recvGen || entry.retiredAt.IsZero() {
			continue
		}
		if now.Sub(entry.retiredAt) > s.cfg.GraceWindow {
			delete(s.recvCiphers, gen)
		}
	}
}

// Close terminates the session and zeroizes all key material and pool
// state. Safe to call more than once.
func (s *Session) Close() {
	if !s.state.CompareAndSwap(int32(SessionStateEstablished), int32(SessionStateClosed)) &&
		!s.state.CompareAndSwap(int32(SessionStateRotating), int32(SessionStateClosed)) {
		return
	}

	s.mu.Lock()
	s.sendCipher = nil
	s.recvCiphers = map[uint64]*recvEntry{}
	s.rotationDone = nil
	s.mu.Unlock()

	s.sendCtl.Zeroize()
	s.recvCtl.Zeroize()
	s.pool.Clear()

	if s.observer != nil {
		s.observer.OnSessionEnd()
	}
	s.logger.Info("session closed")
}

// Stats is a point-in-time snapshot of session counters.
type Stats struct {
	BytesSent      uint64
	BytesReceived  uint64
	FramesSent     uint64
	FramesRecv     uint64
	SendGeneration uint64
	RecvGeneration uint64
	Duration       time.Duration
	State          SessionState
}

// Stats returns current session statistics.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	var sendGen uint64
	if s.sendCipher != nil {
		sendGen = s.sendCipher.Generation()
	}
	recvGen := s.recvGen
	s.mu.RUnlock()

	return Stats{
		BytesSent:      s.BytesSent.Load(),
		BytesReceived:  s.BytesReceived.Load(),
		FramesSent:     s.FramesSent.Load(),
		FramesRecv:     s.FramesRecv.Load(),
		SendGeneration: sendGen,
		RecvGeneration: recvGen,
		Duration:       time.Since(s.EstablishedAt),
		State:          s.State(),
	}
}
