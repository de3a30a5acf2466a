package tunnel

import (
	"time"

	"github.com/zkswarm/zks-core/internal/constants"
	"github.com/zkswarm/zks-core/pkg/metrics"
	"github.com/zkswarm/zks-core/pkg/rotation"
)

// Config carries session-wide settings. The zero value is usable; every
// field falls back to its default.
type Config struct {
	// Suite selects the AEAD for traffic protection
	Suite constants.CipherSuite

	// RotationByteThreshold rotates a traffic key after this many
	// plaintext bytes (default 2^32)
	RotationByteThreshold uint64

	// RotationInterval rotates a traffic key after this much wall-clock
	// time (default 60s)
	RotationInterval time.Duration

	// RotationAckTimeout bounds the wait for a rotation acknowledgment
	RotationAckTimeout time.Duration

	// GraceWindow keeps the previous receive generation decryptable for
	// in-flight frames after a rotation (default 15s)
	GraceWindow time.Duration

	// EntropyPoolCapacity sizes the swarm entropy pool (default 4096)
	EntropyPoolCapacity int

	// HandshakeTimeout bounds each handshake message exchange
	HandshakeTimeout time.Duration

	// Logger may be nil for no logging
	Logger *metrics.Logger

	// Observer receives lifecycle and hot-path callbacks; may be nil
	Observer Observer

	// Stats aggregates counters across sessions; may be nil
	Stats *metrics.Collector
}

// DefaultConfig returns the standard session settings.
func DefaultConfig() Config {
	return Config{
		Suite:                 constants.CipherSuiteChaCha20Poly1305,
		RotationByteThreshold: constants.DefaultRotationByteThreshold,
		RotationInterval:      constants.DefaultRotationIntervalSeconds * time.Second,
		RotationAckTimeout:    constants.DefaultRotationAckTimeoutSeconds * time.Second,
		GraceWindow:           constants.DefaultGraceWindowSeconds * time.Second,
		EntropyPoolCapacity:   constants.DefaultEntropyPoolCapacity,
		HandshakeTimeout:      constants.DefaultHandshakeTimeoutSeconds * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Suite == 0 {
		c.Suite = constants.CipherSuiteChaCha20Poly1305
	}
	if c.RotationByteThreshold == 0 {
		c.RotationByteThreshold = constants.DefaultRotationByteThreshold
	}
	if c.RotationInterval <= 0 {
		c.RotationInterval = constants.DefaultRotationIntervalSeconds * time.Second
	}
	if c.RotationAckTimeout <= 0 {
		c.RotationAckTimeout = constants.DefaultRotationAckTimeoutSeconds * time.Second
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = constants.DefaultGraceWindowSeconds * time.Second
	}
	if c.EntropyPoolCapacity <= 0 {
		c.EntropyPoolCapacity = constants.DefaultEntropyPoolCapacity
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = constants.DefaultHandshakeTimeoutSeconds * time.Second
	}
	if c.Logger == nil {
		c.Logger = metrics.NullLogger()
	}
	return c
}

// rotationConfig maps the session settings onto a controller config.
func (c Config) rotationConfig() rotation.Config {
	return rotation.Config{
		ByteThreshold: c.RotationByteThreshold,
		Interval:      c.RotationInterval,
		AckTimeout:    c.RotationAckTimeout,
		MaxRetries:    constants.RotationMaxRetries,
	}
}
