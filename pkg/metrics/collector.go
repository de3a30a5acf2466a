package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates counters from the crypto core subsystems.
// All methods are safe for concurrent use.
type Collector struct {
	// Session metrics
	handshakesStarted   atomic.Uint64
	handshakesCompleted atomic.Uint64
	handshakesFailed    atomic.Uint64
	handshakeLatency    *Histogram

	// Traffic metrics
	framesSealed atomic.Uint64
	framesOpened atomic.Uint64
	bytesSealed  atomic.Uint64
	bytesOpened  atomic.Uint64

	// Security metrics
	replaysBlocked    atomic.Uint64
	authFailures      atomic.Uint64
	rotationsStarted  atomic.Uint64
	rotationsComplete atomic.Uint64
	rotationsFailed   atomic.Uint64

	// Entropy metrics
	entropyContributions atomic.Uint64
	entropyDegraded      atomic.Uint64

	createdAt time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		handshakeLatency: NewHistogram(HandshakeLatencyBuckets),
		createdAt:        time.Now(),
	}
}

// HandshakeLatencyBuckets for handshake duration (milliseconds).
var HandshakeLatencyBuckets = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// HandshakeStarted records the beginning of a handshake attempt.
func (c *Collector) HandshakeStarted() { c.handshakesStarted.Add(1) }

// HandshakeCompleted records a successful handshake and its duration.
func (c *Collector) HandshakeCompleted(d time.Duration) {
	c.handshakesCompleted.Add(1)
	c.handshakeLatency.Observe(float64(d.Milliseconds()))
}

// HandshakeFailed records a failed handshake attempt.
func (c *Collector) HandshakeFailed() { c.handshakesFailed.Add(1) }

// FrameSealed records an encrypted frame and its plaintext size.
func (c *Collector) FrameSealed(n int) {
	c.framesSealed.Add(1)
	c.bytesSealed.Add(uint64(n))
}

// FrameOpened records a decrypted frame and its plaintext size.
func (c *Collector) FrameOpened(n int) {
	c.framesOpened.Add(1)
	c.bytesOpened.Add(uint64(n))
}

// ReplayBlocked records a frame rejected by the replay window.
func (c *Collector) ReplayBlocked() { c.replaysBlocked.Add(1) }

// AuthFailure records an AEAD authentication failure.
func (c *Collector) AuthFailure() { c.authFailures.Add(1) }

// RotationStarted records an initiated key rotation.
func (c *Collector) RotationStarted() { c.rotationsStarted.Add(1) }

// RotationCompleted records a confirmed key rotation.
func (c *Collector) RotationCompleted() { c.rotationsComplete.Add(1) }

// RotationFailed records a rotation that did not complete.
func (c *Collector) RotationFailed() { c.rotationsFailed.Add(1) }

// EntropyContribution records an accepted swarm entropy contribution.
func (c *Collector) EntropyContribution() { c.entropyContributions.Add(1) }

// EntropyDegraded records a transition into pure-AEAD fallback mode.
func (c *Collector) EntropyDegraded() { c.entropyDegraded.Add(1) }

// Snapshot is a point-in-time copy of all collector counters.
type Snapshot struct {
	HandshakesStarted    uint64
	HandshakesCompleted  uint64
	HandshakesFailed     uint64
	FramesSealed         uint64
	FramesOpened         uint64
	BytesSealed          uint64
	BytesOpened          uint64
	ReplaysBlocked       uint64
	AuthFailures         uint64
	RotationsStarted     uint64
	RotationsCompleted   uint64
	RotationsFailed      uint64
	EntropyContributions uint64
	EntropyDegraded      uint64
	Uptime               time.Duration
}

// Snapshot returns a consistent copy of the current counter values.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		HandshakesStarted:    c.handshakesStarted.Load(),
		HandshakesCompleted:  c.handshakesCompleted.Load(),
		HandshakesFailed:     c.handshakesFailed.Load(),
		FramesSealed:         c.framesSealed.Load(),
		FramesOpened:         c.framesOpened.Load(),
		BytesSealed:          c.bytesSealed.Load(),
		BytesOpened:          c.bytesOpened.Load(),
		ReplaysBlocked:       c.replaysBlocked.Load(),
		AuthFailures:         c.authFailures.Load(),
		RotationsStarted:     c.rotationsStarted.Load(),
		RotationsCompleted:   c.rotationsComplete.Load(),
		RotationsFailed:      c.rotationsFailed.Load(),
		EntropyContributions: c.entropyContributions.Load(),
		EntropyDegraded:      c.entropyDegraded.Load(),
		Uptime:               time.Since(c.createdAt),
	}
}

// HandshakeLatency returns the handshake latency histogram.
func (c *Collector) HandshakeLatency() *Histogram {
	return c.handshakeLatency
}

// --- Histogram ---

// Histogram tracks the distribution of observed values across fixed buckets.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64 // Upper bounds, sorted ascending
	counts  []uint64  // counts[i] = observations <= buckets[i]; last is +Inf
	sum     float64
	total   uint64
}

// NewHistogram creates a histogram with the given bucket upper bounds.
func NewHistogram(buckets []float64) *Histogram {
	b := make([]float64, len(buckets))
	copy(b, buckets)
	sort.Float64s(b)
	return &Histogram{
		buckets: b,
		counts:  make([]uint64, len(b)+1),
	}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := sort.SearchFloat64s(h.buckets, v)
	h.counts[idx]++
	h.sum += v
	h.total++
}

// Count returns the total number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Sum returns the sum of all observed values.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}
