package entropy

import (
	"context"
	"sync"

	zerrors "github.com/zkswarm/zks-core/internal/errors"
	"github.com/zkswarm/zks-core/pkg/crypto"
	"github.com/zkswarm/zks-core/pkg/metrics"
)

// Collector consumes swarm entropy events and folds verified contributions
// into a Pool. It enforces the commit-reveal discipline: a reveal is only
// accepted if its hash matches a commitment previously seen from the same
// peer, and each commitment is consumed by exactly one reveal.
type Collector struct {
	pool   *Pool
	logger *metrics.Logger
	stats  *metrics.Collector

	mu      sync.Mutex
	pending map[string][]byte // peer ID -> outstanding commitment
}

// NewCollector creates a collector feeding the given pool.
// A nil logger disables logging; a nil stats collector disables counters.
func NewCollector(pool *Pool, logger *metrics.Logger, stats *metrics.Collector) *Collector {
	if logger == nil {
		logger = metrics.NullLogger()
	}
	return &Collector{
		pool:    pool,
		logger:  logger.Named("entropy"),
		stats:   stats,
		pending: make(map[string][]byte),
	}
}

// Run consumes events from the feed until the context is canceled or the
// feed closes. Event-level failures are logged and absorbed; the pool simply
// stops growing when the swarm misbehaves. A closed feed is reported as
// ErrSourceUnavailable so the owner can decide whether to reconnect.
func (c *Collector) Run(ctx context.Context, feed <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-feed:
			if !ok {
				c.logger.Warn("entropy feed closed, pool frozen", metrics.Fields{
					"contributions": c.pool.Contributions(),
				})
				return zerrors.ErrSourceUnavailable
			}
			if err := c.HandleEvent(ev); err != nil {
				c.logger.Warn("entropy event rejected", metrics.Fields{
					"type": string(ev.Type),
					"peer": ev.PeerID,
					"err":  err.Error(),
				})
			}
		}
	}
}

// HandleEvent processes a single entropy event.
func (c *Collector) HandleEvent(ev Event) error {
	switch ev.Type {
	case EventCommit:
		return c.handleCommit(ev)
	case EventReveal:
		return c.handleReveal(ev)
	case EventReady:
		c.logger.Debug("entropy round ready", metrics.Fields{
			"peer_count": ev.PeerCount,
		})
		return nil
	default:
		return zerrors.ErrInvalidMessage
	}
}

func (c *Collector) handleCommit(ev Event) error {
	if ev.PeerID == "" {
		return zerrors.ErrInvalidMessage
	}
	commitment, err := ev.CommitmentBytes()
	if err != nil {
		return err
	}

	c.mu.Lock()
	// A new commitment from the same peer replaces the old one.
	c.pending[ev.PeerID] = commitment
	c.mu.Unlock()

	c.logger.Debug("entropy commitment recorded", metrics.Fields{
		"peer": ev.PeerID,
	})
	return nil
}

func (c *Collector) handleReveal(ev Event) error {
	if ev.PeerID == "" {
		return zerrors.ErrInvalidMessage
	}
	data, err := ev.RevealedBytes()
	if err != nil {
		return err
	}

	c.mu.Lock()
	commitment, ok := c.pending[ev.PeerID]
	if ok {
		delete(c.pending, ev.PeerID)
	}
	c.mu.Unlock()

	if !ok {
		return zerrors.ErrUnknownCommitment
	}

	expected := Commitment(data)
	if !crypto.ConstantTimeCompare(expected[:], commitment) {
		return zerrors.ErrCommitmentMismatch
	}

	if err := c.pool.Mix(data); err != nil {
		return err
	}

	if c.stats != nil {
		c.stats.EntropyContribution()
	}
	c.logger.Debug("entropy contribution mixed", metrics.Fields{
		"peer":     ev.PeerID,
		"bytes":    len(data),
		"pool_len": c.pool.Len(),
	})
	return nil
}

// Pending returns the number of commitments awaiting a reveal.
func (c *Collector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
