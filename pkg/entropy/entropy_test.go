package entropy_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	zerrors "github.com/zkswarm/zks-core/internal/errors"
	"github.com/zkswarm/zks-core/pkg/entropy"
)

// --- Pool Tests ---

func TestPoolEmptySnapshot(t *testing.T) {
	p := entropy.NewPool(64)

	if snap := p.Snapshot(); snap != nil {
		t.Errorf("Fresh pool snapshot: got %d bytes, want nil", len(snap))
	}
	if p.Len() != 0 {
		t.Errorf("Fresh pool Len: got %d, want 0", p.Len())
	}
}

func TestPoolMixAndSnapshot(t *testing.T) {
	p := entropy.NewPool(64)

	contribution := bytes.Repeat([]byte{0xAB}, 32)
	if err := p.Mix(contribution); err != nil {
		t.Fatalf("Mix failed: %v", err)
	}

	snap := p.Snapshot()
	if len(snap) != 32 {
		t.Fatalf("Snapshot length: got %d, want 32", len(snap))
	}
	if !bytes.Equal(snap, contribution) {
		t.Error("First contribution into a zero pool should appear unchanged")
	}
	if p.Contributions() != 1 {
		t.Errorf("Contributions: got %d, want 1", p.Contributions())
	}
}

func TestPoolXORFold(t *testing.T) {
	p := entropy.NewPool(32)

	a := bytes.Repeat([]byte{0x0F}, 32)
	b := bytes.Repeat([]byte{0xF0}, 32)

	if err := p.Mix(a); err != nil {
		t.Fatalf("Mix failed: %v", err)
	}
	if err := p.Mix(b); err != nil {
		t.Fatalf("Mix failed: %v", err)
	}

	snap := p.Snapshot()
	for i, got := range snap {
		if got != 0xFF {
			t.Fatalf("XOR fold at %d: got %02x, want ff", i, got)
		}
	}
}

func TestPoolSnapshotImmutable(t *testing.T) {
	p := entropy.NewPool(32)

	first := bytes.Repeat([]byte{0x11}, 32)
	if err := p.Mix(first); err != nil {
		t.Fatalf("Mix failed: %v", err)
	}

	snap := p.Snapshot()
	before := make([]byte, len(snap))
	copy(before, snap)

	// Mixing again must not mutate the earlier snapshot.
	if err := p.Mix(bytes.Repeat([]byte{0xEE}, 32)); err != nil {
		t.Fatalf("Mix failed: %v", err)
	}

	if !bytes.Equal(snap, before) {
		t.Error("Snapshot was mutated by a later Mix")
	}
	if bytes.Equal(p.Snapshot(), before) {
		t.Error("New snapshot should reflect the second contribution")
	}
}

func TestPoolWrapAround(t *testing.T) {
	p := entropy.NewPool(16)

	// 40 bytes into a 16-byte pool wraps twice.
	if err := p.Mix(bytes.Repeat([]byte{0x01}, 40)); err != nil {
		t.Fatalf("Mix failed: %v", err)
	}

	if p.Len() != 16 {
		t.Errorf("Len after wrap: got %d, want 16", p.Len())
	}

	snap := p.Snapshot()
	// Positions 0-7 folded three times (0x01), 8-15 twice (0x00).
	for i := 0; i < 8; i++ {
		if snap[i] != 0x01 {
			t.Errorf("Position %d: got %02x, want 01", i, snap[i])
		}
	}
	for i := 8; i < 16; i++ {
		if snap[i] != 0x00 {
			t.Errorf("Position %d: got %02x, want 00", i, snap[i])
		}
	}
}

func TestPoolClear(t *testing.T) {
	p := entropy.NewPool(32)
	if err := p.Mix([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Mix failed: %v", err)
	}

	p.Clear()

	if p.Snapshot() != nil {
		t.Error("Cleared pool should have nil snapshot")
	}
	if p.Len() != 0 {
		t.Errorf("Cleared pool Len: got %d, want 0", p.Len())
	}
	if p.Freshness() >= 0 {
		t.Error("Cleared pool should report negative freshness")
	}
}

func TestPoolClearLeavesSnapshotsIntact(t *testing.T) {
	p := entropy.NewPool(32)

	contribution := bytes.Repeat([]byte{0x5A}, 32)
	if err := p.Mix(contribution); err != nil {
		t.Fatalf("Mix failed: %v", err)
	}

	// A frame in flight may still hold this snapshot when the session
	// tears the pool down.
	snap := p.Snapshot()
	p.Clear()

	if !bytes.Equal(snap, contribution) {
		t.Error("Clear mutated a snapshot handed out earlier")
	}
	if p.Snapshot() != nil {
		t.Error("Cleared pool should have nil snapshot")
	}
}

func TestPoolFreshness(t *testing.T) {
	p := entropy.NewPool(32)

	if p.Freshness() >= 0 {
		t.Error("Never-mixed pool should report negative freshness")
	}

	if err := p.Mix([]byte{1}); err != nil {
		t.Fatalf("Mix failed: %v", err)
	}
	if p.Freshness() < 0 {
		t.Error("Mixed pool should report non-negative freshness")
	}
}

// --- Event Tests ---

func TestEventCommitRevealRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 32)

	commit := entropy.NewCommitEvent("peer-1", data)
	encoded, err := commit.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := entropy.DecodeEvent(encoded)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if decoded.Type != entropy.EventCommit || decoded.PeerID != "peer-1" {
		t.Errorf("Decoded commit: got %+v", decoded)
	}

	commitment, err := decoded.CommitmentBytes()
	if err != nil {
		t.Fatalf("CommitmentBytes failed: %v", err)
	}
	expected := entropy.Commitment(data)
	if !bytes.Equal(commitment, expected[:]) {
		t.Error("Commitment does not match hash of contribution")
	}

	reveal := entropy.NewRevealEvent("peer-1", data)
	revealed, err := reveal.RevealedBytes()
	if err != nil {
		t.Fatalf("RevealedBytes failed: %v", err)
	}
	if !bytes.Equal(revealed, data) {
		t.Error("Revealed bytes do not match contribution")
	}
}

func TestDecodeEventRejectsUnknownType(t *testing.T) {
	if _, err := entropy.DecodeEvent([]byte(`{"type":"mystery"}`)); err == nil {
		t.Error("DecodeEvent should reject unknown event types")
	}
	if _, err := entropy.DecodeEvent([]byte(`not-json`)); err == nil {
		t.Error("DecodeEvent should reject malformed JSON")
	}
}

// --- Collector Tests ---

func TestCollectorCommitReveal(t *testing.T) {
	pool := entropy.NewPool(64)
	c := entropy.NewCollector(pool, nil, nil)

	data := bytes.Repeat([]byte{0x7E}, 32)

	if err := c.HandleEvent(entropy.NewCommitEvent("peer-1", data)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if c.Pending() != 1 {
		t.Errorf("Pending: got %d, want 1", c.Pending())
	}

	if err := c.HandleEvent(entropy.NewRevealEvent("peer-1", data)); err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending after reveal: got %d, want 0", c.Pending())
	}

	if pool.Contributions() != 1 {
		t.Errorf("Pool contributions: got %d, want 1", pool.Contributions())
	}
}

func TestCollectorRejectsMismatchedReveal(t *testing.T) {
	pool := entropy.NewPool(64)
	c := entropy.NewCollector(pool, nil, nil)

	committed := bytes.Repeat([]byte{0x01}, 32)
	revealed := bytes.Repeat([]byte{0x02}, 32)

	if err := c.HandleEvent(entropy.NewCommitEvent("peer-1", committed)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	err := c.HandleEvent(entropy.NewRevealEvent("peer-1", revealed))
	if !errors.Is(err, zerrors.ErrCommitmentMismatch) {
		t.Errorf("Mismatched reveal: got %v, want ErrCommitmentMismatch", err)
	}
	if pool.Contributions() != 0 {
		t.Error("Mismatched reveal must not reach the pool")
	}
}

func TestCollectorRejectsRevealWithoutCommit(t *testing.T) {
	pool := entropy.NewPool(64)
	c := entropy.NewCollector(pool, nil, nil)

	err := c.HandleEvent(entropy.NewRevealEvent("peer-9", bytes.Repeat([]byte{0x44}, 32)))
	if !errors.Is(err, zerrors.ErrUnknownCommitment) {
		t.Errorf("Reveal without commit: got %v, want ErrUnknownCommitment", err)
	}
}

func TestCollectorRejectsWrongSizeReveal(t *testing.T) {
	pool := entropy.NewPool(64)
	c := entropy.NewCollector(pool, nil, nil)

	short := []byte{1, 2, 3}
	if err := c.HandleEvent(entropy.NewCommitEvent("peer-1", short)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	err := c.HandleEvent(entropy.NewRevealEvent("peer-1", short))
	if !errors.Is(err, zerrors.ErrInvalidMessage) {
		t.Errorf("Undersized reveal: got %v, want ErrInvalidMessage", err)
	}
	if pool.Contributions() != 0 {
		t.Error("Undersized reveal must not reach the pool")
	}
}

func TestCollectorRunFeedClosed(t *testing.T) {
	pool := entropy.NewPool(64)
	c := entropy.NewCollector(pool, nil, nil)

	feed := make(chan entropy.Event)
	done := make(chan error, 1)
	go func() {
		done <- c.Run(context.Background(), feed)
	}()

	data := bytes.Repeat([]byte{0x33}, 32)
	feed <- entropy.NewCommitEvent("peer-1", data)
	feed <- entropy.NewRevealEvent("peer-1", data)
	close(feed)

	select {
	case err := <-done:
		if !errors.Is(err, zerrors.ErrSourceUnavailable) {
			t.Errorf("Run on closed feed: got %v, want ErrSourceUnavailable", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after feed closed")
	}

	if pool.Contributions() != 1 {
		t.Errorf("Pool contributions: got %d, want 1", pool.Contributions())
	}
}

func TestCollectorRunContextCancel(t *testing.T) {
	pool := entropy.NewPool(64)
	c := entropy.NewCollector(pool, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	feed := make(chan entropy.Event)
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, feed)
	}()

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run after cancel: got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}
