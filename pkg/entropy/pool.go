// Package entropy implements the swarm entropy pool.
//
// Peers in the swarm continuously contribute random material through a
// commit-then-reveal protocol. Accepted contributions are XOR-folded into a
// bounded pool, and the encryption path reads the pool as immutable
// snapshots. XOR folding means the pool is never weaker than its strongest
// contributor: an adversary who controls some contributions cannot cancel
// out the randomness of the honest ones without knowing them in advance.
//
// The pool is strictly supplementary. Session keys never depend on it, and
// an empty or stale pool degrades the cipher to pure AEAD mode rather than
// blocking traffic.
package entropy

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zkswarm/zks-core/internal/constants"
	zerrors "github.com/zkswarm/zks-core/internal/errors"
)

// Pool is a bounded pool of swarm-contributed entropy.
//
// Writers fold contributions in under a mutex; readers take lock-free
// snapshots. Snapshots are copy-on-write: each mix publishes a fresh backing
// array, so a snapshot taken before a mix is never mutated afterwards. A
// frame encrypted against a snapshot therefore decrypts correctly even if
// the pool advances mid-flight.
type Pool struct {
	capacity int

	mu            sync.Mutex
	offset        int // Next fold position, wraps at capacity
	filled        int // Bytes of the pool that have ever been written
	snapshot      atomic.Pointer[[]byte]
	contributions atomic.Uint64
	lastMixNano   atomic.Int64
}

// NewPool creates a pool with the given capacity in bytes.
// A capacity of zero or less uses the default.
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = constants.DefaultEntropyPoolCapacity
	}
	return &Pool{capacity: capacity}
}

// Mix XOR-folds a contribution into the pool at the rolling offset and
// publishes a new snapshot. Contributions longer than the pool capacity
// wrap around and keep folding.
func (p *Pool) Mix(data []byte) error {
	if len(data) == 0 {
		return zerrors.NewCryptoError("Pool.Mix", zerrors.ErrInvalidKeySize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	next := make([]byte, p.capacity)
	if cur := p.snapshot.Load(); cur != nil {
		copy(next, *cur)
	}

	for _, b := range data {
		next[p.offset] ^= b
		p.offset = (p.offset + 1) % p.capacity
		if p.filled < p.capacity {
			p.filled++
		}
	}

	p.snapshot.Store(&next)
	p.contributions.Add(1)
	p.lastMixNano.Store(time.Now().UnixNano())

	return nil
}

// Snapshot returns the current pool contents, or nil if the pool has never
// been mixed. The returned slice is immutable: later mixes publish new
// backing arrays and never touch it. Callers must not modify it.
func (p *Pool) Snapshot() []byte {
	cur := p.snapshot.Load()
	if cur == nil {
		return nil
	}
	s := *cur
	p.mu.Lock()
	filled := p.filled
	p.mu.Unlock()
	if filled == 0 {
		return nil
	}
	return s[:filled]
}

// Len returns the number of pool bytes that have been written so far.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filled
}

// Capacity returns the pool's fixed capacity in bytes.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Contributions returns the total number of contributions mixed in.
func (p *Pool) Contributions() uint64 {
	return p.contributions.Load()
}

// Freshness returns the time elapsed since the last contribution, or a
// negative duration if the pool has never been mixed.
func (p *Pool) Freshness() time.Duration {
	last := p.lastMixNano.Load()
	if last == 0 {
		return -1
	}
	return time.Since(time.Unix(0, last))
}

// Clear resets the pool to the never-mixed state. Called on session
// teardown.
//
// The published backing array is unpinned, not zeroized: snapshots handed
// out earlier stay immutable and may still be read by frames in flight.
// Pool contents are swarm-shared supplementary material, never key
// material, so letting the garbage collector reclaim the array is enough.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snapshot.Store(nil)
	p.offset = 0
	p.filled = 0
	p.lastMixNano.Store(0)
}
