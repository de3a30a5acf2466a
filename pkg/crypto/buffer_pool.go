// buffer_pool.go provides buffer pooling for the entropy mixing path.
//
// The Wasif-Vernam engine XORs every plaintext against a pool snapshot
// before sealing, which needs a scratch buffer per frame. Pooling those
// buffers keeps the hot path allocation-free at typical frame sizes. All
// buffers are zeroized before reuse since they hold mixed plaintext.
package crypto

import (
	"sync"
)

// Buffer size class thresholds for mixing scratch buffers.
const (
	smallMixBufferSize  = 1024
	mediumMixBufferSize = 16 * 1024
	largeMixBufferSize  = 64 * 1024
)

// BufferPool provides pooled byte slices for the mix-then-seal path.
type BufferPool struct {
	small  sync.Pool
	medium sync.Pool
	large  sync.Pool
}

// NewBufferPool creates a new buffer pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		small: sync.Pool{
			New: func() any {
				buf := make([]byte, smallMixBufferSize)
				return &buf
			},
		},
		medium: sync.Pool{
			New: func() any {
				buf := make([]byte, mediumMixBufferSize)
				return &buf
			},
		},
		large: sync.Pool{
			New: func() any {
				buf := make([]byte, largeMixBufferSize)
				return &buf
			},
		},
	}
}

// Get returns a buffer of at least the requested size, sliced to size.
// Oversized requests are allocated directly and never pooled.
func (p *BufferPool) Get(size int) []byte {
	if size <= 0 {
		return nil
	}

	var bufPtr *[]byte

	switch {
	case size <= smallMixBufferSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= mediumMixBufferSize:
		bufPtr = p.medium.Get().(*[]byte)
	case size <= largeMixBufferSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}

	return (*bufPtr)[:size]
}

// Put zeroizes a buffer and returns it to the pool.
// Buffers with non-standard capacities are dropped.
func (p *BufferPool) Put(buf []byte) {
	if buf == nil || cap(buf) == 0 {
		return
	}

	buf = buf[:cap(buf)]
	Zeroize(buf)

	bufPtr := &buf
	switch cap(buf) {
	case smallMixBufferSize:
		p.small.Put(bufPtr)
	case mediumMixBufferSize:
		p.medium.Put(bufPtr)
	case largeMixBufferSize:
		p.large.Put(bufPtr)
	}
}

// globalMixPool is the default pool shared by all cipher instances.
var globalMixPool = NewBufferPool()

// GetMixBuffer returns a scratch buffer from the global pool.
func GetMixBuffer(size int) []byte {
	return globalMixPool.Get(size)
}

// PutMixBuffer zeroizes and returns a scratch buffer to the global pool.
func PutMixBuffer(buf []byte) {
	globalMixPool.Put(buf)
}
