// Package pool provides reusable byte buffers.
//
// Chunk buffers back the chunked transport, which holds exactly one chunk in
// memory at a time. Copy buffers back the io.CopyBuffer calls used when
// streaming archive members and downloads to disk.
package pool

import (
	"sync"
)

// CopyBufferSize is the size of buffers handed out by GetCopyBuffer (64KB).
const CopyBufferSize = 64 * 1024

// ChunkPool manages reusable buffers of a single chunk size.
type ChunkPool struct {
	size int
	pool *sync.Pool
}

// NewChunkPool creates a pool of buffers with length size.
// A non-positive size panics.
func NewChunkPool(size int) *ChunkPool {
	if size <= 0 {
		panic("pool: chunk size must be positive")
	}
	return &ChunkPool{
		size: size,
		pool: &sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		},
	}
}

// Size returns the chunk size served by the pool.
func (p *ChunkPool) Size() int {
	return p.size
}

// Get returns a buffer of exactly Size bytes.
// The caller is responsible for calling Put to return the buffer to the pool.
func (p *ChunkPool) Get() []byte {
	bufPtr := p.pool.Get().(*[]byte)
	*bufPtr = (*bufPtr)[:p.size]
	return *bufPtr
}

// Put returns a buffer to the pool.
// Buffers whose capacity does not match the pool's chunk size are dropped.
// The buffer should not be used after calling Put.
func (p *ChunkPool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}

var copyPool = NewChunkPool(CopyBufferSize)

// GetCopyBuffer returns a CopyBufferSize buffer from the shared pool.
func GetCopyBuffer() []byte {
	return copyPool.Get()
}

// PutCopyBuffer returns a copy buffer to the shared pool.
func PutCopyBuffer(buf []byte) {
	copyPool.Put(buf)
}
