// Package buffer provides the small set of fixed-length byte buffers that every
// read and write on the device goes through.
//
// A Buffer is exclusively owned by whoever acquired it until Release is called;
// callers must not keep a reference to its contents after releasing it since the
// next operation will overwrite them.
package buffer

import (
	"context"
	"fmt"
	"sync"

	"github.com/opd-ai/devicefs/limits"
	"github.com/sirupsen/logrus"
)

// Pool holds a fixed number of equally sized buffers.
type Pool struct {
	size int
	free chan []byte
}

// NewPool allocates count buffers of size bytes each. All memory is allocated
// up front; the pool never grows.
func NewPool(count, size int) (*Pool, error) {
	if count < 1 {
		return nil, fmt.Errorf("buffer count %d: must be at least 1", count)
	}
	if err := limits.ValidateChunkSize(size); err != nil {
		return nil, err
	}

	p := &Pool{
		size: size,
		free: make(chan []byte, count),
	}
	for i := 0; i < count; i++ {
		p.free <- make([]byte, size)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewPool",
		"count":    count,
		"size":     size,
	}).Debug("Buffer pool allocated")

	return p, nil
}

// MustNewPool is like NewPool but panics on invalid arguments.
func MustNewPool(count, size int) *Pool {
	p, err := NewPool(count, size)
	if err != nil {
		panic(err)
	}
	return p
}

// Size returns the length of every buffer in the pool.
func (p *Pool) Size() int { return p.size }

// Cap returns the number of buffers owned by the pool.
func (p *Pool) Cap() int { return cap(p.free) }

// Available returns the number of buffers not currently acquired.
func (p *Pool) Available() int { return len(p.free) }

// Get waits for a free buffer or for ctx to be done.
func (p *Pool) Get(ctx context.Context) (*Buffer, error) {
	select {
	case b := <-p.free:
		return &Buffer{data: b, pool: p}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Buffer is a pooled, fixed-length byte slice.
type Buffer struct {
	data []byte
	pool *Pool
	once sync.Once
}

// Bytes returns the whole buffer. Only the prefix written by the most recent
// read is meaningful; see Valid.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the buffer length.
func (b *Buffer) Len() int { return len(b.data) }

// Valid returns the first n bytes, the part filled by the last read of n bytes.
func (b *Buffer) Valid(n int) []byte {
	if n < 0 {
		n = 0
	}
	if n > len(b.data) {
		n = len(b.data)
	}
	return b.data[:n]
}

// Release hands the buffer back to its pool. Releasing twice is a no-op.
func (b *Buffer) Release() {
	b.once.Do(func() {
		b.pool.free <- b.data
		b.data = nil
	})
}
