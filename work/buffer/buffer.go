package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// Pool hands out reusable byte slices for the relay's streaming copy loop,
// backed by valyala/bytebufferpool so per-request chunk buffers do not churn
// the allocator under many concurrent streams.
type Pool struct {
	pool      bytebufferpool.Pool
	chunkSize int
}

// NewPool creates a pool whose buffers hold chunkSize bytes.
func NewPool(chunkSize int) *Pool {
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	return &Pool{chunkSize: chunkSize}
}

// Get returns a buffer whose B slice has length chunkSize, ready to be used
// as a read buffer. Return it with Put when the copy finishes.
func (p *Pool) Get() *bytebufferpool.ByteBuffer {
	buf := p.pool.Get()
	if cap(buf.B) < p.chunkSize {
		buf.B = make([]byte, p.chunkSize)
	}
	buf.B = buf.B[:p.chunkSize]
	return buf
}

// Put returns a buffer to the pool.
func (p *Pool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		p.pool.Put(buf)
	}
}
