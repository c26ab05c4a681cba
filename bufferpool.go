package spola

import "sync"

// payloadPool provides a pool of reusable payload byte slices to reduce GC
// pressure while the live buffer overwrites old samples at stream rate.
type payloadPool struct {
	pool    sync.Pool
	maxSize int
}

// payloadPoolOption defines an option for configuring payloadPool.
type payloadPoolOption func(*payloadPool)

// withMaxPayloadSize sets the maximum size of payload buffers that will be recycled.
func withMaxPayloadSize(maxSize int) payloadPoolOption {
	return func(p *payloadPool) {
		if maxSize > 0 {
			p.maxSize = maxSize
		}
	}
}

// newPayloadPool creates a new pool with the given size hint and optional configurations.
func newPayloadPool(sizeHint int, opts ...payloadPoolOption) *payloadPool {
	p := payloadPool{
		pool: sync.Pool{
			New: func() any {
				return make([]byte, 0, sizeHint)
			},
		},
		maxSize: defaultMaxRecycleSize,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return &p
}

// get retrieves a byte slice from the pool.
func (p *payloadPool) get() []byte {
	buf := p.pool.Get().([]byte)
	return buf[:0] // preserve capacity
}

// put returns a payload buffer to the pool if it's not too large.
func (p *payloadPool) put(buf []byte) {
	if buf != nil && cap(buf) <= p.maxSize {
		p.pool.Put(buf)
	}
}
