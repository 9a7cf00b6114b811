package backend

import "sync"

// BufferPool recycles complex128 backing slices across intermediate
// tensor allocations, adapted from the original engine's scratch-region
// bump allocator (there sized once against a fixed model graph; here a
// sync.Pool keyed only by capacity, since a contraction plan's
// intermediate shapes vary step to step and are not known up front).
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool constructs an empty pool.
func NewBufferPool() *BufferPool {
	return &BufferPool{pool: sync.Pool{New: func() any { return make([]complex128, 0) }}}
}

// Get returns a Buffer of the given shape, reusing a pooled backing
// slice when one large enough is available and zeroing it before reuse.
func (p *BufferPool) Get(shape []uint64) *Buffer {
	vol := uint64(1)
	for _, d := range shape {
		vol *= d
	}
	data := p.pool.Get().([]complex128)
	if uint64(cap(data)) >= vol {
		data = data[:vol]
		for i := range data {
			data[i] = 0
		}
	} else {
		data = make([]complex128, vol)
	}
	return &Buffer{Shape: append([]uint64(nil), shape...), Data: data}
}

// Put returns buf's backing slice to the pool for reuse. Callers must not
// use buf after calling Put.
func (p *BufferPool) Put(buf *Buffer) {
	if buf == nil || buf.Data == nil {
		return
	}
	p.pool.Put(buf.Data[:0])
}
