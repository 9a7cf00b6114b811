package backend_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/exanet/tnengine/backend"
)

func TestBufferPoolReusesBackingSlice(t *testing.T) {
	p := backend.NewBufferPool()

	buf := p.Get([]uint64{4})
	assert.Equal(t, 4, len(buf.Data))
	buf.Data[0] = 7

	p.Put(buf)

	reused := p.Get([]uint64{4})
	assert.Equal(t, 4, len(reused.Data))
	assert.Equal(t, complex128(0), reused.Data[0], "pooled buffers must be zeroed before reuse")
}

func TestBufferPoolAllocatesFreshWhenTooSmall(t *testing.T) {
	p := backend.NewBufferPool()
	small := p.Get([]uint64{2})
	p.Put(small)

	bigger := p.Get([]uint64{16})
	assert.Equal(t, 16, len(bigger.Data))
}
