package backend_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanet/tnengine/backend"
	"github.com/exanet/tnengine/opdag"
)

func TestHostBackendAdd(t *testing.T) {
	b := backend.NewHostBackend()
	a := backend.NewBuffer([]uint64{2})
	a.Data[0], a.Data[1] = 1, 2
	dst := backend.NewBuffer([]uint64{2})
	dst.Data[0], dst.Data[1] = 10, 20

	node := &opdag.Node{Op: opdag.ADD, Reads: []string{"a"}, Writes: []string{"dst"}}
	h, err := b.Submit(node, map[string]*backend.Buffer{"a": a, "dst": dst})
	require.NoError(t, err)
	require.NoError(t, b.Sync(h))

	assert.Equal(t, complex(11, 0), dst.Data[0])
	assert.Equal(t, complex(22, 0), dst.Data[1])
	assert.Greater(t, b.FlopCount(), uint64(0))
}

func TestHostBackendContractMatrixVector(t *testing.T) {
	b := backend.NewHostBackend()
	// 2x2 identity times a 2-vector.
	a := backend.NewBuffer([]uint64{2, 2})
	a.Data[0], a.Data[1], a.Data[2], a.Data[3] = 1, 0, 0, 1
	v := backend.NewBuffer([]uint64{2, 1})
	v.Data[0], v.Data[1] = 3, 4
	dst := backend.NewBuffer([]uint64{2, 1})

	node := &opdag.Node{
		Op:     opdag.CONTRACT,
		Reads:  []string{"a", "v"},
		Writes: []string{"dst"},
		Payload: backend.ContractPayload{
			SharedDimsA: []int{1},
			SharedDimsB: []int{0},
		},
	}
	h, err := b.Submit(node, map[string]*backend.Buffer{"a": a, "v": v, "dst": dst})
	require.NoError(t, err)
	require.NoError(t, b.Sync(h))

	assert.Equal(t, complex(3, 0), dst.Data[0])
	assert.Equal(t, complex(4, 0), dst.Data[1])
}

func TestCuQuantumBackendPipelineDepth(t *testing.T) {
	host := backend.NewHostBackend()
	cq := backend.NewCuQuantumBackend()
	assert.Equal(t, 16, host.PipelineDepth())
	assert.Equal(t, 2, cq.PipelineDepth())
}

func TestTestPollsWithoutBlocking(t *testing.T) {
	b := backend.NewHostBackend()
	node := &opdag.Node{Op: opdag.NOOP}
	h, err := b.Submit(node, nil)
	require.NoError(t, err)
	require.NoError(t, b.Sync(h))

	done, err := b.Test(h)
	require.NoError(t, err)
	assert.True(t, done)
}
