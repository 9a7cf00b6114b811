package network_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanet/tnengine/network"
	"github.com/exanet/tnengine/tensor"
)

// TestExpansionConjugateInvolution mirrors TestConjugateInvolution at the
// expansion level: conjugating twice must restore the original
// coefficients, ket/bra kinds, and per-vertex conjugate flags.
func TestExpansionConjugateInvolution(t *testing.T) {
	n := network.New("S", tensor.Shape{})
	u := n.AppendTensor("U", tensor.Shape{4})
	v := n.AppendTensor("V", tensor.Shape{4})
	require.NoError(t, n.Connect(u, 0, v, 0, network.Inward))
	require.NoError(t, n.SetConjugate(u, true))

	exp := &network.TensorExpansion{}
	exp.Append(n, complex(1, 2), network.Ket)

	once := exp.Conjugate()
	require.Len(t, once.Components, 1)
	assert.Equal(t, network.Bra, once.Components[0].Kind)
	assert.Equal(t, complex(1, -2), once.Components[0].Coefficient)

	twice := once.Conjugate()
	require.Len(t, twice.Components, 1)
	assert.Equal(t, network.Ket, twice.Components[0].Kind)
	assert.Equal(t, complex(1, 2), twice.Components[0].Coefficient)

	origU, _ := n.Vertex(u)
	twiceU, _ := twice.Components[0].Network.Vertex(u)
	assert.Equal(t, origU.Conjugate, twiceU.Conjugate)
	assert.Equal(t, origU.Legs[0].Dir, twiceU.Legs[0].Dir)
}
