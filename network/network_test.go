package network_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanet/tnengine/network"
	"github.com/exanet/tnengine/tensor"
)

// TestDotProductNetwork builds the scalar dot-product network u.v and
// checks it finalizes and round-trips through the symbolic grammar.
func TestDotProductNetwork(t *testing.T) {
	n := network.New("S", tensor.Shape{})
	u := n.AppendTensor("U", tensor.Shape{4})
	v := n.AppendTensor("V", tensor.Shape{4})
	require.NoError(t, n.Connect(u, 0, v, 0, network.Undirected))
	require.NoError(t, n.Finalize())

	sym, err := n.ToSymbolic()
	require.NoError(t, err)
	assert.Contains(t, sym, "S() =")
	assert.Contains(t, sym, "U(")
	assert.Contains(t, sym, "V(")
}

func TestFromSymbolicRoundTrip(t *testing.T) {
	shapes := map[string][]uint64{
		"OUT": {4, 5},
		"T1":  {3, 4},
		"T2":  {3, 5},
	}
	n, err := network.FromSymbolic("OUT(a,b) = T1(i,a) * T2(i,b)", shapes)
	require.NoError(t, err)
	require.NoError(t, n.Finalize())

	sym2, err := n.ToSymbolic()
	require.NoError(t, err)

	n2, err := network.FromSymbolic(sym2, shapes)
	require.NoError(t, err)
	require.NoError(t, n2.Finalize())
}

func TestConjugateInvolution(t *testing.T) {
	n := network.New("S", tensor.Shape{})
	u := n.AppendTensor("U", tensor.Shape{4})
	v := n.AppendTensor("V", tensor.Shape{4})
	require.NoError(t, n.Connect(u, 0, v, 0, network.Inward))
	require.NoError(t, n.SetConjugate(u, true))

	once := n.ConjugateNetwork()
	twice := once.ConjugateNetwork()

	origU, _ := n.Vertex(u)
	twiceU, _ := twice.Vertex(u)
	assert.Equal(t, origU.Conjugate, twiceU.Conjugate)
	assert.Equal(t, origU.Legs[0].Dir, twiceU.Legs[0].Dir)
}

func TestMergePreservesOpenLegVolume(t *testing.T) {
	n := network.New("OUT", tensor.Shape{2, 5})
	a := n.AppendTensor("A", tensor.Shape{2, 3})
	b := n.AppendTensor("B", tensor.Shape{3, 5})
	require.NoError(t, n.Connect(a, 1, b, 0, network.Undirected))
	require.NoError(t, n.Connect(a, 0, network.OutputVertexID, 0, network.Undirected))
	require.NoError(t, n.Connect(b, 1, network.OutputVertexID, 1, network.Undirected))
	require.NoError(t, n.Finalize())

	merged, err := n.Merge(a, b)
	require.NoError(t, err)

	mv, err := n.Vertex(merged)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 5}, mv.Shape)
	require.NoError(t, n.Finalize())
}

func TestReorderLegsReportsStaleCache(t *testing.T) {
	n := network.New("OUT", tensor.Shape{2, 3})
	a := n.AppendTensor("A", tensor.Shape{2, 3})
	require.NoError(t, n.Connect(a, 0, network.OutputVertexID, 0, network.Undirected))
	require.NoError(t, n.Connect(a, 1, network.OutputVertexID, 1, network.Undirected))

	stale, err := n.ReorderLegs(a, []int{1, 0})
	require.NoError(t, err)
	assert.True(t, stale)

	stale, err = n.ReorderLegs(a, []int{0, 1})
	require.NoError(t, err)
	assert.False(t, stale)
}
