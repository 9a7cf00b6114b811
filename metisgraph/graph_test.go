package metisgraph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanet/tnengine/metisgraph"
	"github.com/exanet/tnengine/network"
	"github.com/exanet/tnengine/tensor"
)

func buildChainNetwork(t *testing.T, n int) *network.TensorNetwork {
	t.Helper()
	net := network.New("OUT", tensor.Shape{2, 2})
	prev := -1
	for i := 0; i < n; i++ {
		v := net.AppendTensor("T", tensor.Shape{2, 2, 2})
		if i == 0 {
			require.NoError(t, net.Connect(v, 0, network.OutputVertexID, 0, network.Undirected))
		} else {
			require.NoError(t, net.Connect(v, 0, prev, 2, network.Undirected))
		}
		if i == n-1 {
			require.NoError(t, net.Connect(v, 1, network.OutputVertexID, 1, network.Undirected))
		}
		prev = v
	}
	return net
}

func TestFromNetworkExcludesOutputVertex(t *testing.T) {
	net := buildChainNetwork(t, 4)
	require.NoError(t, net.Finalize())

	g, err := metisgraph.FromNetwork(net)
	require.NoError(t, err)
	assert.Equal(t, 4, g.NumVertices())
	assert.Len(t, g.Renumber, 4)
}

func TestMergeVerticesTombstonesAndPreservesThirdPartyEdges(t *testing.T) {
	net := buildChainNetwork(t, 4)
	require.NoError(t, net.Finalize())
	g, err := metisgraph.FromNetwork(net)
	require.NoError(t, err)

	totalWeightBefore := int64(0)
	for _, w := range g.VertexWeight {
		totalWeightBefore += int64(w)
	}

	newID, err := g.MergeVertices(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, int(g.VertexWeight[0]))
	assert.Equal(t, 0, int(g.VertexWeight[1]))
	assert.NotZero(t, g.VertexWeight[newID])

	// the merged vertex should still connect to vertex 2 through the chain
	found := false
	for _, e := range g.Edges {
		if e.A == newID || e.B == newID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPartitionCoversAllVertices(t *testing.T) {
	net := buildChainNetwork(t, 8)
	require.NoError(t, net.Finalize())
	g, err := metisgraph.FromNetwork(net)
	require.NoError(t, err)

	part, err := metisgraph.Partition(g, 2, 0.2)
	require.NoError(t, err)
	assert.Len(t, part, g.NumVertices())

	seen := map[int]bool{}
	for _, p := range part {
		seen[p] = true
	}
	assert.LessOrEqual(t, len(seen), 2)
}

func TestTwoLevelPartitionUsesEightMiniPartsPerMacroPart(t *testing.T) {
	assert.Equal(t, 8, metisgraph.MiniPartsPerMacroPart)

	net := buildChainNetwork(t, 16)
	require.NoError(t, net.Finalize())
	g, err := metisgraph.FromNetwork(net)
	require.NoError(t, err)

	part, err := metisgraph.TwoLevelPartition(g, 2, 0.2)
	require.NoError(t, err)
	assert.Len(t, part, g.NumVertices())
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	net := buildChainNetwork(t, 5)
	require.NoError(t, net.Finalize())
	g, err := metisgraph.FromNetwork(net)
	require.NoError(t, err)

	packet := metisgraph.Serialize(g)
	g2, err := metisgraph.Deserialize(packet)
	require.NoError(t, err)

	assert.Equal(t, g.VertexWeight, g2.VertexWeight)
	assert.Equal(t, g.Renumber, g2.Renumber)
	assert.Equal(t, len(g.Edges), len(g2.Edges))
}

func TestExtractSubgraph(t *testing.T) {
	net := buildChainNetwork(t, 6)
	require.NoError(t, net.Finalize())
	g, err := metisgraph.FromNetwork(net)
	require.NoError(t, err)

	part, err := metisgraph.Partition(g, 2, 0.2)
	require.NoError(t, err)

	sub0 := metisgraph.ExtractSubgraph(g, part, 0)
	sub1 := metisgraph.ExtractSubgraph(g, part, 1)
	assert.Equal(t, g.NumVertices(), sub0.NumVertices()+sub1.NumVertices())
}
