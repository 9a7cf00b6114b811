package process_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanet/tnengine/process"
)

func TestDefaultAndSelfGroupsNeverRelease(t *testing.T) {
	def := process.DefaultGroup()
	self := process.SelfGroup()

	assert.False(t, def.Release())
	assert.False(t, self.Release())
	assert.False(t, def.Release())
}

func TestNewGroupReleasesOnZeroRefcount(t *testing.T) {
	g := process.NewGroup(process.NewLoopbackComm(), []int{0}, 0)
	g.Retain()
	assert.False(t, g.Release())
	assert.True(t, g.Release())
}

func TestSplitProducesSubgroup(t *testing.T) {
	g := process.NewGroup(process.NewLoopbackComm(), []int{0}, 1024)
	sub, err := g.Split(0, 0)
	require.NoError(t, err)
	assert.True(t, sub.IsSubgroupOf(g))
}

func TestDomainNarrowingRequiresSubgroup(t *testing.T) {
	root := process.NewGroup(process.NewLoopbackComm(), []int{0}, 0)
	unrelated := process.NewGroup(process.NewLoopbackComm(), []int{1}, 0)

	d := process.NewDomain(root)
	assert.Error(t, d.Narrow(unrelated))

	sub, err := root.Split(0, 0)
	require.NoError(t, err)
	require.NoError(t, d.Narrow(sub))
	assert.Equal(t, sub, d.ExecutionDomain())
	assert.True(t, d.SubdomainOfPresence(root))
}

func TestReplicationStateSymmetry(t *testing.T) {
	g := process.NewGroup(process.NewLoopbackComm(), []int{0}, 0)
	rs := process.NewReplicationState("tensorA")

	rs.ReplicateTensor(g)
	assert.True(t, rs.ReplicatedOn(g))

	require.NoError(t, rs.DereplicateTensor(g))
	assert.False(t, rs.ReplicatedOn(g))

	err := rs.DereplicateTensor(g)
	assert.Error(t, err)
}
