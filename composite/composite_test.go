package composite_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanet/tnengine/composite"
	"github.com/exanet/tnengine/process"
	"github.com/exanet/tnengine/tensor"
)

func TestSplitBlockCount(t *testing.T) {
	base, err := tensor.New("T", tensor.Shape{8, 4}, tensor.Signature{{SpaceID: 1}, {SpaceID: 2}})
	require.NoError(t, err)

	ct, err := composite.NewSplit(base, []composite.SplitDirective{
		{Dimension: 0, Depth: 1},
		{Dimension: 1, Depth: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(8), ct.TotalBlocks()) // 2^1 * 2^2 = 8
}

func TestBlockPresenceMask(t *testing.T) {
	base, err := tensor.New("T", tensor.Shape{4}, tensor.Signature{{SpaceID: 1}})
	require.NoError(t, err)
	ct, err := composite.NewSplit(base, []composite.SplitDirective{{Dimension: 0, Depth: 2}})
	require.NoError(t, err)

	require.NoError(t, ct.SetBlockPresent(composite.BlockCoord{2}, true))
	present, err := ct.IsBlockPresent(composite.BlockCoord{2})
	require.NoError(t, err)
	assert.True(t, present)

	absent, err := ct.IsBlockPresent(composite.BlockCoord{0})
	require.NoError(t, err)
	assert.False(t, absent)
	assert.Equal(t, uint64(1), ct.PresentBlockCount())
}

func TestBlockShapeHandlesRemainder(t *testing.T) {
	base, err := tensor.New("T", tensor.Shape{10}, tensor.Signature{{SpaceID: 1}})
	require.NoError(t, err)
	ct, err := composite.NewSplit(base, []composite.SplitDirective{{Dimension: 0, Depth: 2}})
	require.NoError(t, err)

	shape0, err := ct.BlockShape(composite.BlockCoord{0})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2}, shape0)

	shape3, err := ct.BlockShape(composite.BlockCoord{3})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4}, shape3) // 10/4=2 remainder 2, last block absorbs remainder
}

func TestAssignDistributionRequiresDivisibility(t *testing.T) {
	base, err := tensor.New("T", tensor.Shape{4}, tensor.Signature{{SpaceID: 1}})
	require.NoError(t, err)
	ct, err := composite.NewSplit(base, []composite.SplitDirective{{Dimension: 0, Depth: 1}}) // 2 blocks
	require.NoError(t, err)

	g3 := process.NewGroup(process.NewLoopbackComm(), []int{0, 1, 2}, 0)
	err = ct.AssignDistribution(g3)
	assert.ErrorIs(t, err, composite.ErrDistributionMismatch)

	g1 := process.NewGroup(process.NewLoopbackComm(), []int{0}, 0)
	require.NoError(t, ct.AssignDistribution(g1))

	owner, err := ct.OwnerOf(composite.BlockCoord{1})
	require.NoError(t, err)
	assert.Equal(t, 0, owner)
}
