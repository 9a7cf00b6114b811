package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanet/tnengine/space"
	"github.com/exanet/tnengine/tensor"
)

func newRegWithQubit(t *testing.T) (*space.Registry, int) {
	t.Helper()
	reg := space.New()
	id, err := reg.RegisterSpace("qubit", 2)
	require.NoError(t, err)
	return reg, id
}

func TestResolveShape(t *testing.T) {
	reg, qid := newRegWithQubit(t)

	sig := tensor.Signature{{SpaceID: qid, SubspaceID: space.DefaultSubspaceID}, {SpaceID: qid, SubspaceID: space.DefaultSubspaceID}}
	shape, err := tensor.ResolveShape(reg, sig)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 2}, shape)
	assert.Equal(t, uint64(4), shape.Volume())
}

func TestResolveShapeRejectsAnonymousSpace(t *testing.T) {
	reg := space.New()
	sig := tensor.Signature{{SpaceID: space.AnonymousSpaceID, SubspaceID: space.DefaultSubspaceID}}
	_, err := tensor.ResolveShape(reg, sig)
	assert.Error(t, err)
}

func TestNewRankMismatch(t *testing.T) {
	_, err := tensor.New("t", tensor.Shape{2, 2}, tensor.Signature{{SpaceID: 1}})
	assert.ErrorIs(t, err, tensor.ErrRankMismatch)
}

func TestIsometryGroups(t *testing.T) {
	tn, err := tensor.New("u", tensor.Shape{2, 2, 4}, tensor.Signature{{SpaceID: 1}, {SpaceID: 1}, {SpaceID: 2}})
	require.NoError(t, err)

	require.NoError(t, tn.SetIsometry(tensor.IsometryGroup{0, 1}, tensor.IsometryGroup{2}))
	assert.True(t, tn.IsIsometric())

	a, b := tn.IsometryGroups()
	assert.Equal(t, tensor.IsometryGroup{0, 1}, a)
	assert.Equal(t, tensor.IsometryGroup{2}, b)

	err = tn.SetIsometry(tensor.IsometryGroup{0}, tensor.IsometryGroup{0})
	assert.ErrorIs(t, err, tensor.ErrIsometryOverlap)

	err = tn.SetIsometry(tensor.IsometryGroup{5}, nil)
	assert.ErrorIs(t, err, tensor.ErrIsometryOutOfRange)
}

func TestIdentityKeyStable(t *testing.T) {
	id1 := tensor.Identity{Name: "A", Shape: tensor.Shape{2, 3}}
	id2 := tensor.Identity{Name: "A", Shape: tensor.Shape{2, 3}}
	assert.Equal(t, id1.Key(), id2.Key())
}
