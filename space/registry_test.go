package space_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanet/tnengine/space"
)

func TestAnonymousSpaceDefaults(t *testing.T) {
	r := space.New()

	extent, err := r.SpaceExtent(space.AnonymousSpaceID)
	require.NoError(t, err)
	assert.Equal(t, space.AnonymousExtent, extent)

	rng, err := r.Subspace(space.AnonymousSpaceID, space.DefaultSubspaceID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rng.Lo)
}

func TestRegisterAndLookupSpace(t *testing.T) {
	r := space.New()

	id, err := r.RegisterSpace("qubit", 2)
	require.NoError(t, err)
	assert.NotEqual(t, space.AnonymousSpaceID, id)

	got, err := r.LookupSpace("qubit")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = r.RegisterSpace("qubit", 2)
	assert.ErrorIs(t, err, space.ErrAlreadyExists)

	rng, err := r.Subspace(id, space.DefaultSubspaceID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), rng.Lo)
	assert.Equal(t, uint64(2), rng.Hi)
}

func TestCreateSubspaceRange(t *testing.T) {
	r := space.New()
	id, err := r.RegisterSpace("site", 10)
	require.NoError(t, err)

	sub, err := r.CreateSubspace(id, 2, 5)
	require.NoError(t, err)

	rng, err := r.Subspace(id, sub)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rng.Extent())

	_, err = r.CreateSubspace(id, 5, 2)
	assert.ErrorIs(t, err, space.ErrInvalidRange)

	_, err = r.CreateSubspace(id, 0, 11)
	assert.ErrorIs(t, err, space.ErrInvalidRange)

	_, err = r.CreateSubspace(space.AnonymousSpaceID, 0, 1)
	assert.Error(t, err)
}

func TestAnonymousSubspaceBaseOffset(t *testing.T) {
	r := space.New()
	id := r.CreateAnonymousSubspace(1024)

	rng, err := r.Subspace(space.AnonymousSpaceID, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), rng.Lo)
}

func TestDestroySpaceAndSubspace(t *testing.T) {
	r := space.New()
	id, err := r.RegisterSpace("tmp", 4)
	require.NoError(t, err)

	sub, err := r.CreateSubspace(id, 0, 2)
	require.NoError(t, err)

	require.NoError(t, r.DestroySubspace(id, sub))
	_, err = r.Subspace(id, sub)
	assert.ErrorIs(t, err, space.ErrNotFound)

	err = r.DestroySubspace(id, space.DefaultSubspaceID)
	assert.Error(t, err)

	require.NoError(t, r.DestroySpace(id))
	_, err = r.LookupSpace("tmp")
	assert.ErrorIs(t, err, space.ErrNotFound)

	err = r.DestroySpace(space.AnonymousSpaceID)
	assert.Error(t, err)
}
