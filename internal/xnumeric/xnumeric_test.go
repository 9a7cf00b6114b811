package xnumeric_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanet/tnengine/internal/xnumeric"
)

func TestKindByteSize(t *testing.T) {
	assert.Equal(t, 4, xnumeric.Real32.ByteSize())
	assert.Equal(t, 16, xnumeric.Complex128.ByteSize())
	assert.True(t, xnumeric.Complex64.IsComplex())
	assert.False(t, xnumeric.Real64.IsComplex())
}

func TestToComplex128DropsImagForRealKinds(t *testing.T) {
	v, err := xnumeric.ToComplex128(xnumeric.Real64, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, complex(3, 0), v)
}

func TestNarrowFromRoundTripsComplex(t *testing.T) {
	re, im, err := xnumeric.NarrowFrom(xnumeric.Complex128, complex(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 1.0, re)
	assert.Equal(t, 2.0, im)
}
