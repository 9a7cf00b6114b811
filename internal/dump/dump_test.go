package dump_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanet/tnengine/backend"
	"github.com/exanet/tnengine/internal/dump"
)

func TestDenseRoundTrip(t *testing.T) {
	buf := &backend.Buffer{Shape: []uint64{2, 2}, Data: []complex128{1, 2, 3, 4}}
	var out bytes.Buffer
	require.NoError(t, dump.WriteDense(&out, buf))

	got, format, err := dump.Read(&out)
	require.NoError(t, err)
	assert.Equal(t, dump.Dense, format)
	assert.Equal(t, buf.Data, got.Data)
	assert.Equal(t, buf.Shape, got.Shape)
}

func TestListRoundTripSkipsZeros(t *testing.T) {
	buf := &backend.Buffer{Shape: []uint64{3}, Data: []complex128{0, 5, 0}}
	var out bytes.Buffer
	require.NoError(t, dump.WriteList(&out, buf))

	got, format, err := dump.Read(&out)
	require.NoError(t, err)
	assert.Equal(t, dump.List, format)
	assert.Equal(t, buf.Data, got.Data)
}

func TestReadRejectsUnknownFormat(t *testing.T) {
	_, _, err := dump.Read(bytes.NewBufferString("WEIRD 2\n1 2\n"))
	require.Error(t, err)
}
