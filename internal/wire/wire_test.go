package wire_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanet/tnengine/internal/wire"
)

const testMagic = 0x54455354 // "TEST"

func TestFrameUnframeRoundTrip(t *testing.T) {
	payload := []byte("hello wire")
	framed := wire.Frame(testMagic, 1, 1, payload)

	got, err := wire.Unframe(framed, testMagic)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestUnframeRejectsBadMagic(t *testing.T) {
	framed := wire.Frame(testMagic, 1, 1, []byte("x"))
	_, err := wire.Unframe(framed, 0xdeadbeef)
	assert.ErrorIs(t, err, wire.ErrBadMagic)
}

func TestUnframeRejectsCorruption(t *testing.T) {
	framed := wire.Frame(testMagic, 1, 1, []byte("hello"))
	framed[len(framed)-1] ^= 0xff
	_, err := wire.Unframe(framed, testMagic)
	assert.ErrorIs(t, err, wire.ErrChecksum)
}

func TestUint64VecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	wire.PutUint64Vec(&buf, []uint64{1, 2, 3, 18446744073709551615})

	got, rest, err := wire.TakeUint64Vec(buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, []uint64{1, 2, 3, 18446744073709551615}, got)
}

func TestInt32VecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	wire.PutInt32Vec(&buf, []int32{-1, 0, 42})

	got, rest, err := wire.TakeInt32Vec(buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, []int32{-1, 0, 42}, got)
}
