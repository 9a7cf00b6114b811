package opdag_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanet/tnengine/opdag"
)

func TestReadyNodesRespectDependencies(t *testing.T) {
	d := opdag.New()
	create := d.Append(opdag.CREATE, nil, []string{"A"}, nil)
	contract := d.Append(opdag.CONTRACT, []string{"A"}, []string{"B"}, nil)
	destroy := d.Append(opdag.DESTROY, nil, []string{"A"}, nil)

	ready := d.ReadyNodes()
	assert.Equal(t, []uint64{create}, ready)

	require.NoError(t, d.MarkExecuting(create))
	require.NoError(t, d.MarkComplete(create, nil))

	ready = d.ReadyNodes()
	assert.Contains(t, ready, contract)
	assert.NotContains(t, ready, destroy) // DESTROY of A waits for the earlier reader of A

	require.NoError(t, d.MarkExecuting(contract))
	require.NoError(t, d.MarkComplete(contract, nil))
	assert.Contains(t, d.ReadyNodes(), destroy)
}

func TestAwaitReturnsError(t *testing.T) {
	d := opdag.New()
	n := d.Append(opdag.CONTRACT, nil, []string{"X"}, nil)
	require.NoError(t, d.MarkExecuting(n))

	go func() {
		_ = d.MarkComplete(n, errors.New("backend failure"))
	}()

	err := d.Await(n)
	assert.Error(t, err)
}

func TestAwaitAllAggregatesFirstError(t *testing.T) {
	d := opdag.New()
	a := d.Append(opdag.CREATE, nil, []string{"A"}, nil)
	b := d.Append(opdag.CREATE, nil, []string{"B"}, nil)
	require.NoError(t, d.MarkExecuting(a))
	require.NoError(t, d.MarkExecuting(b))
	require.NoError(t, d.MarkComplete(a, errors.New("boom")))
	require.NoError(t, d.MarkComplete(b, nil))

	err := d.AwaitAll([]uint64{a, b})
	assert.EqualError(t, err, "boom")
}

func TestWriteAfterReadDependency(t *testing.T) {
	d := opdag.New()
	create := d.Append(opdag.CREATE, nil, []string{"A"}, nil)
	read := d.Append(opdag.FETCH, []string{"A"}, nil, nil)
	overwrite := d.Append(opdag.TRANSFORM, nil, []string{"A"}, nil)

	deps := d.Dependencies(overwrite)
	assert.Contains(t, deps, read)
	assert.Contains(t, deps, create)
}

func TestAwaitTensorWaitsOnLatestWriter(t *testing.T) {
	d := opdag.New()
	first := d.Append(opdag.CREATE, nil, []string{"A"}, nil)
	require.NoError(t, d.MarkExecuting(first))
	require.NoError(t, d.MarkComplete(first, nil))

	second := d.Append(opdag.TRANSFORM, nil, []string{"A"}, nil)
	require.NoError(t, d.MarkExecuting(second))

	go func() {
		_ = d.MarkComplete(second, errors.New("transform failed"))
	}()

	err := d.AwaitTensor("A")
	assert.EqualError(t, err, "transform failed")
}

func TestAwaitTensorUnknownKey(t *testing.T) {
	d := opdag.New()
	err := d.AwaitTensor("nope")
	assert.Error(t, err)
}
