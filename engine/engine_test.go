package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exanet/tnengine/backend"
	"github.com/exanet/tnengine/config"
	"github.com/exanet/tnengine/engine"
	"github.com/exanet/tnengine/network"
	"github.com/exanet/tnengine/tensor"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(engine.DefaultOptions())
	require.NoError(t, err)
	return e
}

func TestEvaluateNetworkSyncScalarDotProduct(t *testing.T) {
	e := newTestEngine(t)

	n := network.New("S", tensor.Shape{})
	u := n.AppendTensor("U", tensor.Shape{4})
	v := n.AppendTensor("V", tensor.Shape{4})
	require.NoError(t, n.Connect(u, 0, v, 0, network.Undirected))

	require.NoError(t, engine.EvaluateSync(context.Background(), e, n))

	stats := engine.StatsSync(e)
	assert.Equal(t, uint64(1), stats.NetworksEvaluated)
}

func TestEvaluateNetworkAsyncAwait(t *testing.T) {
	e := newTestEngine(t)
	n := network.New("S", tensor.Shape{})
	u := n.AppendTensor("U", tensor.Shape{2})
	v := n.AppendTensor("V", tensor.Shape{2})
	require.NoError(t, n.Connect(u, 0, v, 0, network.Undirected))

	ids, err := engine.EvaluateAsync(e, n)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	require.NoError(t, engine.AwaitSync(e, ids))
}

func TestDryRunSkipsEvaluation(t *testing.T) {
	opts := engine.DefaultOptions()
	opts.Config.DryRun = true
	e, err := engine.New(opts)
	require.NoError(t, err)

	n := network.New("S", tensor.Shape{})
	u := n.AppendTensor("U", tensor.Shape{2})
	v := n.AppendTensor("V", tensor.Shape{2})
	require.NoError(t, n.Connect(u, 0, v, 0, network.Undirected))

	require.NoError(t, engine.EvaluateSync(context.Background(), e, n))
	assert.Equal(t, uint64(0), engine.StatsSync(e).NetworksEvaluated)
}

func TestSpaceClientAPI(t *testing.T) {
	e := newTestEngine(t)
	id, err := engine.CreateSpaceSync(e, "qubit", 2)
	require.NoError(t, err)

	got, err := engine.LookupSpaceSync(e, "qubit")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	require.NoError(t, engine.DestroySpaceSync(e, id))
}

// twoSiteMPS builds a 2-site MPS network of the given bond dimension: two
// physical legs of extent 2 exposed at the output, one internal bond leg
// of the given extent connecting the two sites.
func twoSiteMPS(t *testing.T, bond uint64, nameA, nameB string) (*network.TensorNetwork, int, int) {
	t.Helper()
	n := network.New("Y", tensor.Shape{2, 2})
	a := n.AppendTensor(nameA, tensor.Shape{2, bond})
	b := n.AppendTensor(nameB, tensor.Shape{bond, 2})
	require.NoError(t, n.Connect(a, 1, b, 0, network.Undirected))
	require.NoError(t, n.Connect(network.OutputVertexID, 0, a, 0, network.Undirected))
	require.NoError(t, n.Connect(network.OutputVertexID, 1, b, 1, network.Undirected))
	return n, a, b
}

func TestReconstructorFitsLowerBondMPSApproximant(t *testing.T) {
	e := newTestEngine(t)

	targetNet, _, _ := twoSiteMPS(t, 3, "TA", "TB")
	approxNet, aA, aB := twoSiteMPS(t, 2, "AA", "AB")

	data := map[string]*backend.Buffer{
		"TA": {Shape: []uint64{2, 3}, Data: []complex128{1, 0, 0, 0, 1, 0}},
		"TB": {Shape: []uint64{3, 2}, Data: []complex128{1, 0, 0, 1, 0, 0}},
		"AA": {Shape: []uint64{2, 2}, Data: []complex128{0.7, 0.1, 0.1, 0.7}},
		"AB": {Shape: []uint64{2, 2}, Data: []complex128{0.6, 0.2, 0.2, 0.6}},
	}

	target := &network.TensorExpansion{}
	target.Append(targetNet, 1, network.Ket)

	r := engine.NewReconstructor(e, target, approxNet, []int{aA, aB}, data)
	r.MaxIters = 2000

	trace, err := r.Iterate(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, trace)

	// The target is exactly representable at this bond dimension, so
	// steepest descent should reach the gradient-norm convergence
	// criterion well before the iteration cap, and the residual norm
	// it converges to should be small rather than merely finite.
	require.Less(t, len(trace), r.MaxIters, "did not converge within MaxIters")
	last := trace[len(trace)-1]
	assert.LessOrEqual(t, last.GradientNorm, r.Tolerance)
	assert.Less(t, last.Residual, trace[0].Residual)
	assert.LessOrEqual(t, last.Residual, 1e-2)

	fidelity, err := r.Fidelity(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fidelity, 0.0)
	assert.LessOrEqual(t, fidelity, 1.0)
}

func TestEngineErrorKindMatching(t *testing.T) {
	e := newTestEngine(t)
	_, err := engine.CreateSubspaceSync(e, 999, 0, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_contract_violation")
}

func TestBackendSelectionFromConfig(t *testing.T) {
	opts := engine.DefaultOptions()
	opts.Config.Backend = config.BackendCuQuantum
	e, err := engine.New(opts)
	require.NoError(t, err)
	assert.NotNil(t, e)
}
