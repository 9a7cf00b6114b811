package executor_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/exanet/tnengine/backend"
	"github.com/exanet/tnengine/executor"
	"github.com/exanet/tnengine/opdag"
	"github.com/exanet/tnengine/process"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestExecuteRunsDependencyOrderCorrectly(t *testing.T) {
	dag := opdag.New()
	store := executor.NewMapOperandStore()

	store.Store("A", &backend.Buffer{Data: []complex128{1, 2}})
	store.Store("OUT", &backend.Buffer{Data: []complex128{0, 0}})

	dag.Append(opdag.CREATE, nil, []string{"OUT"}, nil)
	dag.Append(opdag.ADD, []string{"A"}, []string{"OUT"}, nil)

	host := backend.NewHostBackend()
	exec := executor.New(dag, host, store, executor.DefaultOptions())

	require.NoError(t, exec.Execute(context.Background()))

	out, ok := store.Load("OUT")
	require.True(t, ok)
	assert.Equal(t, 2, len(out.Data))
}

func TestOptionsForBackendUsesCuQuantumDepth(t *testing.T) {
	cq := backend.NewCuQuantumBackend()
	opts := executor.OptionsForBackend(cq)
	assert.Equal(t, executor.CuQuantumPipelineDepth, opts.PipelineDepth)
}

// TestBroadcastAcrossSimulatedRanks drives a 4-rank BROADCAST through
// executor.runCollective over a process.NewSimulatedGroup fabric, the
// scenario LoopbackComm's single-rank implementation cannot represent:
// rank 0 owns the source data, every rank ends up with an identical copy.
func TestBroadcastAcrossSimulatedRanks(t *testing.T) {
	const numRanks = 4
	groups := process.NewSimulatedGroup([]int{0, 1, 2, 3}, 0)

	results := make([][]complex128, numRanks)
	var wg sync.WaitGroup
	var mu sync.Mutex
	errs := make([]error, numRanks)

	for rank := 0; rank < numRanks; rank++ {
		rank := rank
		wg.Add(1)
		go func() {
			defer wg.Done()
			dag := opdag.New()
			store := executor.NewMapOperandStore()
			store.Store("DST", &backend.Buffer{Shape: []uint64{3}, Data: make([]complex128, 3)})
			if rank == 0 {
				store.Store("SRC", &backend.Buffer{Shape: []uint64{3}, Data: []complex128{1, 2, 3}})
			}
			dag.Append(opdag.BROADCAST, []string{"SRC"}, []string{"DST"}, nil)

			opts := executor.DefaultOptions()
			opts.Group = groups[rank]
			exec := executor.New(dag, backend.NewHostBackend(), store, opts)

			err := exec.Execute(context.Background())
			mu.Lock()
			errs[rank] = err
			mu.Unlock()
			if err == nil {
				out, _ := store.Load("DST")
				results[rank] = out.Data
			}
		}()
	}
	wg.Wait()

	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	for rank, data := range results {
		assert.Equal(t, []complex128{1, 2, 3}, data, "rank %d", rank)
	}
}

// TestAllreduceAcrossSimulatedRanks drives a 4-rank ALLREDUCE, each rank
// contributing a distinct local value; every rank must observe the same
// summed result once the collective completes.
func TestAllreduceAcrossSimulatedRanks(t *testing.T) {
	const numRanks = 4
	groups := process.NewSimulatedGroup([]int{0, 1, 2, 3}, 0)

	results := make([][]complex128, numRanks)
	var wg sync.WaitGroup
	var mu sync.Mutex
	errs := make([]error, numRanks)

	for rank := 0; rank < numRanks; rank++ {
		rank := rank
		wg.Add(1)
		go func() {
			defer wg.Done()
			dag := opdag.New()
			store := executor.NewMapOperandStore()
			store.Store("LOCAL", &backend.Buffer{Shape: []uint64{2}, Data: []complex128{complex(float64(rank+1), 0), complex(float64(rank+1), 0)}})
			store.Store("SUM", &backend.Buffer{Shape: []uint64{2}, Data: make([]complex128, 2)})
			dag.Append(opdag.ALLREDUCE, []string{"LOCAL"}, []string{"SUM"}, nil)

			opts := executor.DefaultOptions()
			opts.Group = groups[rank]
			exec := executor.New(dag, backend.NewHostBackend(), store, opts)

			err := exec.Execute(context.Background())
			mu.Lock()
			errs[rank] = err
			mu.Unlock()
			if err == nil {
				out, _ := store.Load("SUM")
				results[rank] = out.Data
			}
		}()
	}
	wg.Wait()

	for rank, err := range errs {
		require.NoError(t, err, "rank %d", rank)
	}
	want := []complex128{10, 10} // 1+2+3+4
	for rank, data := range results {
		assert.Equal(t, want, data, "rank %d", rank)
	}
}

func TestNetworkQueueRespectsDepth(t *testing.T) {
	q := executor.NewNetworkQueue(1)
	err := q.Submit(context.Background(), executor.NetworkJob{Run: func(ctx context.Context) error {
		return nil
	}})
	require.NoError(t, err)
}
