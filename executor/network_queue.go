package executor

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// NetworkJob is one whole-network evaluation submitted to the
// tensor-network queue.
type NetworkJob struct {
	Run func(ctx context.Context) error
}

// NetworkQueue dispatches whole-network evaluations to a network-level
// backend with its own pipeline depth, independent of the per-node
// LazyExecutor pipeline depth (the two pipelines run concurrently: a
// network can be mid-evaluation, itself issuing opdag nodes through a
// LazyExecutor, while the network queue admits the next network).
type NetworkQueue struct {
	sem *semaphore.Weighted
}

// NewNetworkQueue constructs a queue with the given pipeline depth
// (DefaultNetworkQueueDepth if depth <= 0).
func NewNetworkQueue(depth int) *NetworkQueue {
	if depth <= 0 {
		depth = DefaultNetworkQueueDepth
	}
	return &NetworkQueue{sem: semaphore.NewWeighted(int64(depth))}
}

// Submit blocks until a queue slot is available, then runs job
// synchronously in the calling goroutine (callers wanting concurrency
// call Submit from multiple goroutines, one per network).
func (q *NetworkQueue) Submit(ctx context.Context, job NetworkJob) error {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer q.sem.Release(1)
	return job.Run(ctx)
}
