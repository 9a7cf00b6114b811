// Package executor implements the lazy graph executor: Execute collects
// the DAG's ready nodes as a batch and runs each node of the batch in its
// own goroutine, bounded by a pipeline-depth semaphore, where that
// goroutine submits the node and waits for its completion itself. There
// is no separate completion loop polling in-flight handles in FIFO order,
// and each batch is fully drained before the next batch of ready nodes is
// collected. A prefetch pass stages read operands without reordering
// execution, and a tensor-network queue with its own pipeline depth runs
// whole-network jobs.
//
// Constants and method surface are grounded on the original engine's
// lazy graph executor (DEFAULT_PIPELINE_DEPTH=16, DEFAULT_PREFETCH_DEPTH=4,
// CUQUANTUM_PIPELINE_DEPTH=2).
package executor

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/exanet/tnengine/backend"
	"github.com/exanet/tnengine/internal/wire"
	"github.com/exanet/tnengine/opdag"
	"github.com/exanet/tnengine/process"
)

const (
	// DefaultPipelineDepth is the default number of in-flight opdag nodes.
	DefaultPipelineDepth = 16
	// CuQuantumPipelineDepth is the pipeline depth used under a
	// cuQuantum-style backend, which needs a much smaller in-flight budget.
	CuQuantumPipelineDepth = 2
	// DefaultPrefetchDepth is how many nodes at the front of each issued
	// batch the prefetcher stages read operands for.
	DefaultPrefetchDepth = 4
	// DefaultNetworkQueueDepth is the pipeline depth of the tensor-network
	// dispatch queue, independent of the node-level pipeline depth.
	DefaultNetworkQueueDepth = 2
)

// OperandStore resolves a tensor key to its backend buffer, and is
// implemented by whatever layer owns tensor storage (the engine, in
// practice). Store is used by CREATE/UPLOAD-style nodes to register a new
// buffer.
type OperandStore interface {
	Load(key string) (*backend.Buffer, bool)
	Store(key string, buf *backend.Buffer)
	Delete(key string)
}

// MapOperandStore is a trivial mutex-guarded map-backed OperandStore.
type MapOperandStore struct {
	mu   sync.RWMutex
	data map[string]*backend.Buffer
}

// NewMapOperandStore constructs an empty store.
func NewMapOperandStore() *MapOperandStore {
	return &MapOperandStore{data: make(map[string]*backend.Buffer)}
}

func (s *MapOperandStore) Load(key string) (*backend.Buffer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[key]
	return b, ok
}

func (s *MapOperandStore) Store(key string, buf *backend.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = buf
}

func (s *MapOperandStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Options configures a LazyExecutor.
type Options struct {
	PipelineDepth int
	PrefetchDepth int

	// Group is the process group this executor's rank belongs to.
	// BROADCAST and ALLREDUCE nodes are dispatched through Group's
	// communicator instead of the backend when Group has more than one
	// rank; a nil Group (or a single-rank one) falls back to the
	// backend's own degenerate single-process implementation of those
	// opcodes.
	Group *process.Group
	// Replication tracks, per write-tensor key, which groups a BROADCAST
	// through this executor has replicated that tensor onto. Left nil,
	// no replication bookkeeping is recorded.
	Replication map[string]*process.ReplicationState
}

// DefaultOptions returns the host-backend defaults.
func DefaultOptions() Options {
	return Options{PipelineDepth: DefaultPipelineDepth, PrefetchDepth: DefaultPrefetchDepth}
}

// OptionsForBackend returns options tuned to the given backend's reported
// pipeline depth.
func OptionsForBackend(b backend.NodeExecutor) Options {
	return Options{PipelineDepth: b.PipelineDepth(), PrefetchDepth: DefaultPrefetchDepth}
}

// LazyExecutor drains a DAG's ready nodes, dispatching each to a
// NodeExecutor and completing them out of the way as they finish, while
// respecting a bounded in-flight budget.
type LazyExecutor struct {
	dag     *opdag.DAG
	backend backend.NodeExecutor
	store   OperandStore
	opts    Options
	pool    *backend.BufferPool

	group       *process.Group
	replication map[string]*process.ReplicationState

	sem *semaphore.Weighted
}

// New constructs a LazyExecutor over dag, dispatching ready nodes to b and
// resolving operands through store. Missing write operands (and, through
// prefetch, missing read operands) are allocated from a BufferPool owned
// by this executor, and DESTROY nodes return their buffers to it, so later
// nodes run by the same executor can reuse those backing slices; the pool
// is not shared between executors.
func New(dag *opdag.DAG, b backend.NodeExecutor, store OperandStore, opts Options) *LazyExecutor {
	if opts.PipelineDepth <= 0 {
		opts.PipelineDepth = DefaultPipelineDepth
	}
	if opts.PrefetchDepth <= 0 {
		opts.PrefetchDepth = DefaultPrefetchDepth
	}
	return &LazyExecutor{
		dag:         dag,
		backend:     b,
		store:       store,
		opts:        opts,
		pool:        backend.NewBufferPool(),
		group:       opts.Group,
		replication: opts.Replication,
		sem:         semaphore.NewWeighted(int64(opts.PipelineDepth)),
	}
}

// Execute runs every currently-appended DAG node to completion (batch by
// batch, as the package doc describes), respecting the pipeline depth, and returns the
// first error encountered (if any) after every issued node has finished.
func (e *LazyExecutor) Execute(ctx context.Context) error {
	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
		issued   = map[uint64]bool{}
	)

	recordErr := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for {
		mu.Lock()
		ready := e.dag.ReadyNodes()
		var toIssue []uint64
		for _, id := range ready {
			if !issued[id] {
				toIssue = append(toIssue, id)
				issued[id] = true
			}
		}
		mu.Unlock()

		if len(toIssue) == 0 {
			break
		}

		e.prefetch(toIssue)

		for _, id := range toIssue {
			id := id
			if err := e.sem.Acquire(ctx, 1); err != nil {
				recordErr(err)
				break
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer e.sem.Release(1)
				if err := e.runNode(id); err != nil {
					recordErr(err)
				}
			}()
		}
		wg.Wait()
	}

	wg.Wait()
	return firstErr
}

// prefetch stages read operands for the first PrefetchDepth nodes of the
// batch about to be issued. It never reorders execution: it only ensures
// those nodes' read operand buffers exist in the store (taking one from
// the pool if missing).
func (e *LazyExecutor) prefetch(nodes []uint64) {
	limit := e.opts.PrefetchDepth
	if limit > len(nodes) {
		limit = len(nodes)
	}
	for i := 0; i < limit; i++ {
		n, err := e.dag.Node(nodes[i])
		if err != nil {
			continue
		}
		for _, key := range n.Reads {
			if _, ok := e.store.Load(key); !ok {
				e.store.Store(key, e.pool.Get(nil))
			}
		}
	}
}

func (e *LazyExecutor) runNode(id uint64) error {
	n, err := e.dag.Node(id)
	if err != nil {
		return err
	}
	if err := e.dag.MarkExecuting(id); err != nil {
		return err
	}

	if n.Op == opdag.DESTROY {
		for _, key := range n.Reads {
			if buf, ok := e.store.Load(key); ok {
				e.pool.Put(buf)
				e.store.Delete(key)
			}
		}
		return e.dag.MarkComplete(id, nil)
	}

	if n.Op.IsCollective() && e.group != nil && e.group.Size() > 1 {
		err := e.runCollective(n)
		return e.dag.MarkComplete(id, err)
	}

	operands := map[string]*backend.Buffer{}
	for _, key := range n.Reads {
		buf, ok := e.store.Load(key)
		if !ok {
			err := fmt.Errorf("executor: missing read operand %q for node %d", key, id)
			_ = e.dag.MarkComplete(id, err)
			return err
		}
		operands[key] = buf
	}
	for _, key := range n.Writes {
		buf, ok := e.store.Load(key)
		if !ok {
			buf = e.pool.Get(nil)
			e.store.Store(key, buf)
		}
		operands[key] = buf
	}

	h, err := e.backend.Submit(n, operands)
	if err != nil {
		_ = e.dag.MarkComplete(id, err)
		return err
	}
	if err := e.backend.Sync(h); err != nil {
		_ = e.dag.MarkComplete(id, err)
		return err
	}
	return e.dag.MarkComplete(id, nil)
}

// runCollective dispatches a BROADCAST or ALLREDUCE node through the
// executor's process group communicator instead of the backend,
// exercising a genuine (if simulated) multi-rank exchange: BROADCAST
// distributes rank 0's operand to every other rank in the group,
// ALLREDUCE gathers every rank's operand at rank 0, sums it, and
// rebroadcasts the total back out.
func (e *LazyExecutor) runCollective(n *opdag.Node) error {
	comm := e.group.Communicator()
	rank, size := comm.Rank(), comm.Size()

	switch n.Op {
	case opdag.BROADCAST:
		if len(n.Reads) != 1 || len(n.Writes) != 1 {
			return fmt.Errorf("executor: BROADCAST requires exactly one read and one write")
		}
		dst, ok := e.store.Load(n.Writes[0])
		if !ok {
			return fmt.Errorf("executor: missing broadcast destination %q", n.Writes[0])
		}
		if rank == 0 {
			src, ok := e.store.Load(n.Reads[0])
			if !ok {
				return fmt.Errorf("executor: missing broadcast source %q", n.Reads[0])
			}
			copy(dst.Data, src.Data)
			var buf bytes.Buffer
			wire.PutComplex128Vec(&buf, src.Data)
			for peer := 1; peer < size; peer++ {
				if err := comm.Send(peer, buf.Bytes()); err != nil {
					return err
				}
			}
		} else {
			payload, err := recvBlocking(comm, 0)
			if err != nil {
				return err
			}
			data, _, err := wire.TakeComplex128Vec(payload)
			if err != nil {
				return err
			}
			if len(data) != len(dst.Data) {
				return fmt.Errorf("executor: BROADCAST shape mismatch: got %d want %d", len(data), len(dst.Data))
			}
			copy(dst.Data, data)
		}
		comm.Barrier()
		if rs := e.replicationFor(n.Writes[0]); rs != nil {
			rs.ReplicateTensor(e.group)
		}
		return nil

	case opdag.ALLREDUCE:
		if len(n.Reads) != 1 || len(n.Writes) != 1 {
			return fmt.Errorf("executor: ALLREDUCE requires exactly one read and one write")
		}
		src, ok := e.store.Load(n.Reads[0])
		if !ok {
			return fmt.Errorf("executor: missing allreduce operand %q", n.Reads[0])
		}
		dst, ok := e.store.Load(n.Writes[0])
		if !ok {
			return fmt.Errorf("executor: missing allreduce destination %q", n.Writes[0])
		}
		sum := append([]complex128(nil), src.Data...)
		if rank == 0 {
			for peer := 1; peer < size; peer++ {
				payload, err := recvBlocking(comm, peer)
				if err != nil {
					return err
				}
				data, _, err := wire.TakeComplex128Vec(payload)
				if err != nil {
					return err
				}
				if len(data) != len(sum) {
					return fmt.Errorf("executor: ALLREDUCE shape mismatch from rank %d", peer)
				}
				for i := range sum {
					sum[i] += data[i]
				}
			}
			var buf bytes.Buffer
			wire.PutComplex128Vec(&buf, sum)
			for peer := 1; peer < size; peer++ {
				if err := comm.Send(peer, buf.Bytes()); err != nil {
					return err
				}
			}
			copy(dst.Data, sum)
		} else {
			var buf bytes.Buffer
			wire.PutComplex128Vec(&buf, src.Data)
			if err := comm.Send(0, buf.Bytes()); err != nil {
				return err
			}
			payload, err := recvBlocking(comm, 0)
			if err != nil {
				return err
			}
			data, _, err := wire.TakeComplex128Vec(payload)
			if err != nil {
				return err
			}
			if len(data) != len(dst.Data) {
				return fmt.Errorf("executor: ALLREDUCE shape mismatch: got %d want %d", len(data), len(dst.Data))
			}
			copy(dst.Data, data)
		}
		comm.Barrier()
		return nil

	default:
		return fmt.Errorf("executor: %s is not a supported collective", n.Op)
	}
}

// replicationFor returns (creating it if necessary) the replication
// bookkeeping tracked for a tensor key, or nil if the executor was not
// configured with replication tracking.
func (e *LazyExecutor) replicationFor(key string) *process.ReplicationState {
	if e.replication == nil {
		return nil
	}
	rs, ok := e.replication[key]
	if !ok {
		rs = process.NewReplicationState(key)
		e.replication[key] = rs
	}
	return rs
}

// recvBlocking polls Recv until a message from src arrives. Both
// LoopbackComm and SimulatedComm are non-blocking mailboxes rather than
// channel-based queues, so a rank waiting on a peer must retry rather
// than block on a channel receive.
func recvBlocking(comm process.Communicator, src int) ([]byte, error) {
	for {
		payload, err := comm.Recv(src)
		if err == nil {
			return payload, nil
		}
		time.Sleep(50 * time.Microsecond)
	}
}

// FlopCount returns the backend's cumulative flop counter.
func (e *LazyExecutor) FlopCount() uint64 { return e.backend.FlopCount() }
