package process

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// fabric is the shared mailbox and barrier state behind a set of
// SimulatedComm ranks constructed together by NewSimulatedFabric.
type fabric struct {
	size int

	mu      sync.Mutex
	mailbox map[[2]int][][]byte

	barrierMu  sync.Mutex
	barrierCnd *sync.Cond
	barrierGen int
	barrierCnt int
}

func newFabric(size int) *fabric {
	f := &fabric{size: size, mailbox: make(map[[2]int][][]byte)}
	f.barrierCnd = sync.NewCond(&f.barrierMu)
	return f
}

// SimulatedComm is one rank's view of an in-process, multi-rank
// communicator: every rank in a fabric is a distinct SimulatedComm value
// sharing the same mailbox and barrier state, so BROADCAST/ALLREDUCE
// dispatch can be exercised against a real multi-rank exchange (root
// selection, rank-ordered summation, barrier synchronization) without a
// real MPI dependency. LoopbackComm remains the single-rank case;
// SimulatedComm is its N-rank counterpart, needed because the executor's
// collective dispatch has no other way to be driven by more than one
// rank inside a single test process.
type SimulatedComm struct {
	f    *fabric
	rank int
}

// NewSimulatedFabric builds size linked SimulatedComm values, one per
// rank, that can Send/Recv to each other by rank and synchronize with
// Barrier.
func NewSimulatedFabric(size int) []*SimulatedComm {
	f := newFabric(size)
	comms := make([]*SimulatedComm, size)
	for r := 0; r < size; r++ {
		comms[r] = &SimulatedComm{f: f, rank: r}
	}
	return comms
}

func (c *SimulatedComm) Rank() int { return c.rank }
func (c *SimulatedComm) Size() int { return c.f.size }

// Split is not implemented for SimulatedComm: constructing a genuine
// subgroup fabric requires calling NewSimulatedGroup with the narrowed
// rank list rather than splitting an existing communicator in place.
func (c *SimulatedComm) Split(color, key int) (Communicator, error) {
	return nil, errors.New("process: SimulatedComm does not support Split; build a new group with NewSimulatedGroup instead")
}

func (c *SimulatedComm) Send(dst int, payload []byte) error {
	if dst < 0 || dst >= c.f.size {
		return fmt.Errorf("process: simulated fabric has no rank %d", dst)
	}
	cp := append([]byte(nil), payload...)
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	key := [2]int{c.rank, dst}
	c.f.mailbox[key] = append(c.f.mailbox[key], cp)
	return nil
}

func (c *SimulatedComm) Recv(src int) ([]byte, error) {
	if src < 0 || src >= c.f.size {
		return nil, fmt.Errorf("process: simulated fabric has no rank %d", src)
	}
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	key := [2]int{src, c.rank}
	q := c.f.mailbox[key]
	if len(q) == 0 {
		return nil, errors.New("process: no pending message")
	}
	msg := q[0]
	c.f.mailbox[key] = q[1:]
	return msg, nil
}

// Barrier blocks until every rank sharing this fabric has called
// Barrier, using a generation counter so the same fabric can be barriered
// repeatedly (once per collective step, in the executor's usage) without
// a race between successive calls.
func (c *SimulatedComm) Barrier() {
	f := c.f
	f.barrierMu.Lock()
	gen := f.barrierGen
	f.barrierCnt++
	if f.barrierCnt == f.size {
		f.barrierCnt = 0
		f.barrierGen++
		f.barrierCnd.Broadcast()
	} else {
		for f.barrierGen == gen {
			f.barrierCnd.Wait()
		}
	}
	f.barrierMu.Unlock()
}

// NewSimulatedGroup builds one process.Group per entry in ranks, all
// sharing a single simulated fabric and Tag so the executor's collective
// dispatch recognizes them as copies of the same logical group, one per
// rank. This is the constructor a test or demo uses to stand up a
// multi-rank scenario (e.g. the 4-rank BROADCAST/ALLREDUCE case) inside a
// single process: index i of the returned slice is rank i's Group, to be
// handed to a LazyExecutor running that rank's share of the work.
func NewSimulatedGroup(ranks []int, memoryCap uint64) []*Group {
	sorted := append([]int(nil), ranks...)
	sort.Ints(sorted)
	comms := NewSimulatedFabric(len(sorted))
	tag := uuid.NewString()
	groups := make([]*Group, len(sorted))
	for i, comm := range comms {
		groups[i] = &Group{
			Tag:       tag,
			handle:    newHandle(comm, true),
			ranks:     append([]int(nil), sorted...),
			memoryCap: memoryCap,
		}
	}
	return groups
}
