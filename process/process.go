// Package process implements the communicator proxy abstraction and
// process-group model: a reference-counted communicator with a
// destroy-on-free bit (default/self communicators are never released),
// sorted-rank process groups with a split(color) operation, and the
// existence/execution-domain nesting rules used by the executor and
// engine to decide which process group owns a given tensor operation.
//
// No Go MPI binding exists in the dependency stack this module draws
// from, so Communicator is backed by a single-process loopback
// implementation (LoopbackComm) rather than a real MPI wrapper, matching
// how the original engine treats MPI as an external collaborator behind
// exactly this proxy interface.
package process

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Communicator is the proxy interface every process group is built on.
// Implementations model a communication context (in the original engine,
// an MPI communicator); LoopbackComm is the only implementation available
// without a real MPI dependency.
type Communicator interface {
	Rank() int
	Size() int
	Split(color, key int) (Communicator, error)
	Send(dst int, payload []byte) error
	Recv(src int) ([]byte, error)
	Barrier()
}

// LoopbackComm is a single-process communicator: Size is always 1, Rank
// is always 0, and Send/Recv operate against an internal mailbox so
// broadcast/allreduce code paths can be exercised without a real cluster.
type LoopbackComm struct {
	mu      sync.Mutex
	mailbox map[int][][]byte
}

// NewLoopbackComm creates a single-rank loopback communicator.
func NewLoopbackComm() *LoopbackComm {
	return &LoopbackComm{mailbox: make(map[int][][]byte)}
}

func (c *LoopbackComm) Rank() int { return 0 }
func (c *LoopbackComm) Size() int { return 1 }

func (c *LoopbackComm) Split(color, key int) (Communicator, error) {
	return NewLoopbackComm(), nil
}

func (c *LoopbackComm) Send(dst int, payload []byte) error {
	if dst != 0 {
		return fmt.Errorf("process: loopback communicator has no rank %d", dst)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mailbox[dst] = append(c.mailbox[dst], payload)
	return nil
}

func (c *LoopbackComm) Recv(src int) ([]byte, error) {
	if src != 0 {
		return nil, fmt.Errorf("process: loopback communicator has no rank %d", src)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.mailbox[src]
	if len(q) == 0 {
		return nil, errors.New("process: no pending message")
	}
	msg := q[0]
	c.mailbox[src] = q[1:]
	return msg, nil
}

func (c *LoopbackComm) Barrier() {}

// handle is the reference-counted communicator wrapper carrying the
// destroy-on-free bit from the original engine's mpi_proxy.
type handle struct {
	mu            sync.Mutex
	comm          Communicator
	refCount      int
	destroyOnFree bool
}

func newHandle(comm Communicator, destroyOnFree bool) *handle {
	return &handle{comm: comm, refCount: 1, destroyOnFree: destroyOnFree}
}

func (h *handle) retain() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refCount++
}

// release decrements the refcount and reports whether the underlying
// communicator should be torn down (refcount hit zero and destroyOnFree
// is set).
func (h *handle) release() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refCount--
	return h.refCount <= 0 && h.destroyOnFree
}

// Group is a process group: a communicator handle plus the sorted list of
// global ranks it comprises and a per-process memory cap.
type Group struct {
	Tag       string
	handle    *handle
	ranks     []int
	memoryCap uint64
}

var (
	defaultGroupOnce sync.Once
	defaultGroup     *Group
	selfGroup        *Group
)

// DefaultGroup returns the process-wide default group (all ranks, never
// released by Release).
func DefaultGroup() *Group {
	defaultGroupOnce.Do(func() {
		defaultGroup = &Group{
			Tag:    "default",
			handle: newHandle(NewLoopbackComm(), false),
			ranks:  []int{0},
		}
		selfGroup = &Group{
			Tag:    "self",
			handle: newHandle(NewLoopbackComm(), false),
			ranks:  []int{0},
		}
	})
	return defaultGroup
}

// SelfGroup returns the single-rank self group (never released).
func SelfGroup() *Group {
	DefaultGroup() // ensures both are initialized together
	return selfGroup
}

// NewGroup wraps an arbitrary communicator and rank list into a
// destroy-on-free group, tagged with a fresh debugging uuid.
func NewGroup(comm Communicator, ranks []int, memoryCap uint64) *Group {
	sorted := append([]int(nil), ranks...)
	sort.Ints(sorted)
	return &Group{
		Tag:       uuid.NewString(),
		handle:    newHandle(comm, true),
		ranks:     sorted,
		memoryCap: memoryCap,
	}
}

// Ranks returns the group's sorted global rank list.
func (g *Group) Ranks() []int { return g.ranks }

// Size returns the number of ranks in the group.
func (g *Group) Size() int { return len(g.ranks) }

// MemoryCap returns the per-process memory cap in bytes (0 means
// unbounded).
func (g *Group) MemoryCap() uint64 { return g.memoryCap }

// Communicator exposes the underlying communicator proxy.
func (g *Group) Communicator() Communicator { return g.handle.comm }

// Retain increments the group's communicator refcount, used when a second
// owner (e.g. a cached plan referencing this group) needs to keep the
// communicator alive independently.
func (g *Group) Retain() { g.handle.retain() }

// Release decrements the refcount. Default and self groups have
// destroyOnFree=false and so are never actually torn down.
func (g *Group) Release() bool { return g.handle.release() }

// Split partitions the group by color: ranks sharing a color end up in
// the same new group, ordered by key. It returns the new group containing
// this process's rank (rank 0, since only loopback communicators are
// available), matching MPI_Comm_split semantics for the single-process
// case.
func (g *Group) Split(color, key int) (*Group, error) {
	newComm, err := g.handle.comm.Split(color, key)
	if err != nil {
		return nil, fmt.Errorf("process: split: %w", err)
	}
	return NewGroup(newComm, g.ranks, g.memoryCap), nil
}

// IsSubgroupOf reports whether every rank of g also appears in other,
// used by the domain-nesting rules to check "properly nested" existence
// domains.
func (g *Group) IsSubgroupOf(other *Group) bool {
	set := make(map[int]bool, len(other.ranks))
	for _, r := range other.ranks {
		set[r] = true
	}
	for _, r := range g.ranks {
		if !set[r] {
			return false
		}
	}
	return true
}

// Domain models the existence domain of a tensor: the ordered chain of
// process groups it has been replicated/dereplicated across, from
// broadest to narrowest. Execution domain rules require this chain to be
// properly nested (each entry a subgroup of the previous).
type Domain struct {
	chain []*Group
}

// NewDomain creates a domain rooted at the given group.
func NewDomain(root *Group) *Domain {
	return &Domain{chain: []*Group{root}}
}

// Narrow appends a subgroup to the domain chain, validating proper
// nesting.
func (d *Domain) Narrow(g *Group) error {
	last := d.chain[len(d.chain)-1]
	if !g.IsSubgroupOf(last) {
		return errors.New("process: domain narrowing must use a subgroup of the current execution domain")
	}
	d.chain = append(d.chain, g)
	return nil
}

// ExecutionDomain returns the smallest (most narrowed) group in the
// chain, the group that should actually execute an operation on this
// tensor.
func (d *Domain) ExecutionDomain() *Group {
	return d.chain[len(d.chain)-1]
}

// ExistenceDomains returns the full chain, broadest first.
func (d *Domain) ExistenceDomains() []*Group {
	return append([]*Group(nil), d.chain...)
}

// SubdomainOfPresence reports whether g is present anywhere in the
// domain's chain (i.e. the tensor is guaranteed to exist on every rank of
// g at some level of the nesting).
func (d *Domain) SubdomainOfPresence(g *Group) bool {
	for _, e := range d.chain {
		if e == g || g.IsSubgroupOf(e) {
			return true
		}
	}
	return false
}
