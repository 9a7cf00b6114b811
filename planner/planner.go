package planner

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/exanet/tnengine/metisgraph"
	"github.com/exanet/tnengine/network"
)

// Algorithm names the contraction-planning strategy.
type Algorithm string

const (
	// Dummy merges vertices left-to-right in ascending vertex-id order; no
	// tie-breaking between candidate merges is applied.
	Dummy Algorithm = "dummy"
	// Heuro runs a priority-queue search with a small bounded backtracking
	// budget over the top candidate merges at each step.
	Heuro Algorithm = "heuro"
	// Greed always performs the globally cheapest available merge, no
	// backtracking.
	Greed Algorithm = "greed"
	// Metis bisects the network's METIS graph view once and merges each
	// half left-to-right into one accumulator before the final join; the
	// halves are not partitioned further.
	Metis Algorithm = "metis"
)

// ErrMemoryCeilingExceeded is returned when no plan honoring
// Options.MemoryCeilingLog2 could be produced: every candidate merge
// (or, for Heuro, every candidate in reach of its backtracking budget)
// would push the peak intermediate volume above the ceiling.
var ErrMemoryCeilingExceeded = errors.New("planner: no plan satisfies the memory ceiling")

// Step is one pairwise merge in a Plan, in execution order.
type Step struct {
	A, B   int
	Result int
	Cost   Cost
}

// Plan is an ordered sequence of merges that reduces a network to its
// output vertex.
type Plan struct {
	Steps          []Step
	TotalFlops     float64
	PeakVolumeLog2 float64 // max over all steps' Cost.PeakLog2
}

// Options configures a planning run.
type Options struct {
	Algorithm  Algorithm
	Imbalance  float64 // used by Metis's partitioner, fraction of the bisected vertex set's total weight
	BacktrackK int     // used by Heuro: number of feasible candidates considered per step

	// MemoryCeilingLog2 caps the log2 peak intermediate volume (see
	// Cost.PeakLog2) any single merge step may reach. +Inf (the
	// DefaultOptions value) means unlimited. Compute returns
	// ErrMemoryCeilingExceeded, wrapped, when the chosen algorithm cannot
	// produce a plan under the ceiling.
	MemoryCeilingLog2 float64
}

// DefaultOptions returns the greed algorithm with no backtracking and no
// memory ceiling, the cheapest reasonable default for interactive use.
func DefaultOptions() Options {
	return Options{Algorithm: Greed, Imbalance: 0.1, BacktrackK: 3, MemoryCeilingLog2: math.Inf(1)}
}

// Compute computes a contraction plan for net using the given options. net
// is not mutated; planning operates on an internal clone.
func Compute(net *network.TensorNetwork, opts Options) (*Plan, error) {
	if opts.MemoryCeilingLog2 == 0 {
		opts.MemoryCeilingLog2 = math.Inf(1)
	}
	work := net.Clone()
	switch opts.Algorithm {
	case Dummy, "":
		return planDummy(work, opts)
	case Greed:
		return planGreed(work, opts)
	case Heuro:
		return planHeuro(work, opts)
	case Metis:
		return planMetis(work, opts)
	default:
		return nil, fmt.Errorf("planner: unknown algorithm %q", opts.Algorithm)
	}
}

func nonOutputVertexIDs(n *network.TensorNetwork) []int {
	var ids []int
	for _, id := range n.VertexIDs() {
		if id != network.OutputVertexID {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// commitStep merges a and b on n, appends the resulting Step to plan, and
// folds the step's cost into plan.TotalFlops/PeakVolumeLog2.
func commitStep(n *network.TensorNetwork, plan *Plan, a, b int, cost Cost) (int, error) {
	merged, err := n.Merge(a, b)
	if err != nil {
		return 0, err
	}
	plan.Steps = append(plan.Steps, Step{A: a, B: b, Result: merged, Cost: cost})
	plan.TotalFlops += cost.Flops()
	if cost.PeakLog2 > plan.PeakVolumeLog2 {
		plan.PeakVolumeLog2 = cost.PeakLog2
	}
	return merged, nil
}

// planDummy merges vertices left-to-right in ascending id order. It has no
// alternative candidates to fall back on, so a merge that would breach the
// memory ceiling fails the whole plan outright rather than backtracking.
func planDummy(n *network.TensorNetwork, opts Options) (*Plan, error) {
	ids := nonOutputVertexIDs(n)
	if len(ids) == 0 {
		return &Plan{}, nil
	}
	plan := &Plan{}
	acc := ids[0]
	for _, next := range ids[1:] {
		cost, err := EstimateMergeCost(n, acc, next)
		if err != nil {
			return nil, fmt.Errorf("planner(dummy): %w", err)
		}
		if cost.PeakLog2 > opts.MemoryCeilingLog2 {
			return nil, fmt.Errorf("planner(dummy): %w", ErrMemoryCeilingExceeded)
		}
		merged, err := commitStep(n, plan, acc, next, cost)
		if err != nil {
			return nil, fmt.Errorf("planner(dummy): %w", err)
		}
		acc = merged
	}
	return plan, nil
}

type candidate struct {
	a, b int
	cost Cost
	idx  int
}

// candidateHeap orders candidates by (-MemoryDelta, FlopsLog2): the merge
// that frees the most live memory pops first, ties broken by flop cost.
// This is what lets Heuro prefer memory-reducing merges before cost-only
// ones, matching how it backtracks on a ceiling violation instead of
// picking whatever is cheapest in flops alone.
type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	di, dj := h[i].cost.MemoryDelta(), h[j].cost.MemoryDelta()
	if di != dj {
		return di > dj
	}
	if h[i].cost.FlopsLog2 != h[j].cost.FlopsLog2 {
		return h[i].cost.FlopsLog2 < h[j].cost.FlopsLog2
	}
	if h[i].a != h[j].a {
		return h[i].a < h[j].a
	}
	return h[i].b < h[j].b
}
func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)   { *h = append(*h, x.(candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// planGreed repeatedly merges the cheapest connected pair that satisfies
// the memory ceiling, recomputing candidate costs after each merge, until
// no connected pair remains, then merges whatever vertices are left
// (those connected only through the output) via
// finishWithRemainingOpenVertices. If every remaining pair would breach
// the ceiling the plan fails.
func planGreed(n *network.TensorNetwork, opts Options) (*Plan, error) {
	plan := &Plan{}
	for {
		pairs := connectedPairs(n)
		if len(pairs) == 0 {
			break
		}
		type scored struct {
			a, b int
			cost Cost
		}
		scoredPairs := make([]scored, 0, len(pairs))
		for _, p := range pairs {
			c, err := EstimateMergeCost(n, p[0], p[1])
			if err != nil {
				return nil, fmt.Errorf("planner(greed): %w", err)
			}
			scoredPairs = append(scoredPairs, scored{p[0], p[1], c})
		}
		sort.Slice(scoredPairs, func(i, j int) bool { return scoredPairs[i].cost.FlopsLog2 < scoredPairs[j].cost.FlopsLog2 })

		chosen := -1
		for i, s := range scoredPairs {
			if s.cost.PeakLog2 <= opts.MemoryCeilingLog2 {
				chosen = i
				break
			}
		}
		if chosen < 0 {
			return nil, fmt.Errorf("planner(greed): %w", ErrMemoryCeilingExceeded)
		}
		s := scoredPairs[chosen]
		if _, err := commitStep(n, plan, s.a, s.b, s.cost); err != nil {
			return nil, fmt.Errorf("planner(greed): %w", err)
		}
	}
	return finishWithRemainingOpenVertices(n, plan, opts)
}

// finishWithRemainingOpenVertices merges whatever non-output vertices are
// left (those only ever connected through the output) into a single
// accumulator via a left-to-right strategy, so that Plan.Steps always
// reduces the network to exactly one non-output vertex.
func finishWithRemainingOpenVertices(n *network.TensorNetwork, plan *Plan, opts Options) (*Plan, error) {
	rest := nonOutputVertexIDs(n)
	if len(rest) <= 1 {
		return plan, nil
	}
	acc := rest[0]
	for _, next := range rest[1:] {
		cost, err := EstimateMergeCost(n, acc, next)
		if err != nil {
			return nil, err
		}
		if cost.PeakLog2 > opts.MemoryCeilingLog2 {
			return nil, fmt.Errorf("planner: closing remaining open vertices: %w", ErrMemoryCeilingExceeded)
		}
		merged, err := commitStep(n, plan, acc, next, cost)
		if err != nil {
			return nil, err
		}
		acc = merged
	}
	return plan, nil
}

// planHeuro runs a priority-queue search: at each step it walks candidates
// in (-Δmemory, flops) order, evaluating up to BacktrackK of them that
// satisfy the memory ceiling by one level of lookahead, and commits to
// whichever has the cheapest lookahead total. Candidates that would breach
// the ceiling are skipped without counting against the BacktrackK budget,
// so a memory violation causes the search to backtrack arbitrarily far
// into the candidate list rather than only ever looking at the top few by
// cost; if no candidate at all satisfies the ceiling the step (and the
// plan) fails.
func planHeuro(n *network.TensorNetwork, opts Options) (*Plan, error) {
	k := opts.BacktrackK
	if k <= 0 {
		k = 1
	}
	plan := &Plan{}
	for {
		pairs := connectedPairs(n)
		if len(pairs) == 0 {
			break
		}
		h := &candidateHeap{}
		heap.Init(h)
		for i, p := range pairs {
			c, err := EstimateMergeCost(n, p[0], p[1])
			if err != nil {
				return nil, fmt.Errorf("planner(heuro): %w", err)
			}
			heap.Push(h, candidate{a: p[0], b: p[1], cost: c, idx: i})
		}

		var bestChoice candidate
		haveChoice := false
		bestLookahead := 0.0
		evaluated := 0
		for h.Len() > 0 && evaluated < k {
			c := heap.Pop(h).(candidate)
			if c.cost.PeakLog2 > opts.MemoryCeilingLog2 {
				continue // memory violation: backtrack past this candidate
			}
			lookahead, err := lookaheadCost(n, c)
			if err != nil {
				return nil, fmt.Errorf("planner(heuro): %w", err)
			}
			if !haveChoice || lookahead < bestLookahead {
				bestLookahead = lookahead
				bestChoice = c
				haveChoice = true
			}
			evaluated++
		}
		if !haveChoice {
			return nil, fmt.Errorf("planner(heuro): %w", ErrMemoryCeilingExceeded)
		}

		if _, err := commitStep(n, plan, bestChoice.a, bestChoice.b, bestChoice.cost); err != nil {
			return nil, fmt.Errorf("planner(heuro): %w", err)
		}
	}
	return finishWithRemainingOpenVertices(n, plan, opts)
}

// lookaheadCost estimates the cost of committing to candidate c by
// applying it to a scratch clone and summing its cost with the cheapest
// single follow-up merge available afterward (or just its own cost if
// none remain).
func lookaheadCost(n *network.TensorNetwork, c candidate) (float64, error) {
	scratch := n.Clone()
	merged, err := scratch.Merge(c.a, c.b)
	if err != nil {
		return 0, err
	}
	pairs := connectedPairs(scratch)
	total := c.cost.FlopsLog2
	best := -1.0
	for _, p := range pairs {
		if p[0] != merged && p[1] != merged {
			continue
		}
		nc, err := EstimateMergeCost(scratch, p[0], p[1])
		if err != nil {
			return 0, err
		}
		if best < 0 || nc.FlopsLog2 < best {
			best = nc.FlopsLog2
		}
	}
	if best >= 0 {
		total += best
	}
	return total, nil
}

// planMetis builds the METIS multigraph view, bisects it once into two
// roughly-equal-weight halves, merges each half left-to-right into a
// single accumulator (planWithinGroup), and finally merges the two
// accumulators; the halves are not bisected further. Halves of size 1
// fall straight through to a no-op sub-plan.
func planMetis(n *network.TensorNetwork, opts Options) (*Plan, error) {
	ids := nonOutputVertexIDs(n)
	if len(ids) <= 2 {
		return planGreed(n, opts)
	}

	g, err := metisgraph.FromNetwork(n)
	if err != nil {
		return nil, fmt.Errorf("planner(metis): %w", err)
	}
	imbalance := opts.Imbalance
	if imbalance <= 0 {
		imbalance = 0.1
	}
	part, err := metisgraph.Partition(g, 2, imbalance)
	if err != nil {
		return nil, fmt.Errorf("planner(metis): %w", err)
	}

	var groupA, groupB []int
	for gv, p := range part {
		origID := g.Renumber[gv]
		if p == 0 {
			groupA = append(groupA, origID)
		} else {
			groupB = append(groupB, origID)
		}
	}
	if len(groupA) == 0 || len(groupB) == 0 {
		return planGreed(n, opts)
	}

	plan := &Plan{}
	accA, err := planWithinGroup(n, groupA, plan, opts)
	if err != nil {
		return nil, fmt.Errorf("planner(metis): %w", err)
	}
	accB, err := planWithinGroup(n, groupB, plan, opts)
	if err != nil {
		return nil, fmt.Errorf("planner(metis): %w", err)
	}

	if accA >= 0 && accB >= 0 {
		cost, err := EstimateMergeCost(n, accA, accB)
		if err != nil {
			return nil, fmt.Errorf("planner(metis): %w", err)
		}
		if cost.PeakLog2 > opts.MemoryCeilingLog2 {
			return nil, fmt.Errorf("planner(metis): joining partitions: %w", ErrMemoryCeilingExceeded)
		}
		if _, err := commitStep(n, plan, accA, accB, cost); err != nil {
			return nil, fmt.Errorf("planner(metis): %w", err)
		}
	}

	return finishWithRemainingOpenVertices(n, plan, opts)
}

// planWithinGroup left-to-right merges a partition's vertex ids (which may
// include ids created by earlier merges elsewhere) into one accumulator,
// appending its steps to plan. It returns -1 if the group is empty.
func planWithinGroup(n *network.TensorNetwork, group []int, plan *Plan, opts Options) (int, error) {
	var alive []int
	for _, id := range group {
		if _, err := n.Vertex(id); err == nil {
			alive = append(alive, id)
		}
	}
	if len(alive) == 0 {
		return -1, nil
	}
	acc := alive[0]
	for _, next := range alive[1:] {
		cost, err := EstimateMergeCost(n, acc, next)
		if err != nil {
			return -1, err
		}
		if cost.PeakLog2 > opts.MemoryCeilingLog2 {
			return -1, fmt.Errorf("%w", ErrMemoryCeilingExceeded)
		}
		merged, err := commitStep(n, plan, acc, next, cost)
		if err != nil {
			return -1, err
		}
		acc = merged
	}
	return acc, nil
}
