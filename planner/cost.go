// Package planner implements the contraction-tree optimizer: given a
// finalized tensor network, it produces an ordered sequence of pairwise
// merges (a Plan) that contracts the network down to its output tensor,
// using one of four algorithms (dummy, heuro, greed, metis) and a cost
// model expressed in log2-volume space to avoid overflow on large
// networks.
package planner

import (
	"math"

	"github.com/exanet/tnengine/network"
)

// Cost is the log2-domain cost estimate of contracting two vertices.
//
// OperandALog2/OperandBLog2 are the full (open+shared) log2 volumes of the
// two operands being merged, and PeakLog2 is the log2 volume that must be
// concurrently resident to perform the merge — the larger of the two
// operands and the resulting intermediate, since the reference backend
// holds both source buffers until the CONTRACT node finishes writing the
// result. PeakLog2 is what a planner memory ceiling is checked against.
type Cost struct {
	OpenLog2         float64 // log2 volume of the resulting open (uncontracted) legs
	SharedLog2       float64 // log2 volume of the legs contracted away
	IntermediateLog2 float64 // log2 volume of the resulting intermediate tensor (== OpenLog2)
	FlopsLog2        float64 // log2 of the estimated FMA flop count
	OperandALog2     float64 // log2 volume of operand a (open + shared dims)
	OperandBLog2     float64 // log2 volume of operand b (open + shared dims)
	PeakLog2         float64 // log2 volume live at once while performing this merge
}

// Flops converts the log2 flop estimate back to a linear count.
func (c Cost) Flops() float64 { return math.Pow(2, c.FlopsLog2) }

// MemoryDelta returns how much live volume this merge frees, in log2
// space: the larger of the two consumed operands minus the resulting
// intermediate. A positive value means the merge shrinks total live
// memory; heuro's candidate ordering prefers the largest MemoryDelta
// first, tie-breaking on flops.
func (c Cost) MemoryDelta() float64 {
	larger := c.OperandALog2
	if c.OperandBLog2 > larger {
		larger = c.OperandBLog2
	}
	return larger - c.IntermediateLog2
}

// legVolumeLog2 sums log2(extent) over a set of dimension extents.
func legVolumeLog2(shape []uint64, dims []int) float64 {
	var s float64
	for _, d := range dims {
		if shape[d] > 0 {
			s += math.Log2(float64(shape[d]))
		}
	}
	return s
}

// EstimateMergeCost computes the Cost of merging vertices a and b of the
// network: shared legs are the dimensions connecting a to b directly,
// open legs are every other dimension of a and b combined.
func EstimateMergeCost(n *network.TensorNetwork, a, b int) (Cost, error) {
	va, err := n.Vertex(a)
	if err != nil {
		return Cost{}, err
	}
	vb, err := n.Vertex(b)
	if err != nil {
		return Cost{}, err
	}

	var sharedDimsA, openDimsA []int
	for dim, l := range va.Legs {
		if l.AdjVertex == b {
			sharedDimsA = append(sharedDimsA, dim)
		} else {
			openDimsA = append(openDimsA, dim)
		}
	}
	var openDimsB []int
	for dim, l := range vb.Legs {
		if l.AdjVertex != a {
			openDimsB = append(openDimsB, dim)
		}
	}

	shared := legVolumeLog2(va.Shape, sharedDimsA)
	openA := legVolumeLog2(va.Shape, openDimsA)
	openB := legVolumeLog2(vb.Shape, openDimsB)
	open := openA + openB

	volA := legVolumeLog2(va.Shape, allDims(len(va.Legs)))
	volB := legVolumeLog2(vb.Shape, allDims(len(vb.Legs)))
	peak := math.Max(volA, volB)
	if open > peak {
		peak = open
	}

	return Cost{
		OpenLog2:         open,
		SharedLog2:       shared,
		IntermediateLog2: open,
		FlopsLog2:        open + shared, // O_u + O_v - C_uv in log space
		OperandALog2:     volA,
		OperandBLog2:     volB,
		PeakLog2:         peak,
	}, nil
}

func allDims(n int) []int {
	dims := make([]int, n)
	for i := range dims {
		dims[i] = i
	}
	return dims
}

// connectedPairs returns every pair of distinct non-output vertices that
// share at least one leg.
func connectedPairs(n *network.TensorNetwork) [][2]int {
	seen := map[[2]int]bool{}
	var pairs [][2]int
	for _, id := range n.VertexIDs() {
		if id == network.OutputVertexID {
			continue
		}
		v, err := n.Vertex(id)
		if err != nil {
			continue
		}
		for _, l := range v.Legs {
			if l.AdjVertex < 0 || l.AdjVertex == network.OutputVertexID || l.AdjVertex == id {
				continue
			}
			lo, hi := id, l.AdjVertex
			if lo > hi {
				lo, hi = hi, lo
			}
			key := [2]int{lo, hi}
			if seen[key] {
				continue
			}
			seen[key] = true
			pairs = append(pairs, key)
		}
	}
	return pairs
}
