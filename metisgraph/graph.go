// Package metisgraph implements the METIS-style multigraph view of a
// tensor network used to drive the metis contraction planner: vertex
// weights derived from open-leg log-volume, edge weights derived from
// shared-leg extent, and a hand-written recursive-bisection partitioner
// (no METIS C-library binding exists in this stack, so k-way partition
// and the two-level miniparts/macroparts scheme are reimplemented here).
package metisgraph

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/exanet/tnengine/internal/wire"
	"github.com/exanet/tnengine/network"
)

// WireMagic identifies a serialized Graph packet ("MGPH").
const WireMagic = 0x4D475048

// WireVersion is the current wire format version.
const WireVersion = 1

// MiniPartsPerMacroPart is the default ratio used by the two-level
// partition scheme, following the original engine's metis_graph default.
const MiniPartsPerMacroPart = 8

// Edge is one weighted edge between two vertex ids of the graph (parallel
// edges between the same pair are stored separately and combined only on
// MergeVertices).
type Edge struct {
	A, B   int
	Weight int32
}

// Graph is the METIS-style view: dense vertex ids [0, N), a vertex weight
// per id, and a multiset of weighted edges. The tensor network's output
// vertex is never represented here.
type Graph struct {
	VertexWeight []int32
	Edges        []Edge
	// Renumber[i] is the original tensor-network vertex id that graph
	// vertex i corresponds to.
	Renumber []int
}

// weightForVolume converts a log2 volume into a METIS-style integer
// weight: log2(volume)+1, floored and never less than 1.
func weightForVolume(log2Volume float64) int32 {
	w := int32(math.Floor(log2Volume)) + 1
	if w < 1 {
		w = 1
	}
	return w
}

// FromNetwork builds a Graph from a finalized tensor network, excluding
// the output vertex. Vertex weight is log2(open volume)+1; edge weight
// between two adjacent vertices is log2(shared extent)+1, one edge entry
// per shared leg (parallel edges are preserved, not pre-summed).
func FromNetwork(n *network.TensorNetwork) (*Graph, error) {
	ids := n.VertexIDs()
	g := &Graph{}
	idx := map[int]int{}
	for _, id := range ids {
		if id == network.OutputVertexID {
			continue
		}
		idx[id] = len(g.Renumber)
		g.Renumber = append(g.Renumber, id)
	}

	for _, id := range g.Renumber {
		v, err := n.Vertex(id)
		if err != nil {
			return nil, err
		}
		openLog2 := 0.0
		for _, dim := range v.OpenLegs() {
			openLog2 += math.Log2(float64(v.Shape[dim]))
		}
		g.VertexWeight = append(g.VertexWeight, weightForVolume(openLog2))
	}

	seen := map[[2]int]bool{}
	for _, id := range g.Renumber {
		v, err := n.Vertex(id)
		if err != nil {
			return nil, err
		}
		for dim, l := range v.Legs {
			if l.AdjVertex < 0 || l.AdjVertex == network.OutputVertexID {
				continue
			}
			ai, ok1 := idx[id]
			bi, ok2 := idx[l.AdjVertex]
			if !ok1 || !ok2 {
				continue
			}
			key := [2]int{id*1_000_000 + dim, l.AdjVertex*1_000_000 + l.AdjDim}
			rkey := [2]int{l.AdjVertex*1_000_000 + l.AdjDim, id*1_000_000 + dim}
			if seen[key] || seen[rkey] {
				continue
			}
			seen[key] = true
			w := weightForVolume(math.Log2(float64(v.Shape[dim])))
			g.Edges = append(g.Edges, Edge{A: ai, B: bi, Weight: w})
		}
	}
	return g, nil
}

// NumVertices reports the vertex count.
func (g *Graph) NumVertices() int { return len(g.VertexWeight) }

// AppendVertex adds a new vertex with the given weight and returns its id.
func (g *Graph) AppendVertex(weight int32, origID int) int {
	g.VertexWeight = append(g.VertexWeight, weight)
	g.Renumber = append(g.Renumber, origID)
	return len(g.VertexWeight) - 1
}

// adjacency builds a per-vertex adjacency list with edge indices, used by
// both MergeVertices and the partitioners.
func (g *Graph) adjacency() [][]int {
	adj := make([][]int, len(g.VertexWeight))
	for ei, e := range g.Edges {
		adj[e.A] = append(adj[e.A], ei)
		adj[e.B] = append(adj[e.B], ei)
	}
	return adj
}

// MergeVertices combines vertices i and j into a new vertex appended to
// the graph, mirroring TensorNetwork.merge: parallel edges between i and
// j are dropped (self-loops after merge are deleted, not zero-weighted),
// and every other edge touching i or j is repointed at the new vertex,
// combining weights when two edges to the same third vertex now coincide.
// It returns the new vertex id; i and j remain present but are marked
// dead by having their weight set to 0 and their edges removed (callers
// should treat weight-0 vertices as tombstoned).
func (g *Graph) MergeVertices(i, j int) (int, error) {
	if i < 0 || i >= len(g.VertexWeight) || j < 0 || j >= len(g.VertexWeight) {
		return 0, fmt.Errorf("metisgraph: vertex out of range")
	}
	newID := len(g.VertexWeight)
	newWeight := g.VertexWeight[i] + g.VertexWeight[j]
	g.VertexWeight = append(g.VertexWeight, newWeight)
	g.Renumber = append(g.Renumber, -1)

	toThird := map[int]int32{}
	var kept []Edge
	for _, e := range g.Edges {
		touchesI := e.A == i || e.B == i
		touchesJ := e.A == j || e.B == j
		if touchesI && touchesJ {
			continue // parallel edge between the two merged vertices: contracted away
		}
		if touchesI || touchesJ {
			var third int
			if e.A == i || e.A == j {
				third = e.B
			} else {
				third = e.A
			}
			toThird[third] += e.Weight
			continue
		}
		kept = append(kept, e)
	}
	thirds := make([]int, 0, len(toThird))
	for t := range toThird {
		thirds = append(thirds, t)
	}
	sort.Ints(thirds)
	for _, t := range thirds {
		if t == newID {
			continue // would-be self-loop after merge: deleted
		}
		kept = append(kept, Edge{A: newID, B: t, Weight: toThird[t]})
	}
	g.Edges = kept
	g.VertexWeight[i] = 0
	g.VertexWeight[j] = 0
	return newID, nil
}

// Partition splits the graph into k parts using recursive greedy
// bisection (repeated min-cut-seeking swaps), with imbalance as a
// fractional tolerance relative to the total weight of each vertex subset
// being bisected (e.g. 0.05 lets refinement swaps leave a side up to 5% of
// that total away from its target weight; the initial greedy split does
// not consult it). It returns a part assignment
// indexed by graph vertex id.
func Partition(g *Graph, k int, imbalance float64) ([]int, error) {
	if k <= 0 {
		return nil, fmt.Errorf("metisgraph: k must be positive")
	}
	n := g.NumVertices()
	part := make([]int, n)
	if k == 1 || n <= 1 {
		return part, nil
	}
	bisect(g, indicesWhereAlive(g), part, 0, k, imbalance)
	return part, nil
}

func indicesWhereAlive(g *Graph) []int {
	out := make([]int, 0, len(g.VertexWeight))
	for i, w := range g.VertexWeight {
		if w > 0 {
			out = append(out, i)
		}
	}
	return out
}

// bisect recursively splits the vertex subset into k parts starting at
// partOffset, writing results into part.
func bisect(g *Graph, verts []int, part []int, partOffset, k int, imbalance float64) {
	if k <= 1 {
		for _, v := range verts {
			part[v] = partOffset
		}
		return
	}
	leftK := k / 2
	rightK := k - leftK

	left, right := greedyBisect(g, verts, leftK, rightK, imbalance)
	bisect(g, left, part, partOffset, leftK, imbalance)
	bisect(g, right, part, partOffset+leftK, rightK, imbalance)
}

// greedyBisect splits verts into two groups whose target weight ratio is
// leftK:rightK, by sorting vertices in descending weight and greedily
// assigning each to whichever side is currently furthest below its
// target share, then doing a bounded number of edge-cut-improving swaps.
func greedyBisect(g *Graph, verts []int, leftK, rightK int, imbalance float64) ([]int, []int) {
	sorted := append([]int(nil), verts...)
	sort.Slice(sorted, func(a, b int) bool { return g.VertexWeight[sorted[a]] > g.VertexWeight[sorted[b]] })

	totalW := int64(0)
	for _, v := range verts {
		totalW += int64(g.VertexWeight[v])
	}
	targetLeft := totalW * int64(leftK) / int64(leftK+rightK)

	var left, right []int
	var leftW int64
	inLeft := map[int]bool{}
	for _, v := range sorted {
		if leftW < targetLeft {
			left = append(left, v)
			inLeft[v] = true
			leftW += int64(g.VertexWeight[v])
		} else {
			right = append(right, v)
		}
	}

	tol := int64(math.Ceil(float64(totalW) * imbalance))
	const maxPasses = 4
	for pass := 0; pass < maxPasses; pass++ {
		improved := false
		for _, v := range verts {
			// local gain: sum of edge weight to the opposite side minus own side
			var toOwn, toOther int32
			for _, e := range g.Edges {
				var w int32 = e.Weight
				var peer int
				if e.A == v {
					peer = e.B
				} else if e.B == v {
					peer = e.A
				} else {
					continue
				}
				if inLeft[v] == inLeft[peer] {
					toOwn += w
				} else {
					toOther += w
				}
			}
			gainIfMoved := toOther - toOwn
			if gainIfMoved <= 0 {
				continue
			}
			vw := int64(g.VertexWeight[v])
			if inLeft[v] {
				if leftW-vw < targetLeft-tol {
					continue
				}
				inLeft[v] = false
				leftW -= vw
			} else {
				if leftW+vw > targetLeft+tol {
					continue
				}
				inLeft[v] = true
				leftW += vw
			}
			improved = true
		}
		if !improved {
			break
		}
	}

	left = left[:0]
	right = right[:0]
	for _, v := range verts {
		if inLeft[v] {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	return left, right
}

// TwoLevelPartition partitions into k parts by first cutting into
// k*MiniPartsPerMacroPart mini-parts and then greedily grouping mini-parts
// into k macro-parts by weight, following the original engine's
// miniparts-then-macroparts scheme. It returns the macro-part assignment
// indexed by graph vertex id.
func TwoLevelPartition(g *Graph, k int, imbalance float64) ([]int, error) {
	if k <= 0 {
		return nil, fmt.Errorf("metisgraph: k must be positive")
	}
	miniK := k * MiniPartsPerMacroPart
	if miniK > g.NumVertices() {
		miniK = g.NumVertices()
		if miniK < k {
			miniK = k
		}
	}
	mini, err := Partition(g, miniK, imbalance)
	if err != nil {
		return nil, err
	}

	miniWeight := make([]int64, miniK)
	for v, p := range mini {
		miniWeight[p] += int64(g.VertexWeight[v])
	}

	order := make([]int, miniK)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return miniWeight[order[a]] > miniWeight[order[b]] })

	macroWeight := make([]int64, k)
	macroOf := make([]int, miniK)
	for _, mp := range order {
		best := 0
		for m := 1; m < k; m++ {
			if macroWeight[m] < macroWeight[best] {
				best = m
			}
		}
		macroOf[mp] = best
		macroWeight[best] += miniWeight[mp]
	}

	result := make([]int, len(mini))
	for v, p := range mini {
		result[v] = macroOf[p]
	}
	return result, nil
}

// ExtractSubgraph returns the induced subgraph on the vertices assigned to
// the given part label, with a fresh Renumber mapping back to the
// original tensor-network vertex ids stored in g.Renumber.
func ExtractSubgraph(g *Graph, part []int, label int) *Graph {
	sub := &Graph{}
	local := map[int]int{}
	for v, p := range part {
		if p != label || g.VertexWeight[v] == 0 {
			continue
		}
		local[v] = len(sub.VertexWeight)
		sub.VertexWeight = append(sub.VertexWeight, g.VertexWeight[v])
		sub.Renumber = append(sub.Renumber, g.Renumber[v])
	}
	for _, e := range g.Edges {
		a, ok1 := local[e.A]
		b, ok2 := local[e.B]
		if ok1 && ok2 {
			sub.Edges = append(sub.Edges, Edge{A: a, B: b, Weight: e.Weight})
		}
	}
	return sub
}

// int32VecToUint64Vec widens a vector of (possibly negative) int32
// weights to uint64 via a sign-extending int64 cast, the wire format's
// convention for storing METIS's 32-bit signed weights in 8-byte slots
// (Serialize applies the identical cast inline for the renumber vector).
func int32VecToUint64Vec(vec []int32) []uint64 {
	out := make([]uint64, len(vec))
	for i, v := range vec {
		out[i] = uint64(int64(v))
	}
	return out
}

func uint64VecToInt32Vec(vec []uint64) []int32 {
	out := make([]int32, len(vec))
	for i, v := range vec {
		out[i] = int32(int64(v))
	}
	return out
}

// Serialize encodes the graph as the wire format's little-endian packet:
// num_vertices:u64, then the length-prefixed vectors renumber, xadj,
// adjncy, vwgt, adjwgt in that order, each element stored as a u64
// (widening METIS's native 32-bit weights) so every vector shares one
// element width regardless of what it counts. xadj/adjncy/adjwgt are the
// graph's edges in CSR form, the layout METIS itself expects on input.
func Serialize(g *Graph) []byte {
	xadj, adjncy, adjwgt := toCSR(g)

	var payload bytes.Buffer
	binary.Write(&payload, binary.LittleEndian, uint64(g.NumVertices()))

	renumber := make([]uint64, len(g.Renumber))
	for i, r := range g.Renumber {
		renumber[i] = uint64(int64(r))
	}
	wire.PutUint64Vec(&payload, renumber)
	wire.PutUint64Vec(&payload, xadj)
	wire.PutUint64Vec(&payload, int32VecToUint64Vec(adjncy))
	wire.PutUint64Vec(&payload, int32VecToUint64Vec(g.VertexWeight))
	wire.PutUint64Vec(&payload, int32VecToUint64Vec(adjwgt))

	return wire.Frame(WireMagic, WireVersion, 6, payload.Bytes())
}

// Deserialize decodes a packet written by Serialize.
func Deserialize(data []byte) (*Graph, error) {
	payload, err := wire.Unframe(data, WireMagic)
	if err != nil {
		return nil, err
	}
	if len(payload) < 8 {
		return nil, fmt.Errorf("metisgraph: short num_vertices field")
	}
	numVertices := binary.LittleEndian.Uint64(payload[:8])
	payload = payload[8:]

	renumberU, rest, err := wire.TakeUint64Vec(payload)
	if err != nil {
		return nil, fmt.Errorf("metisgraph: renumber: %w", err)
	}
	xadj, rest, err := wire.TakeUint64Vec(rest)
	if err != nil {
		return nil, fmt.Errorf("metisgraph: xadj: %w", err)
	}
	adjncyU, rest, err := wire.TakeUint64Vec(rest)
	if err != nil {
		return nil, fmt.Errorf("metisgraph: adjncy: %w", err)
	}
	vwgtU, rest, err := wire.TakeUint64Vec(rest)
	if err != nil {
		return nil, fmt.Errorf("metisgraph: vwgt: %w", err)
	}
	adjwgtU, _, err := wire.TakeUint64Vec(rest)
	if err != nil {
		return nil, fmt.Errorf("metisgraph: adjwgt: %w", err)
	}
	if uint64(len(vwgtU)) != numVertices {
		return nil, fmt.Errorf("metisgraph: num_vertices %d does not match vwgt length %d", numVertices, len(vwgtU))
	}

	adjncy := uint64VecToInt32Vec(adjncyU)
	adjwgt := uint64VecToInt32Vec(adjwgtU)

	g := &Graph{VertexWeight: uint64VecToInt32Vec(vwgtU), Renumber: make([]int, len(renumberU))}
	for i, r := range renumberU {
		g.Renumber[i] = int(int64(r))
	}

	seen := map[[2]int]bool{}
	for v := 0; v+1 < len(xadj); v++ {
		start, end := xadj[v], xadj[v+1]
		for e := start; e < end; e++ {
			peer := int(adjncy[e])
			w := adjwgt[e]
			key := [2]int{v, peer}
			rkey := [2]int{peer, v}
			if seen[key] || seen[rkey] {
				continue
			}
			seen[key] = true
			g.Edges = append(g.Edges, Edge{A: v, B: peer, Weight: w})
		}
	}
	return g, nil
}

// toCSR converts the edge multiset into METIS's CSR adjacency form.
func toCSR(g *Graph) (xadj []uint64, adjncy []int32, adjwgt []int32) {
	n := g.NumVertices()
	adjOf := make([][]Edge, n)
	for _, e := range g.Edges {
		adjOf[e.A] = append(adjOf[e.A], Edge{A: e.A, B: e.B, Weight: e.Weight})
		adjOf[e.B] = append(adjOf[e.B], Edge{A: e.B, B: e.A, Weight: e.Weight})
	}
	xadj = make([]uint64, n+1)
	for v := 0; v < n; v++ {
		xadj[v+1] = xadj[v] + uint64(len(adjOf[v]))
		for _, e := range adjOf[v] {
			adjncy = append(adjncy, int32(e.B))
			adjwgt = append(adjwgt, e.Weight)
		}
	}
	return xadj, adjncy, adjwgt
}
