// Package network implements TensorNetwork: a graph of tensors connected
// by shared legs, with vertex 0 reserved for the network's output tensor.
// It also implements the symbolic grammar used to serialize a network to
// and from a human-readable expression, and the higher-level
// TensorExpansion and TensorOperator aggregates built from networks.
package network

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/exanet/tnengine/tensor"
)

// Direction classifies a leg as undirected (a plain contraction index) or
// carrying an inward/outward arrow, used when a network models a ket/bra
// structure that must track index flow through conjugation.
type Direction int

const (
	Undirected Direction = iota
	Inward
	Outward
)

// OutputVertexID is the reserved id of the network's output tensor.
const OutputVertexID = 0

// Leg is one end of an edge: which vertex/dimension it connects to, and
// the edge's direction as seen from the vertex that owns this Leg.
type Leg struct {
	AdjVertex int
	AdjDim    int
	Dir       Direction
}

// Vertex is one tensor placed in the network, with one Leg per dimension
// of its shape (open legs point to themselves conceptually and are
// represented by AdjVertex == -1).
type Vertex struct {
	ID         int
	TensorName string
	Shape      tensor.Shape
	Legs       []Leg
	Conjugate  bool
}

// OpenLegs returns the indices of this vertex's dimensions that are not
// connected to another vertex.
func (v *Vertex) OpenLegs() []int {
	var out []int
	for i, l := range v.Legs {
		if l.AdjVertex < 0 {
			out = append(out, i)
		}
	}
	return out
}

var (
	// ErrNotFinalized is returned by operations that require a finalized network.
	ErrNotFinalized = errors.New("network: not finalized")
	// ErrDangling is returned when Finalize finds a leg without a matching partner.
	ErrDangling = errors.New("network: dangling or mismatched leg")
	// ErrUnknownVertex is returned when a vertex id has no entry.
	ErrUnknownVertex = errors.New("network: unknown vertex")
	// ErrOutputConjugate is returned if code attempts to mark the output vertex conjugate.
	ErrOutputConjugate = errors.New("network: output vertex cannot be marked conjugate")
	// ErrVertexConnected is returned by DeleteVertex when the vertex still
	// has legs connected to another vertex.
	ErrVertexConnected = errors.New("network: vertex has connected legs")
)

// TensorNetwork is a mutable graph of tensors. Vertex 0 is always the
// output tensor (initially a placeholder with no legs until legs are
// wired to input vertices).
type TensorNetwork struct {
	vertices map[int]*Vertex
	nextID   int
	final    bool
}

// New creates an empty network with only the output vertex present.
func New(outputName string, outputShape tensor.Shape) *TensorNetwork {
	n := &TensorNetwork{
		vertices: make(map[int]*Vertex),
		nextID:   1,
	}
	legs := make([]Leg, len(outputShape))
	for i := range legs {
		legs[i] = Leg{AdjVertex: -1}
	}
	n.vertices[OutputVertexID] = &Vertex{ID: OutputVertexID, TensorName: outputName, Shape: outputShape, Legs: legs}
	return n
}

// AppendTensor places a new input tensor into the network and returns its
// vertex id. All of its legs start open (unconnected).
func (n *TensorNetwork) AppendTensor(name string, shape tensor.Shape) int {
	id := n.nextID
	n.nextID++
	legs := make([]Leg, len(shape))
	for i := range legs {
		legs[i] = Leg{AdjVertex: -1}
	}
	n.vertices[id] = &Vertex{ID: id, TensorName: name, Shape: shape, Legs: legs}
	n.final = false
	return id
}

// Clone returns a deep copy of the network, safe to mutate (e.g. via
// Merge) without affecting the original. Vertex ids are preserved.
func (n *TensorNetwork) Clone() *TensorNetwork {
	out := &TensorNetwork{vertices: make(map[int]*Vertex, len(n.vertices)), nextID: n.nextID, final: n.final}
	for id, v := range n.vertices {
		nv := &Vertex{ID: v.ID, TensorName: v.TensorName, Conjugate: v.Conjugate}
		nv.Shape = append(tensor.Shape(nil), v.Shape...)
		nv.Legs = append([]Leg(nil), v.Legs...)
		out.vertices[id] = nv
	}
	return out
}

// Vertex returns the vertex with the given id.
func (n *TensorNetwork) Vertex(id int) (*Vertex, error) {
	v, ok := n.vertices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVertex, id)
	}
	return v, nil
}

// VertexIDs returns all vertex ids, output vertex first, then sorted.
func (n *TensorNetwork) VertexIDs() []int {
	ids := make([]int, 0, len(n.vertices))
	for id := range n.vertices {
		if id != OutputVertexID {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return append([]int{OutputVertexID}, ids...)
}

// Connect joins dimension dimA of vertex a to dimension dimB of vertex b
// with the given direction (as seen from a; b sees the reverse direction
// for Inward/Outward).
func (n *TensorNetwork) Connect(a, dimA, b, dimB int, dir Direction) error {
	va, err := n.Vertex(a)
	if err != nil {
		return err
	}
	vb, err := n.Vertex(b)
	if err != nil {
		return err
	}
	if dimA < 0 || dimA >= len(va.Legs) || dimB < 0 || dimB >= len(vb.Legs) {
		return fmt.Errorf("network: dim out of range")
	}
	if va.Shape[dimA] != vb.Shape[dimB] {
		return fmt.Errorf("%w: extents %d vs %d", ErrDangling, va.Shape[dimA], vb.Shape[dimB])
	}
	va.Legs[dimA] = Leg{AdjVertex: b, AdjDim: dimB, Dir: dir}
	reverse := dir
	if dir == Inward {
		reverse = Outward
	} else if dir == Outward {
		reverse = Inward
	}
	vb.Legs[dimB] = Leg{AdjVertex: a, AdjDim: dimA, Dir: reverse}
	n.final = false
	return nil
}

// SetConjugate toggles the conjugate flag of an input vertex. The output
// vertex is never marked conjugate.
func (n *TensorNetwork) SetConjugate(id int, conj bool) error {
	if id == OutputVertexID {
		return ErrOutputConjugate
	}
	v, err := n.Vertex(id)
	if err != nil {
		return err
	}
	v.Conjugate = conj
	return nil
}

// ConjugateNetwork returns a new network equal to n with every input
// vertex's conjugate flag toggled and every directed leg reversed. The
// output vertex is left unmarked, matching the rule that conjugation
// never flags the output.
func (n *TensorNetwork) ConjugateNetwork() *TensorNetwork {
	out := &TensorNetwork{vertices: make(map[int]*Vertex, len(n.vertices)), nextID: n.nextID, final: n.final}
	for id, v := range n.vertices {
		nv := &Vertex{ID: v.ID, TensorName: v.TensorName, Shape: append(tensor.Shape(nil), v.Shape...)}
		if id != OutputVertexID {
			nv.Conjugate = !v.Conjugate
		}
		nv.Legs = make([]Leg, len(v.Legs))
		for i, l := range v.Legs {
			nl := l
			if l.Dir == Inward {
				nl.Dir = Outward
			} else if l.Dir == Outward {
				nl.Dir = Inward
			}
			nv.Legs[i] = nl
		}
		out.vertices[id] = nv
	}
	return out
}

// Finalize verifies every connected leg of every non-output vertex has a
// matching partner and that every leg of the output vertex is connected
// (leg direction is not checked). A
// finalized network is ready for planning.
func (n *TensorNetwork) Finalize() error {
	for id, v := range n.vertices {
		for dim, l := range v.Legs {
			if id == OutputVertexID {
				if l.AdjVertex < 0 {
					return fmt.Errorf("%w: output dim %d unconnected", ErrDangling, dim)
				}
				continue
			}
			if l.AdjVertex < 0 {
				continue // open leg of an input vertex becomes an output dimension elsewhere
			}
			partner, err := n.Vertex(l.AdjVertex)
			if err != nil {
				return err
			}
			if l.AdjDim < 0 || l.AdjDim >= len(partner.Legs) {
				return fmt.Errorf("%w: vertex %d dim %d points at invalid partner dim", ErrDangling, id, dim)
			}
			back := partner.Legs[l.AdjDim]
			if back.AdjVertex != id || back.AdjDim != dim {
				return fmt.Errorf("%w: vertex %d dim %d has no reciprocal leg", ErrDangling, id, dim)
			}
		}
	}
	n.final = true
	return nil
}

// Merge contracts vertices i and j (i != j, both non-output) into a new
// vertex, mirroring the METIS multigraph's merge-vertices operation:
// parallel edges between i and j collapse (their shared legs vanish from
// the result), any edge from i or j to a third vertex k is reattached to
// the new vertex, and legs from i to j (or j to i) other than the first
// discovered pairing are treated as additional shared (summed-over)
// dimensions and also removed. It returns the id of the new merged
// vertex.
func (n *TensorNetwork) Merge(i, j int) (int, error) {
	if i == OutputVertexID || j == OutputVertexID {
		return 0, errors.New("network: cannot merge the output vertex")
	}
	vi, err := n.Vertex(i)
	if err != nil {
		return 0, err
	}
	vj, err := n.Vertex(j)
	if err != nil {
		return 0, err
	}

	var openLegs []Leg
	var openShape tensor.Shape

	collect := func(v *Vertex, other int) {
		for dim, l := range v.Legs {
			if l.AdjVertex == other {
				continue // shared leg with the merge partner: contracted away
			}
			openLegs = append(openLegs, l)
			openShape = append(openShape, v.Shape[dim])
		}
	}
	collect(vi, j)
	collect(vj, i)

	newID := n.nextID
	n.nextID++
	merged := &Vertex{ID: newID, TensorName: fmt.Sprintf("%s_x_%s", vi.TensorName, vj.TensorName), Shape: openShape, Legs: openLegs}
	n.vertices[newID] = merged

	// Repoint neighbors that referenced i or j at dims now owned by newID.
	// merged.Legs was built in the same order collect() walked vi then vj,
	// so its index already is the correct new dimension number.
	for dim, l := range merged.Legs {
		if l.AdjVertex == i || l.AdjVertex == j {
			continue
		}
		partner, err := n.Vertex(l.AdjVertex)
		if err != nil {
			return 0, err
		}
		if l.AdjDim >= 0 && l.AdjDim < len(partner.Legs) {
			partner.Legs[l.AdjDim] = Leg{AdjVertex: newID, AdjDim: dim, Dir: partner.Legs[l.AdjDim].Dir}
		}
	}

	delete(n.vertices, i)
	delete(n.vertices, j)
	n.final = false
	return newID, nil
}

// DeleteVertex removes a placed input tensor from the network. Every leg
// of the vertex must already be open (disconnected): removing a connected
// vertex would leave its former neighbors pointing at a vertex id that no
// longer exists, so callers must reconnect or re-open those legs first
// (e.g. by Merging the vertex away, or Connecting its neighbor elsewhere).
func (n *TensorNetwork) DeleteVertex(id int) error {
	if id == OutputVertexID {
		return errors.New("network: cannot delete the output vertex")
	}
	v, err := n.Vertex(id)
	if err != nil {
		return err
	}
	for dim, l := range v.Legs {
		if l.AdjVertex >= 0 {
			return fmt.Errorf("%w: vertex %d dim %d still connects to vertex %d", ErrVertexConnected, id, dim, l.AdjVertex)
		}
	}
	delete(n.vertices, id)
	n.final = false
	return nil
}

// ReplaceOutput swaps the network's output tensor for a freshly named one
// of the given shape. Legs of the old output that were connected to input
// vertices are opened on those neighbors (mirroring how AppendTensor
// places a fresh, fully-open vertex); the caller reconnects them to the
// new output shape via Connect as needed.
func (n *TensorNetwork) ReplaceOutput(name string, shape tensor.Shape) error {
	old, err := n.Vertex(OutputVertexID)
	if err != nil {
		return err
	}
	for _, l := range old.Legs {
		if l.AdjVertex < 0 {
			continue
		}
		partner, err := n.Vertex(l.AdjVertex)
		if err != nil {
			continue
		}
		if l.AdjDim >= 0 && l.AdjDim < len(partner.Legs) {
			partner.Legs[l.AdjDim] = Leg{AdjVertex: -1}
		}
	}
	legs := make([]Leg, len(shape))
	for i := range legs {
		legs[i] = Leg{AdjVertex: -1}
	}
	n.vertices[OutputVertexID] = &Vertex{ID: OutputVertexID, TensorName: name, Shape: shape, Legs: legs}
	n.final = false
	return nil
}

// Rename changes the tensor name of an existing vertex (including the
// output vertex) without touching its shape or connectivity.
func (n *TensorNetwork) Rename(id int, name string) error {
	v, err := n.Vertex(id)
	if err != nil {
		return err
	}
	v.TensorName = name
	return nil
}

// ReorderLegs permutes the dimensions of a vertex in place. Because
// neighbor vertices' Legs reference this vertex by dimension index, any
// externally cached content-addressed handle keyed on the old dimension
// order is now stale; ReorderLegs returns true when it actually changed
// the order so the caller knows to refetch such handles. This mirrors a
// known caveat in the tensor renumbering routine it is grounded on: the
// permutation is applied eagerly and no attempt is made to fix up caches
// this package does not own.
func (n *TensorNetwork) ReorderLegs(id int, perm []int) (staleNameCache bool, err error) {
	v, err := n.Vertex(id)
	if err != nil {
		return false, err
	}
	if len(perm) != len(v.Legs) {
		return false, fmt.Errorf("network: permutation length %d != rank %d", len(perm), len(v.Legs))
	}
	newLegs := make([]Leg, len(v.Legs))
	newShape := make(tensor.Shape, len(v.Shape))
	changed := false
	for newDim, oldDim := range perm {
		if newDim != oldDim {
			changed = true
		}
		newLegs[newDim] = v.Legs[oldDim]
		newShape[newDim] = v.Shape[oldDim]
	}
	if !changed {
		return false, nil
	}
	for newDim, l := range newLegs {
		if l.AdjVertex < 0 {
			continue
		}
		partner, err := n.Vertex(l.AdjVertex)
		if err != nil {
			return false, err
		}
		if l.AdjDim >= 0 && l.AdjDim < len(partner.Legs) {
			pl := partner.Legs[l.AdjDim]
			pl.AdjDim = newDim
			partner.Legs[l.AdjDim] = pl
		}
	}
	v.Legs = newLegs
	v.Shape = newShape
	n.final = false
	return true, nil
}

// ToSymbolic renders the network as "OUT(a,b,...) = T1(i,a,j) * T2(j,b,...) * ...",
// one free-index letter per open leg and one shared-index letter per
// internal edge, matching the round-trip grammar the client API accepts.
func (n *TensorNetwork) ToSymbolic() (string, error) {
	labels := newIndexLabeler()
	edgeLabel := map[[2]int]string{}

	labelFor := func(v *Vertex, dim int) string {
		l := v.Legs[dim]
		if l.AdjVertex < 0 {
			return labels.next()
		}
		lo, hi, dlo, dhi := v.ID, l.AdjVertex, dim, l.AdjDim
		if lo > hi {
			lo, hi, dlo, dhi = hi, lo, dhi, dlo
		}
		key := [2]int{lo*1_000_000 + dlo, hi*1_000_000 + dhi}
		if s, ok := edgeLabel[key]; ok {
			return s
		}
		s := labels.next()
		edgeLabel[key] = s
		return s
	}

	out, _ := n.Vertex(OutputVertexID)
	outIdx := make([]string, len(out.Legs))
	for dim := range out.Legs {
		outIdx[dim] = labelFor(out, dim)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s) =", out.TensorName, strings.Join(outIdx, ","))

	ids := n.VertexIDs()
	first := true
	for _, id := range ids {
		if id == OutputVertexID {
			continue
		}
		v := n.vertices[id]
		idx := make([]string, len(v.Legs))
		for dim := range v.Legs {
			idx[dim] = labelFor(v, dim)
		}
		name := v.TensorName
		if v.Conjugate {
			name += "+"
		}
		if !first {
			b.WriteString(" *")
		}
		fmt.Fprintf(&b, " %s(%s)", name, strings.Join(idx, ","))
		first = false
	}
	return b.String(), nil
}

type indexLabeler struct{ n int }

func newIndexLabeler() *indexLabeler { return &indexLabeler{} }

func (l *indexLabeler) next() string {
	s := indexAlphabet(l.n)
	l.n++
	return s
}

func indexAlphabet(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	if n < 26 {
		return string(letters[n])
	}
	return string(letters[n%26]) + strconv.Itoa(n/26)
}
