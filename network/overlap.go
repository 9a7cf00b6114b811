package network

import (
	"fmt"

	"github.com/exanet/tnengine/tensor"
)

// Overlap builds the scalar network representing <bra|ket>: every input
// vertex of bra and ket is copied into a fresh network (bra vertices with
// their conjugate flag inverted, since a bra is the conjugate of its
// underlying ket network), each side's internal wiring is preserved, and
// bra's open (physical) legs are connected pairwise to ket's open legs in
// output-dimension order — the two networks' exposed indices being summed
// over to form the inner product. bra and ket must have output vertices
// of identical shape.
// It returns the combined network along with the vertex-id translation
// tables from bra and ket's own vertex ids to their copies in the
// combined network, so a caller (e.g. Reconstructor computing a gradient)
// can locate a particular tensor's copy to take the Environment of, or
// re-populate its data under the combined network's own vertex numbering.
func Overlap(bra, ket *TensorNetwork) (combined *TensorNetwork, braMap, ketMap map[int]int, err error) {
	braOut, err := bra.Vertex(OutputVertexID)
	if err != nil {
		return nil, nil, nil, err
	}
	ketOut, err := ket.Vertex(OutputVertexID)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(braOut.Legs) != len(ketOut.Legs) {
		return nil, nil, nil, fmt.Errorf("network: Overlap: rank mismatch %d vs %d", len(braOut.Legs), len(ketOut.Legs))
	}
	for dim, s := range braOut.Shape {
		if s != ketOut.Shape[dim] {
			return nil, nil, nil, fmt.Errorf("network: Overlap: dim %d extent mismatch %d vs %d", dim, s, ketOut.Shape[dim])
		}
	}

	combined = New("overlap", tensor.Shape{})

	braMap = map[int]int{}
	for _, id := range bra.VertexIDs() {
		if id == OutputVertexID {
			continue
		}
		v, _ := bra.Vertex(id)
		nv := combined.AppendTensor(v.TensorName, v.Shape)
		if err := combined.SetConjugate(nv, !v.Conjugate); err != nil {
			return nil, nil, nil, err
		}
		braMap[id] = nv
	}
	ketMap = map[int]int{}
	for _, id := range ket.VertexIDs() {
		if id == OutputVertexID {
			continue
		}
		v, _ := ket.Vertex(id)
		nv := combined.AppendTensor(v.TensorName, v.Shape)
		if err := combined.SetConjugate(nv, v.Conjugate); err != nil {
			return nil, nil, nil, err
		}
		ketMap[id] = nv
	}

	if err := wireInternal(combined, bra, braMap); err != nil {
		return nil, nil, nil, err
	}
	if err := wireInternal(combined, ket, ketMap); err != nil {
		return nil, nil, nil, err
	}

	for dim := range braOut.Legs {
		bl := braOut.Legs[dim]
		kl := ketOut.Legs[dim]
		if bl.AdjVertex < 0 || kl.AdjVertex < 0 {
			return nil, nil, nil, fmt.Errorf("network: Overlap: output dim %d is not wired to an input vertex", dim)
		}
		if err := combined.Connect(braMap[bl.AdjVertex], bl.AdjDim, ketMap[kl.AdjVertex], kl.AdjDim, Undirected); err != nil {
			return nil, nil, nil, err
		}
	}

	return combined, braMap, ketMap, nil
}

// wireInternal replicates every internal (non-output) edge of orig onto
// combined, translating vertex ids through idMap.
func wireInternal(combined, orig *TensorNetwork, idMap map[int]int) error {
	done := map[[2]int]bool{}
	for _, id := range orig.VertexIDs() {
		if id == OutputVertexID {
			continue
		}
		v, err := orig.Vertex(id)
		if err != nil {
			return err
		}
		for dim, l := range v.Legs {
			if l.AdjVertex < 0 || l.AdjVertex == OutputVertexID {
				continue
			}
			key := [2]int{id, dim}
			if done[key] {
				continue
			}
			a, b := idMap[id], idMap[l.AdjVertex]
			if err := combined.Connect(a, dim, b, l.AdjDim, l.Dir); err != nil {
				return err
			}
			done[key] = true
			done[[2]int{l.AdjVertex, l.AdjDim}] = true
		}
	}
	return nil
}

// Environment returns net with vertex id excised and its former
// connections re-exposed as the network's new output: evaluating the
// result yields the tensor which, contracted with vertex id's data over
// those re-exposed legs, reproduces net's original output. This
// is the standard tensor-network "environment" construction, and is what
// Reconstructor evaluates to get the gradient of a bilinear network
// functional with respect to one of its tensors: differentiating a scalar
// network built by Overlap with respect to the conjugate of a single
// vertex's data yields exactly the environment of that vertex.
func Environment(net *TensorNetwork, id int) (*TensorNetwork, error) {
	env := net.Clone()
	v, err := env.Vertex(id)
	if err != nil {
		return nil, err
	}
	legs := append([]Leg(nil), v.Legs...)
	shape := append(tensor.Shape(nil), v.Shape...)

	for dim, l := range legs {
		if l.AdjVertex < 0 {
			return nil, fmt.Errorf("network: Environment: vertex %d dim %d is open, not contracted", id, dim)
		}
		partner, err := env.Vertex(l.AdjVertex)
		if err != nil {
			return nil, err
		}
		partner.Legs[l.AdjDim] = Leg{AdjVertex: -1}
		v.Legs[dim] = Leg{AdjVertex: -1}
	}
	if err := env.DeleteVertex(id); err != nil {
		return nil, err
	}
	if err := env.ReplaceOutput(fmt.Sprintf("env_%s", v.TensorName), shape); err != nil {
		return nil, err
	}
	for dim, l := range legs {
		reverse := l.Dir
		if l.Dir == Inward {
			reverse = Outward
		} else if l.Dir == Outward {
			reverse = Inward
		}
		if err := env.Connect(OutputVertexID, dim, l.AdjVertex, l.AdjDim, reverse); err != nil {
			return nil, err
		}
	}
	return env, nil
}
