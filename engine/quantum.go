package engine

import (
	"fmt"

	"github.com/exanet/tnengine/network"
	"github.com/exanet/tnengine/tensor"
)

// QuantumRegister is a thin convenience wrapper over network.TensorNetwork
// for building a register of qubits and applying gates as ordinary
// two-tensor contractions, grounded on the original engine's quantum
// convenience layer (build a register of qubit tensors, apply a gate by
// contracting it against the register). No new primitive operation is
// introduced: ApplyGate1/ApplyGate2 are expressed purely as network
// edits.
type QuantumRegister struct {
	net    *network.TensorNetwork
	qubits []int // vertex id currently holding each qubit's open physical leg owner
}

// NewQuantumRegister builds a register of n qubits, each starting as an
// independent rank-1 tensor (a computational-basis state vector of
// dimension 2), wired directly to the output.
func NewQuantumRegister(n int) (*QuantumRegister, error) {
	if n <= 0 {
		return nil, fmt.Errorf("engine: quantum register size must be positive")
	}
	outShape := make(tensor.Shape, n)
	for i := range outShape {
		outShape[i] = 2
	}
	net := network.New("PSI", outShape)
	qr := &QuantumRegister{net: net, qubits: make([]int, n)}
	for i := 0; i < n; i++ {
		v := net.AppendTensor(fmt.Sprintf("q%d", i), tensor.Shape{2})
		if err := net.Connect(v, 0, network.OutputVertexID, i, network.Undirected); err != nil {
			return nil, err
		}
		qr.qubits[i] = v
	}
	return qr, nil
}

// Network exposes the underlying tensor network for evaluation.
func (qr *QuantumRegister) Network() *network.TensorNetwork { return qr.net }

// ApplyGate1 contracts a single-qubit gate (a 2x2 tensor named gateName)
// against qubit q's current tensor, replacing it with the merged result.
func (qr *QuantumRegister) ApplyGate1(gateName string, q int) error {
	if q < 0 || q >= len(qr.qubits) {
		return fmt.Errorf("engine: qubit index %d out of range", q)
	}
	gate := qr.net.AppendTensor(gateName, tensor.Shape{2, 2})
	target := qr.qubits[q]

	tv, err := qr.net.Vertex(target)
	if err != nil {
		return err
	}
	// Reattach the qubit's open leg to the gate's second index, and give
	// the gate a fresh open leg (index 0) that becomes the new qubit
	// state; find which dim of target is currently open (connected to
	// the output).
	openDim := -1
	for dim, l := range tv.Legs {
		if l.AdjVertex == network.OutputVertexID {
			openDim = dim
			break
		}
	}
	if openDim < 0 {
		return fmt.Errorf("engine: qubit %d has no open leg to gate against", q)
	}
	outDim := tv.Legs[openDim].AdjDim

	if err := qr.net.Connect(gate, 1, target, openDim, network.Undirected); err != nil {
		return err
	}
	if err := qr.net.Connect(gate, 0, network.OutputVertexID, outDim, network.Undirected); err != nil {
		return err
	}

	merged, err := qr.net.Merge(gate, target)
	if err != nil {
		return err
	}
	qr.qubits[q] = merged
	return nil
}

// ApplyGate2 contracts a two-qubit gate (a 2x2x2x2 tensor named gateName,
// legs ordered [outA, outB, inA, inB]) against qubits a and b.
func (qr *QuantumRegister) ApplyGate2(gateName string, a, b int) error {
	if a < 0 || a >= len(qr.qubits) || b < 0 || b >= len(qr.qubits) {
		return fmt.Errorf("engine: qubit index out of range")
	}
	gate := qr.net.AppendTensor(gateName, tensor.Shape{2, 2, 2, 2})
	ta, tb := qr.qubits[a], qr.qubits[b]

	openDim := func(v int) (int, error) {
		vv, err := qr.net.Vertex(v)
		if err != nil {
			return -1, err
		}
		for dim, l := range vv.Legs {
			if l.AdjVertex == network.OutputVertexID {
				return dim, nil
			}
		}
		return -1, fmt.Errorf("engine: vertex %d has no open leg", v)
	}

	daOpen, err := openDim(ta)
	if err != nil {
		return err
	}
	dbOpen, err := openDim(tb)
	if err != nil {
		return err
	}
	va, _ := qr.net.Vertex(ta)
	vb, _ := qr.net.Vertex(tb)
	outA := va.Legs[daOpen].AdjDim
	outB := vb.Legs[dbOpen].AdjDim

	if err := qr.net.Connect(gate, 2, ta, daOpen, network.Undirected); err != nil {
		return err
	}
	if err := qr.net.Connect(gate, 3, tb, dbOpen, network.Undirected); err != nil {
		return err
	}
	if err := qr.net.Connect(gate, 0, network.OutputVertexID, outA, network.Undirected); err != nil {
		return err
	}
	if err := qr.net.Connect(gate, 1, network.OutputVertexID, outB, network.Undirected); err != nil {
		return err
	}

	mergedGA, err := qr.net.Merge(gate, ta)
	if err != nil {
		return err
	}
	mergedAll, err := qr.net.Merge(mergedGA, tb)
	if err != nil {
		return err
	}
	qr.qubits[a] = mergedAll
	qr.qubits[b] = mergedAll
	return nil
}
