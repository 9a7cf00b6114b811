package network

import "math/cmplx"

// KetBra distinguishes whether an expansion component/operator term acts
// as a ket or a bra.
type KetBra int

const (
	Ket KetBra = iota
	Bra
)

// Component is one (network, coefficient, ket/bra) term of a
// TensorExpansion.
type Component struct {
	Network     *TensorNetwork
	Coefficient complex128
	Kind        KetBra
}

// TensorExpansion is an ordered linear combination of tensor networks,
// e.g. a wavefunction expressed as a sum of network diagrams each with a
// complex coefficient.
type TensorExpansion struct {
	Components []Component
}

// Append adds a component to the expansion and returns its index.
func (e *TensorExpansion) Append(net *TensorNetwork, coeff complex128, kind KetBra) int {
	e.Components = append(e.Components, Component{Network: net, Coefficient: coeff, Kind: kind})
	return len(e.Components) - 1
}

// Conjugate returns a new expansion equal to e with every component's
// network conjugated (TensorNetwork.ConjugateNetwork), its coefficient
// complex-conjugated, and its ket/bra kind flipped — the expansion-level
// analogue of TensorNetwork.ConjugateNetwork, needed because conjugating
// a sum of networks termwise is not the same operation as conjugating a
// single network: the linear-combination bookkeeping (coefficients,
// ket/bra kind) also has to flip. Applying it twice returns an expansion
// equal to the original, mirroring ConjugateNetwork's own involution.
func (e *TensorExpansion) Conjugate() *TensorExpansion {
	out := &TensorExpansion{Components: make([]Component, len(e.Components))}
	for i, c := range e.Components {
		kind := Bra
		if c.Kind == Bra {
			kind = Ket
		}
		out.Components[i] = Component{
			Network:     c.Network.ConjugateNetwork(),
			Coefficient: cmplx.Conj(c.Coefficient),
			Kind:        kind,
		}
	}
	return out
}

// Norm2 returns sum(|c_i|^2) over components, the norm used when all
// component networks are mutually orthonormal (callers needing the true
// norm must evaluate cross terms via the network evaluator).
func (e *TensorExpansion) Norm2() float64 {
	var s float64
	for _, c := range e.Components {
		s += real(c.Coefficient * cmplx.Conj(c.Coefficient))
	}
	return s
}

// OperatorTerm is one term of a TensorOperator: a network acting between
// a bra map and a ket map, scaled by a coefficient.
type OperatorTerm struct {
	Network     *TensorNetwork
	Coefficient complex128
	KetLegs     []int
	BraLegs     []int
}

// TensorOperator is a linear combination of operator terms, each mapping
// ket legs to bra legs through its network.
type TensorOperator struct {
	Terms []OperatorTerm
}

// Append adds a term to the operator and returns its index.
func (o *TensorOperator) Append(term OperatorTerm) int {
	o.Terms = append(o.Terms, term)
	return len(o.Terms) - 1
}
