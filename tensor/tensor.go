// Package tensor defines the identity and shape model for tensors:
// dimension signatures resolved against a space.Registry, and the
// optional isometry groups that mark a tensor as unitary/isometric along
// two disjoint sets of indices.
package tensor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/exanet/tnengine/space"
)

// DimSpec names the (space, subspace) pair a single tensor dimension is
// drawn from.
type DimSpec struct {
	SpaceID    int
	SubspaceID int
}

// Signature is the ordered list of dimension specs of a tensor, one per
// leg, in declaration order.
type Signature []DimSpec

// Equal reports whether two signatures name the same spaces/subspaces in
// the same order.
func (s Signature) Equal(o Signature) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Shape is the resolved extent of each dimension of a tensor, derived
// from a Signature via a space.Registry.
type Shape []uint64

// Rank reports the number of dimensions.
func (s Shape) Rank() int { return len(s) }

// Volume returns the product of all extents (1 for a rank-0 scalar).
func (s Shape) Volume() uint64 {
	v := uint64(1)
	for _, d := range s {
		v *= d
	}
	return v
}

var (
	// ErrRankMismatch is returned when a shape/signature pair disagree in length.
	ErrRankMismatch = errors.New("tensor: rank mismatch")
	// ErrIsometryOverlap is returned when the two isometry groups share an index.
	ErrIsometryOverlap = errors.New("tensor: isometry groups overlap")
	// ErrIsometryOutOfRange is returned when an isometry group names an index outside the tensor's rank.
	ErrIsometryOutOfRange = errors.New("tensor: isometry index out of range")
)

// ResolveShape derives a Shape from a Signature using a space.Registry.
func ResolveShape(reg *space.Registry, sig Signature) (Shape, error) {
	shape := make(Shape, len(sig))
	for i, d := range sig {
		rng, err := reg.Subspace(d.SpaceID, d.SubspaceID)
		if err != nil {
			return nil, fmt.Errorf("tensor: resolving dim %d: %w", i, err)
		}
		if d.SpaceID == space.AnonymousSpaceID {
			return nil, fmt.Errorf("tensor: dim %d resolves against the anonymous space, which has no bounded extent for shape purposes", i)
		}
		shape[i] = rng.Extent()
	}
	return shape, nil
}

// IsometryGroup is a set of leg indices, in order, over which a tensor is
// isometric (an isometry when contracted against its conjugate collapses
// exactly this index set to identity).
type IsometryGroup []int

func (g IsometryGroup) contains(i int) bool {
	for _, x := range g {
		if x == i {
			return true
		}
	}
	return false
}

// Identity is the (name, shape, signature) triple that names a tensor.
// Two tensors with equal Identity are considered the same tensor for the
// purposes of the operation DAG's dependency table.
type Identity struct {
	Name      string
	Shape     Shape
	Signature Signature
}

// Key returns a string uniquely identifying this identity, suitable as a
// map key or DAG dependency-table key.
func (id Identity) Key() string {
	var b strings.Builder
	b.WriteString(id.Name)
	b.WriteByte('|')
	for _, d := range id.Shape {
		fmt.Fprintf(&b, "%d,", d)
	}
	b.WriteByte('|')
	for _, d := range id.Signature {
		fmt.Fprintf(&b, "%d:%d,", d.SpaceID, d.SubspaceID)
	}
	return b.String()
}

// Tensor is a named, shaped tensor value with at most two disjoint
// isometry groups.
type Tensor struct {
	Identity

	isoA IsometryGroup
	isoB IsometryGroup
}

// New constructs a Tensor, validating that shape and signature agree in
// rank.
func New(name string, shape Shape, sig Signature) (*Tensor, error) {
	if len(shape) != len(sig) {
		return nil, fmt.Errorf("%w: shape has %d dims, signature has %d", ErrRankMismatch, len(shape), len(sig))
	}
	return &Tensor{Identity: Identity{Name: name, Shape: shape, Signature: sig}}, nil
}

// SetIsometry assigns the two (possibly empty) isometry groups of the
// tensor. Passing nil for either clears that group. The two groups must
// be disjoint and every index must be within [0, rank).
func (t *Tensor) SetIsometry(a, b IsometryGroup) error {
	rank := t.Shape.Rank()
	for _, g := range [2]IsometryGroup{a, b} {
		for _, idx := range g {
			if idx < 0 || idx >= rank {
				return fmt.Errorf("%w: index %d, rank %d", ErrIsometryOutOfRange, idx, rank)
			}
		}
	}
	for _, idx := range a {
		if b.contains(idx) {
			return fmt.Errorf("%w: index %d", ErrIsometryOverlap, idx)
		}
	}
	t.isoA = append(IsometryGroup(nil), a...)
	t.isoB = append(IsometryGroup(nil), b...)
	return nil
}

// IsometryGroups returns the two isometry groups currently set on the
// tensor.
func (t *Tensor) IsometryGroups() (IsometryGroup, IsometryGroup) {
	return t.isoA, t.isoB
}

// IsIsometric reports whether the tensor has at least one non-empty
// isometry group.
func (t *Tensor) IsIsometric() bool {
	return len(t.isoA) > 0 || len(t.isoB) > 0
}

// Rank returns the tensor's rank (number of legs).
func (t *Tensor) Rank() int { return t.Shape.Rank() }
