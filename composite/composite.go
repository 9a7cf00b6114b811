// Package composite implements block-decomposed tensors: a tensor split
// along a set of (dimension, depth) directives into 2^sum(depth) blocks,
// a block-selection predicate backed by a roaring bitmap for
// block-sparse storage, and process-group distribution constraints
// (the owning group's size must divide or equal the block count, and
// every block must have a well-defined owner rank).
package composite

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/exanet/tnengine/process"
	"github.com/exanet/tnengine/tensor"
)

// SplitDirective names one dimension to bisect and how many times
// (depth): a depth-D split of a dimension divides it into 2^D blocks
// along that axis.
type SplitDirective struct {
	Dimension int
	Depth     int
}

var (
	// ErrInvalidDirective is returned for a directive naming an out-of-range dimension or non-positive depth.
	ErrInvalidDirective = errors.New("composite: invalid split directive")
	// ErrDistributionMismatch is returned when a process group's size neither divides nor equals the block count.
	ErrDistributionMismatch = errors.New("composite: process group size incompatible with block count")
)

// BlockCoord is a block's coordinate: one bisection index per split
// directive, each in [0, 2^Depth).
type BlockCoord []int

// Tensor is a block-decomposed tensor: a full logical shape split into
// blocks by SplitDirectives, with block-sparse storage tracked by a
// roaring bitmap keyed by block ordinal (row-major over BlockCoord).
type Tensor struct {
	*tensor.Tensor

	directives []SplitDirective
	blockDims  []int // 2^Depth per directive
	present    *roaring.Bitmap
	owner      map[uint32]int // block ordinal -> owning rank
	group      *process.Group
}

// NewSplit constructs a composite tensor over base, split by directives.
// All blocks start absent; use SetBlockPresent to populate the
// block-selection predicate.
func NewSplit(base *tensor.Tensor, directives []SplitDirective) (*Tensor, error) {
	rank := base.Rank()
	for _, d := range directives {
		if d.Dimension < 0 || d.Dimension >= rank || d.Depth <= 0 {
			return nil, fmt.Errorf("%w: dim %d depth %d (rank %d)", ErrInvalidDirective, d.Dimension, d.Depth, rank)
		}
	}
	blockDims := make([]int, len(directives))
	for i, d := range directives {
		blockDims[i] = 1 << uint(d.Depth)
	}
	return &Tensor{
		Tensor:     base,
		directives: directives,
		blockDims:  blockDims,
		present:    roaring.New(),
		owner:      make(map[uint32]int),
	}, nil
}

// TotalBlocks returns 2^sum(depth) over all directives.
func (t *Tensor) TotalBlocks() uint64 {
	total := uint64(1)
	for _, bd := range t.blockDims {
		total *= uint64(bd)
	}
	return total
}

// ordinal computes a row-major block ordinal from a coordinate.
func (t *Tensor) ordinal(coord BlockCoord) (uint32, error) {
	if len(coord) != len(t.directives) {
		return 0, fmt.Errorf("composite: coordinate length %d != %d directives", len(coord), len(t.directives))
	}
	var ord uint64
	for i, c := range coord {
		if c < 0 || c >= t.blockDims[i] {
			return 0, fmt.Errorf("composite: coordinate %d out of range [0,%d)", c, t.blockDims[i])
		}
		ord = ord*uint64(t.blockDims[i]) + uint64(c)
	}
	return uint32(ord), nil
}

// SetBlockPresent marks a block present or absent in the block-sparsity
// mask (the "block-selection predicate").
func (t *Tensor) SetBlockPresent(coord BlockCoord, present bool) error {
	ord, err := t.ordinal(coord)
	if err != nil {
		return err
	}
	if present {
		t.present.Add(ord)
	} else {
		t.present.Remove(ord)
	}
	return nil
}

// IsBlockPresent reports whether the given block is present.
func (t *Tensor) IsBlockPresent(coord BlockCoord) (bool, error) {
	ord, err := t.ordinal(coord)
	if err != nil {
		return false, err
	}
	return t.present.Contains(ord), nil
}

// PresentBlockCount returns the number of blocks currently marked
// present.
func (t *Tensor) PresentBlockCount() uint64 {
	return t.present.GetCardinality()
}

// BlockShape returns the shape of an individual block: each split
// dimension's extent divided by its block count, rounded down; when the
// extent is not evenly divisible, the last block along that axis also
// takes the remainder.
func (t *Tensor) BlockShape(coord BlockCoord) (tensor.Shape, error) {
	if _, err := t.ordinal(coord); err != nil {
		return nil, err
	}
	shape := append(tensor.Shape(nil), t.Shape...)
	for i, d := range t.directives {
		full := shape[d.Dimension]
		bd := uint64(t.blockDims[i])
		base := full / bd
		rem := full % bd
		sz := base
		if uint64(coord[i]) == bd-1 {
			sz += rem
		}
		shape[d.Dimension] = sz
	}
	return shape, nil
}

// AssignDistribution binds the composite tensor to a process group,
// validating that the group's size divides or equals the total block
// count (so every block has a well-defined owner rank), and assigns
// owners round-robin by block ordinal.
func (t *Tensor) AssignDistribution(g *process.Group) error {
	total := t.TotalBlocks()
	size := uint64(g.Size())
	if size == 0 {
		return ErrDistributionMismatch
	}
	if total%size != 0 {
		return fmt.Errorf("%w: group size %d, block count %d", ErrDistributionMismatch, size, total)
	}
	t.group = g
	t.owner = make(map[uint32]int, total)
	ranks := g.Ranks()
	for ord := uint64(0); ord < total; ord++ {
		t.owner[uint32(ord)] = ranks[ord%size]
	}
	return nil
}

// OwnerOf returns the rank owning the given block, or an error if no
// distribution has been assigned.
func (t *Tensor) OwnerOf(coord BlockCoord) (int, error) {
	if t.group == nil {
		return 0, errors.New("composite: no distribution assigned")
	}
	ord, err := t.ordinal(coord)
	if err != nil {
		return 0, err
	}
	return t.owner[ord], nil
}
