package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/cmplx"
	"math/rand"

	"github.com/exanet/tnengine/backend"
	"github.com/exanet/tnengine/config"
	"github.com/exanet/tnengine/internal/dump"
	"github.com/exanet/tnengine/network"
	"github.com/exanet/tnengine/opdag"
	"github.com/exanet/tnengine/process"
	"github.com/exanet/tnengine/space"
	"github.com/exanet/tnengine/tensor"
)

// This file is the free-function client API surface: thin wrappers over
// an explicit *Engine (never a package-level singleton), grouped by area
// (spaces, evaluation, tensors, networks, collectives, runtime toggles).
// Each has a Sync and, where meaningful, an Async variant.

// CreateSpaceSync registers a new named space on e's registry.
func CreateSpaceSync(e *Engine, name string, extent uint64) (int, error) {
	id, err := e.Spaces().RegisterSpace(name, extent)
	if err != nil {
		return 0, newErr(UserContractViolation, "CreateSpaceSync", err)
	}
	return id, nil
}

// DestroySpaceSync removes a named space from e's registry.
func DestroySpaceSync(e *Engine, spaceID int) error {
	if err := e.Spaces().DestroySpace(spaceID); err != nil {
		return newErr(UserContractViolation, "DestroySpaceSync", err)
	}
	return nil
}

// CreateSubspaceSync registers a [lo, hi) subspace of a named space.
func CreateSubspaceSync(e *Engine, spaceID int, lo, hi uint64) (int, error) {
	id, err := e.Spaces().CreateSubspace(spaceID, lo, hi)
	if err != nil {
		return 0, newErr(UserContractViolation, "CreateSubspaceSync", err)
	}
	return id, nil
}

// LookupSpaceSync resolves a space by name.
func LookupSpaceSync(e *Engine, name string) (int, error) {
	id, err := e.Spaces().LookupSpace(name)
	if err != nil {
		return 0, newErr(UserContractViolation, "LookupSpaceSync", err)
	}
	return id, nil
}

// AnonymousExtent is re-exported for CLI convenience so callers building
// against the client API don't need to import the space package directly
// for this one constant.
const AnonymousExtent = space.AnonymousExtent

// EvaluateSync blocks until net's output tensor has been computed.
func EvaluateSync(ctx context.Context, e *Engine, net *network.TensorNetwork) error {
	return e.EvaluateNetworkSync(ctx, net)
}

// EvaluateAsync starts evaluating net and returns a set of DAG node ids
// the caller can pass to AwaitSync.
func EvaluateAsync(e *Engine, net *network.TensorNetwork) ([]uint64, error) {
	return e.EvaluateNetworkAsync(net)
}

// AwaitSync blocks until every id in handles has completed.
func AwaitSync(e *Engine, handles []uint64) error {
	return e.Await(handles)
}

// EvaluateExpansionSync evaluates every component of exp in order and
// folds them into a single accumulator: each component's network is
// evaluated to its own result tensor, scaled by the component's
// coefficient (conjugating first for a Bra component) via a TRANSFORM
// node into a fresh per-term buffer (left zero for a zero coefficient),
// added into the accumulator via an ADD node, and then destroyed. All
// per-term buffers are allocated before the queued nodes run, so N terms
// are resident at once until their DESTROY nodes execute. It returns the
// accumulator buffer holding sum_i coefficient_i * component_i.
func EvaluateExpansionSync(ctx context.Context, e *Engine, exp *network.TensorExpansion) (*backend.Buffer, error) {
	if len(exp.Components) == 0 {
		return nil, newErr(UserContractViolation, "EvaluateExpansionSync", errors.New("tensor expansion has no components"))
	}

	var accKey string
	for i, c := range exp.Components {
		if err := e.EvaluateNetworkSync(ctx, c.Network); err != nil {
			return nil, newErr(UserContractViolation, "EvaluateExpansionSync", err)
		}
		compBuf, ok := e.NetworkResult(c.Network)
		if !ok {
			return nil, newErr(BackendFailure, "EvaluateExpansionSync", fmt.Errorf("component %d: no result tensor", i))
		}
		compOut, err := c.Network.Vertex(network.OutputVertexID)
		if err != nil {
			return nil, newErr(UserContractViolation, "EvaluateExpansionSync", err)
		}
		compKey := compOut.TensorName

		termKey := fmt.Sprintf("expansion_term_%d", i)
		e.store.Store(termKey, backend.NewBuffer(compBuf.Shape))
		if c.Coefficient != 0 {
			e.dag.Append(opdag.TRANSFORM, []string{compKey}, []string{termKey},
				backend.TransformPayload{Scale: c.Coefficient, Conjugate: c.Kind == network.Bra})
		}

		if accKey == "" {
			accKey = termKey
			continue
		}
		e.dag.Append(opdag.ADD, []string{termKey}, []string{accKey}, nil)
		e.dag.Append(opdag.DESTROY, []string{termKey}, nil, nil)
	}

	if err := e.runPendingSync(ctx); err != nil {
		return nil, newErr(BackendFailure, "EvaluateExpansionSync", err)
	}

	acc, ok := e.store.Load(accKey)
	if !ok {
		return nil, newErr(BackendFailure, "EvaluateExpansionSync", errors.New("accumulator buffer missing after evaluation"))
	}
	return acc, nil
}

// --- Tensor lifecycle -------------------------------------------------
//
// A "tensor" at the client boundary is a named buffer the caller manages
// directly in the engine's operand store: EvaluateSymbolicSync stages a
// network's leaves by looking them up under these same names (see
// stageInputs), and EvaluateNetworkSync aliases an evaluated network's
// result back under its output tensor's name (see aliasFinalResult), so a value
// created here can flow straight into a network as an input, or receive
// one as an output, under one shared namespace.

// CreateTensorSync registers a new zero-valued tensor under name.
func CreateTensorSync(e *Engine, name string, shape tensor.Shape) error {
	if _, ok := e.store.Load(name); ok {
		return newErr(UserContractViolation, "CreateTensorSync", fmt.Errorf("tensor %q already exists", name))
	}
	e.store.Store(name, backend.NewBuffer(shape))
	return nil
}

// DestroyTensorSync releases a tensor previously created with
// CreateTensorSync or an Init* function.
func DestroyTensorSync(e *Engine, name string) error {
	if _, ok := e.store.Load(name); !ok {
		return newErr(UserContractViolation, "DestroyTensorSync", fmt.Errorf("unknown tensor %q", name))
	}
	e.store.Delete(name)
	return nil
}

// InitScalarSync (re)initializes name as a rank-0 tensor holding v.
func InitScalarSync(e *Engine, name string, v complex128) error {
	e.store.Store(name, &backend.Buffer{Shape: tensor.Shape{}, Data: []complex128{v}})
	return nil
}

// InitDenseSync (re)initializes name with shape and the given row-major
// coefficients; len(data) must equal shape's volume.
func InitDenseSync(e *Engine, name string, shape tensor.Shape, data []complex128) error {
	buf := backend.NewBuffer(shape)
	if len(data) != len(buf.Data) {
		return newErr(UserContractViolation, "InitDenseSync", fmt.Errorf("shape %v holds %d elements, got %d", shape, len(buf.Data), len(data)))
	}
	copy(buf.Data, data)
	e.store.Store(name, buf)
	return nil
}

// InitFileSync (re)initializes name by reading a tensor dump (see
// internal/dump) from r.
func InitFileSync(e *Engine, name string, r io.Reader) error {
	buf, _, err := dump.Read(r)
	if err != nil {
		return newErr(UserContractViolation, "InitFileSync", err)
	}
	e.store.Store(name, buf)
	return nil
}

// InitRandomSync (re)initializes name with shape's volume worth of
// coefficients drawn uniformly from the unit square of the complex
// plane, seeded for reproducibility.
func InitRandomSync(e *Engine, name string, shape tensor.Shape, seed int64) error {
	buf := backend.NewBuffer(shape)
	rng := rand.New(rand.NewSource(seed))
	for i := range buf.Data {
		buf.Data[i] = complex(rng.Float64(), rng.Float64())
	}
	e.store.Store(name, buf)
	return nil
}

// PrintTensorSync writes name's current value to w in the given dump
// format.
func PrintTensorSync(e *Engine, name string, w io.Writer, format dump.Format) error {
	buf, ok := e.store.Load(name)
	if !ok {
		return newErr(UserContractViolation, "PrintTensorSync", fmt.Errorf("unknown tensor %q", name))
	}
	var err error
	switch format {
	case dump.List:
		err = dump.WriteList(w, buf)
	default:
		err = dump.WriteDense(w, buf)
	}
	if err != nil {
		return newErr(BackendFailure, "PrintTensorSync", err)
	}
	return nil
}

// CopyTensorSync copies src's current value into dst (created fresh with
// src's shape if dst does not already exist), dispatched as a TRANSFORM
// node so it participates in the same DAG/executor path as every other
// operand mutation.
func CopyTensorSync(ctx context.Context, e *Engine, src, dst string) error {
	srcBuf, ok := e.store.Load(src)
	if !ok {
		return newErr(UserContractViolation, "CopyTensorSync", fmt.Errorf("unknown tensor %q", src))
	}
	if _, ok := e.store.Load(dst); !ok {
		e.store.Store(dst, backend.NewBuffer(srcBuf.Shape))
	}
	e.dag.Append(opdag.TRANSFORM, []string{src}, []string{dst}, backend.TransformPayload{})
	if err := e.runPendingSync(ctx); err != nil {
		return newErr(BackendFailure, "CopyTensorSync", err)
	}
	return nil
}

// ScaleTensorSync multiplies name's current value by c in place.
func ScaleTensorSync(ctx context.Context, e *Engine, name string, c complex128) error {
	if _, ok := e.store.Load(name); !ok {
		return newErr(UserContractViolation, "ScaleTensorSync", fmt.Errorf("unknown tensor %q", name))
	}
	e.dag.Append(opdag.TRANSFORM, []string{name}, []string{name}, backend.TransformPayload{Scale: c})
	if err := e.runPendingSync(ctx); err != nil {
		return newErr(BackendFailure, "ScaleTensorSync", err)
	}
	return nil
}

// TransformTensorSync applies a general scale-and-optionally-conjugate
// transform to name in place, the client-facing entry point for the
// TRANSFORM opcode.
func TransformTensorSync(ctx context.Context, e *Engine, name string, c complex128, conjugate bool) error {
	if _, ok := e.store.Load(name); !ok {
		return newErr(UserContractViolation, "TransformTensorSync", fmt.Errorf("unknown tensor %q", name))
	}
	e.dag.Append(opdag.TRANSFORM, []string{name}, []string{name}, backend.TransformPayload{Scale: c, Conjugate: conjugate})
	if err := e.runPendingSync(ctx); err != nil {
		return newErr(BackendFailure, "TransformTensorSync", err)
	}
	return nil
}

// SliceExtractSync extracts the [lo,hi) range of src's dim-th dimension
// into a freshly created dst tensor.
func SliceExtractSync(ctx context.Context, e *Engine, src, dst string, dim int, lo, hi uint64) error {
	srcBuf, ok := e.store.Load(src)
	if !ok {
		return newErr(UserContractViolation, "SliceExtractSync", fmt.Errorf("unknown tensor %q", src))
	}
	if dim < 0 || dim >= len(srcBuf.Shape) || hi <= lo || hi > srcBuf.Shape[dim] {
		return newErr(UserContractViolation, "SliceExtractSync", fmt.Errorf("invalid slice range dim=%d [%d,%d) of shape %v", dim, lo, hi, srcBuf.Shape))
	}
	dstShape := append(tensor.Shape(nil), srcBuf.Shape...)
	dstShape[dim] = hi - lo
	e.store.Store(dst, backend.NewBuffer(dstShape))
	e.dag.Append(opdag.SLICE, []string{src}, []string{dst}, backend.SlicePayload{Dim: dim, Lo: lo, Hi: hi})
	if err := e.runPendingSync(ctx); err != nil {
		return newErr(BackendFailure, "SliceExtractSync", err)
	}
	return nil
}

// SliceInsertSync writes src into dst's dim-th dimension starting at lo,
// the inverse of SliceExtractSync; dst must already exist and be large
// enough.
func SliceInsertSync(ctx context.Context, e *Engine, dst, src string, dim int, lo uint64) error {
	if _, ok := e.store.Load(dst); !ok {
		return newErr(UserContractViolation, "SliceInsertSync", fmt.Errorf("unknown tensor %q", dst))
	}
	if _, ok := e.store.Load(src); !ok {
		return newErr(UserContractViolation, "SliceInsertSync", fmt.Errorf("unknown tensor %q", src))
	}
	e.dag.Append(opdag.INSERT, []string{src}, []string{dst}, backend.InsertPayload{Dim: dim, Lo: lo})
	if err := e.runPendingSync(ctx); err != nil {
		return newErr(BackendFailure, "SliceInsertSync", err)
	}
	return nil
}

// --- Symbolic add/contract ---------------------------------------------

// stageInputs copies net's leaf-vertex data out of the engine's tensor
// store (keyed by tensor name) into the store's plan-facing "v<id>" keys,
// applying each vertex's conjugate flag the way Reconstructor.populate
// does, since neither the host backend nor the plan executor interprets
// Vertex.Conjugate itself.
func stageInputs(e *Engine, net *network.TensorNetwork) error {
	for _, id := range net.VertexIDs() {
		if id == network.OutputVertexID {
			continue
		}
		v, err := net.Vertex(id)
		if err != nil {
			return err
		}
		src, ok := e.store.Load(v.TensorName)
		if !ok {
			return fmt.Errorf("no such tensor %q", v.TensorName)
		}
		buf := backend.NewBuffer(src.Shape)
		copy(buf.Data, src.Data)
		if v.Conjugate {
			for i, x := range buf.Data {
				buf.Data[i] = cmplx.Conj(x)
			}
		}
		e.store.Store(fmt.Sprintf("v%d", id), buf)
	}
	return nil
}

// EvaluateSymbolicSync parses expr (see network.FromSymbolic's grammar),
// stages its input tensors from e's tensor store, evaluates it, and
// returns the result — also leaving it in the tensor store under the
// expression's own output tensor name, so it can be chained into a
// further symbolic expression or client-API call by name.
func EvaluateSymbolicSync(ctx context.Context, e *Engine, expr string, shapes map[string]tensor.Shape) (*backend.Buffer, error) {
	rawShapes := make(map[string][]uint64, len(shapes))
	for k, v := range shapes {
		rawShapes[k] = v
	}
	net, err := network.FromSymbolic(expr, rawShapes)
	if err != nil {
		return nil, newErr(UserContractViolation, "EvaluateSymbolicSync", err)
	}
	if err := stageInputs(e, net); err != nil {
		return nil, newErr(UserContractViolation, "EvaluateSymbolicSync", err)
	}
	if err := e.EvaluateNetworkSync(ctx, net); err != nil {
		return nil, err
	}
	buf, ok := e.NetworkResult(net)
	if !ok {
		return nil, newErr(BackendFailure, "EvaluateSymbolicSync", errors.New("no result tensor after evaluation"))
	}
	return buf, nil
}

// --- SVD variants -------------------------------------------------------

// DecomposeSVD3Sync factors src (reshaped rowRank/cols-split) into three
// fresh tensors uName (isometry), sName (singular values, real-valued
// but stored in a complex128 buffer), and vName (co-isometry).
func DecomposeSVD3Sync(ctx context.Context, e *Engine, src string, rowRank int, uName, sName, vName string) error {
	rows, cols, k, err := svdDims(e, src, rowRank)
	if err != nil {
		return newErr(UserContractViolation, "DecomposeSVD3Sync", err)
	}
	e.store.Store(uName, backend.NewBuffer(tensor.Shape{rows, k}))
	e.store.Store(sName, backend.NewBuffer(tensor.Shape{k}))
	e.store.Store(vName, backend.NewBuffer(tensor.Shape{k, cols}))
	e.dag.Append(opdag.DECOMPOSE_SVD3, []string{src}, []string{uName, sName, vName}, backend.DecomposeSVD3Payload{RowRank: rowRank})
	if err := e.runPendingSync(ctx); err != nil {
		return newErr(BackendFailure, "DecomposeSVD3Sync", err)
	}
	return nil
}

// DecomposeSVD2Sync factors src into two fresh tensors aName, bName with
// the singular values absorbed per absorb (left/right/both — a square
// root split across each factor).
func DecomposeSVD2Sync(ctx context.Context, e *Engine, src string, rowRank int, absorb backend.Absorption, aName, bName string) error {
	rows, cols, k, err := svdDims(e, src, rowRank)
	if err != nil {
		return newErr(UserContractViolation, "DecomposeSVD2Sync", err)
	}
	e.store.Store(aName, backend.NewBuffer(tensor.Shape{rows, k}))
	e.store.Store(bName, backend.NewBuffer(tensor.Shape{k, cols}))
	e.dag.Append(opdag.DECOMPOSE_SVD2, []string{src}, []string{aName, bName}, backend.DecomposeSVD2Payload{RowRank: rowRank, Absorb: absorb})
	if err := e.runPendingSync(ctx); err != nil {
		return newErr(BackendFailure, "DecomposeSVD2Sync", err)
	}
	return nil
}

// OrthogonalizeSync factors src into an isometry qName and a triangular
// factor rName via method ("svd" or "mgs", the two ORTHOGONALIZE_*
// backend opcodes).
func OrthogonalizeSync(ctx context.Context, e *Engine, src string, rowRank int, method, qName, rName string) error {
	rows, cols, k, err := svdDims(e, src, rowRank)
	if err != nil {
		return newErr(UserContractViolation, "OrthogonalizeSync", err)
	}
	op := opdag.ORTHOGONALIZE_MGS
	rShape := tensor.Shape{cols, cols}
	qShape := tensor.Shape{rows, cols}
	if method == "svd" {
		op = opdag.ORTHOGONALIZE_SVD
		rShape = tensor.Shape{k, cols}
		qShape = tensor.Shape{rows, k}
	}
	e.store.Store(qName, backend.NewBuffer(qShape))
	e.store.Store(rName, backend.NewBuffer(rShape))
	e.dag.Append(op, []string{src}, []string{qName, rName}, backend.OrthogonalizePayload{RowRank: rowRank})
	if err := e.runPendingSync(ctx); err != nil {
		return newErr(BackendFailure, "OrthogonalizeSync", err)
	}
	return nil
}

// svdDims resolves src's rows/cols/k = min(rows,cols) for a decomposition
// splitting its shape at rowRank, validating that src exists.
func svdDims(e *Engine, src string, rowRank int) (rows, cols, k uint64, err error) {
	buf, ok := e.store.Load(src)
	if !ok {
		return 0, 0, 0, fmt.Errorf("unknown tensor %q", src)
	}
	if rowRank < 0 || rowRank > len(buf.Shape) {
		return 0, 0, 0, fmt.Errorf("row rank %d out of range for shape %v", rowRank, buf.Shape)
	}
	rows, cols = 1, 1
	for _, d := range buf.Shape[:rowRank] {
		rows *= d
	}
	for _, d := range buf.Shape[rowRank:] {
		cols *= d
	}
	k = rows
	if cols < k {
		k = cols
	}
	return rows, cols, k, nil
}

// --- Norms ---------------------------------------------------------------

// NormMaxAbsSync returns name's largest coefficient magnitude.
func NormMaxAbsSync(e *Engine, name string) (float64, error) {
	buf, ok := e.store.Load(name)
	if !ok {
		return 0, newErr(UserContractViolation, "NormMaxAbsSync", fmt.Errorf("unknown tensor %q", name))
	}
	var max float64
	for _, v := range buf.Data {
		if m := cmplx.Abs(v); m > max {
			max = m
		}
	}
	return max, nil
}

// Norm1Sync returns the sum of name's coefficient magnitudes.
func Norm1Sync(e *Engine, name string) (float64, error) {
	buf, ok := e.store.Load(name)
	if !ok {
		return 0, newErr(UserContractViolation, "Norm1Sync", fmt.Errorf("unknown tensor %q", name))
	}
	var sum float64
	for _, v := range buf.Data {
		sum += cmplx.Abs(v)
	}
	return sum, nil
}

// Norm2Sync (also usable as the "all" norm) returns name's Euclidean
// norm, sqrt(sum |x_i|^2).
func Norm2Sync(e *Engine, name string) (float64, error) {
	buf, ok := e.store.Load(name)
	if !ok {
		return 0, newErr(UserContractViolation, "Norm2Sync", fmt.Errorf("unknown tensor %q", name))
	}
	var sum float64
	for _, v := range buf.Data {
		sum += real(v)*real(v) + imag(v)*imag(v)
	}
	return math.Sqrt(sum), nil
}

// NormPartialSync reduces name's squared magnitude over the given
// dimensions, returning the remaining dimensions' Euclidean norm as a
// tensor (e.g. the per-column norm of a matrix when dims={0}).
func NormPartialSync(e *Engine, name string, dims []int) (*backend.Buffer, error) {
	buf, ok := e.store.Load(name)
	if !ok {
		return nil, newErr(UserContractViolation, "NormPartialSync", fmt.Errorf("unknown tensor %q", name))
	}
	reduced := make(map[int]bool, len(dims))
	for _, d := range dims {
		if d < 0 || d >= len(buf.Shape) {
			return nil, newErr(UserContractViolation, "NormPartialSync", fmt.Errorf("dim %d out of range for shape %v", d, buf.Shape))
		}
		reduced[d] = true
	}
	var outShape tensor.Shape
	var keep []int
	for d, extent := range buf.Shape {
		if !reduced[d] {
			outShape = append(outShape, extent)
			keep = append(keep, d)
		}
	}
	out := backend.NewBuffer(outShape)

	srcStrides := make([]uint64, len(buf.Shape))
	acc := uint64(1)
	for i := len(buf.Shape) - 1; i >= 0; i-- {
		srcStrides[i] = acc
		acc *= buf.Shape[i]
	}
	dstStrides := make([]uint64, len(outShape))
	acc = 1
	for i := len(outShape) - 1; i >= 0; i-- {
		dstStrides[i] = acc
		acc *= outShape[i]
	}

	idx := make([]uint64, len(buf.Shape))
	for lin, v := range buf.Data {
		rem := uint64(lin)
		for d, st := range srcStrides {
			idx[d] = (rem / st) % buf.Shape[d]
		}
		var dst uint64
		for i, d := range keep {
			dst += idx[d] * dstStrides[i]
		}
		out.Data[dst] += complex(real(v)*real(v)+imag(v)*imag(v), 0)
	}
	for i, v := range out.Data {
		out.Data[i] = complex(math.Sqrt(real(v)), 0)
	}
	return out, nil
}

// --- Replication, broadcast, all-reduce ---------------------------------

// ReplicateTensorSync records that name is now considered present on
// every rank of g, the client-facing entry to process.ReplicationState.
func ReplicateTensorSync(e *Engine, name string, g *process.Group) error {
	if _, ok := e.store.Load(name); !ok {
		return newErr(UserContractViolation, "ReplicateTensorSync", fmt.Errorf("unknown tensor %q", name))
	}
	e.replicationFor(name).ReplicateTensor(g)
	return nil
}

// DereplicateTensorSync removes g from name's replication set, failing
// if name was never recorded as replicated there.
func DereplicateTensorSync(e *Engine, name string, g *process.Group) error {
	if err := e.replicationFor(name).DereplicateTensor(g); err != nil {
		return newErr(UserContractViolation, "DereplicateTensorSync", err)
	}
	return nil
}

// BroadcastTensorSync distributes name's value from rank 0 of g to every
// other rank of g. On a single-rank group (including the engine's own
// default group) this reduces to an identity confirmation; against a
// process.NewSimulatedGroup-backed multi-rank g it performs a real
// exchange via LazyExecutor.runCollective.
func BroadcastTensorSync(ctx context.Context, e *Engine, name string, g *process.Group) error {
	if _, ok := e.store.Load(name); !ok {
		return newErr(UserContractViolation, "BroadcastTensorSync", fmt.Errorf("unknown tensor %q", name))
	}
	e.dag.Append(opdag.BROADCAST, []string{name}, []string{name}, nil)
	if err := e.runPendingSyncGroup(ctx, g); err != nil {
		return newErr(CollectiveFailure, "BroadcastTensorSync", err)
	}
	e.replicationFor(name).ReplicateTensor(g)
	return nil
}

// AllReduceTensorSync sums name's value across every rank of g and
// leaves the total in name on every rank. A private snapshot key is used
// as the ALLREDUCE node's read operand so the single-rank backend path
// (which zeroes its write operand before summing) cannot alias it with
// name itself.
func AllReduceTensorSync(ctx context.Context, e *Engine, name string, g *process.Group) error {
	buf, ok := e.store.Load(name)
	if !ok {
		return newErr(UserContractViolation, "AllReduceTensorSync", fmt.Errorf("unknown tensor %q", name))
	}
	srcKey := name + "__allreduce_src"
	snapshot := backend.NewBuffer(buf.Shape)
	copy(snapshot.Data, buf.Data)
	e.store.Store(srcKey, snapshot)

	e.dag.Append(opdag.ALLREDUCE, []string{srcKey}, []string{name}, nil)
	if err := e.runPendingSyncGroup(ctx, g); err != nil {
		return newErr(CollectiveFailure, "AllReduceTensorSync", err)
	}
	e.store.Delete(srcKey)
	return nil
}

// --- Network/expansion duplicate and slice-project -----------------------

// DuplicateNetworkSync returns a structural clone of net (see
// TensorNetwork.Clone), for callers that want to evaluate variations of
// the same topology without disturbing the original.
func DuplicateNetworkSync(net *network.TensorNetwork) *network.TensorNetwork { return net.Clone() }

// DuplicateExpansionSync returns a shallow copy of exp's component list;
// the underlying per-component networks are shared, not cloned, matching
// TensorExpansion's role as a lightweight weighted list of networks.
func DuplicateExpansionSync(exp *network.TensorExpansion) *network.TensorExpansion {
	dup := &network.TensorExpansion{}
	dup.Components = append([]network.Component(nil), exp.Components...)
	return dup
}

// SliceProjectNetworkSync returns net.Environment(id) sliced further: it
// excises vertex id from net and re-exposes its former connections as
// the output, then restricts dimension dim of that output to [lo,hi),
// the network-level analogue of SliceExtractSync applied to a
// contraction's environment rather than a materialized tensor.
func SliceProjectNetworkSync(net *network.TensorNetwork, id, dim int, lo, hi uint64) (*network.TensorNetwork, error) {
	env, err := network.Environment(net, id)
	if err != nil {
		return nil, newErr(UserContractViolation, "SliceProjectNetworkSync", err)
	}
	out, err := env.Vertex(network.OutputVertexID)
	if err != nil {
		return nil, newErr(BackendFailure, "SliceProjectNetworkSync", err)
	}
	if dim < 0 || dim >= len(out.Shape) || hi <= lo || hi > out.Shape[dim] {
		return nil, newErr(UserContractViolation, "SliceProjectNetworkSync", fmt.Errorf("invalid slice range dim=%d [%d,%d) of shape %v", dim, lo, hi, out.Shape))
	}
	shape := append(tensor.Shape(nil), out.Shape...)
	shape[dim] = hi - lo
	if err := env.ReplaceOutput(out.TensorName, shape); err != nil {
		return nil, newErr(BackendFailure, "SliceProjectNetworkSync", err)
	}
	return env, nil
}

// --- Runtime toggles -------------------------------------------------------

// SetBackendSync switches the engine's node executor ("host" or
// "cuquantum").
func SetBackendSync(e *Engine, b config.Backend) { e.SetBackend(b) }

// SetPlannerSync switches the contraction planner algorithm ("dummy",
// "heuro", "greed", "metis").
func SetPlannerSync(e *Engine, algorithm string) { e.SetPlannerAlgorithm(algorithm) }

// SetMemoryCeilingSync sets (or, at zero, clears) the planner's memory
// ceiling in log2 space.
func SetMemoryCeilingSync(e *Engine, log2Bytes float64) { e.SetMemoryCeilingLog2(log2Bytes) }

// SetPlanCacheModeSync switches plan caching between memory-only
// ("memory"), disabled ("off"), and disk-persisted ("disk", loaded from
// and later flushed to path).
func SetPlanCacheModeSync(e *Engine, mode config.CacheMode, path string) error {
	return e.SetPlanCacheMode(mode, path)
}

// FlushPlanCacheSync persists the engine's plan cache to disk if it is
// configured in disk-persisted mode.
func FlushPlanCacheSync(e *Engine) error { return e.FlushPlanCache() }

// SetLogLevelSync adjusts the engine's logger verbosity (0-3: warn,
// info, debug, trace).
func SetLogLevelSync(e *Engine, level int) error {
	lvl := config.LogLevel(level)
	if lvl < config.LogWarn || lvl > config.LogTrace {
		return newErr(UserContractViolation, "SetLogLevelSync", fmt.Errorf("log level %d out of range [0,3]", level))
	}
	return e.SetLogLevel(lvl)
}

// SetDryRunSync toggles whether Evaluate*Sync/Async skip real
// evaluation.
func SetDryRunSync(e *Engine, v bool) { e.SetDryRun(v) }

// SetFastMathSync toggles the fast-math config flag.
func SetFastMathSync(e *Engine, v bool) { e.SetFastMath(v) }

// FlopCountSync returns the engine's cumulative flop counter.
func FlopCountSync(e *Engine) uint64 { return e.Stats().TotalFlops }

// AwaitTensorSync blocks until name's producing DAG node has finished,
// for a caller that knows a tensor's name but not the id of the node that
// produced it.
func AwaitTensorSync(e *Engine, name string) error { return e.AwaitTensor(name) }

// StatsSync returns a snapshot of e's execution counters.
func StatsSync(e *Engine) Stats { return e.Stats() }
