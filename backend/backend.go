// Package backend defines the node executor contract that the lazy
// graph executor dispatches opdag operations to, plus two
// implementations: HostBackend, a reference implementation that performs
// real arithmetic on in-memory complex128 buffers, and CuQuantumBackend,
// a stub that reports the tighter pipeline depth a GPU tensor-contraction
// backend would require without doing any actual device work (no cgo/GPU
// dependency exists anywhere in this stack).
package backend

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"github.com/google/uuid"

	"github.com/exanet/tnengine/opdag"
)

// Handle is the opaque token a backend returns from Submit, used by Test
// and Sync to check on or wait for the operation.
type Handle struct {
	ID    string
	Op    opdag.Opcode
	NodeID uint64
}

// NodeExecutor is the contract every backend implements: submit a node
// for asynchronous execution, poll or block on completion, and report a
// running flop counter.
type NodeExecutor interface {
	Submit(node *opdag.Node, operands map[string]*Buffer) (Handle, error)
	Test(h Handle) (done bool, err error)
	Sync(h Handle) error
	FlopCount() uint64
	PipelineDepth() int
	Name() string
}

// Buffer is a dense in-memory tensor value: a flat complex128 slice plus
// its shape, row-major.
type Buffer struct {
	Shape []uint64
	Data  []complex128
}

// NewBuffer allocates a zeroed buffer of the given shape.
func NewBuffer(shape []uint64) *Buffer {
	vol := uint64(1)
	for _, d := range shape {
		vol *= d
	}
	return &Buffer{Shape: append([]uint64(nil), shape...), Data: make([]complex128, vol)}
}

// ErrUnsupportedOp is returned when a backend has no implementation for
// an opcode (on the host backend: any opcode outside the set execute
// dispatches, such as NOOP).
var ErrUnsupportedOp = errors.New("backend: unsupported opcode")

// HostBackend executes CONTRACT/ADD/TRANSFORM/SLICE/DECOMPOSE* operations
// in a background goroutine started by Submit, which returns immediately
// so Test/Sync can poll,
// matching the teacher's Engine.Run pattern of dispatching through a
// kernel-catalog-style table (here, a Go switch keyed on Opcode instead
// of the teacher's [256]KernelFn array, since operand shapes vary rather
// than being fixed-size Sublates).
type HostBackend struct {
	mu      sync.Mutex
	pending map[string]*pendingOp
	flops   uint64
}

type pendingOp struct {
	done chan struct{}
	err  error
}

// NewHostBackend constructs an empty host backend.
func NewHostBackend() *HostBackend {
	return &HostBackend{pending: make(map[string]*pendingOp)}
}

func (b *HostBackend) Name() string      { return "host" }
func (b *HostBackend) PipelineDepth() int { return 16 }

func (b *HostBackend) FlopCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flops
}

// Submit dispatches node execution to a goroutine and returns a handle
// immediately.
func (b *HostBackend) Submit(node *opdag.Node, operands map[string]*Buffer) (Handle, error) {
	id := uuid.NewString()
	op := &pendingOp{done: make(chan struct{})}

	b.mu.Lock()
	b.pending[id] = op
	b.mu.Unlock()

	go func() {
		flops, err := execute(node, operands)
		b.mu.Lock()
		b.flops += flops
		b.mu.Unlock()
		op.err = err
		close(op.done)
	}()

	return Handle{ID: id, Op: node.Op, NodeID: node.ID}, nil
}

// Test reports whether the operation behind h has finished.
func (b *HostBackend) Test(h Handle) (bool, error) {
	b.mu.Lock()
	op, ok := b.pending[h.ID]
	b.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("backend: unknown handle %s", h.ID)
	}
	select {
	case <-op.done:
		return true, op.err
	default:
		return false, nil
	}
}

// Sync blocks until the operation behind h finishes.
func (b *HostBackend) Sync(h Handle) error {
	b.mu.Lock()
	op, ok := b.pending[h.ID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("backend: unknown handle %s", h.ID)
	}
	<-op.done
	return op.err
}

// execute performs the actual arithmetic for one node against its
// resolved operand buffers, returning an estimated flop count.
func execute(node *opdag.Node, operands map[string]*Buffer) (uint64, error) {
	switch node.Op {
	case opdag.NOOP, opdag.CREATE, opdag.DESTROY:
		return 0, nil
	case opdag.ADD:
		return executeAdd(node, operands)
	case opdag.CONTRACT:
		return executeContract(node, operands)
	case opdag.TRANSFORM:
		return executeTransform(node, operands)
	case opdag.SLICE:
		return executeSlice(node, operands)
	case opdag.INSERT:
		return executeInsert(node, operands)
	case opdag.DECOMPOSE_SVD3:
		return executeDecomposeSVD3(node, operands)
	case opdag.DECOMPOSE_SVD2:
		return executeDecomposeSVD2(node, operands)
	case opdag.ORTHOGONALIZE_SVD:
		return executeOrthogonalizeSVD(node, operands)
	case opdag.ORTHOGONALIZE_MGS:
		return executeOrthogonalizeMGS(node, operands)
	case opdag.FETCH:
		return executeFetch(node, operands)
	case opdag.UPLOAD:
		return executeUpload(node, operands)
	case opdag.BROADCAST:
		return executeBroadcast(node, operands)
	case opdag.ALLREDUCE:
		return executeAllreduce(node, operands)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedOp, node.Op)
	}
}

func executeAdd(node *opdag.Node, operands map[string]*Buffer) (uint64, error) {
	if len(node.Reads) < 1 || len(node.Writes) < 1 {
		return 0, errors.New("backend: ADD requires at least one read and one write")
	}
	dst, ok := operands[node.Writes[0]]
	if !ok {
		return 0, fmt.Errorf("backend: missing destination buffer %q", node.Writes[0])
	}
	var flops uint64
	for _, key := range node.Reads {
		src, ok := operands[key]
		if !ok {
			return 0, fmt.Errorf("backend: missing source buffer %q", key)
		}
		if len(src.Data) != len(dst.Data) {
			return 0, fmt.Errorf("backend: ADD shape mismatch: %d vs %d", len(src.Data), len(dst.Data))
		}
		for i := range dst.Data {
			dst.Data[i] += src.Data[i]
		}
		flops += uint64(len(dst.Data))
	}
	return flops, nil
}

// ContractPayload describes which dimensions of the two read operands are
// contracted together, for executeContract.
type ContractPayload struct {
	SharedDimsA, SharedDimsB []int
}

func executeContract(node *opdag.Node, operands map[string]*Buffer) (uint64, error) {
	if len(node.Reads) != 2 || len(node.Writes) != 1 {
		return 0, errors.New("backend: CONTRACT requires exactly two reads and one write")
	}
	a, ok := operands[node.Reads[0]]
	if !ok {
		return 0, fmt.Errorf("backend: missing operand %q", node.Reads[0])
	}
	b, ok := operands[node.Reads[1]]
	if !ok {
		return 0, fmt.Errorf("backend: missing operand %q", node.Reads[1])
	}
	dst, ok := operands[node.Writes[0]]
	if !ok {
		return 0, fmt.Errorf("backend: missing destination %q", node.Writes[0])
	}

	payload, _ := node.Payload.(ContractPayload)
	sharedVol := uint64(1)
	for _, d := range payload.SharedDimsA {
		if d < len(a.Shape) {
			sharedVol *= a.Shape[d]
		}
	}

	// Reference dense contraction: treat A as (openA x shared) and B as
	// (shared x openB) after the caller has arranged operand data in that
	// layout; this backend does not itself perform index permutation.
	openA := uint64(len(a.Data)) / max1(sharedVol)
	openB := uint64(len(b.Data)) / max1(sharedVol)
	if uint64(len(dst.Data)) != openA*openB {
		return 0, fmt.Errorf("backend: CONTRACT destination volume %d != %d*%d", len(dst.Data), openA, openB)
	}

	for i := uint64(0); i < openA; i++ {
		for j := uint64(0); j < openB; j++ {
			var sum complex128
			for k := uint64(0); k < sharedVol; k++ {
				sum += a.Data[i*sharedVol+k] * b.Data[k*openB+j]
			}
			dst.Data[i*openB+j] = sum
		}
	}
	return openA * openB * sharedVol * 2, nil
}

// TransformPayload configures a TRANSFORM node: element-wise conjugation
// and/or scaling by a complex factor. Scale's zero value is treated as
// the identity factor 1, so a TRANSFORM cannot scale to exactly zero;
// EvaluateExpansionSync skips the TRANSFORM for a zero coefficient and
// leaves that term's zeroed buffer as it is.
type TransformPayload struct {
	Conjugate bool
	Scale     complex128
}

// ScaleBy returns a TransformPayload that scales by c without conjugating.
func ScaleBy(c complex128) TransformPayload { return TransformPayload{Scale: c} }

func executeTransform(node *opdag.Node, operands map[string]*Buffer) (uint64, error) {
	if len(node.Reads) != 1 || len(node.Writes) != 1 {
		return 0, errors.New("backend: TRANSFORM requires exactly one read and one write")
	}
	src, ok := operands[node.Reads[0]]
	if !ok {
		return 0, fmt.Errorf("backend: missing source %q", node.Reads[0])
	}
	dst, ok := operands[node.Writes[0]]
	if !ok {
		return 0, fmt.Errorf("backend: missing destination %q", node.Writes[0])
	}
	if len(src.Data) != len(dst.Data) {
		return 0, fmt.Errorf("backend: TRANSFORM shape mismatch")
	}
	payload, _ := node.Payload.(TransformPayload)
	scale := payload.Scale
	if scale == 0 {
		scale = 1
	}
	for i, v := range src.Data {
		if payload.Conjugate {
			v = cmplx.Conj(v)
		}
		dst.Data[i] = v * scale
	}
	return uint64(len(src.Data)), nil
}

// stridesOf returns the row-major strides of shape.
func stridesOf(shape []uint64) []uint64 {
	strides := make([]uint64, len(shape))
	acc := uint64(1)
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// unflatten decomposes a row-major linear index into per-dimension
// coordinates for shape.
func unflatten(lin uint64, shape, strides []uint64) []uint64 {
	idx := make([]uint64, len(shape))
	for i, st := range strides {
		idx[i] = (lin / st) % shape[i]
	}
	return idx
}

// flatten recomposes a row-major linear index from per-dimension
// coordinates and strides.
func flatten(idx, strides []uint64) uint64 {
	var lin uint64
	for i, st := range strides {
		lin += idx[i] * st
	}
	return lin
}

// SlicePayload extracts a contiguous range [Lo,Hi) along dimension Dim of
// the read operand into the write operand. Every other dimension of the
// write operand must equal the read operand's, matching executeContract's
// convention that the backend trusts the caller's layout rather than
// reshaping or permuting on its own.
type SlicePayload struct {
	Dim    int
	Lo, Hi uint64
}

func executeSlice(node *opdag.Node, operands map[string]*Buffer) (uint64, error) {
	if len(node.Reads) != 1 || len(node.Writes) != 1 {
		return 0, errors.New("backend: SLICE requires exactly one read and one write")
	}
	src, dst := operands[node.Reads[0]], operands[node.Writes[0]]
	if src == nil || dst == nil {
		return 0, fmt.Errorf("backend: SLICE missing operand buffer")
	}
	payload, ok := node.Payload.(SlicePayload)
	if !ok || payload.Dim < 0 || payload.Dim >= len(src.Shape) {
		return 0, fmt.Errorf("backend: SLICE requires a valid SlicePayload")
	}
	srcStrides := stridesOf(src.Shape)
	dstStrides := stridesOf(dst.Shape)
	n := uint64(len(dst.Data))
	for lin := uint64(0); lin < n; lin++ {
		idx := unflatten(lin, dst.Shape, dstStrides)
		idx[payload.Dim] += payload.Lo
		dst.Data[lin] = src.Data[flatten(idx, srcStrides)]
	}
	return n, nil
}

// InsertPayload writes the (smaller) read operand into a contiguous
// range [Lo, Lo+extent) along dimension Dim of the (larger, pre-existing)
// write operand, the inverse of SLICE.
type InsertPayload struct {
	Dim int
	Lo  uint64
}

func executeInsert(node *opdag.Node, operands map[string]*Buffer) (uint64, error) {
	if len(node.Reads) != 1 || len(node.Writes) != 1 {
		return 0, errors.New("backend: INSERT requires exactly one read and one write")
	}
	src, dst := operands[node.Reads[0]], operands[node.Writes[0]]
	if src == nil || dst == nil {
		return 0, fmt.Errorf("backend: INSERT missing operand buffer")
	}
	payload, ok := node.Payload.(InsertPayload)
	if !ok || payload.Dim < 0 || payload.Dim >= len(dst.Shape) {
		return 0, fmt.Errorf("backend: INSERT requires a valid InsertPayload")
	}
	srcStrides := stridesOf(src.Shape)
	dstStrides := stridesOf(dst.Shape)
	n := uint64(len(src.Data))
	for lin := uint64(0); lin < n; lin++ {
		idx := unflatten(lin, src.Shape, srcStrides)
		idx[payload.Dim] += payload.Lo
		dst.Data[flatten(idx, dstStrides)] = src.Data[lin]
	}
	return n, nil
}

// matrixDims groups shape's first rowRank dimensions as matrix rows and
// the remainder as columns, the reshape every decomposition kernel below
// needs before calling into svd.go (a pure reinterpretation of row-major
// data, no copying required).
func matrixDims(shape []uint64, rowRank int) (rows, cols int, err error) {
	if rowRank < 0 || rowRank > len(shape) {
		return 0, 0, fmt.Errorf("backend: row rank %d out of range for shape %v", rowRank, shape)
	}
	r, c := uint64(1), uint64(1)
	for _, d := range shape[:rowRank] {
		r *= d
	}
	for _, d := range shape[rowRank:] {
		c *= d
	}
	return int(r), int(c), nil
}

// DecomposeSVD3Payload configures a DECOMPOSE_SVD3 node: the read operand
// is reshaped as a rows x cols matrix by grouping its first RowRank
// dimensions as rows and the remainder as columns, decomposed via SVD,
// and written as three operands U (rows x k), S (k singular values, held
// in the real part of a complex128 buffer), and Vh (k x cols).
type DecomposeSVD3Payload struct {
	RowRank int
}

func executeDecomposeSVD3(node *opdag.Node, operands map[string]*Buffer) (uint64, error) {
	if len(node.Reads) != 1 || len(node.Writes) != 3 {
		return 0, errors.New("backend: DECOMPOSE_SVD3 requires one read and three writes (U,S,Vh)")
	}
	src := operands[node.Reads[0]]
	payload, _ := node.Payload.(DecomposeSVD3Payload)
	rows, cols, err := matrixDims(src.Shape, payload.RowRank)
	if err != nil {
		return 0, err
	}
	u, s, vt := jacobiSVD(rows, cols, src.Data)
	k := len(s)

	uBuf, sBuf, vBuf := operands[node.Writes[0]], operands[node.Writes[1]], operands[node.Writes[2]]
	if len(uBuf.Data) != len(u) || len(sBuf.Data) != k || len(vBuf.Data) != len(vt) {
		return 0, fmt.Errorf("backend: DECOMPOSE_SVD3 output shape mismatch")
	}
	copy(uBuf.Data, u)
	for i, sv := range s {
		sBuf.Data[i] = complex(sv, 0)
	}
	copy(vBuf.Data, vt)
	return uint64(rows * cols * k), nil
}

// Absorption names which SVD factor absorbs the singular values in a
// DECOMPOSE_SVD2 or orthogonalization node.
type Absorption int

const (
	AbsorbLeft Absorption = iota
	AbsorbRight
	AbsorbBoth
)

// DecomposeSVD2Payload configures a DECOMPOSE_SVD2 node: like
// DecomposeSVD3Payload, but the singular values are folded into the left
// factor, the right factor, or split by square root across both,
// yielding two operands (A, B) with A*B == the original matrix.
type DecomposeSVD2Payload struct {
	RowRank int
	Absorb  Absorption
}

func executeDecomposeSVD2(node *opdag.Node, operands map[string]*Buffer) (uint64, error) {
	if len(node.Reads) != 1 || len(node.Writes) != 2 {
		return 0, errors.New("backend: DECOMPOSE_SVD2 requires one read and two writes (A,B)")
	}
	src := operands[node.Reads[0]]
	payload, _ := node.Payload.(DecomposeSVD2Payload)
	rows, cols, err := matrixDims(src.Shape, payload.RowRank)
	if err != nil {
		return 0, err
	}
	u, s, vt := jacobiSVD(rows, cols, src.Data)
	k := len(s)
	a := append([]complex128(nil), u...)
	b := append([]complex128(nil), vt...)

	switch payload.Absorb {
	case AbsorbLeft:
		for i := 0; i < rows; i++ {
			for j := 0; j < k; j++ {
				a[i*k+j] *= complex(s[j], 0)
			}
		}
	case AbsorbRight:
		for i := 0; i < k; i++ {
			for j := 0; j < cols; j++ {
				b[i*cols+j] *= complex(s[i], 0)
			}
		}
	default: // AbsorbBoth
		for i := 0; i < rows; i++ {
			for j := 0; j < k; j++ {
				a[i*k+j] *= complex(math.Sqrt(s[j]), 0)
			}
		}
		for i := 0; i < k; i++ {
			for j := 0; j < cols; j++ {
				b[i*cols+j] *= complex(math.Sqrt(s[i]), 0)
			}
		}
	}

	aBuf, bBuf := operands[node.Writes[0]], operands[node.Writes[1]]
	if len(aBuf.Data) != len(a) || len(bBuf.Data) != len(b) {
		return 0, fmt.Errorf("backend: DECOMPOSE_SVD2 output shape mismatch")
	}
	copy(aBuf.Data, a)
	copy(bBuf.Data, b)
	return uint64(rows * cols * k), nil
}

// OrthogonalizePayload configures an ORTHOGONALIZE_SVD or
// ORTHOGONALIZE_MGS node: the read operand is reshaped as rows x cols
// (RowRank leading dimensions as rows) and factored into an isometric Q
// and an upper-triangular-in-the-SVD-basis R with Q*R equal to the
// original matrix.
type OrthogonalizePayload struct {
	RowRank int
}

func executeOrthogonalizeSVD(node *opdag.Node, operands map[string]*Buffer) (uint64, error) {
	if len(node.Reads) != 1 || len(node.Writes) != 2 {
		return 0, errors.New("backend: ORTHOGONALIZE_SVD requires one read and two writes (Q,R)")
	}
	src := operands[node.Reads[0]]
	payload, _ := node.Payload.(OrthogonalizePayload)
	rows, cols, err := matrixDims(src.Shape, payload.RowRank)
	if err != nil {
		return 0, err
	}
	u, s, vt := jacobiSVD(rows, cols, src.Data)
	k := len(s)
	r := append([]complex128(nil), vt...)
	for i := 0; i < k; i++ {
		for j := 0; j < cols; j++ {
			r[i*cols+j] *= complex(s[i], 0)
		}
	}

	qBuf, rBuf := operands[node.Writes[0]], operands[node.Writes[1]]
	if len(qBuf.Data) != len(u) || len(rBuf.Data) != len(r) {
		return 0, fmt.Errorf("backend: ORTHOGONALIZE_SVD output shape mismatch")
	}
	copy(qBuf.Data, u)
	copy(rBuf.Data, r)
	return uint64(rows * cols * k), nil
}

func executeOrthogonalizeMGS(node *opdag.Node, operands map[string]*Buffer) (uint64, error) {
	if len(node.Reads) != 1 || len(node.Writes) != 2 {
		return 0, errors.New("backend: ORTHOGONALIZE_MGS requires one read and two writes (Q,R)")
	}
	src := operands[node.Reads[0]]
	payload, _ := node.Payload.(OrthogonalizePayload)
	rows, cols, err := matrixDims(src.Shape, payload.RowRank)
	if err != nil {
		return 0, err
	}
	q, r := modifiedGramSchmidt(rows, cols, src.Data)

	qBuf, rBuf := operands[node.Writes[0]], operands[node.Writes[1]]
	if len(qBuf.Data) != len(q) || len(rBuf.Data) != len(r) {
		return 0, fmt.Errorf("backend: ORTHOGONALIZE_MGS output shape mismatch")
	}
	copy(qBuf.Data, q)
	copy(rBuf.Data, r)
	return uint64(rows * cols * cols), nil
}

// executeFetch copies the read operand into the write operand verbatim,
// used both for FETCH (device-to-host, in the original engine's
// terminology) and, via executeUpload, its host-to-device inverse: the
// reference backend has no separate device memory space, so both
// directions reduce to a copy.
func executeFetch(node *opdag.Node, operands map[string]*Buffer) (uint64, error) {
	if len(node.Reads) != 1 || len(node.Writes) != 1 {
		return 0, errors.New("backend: FETCH requires exactly one read and one write")
	}
	src, dst := operands[node.Reads[0]], operands[node.Writes[0]]
	if len(src.Data) != len(dst.Data) {
		return 0, fmt.Errorf("backend: FETCH shape mismatch")
	}
	copy(dst.Data, src.Data)
	return uint64(len(src.Data)), nil
}

func executeUpload(node *opdag.Node, operands map[string]*Buffer) (uint64, error) {
	return executeFetch(node, operands)
}

// executeBroadcast performs the reference backend's degenerate single-
// process BROADCAST: an identity copy, since there is only one rank's
// worth of data to broadcast. The executor intercepts BROADCAST before it
// reaches the backend whenever a multi-rank process.Group is attached
// (see executor.runCollective); this path only runs for a lone rank or a
// backend-level test exercising the opcode directly.
func executeBroadcast(node *opdag.Node, operands map[string]*Buffer) (uint64, error) {
	return executeFetch(node, operands)
}

// executeAllreduce performs the reference backend's degenerate single-
// process ALLREDUCE: a sum reduction over whatever operands are present
// (one, in the single-rank case). Like executeBroadcast, the executor
// intercepts the real multi-rank case before it reaches the backend.
func executeAllreduce(node *opdag.Node, operands map[string]*Buffer) (uint64, error) {
	if len(node.Reads) < 1 || len(node.Writes) != 1 {
		return 0, errors.New("backend: ALLREDUCE requires at least one read and one write")
	}
	dst := operands[node.Writes[0]]
	for i := range dst.Data {
		dst.Data[i] = 0
	}
	var flops uint64
	for _, key := range node.Reads {
		src, ok := operands[key]
		if !ok {
			return 0, fmt.Errorf("backend: missing operand %q", key)
		}
		if len(src.Data) != len(dst.Data) {
			return 0, fmt.Errorf("backend: ALLREDUCE shape mismatch")
		}
		for i := range dst.Data {
			dst.Data[i] += src.Data[i]
		}
		flops += uint64(len(dst.Data))
	}
	return flops, nil
}

func max1(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	return v
}

// CuQuantumBackend is a stub GPU-tensor-contraction backend: it reports
// the tighter pipeline depth (2, matching the original engine's
// cuQuantum-specific constant) that changes executor scheduling, but
// delegates actual execution to an embedded HostBackend since no real GPU
// kernel dependency exists in this stack.
type CuQuantumBackend struct {
	*HostBackend
}

// NewCuQuantumBackend constructs the stub backend.
func NewCuQuantumBackend() *CuQuantumBackend {
	return &CuQuantumBackend{HostBackend: NewHostBackend()}
}

func (b *CuQuantumBackend) Name() string      { return "cuquantum-stub" }
func (b *CuQuantumBackend) PipelineDepth() int { return 2 }
