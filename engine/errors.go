package engine

import "fmt"

// ErrorKind classifies an EngineError into one of the five kinds the
// client API distinguishes so callers can branch with errors.As.
type ErrorKind int

const (
	// UserContractViolation covers malformed calls: bad shapes, unknown
	// tensor names, mismatched signatures.
	UserContractViolation ErrorKind = iota
	// ResourceExhaustion covers allocation failures the caller may retry
	// once after triggering a garbage-collection pass.
	ResourceExhaustion
	// BackendFailure is a non-recoverable failure inside a node executor;
	// it fails the owning DAG node and propagates to any Await/AwaitAll.
	BackendFailure
	// CollectiveFailure is fatal to the entire process group that issued
	// the collective operation.
	CollectiveFailure
	// PlannerInfeasible means no contraction plan could be produced (e.g.
	// a disconnected or malformed network).
	PlannerInfeasible
)

func (k ErrorKind) String() string {
	switch k {
	case UserContractViolation:
		return "user_contract_violation"
	case ResourceExhaustion:
		return "resource_exhaustion"
	case BackendFailure:
		return "backend_failure"
	case CollectiveFailure:
		return "collective_failure"
	case PlannerInfeasible:
		return "planner_infeasible"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// EngineError is the sum type every engine-originated error wraps,
// carrying its kind alongside the underlying cause.
type EngineError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *EngineError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("engine: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("engine: %s: %v", e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is reports equality by Kind, so errors.Is(err, &EngineError{Kind: X})
// style checks work without matching the wrapped cause.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind ErrorKind, op string, err error) *EngineError {
	return &EngineError{Kind: kind, Op: op, Err: err}
}

// RetryOnceAfterGC reports whether the error is a ResourceExhaustion the
// caller should retry once after forcing a garbage-collection pass.
func RetryOnceAfterGC(err error) bool {
	var ee *EngineError
	if e, ok := err.(*EngineError); ok {
		ee = e
	}
	return ee != nil && ee.Kind == ResourceExhaustion
}
