package engine

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/exanet/tnengine/backend"
	"github.com/exanet/tnengine/network"
)

// ConvergenceTrace is one iteration's diagnostics from Reconstructor.Iterate,
// following the original engine's practice of logging residual and
// per-tensor gradient norms every iteration rather than only a final
// result.
type ConvergenceTrace struct {
	Iteration    int
	Residual     float64
	GradientNorm float64
	StepSize     float64
}

// Reconstructor fits a variational ket network (the approximant) to a
// target ket expansion by steepest-descent minimization of the residual
// R = <X|X> + <Y|Y> - <Y|X> - <X|Y> = ||Y-X||^2, where Y is the
// approximant and X is the target expansion. The gradient used by Iterate
// only needs the Y-dependent terms of R (<X|X> is constant in Y), which
// is why gradientFor computes d<Y|Y>/dY*_v - sum_i c_i * d<Y|X_i>/dY*_v
// rather than differentiating all four terms. Unlike an elementwise
// buffer fit, both of the gradient's terms are evaluated as tensor-network contractions
// through the engine, and the gradient with respect to each free tensor is
// itself a tensor-network contraction (the "environment" of that tensor
// within <Y|Y> and each <Y|X_i> term), so an approximant whose bond
// dimension is smaller than the target's (e.g. an MPS truncation) is fit
// in its own compressed parameterization rather than requiring the shapes
// to match elementwise.
type Reconstructor struct {
	engine      *Engine
	target      *network.TensorExpansion
	approximant *network.TensorNetwork

	// free lists the approximant vertex ids being optimized, and data
	// holds every tensor's current numeric value keyed by tensor name
	// (shared across every copy of a vertex that Overlap/Environment
	// produce, since those construct fresh vertex ids per call).
	free []int
	data map[string]*backend.Buffer

	Tolerance float64
	MaxIters  int
	StepSize  float64
}

// NewReconstructor constructs a reconstructor. free names the approximant
// vertex ids whose data Iterate is allowed to update; every other vertex
// in approximant and every vertex in target's component networks must
// already have an entry in data (keyed by TensorName).
func NewReconstructor(e *Engine, target *network.TensorExpansion, approximant *network.TensorNetwork, free []int, data map[string]*backend.Buffer) *Reconstructor {
	return &Reconstructor{
		engine:      e,
		target:      target,
		approximant: approximant,
		free:        free,
		data:        data,
		Tolerance:   1e-6,
		MaxIters:    200,
		StepSize:    0.1,
	}
}

// Data returns the current buffer for a named tensor (e.g. to read back a
// converged free tensor once Iterate has finished).
func (r *Reconstructor) Data(name string) (*backend.Buffer, bool) {
	b, ok := r.data[name]
	return b, ok
}

// populate installs net's leaf-vertex data into the engine's operand
// store under net's own vertex-id keys, sourced from r.data by tensor
// name, and conjugating the value where the vertex's Conjugate flag is
// set (the reference backend does not itself interpret Vertex.Conjugate
// during contraction, so Reconstructor applies it when staging data).
func (r *Reconstructor) populate(net *network.TensorNetwork) error {
	for _, id := range net.VertexIDs() {
		if id == network.OutputVertexID {
			continue
		}
		v, err := net.Vertex(id)
		if err != nil {
			return err
		}
		src, ok := r.data[v.TensorName]
		if !ok {
			return fmt.Errorf("engine: reconstructor: no data for tensor %q", v.TensorName)
		}
		buf := backend.NewBuffer(src.Shape)
		copy(buf.Data, src.Data)
		if v.Conjugate {
			for i, x := range buf.Data {
				buf.Data[i] = cmplx.Conj(x)
			}
		}
		r.engine.store.Store(fmt.Sprintf("v%d", id), buf)
	}
	return nil
}

// evalScalar populates net's leaves and evaluates it, returning its
// (rank-0) result.
func (r *Reconstructor) evalScalar(ctx context.Context, net *network.TensorNetwork) (complex128, error) {
	if err := r.populate(net); err != nil {
		return 0, err
	}
	if err := r.engine.EvaluateNetworkSync(ctx, net); err != nil {
		return 0, err
	}
	buf, ok := r.engine.NetworkResult(net)
	if !ok || len(buf.Data) == 0 {
		return 0, fmt.Errorf("engine: reconstructor: no scalar result")
	}
	return buf.Data[0], nil
}

// gradientFor computes G_v = d<Y|Y>/dY*_v - sum_i c_i * d<Y|X_i>/dY*_v for
// the free vertex v (an id in r.approximant), returning it as a buffer
// shaped like v's tensor.
func (r *Reconstructor) gradientFor(ctx context.Context, v int) (*backend.Buffer, error) {
	yy, braMap, _, err := network.Overlap(r.approximant, r.approximant)
	if err != nil {
		return nil, err
	}
	env, err := network.Environment(yy, braMap[v])
	if err != nil {
		return nil, err
	}
	if err := r.populate(env); err != nil {
		return nil, err
	}
	if err := r.engine.EvaluateNetworkSync(ctx, env); err != nil {
		return nil, err
	}
	grad, ok := r.engine.NetworkResult(env)
	if !ok {
		return nil, fmt.Errorf("engine: reconstructor: no <Y|Y> environment result for vertex %d", v)
	}
	out := backend.NewBuffer(grad.Shape)
	copy(out.Data, grad.Data)

	for _, c := range r.target.Components {
		yx, braMapX, _, err := network.Overlap(r.approximant, c.Network)
		if err != nil {
			return nil, err
		}
		envX, err := network.Environment(yx, braMapX[v])
		if err != nil {
			return nil, err
		}
		if err := r.populate(envX); err != nil {
			return nil, err
		}
		if err := r.engine.EvaluateNetworkSync(ctx, envX); err != nil {
			return nil, err
		}
		termGrad, ok := r.engine.NetworkResult(envX)
		if !ok {
			return nil, fmt.Errorf("engine: reconstructor: no <Y|X> environment result for vertex %d", v)
		}
		for i := range out.Data {
			out.Data[i] -= c.Coefficient * termGrad.Data[i]
		}
	}
	return out, nil
}

// Residual evaluates R = <X|X> + <Y|Y> - <Y|X> - <X|Y> at the current
// free-tensor values — the true squared norm ||Y-X||^2, and therefore
// never negative. <X|Y> is not evaluated as a separate contraction: for a
// sesquilinear inner product <X|Y> = conj(<Y|X>), so R reduces to
// <X|X> + <Y|Y> - 2*Re(<Y|X>), which is what is computed below. <X|X> is
// evaluated as sum_ij conj(c_i)*c_j*<X_i|X_j> over the target's components.
func (r *Reconstructor) Residual(ctx context.Context) (float64, error) {
	yy, _, _, err := network.Overlap(r.approximant, r.approximant)
	if err != nil {
		return 0, err
	}
	yyVal, err := r.evalScalar(ctx, yy)
	if err != nil {
		return 0, err
	}

	var yx complex128
	for _, c := range r.target.Components {
		combined, _, _, err := network.Overlap(r.approximant, c.Network)
		if err != nil {
			return 0, err
		}
		v, err := r.evalScalar(ctx, combined)
		if err != nil {
			return 0, err
		}
		yx += c.Coefficient * v
	}
	var xx complex128
	for _, ci := range r.target.Components {
		for _, cj := range r.target.Components {
			xixj, _, _, err := network.Overlap(ci.Network, cj.Network)
			if err != nil {
				return 0, err
			}
			v, err := r.evalScalar(ctx, xixj)
			if err != nil {
				return 0, err
			}
			xx += cmplx.Conj(ci.Coefficient) * cj.Coefficient * v
		}
	}
	return real(xx) + real(yyVal) - 2*real(yx), nil
}

// Fidelity returns |<Y|X>|^2 / (<Y|Y> * <X|X>), clamped to [0,1] to absorb
// floating point overshoot at convergence.
func (r *Reconstructor) Fidelity(ctx context.Context) (float64, error) {
	yy, _, _, err := network.Overlap(r.approximant, r.approximant)
	if err != nil {
		return 0, err
	}
	yyVal, err := r.evalScalar(ctx, yy)
	if err != nil {
		return 0, err
	}

	var yx complex128
	for _, c := range r.target.Components {
		combined, _, _, err := network.Overlap(r.approximant, c.Network)
		if err != nil {
			return 0, err
		}
		v, err := r.evalScalar(ctx, combined)
		if err != nil {
			return 0, err
		}
		yx += c.Coefficient * v
	}

	var xxSum complex128
	for _, ci := range r.target.Components {
		for _, cj := range r.target.Components {
			xixj, _, _, err := network.Overlap(ci.Network, cj.Network)
			if err != nil {
				return 0, err
			}
			v, err := r.evalScalar(ctx, xixj)
			if err != nil {
				return 0, err
			}
			xxSum += cmplx.Conj(ci.Coefficient) * cj.Coefficient * v
		}
	}
	xx := real(xxSum)
	if real(yyVal) == 0 || xx == 0 {
		return 0, nil
	}
	f := (real(yx)*real(yx) + imag(yx)*imag(yx)) / (real(yyVal) * xx)
	if f > 1 {
		f = 1
	}
	if f < 0 {
		f = 0
	}
	return f, nil
}

// Iterate runs steepest descent on every free tensor simultaneously (a
// single synchronous sweep per iteration rather than an ALS-style
// sequential sweep, matching the original engine's plain gradient-descent
// reconstructor) until the largest gradient infinity-norm across all free
// tensors drops to or below Tolerance, or MaxIters is reached.
func (r *Reconstructor) Iterate(ctx context.Context) ([]ConvergenceTrace, error) {
	var trace []ConvergenceTrace
	for it := 0; it < r.MaxIters; it++ {
		grads := make(map[int]*backend.Buffer, len(r.free))
		gradInf := 0.0
		for _, v := range r.free {
			g, err := r.gradientFor(ctx, v)
			if err != nil {
				return trace, err
			}
			grads[v] = g
			for _, x := range g.Data {
				if mag := cmplx.Abs(x); mag > gradInf {
					gradInf = mag
				}
			}
		}

		residual, err := r.Residual(ctx)
		if err != nil {
			return trace, err
		}
		trace = append(trace, ConvergenceTrace{
			Iteration:    it,
			Residual:     math.Sqrt(residual),
			GradientNorm: gradInf,
			StepSize:     r.StepSize,
		})
		if gradInf <= r.Tolerance {
			break
		}

		for _, v := range r.free {
			vertex, err := r.approximant.Vertex(v)
			if err != nil {
				return trace, err
			}
			cur := r.data[vertex.TensorName]
			g := grads[v]
			for i := range cur.Data {
				cur.Data[i] -= complex(r.StepSize, 0) * g.Data[i]
			}
		}
	}
	return trace, nil
}
