// Package engine is the numerical server facade: an Engine value (not a
// process-wide singleton, so multiple engines can coexist in the same
// process for testing or multi-tenant use) that owns a space registry, an
// operation DAG, a lazy executor, a plan cache, and a default process
// group, and exposes the client API's evaluate/replicate/broadcast
// operations plus the reconstructor and quantum-register conveniences.
package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/exanet/tnengine/backend"
	"github.com/exanet/tnengine/config"
	"github.com/exanet/tnengine/executor"
	"github.com/exanet/tnengine/network"
	"github.com/exanet/tnengine/opdag"
	"github.com/exanet/tnengine/planner"
	"github.com/exanet/tnengine/process"
	"github.com/exanet/tnengine/space"
	"github.com/exanet/tnengine/tensor"
)

// Options configures a new Engine, following the teacher's
// EngineOptions/DefaultEngineOptions pattern.
type Options struct {
	Config       config.Config
	DefaultGroup *process.Group
}

// DefaultOptions returns an Options value built from config.DefaultConfig
// and the process package's default group.
func DefaultOptions() Options {
	return Options{Config: config.DefaultConfig(), DefaultGroup: process.DefaultGroup()}
}

// Stats is a defensive-copy snapshot of engine-wide execution counters,
// matching the teacher's ExecutionStats pattern.
type Stats struct {
	NetworksEvaluated uint64
	TotalFlops        uint64
	PlanCacheHits     int64
	PlanCacheMisses   int64
}

// Engine is the numerical server value.
type Engine struct {
	cfg     config.Config
	logger  *zap.SugaredLogger
	spaces  *space.Registry
	dag     *opdag.DAG
	store   executor.OperandStore
	backend backend.NodeExecutor
	planCache *planner.Cache
	diskCache *planner.DiskCache
	noCache   bool
	netQueue  *executor.NetworkQueue
	group     *process.Group

	replication map[string]*process.ReplicationState

	networksEvaluated uint64
}

// New constructs an Engine from Options.
func New(opts Options) (*Engine, error) {
	logger, err := config.NewLogger(opts.Config)
	if err != nil {
		return nil, newErr(UserContractViolation, "New", err)
	}

	var b backend.NodeExecutor
	switch opts.Config.Backend {
	case config.BackendCuQuantum:
		b = backend.NewCuQuantumBackend()
	default:
		b = backend.NewHostBackend()
	}

	group := opts.DefaultGroup
	if group == nil {
		group = process.DefaultGroup()
	}

	e := &Engine{
		cfg:         opts.Config,
		logger:      logger,
		spaces:      space.New(),
		dag:         opdag.New(),
		store:       executor.NewMapOperandStore(),
		backend:     b,
		planCache:   planner.NewCache(),
		netQueue:    executor.NewNetworkQueue(executor.DefaultNetworkQueueDepth),
		group:       group,
		replication: make(map[string]*process.ReplicationState),
	}
	e.logger.Debugw("engine constructed", "backend", b.Name(), "pipeline_depth", b.PipelineDepth())

	switch opts.Config.CacheMode {
	case config.CacheModeDisk:
		if opts.Config.CachePath != "" {
			dc, err := planner.OpenDiskCache(opts.Config.CachePath)
			if err != nil {
				return nil, newErr(BackendFailure, "New", err)
			}
			e.diskCache = dc
			e.planCache = dc.Cache
		}
	}
	return e, nil
}

// Spaces exposes the engine's space registry.
func (e *Engine) Spaces() *space.Registry { return e.spaces }

// DAG exposes the engine's operation DAG (primarily for tests and CLI
// introspection).
func (e *Engine) DAG() *opdag.DAG { return e.dag }

// Group returns the engine's default process group.
func (e *Engine) Group() *process.Group { return e.group }

// replicationFor returns (creating it if necessary) the replication
// bookkeeping tracked for a tensor name.
func (e *Engine) replicationFor(name string) *process.ReplicationState {
	rs, ok := e.replication[name]
	if !ok {
		rs = process.NewReplicationState(name)
		e.replication[name] = rs
	}
	return rs
}

// SetBackend swaps the engine's node executor at runtime (config toggle
// "default"/"cuquantum"). Already-appended DAG nodes are unaffected; the
// new backend takes effect on the next runPendingSync.
func (e *Engine) SetBackend(b config.Backend) {
	e.cfg.Backend = b
	switch b {
	case config.BackendCuQuantum:
		e.backend = backend.NewCuQuantumBackend()
	default:
		e.backend = backend.NewHostBackend()
	}
}

// SetPlannerAlgorithm changes which contraction planner algorithm future
// EvaluateNetworkSync/Async calls use.
func (e *Engine) SetPlannerAlgorithm(name string) { e.cfg.Planner = config.PlannerAlgorithm(name) }

// SetMemoryCeilingLog2 sets (or, at zero, clears) the planner's memory
// ceiling in log2 space.
func (e *Engine) SetMemoryCeilingLog2(v float64) { e.cfg.MemoryCeilingLog2 = v }

// SetDryRun toggles whether EvaluateNetworkSync/Async skip real
// evaluation.
func (e *Engine) SetDryRun(v bool) { e.cfg.DryRun = v }

// SetFastMath toggles the fast-math config flag; the reference host
// backend does not itself branch on it (there is no relaxed-precision
// kernel variant to switch to without a BLAS dependency), but the flag is
// threaded through so a future backend can observe it via Config().
func (e *Engine) SetFastMath(v bool) { e.cfg.FastMath = v }

// Config returns a copy of the engine's current configuration.
func (e *Engine) Config() config.Config { return e.cfg }

// SetLogLevel adjusts the engine's logger verbosity at runtime.
func (e *Engine) SetLogLevel(lvl config.LogLevel) error {
	e.cfg.LogLevel = lvl
	logger, err := config.NewLogger(e.cfg)
	if err != nil {
		return newErr(UserContractViolation, "SetLogLevel", err)
	}
	e.logger = logger
	return nil
}

// SetPlanCacheMode switches between an in-memory plan cache ("memory"),
// disabling caching entirely ("off"), and a disk-persisted cache
// ("disk", loaded from and flushed to path).
func (e *Engine) SetPlanCacheMode(mode config.CacheMode, path string) error {
	switch mode {
	case config.CacheModeDisk:
		dc, err := planner.OpenDiskCache(path)
		if err != nil {
			return newErr(BackendFailure, "SetPlanCacheMode", err)
		}
		e.diskCache = dc
		e.planCache = dc.Cache
		e.cfg.CacheMode = mode
		e.cfg.CachePath = path
		e.noCache = false
	case "off":
		e.noCache = true
	default:
		e.planCache = planner.NewCache()
		e.diskCache = nil
		e.cfg.CacheMode = config.CacheModeMemory
		e.noCache = false
	}
	return nil
}

// FlushPlanCache writes the current plan cache to disk, if the engine is
// configured with a disk-persisted cache; it is a no-op otherwise.
func (e *Engine) FlushPlanCache() error {
	if e.diskCache == nil {
		return nil
	}
	if err := e.diskCache.Flush(); err != nil {
		return newErr(BackendFailure, "FlushPlanCache", err)
	}
	return nil
}

// Stats returns a defensive copy of the engine's execution counters.
func (e *Engine) Stats() Stats {
	cacheStats := e.planCache.Stats()
	return Stats{
		NetworksEvaluated: e.networksEvaluated,
		TotalFlops:        e.backend.FlopCount(),
		PlanCacheHits:     cacheStats.Hits,
		PlanCacheMisses:   cacheStats.Misses,
	}
}

// plannerOptionsFromConfig maps the engine's configured planner name onto
// planner.Options, defaulting to Greed for unrecognized/empty names.
func plannerOptionsFromConfig(cfg config.Config) planner.Options {
	opts := planner.DefaultOptions()
	switch cfg.Planner {
	case "dummy":
		opts.Algorithm = planner.Dummy
	case "heuro":
		opts.Algorithm = planner.Heuro
	case "metis":
		opts.Algorithm = planner.Metis
	default:
		opts.Algorithm = planner.Greed
	}
	if cfg.MemoryCeilingLog2 > 0 {
		opts.MemoryCeilingLog2 = cfg.MemoryCeilingLog2
	}
	return opts
}

// computePlan resolves net's contraction plan via the configured
// algorithm, honoring the noCache toggle set by SetPlanCacheMode("off")
// by bypassing the plan cache entirely.
func (e *Engine) computePlan(net *network.TensorNetwork) (*planner.Plan, error) {
	opts := plannerOptionsFromConfig(e.cfg)
	if e.noCache {
		return planner.Compute(net, opts)
	}
	return planner.ComputeCached(e.planCache, net, opts)
}

// EvaluateNetworkSync computes a contraction plan for net (via the
// engine's plan cache), emits the corresponding CONTRACT/CREATE/DESTROY
// operations onto the DAG, dispatches them through a LazyExecutor tuned
// to the engine's backend, and blocks until the network's output tensor
// is ready.
func (e *Engine) EvaluateNetworkSync(ctx context.Context, net *network.TensorNetwork) error {
	if err := net.Finalize(); err != nil {
		return newErr(UserContractViolation, "EvaluateNetworkSync", err)
	}

	if e.cfg.DryRun {
		e.logger.Infow("dry run: skipping evaluation")
		return nil
	}

	plan, err := e.computePlan(net)
	if err != nil {
		return newErr(PlannerInfeasible, "EvaluateNetworkSync", err)
	}

	e.emitPlan(net, plan)

	if err := e.runPendingSync(ctx); err != nil {
		return newErr(BackendFailure, "EvaluateNetworkSync", err)
	}

	e.aliasFinalResult(net, plan)
	e.networksEvaluated++
	return nil
}

// runPendingSync drains every currently pending DAG node (whether emitted
// by emitPlan or appended ad hoc by a client-API function such as
// EvaluateExpansionSync) through a fresh LazyExecutor tuned to the
// engine's backend, blocking until they all complete. Nodes already
// Complete are never reissued, so calling this repeatedly against the
// same long-lived DAG only ever drives the newest batch.
func (e *Engine) runPendingSync(ctx context.Context) error {
	return e.runPendingSyncGroup(ctx, e.group)
}

// runPendingSyncGroup is runPendingSync with an explicit process group
// override, used by the client API's collective operations (broadcast,
// all-reduce) to dispatch through a group other than the engine's
// default without mutating shared engine state.
func (e *Engine) runPendingSyncGroup(ctx context.Context, g *process.Group) error {
	opts := executor.OptionsForBackend(e.backend)
	opts.Group = g
	opts.Replication = e.replication
	exec := executor.New(e.dag, e.backend, e.store, opts)
	job := executor.NetworkJob{Run: func(ctx context.Context) error {
		return exec.Execute(ctx)
	}}
	return e.netQueue.Submit(ctx, job)
}

// finalResultKey returns the operand-store key holding a plan's final
// evaluated tensor: the last step's result vertex, or (for a network with
// no merge steps, i.e. a single input tensor wired straight to the
// output) that lone vertex's own key.
func finalResultKey(plan *planner.Plan, net *network.TensorNetwork) string {
	if len(plan.Steps) > 0 {
		return fmt.Sprintf("v%d", plan.Steps[len(plan.Steps)-1].Result)
	}
	for _, id := range net.VertexIDs() {
		if id != network.OutputVertexID {
			return fmt.Sprintf("v%d", id)
		}
	}
	return ""
}

// aliasFinalResult copies the store entry for a plan's final result under
// the network's output tensor name as well, so later client-API calls can
// retrieve an evaluated network's answer by the human-readable name the
// caller gave it instead of the internal "v<vertexID>" plan convention.
func (e *Engine) aliasFinalResult(net *network.TensorNetwork, plan *planner.Plan) {
	key := finalResultKey(plan, net)
	if key == "" {
		return
	}
	buf, ok := e.store.Load(key)
	if !ok {
		return
	}
	out, err := net.Vertex(network.OutputVertexID)
	if err != nil {
		return
	}
	if out.TensorName != key {
		e.store.Store(out.TensorName, buf)
	}
}

// NetworkResult returns the buffer holding net's evaluated output tensor,
// looked up by the output vertex's tensor name (populated by
// aliasFinalResult after a successful EvaluateNetworkSync).
func (e *Engine) NetworkResult(net *network.TensorNetwork) (*backend.Buffer, bool) {
	out, err := net.Vertex(network.OutputVertexID)
	if err != nil {
		return nil, false
	}
	return e.store.Load(out.TensorName)
}

// EvaluateNetworkAsync starts evaluation and returns immediately with the
// ids of the DAG nodes it appended; callers Await them (or AwaitAll) to
// block for completion.
func (e *Engine) EvaluateNetworkAsync(net *network.TensorNetwork) ([]uint64, error) {
	if err := net.Finalize(); err != nil {
		return nil, newErr(UserContractViolation, "EvaluateNetworkAsync", err)
	}
	plan, err := e.computePlan(net)
	if err != nil {
		return nil, newErr(PlannerInfeasible, "EvaluateNetworkAsync", err)
	}
	ids := e.emitPlan(net, plan)
	go func() { _ = e.runPendingSync(context.Background()) }()
	e.networksEvaluated++
	return ids, nil
}

// emitPlan walks a Plan's merge steps and appends a CREATE for the
// intermediate, a CONTRACT reading the two operands and writing the
// intermediate, and — once an intermediate has been read for the last
// time by a later step — a DESTROY of it, so that no evaluated network
// leaks its scratch intermediates for the engine's lifetime. The plan's
// final result is never destroyed here: it is the network's answer and
// outlives this call. Original (non-intermediate) operands, i.e. leaves
// of the network that the caller uploaded rather than a prior step's
// Result, are never destroyed: they are the caller's to manage.
//
// net is replayed step by step (on a private clone) in lockstep with the
// plan: TensorNetwork.Merge assigns new vertex ids from the same counter
// the planner's own clone used, so replaying the identical merge sequence
// reproduces each step's Result id and, more importantly, its actual leg
// adjacency — which legs of A and B are the ones being contracted away,
// and what shape the merged intermediate ends up with. Those are threaded
// into the CONTRACT node's backend.ContractPayload and used to
// pre-allocate the intermediate's buffer at its real shape, rather than
// leaving the executor to lazily size it as a volume-1 buffer. It returns
// the ids of the CONTRACT nodes.
func (e *Engine) emitPlan(net *network.TensorNetwork, plan *planner.Plan) []uint64 {
	var contractIDs []uint64

	producedByPlan := map[int]bool{}
	for _, s := range plan.Steps {
		producedByPlan[s.Result] = true
	}
	lastUse := map[int]int{}
	for idx, s := range plan.Steps {
		lastUse[s.A] = idx
		lastUse[s.B] = idx
	}
	finalResult := -1
	if len(plan.Steps) > 0 {
		finalResult = plan.Steps[len(plan.Steps)-1].Result
	}

	work := net.Clone()

	for idx, s := range plan.Steps {
		a := fmt.Sprintf("v%d", s.A)
		b := fmt.Sprintf("v%d", s.B)
		out := fmt.Sprintf("v%d", s.Result)

		var sharedDimsA, sharedDimsB []int
		if va, err := work.Vertex(s.A); err == nil {
			for dim, l := range va.Legs {
				if l.AdjVertex == s.B {
					sharedDimsA = append(sharedDimsA, dim)
				}
			}
		}
		if vb, err := work.Vertex(s.B); err == nil {
			for dim, l := range vb.Legs {
				if l.AdjVertex == s.A {
					sharedDimsB = append(sharedDimsB, dim)
				}
			}
		}

		var resultShape tensor.Shape
		if mergedID, err := work.Merge(s.A, s.B); err == nil {
			if mv, verr := work.Vertex(mergedID); verr == nil {
				resultShape = mv.Shape
			}
		}
		e.store.Store(out, backend.NewBuffer(resultShape))

		e.dag.Append(opdag.CREATE, nil, []string{out}, nil)
		id := e.dag.Append(opdag.CONTRACT, []string{a, b}, []string{out}, backend.ContractPayload{
			SharedDimsA: sharedDimsA,
			SharedDimsB: sharedDimsB,
		})
		contractIDs = append(contractIDs, id)

		for _, operand := range [2]int{s.A, s.B} {
			if operand == finalResult || !producedByPlan[operand] {
				continue
			}
			if lastUse[operand] != idx {
				continue
			}
			e.dag.Append(opdag.DESTROY, []string{fmt.Sprintf("v%d", operand)}, nil, nil)
		}
	}
	return contractIDs
}

// Await blocks on the given DAG node ids (as returned by
// EvaluateNetworkAsync), returning the first error.
func (e *Engine) Await(ids []uint64) error {
	if err := e.dag.AwaitAll(ids); err != nil {
		return newErr(BackendFailure, "Await", err)
	}
	return nil
}

// AwaitTensor blocks until the DAG node that most recently wrote key has
// finished, without the caller needing to have kept that node's id
// around — the tensor-identity counterpart to Await's node-id form.
func (e *Engine) AwaitTensor(key string) error {
	if err := e.dag.AwaitTensor(key); err != nil {
		return newErr(BackendFailure, "AwaitTensor", err)
	}
	return nil
}
