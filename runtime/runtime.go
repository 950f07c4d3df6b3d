package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/budget"
	"github.com/stef-writes/iceOS-sub005/graph"
	"github.com/stef-writes/iceOS-sub005/graph/emit"
	"github.com/stef-writes/iceOS-sub005/graph/store"
	"github.com/stef-writes/iceOS-sub005/registry"
)

// DefaultMaxParallel is the scheduler's worker-pool size when neither the
// runtime options nor the run options override it.
const DefaultMaxParallel = 5

// Options configure a Runtime. Zero values select in-memory stores, a null
// emitter, and production-mode behavior.
type Options struct {
	Emitter        emit.Emitter
	ExecStore      ExecutionStore
	BlueprintStore BlueprintStore
	// StateStore persists per-step RunContext snapshots for resume and
	// audit; any graph/store backing (memory, sqlite, mysql) works.
	StateStore store.Store[*blueprint.RunContext]
	Metrics    *graph.PrometheusMetrics

	MaxParallel   int
	DefaultBudget budget.Limits
	// DevelopmentMode enables the human-node auto-approval stub and is the
	// mode under which budget fail-open is honored; outside it a FailOpen
	// budget limit is ignored and caps fail closed.
	DevelopmentMode bool
}

// Runtime is the single value holding registry, stores, and config,
// constructed at startup and passed explicitly into the scheduler — the
// replacement for process-global mutable state called out in the redesign
// notes.
type Runtime struct {
	reg  *registry.Registry
	opts Options

	mu   sync.Mutex
	runs map[string]*run
}

// New builds a Runtime. reg must already hold the built-in executors and
// any manifest-registered factories.
func New(reg *registry.Registry, opts Options) *Runtime {
	if opts.Emitter == nil {
		opts.Emitter = &emit.NullEmitter{}
	}
	if opts.ExecStore == nil {
		opts.ExecStore = NewMemExecutionStore()
	}
	if opts.BlueprintStore == nil {
		opts.BlueprintStore = NewMemBlueprintStore()
	}
	if opts.StateStore == nil {
		opts.StateStore = store.NewMemStore[*blueprint.RunContext]()
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	return &Runtime{reg: reg, opts: opts, runs: make(map[string]*run)}
}

// Registry returns the process-wide registry.
func (rt *Runtime) Registry() *registry.Registry { return rt.reg }

// Blueprints returns the blueprint store.
func (rt *Runtime) Blueprints() BlueprintStore { return rt.opts.BlueprintStore }

// Executions returns the execution store.
func (rt *Runtime) Executions() ExecutionStore { return rt.opts.ExecStore }

// StartRun validates b, creates the durable run record, and launches the
// scheduler in the background, returning the run id immediately. Validation
// and registry errors surface here; no run is created for an invalid
// blueprint.
func (rt *Runtime) StartRun(ctx context.Context, b *blueprint.Blueprint, inputs []byte, identity Identity, opts RunOptions) (string, error) {
	if err := blueprint.Validate(b, blueprint.ValidateOptions{Registry: rt.reg}); err != nil {
		return "", err
	}

	runID := uuid.NewString()
	now := time.Now().UnixMilli()
	exec := blueprint.Execution{
		ID:          runID,
		BlueprintID: b.ID,
		Status:      blueprint.StatusPending,
		StartedAt:   &now,
		OrgID:       identity.OrgID,
	}
	if err := rt.opts.ExecStore.CreateRun(ctx, exec); err != nil {
		return "", err
	}

	r := rt.newRun(runID, b, inputs, identity, opts)
	rt.mu.Lock()
	rt.runs[runID] = r
	rt.mu.Unlock()

	go r.drive()
	return runID, nil
}

// RunStatusInfo is GetRun's answer: the durable execution record plus the
// aggregated result once the run has finished.
type RunStatusInfo struct {
	Execution blueprint.Execution
	Result    *WorkflowResult
}

// GetRun reports a run's status and, when finished, its result.
func (rt *Runtime) GetRun(ctx context.Context, runID string) (RunStatusInfo, error) {
	exec, err := rt.opts.ExecStore.GetRun(ctx, runID)
	if err != nil {
		return RunStatusInfo{}, err
	}
	info := RunStatusInfo{Execution: exec}
	rt.mu.Lock()
	r := rt.runs[runID]
	rt.mu.Unlock()
	if r != nil {
		select {
		case <-r.done:
			info.Result = r.result
		default:
		}
	}
	return info, nil
}

// Wait blocks until the run finishes (or ctx expires) and returns its
// aggregated result.
func (rt *Runtime) Wait(ctx context.Context, runID string) (*WorkflowResult, error) {
	rt.mu.Lock()
	r := rt.runs[runID]
	rt.mu.Unlock()
	if r == nil {
		return nil, store.ErrNotFound
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return r.result, nil
	}
}

// StreamEvents returns the run's ordered event log from fromSeq onward.
// Events carry a per-run monotonic sequence in their Step field; the
// terminal RunCompleted/RunFailed/RunCanceled event is always last.
func (rt *Runtime) StreamEvents(ctx context.Context, runID string, fromSeq int) ([]emit.Event, error) {
	return rt.opts.ExecStore.ReadEvents(ctx, runID, fromSeq)
}

// CancelRun flips the run's cancel token. In-flight nodes resolve to
// Canceled at their next await point; the run ends with canceled status.
func (rt *Runtime) CancelRun(runID string) error {
	rt.mu.Lock()
	r := rt.runs[runID]
	rt.mu.Unlock()
	if r == nil {
		return store.ErrNotFound
	}
	r.requestCancel()
	return nil
}

// ResolveApproval delivers a human-node approve/reject for a parked node.
func (rt *Runtime) ResolveApproval(runID, nodeID string, approve bool) error {
	rt.mu.Lock()
	r := rt.runs[runID]
	rt.mu.Unlock()
	if r == nil {
		return store.ErrNotFound
	}
	if !r.approvals.resolve(nodeID, approve) {
		return fmt.Errorf("no pending approval for node %q in run %q", nodeID, runID)
	}
	return nil
}
