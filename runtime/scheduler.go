package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/budget"
	"github.com/stef-writes/iceOS-sub005/executor"
	"github.com/stef-writes/iceOS-sub005/graph"
	"github.com/stef-writes/iceOS-sub005/graph/emit"
	"github.com/stef-writes/iceOS-sub005/memstore"
	"github.com/stef-writes/iceOS-sub005/registry"
)

// run is one scheduled execution. It implements registry.Runtime, the
// facade handed to executors, so nested constructs (loop, parallel,
// workflow, condition inline paths) re-enter the same scheduler via
// RunSubgraph.
type run struct {
	rt       *Runtime
	id       string
	bp       *blueprint.Blueprint
	topo     string
	execCtx  *blueprint.RunContext
	cache    executor.Cache
	enforcer *budget.Enforcer
	opts     RunOptions

	nodeIndex map[string]blueprint.NodeSpec
	approvals *approvalHub

	ctx       context.Context
	cancel    context.CancelFunc
	canceled  atomic.Bool
	seq       atomic.Int64
	stepCount atomic.Int64
	warnOnce  sync.Once

	mu      sync.Mutex
	results map[string]blueprint.NodeExecutionResult

	done   chan struct{}
	result *WorkflowResult
}

func (rt *Runtime) newRun(runID string, b *blueprint.Blueprint, inputs []byte, identity Identity, opts RunOptions) *run {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = rt.opts.MaxParallel
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = ContinuePossible
	}
	limits := rt.opts.DefaultBudget
	if opts.Budget != nil {
		limits = *opts.Budget
	}
	if !rt.opts.DevelopmentMode {
		limits.FailOpen = false
	}

	idx := make(map[string]blueprint.NodeSpec, len(b.Nodes))
	for _, n := range b.Nodes {
		idx[n.ID] = n
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &run{
		rt:        rt,
		id:        runID,
		bp:        b,
		topo:      blueprint.TopologyHash(b),
		execCtx:   blueprint.NewRunContext(inputs, identity.OrgID, identity.UserID, identity.SessionID),
		cache:     executor.NewMemCache(),
		enforcer:  budget.New(runID, limits),
		opts:      opts,
		nodeIndex: idx,
		approvals: newApprovalHub(),
		ctx:       ctx,
		cancel:    cancel,
		results:   make(map[string]blueprint.NodeExecutionResult),
		done:      make(chan struct{}),
	}
}

// drive runs the blueprint to completion and settles the durable record.
func (r *run) drive() {
	defer close(r.done)

	_ = r.rt.opts.ExecStore.UpdateStatus(r.ctx, r.id, blueprint.StatusRunning, nil, nil)
	r.Emit(blueprint.NewEvent(r.id, blueprint.EventRunStarted, "", map[string]interface{}{
		"blueprint_id": r.bp.ID,
	}))

	sub, err := r.execute(r.ctx, r.bp.Nodes, r.execCtx, r.opts.MaxParallel)

	state := r.enforcer.Status()
	cost := &blueprint.CostMeta{TotalCostUSD: state.TotalCostUSD, LLMCalls: state.LLMCalls, ToolExecs: state.ToolExecs}
	now := time.Now().UnixMilli()

	res := &WorkflowResult{
		Outputs:     make(map[string]json.RawMessage),
		NodeResults: make(map[string]blueprint.NodeExecutionResult),
		Budget:      state,
	}
	r.mu.Lock()
	for id, nr := range r.results {
		res.NodeResults[id] = nr
		if !nr.Success && nr.ErrorType != string(blueprint.ErrKindCanceled) {
			res.FailedNodes = append(res.FailedNodes, id)
		}
	}
	r.mu.Unlock()
	for id := range res.NodeResults {
		if out, ok := r.execCtx.GetOutput(id); ok {
			res.Outputs[id] = out
		}
	}

	switch {
	case r.canceled.Load():
		res.Status = blueprint.StatusCanceled
		r.Emit(blueprint.NewEvent(r.id, blueprint.EventRunCanceled, "", nil))
	case err != nil || sub == nil || !sub.Success:
		res.Status = blueprint.StatusFailed
		meta := map[string]interface{}{"failed_nodes": res.FailedNodes}
		if err != nil {
			meta["error"] = err.Error()
		}
		r.Emit(blueprint.NewEvent(r.id, blueprint.EventRunFailed, "", meta))
	default:
		res.Success = true
		res.Status = blueprint.StatusCompleted
		r.Emit(blueprint.NewEvent(r.id, blueprint.EventRunCompleted, "", map[string]interface{}{
			"cost_usd": state.TotalCostUSD,
		}))
	}

	_ = r.rt.opts.ExecStore.UpdateStatus(context.Background(), r.id, res.Status, &now, cost)
	r.result = res
}

// execute runs nodes (a whole blueprint or a nested sub-graph) level by
// level with bounded parallelism. The Frontier supplies the worker queue
// with deterministic OrderKey dispatch; branch gating and failure routing
// happen between levels.
func (r *run) execute(ctx context.Context, nodes []blueprint.NodeSpec, execCtx *blueprint.RunContext, maxParallel int) (*registry.SubgraphResult, error) {
	if maxParallel <= 0 {
		maxParallel = r.opts.MaxParallel
	}

	sub := &blueprint.Blueprint{ID: r.bp.ID, SchemaVersion: r.bp.SchemaVersion, Nodes: nodes, UseCacheDefault: r.bp.UseCacheDefault}
	g := blueprint.DependencyGraph(sub)
	levels := g.Levels()
	gating := NewBranchGatingResolver(nodes, g)

	byID := make(map[string]blueprint.NodeSpec, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	local := make(map[string]blueprint.NodeExecutionResult, len(nodes))
	// fatal tracks node ids whose failure poisons dependents; skipped
	// branch-gated nodes are excluded (not executed, not failed).
	fatal := make(map[string]bool)
	halted := false

	for _, level := range levels {
		if halted || ctx.Err() != nil {
			break
		}

		var ready []blueprint.NodeSpec
		for _, id := range level {
			node := byID[id]
			if !gating.Active(id) {
				continue
			}
			if upstream := r.failedDependency(g, id, fatal); upstream != "" {
				res := blueprint.NodeExecutionResult{
					Success:   false,
					Error:     fmt.Sprintf("upstream node %q failed", upstream),
					ErrorType: string(blueprint.ErrKindCanceled),
				}
				local[id] = res
				fatal[id] = true
				r.Emit(blueprint.NewEvent(r.id, blueprint.EventNodeFailed, id, map[string]interface{}{
					"reason":   "UpstreamFailed",
					"upstream": upstream,
				}))
				continue
			}
			ready = append(ready, node)
		}
		if len(ready) == 0 {
			continue
		}

		completed := r.runLevel(ctx, ready, execCtx, maxParallel)
		for id, res := range completed {
			local[id] = res
			node := byID[id]
			if res.Success && node.Type == blueprint.NodeCondition {
				gating.Record(id, conditionDecision(res.Output))
			}
			if !res.Success {
				fatal[id] = true
				if r.opts.FailurePolicy == Halt {
					// Stop scheduling and cancel in-flight work, but leave
					// the run-level canceled flag alone: a HALT stop ends
					// the run as failed, not canceled.
					halted = true
					r.cancel()
				}
			}
		}
	}

	result := &registry.SubgraphResult{
		Success:     true,
		NodeResults: local,
		Outputs:     make(map[string]interface{}, len(local)),
	}
	for id, res := range local {
		if !res.Success {
			result.Success = false
			continue
		}
		var v interface{}
		if err := json.Unmarshal(res.Output, &v); err == nil {
			result.Outputs[id] = v
		}
	}
	r.recordResults(local)
	return result, ctx.Err()
}

// runLevel executes one level's ready nodes through the Frontier-backed
// worker pool and returns their results.
func (r *run) runLevel(ctx context.Context, ready []blueprint.NodeSpec, execCtx *blueprint.RunContext, maxParallel int) map[string]blueprint.NodeExecutionResult {
	type completion struct {
		id  string
		res blueprint.NodeExecutionResult
	}

	levelCtx, cancelLevel := context.WithCancel(ctx)
	defer cancelLevel()

	frontier := graph.NewFrontier[*blueprint.RunContext](levelCtx, maxParallel)
	completions := make(chan completion, len(ready))

	workers := maxParallel
	if len(ready) < workers {
		workers = len(ready)
	}
	for w := 0; w < workers; w++ {
		go func() {
			for {
				item, err := frontier.Dequeue(levelCtx)
				if err != nil {
					return
				}
				node := r.nodeFor(ready, item.NodeID)
				completions <- completion{id: item.NodeID, res: r.execNode(levelCtx, node, execCtx)}
			}
		}()
	}

	go func() {
		for i, node := range ready {
			item := graph.WorkItem[*blueprint.RunContext]{
				StepID:   int(r.stepCount.Add(1)),
				OrderKey: graph.ComputeOrderKey(node.ID, i),
				NodeID:   node.ID,
				State:    execCtx,
			}
			if err := frontier.Enqueue(levelCtx, item); err != nil {
				completions <- completion{id: node.ID, res: blueprint.NodeExecutionResult{
					Success:   false,
					Error:     err.Error(),
					ErrorType: string(blueprint.ErrKindCanceled),
				}}
			}
		}
	}()

	if r.rt.opts.Metrics != nil {
		r.rt.opts.Metrics.UpdateInflightNodes(workers)
		r.rt.opts.Metrics.UpdateQueueDepth(frontier.Len())
	}

	results := make(map[string]blueprint.NodeExecutionResult, len(ready))
	for range ready {
		c := <-completions
		results[c.id] = c.res
		if r.rt.opts.Metrics != nil {
			status := "success"
			if !c.res.Success {
				status = "failure"
			}
			r.rt.opts.Metrics.RecordStepLatency(r.id, c.id, time.Duration(c.res.Metadata.DurationMS)*time.Millisecond, status)
		}
	}
	if r.rt.opts.Metrics != nil {
		r.rt.opts.Metrics.UpdateInflightNodes(0)
	}
	return results
}

// execNode runs one node's full lifecycle and persists a state snapshot on
// success.
func (r *run) execNode(ctx context.Context, node blueprint.NodeSpec, execCtx *blueprint.RunContext) blueprint.NodeExecutionResult {
	if ctx.Err() != nil {
		return blueprint.NodeExecutionResult{Success: false, Error: ctx.Err().Error(), ErrorType: string(blueprint.ErrKindCanceled)}
	}
	r.Emit(blueprint.NewEvent(r.id, blueprint.EventNodeStarted, node.ID, map[string]interface{}{
		"type": string(node.Type),
	}))

	res := executor.Run(ctx, r, r.topo, node, execCtx, r.cache, r.bp.UseCacheDefault)

	if res.Success {
		// Snapshot under the context's lock: sibling workers may still be
		// committing their own outputs while this serializes.
		step := int(r.stepCount.Add(1))
		_ = r.rt.opts.StateStore.SaveStep(ctx, r.id, step, node.ID, execCtx.Clone())
	}
	return res
}

func (r *run) nodeFor(ready []blueprint.NodeSpec, id string) blueprint.NodeSpec {
	for _, n := range ready {
		if n.ID == id {
			return n
		}
	}
	return blueprint.NodeSpec{ID: id}
}

func (r *run) failedDependency(g *blueprint.Graph, id string, fatal map[string]bool) string {
	for _, dep := range g.Dependencies(id) {
		if fatal[dep] {
			return dep
		}
	}
	return ""
}

func (r *run) recordResults(local map[string]blueprint.NodeExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, res := range local {
		if _, exists := r.results[id]; !exists {
			r.results[id] = res
		}
	}
}

func (r *run) requestCancel() {
	r.canceled.Store(true)
	r.cancel()
}

// conditionDecision reads the boolean decision out of a condition node's
// output payload.
func conditionDecision(out json.RawMessage) bool {
	return gjson.GetBytes(out, "result").Bool()
}

// --- registry.Runtime facade ---

// Registry returns the process-wide registry.
func (r *run) Registry() *registry.Registry { return r.rt.reg }

// RunID returns the run's identifier.
func (r *run) RunID() string { return r.id }

// Memory returns the configured MemoryStore capability.
func (r *run) Memory() memstore.MemoryStore { return r.rt.reg.Memory() }

// LookupNode resolves a node spec from the running blueprint.
func (r *run) LookupNode(id string) (blueprint.NodeSpec, bool) {
	n, ok := r.nodeIndex[id]
	return n, ok
}

// Emit assigns the run's next monotonic sequence number, durably appends
// the event, then forwards it to the configured emitter. The append is
// ack'd before Emit returns, so a NodeSucceeded observed by the scheduler
// implies its event is persisted.
func (r *run) Emit(event emit.Event) {
	event.Step = int(r.seq.Add(1))
	if event.RunID == "" {
		event.RunID = r.id
	}
	_ = r.rt.opts.ExecStore.AppendEvent(context.Background(), r.id, event)
	r.rt.opts.Emitter.Emit(event)
}

// RunSubgraph re-enters the scheduler on a nested node list.
func (r *run) RunSubgraph(ctx context.Context, nodes []blueprint.NodeSpec, execCtx *blueprint.RunContext, maxParallel int) (*registry.SubgraphResult, error) {
	return r.execute(ctx, nodes, execCtx, maxParallel)
}

// RegisterLLMCall charges one LLM invocation against the run budget and,
// when the charge is accepted, emits the run's single BudgetWarning once any
// counter reaches 80% of its cap (see maybeWarnBudget).
func (r *run) RegisterLLMCall(model string, promptTokens, completionTokens int, nodeID string) (float64, error) {
	cost, err := r.enforcer.RegisterLLMCall(model, promptTokens, completionTokens, nodeID)
	if err != nil {
		return cost, err
	}
	r.maybeWarnBudget()
	return cost, nil
}

// RegisterToolExec charges one tool invocation against the run budget.
func (r *run) RegisterToolExec() error {
	if err := r.enforcer.RegisterToolExec(); err != nil {
		return err
	}
	r.maybeWarnBudget()
	return nil
}

// AwaitApproval parks a human node until resolution. Development mode
// resolves immediately via the auto-approval stub.
func (r *run) AwaitApproval(ctx context.Context, nodeID, prompt string, timeoutMS int) (bool, error) {
	if r.rt.opts.DevelopmentMode {
		return true, nil
	}
	return r.approvals.wait(ctx, nodeID, timeoutMS)
}

// maybeWarnBudget emits a single BudgetWarning when any counter reaches 80%
// of its cap.
func (r *run) maybeWarnBudget() {
	limits := r.rt.opts.DefaultBudget
	if r.opts.Budget != nil {
		limits = *r.opts.Budget
	}
	st := r.enforcer.Status()
	warn := false
	if limits.MaxLLMCalls > 0 && st.LLMCalls*5 >= limits.MaxLLMCalls*4 {
		warn = true
	}
	if limits.MaxToolExecutions > 0 && st.ToolExecs*5 >= limits.MaxToolExecutions*4 {
		warn = true
	}
	if limits.OrgBudgetUSD > 0 && st.TotalCostUSD >= 0.8*limits.OrgBudgetUSD {
		warn = true
	}
	if warn {
		r.warnOnce.Do(func() {
			r.Emit(blueprint.NewEvent(r.id, blueprint.EventBudgetWarning, "", map[string]interface{}{
				"llm_calls":      st.LLMCalls,
				"tool_execs":     st.ToolExecs,
				"total_cost_usd": st.TotalCostUSD,
			}))
		})
	}
}
