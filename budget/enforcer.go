// Package budget enforces per-run caps on LLM calls, tool executions, and
// USD cost. Pricing tables and per-model cost computation come from
// graph.CostTracker; this package adds the counters and the
// fail-open/fail-closed policy around them.
package budget

import (
	"log/slog"
	"sync"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/graph"
)

// Limits are the caps configured for a run: max_llm_calls,
// max_tool_executions, org_budget_usd.
type Limits struct {
	MaxLLMCalls       int
	MaxToolExecutions int
	OrgBudgetUSD      float64
	// FailOpen selects dev-mode behavior: log and continue rather than
	// raise BudgetExceeded. Production always fails closed.
	FailOpen bool
}

// Enforcer is the mutable per-run counter guarded by Limits.
type Enforcer struct {
	mu     sync.Mutex
	costs  *graph.CostTracker
	limits Limits

	llmCalls  int
	toolExecs int
}

// New builds an Enforcer for one run, with a CostTracker doing per-model
// pricing lookups.
func New(runID string, limits Limits) *Enforcer {
	return &Enforcer{
		costs:  graph.NewCostTracker(runID, "USD"),
		limits: limits,
	}
}

// RegisterLLMCall records one LLM invocation's token usage, computes its
// cost, and enforces MaxLLMCalls/OrgBudgetUSD. Called around LLM dispatch.
func (e *Enforcer) RegisterLLMCall(model string, promptTokens, completionTokens int, nodeID string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.limits.MaxLLMCalls > 0 && e.llmCalls >= e.limits.MaxLLMCalls {
		return 0, e.violation(blueprint.ErrBudgetExceeded)
	}

	before := e.costs.GetTotalCost()
	// RecordLLMCall never errors: an unpriced model is recorded at zero
	// cost rather than rejected (graph/cost.go).
	_ = e.costs.RecordLLMCall(model, promptTokens, completionTokens, nodeID)
	delta := e.costs.GetTotalCost() - before
	e.llmCalls++

	if e.limits.OrgBudgetUSD > 0 && e.costs.GetTotalCost() > e.limits.OrgBudgetUSD {
		return delta, e.violation(blueprint.ErrBudgetExceeded)
	}
	return delta, nil
}

// RegisterToolExec records one tool invocation and enforces MaxToolExecutions.
func (e *Enforcer) RegisterToolExec() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.limits.MaxToolExecutions > 0 && e.toolExecs >= e.limits.MaxToolExecutions {
		return e.violation(blueprint.ErrBudgetExceeded)
	}
	e.toolExecs++
	return nil
}

// violation applies the fail_open/fail_closed policy: fail_open logs a
// warning through slog and continues (returns nil); fail_closed (the
// production default) returns a BudgetExceeded RunError.
func (e *Enforcer) violation(sentinel error) error {
	if e.limits.FailOpen {
		slog.Warn("budget limit exceeded; continuing (fail_open)", "err", sentinel)
		return nil
	}
	return blueprint.NewRunError(blueprint.ErrKindBudgetExceeded, "", sentinel)
}

// Status returns a snapshot of the run's budget accounting.
func (e *Enforcer) Status() blueprint.BudgetState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return blueprint.BudgetState{
		LLMCalls:     e.llmCalls,
		ToolExecs:    e.toolExecs,
		TotalCostUSD: e.costs.GetTotalCost(),
	}
}
