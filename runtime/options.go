// Package runtime implements the workflow scheduler and the run facade
// the external surface consumes: StartRun, GetRun, StreamEvents,
// CancelRun, ResolveApproval. The concurrency mechanism is the bounded
// Frontier/WorkItem machinery from package graph; level computation comes
// from blueprint's dependency graph.
package runtime

import (
	"encoding/json"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/budget"
)

// FailurePolicy selects how the scheduler routes node failures.
type FailurePolicy string

const (
	// Halt cancels the run on the first fatal failure.
	Halt FailurePolicy = "HALT"
	// ContinuePossible (the default) skips dependents of failed nodes and
	// keeps running independent branches.
	ContinuePossible FailurePolicy = "CONTINUE_POSSIBLE"
	// Always never stops scheduling; failures are recorded and dependents
	// still skipped, but nothing else halts.
	Always FailurePolicy = "ALWAYS"
)

// Identity carries the caller identity fields stamped into the RunContext.
// Authentication itself is out of scope; the core assumes identity is
// passed in.
type Identity struct {
	OrgID     string
	UserID    string
	SessionID string
}

// RunOptions tune one run.
type RunOptions struct {
	MaxParallel   int
	FailurePolicy FailurePolicy
	// Budget, if non-zero, overrides the runtime's configured limits.
	Budget *budget.Limits
}

// WorkflowResult aggregates a completed run.
type WorkflowResult struct {
	Success     bool                                     `json:"success"`
	Status      blueprint.RunStatus                      `json:"status"`
	Outputs     map[string]json.RawMessage               `json:"outputs"`
	NodeResults map[string]blueprint.NodeExecutionResult `json:"node_results"`
	Budget      blueprint.BudgetState                    `json:"budget"`
	FailedNodes []string                                 `json:"failed_nodes,omitempty"`
}
