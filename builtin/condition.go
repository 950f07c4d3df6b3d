package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/condition"
	"github.com/stef-writes/iceOS-sub005/registry"
)

// conditionEval is shared process-wide so compiled expressions are reused
// across runs.
var conditionEval = condition.NewEvaluator()

// ConditionExecutor evaluates the node's expression under the safe boolean
// DSL, emits a BranchDecision event, and — when the inline true_path /
// false_path form is used — runs the taken path's nodes in place against a
// snapshot of the context. The scheduler reads the "result" key of this
// node's output to drive branch gating of sibling nodes.
func ConditionExecutor(ctx context.Context, rt registry.Runtime, node blueprint.NodeSpec, execCtx *blueprint.RunContext) blueprint.NodeExecutionResult {
	if node.Condition == nil {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("condition node %q: missing condition spec", node.ID))
	}
	spec := node.Condition

	decision, err := conditionEval.Evaluate(spec.Expression, execCtx, node.Dependencies)
	if err != nil {
		return errResult(blueprint.ErrKindValidation, err)
	}

	rt.Emit(blueprint.NewEvent(rt.RunID(), blueprint.EventBranchDecision, node.ID, map[string]interface{}{
		"expression": spec.Expression,
		"decision":   decision,
	}))

	payload := map[string]interface{}{"result": decision}

	// Inline branch form: execute the taken path's nodes against a snapshot
	// and fold their outputs into this node's own output. The not-taken
	// path never starts.
	taken := spec.TruePath
	if !decision {
		taken = spec.FalsePath
	}
	if len(taken) > 0 {
		sub, err := rt.RunSubgraph(ctx, taken, execCtx.Clone(), 0)
		if err != nil {
			return errResult(blueprint.ErrKindInternal, err)
		}
		if !sub.Success {
			return errResult(blueprint.ErrKindInternal, fmt.Errorf("condition node %q: inline branch failed", node.ID))
		}
		payload["branch_outputs"] = sub.Outputs
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return errResult(blueprint.ErrKindInternal, err)
	}
	return blueprint.NodeExecutionResult{Success: true, Output: raw}
}
