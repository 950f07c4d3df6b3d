package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/registry"
)

// HumanExecutor emits HumanApprovalRequested and parks until the runtime
// delivers an approve/reject (ResolveApproval on the facade) or timeout_ms
// elapses. In development mode the runtime's auto-approval stub resolves
// immediately. Approval succeeds the node with {"approved": true}; a reject
// fails it with Canceled so dependents are skipped, a timeout with Timeout.
func HumanExecutor(ctx context.Context, rt registry.Runtime, node blueprint.NodeSpec, execCtx *blueprint.RunContext) blueprint.NodeExecutionResult {
	if node.Human == nil {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("human node %q: missing human spec", node.ID))
	}
	spec := node.Human

	rt.Emit(blueprint.NewEvent(rt.RunID(), blueprint.EventHumanApprovalRequested, node.ID, map[string]interface{}{
		"prompt": spec.PromptForApproval,
	}))

	timeoutMS := spec.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = node.TimeoutMS
	}

	approved, err := rt.AwaitApproval(ctx, node.ID, spec.PromptForApproval, timeoutMS)

	rt.Emit(blueprint.NewEvent(rt.RunID(), blueprint.EventHumanApprovalResolved, node.ID, map[string]interface{}{
		"approved": approved && err == nil,
	}))

	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, blueprint.ErrTimeout):
			return errResult(blueprint.ErrKindTimeout, fmt.Errorf("human node %q: approval timed out", node.ID))
		case ctx.Err() != nil:
			return errResult(blueprint.ErrKindCanceled, err)
		default:
			return errResult(blueprint.ErrKindInternal, err)
		}
	}
	if !approved {
		return errResult(blueprint.ErrKindCanceled, fmt.Errorf("human node %q: approval rejected", node.ID))
	}

	raw, _ := json.Marshal(map[string]interface{}{"approved": true})
	return blueprint.NodeExecutionResult{Success: true, Output: raw}
}
