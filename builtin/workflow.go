package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/registry"
	"github.com/stef-writes/iceOS-sub005/resolver"
)

// WorkflowExecutor resolves a registered workflow by name and runs it as a
// nested scheduler invocation against a scoped context: the child sees the
// run's top-level inputs plus whatever this node's input_mappings export
// into it, never the parent's node outputs.
func WorkflowExecutor(ctx context.Context, rt registry.Runtime, node blueprint.NodeSpec, execCtx *blueprint.RunContext) blueprint.NodeExecutionResult {
	if node.Workflow == nil {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("workflow node %q: missing workflow spec", node.ID))
	}

	wf, ok := rt.Registry().GetWorkflow(node.Workflow.WorkflowRef)
	if !ok {
		return errResult(blueprint.ErrKindRegistry, fmt.Errorf("workflow %q not registered", node.Workflow.WorkflowRef))
	}

	childInputs := execCtx.Inputs
	if len(childInputs) == 0 {
		childInputs = json.RawMessage(`{}`)
	}
	if len(node.InputMappings) > 0 {
		imports, err := resolver.ResolveInputMappings(node.InputMappings, execCtx)
		if err != nil {
			return errResult(blueprint.ErrKindInputUnresolved, err)
		}
		for k, v := range imports {
			patched, serr := sjson.SetBytes(childInputs, k, v)
			if serr != nil {
				return errResult(blueprint.ErrKindInternal, serr)
			}
			childInputs = patched
		}
	}

	child := blueprint.NewRunContext(childInputs, execCtx.OrgID, execCtx.UserID, execCtx.SessionID)
	sub, err := rt.RunSubgraph(ctx, wf.Nodes, child, 0)
	if err != nil {
		return errResult(blueprint.ErrKindInternal, err)
	}
	if !sub.Success {
		return errResult(blueprint.ErrKindInternal, fmt.Errorf("workflow node %q: nested workflow %q failed", node.ID, node.Workflow.WorkflowRef))
	}

	raw, err := json.Marshal(sub.Outputs)
	if err != nil {
		return errResult(blueprint.ErrKindInternal, err)
	}
	return blueprint.NodeExecutionResult{Success: true, Output: raw}
}
