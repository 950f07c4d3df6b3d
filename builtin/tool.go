package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/registry"
	"github.com/stef-writes/iceOS-sub005/resolver"
)

// ToolExecutor resolves the node's tool by name, renders tool_args through
// the shared template engine, invokes tool.Tool.Call, and charges one unit
// of tool budget.
func ToolExecutor(ctx context.Context, rt registry.Runtime, node blueprint.NodeSpec, execCtx *blueprint.RunContext) blueprint.NodeExecutionResult {
	if node.Tool == nil {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("tool node %q: missing tool spec", node.ID))
	}

	t, err := rt.Registry().GetTool(node.Tool.ToolName)
	if err != nil {
		return errResult(blueprint.ErrKindRegistry, err)
	}

	args, err := resolver.RenderArgs(node.Tool.ToolArgs, execCtx)
	if err != nil {
		return errResult(blueprint.ErrKindInputUnresolved, err)
	}

	if err := rt.RegisterToolExec(); err != nil {
		return errResult(blueprint.ErrKindBudgetExceeded, err)
	}

	out, err := t.Call(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return errResult(blueprint.ErrKindCanceled, err)
		}
		return errResult(blueprint.ErrKindTransient, err)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return errResult(blueprint.ErrKindInternal, err)
	}
	return blueprint.NodeExecutionResult{Success: true, Output: raw}
}

func errResult(kind blueprint.ErrorKind, err error) blueprint.NodeExecutionResult {
	return blueprint.NodeExecutionResult{Success: false, Error: err.Error(), ErrorType: string(kind)}
}
