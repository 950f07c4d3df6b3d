package builtin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/registry"
	"github.com/stef-writes/iceOS-sub005/resolver"
	"github.com/stef-writes/iceOS-sub005/sandbox"
)

// CodeExecutor runs the node's Python-subset script in the resource-capped
// Starlark sandbox: resolved input mappings are injected as the `ctx` dict,
// the output is read from the `result` global, and only allowlisted names
// in `imports` are predeclared.
func CodeExecutor(ctx context.Context, rt registry.Runtime, node blueprint.NodeSpec, execCtx *blueprint.RunContext) blueprint.NodeExecutionResult {
	if node.Code == nil {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("code node %q: missing code spec", node.ID))
	}
	spec := node.Code
	switch spec.Language {
	case "python-wasm", "starlark", "":
	default:
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("code node %q: unsupported language %q", node.ID, spec.Language))
	}

	inputs, err := resolver.ResolveInputMappings(node.InputMappings, execCtx)
	if err != nil {
		return errResult(blueprint.ErrKindInputUnresolved, err)
	}

	limits := sandbox.DefaultLimits
	if node.TimeoutMS > 0 {
		limits.Timeout = time.Duration(node.TimeoutMS) * time.Millisecond
	}

	out, err := sandbox.RunCode(ctx, limits, spec.Code, spec.Imports, inputs)
	if err != nil {
		var re *blueprint.RunError
		if errors.As(err, &re) {
			return errResult(re.Kind, err)
		}
		return errResult(blueprint.ErrKindSandboxViolation, err)
	}
	return blueprint.NodeExecutionResult{Success: true, Output: out}
}
