package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/registry"
	"github.com/stef-writes/iceOS-sub005/resolver"
)

// LoopExecutor resolves items_source from the context, then runs the body
// sub-graph once per item with item_var bound as a synthetic node output in
// a child context. Produces the list of per-iteration outputs (each
// iteration's output is its terminal body node's output).
func LoopExecutor(ctx context.Context, rt registry.Runtime, node blueprint.NodeSpec, execCtx *blueprint.RunContext) blueprint.NodeExecutionResult {
	if node.Loop == nil {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("loop node %q: missing loop spec", node.ID))
	}
	spec := node.Loop
	if spec.ItemVar == "" || len(spec.Body) == 0 {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("loop node %q: item_var and body are required", node.ID))
	}

	items, ok := resolver.GetPath(execCtx, spec.ItemsSource)
	if !ok {
		return errResult(blueprint.ErrKindInputUnresolved, fmt.Errorf("loop node %q: items_source %q not found", node.ID, spec.ItemsSource))
	}
	if !items.IsArray() {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("loop node %q: items_source %q is not a list", node.ID, spec.ItemsSource))
	}

	terminal := spec.Body[len(spec.Body)-1].ID
	var outputs []json.RawMessage
	for i, item := range items.Array() {
		if spec.MaxIterations > 0 && i >= spec.MaxIterations {
			break
		}
		if ctx.Err() != nil {
			return errResult(blueprint.ErrKindCanceled, ctx.Err())
		}

		child := execCtx.Clone()
		if err := child.SetOutput(spec.ItemVar, json.RawMessage(item.Raw)); err != nil {
			return errResult(blueprint.ErrKindInternal, err)
		}

		sub, err := rt.RunSubgraph(ctx, spec.Body, child, 0)
		if err != nil {
			return errResult(blueprint.ErrKindInternal, err)
		}
		if !sub.Success {
			return errResult(blueprint.ErrKindInternal, fmt.Errorf("loop node %q: iteration %d failed", node.ID, i))
		}
		out, ok := child.GetOutput(terminal)
		if !ok {
			return errResult(blueprint.ErrKindInternal, fmt.Errorf("loop node %q: iteration %d produced no output for body node %q", node.ID, i, terminal))
		}
		outputs = append(outputs, out)
	}

	raw, err := json.Marshal(outputs)
	if err != nil {
		return errResult(blueprint.ErrKindInternal, err)
	}
	return blueprint.NodeExecutionResult{Success: true, Output: raw}
}
