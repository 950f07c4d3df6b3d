package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/registry"
	"github.com/stef-writes/iceOS-sub005/resolver"
)

// SwarmExecutor validates that every declared agent role resolves in the
// registry, then runs the agents under the configured coordination
// strategy. The only in-tree strategy is "sequential" (also the default):
// agents run in declaration order, each seeing the prior roles' answers in
// its inputs. Other strategy names are an interface point for registered
// coordination factories and fail as unresolved until one exists.
func SwarmExecutor(ctx context.Context, rt registry.Runtime, node blueprint.NodeSpec, execCtx *blueprint.RunContext) blueprint.NodeExecutionResult {
	if node.Swarm == nil {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("swarm node %q: missing swarm spec", node.ID))
	}
	spec := node.Swarm
	if len(spec.Agents) == 0 {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("swarm node %q: no agents declared", node.ID))
	}
	switch spec.CoordinationStrategy {
	case "", "sequential":
	default:
		return errResult(blueprint.ErrKindRegistry, fmt.Errorf("swarm node %q: no coordination strategy %q registered", node.ID, spec.CoordinationStrategy))
	}

	agents := make([]Agent, len(spec.Agents))
	for i, ref := range spec.Agents {
		a, err := resolveAgent(rt, ref.Package)
		if err != nil {
			return errResult(blueprint.ErrKindRegistry, fmt.Errorf("swarm node %q: role %q: %w", node.ID, ref.Role, err))
		}
		agents[i] = a
	}

	inputs, err := resolver.ResolveInputMappings(node.InputMappings, execCtx)
	if err != nil {
		return errResult(blueprint.ErrKindInputUnresolved, err)
	}

	answers := make(map[string]interface{}, len(spec.Agents))
	for i, ref := range spec.Agents {
		if ctx.Err() != nil {
			return errResult(blueprint.ErrKindCanceled, ctx.Err())
		}

		turnInputs := make(map[string]interface{}, len(inputs)+1)
		for k, v := range inputs {
			turnInputs[k] = v
		}
		turnInputs["swarm"] = map[string]interface{}{"role": ref.Role, "answers": answers}

		st := &AgentState{NodeID: node.ID, Inputs: turnInputs}
		answer, _, res := runAgentLoop(ctx, rt, agents[i], st, nil, 5)
		if res != nil {
			return *res
		}
		if answer == nil {
			return errResult(blueprint.ErrKindInternal, fmt.Errorf("swarm node %q: role %q produced no final answer", node.ID, ref.Role))
		}
		answers[ref.Role] = decodeAnswer(answer)
	}

	raw, err := json.Marshal(map[string]interface{}{
		"strategy": "sequential",
		"answers":  answers,
	})
	if err != nil {
		return errResult(blueprint.ErrKindInternal, err)
	}
	return blueprint.NodeExecutionResult{Success: true, Output: raw}
}
