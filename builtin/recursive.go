package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/registry"
	"github.com/stef-writes/iceOS-sub005/resolver"
)

// RecursiveExecutor coordinates two agents — the node's own agent_package
// and the agent declared on partner_node_id — by alternating invocations
// until convergence.stop_predicate evaluates true over the scratch state or
// max_iterations is reached. Each round emits a RecursionRound event. The
// scratch state (round counter, both agents' latest answers, transcript) is
// keyed by the recursive node's id and becomes the node's output.
func RecursiveExecutor(ctx context.Context, rt registry.Runtime, node blueprint.NodeSpec, execCtx *blueprint.RunContext) blueprint.NodeExecutionResult {
	if node.Recursive == nil {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("recursive node %q: missing recursive spec", node.ID))
	}
	spec := node.Recursive

	primary, err := resolveAgent(rt, spec.AgentPackage)
	if err != nil {
		return errResult(blueprint.ErrKindRegistry, err)
	}

	partnerNode, ok := rt.LookupNode(spec.PartnerNodeID)
	if !ok {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("recursive node %q: partner node %q not in blueprint", node.ID, spec.PartnerNodeID))
	}
	if partnerNode.Agent == nil {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("recursive node %q: partner node %q is not an agent node", node.ID, spec.PartnerNodeID))
	}
	partner, err := resolveAgent(rt, partnerNode.Agent.Package)
	if err != nil {
		return errResult(blueprint.ErrKindRegistry, err)
	}

	inputs, err := resolver.ResolveInputMappings(node.InputMappings, execCtx)
	if err != nil {
		return errResult(blueprint.ErrKindInputUnresolved, err)
	}

	maxIter := spec.Convergence.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}

	// Scratch state visible to the stop predicate: round, last answers from
	// each side, and the full transcript.
	state := map[string]interface{}{
		"node_id":      node.ID,
		"round":        0,
		"last":         nil,
		"last_partner": nil,
		"transcript":   []interface{}{},
	}

	var transcript []interface{}
	stopReason := "max_iterations"
	for round := 1; round <= maxIter; round++ {
		if ctx.Err() != nil {
			return errResult(blueprint.ErrKindCanceled, ctx.Err())
		}
		state["round"] = round

		primaryAnswer, res := recursionTurn(ctx, rt, primary, node.ID, round, inputs, state)
		if res != nil {
			return *res
		}
		state["last"] = decodeAnswer(primaryAnswer)
		transcript = append(transcript, map[string]interface{}{"role": "primary", "round": round, "answer": state["last"]})

		partnerAnswer, res := recursionTurn(ctx, rt, partner, node.ID, round, inputs, state)
		if res != nil {
			return *res
		}
		state["last_partner"] = decodeAnswer(partnerAnswer)
		transcript = append(transcript, map[string]interface{}{"role": "partner", "round": round, "answer": state["last_partner"]})
		state["transcript"] = transcript

		rt.Emit(blueprint.NewEvent(rt.RunID(), blueprint.EventRecursionRound, node.ID, map[string]interface{}{
			"round":   round,
			"last":    state["last"],
			"partner": state["last_partner"],
		}))

		if spec.Convergence.StopPredicate != "" {
			done, perr := conditionEval.EvaluateVars(spec.Convergence.StopPredicate, state)
			if perr != nil {
				return errResult(blueprint.ErrKindValidation, perr)
			}
			if done {
				stopReason = "stop_predicate"
				break
			}
		}
	}

	raw, err := json.Marshal(map[string]interface{}{
		"rounds":       state["round"],
		"stop_reason":  stopReason,
		"last":         state["last"],
		"last_partner": state["last_partner"],
		"transcript":   transcript,
	})
	if err != nil {
		return errResult(blueprint.ErrKindInternal, err)
	}
	return blueprint.NodeExecutionResult{Success: true, Output: raw}
}

// recursionTurn runs one agent for one turn of the alternation, giving it
// the recursion scratch state as extra inputs.
func recursionTurn(ctx context.Context, rt registry.Runtime, agent Agent, nodeID string, round int, baseInputs map[string]interface{}, scratch map[string]interface{}) (json.RawMessage, *blueprint.NodeExecutionResult) {
	turnInputs := make(map[string]interface{}, len(baseInputs)+1)
	for k, v := range baseInputs {
		turnInputs[k] = v
	}
	turnInputs["recursion"] = scratch

	st := &AgentState{NodeID: nodeID, Iteration: 0, Inputs: turnInputs}
	answer, _, res := runAgentLoop(ctx, rt, agent, st, nil, 5)
	if res != nil {
		return nil, res
	}
	if answer == nil {
		r := errResult(blueprint.ErrKindInternal, fmt.Errorf("recursive node %q: agent produced no final answer in round %d", nodeID, round))
		return nil, &r
	}
	return answer, nil
}

func decodeAnswer(raw json.RawMessage) interface{} {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
