package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/memstore"
	"github.com/stef-writes/iceOS-sub005/registry"
	"github.com/stef-writes/iceOS-sub005/resolver"
)

// agentPhase is the deterministic state machine an agent node steps through
// each iteration: Thinking -> CallingTool -> AwaitingTool -> back to
// Thinking, or Thinking -> Finalizing -> Done on a final answer.
type agentPhase string

const (
	phaseThinking     agentPhase = "Thinking"
	phaseCallingTool  agentPhase = "CallingTool"
	phaseAwaitingTool agentPhase = "AwaitingTool"
	phaseFinalizing   agentPhase = "Finalizing"
	phaseDone         agentPhase = "Done"
)

// AgentTurn records one completed iteration: the tool the agent called and
// what it observed.
type AgentTurn struct {
	Thought     string                 `json:"thought,omitempty"`
	ToolName    string                 `json:"tool_name,omitempty"`
	ToolArgs    map[string]interface{} `json:"tool_args,omitempty"`
	Observation map[string]interface{} `json:"observation,omitempty"`
}

// AgentState is the snapshot handed to an Agent on each Decide call.
type AgentState struct {
	NodeID    string
	Iteration int
	Inputs    map[string]interface{}
	Memory    []memstore.Hit
	History   []AgentTurn
}

// AgentDecision is an Agent's output for one iteration: either a tool call
// (ToolName set) or a final answer (FinalAnswer set). Setting both is an
// agent bug and fails the node.
type AgentDecision struct {
	Thought     string
	ToolName    string
	ToolArgs    map[string]interface{}
	FinalAnswer json.RawMessage
}

// Agent is the capability an agent factory must produce. Implementations
// typically wrap a ChatModel with a tool-selection prompt; ScriptedAgent
// below is the deterministic variant for tests and development manifests.
type Agent interface {
	Decide(ctx context.Context, state *AgentState) (AgentDecision, error)
}

// ScriptedAgent replays a fixed sequence of decisions, the agent-capability
// analogue of tool.MockTool / model.MockChatModel.
type ScriptedAgent struct {
	Decisions []AgentDecision
	Err       error

	calls int
}

func (a *ScriptedAgent) Decide(ctx context.Context, state *AgentState) (AgentDecision, error) {
	if ctx.Err() != nil {
		return AgentDecision{}, ctx.Err()
	}
	if a.Err != nil {
		return AgentDecision{}, a.Err
	}
	if len(a.Decisions) == 0 {
		return AgentDecision{FinalAnswer: json.RawMessage(`null`)}, nil
	}
	idx := a.calls
	if idx >= len(a.Decisions) {
		idx = len(a.Decisions) - 1
	} else {
		a.calls++
	}
	return a.Decisions[idx], nil
}

// AgentExecutor resolves the node's agent factory, instantiates it with the
// declared tools subset, and runs the iterate-until-stop loop bounded by
// max_iterations. Tool calls dispatch through the same registry lookup and
// budget checks as the tool executor. Stop conditions: final answer, max
// iterations, budget exceeded, cancel.
func AgentExecutor(ctx context.Context, rt registry.Runtime, node blueprint.NodeSpec, execCtx *blueprint.RunContext) blueprint.NodeExecutionResult {
	if node.Agent == nil {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("agent node %q: missing agent spec", node.ID))
	}
	spec := node.Agent

	agent, err := resolveAgent(rt, spec.Package)
	if err != nil {
		return errResult(blueprint.ErrKindRegistry, err)
	}

	allowed := make(map[string]bool, len(spec.Tools))
	for _, tr := range spec.Tools {
		allowed[tr.Name] = true
	}

	inputs, err := resolver.ResolveInputMappings(node.InputMappings, execCtx)
	if err != nil {
		return errResult(blueprint.ErrKindInputUnresolved, err)
	}

	state := &AgentState{NodeID: node.ID, Inputs: inputs}
	if spec.MemoryConfig != nil && spec.MemoryConfig.Enabled {
		scope := memstore.Scope{OrgID: execCtx.OrgID, UserID: execCtx.UserID, SessionID: execCtx.SessionID}
		k := spec.MemoryConfig.TopK
		if k <= 0 {
			k = 5
		}
		hits, merr := rt.Memory().SemanticSearch(ctx, scope, queryFromInputs(inputs, node.Name), k)
		if merr == nil {
			state.Memory = hits
		}
	}

	maxIter := spec.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}

	final, stopReason, res := runAgentLoop(ctx, rt, agent, state, allowed, maxIter)
	if res != nil {
		return *res
	}

	payload := map[string]interface{}{
		"iterations":  state.Iteration,
		"stop_reason": stopReason,
		"history":     state.History,
	}
	if final != nil {
		var v interface{}
		if err := json.Unmarshal(final, &v); err == nil {
			payload["final_answer"] = v
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return errResult(blueprint.ErrKindInternal, err)
	}
	return blueprint.NodeExecutionResult{Success: true, Output: raw}
}

// runAgentLoop drives one agent through the phase machine until a stop
// condition. Shared by the agent, swarm, and recursive executors. Returns
// (finalAnswer, stopReason, nil) on a clean stop, or (nil, "", &result) when
// the loop itself failed and the caller should return result verbatim.
func runAgentLoop(ctx context.Context, rt registry.Runtime, agent Agent, state *AgentState, allowedTools map[string]bool, maxIter int) (json.RawMessage, string, *blueprint.NodeExecutionResult) {
	phase := phaseThinking
	for state.Iteration < maxIter {
		if ctx.Err() != nil {
			r := errResult(blueprint.ErrKindCanceled, ctx.Err())
			return nil, "", &r
		}
		state.Iteration++

		decision, err := agent.Decide(ctx, state)
		if err != nil {
			if ctx.Err() != nil {
				r := errResult(blueprint.ErrKindCanceled, err)
				return nil, "", &r
			}
			r := errResult(blueprint.ErrKindTransient, err)
			return nil, "", &r
		}

		if decision.FinalAnswer != nil && decision.ToolName != "" {
			r := errResult(blueprint.ErrKindInternal, fmt.Errorf("agent returned both a tool call and a final answer at iteration %d", state.Iteration))
			return nil, "", &r
		}
		if decision.FinalAnswer != nil {
			emitAgentIteration(rt, state, phaseFinalizing, decision.Thought, "")
			return decision.FinalAnswer, "final_answer", nil
		}
		if decision.ToolName == "" {
			r := errResult(blueprint.ErrKindInternal, fmt.Errorf("agent returned neither a tool call nor a final answer at iteration %d", state.Iteration))
			return nil, "", &r
		}
		if len(allowedTools) > 0 && !allowedTools[decision.ToolName] {
			r := errResult(blueprint.ErrKindValidation, fmt.Errorf("agent requested tool %q outside its declared tools subset", decision.ToolName))
			return nil, "", &r
		}

		phase = phaseCallingTool
		emitAgentIteration(rt, state, phase, decision.Thought, decision.ToolName)

		t, err := rt.Registry().GetTool(decision.ToolName)
		if err != nil {
			r := errResult(blueprint.ErrKindRegistry, err)
			return nil, "", &r
		}
		if err := rt.RegisterToolExec(); err != nil {
			r := errResult(blueprint.ErrKindBudgetExceeded, err)
			return nil, "", &r
		}

		phase = phaseAwaitingTool
		obs, err := t.Call(ctx, decision.ToolArgs)
		if err != nil {
			if ctx.Err() != nil {
				r := errResult(blueprint.ErrKindCanceled, err)
				return nil, "", &r
			}
			r := errResult(blueprint.ErrKindTransient, err)
			return nil, "", &r
		}

		state.History = append(state.History, AgentTurn{
			Thought:     decision.Thought,
			ToolName:    decision.ToolName,
			ToolArgs:    decision.ToolArgs,
			Observation: obs,
		})
		phase = phaseThinking
	}
	return nil, "max_iterations", nil
}

// emitAgentIteration records one per-iteration sub-event under the agent's
// node id.
func emitAgentIteration(rt registry.Runtime, state *AgentState, phase agentPhase, thought, toolName string) {
	meta := map[string]interface{}{
		"iteration": state.Iteration,
		"phase":     string(phase),
	}
	if thought != "" {
		meta["thought"] = thought
	}
	if toolName != "" {
		meta["tool"] = toolName
	}
	rt.Emit(blueprint.NewEvent(rt.RunID(), "AgentIteration", state.NodeID, meta))
}

func resolveAgent(rt registry.Runtime, pkg string) (Agent, error) {
	v, err := rt.Registry().GetAgent(pkg)
	if err != nil {
		return nil, err
	}
	agent, ok := v.(Agent)
	if !ok {
		return nil, fmt.Errorf("agent factory %q produced %T, which does not implement builtin.Agent", pkg, v)
	}
	return agent, nil
}

// queryFromInputs picks a retrieval query for memory-aware agents: an
// explicit "query" input wins, then the node's display name.
func queryFromInputs(inputs map[string]interface{}, nodeName string) string {
	if q, ok := inputs["query"].(string); ok && q != "" {
		return q
	}
	return nodeName
}
