package builtin

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/stef-writes/iceOS-sub005/blueprint"
)

func recursiveFixture(t *testing.T, stopPredicate string, maxIter int) (*fakeRuntime, blueprint.NodeSpec) {
	t.Helper()
	f := newFakeRuntime(t)
	registerScriptedAgent(t, f, "proposer", AgentDecision{FinalAnswer: json.RawMessage(`"draft"`)})
	registerScriptedAgent(t, f, "reviewer", AgentDecision{FinalAnswer: json.RawMessage(`"approve"`)})

	partner := blueprint.NodeSpec{
		ID:    "rev",
		Type:  blueprint.NodeAgent,
		Agent: &blueprint.AgentSpec{Package: "reviewer", MaxIterations: 1},
	}
	f.nodes["rev"] = partner

	node := blueprint.NodeSpec{
		ID:   "r1",
		Type: blueprint.NodeRecursive,
		Recursive: &blueprint.RecursiveSpec{
			AgentPackage:  "proposer",
			PartnerNodeID: "rev",
			Convergence: blueprint.Convergence{
				MaxIterations: maxIter,
				StopPredicate: stopPredicate,
			},
		},
	}
	return f, node
}

func TestRecursiveExecutorStopsOnPredicate(t *testing.T) {
	f, node := recursiveFixture(t, `last_partner == "approve"`, 10)

	res := RecursiveExecutor(context.Background(), f, node, blueprint.NewRunContext(nil, "", "", ""))
	if !res.Success {
		t.Fatalf("recursive executor failed: %s", res.Error)
	}
	if got := gjson.GetBytes(res.Output, "stop_reason").String(); got != "stop_predicate" {
		t.Fatalf("stop_reason = %q, want stop_predicate", got)
	}
	if got := gjson.GetBytes(res.Output, "rounds").Int(); got != 1 {
		t.Fatalf("rounds = %d, want 1", got)
	}

	rounds := 0
	for _, k := range f.eventKinds() {
		if k == string(blueprint.EventRecursionRound) {
			rounds++
		}
	}
	if rounds != 1 {
		t.Fatalf("RecursionRound events = %d, want 1", rounds)
	}
}

func TestRecursiveExecutorStopsAtMaxIterations(t *testing.T) {
	f, node := recursiveFixture(t, `last_partner == "never"`, 3)

	res := RecursiveExecutor(context.Background(), f, node, blueprint.NewRunContext(nil, "", "", ""))
	if !res.Success {
		t.Fatalf("recursive executor failed: %s", res.Error)
	}
	if got := gjson.GetBytes(res.Output, "stop_reason").String(); got != "max_iterations" {
		t.Fatalf("stop_reason = %q, want max_iterations", got)
	}
	if got := gjson.GetBytes(res.Output, "rounds").Int(); got != 3 {
		t.Fatalf("rounds = %d, want 3", got)
	}
}

func TestRecursiveExecutorPartnerMustBeAgent(t *testing.T) {
	f := newFakeRuntime(t)
	registerScriptedAgent(t, f, "proposer", AgentDecision{FinalAnswer: json.RawMessage(`"x"`)})
	f.nodes["not_agent"] = blueprint.NodeSpec{ID: "not_agent", Type: blueprint.NodeTool, Tool: &blueprint.ToolSpec{ToolName: "t"}}

	node := blueprint.NodeSpec{
		ID:   "r1",
		Type: blueprint.NodeRecursive,
		Recursive: &blueprint.RecursiveSpec{
			AgentPackage:  "proposer",
			PartnerNodeID: "not_agent",
			Convergence:   blueprint.Convergence{MaxIterations: 2},
		},
	}
	res := RecursiveExecutor(context.Background(), f, node, blueprint.NewRunContext(nil, "", "", ""))
	if res.Success || res.ErrorType != string(blueprint.ErrKindValidation) {
		t.Fatalf("got (%v, %q), want ValidationError", res.Success, res.ErrorType)
	}
}
