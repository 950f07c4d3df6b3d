package runtime

import (
	"testing"

	"github.com/stef-writes/iceOS-sub005/blueprint"
)

func gatingFixture() ([]blueprint.NodeSpec, *blueprint.Graph) {
	nodes := []blueprint.NodeSpec{
		{ID: "src", Type: blueprint.NodeTool, Tool: &blueprint.ToolSpec{ToolName: "t"}},
		{ID: "cond", Type: blueprint.NodeCondition, Dependencies: []string{"src"}, Condition: &blueprint.ConditionSpec{Expression: "x > 0"}},
		{ID: "yes", Type: blueprint.NodeTool, Dependencies: []string{"cond"},
			Branch: &blueprint.BranchMembership{ConditionNodeID: "cond", When: true},
			Tool:   &blueprint.ToolSpec{ToolName: "t"}},
		{ID: "no", Type: blueprint.NodeTool, Dependencies: []string{"cond"},
			Branch: &blueprint.BranchMembership{ConditionNodeID: "cond", When: false},
			Tool:   &blueprint.ToolSpec{ToolName: "t"}},
		{ID: "after_no", Type: blueprint.NodeTool, Dependencies: []string{"no"}, Tool: &blueprint.ToolSpec{ToolName: "t"}},
		{ID: "joined", Type: blueprint.NodeTool, Dependencies: []string{"src"}, Tool: &blueprint.ToolSpec{ToolName: "t"}},
	}
	bp := &blueprint.Blueprint{ID: "g", Nodes: nodes}
	return nodes, blueprint.DependencyGraph(bp)
}

func TestGatingAllActiveBeforeDecision(t *testing.T) {
	nodes, g := gatingFixture()
	r := NewBranchGatingResolver(nodes, g)
	for _, n := range nodes {
		if !r.Active(n.ID) {
			t.Fatalf("node %q inactive before any decision", n.ID)
		}
	}
}

func TestGatingDeactivatesNotTakenBranchTransitively(t *testing.T) {
	nodes, g := gatingFixture()
	r := NewBranchGatingResolver(nodes, g)
	r.Record("cond", true)

	for id, wantActive := range map[string]bool{
		"src": true, "cond": true, "yes": true,
		"no": false, "after_no": false,
		"joined": true,
	} {
		if got := r.Active(id); got != wantActive {
			t.Errorf("Active(%q) = %v, want %v", id, got, wantActive)
		}
	}
}

func TestGatingDecisionMemoized(t *testing.T) {
	nodes, g := gatingFixture()
	r := NewBranchGatingResolver(nodes, g)
	r.Record("cond", false)
	if d, ok := r.Decision("cond"); !ok || d {
		t.Fatalf("Decision = (%v, %v), want (false, true)", d, ok)
	}
	if r.Active("yes") {
		t.Fatal("true branch active under false decision")
	}
	if !r.Active("no") {
		t.Fatal("false branch inactive under false decision")
	}
}
