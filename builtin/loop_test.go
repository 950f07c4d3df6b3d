package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/graph/tool"
)

func TestLoopExecutorIteratesItemsSource(t *testing.T) {
	f := newFakeRuntime(t)
	if err := f.reg.RegisterToolFactory("pick", func() (tool.Tool, error) {
		return identityTool{name: "pick"}, nil
	}); err != nil {
		t.Fatal(err)
	}

	rc := blueprint.NewRunContext(nil, "", "", "")
	if err := rc.SetOutput("t", mustRaw(t, map[string]interface{}{
		"items": []map[string]interface{}{{"v": 1}, {"v": 2}, {"v": 3}},
	})); err != nil {
		t.Fatal(err)
	}

	node := blueprint.NodeSpec{
		ID:           "l1",
		Type:         blueprint.NodeLoop,
		Dependencies: []string{"t"},
		Loop: &blueprint.LoopSpec{
			ItemsSource:   "t.items",
			ItemVar:       "it",
			MaxIterations: 10,
			Body: []blueprint.NodeSpec{
				{
					ID:   "b1",
					Type: blueprint.NodeTool,
					Tool: &blueprint.ToolSpec{
						ToolName: "pick",
						ToolArgs: map[string]json.RawMessage{"v": json.RawMessage(`"{{ it.v }}"`)},
					},
				},
			},
		},
	}
	res := LoopExecutor(context.Background(), f, node, rc)
	if !res.Success {
		t.Fatalf("loop executor failed: %s", res.Error)
	}
	if got := gjson.GetBytes(res.Output, "#").Int(); got != 3 {
		t.Fatalf("loop produced %d iterations, want 3", got)
	}
	for i, want := range []string{"1", "2", "3"} {
		if got := gjson.GetBytes(res.Output, fmt.Sprintf("%d.v", i)).String(); got != want {
			t.Fatalf("iteration %d output = %q, want %q", i, got, want)
		}
	}
}

func TestLoopExecutorMaxIterationsCapsWork(t *testing.T) {
	f := newFakeRuntime(t)
	if err := f.reg.RegisterToolFactory("pick", func() (tool.Tool, error) {
		return identityTool{name: "pick"}, nil
	}); err != nil {
		t.Fatal(err)
	}

	rc := blueprint.NewRunContext(nil, "", "", "")
	if err := rc.SetOutput("t", mustRaw(t, map[string]interface{}{
		"items": []int{1, 2, 3, 4, 5},
	})); err != nil {
		t.Fatal(err)
	}

	node := blueprint.NodeSpec{
		ID:           "l1",
		Type:         blueprint.NodeLoop,
		Dependencies: []string{"t"},
		Loop: &blueprint.LoopSpec{
			ItemsSource:   "t.items",
			ItemVar:       "it",
			MaxIterations: 2,
			Body: []blueprint.NodeSpec{
				{ID: "b1", Type: blueprint.NodeTool, Tool: &blueprint.ToolSpec{ToolName: "pick"}},
			},
		},
	}
	res := LoopExecutor(context.Background(), f, node, rc)
	if !res.Success {
		t.Fatalf("loop executor failed: %s", res.Error)
	}
	if got := gjson.GetBytes(res.Output, "#").Int(); got != 2 {
		t.Fatalf("loop produced %d iterations, want 2", got)
	}
}

func TestLoopExecutorMissingItemsSource(t *testing.T) {
	f := newFakeRuntime(t)
	node := blueprint.NodeSpec{
		ID:   "l1",
		Type: blueprint.NodeLoop,
		Loop: &blueprint.LoopSpec{
			ItemsSource: "nowhere.items",
			ItemVar:     "it",
			Body: []blueprint.NodeSpec{
				{ID: "b1", Type: blueprint.NodeTool, Tool: &blueprint.ToolSpec{ToolName: "pick"}},
			},
		},
	}
	res := LoopExecutor(context.Background(), f, node, blueprint.NewRunContext(nil, "", "", ""))
	if res.Success || res.ErrorType != string(blueprint.ErrKindInputUnresolved) {
		t.Fatalf("got (%v, %q), want InputUnresolvedError", res.Success, res.ErrorType)
	}
}
