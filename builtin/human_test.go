package builtin

import (
	"context"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/stef-writes/iceOS-sub005/blueprint"
)

func TestHumanExecutorApproval(t *testing.T) {
	f := newFakeRuntime(t)
	f.approve = true

	node := blueprint.NodeSpec{
		ID:    "h1",
		Type:  blueprint.NodeHuman,
		Human: &blueprint.HumanSpec{PromptForApproval: "deploy?", TimeoutMS: 1000},
	}
	res := HumanExecutor(context.Background(), f, node, blueprint.NewRunContext(nil, "", "", ""))
	if !res.Success {
		t.Fatalf("human executor failed: %s", res.Error)
	}
	if !gjson.GetBytes(res.Output, "approved").Bool() {
		t.Fatal("approved = false, want true")
	}

	kinds := f.eventKinds()
	var requested, resolved bool
	for _, k := range kinds {
		switch k {
		case string(blueprint.EventHumanApprovalRequested):
			requested = true
		case string(blueprint.EventHumanApprovalResolved):
			if !requested {
				t.Fatal("HumanApprovalResolved before HumanApprovalRequested")
			}
			resolved = true
		}
	}
	if !requested || !resolved {
		t.Fatalf("events = %v, want request and resolution", kinds)
	}
}

func TestHumanExecutorRejection(t *testing.T) {
	f := newFakeRuntime(t)
	f.approve = false

	node := blueprint.NodeSpec{
		ID:    "h1",
		Type:  blueprint.NodeHuman,
		Human: &blueprint.HumanSpec{PromptForApproval: "deploy?"},
	}
	res := HumanExecutor(context.Background(), f, node, blueprint.NewRunContext(nil, "", "", ""))
	if res.Success || res.ErrorType != string(blueprint.ErrKindCanceled) {
		t.Fatalf("got (%v, %q), want Canceled on rejection", res.Success, res.ErrorType)
	}
}

func TestHumanExecutorTimeout(t *testing.T) {
	f := newFakeRuntime(t)
	f.approveErr = blueprint.ErrTimeout

	node := blueprint.NodeSpec{
		ID:    "h1",
		Type:  blueprint.NodeHuman,
		Human: &blueprint.HumanSpec{PromptForApproval: "deploy?", TimeoutMS: 10},
	}
	res := HumanExecutor(context.Background(), f, node, blueprint.NewRunContext(nil, "", "", ""))
	if res.Success || res.ErrorType != string(blueprint.ErrKindTimeout) {
		t.Fatalf("got (%v, %q), want Timeout", res.Success, res.ErrorType)
	}
}
