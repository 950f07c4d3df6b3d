package registry_test

import (
	"context"
	"testing"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/graph/tool"
	"github.com/stef-writes/iceOS-sub005/registry"
)

func noopExecutor(ctx context.Context, rt registry.Runtime, node blueprint.NodeSpec, execCtx *blueprint.RunContext) blueprint.NodeExecutionResult {
	return blueprint.NodeExecutionResult{Success: true}
}

func TestRegisterAndGetExecutor(t *testing.T) {
	r := registry.New(false)
	if err := r.RegisterExecutor(blueprint.NodeTool, noopExecutor); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := r.GetExecutor(blueprint.NodeTool); !ok {
		t.Fatal("expected executor to be found")
	}
	if _, ok := r.GetExecutor(blueprint.NodeLLM); ok {
		t.Fatal("expected no executor registered for llm")
	}
}

func TestRegisterExecutor_ConflictingName(t *testing.T) {
	r := registry.New(false)
	_ = r.RegisterExecutor(blueprint.NodeTool, noopExecutor)
	if err := r.RegisterExecutor(blueprint.NodeTool, noopExecutor); err == nil {
		t.Fatal("expected conflict error on re-registration")
	}
}

func TestLoadManifest_GatesDynamicRegistration(t *testing.T) {
	r := registry.New(false)
	m := registry.Manifest{Entries: []registry.FactoryRef{
		{Kind: "executor", Name: string(blueprint.NodeTool), Execute: noopExecutor},
	}}
	if err := r.LoadManifest(m); err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if err := r.RegisterExecutor(blueprint.NodeLLM, noopExecutor); err == nil {
		t.Fatal("expected dynamic registration to be gated after manifest load")
	}
}

func TestLoadManifest_AllowDynamic(t *testing.T) {
	r := registry.New(true)
	if err := r.LoadManifest(registry.Manifest{}); err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if err := r.RegisterExecutor(blueprint.NodeLLM, noopExecutor); err != nil {
		t.Fatalf("expected dynamic registration allowed, got %v", err)
	}
}

func TestHasTool(t *testing.T) {
	r := registry.New(false)
	_ = r.RegisterToolFactory("echo", func() (tool.Tool, error) {
		return &tool.MockTool{ToolName: "echo"}, nil
	})
	if !r.HasTool("echo") {
		t.Fatal("expected HasTool(echo) to be true")
	}
	got, err := r.GetTool("echo")
	if err != nil || got.Name() != "echo" {
		t.Fatalf("GetTool: %v %+v", err, got)
	}
}
