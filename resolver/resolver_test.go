package resolver_test

import (
	"encoding/json"
	"testing"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/resolver"
)

func rcWithN1() *blueprint.RunContext {
	return &blueprint.RunContext{
		Outputs: map[string]json.RawMessage{
			"n1": json.RawMessage(`{"echo":"hi","nested":{"v":5}}`),
		},
		Inputs: json.RawMessage(`{"name":"world"}`),
	}
}

func TestResolveInputMappings_Literal(t *testing.T) {
	m := map[string]blueprint.Mapping{"x": {Literal: json.RawMessage(`"hello"`)}}
	out, err := resolver.ResolveInputMappings(m, rcWithN1())
	if err != nil || out["x"] != "hello" {
		t.Fatalf("got %v err %v", out, err)
	}
}

func TestResolveInputMappings_DottedPath(t *testing.T) {
	m := map[string]blueprint.Mapping{"echo": {SourceNodeID: "n1", SourceOutputKey: "echo"}}
	out, err := resolver.ResolveInputMappings(m, rcWithN1())
	if err != nil || out["echo"] != "hi" {
		t.Fatalf("got %v err %v", out, err)
	}
}

func TestResolveInputMappings_EntireOutput(t *testing.T) {
	m := map[string]blueprint.Mapping{"whole": {SourceNodeID: "n1", SourceOutputKey: "."}}
	out, err := resolver.ResolveInputMappings(m, rcWithN1())
	if err != nil {
		t.Fatalf("err %v", err)
	}
	asMap, ok := out["whole"].(map[string]interface{})
	if !ok || asMap["echo"] != "hi" {
		t.Fatalf("got %v", out)
	}
}

func TestResolveInputMappings_Unresolved(t *testing.T) {
	m := map[string]blueprint.Mapping{"x": {SourceNodeID: "ghost", SourceOutputKey: "y"}}
	_, err := resolver.ResolveInputMappings(m, rcWithN1())
	if err == nil {
		t.Fatal("expected unresolved mapping error")
	}
}

func TestRenderTemplate(t *testing.T) {
	out, missing := resolver.RenderTemplate("say {{ n1.echo }} to {{inputs.name}}", rcWithN1())
	if len(missing) != 0 {
		t.Fatalf("unexpected missing: %v", missing)
	}
	if out != "say hi to world" {
		t.Fatalf("got %q", out)
	}
}

func TestRenderTemplate_Missing(t *testing.T) {
	out, missing := resolver.RenderTemplate("{{ghost.field}}", rcWithN1())
	if len(missing) != 1 {
		t.Fatalf("expected 1 missing placeholder, got %v", missing)
	}
	if out != "{{ghost.field}}" {
		t.Fatalf("expected placeholder left verbatim, got %q", out)
	}
}
