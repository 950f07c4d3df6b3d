// Package resolver resolves a NodeSpec's input_mappings and renders
// `{{var}}` prompt/tool-arg templates against a RunContext. It is the one
// substitution engine shared by the tool, llm, and agent executors:
// dotted-path access via gjson, no function calls, no arbitrary code.
package resolver

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stef-writes/iceOS-sub005/blueprint"
)

// ErrMappingUnresolved is returned when a mapping's source node has not
// yet produced an output in the RunContext; missing or failed dependencies
// abort the node with an InputUnresolvedError.
type ErrMappingUnresolved struct {
	Placeholder, SourceNodeID, Path string
}

func (e *ErrMappingUnresolved) Error() string {
	return fmt.Sprintf("input mapping %q: node %q output key %q not found", e.Placeholder, e.SourceNodeID, e.Path)
}

func (e *ErrMappingUnresolved) Unwrap() error { return blueprint.ErrInputUnresolved }

// ResolveInputMappings resolves every placeholder in mappings against rc,
// returning a flat map suitable for JSON-Schema validation and executor
// dispatch.
func ResolveInputMappings(mappings map[string]blueprint.Mapping, rc *blueprint.RunContext) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(mappings))
	for placeholder, m := range mappings {
		v, err := resolveOne(placeholder, m, rc)
		if err != nil {
			return nil, err
		}
		out[placeholder] = v
	}
	return out, nil
}

func resolveOne(placeholder string, m blueprint.Mapping, rc *blueprint.RunContext) (interface{}, error) {
	if m.IsLiteral() {
		var v interface{}
		if err := json.Unmarshal(m.Literal, &v); err != nil {
			return nil, fmt.Errorf("input mapping %q: invalid literal: %w", placeholder, err)
		}
		return v, nil
	}

	raw, ok := rc.GetOutput(m.SourceNodeID)
	if !ok {
		return nil, &ErrMappingUnresolved{Placeholder: placeholder, SourceNodeID: m.SourceNodeID, Path: m.SourceOutputKey}
	}

	path := m.SourceOutputKey
	if path == "" || path == "." {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("input mapping %q: %w", placeholder, err)
		}
		return v, nil
	}

	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return nil, &ErrMappingUnresolved{Placeholder: placeholder, SourceNodeID: m.SourceNodeID, Path: path}
	}
	return result.Value(), nil
}

// GetPath extracts a dotted path from a RunContext node output (used by the
// `loop` node's items_source and by condition's context access). Returns
// ok=false if the node id or path is not found.
func GetPath(rc *blueprint.RunContext, dottedPath string) (gjson.Result, bool) {
	parts := strings.SplitN(dottedPath, ".", 2)
	raw, ok := rc.GetOutput(parts[0])
	if !ok {
		return gjson.Result{}, false
	}
	if len(parts) == 1 {
		return gjson.ParseBytes(raw), true
	}
	r := gjson.GetBytes(raw, parts[1])
	return r, r.Exists()
}

var templateVar = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// RenderTemplate substitutes every `{{dotted.path}}` placeholder in tmpl
// with the corresponding value from rc's outputs (or "inputs.*" for the
// run's top-level inputs). Dotted access only. Unresolved placeholders are
// left verbatim so callers can detect them via the returned `missing`
// slice.
func RenderTemplate(tmpl string, rc *blueprint.RunContext) (rendered string, missing []string) {
	rendered = templateVar.ReplaceAllStringFunc(tmpl, func(m string) string {
		path := templateVar.FindStringSubmatch(m)[1]
		if strings.HasPrefix(path, "inputs.") {
			r := gjson.GetBytes(rc.Inputs, strings.TrimPrefix(path, "inputs."))
			if r.Exists() {
				return r.String()
			}
			missing = append(missing, path)
			return m
		}
		r, ok := GetPath(rc, path)
		if !ok {
			missing = append(missing, path)
			return m
		}
		return r.String()
	})
	return rendered, missing
}

// RenderArgs renders template placeholders in every string-typed value of
// toolArgs, leaving non-string JSON values untouched; numbers, bools, and
// objects pass through as literals.
func RenderArgs(toolArgs map[string]json.RawMessage, rc *blueprint.RunContext) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(toolArgs))
	for k, raw := range toolArgs {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			rendered, _ := RenderTemplate(s, rc)
			out[k] = rendered
			continue
		}
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("tool_args[%q]: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
