package blueprint

import (
	"encoding/json"
	"fmt"
	"strings"
)

// scalarKinds are the four atomic types the simple-literal grammar
// allows: str, int, float, bool.
var scalarKinds = map[string]bool{"str": true, "int": true, "float": true, "bool": true}

// Schema is a parsed input/output schema declaration: either a simple
// type literal or a JSON-Schema subset object.
type Schema struct {
	raw json.RawMessage

	// literal form, e.g. "str", "list[str]", "dict"
	literalKind  string // "", "str","int","float","bool","dict"
	listElemKind string // set when literalKind came from "list[<elem>]"

	// JSON-Schema object form
	isJSONSchema bool
	jsonSchema   map[string]interface{}
}

// ParseSchema validates the well-formedness of a schema declaration:
// scalar, list[scalar], or dict literals, or a JSON-Schema object. Union
// types and function schemas are rejected. Called during
// blueprint.Validate and again by the executor before checking a concrete
// value against the schema.
func ParseSchema(raw json.RawMessage) (*Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	trimmed := strings.TrimSpace(string(raw))

	// String literal form: `"str"`, `"list[str]"`, etc.
	if strings.HasPrefix(trimmed, `"`) {
		var lit string
		if err := json.Unmarshal(raw, &lit); err != nil {
			return nil, fmt.Errorf("blueprint: schema literal: %w", err)
		}
		if scalarKinds[lit] || lit == "dict" {
			return &Schema{raw: raw, literalKind: lit}, nil
		}
		if strings.HasPrefix(lit, "list[") && strings.HasSuffix(lit, "]") {
			elem := lit[len("list[") : len(lit)-1]
			if !scalarKinds[elem] {
				return nil, fmt.Errorf("blueprint: schema %q: list element must be a scalar", lit)
			}
			return &Schema{raw: raw, literalKind: "list", listElemKind: elem}, nil
		}
		if strings.Contains(lit, "|") {
			return nil, fmt.Errorf("blueprint: schema %q: union types are rejected", lit)
		}
		return nil, fmt.Errorf("blueprint: unrecognized schema literal %q", lit)
	}

	// JSON-Schema object form.
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("blueprint: schema object: %w", err)
	}
	if t, ok := obj["type"]; ok {
		if arr, ok := t.([]interface{}); ok && len(arr) > 1 {
			return nil, fmt.Errorf("blueprint: schema: union \"type\" arrays are rejected")
		}
	}
	if _, ok := obj["function"]; ok {
		return nil, fmt.Errorf("blueprint: schema: function schemas are rejected")
	}
	return &Schema{raw: raw, isJSONSchema: true, jsonSchema: obj}, nil
}

// Validate checks value (already json.Unmarshal'd into an any) against
// the schema. Only a practical subset of JSON-Schema is enforced: "type",
// "required", and "properties" for objects, and element-type checking for
// lists. Unrecognized keywords are ignored rather than rejected.
func (s *Schema) Validate(value interface{}) error {
	if s == nil {
		return nil
	}
	if s.isJSONSchema {
		return validateJSONSchema(s.jsonSchema, value)
	}
	switch s.literalKind {
	case "str":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected str, got %T", value)
		}
	case "int", "float":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("expected %s, got %T", s.literalKind, value)
		}
	case "bool":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
	case "dict":
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("expected dict, got %T", value)
		}
	case "list":
		arr, ok := value.([]interface{})
		if !ok {
			return fmt.Errorf("expected list, got %T", value)
		}
		for i, el := range arr {
			if err := (&Schema{literalKind: s.listElemKind}).Validate(el); err != nil {
				return fmt.Errorf("list[%d]: %w", i, err)
			}
		}
	}
	return nil
}

func validateJSONSchema(schema map[string]interface{}, value interface{}) error {
	t, _ := schema["type"].(string)
	if t != "" {
		if err := checkJSONType(t, value); err != nil {
			return err
		}
	}
	if t == "object" {
		obj, _ := value.(map[string]interface{})
		if req, ok := schema["required"].([]interface{}); ok {
			for _, r := range req {
				name, _ := r.(string)
				if _, present := obj[name]; !present {
					return fmt.Errorf("missing required property %q", name)
				}
			}
		}
		if props, ok := schema["properties"].(map[string]interface{}); ok {
			for name, propSchema := range props {
				if v, present := obj[name]; present {
					ps, _ := propSchema.(map[string]interface{})
					if err := validateJSONSchema(ps, v); err != nil {
						return fmt.Errorf("property %q: %w", name, err)
					}
				}
			}
		}
	}
	return nil
}

func checkJSONType(t string, value interface{}) error {
	switch t {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case "number", "integer":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("expected %s, got %T", t, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case "object":
		if value == nil {
			return fmt.Errorf("expected object, got nil")
		}
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("expected object, got %T", value)
		}
	case "array":
		if _, ok := value.([]interface{}); !ok {
			return fmt.Errorf("expected array, got %T", value)
		}
	}
	return nil
}
