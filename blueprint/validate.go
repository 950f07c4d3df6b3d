package blueprint

import "fmt"

// RegistryChecker lets Validate confirm that every referenced tool,
// agent, or named workflow resolves at finalization time. The registry
// package implements this; blueprint stays free of a dependency on
// registry to avoid an import cycle (executor and builtin depend on
// both).
type RegistryChecker interface {
	HasTool(name string) bool
	HasAgent(name string) bool
	HasWorkflow(name string) bool
}

// ValidateOptions controls how strictly Validate checks registry references.
type ValidateOptions struct {
	// Registry, if non-nil, is used to resolve tool/agent/workflow
	// references. If nil, reference resolution is skipped and the
	// blueprint is treated as a partial draft.
	Registry RegistryChecker
	// Partial allows unresolved registry references without failing
	// validation (still reports other structural errors).
	Partial bool
}

// Validate checks b against every structural invariant: unique node ids,
// dependency references exist, the graph is acyclic, input mappings target
// existing producers, schemas parse, and airgap and requires_external_io
// nodes don't coexist.
func Validate(b *Blueprint, opts ValidateOptions) error {
	seen := make(map[string]bool, len(b.Nodes))
	hasAirgap := false
	for _, n := range b.Nodes {
		if seen[n.ID] {
			return &ValidationError{Kind: ValDuplicateID, NodeID: n.ID, Detail: "duplicate node id"}
		}
		seen[n.ID] = true
		if n.Airgap {
			hasAirgap = true
		}
	}

	typeOf := make(map[string]NodeType, len(b.Nodes))
	for _, n := range b.Nodes {
		typeOf[n.ID] = n.Type
	}

	for _, n := range b.Nodes {
		for _, dep := range n.Dependencies {
			if !seen[dep] {
				return &ValidationError{Kind: ValUnknownRef, NodeID: n.ID, Detail: fmt.Sprintf("unknown dependency %q", dep)}
			}
		}
		if n.Branch != nil {
			if !seen[n.Branch.ConditionNodeID] {
				return &ValidationError{Kind: ValUnknownRef, NodeID: n.ID, Detail: fmt.Sprintf("branch membership references unknown node %q", n.Branch.ConditionNodeID)}
			}
			if typeOf[n.Branch.ConditionNodeID] != NodeCondition {
				return &ValidationError{Kind: ValBadMapping, NodeID: n.ID, Detail: fmt.Sprintf("branch membership node %q is not a condition node", n.Branch.ConditionNodeID)}
			}
		}
		if err := validateMappings(n, seen); err != nil {
			return err
		}
		if err := validateSchemas(n); err != nil {
			return err
		}
		if err := validateRegistryRefs(n, opts); err != nil {
			return err
		}
	}

	if hasAirgap {
		for _, n := range b.Nodes {
			if n.RequiresExternalIO {
				return &ValidationError{Kind: ValAirgapViolation, NodeID: n.ID, Detail: "requires_external_io node present alongside an airgap node"}
			}
		}
	}

	g := DependencyGraph(b)
	if g.HasCycle() {
		return &ValidationError{Kind: ValCycle, Detail: "dependency graph contains a cycle"}
	}
	return nil
}

func validateMappings(n NodeSpec, seen map[string]bool) error {
	for placeholder, m := range n.InputMappings {
		if m.IsLiteral() {
			continue
		}
		if m.SourceNodeID == "" {
			return &ValidationError{Kind: ValBadMapping, NodeID: n.ID, Detail: fmt.Sprintf("mapping %q has neither literal nor source_node_id", placeholder)}
		}
		if !seen[m.SourceNodeID] {
			return &ValidationError{Kind: ValBadMapping, NodeID: n.ID, Detail: fmt.Sprintf("mapping %q references unknown node %q", placeholder, m.SourceNodeID)}
		}
		depFound := false
		for _, dep := range n.Dependencies {
			if dep == m.SourceNodeID {
				depFound = true
				break
			}
		}
		if !depFound {
			return &ValidationError{Kind: ValBadMapping, NodeID: n.ID, Detail: fmt.Sprintf("mapping %q's source_node_id %q is not a declared dependency", placeholder, m.SourceNodeID)}
		}
	}
	return nil
}

func validateSchemas(n NodeSpec) error {
	if len(n.InputSchema) > 0 {
		if _, err := ParseSchema(n.InputSchema); err != nil {
			return &ValidationError{Kind: ValSchemaInvalid, NodeID: n.ID, Detail: "input_schema: " + err.Error()}
		}
	}
	if len(n.OutputSchema) > 0 {
		if _, err := ParseSchema(n.OutputSchema); err != nil {
			return &ValidationError{Kind: ValSchemaInvalid, NodeID: n.ID, Detail: "output_schema: " + err.Error()}
		}
	}
	return nil
}

func validateRegistryRefs(n NodeSpec, opts ValidateOptions) error {
	if opts.Registry == nil || opts.Partial {
		return nil
	}
	switch n.Type {
	case NodeTool:
		if n.Tool != nil && !opts.Registry.HasTool(n.Tool.ToolName) {
			return &ValidationError{Kind: ValUnknownRef, NodeID: n.ID, Detail: fmt.Sprintf("unresolved tool %q", n.Tool.ToolName)}
		}
	case NodeAgent:
		if n.Agent != nil && !opts.Registry.HasAgent(n.Agent.Package) {
			return &ValidationError{Kind: ValUnknownRef, NodeID: n.ID, Detail: fmt.Sprintf("unresolved agent package %q", n.Agent.Package)}
		}
	case NodeWorkflow:
		if n.Workflow != nil && !opts.Registry.HasWorkflow(n.Workflow.WorkflowRef) {
			return &ValidationError{Kind: ValUnknownRef, NodeID: n.ID, Detail: fmt.Sprintf("unresolved workflow %q", n.Workflow.WorkflowRef)}
		}
	}
	return nil
}
