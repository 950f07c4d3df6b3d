package blueprint

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// wireNodeSpec is the union of every field any NodeSpec variant may carry
// on the wire. Decoding into this flat struct with DisallowUnknownFields
// rejects unknown fields for free, while UnmarshalJSON below distributes
// the type-specific fields into NodeSpec's nested per-variant structs.
type wireNodeSpec struct {
	ID                 string             `json:"id"`
	Type               NodeType           `json:"type"`
	Name               string             `json:"name,omitempty"`
	Dependencies       []string           `json:"dependencies,omitempty"`
	InputSchema        json.RawMessage    `json:"input_schema,omitempty"`
	OutputSchema       json.RawMessage    `json:"output_schema,omitempty"`
	InputMappings      map[string]Mapping `json:"input_mappings,omitempty"`
	RetryPolicy        *RetryPolicy       `json:"retry_policy,omitempty"`
	TimeoutMS          int                `json:"timeout_ms,omitempty"`
	UseCache           *bool              `json:"use_cache,omitempty"`
	Provider           string             `json:"provider,omitempty"`
	Airgap             bool               `json:"airgap,omitempty"`
	RequiresExternalIO bool               `json:"requires_external_io,omitempty"`
	Branch             *BranchMembership  `json:"branch,omitempty"`

	// tool
	ToolName string                     `json:"tool_name,omitempty"`
	ToolArgs map[string]json.RawMessage `json:"tool_args,omitempty"`

	// llm
	Model          string         `json:"model,omitempty"`
	Prompt         string         `json:"prompt,omitempty"`
	LLMConfig      LLMConfig      `json:"llm_config,omitempty"`
	MemoryAware    bool           `json:"memory_aware,omitempty"`
	ResponseFormat ResponseFormat `json:"response_format,omitempty"`

	// agent
	Package       string        `json:"package,omitempty"`
	Tools         []ToolRef     `json:"tools,omitempty"`
	MaxIterations int           `json:"max_iterations,omitempty"`
	MemoryConfig  *MemoryConfig `json:"memory_config,omitempty"`

	// condition
	Expression string     `json:"expression,omitempty"`
	TruePath   []NodeSpec `json:"true_path,omitempty"`
	FalsePath  []NodeSpec `json:"false_path,omitempty"`

	// loop
	ItemsSource string     `json:"items_source,omitempty"`
	ItemVar     string     `json:"item_var,omitempty"`
	Body        []NodeSpec `json:"body,omitempty"`

	// parallel
	Branches     [][]NodeSpec `json:"branches,omitempty"`
	WaitStrategy WaitStrategy `json:"wait_strategy,omitempty"`
	N            int          `json:"n,omitempty"`

	// code
	Code     string   `json:"code,omitempty"`
	Language string   `json:"language,omitempty"`
	Imports  []string `json:"imports,omitempty"`

	// recursive
	AgentPackage  string      `json:"agent_package,omitempty"`
	PartnerNodeID string      `json:"partner_node_id,omitempty"`
	Convergence   Convergence `json:"convergence,omitempty"`

	// workflow
	WorkflowRef string `json:"workflow_ref,omitempty"`

	// human
	PromptForApproval string `json:"prompt_for_approval,omitempty"`

	// swarm
	Agents               []SwarmAgentRef `json:"agents,omitempty"`
	CoordinationStrategy string          `json:"coordination_strategy,omitempty"`
}

// UnmarshalJSON dispatches on `type`, rejecting unknown fields.
func (n *NodeSpec) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wireNodeSpec
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("blueprint: decoding node spec: %w", err)
	}

	*n = NodeSpec{
		ID:                 w.ID,
		Type:               w.Type,
		Name:               w.Name,
		Dependencies:       w.Dependencies,
		InputSchema:        w.InputSchema,
		OutputSchema:       w.OutputSchema,
		InputMappings:      w.InputMappings,
		RetryPolicy:        w.RetryPolicy,
		TimeoutMS:          w.TimeoutMS,
		UseCache:           w.UseCache,
		Provider:           w.Provider,
		Airgap:             w.Airgap,
		RequiresExternalIO: w.RequiresExternalIO,
		Branch:             w.Branch,
	}

	switch w.Type {
	case NodeTool:
		n.Tool = &ToolSpec{ToolName: w.ToolName, ToolArgs: w.ToolArgs}
	case NodeLLM:
		n.LLM = &LLMSpec{Model: w.Model, Prompt: w.Prompt, LLMConfig: w.LLMConfig, MemoryAware: w.MemoryAware, ResponseFormat: w.ResponseFormat}
	case NodeAgent:
		n.Agent = &AgentSpec{Package: w.Package, Tools: w.Tools, MaxIterations: w.MaxIterations, MemoryConfig: w.MemoryConfig}
	case NodeCondition:
		n.Condition = &ConditionSpec{Expression: w.Expression, TruePath: w.TruePath, FalsePath: w.FalsePath}
	case NodeLoop:
		n.Loop = &LoopSpec{ItemsSource: w.ItemsSource, ItemVar: w.ItemVar, Body: w.Body, MaxIterations: w.MaxIterations}
	case NodeParallel:
		n.Parallel = &ParallelSpec{Branches: w.Branches, WaitStrategy: w.WaitStrategy, N: w.N}
	case NodeCode:
		n.Code = &CodeSpec{Code: w.Code, Language: w.Language, Imports: w.Imports}
	case NodeRecursive:
		n.Recursive = &RecursiveSpec{AgentPackage: w.AgentPackage, PartnerNodeID: w.PartnerNodeID, Convergence: w.Convergence}
	case NodeWorkflow:
		n.Workflow = &WorkflowSpec{WorkflowRef: w.WorkflowRef}
	case NodeHuman:
		n.Human = &HumanSpec{PromptForApproval: w.PromptForApproval, TimeoutMS: w.TimeoutMS}
	case NodeSwarm:
		n.Swarm = &SwarmSpec{Agents: w.Agents, CoordinationStrategy: w.CoordinationStrategy}
	default:
		return &ValidationError{Kind: ValSchemaInvalid, NodeID: w.ID, Detail: fmt.Sprintf("unknown node type %q", w.Type)}
	}
	return nil
}

// MarshalJSON flattens NodeSpec's per-variant struct back into the wire
// shape, the inverse of UnmarshalJSON.
func (n NodeSpec) MarshalJSON() ([]byte, error) {
	w := wireNodeSpec{
		ID:                 n.ID,
		Type:               n.Type,
		Name:               n.Name,
		Dependencies:       n.Dependencies,
		InputSchema:        n.InputSchema,
		OutputSchema:       n.OutputSchema,
		InputMappings:      n.InputMappings,
		RetryPolicy:        n.RetryPolicy,
		TimeoutMS:          n.TimeoutMS,
		UseCache:           n.UseCache,
		Provider:           n.Provider,
		Airgap:             n.Airgap,
		RequiresExternalIO: n.RequiresExternalIO,
		Branch:             n.Branch,
	}
	switch n.Type {
	case NodeTool:
		if n.Tool != nil {
			w.ToolName, w.ToolArgs = n.Tool.ToolName, n.Tool.ToolArgs
		}
	case NodeLLM:
		if n.LLM != nil {
			w.Model, w.Prompt, w.LLMConfig, w.MemoryAware, w.ResponseFormat = n.LLM.Model, n.LLM.Prompt, n.LLM.LLMConfig, n.LLM.MemoryAware, n.LLM.ResponseFormat
		}
	case NodeAgent:
		if n.Agent != nil {
			w.Package, w.Tools, w.MaxIterations, w.MemoryConfig = n.Agent.Package, n.Agent.Tools, n.Agent.MaxIterations, n.Agent.MemoryConfig
		}
	case NodeCondition:
		if n.Condition != nil {
			w.Expression, w.TruePath, w.FalsePath = n.Condition.Expression, n.Condition.TruePath, n.Condition.FalsePath
		}
	case NodeLoop:
		if n.Loop != nil {
			w.ItemsSource, w.ItemVar, w.Body, w.MaxIterations = n.Loop.ItemsSource, n.Loop.ItemVar, n.Loop.Body, n.Loop.MaxIterations
		}
	case NodeParallel:
		if n.Parallel != nil {
			w.Branches, w.WaitStrategy, w.N = n.Parallel.Branches, n.Parallel.WaitStrategy, n.Parallel.N
		}
	case NodeCode:
		if n.Code != nil {
			w.Code, w.Language, w.Imports = n.Code.Code, n.Code.Language, n.Code.Imports
		}
	case NodeRecursive:
		if n.Recursive != nil {
			w.AgentPackage, w.PartnerNodeID, w.Convergence = n.Recursive.AgentPackage, n.Recursive.PartnerNodeID, n.Recursive.Convergence
		}
	case NodeWorkflow:
		if n.Workflow != nil {
			w.WorkflowRef = n.Workflow.WorkflowRef
		}
	case NodeHuman:
		if n.Human != nil {
			w.PromptForApproval, w.TimeoutMS = n.Human.PromptForApproval, n.Human.TimeoutMS
		}
	case NodeSwarm:
		if n.Swarm != nil {
			w.Agents, w.CoordinationStrategy = n.Swarm.Agents, n.Swarm.CoordinationStrategy
		}
	}
	return json.Marshal(w)
}
