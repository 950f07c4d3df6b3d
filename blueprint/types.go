// Package blueprint implements the typed node graph: node specs, schema
// and dependency validation, and topology hashing.
package blueprint

import (
	"encoding/json"
	"fmt"
	"sync"
)

// NodeType discriminates the tagged NodeSpec variant.
type NodeType string

const (
	NodeTool      NodeType = "tool"
	NodeLLM       NodeType = "llm"
	NodeAgent     NodeType = "agent"
	NodeCondition NodeType = "condition"
	NodeLoop      NodeType = "loop"
	NodeParallel  NodeType = "parallel"
	NodeCode      NodeType = "code"
	NodeRecursive NodeType = "recursive"
	NodeWorkflow  NodeType = "workflow"
	NodeHuman     NodeType = "human"
	NodeSwarm     NodeType = "swarm"
)

// BackoffStrategy selects how RetryPolicy spaces out retries.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy configures per-node retries: a bounded attempt count with
// either fixed or exponential spacing.
type RetryPolicy struct {
	MaxAttempts     int             `json:"max_attempts"`
	BackoffStrategy BackoffStrategy `json:"backoff_strategy"`
	BackoffMS       int             `json:"backoff_ms"`
}

// WaitStrategy selects how a parallel node decides overall success.
type WaitStrategy string

const (
	WaitAll  WaitStrategy = "all"
	WaitAny  WaitStrategy = "any"
	WaitNOfM WaitStrategy = "n-of-m"
)

// Mapping resolves one input placeholder: either a JSON literal, or a
// pointer into another node's output via a dotted path.
type Mapping struct {
	Literal         json.RawMessage `json:"literal,omitempty"`
	SourceNodeID    string          `json:"source_node_id,omitempty"`
	SourceOutputKey string          `json:"source_output_key,omitempty"`
}

// IsLiteral reports whether this mapping carries an inline literal rather
// than a reference to another node's output.
func (m Mapping) IsLiteral() bool {
	return len(m.Literal) > 0 && m.SourceNodeID == ""
}

// BranchMembership declares that a node belongs to one branch of an
// ancestor condition node: the node runs only when that condition's
// decision equals When. Branch gating deactivates any node whose declared
// membership conflicts with a recorded decision.
type BranchMembership struct {
	ConditionNodeID string `json:"condition_node_id"`
	When            bool   `json:"when"`
}

// ToolRef names a tool an agent node may invoke.
type ToolRef struct {
	Name string `json:"name"`
}

// MemoryConfig scopes an agent's or llm's retrieval against a MemoryStore.
type MemoryConfig struct {
	Enabled bool   `json:"enabled"`
	Scope   string `json:"scope,omitempty"`
	TopK    int    `json:"top_k,omitempty"`
}

// ToolSpec holds the fields required by a `tool` node.
type ToolSpec struct {
	ToolName string                     `json:"tool_name"`
	ToolArgs map[string]json.RawMessage `json:"tool_args,omitempty"`
}

// ResponseFormat constrains an llm node's output shape.
type ResponseFormat string

const (
	ResponseText        ResponseFormat = "text"
	ResponseJSON        ResponseFormat = "json"
	ResponseToolCalling ResponseFormat = "tool_calling"
)

// LLMConfig carries provider-tunable generation parameters.
type LLMConfig struct {
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// LLMSpec holds the fields required by an `llm` node.
type LLMSpec struct {
	Model          string         `json:"model"`
	Prompt         string         `json:"prompt"`
	LLMConfig      LLMConfig      `json:"llm_config"`
	MemoryAware    bool           `json:"memory_aware,omitempty"`
	ResponseFormat ResponseFormat `json:"response_format,omitempty"`
}

// AgentSpec holds the fields required by an `agent` node.
type AgentSpec struct {
	Package       string        `json:"package"`
	Tools         []ToolRef     `json:"tools,omitempty"`
	MaxIterations int           `json:"max_iterations"`
	MemoryConfig  *MemoryConfig `json:"memory_config,omitempty"`
}

// ConditionSpec holds the fields required by a `condition` node. TruePath
// and FalsePath are recursively-typed NodeSpec slices for the inline-branch
// form, executed in place by the condition executor.
type ConditionSpec struct {
	Expression string     `json:"expression"`
	TruePath   []NodeSpec `json:"true_path,omitempty"`
	FalsePath  []NodeSpec `json:"false_path,omitempty"`
}

// LoopSpec holds the fields required by a `loop` node.
type LoopSpec struct {
	ItemsSource   string     `json:"items_source"`
	ItemVar       string     `json:"item_var"`
	Body          []NodeSpec `json:"body"`
	MaxIterations int        `json:"max_iterations"`
}

// ParallelSpec holds the fields required by a `parallel` node.
type ParallelSpec struct {
	Branches     [][]NodeSpec `json:"branches"`
	WaitStrategy WaitStrategy `json:"wait_strategy"`
	N            int          `json:"n,omitempty"` // for n-of-m
}

// CodeSpec holds the fields required by a `code` node.
type CodeSpec struct {
	Code     string   `json:"code"`
	Language string   `json:"language"`
	Imports  []string `json:"imports,omitempty"`
}

// Convergence bounds a recursive node's alternation loop.
type Convergence struct {
	MaxIterations int    `json:"max_iterations"`
	StopPredicate string `json:"stop_predicate"`
}

// RecursiveSpec holds the fields required by a `recursive` node.
type RecursiveSpec struct {
	AgentPackage  string      `json:"agent_package"`
	PartnerNodeID string      `json:"partner_node_id"`
	Convergence   Convergence `json:"convergence"`
}

// WorkflowSpec holds the fields required by a `workflow` node.
type WorkflowSpec struct {
	WorkflowRef string `json:"workflow_ref"`
}

// HumanSpec holds the fields required by a `human` node.
type HumanSpec struct {
	PromptForApproval string `json:"prompt_for_approval"`
	TimeoutMS         int    `json:"timeout_ms"`
}

// SwarmAgentRef names one agent participating in a swarm node.
type SwarmAgentRef struct {
	Role    string `json:"role"`
	Package string `json:"package"`
}

// SwarmSpec holds the fields required by a `swarm` node.
type SwarmSpec struct {
	Agents               []SwarmAgentRef `json:"agents"`
	CoordinationStrategy string          `json:"coordination_strategy,omitempty"`
}

// NodeSpec is one typed unit of work in a blueprint. Exactly one of the
// per-type pointer fields is populated, matching node.Type.
type NodeSpec struct {
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

	Tool      *ToolSpec      `json:"tool,omitempty"`
	LLM       *LLMSpec       `json:"llm,omitempty"`
	Agent     *AgentSpec     `json:"agent,omitempty"`
	Condition *ConditionSpec `json:"condition,omitempty"`
	Loop      *LoopSpec      `json:"loop,omitempty"`
	Parallel  *ParallelSpec  `json:"parallel,omitempty"`
	Code      *CodeSpec      `json:"code,omitempty"`
	Recursive *RecursiveSpec `json:"recursive,omitempty"`
	Workflow  *WorkflowSpec  `json:"workflow,omitempty"`
	Human     *HumanSpec     `json:"human,omitempty"`
	Swarm     *SwarmSpec     `json:"swarm,omitempty"`
}

// UseCacheOr returns UseCache if explicitly set, else the blueprint-level
// default. The node-level flag always wins.
func (n *NodeSpec) UseCacheOr(blueprintDefault bool) bool {
	if n.UseCache != nil {
		return *n.UseCache
	}
	return blueprintDefault
}

// Blueprint is an immutable, validated DAG of nodes with metadata.
type Blueprint struct {
	ID              string            `json:"id"`
	SchemaVersion   string            `json:"schema_version"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Nodes           []NodeSpec        `json:"nodes"`
	LockVersion     int64             `json:"lock_version"`
	UseCacheDefault bool              `json:"use_cache_default,omitempty"`
}

// NodeByID returns the node with the given id, or ok=false.
func (b *Blueprint) NodeByID(id string) (NodeSpec, bool) {
	for _, n := range b.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// NodeMetadata records per-attempt execution bookkeeping, surfaced in events
// and NodeExecutionResult.
type NodeMetadata struct {
	Attempts   int   `json:"attempts"`
	DurationMS int64 `json:"duration_ms"`
	CacheHit   bool  `json:"cache_hit"`
	StartedAt  int64 `json:"started_at_unix_ms,omitempty"`
	FinishedAt int64 `json:"finished_at_unix_ms,omitempty"`
}

// Usage records LLM token accounting for one node execution.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NodeExecutionResult is the per-attempt result produced by the node
// executor.
type NodeExecutionResult struct {
	Success   bool            `json:"success"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"error_type,omitempty"`
	Metadata  NodeMetadata    `json:"metadata"`
	Usage     *Usage          `json:"usage,omitempty"`
	CostUSD   *float64        `json:"cost_usd,omitempty"`
}

// RunStatus is the lifecycle state of an Execution.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCanceled  RunStatus = "canceled"
)

// CostMeta aggregates the run's total LLM cost accounting.
type CostMeta struct {
	TotalCostUSD float64 `json:"total_cost_usd"`
	LLMCalls     int     `json:"llm_calls"`
	ToolExecs    int     `json:"tool_execs"`
}

// Execution is the durable record of one run.
type Execution struct {
	ID          string    `json:"id"`
	BlueprintID string    `json:"blueprint_id"`
	Status      RunStatus `json:"status"`
	StartedAt   *int64    `json:"started_at,omitempty"`
	FinishedAt  *int64    `json:"finished_at,omitempty"`
	CostMeta    *CostMeta `json:"cost_meta,omitempty"`
	OrgID       string    `json:"org_id,omitempty"`
}

// BudgetState is the mutable per-run budget accounting snapshot.
type BudgetState struct {
	LLMCalls     int     `json:"llm_calls"`
	ToolExecs    int     `json:"tool_execs"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// RunContext is the shared, append-only, per-run state: each completed
// node's output keyed by node id, plus the run's top-level inputs and
// caller identity. It is the concrete state type the generic
// graph.Frontier[S] and store.Store[S] machinery is instantiated at.
type RunContext struct {
	mu      sync.Mutex
	written map[string]struct{}

	Outputs   map[string]json.RawMessage `json:"outputs"`
	Inputs    json.RawMessage            `json:"inputs,omitempty"`
	OrgID     string                     `json:"org_id,omitempty"`
	UserID    string                     `json:"user_id,omitempty"`
	SessionID string                     `json:"session_id,omitempty"`
}

// NewRunContext builds an empty RunContext carrying the given identity and
// top-level inputs.
func NewRunContext(inputs json.RawMessage, orgID, userID, sessionID string) *RunContext {
	return &RunContext{
		written:   make(map[string]struct{}),
		Outputs:   make(map[string]json.RawMessage),
		Inputs:    inputs,
		OrgID:     orgID,
		UserID:    userID,
		SessionID: sessionID,
	}
}

// SetOutput writes a node's output exactly once. A second write for the
// same node id is rejected rather than silently overwriting.
func (rc *RunContext) SetOutput(nodeID string, out json.RawMessage) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.written == nil {
		rc.written = make(map[string]struct{})
	}
	if _, exists := rc.written[nodeID]; exists {
		return fmt.Errorf("blueprint: output for node %q already written", nodeID)
	}
	rc.written[nodeID] = struct{}{}
	rc.Outputs[nodeID] = out
	return nil
}

// GetOutput reads a node's output under the same lock used by SetOutput, so
// concurrent readers never observe a torn map write.
func (rc *RunContext) GetOutput(nodeID string) (json.RawMessage, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	v, ok := rc.Outputs[nodeID]
	return v, ok
}

// Clone returns a shallow snapshot safe for an executor to read
// concurrently while the scheduler keeps writing other nodes' outputs.
func (rc *RunContext) Clone() *RunContext {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make(map[string]json.RawMessage, len(rc.Outputs))
	for k, v := range rc.Outputs {
		out[k] = v
	}
	written := make(map[string]struct{}, len(rc.written))
	for k := range rc.written {
		written[k] = struct{}{}
	}
	return &RunContext{
		written:   written,
		Outputs:   out,
		Inputs:    rc.Inputs,
		OrgID:     rc.OrgID,
		UserID:    rc.UserID,
		SessionID: rc.SessionID,
	}
}
