// Package registry implements the process-wide executor registry: a
// type-indexed map from node type to executor function, plus name-indexed
// factories for tools, agents, LLM providers, and named workflows.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/graph/emit"
	"github.com/stef-writes/iceOS-sub005/graph/model"
	"github.com/stef-writes/iceOS-sub005/graph/tool"
	"github.com/stef-writes/iceOS-sub005/memstore"
)

// RegistryError is returned by Register* on a name/type conflict, or by
// GetTool/GetAgent/GetLLM on a missing registration (GetExecutor and
// GetWorkflow report a missing entry with a false bool instead).
type RegistryError struct {
	Op, Name string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry: %s: %q", e.Op, e.Name)
}

// Executor is the shared signature every node executor implements: a
// function of (runtime, nodeSpec, context) returning a
// NodeExecutionResult.
type Executor func(ctx context.Context, rt Runtime, node blueprint.NodeSpec, execCtx *blueprint.RunContext) blueprint.NodeExecutionResult

// Runtime is the small facade executors are given instead of a concrete
// scheduler, breaking the cycle between scheduler, executors, and
// registry: the scheduler depends on executor lookup, executors depend
// only on this facade.
type Runtime interface {
	// Registry returns the process-wide registry for tool/agent/llm/workflow lookups.
	Registry() *Registry
	// Emit appends an event to the run's event stream.
	Emit(event emit.Event)
	// RunSubgraph re-enters the scheduler on a nested node list (used by
	// loop/parallel/workflow/condition), returning per-node results keyed
	// by node id plus an overall success flag.
	RunSubgraph(ctx context.Context, nodes []blueprint.NodeSpec, execCtx *blueprint.RunContext, maxParallel int) (*SubgraphResult, error)
	// RegisterLLMCall and RegisterToolExec consult/update the run's
	// budget; they return blueprint.ErrBudgetExceeded when a cap is
	// tripped.
	RegisterLLMCall(model string, promptTokens, completionTokens int, nodeID string) (costUSD float64, err error)
	RegisterToolExec() error
	// RunID identifies the current run, for scoping memory-store retrieval
	// and idempotency keys.
	RunID() string
	// LookupNode returns the NodeSpec for id in the running blueprint, used
	// by the recursive executor to resolve its partner node's agent package.
	LookupNode(id string) (blueprint.NodeSpec, bool)
	// AwaitApproval parks a human node until an external approve/reject
	// arrives for (run, node) or timeoutMS elapses. In development mode
	// the runtime's auto-approval stub resolves immediately.
	AwaitApproval(ctx context.Context, nodeID, prompt string, timeoutMS int) (bool, error)
	// Memory returns the MemoryStore capability for memory_aware llm/agent
	// nodes. Never nil: a Registry with no configured store answers with
	// memstore.NullStore.
	Memory() memstore.MemoryStore
}

// SubgraphResult is the result of a nested scheduler invocation.
type SubgraphResult struct {
	Success     bool
	NodeResults map[string]blueprint.NodeExecutionResult
	Outputs     map[string]interface{}
}

// ToolFactory builds a tool.Tool instance, e.g. to inject per-run credentials.
type ToolFactory func() (tool.Tool, error)

// AgentFactory builds an Agent instance (defined in package builtin; kept as
// `interface{}` here to avoid registry depending on builtin).
type AgentFactory func() (interface{}, error)

// LLMFactory builds a model.ChatModel for a given model id.
type LLMFactory func() (model.ChatModel, error)

// FactoryRef is one entry of a declarative plugin manifest. Import-path
// dynamic loading doesn't exist in Go, so a manifest is a slice of
// already-linked factory functions supplied by the embedding binary.
type FactoryRef struct {
	Kind    string // "executor" | "tool" | "agent" | "llm" | "workflow"
	Name    string
	Execute Executor
	Tool    ToolFactory
	Agent   AgentFactory
	LLM     LLMFactory
	Flow    *blueprint.Blueprint
}

// Manifest is the declarative list of factories loaded once at startup.
type Manifest struct {
	Entries []FactoryRef
}

// Registry is the process-wide factory and executor index.
type Registry struct {
	mu           sync.RWMutex
	executors    map[blueprint.NodeType]Executor
	tools        map[string]ToolFactory
	agents       map[string]AgentFactory
	llms         map[string]LLMFactory
	workflows    map[string]*blueprint.Blueprint
	allowDynamic bool
	manifestDone bool
	memory       memstore.MemoryStore
}

// New builds an empty Registry. allowDynamic mirrors config.Runtime's
// AllowDynamicRegistration knob (off in production).
func New(allowDynamic bool) *Registry {
	return &Registry{
		executors:    make(map[blueprint.NodeType]Executor),
		tools:        make(map[string]ToolFactory),
		agents:       make(map[string]AgentFactory),
		llms:         make(map[string]LLMFactory),
		workflows:    make(map[string]*blueprint.Blueprint),
		allowDynamic: allowDynamic,
		memory:       memstore.NullStore{},
	}
}

// SetMemory installs the MemoryStore capability backing memory_aware llm and
// agent nodes. Not gated by allowDynamic: it's process wiring, not a node
// type/tool/agent/llm/workflow name registration.
func (r *Registry) SetMemory(m memstore.MemoryStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory = m
}

// Memory returns the configured MemoryStore, or memstore.NullStore if none
// was set.
func (r *Registry) Memory() memstore.MemoryStore {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.memory
}

func (r *Registry) checkDynamicAllowed(op string) error {
	if r.manifestDone && !r.allowDynamic {
		return &RegistryError{Op: "dynamic registration disabled (" + op + ")", Name: ""}
	}
	return nil
}

// RegisterExecutor registers fn for nt. A second registration under the
// same node type is always a conflict, before or after the manifest has
// loaded: Go funcs aren't comparable, so re-registering the same fn is not
// recognized as a no-op.
func (r *Registry) RegisterExecutor(nt blueprint.NodeType, fn Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkDynamicAllowed("RegisterExecutor"); err != nil {
		return err
	}
	if _, exists := r.executors[nt]; exists {
		return &RegistryError{Op: "RegisterExecutor: conflicting node type", Name: string(nt)}
	}
	r.executors[nt] = fn
	return nil
}

// RegisterToolFactory registers a named tool factory.
func (r *Registry) RegisterToolFactory(name string, f ToolFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkDynamicAllowed("RegisterToolFactory"); err != nil {
		return err
	}
	if _, exists := r.tools[name]; exists {
		return &RegistryError{Op: "RegisterToolFactory: conflicting name", Name: name}
	}
	r.tools[name] = f
	return nil
}

// RegisterAgentFactory registers a named agent factory.
func (r *Registry) RegisterAgentFactory(name string, f AgentFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkDynamicAllowed("RegisterAgentFactory"); err != nil {
		return err
	}
	if _, exists := r.agents[name]; exists {
		return &RegistryError{Op: "RegisterAgentFactory: conflicting name", Name: name}
	}
	r.agents[name] = f
	return nil
}

// RegisterLLMFactory registers a factory for a given model id.
func (r *Registry) RegisterLLMFactory(modelID string, f LLMFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkDynamicAllowed("RegisterLLMFactory"); err != nil {
		return err
	}
	if _, exists := r.llms[modelID]; exists {
		return &RegistryError{Op: "RegisterLLMFactory: conflicting model id", Name: modelID}
	}
	r.llms[modelID] = f
	return nil
}

// RegisterWorkflow registers a named, versioned sub-blueprint for the
// `workflow` node type to resolve by reference.
func (r *Registry) RegisterWorkflow(name string, b *blueprint.Blueprint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkDynamicAllowed("RegisterWorkflow"); err != nil {
		return err
	}
	if _, exists := r.workflows[name]; exists {
		return &RegistryError{Op: "RegisterWorkflow: conflicting name", Name: name}
	}
	r.workflows[name] = b
	return nil
}

// GetExecutor looks up the executor for nt.
func (r *Registry) GetExecutor(nt blueprint.NodeType) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.executors[nt]
	return fn, ok
}

// GetTool builds a tool instance by name.
func (r *Registry) GetTool(name string) (tool.Tool, error) {
	r.mu.RLock()
	f, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &RegistryError{Op: "GetTool", Name: name}
	}
	return f()
}

// GetAgent builds an agent instance by package name.
func (r *Registry) GetAgent(name string) (interface{}, error) {
	r.mu.RLock()
	f, ok := r.agents[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &RegistryError{Op: "GetAgent", Name: name}
	}
	return f()
}

// GetLLM builds a ChatModel instance by model id.
func (r *Registry) GetLLM(modelID string) (model.ChatModel, error) {
	r.mu.RLock()
	f, ok := r.llms[modelID]
	r.mu.RUnlock()
	if !ok {
		return nil, &RegistryError{Op: "GetLLM", Name: modelID}
	}
	return f()
}

// GetWorkflow resolves a named workflow.
func (r *Registry) GetWorkflow(name string) (*blueprint.Blueprint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.workflows[name]
	return b, ok
}

// HasTool/HasAgent/HasWorkflow implement blueprint.RegistryChecker, letting
// blueprint.Validate confirm references resolve at finalization time.
func (r *Registry) HasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

func (r *Registry) HasAgent(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok
}

func (r *Registry) HasWorkflow(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.workflows[name]
	return ok
}

// LoadManifest loads a declarative manifest at startup. After it returns,
// further Register* calls are gated by allowDynamic.
func (r *Registry) LoadManifest(m Manifest) error {
	for _, e := range m.Entries {
		var err error
		switch e.Kind {
		case "executor":
			err = r.RegisterExecutor(blueprint.NodeType(e.Name), e.Execute)
		case "tool":
			err = r.RegisterToolFactory(e.Name, e.Tool)
		case "agent":
			err = r.RegisterAgentFactory(e.Name, e.Agent)
		case "llm":
			err = r.RegisterLLMFactory(e.Name, e.LLM)
		case "workflow":
			err = r.RegisterWorkflow(e.Name, e.Flow)
		default:
			err = &RegistryError{Op: "LoadManifest: unknown kind", Name: e.Kind}
		}
		if err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.manifestDone = true
	r.mu.Unlock()
	return nil
}
