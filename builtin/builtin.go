// Package builtin implements the built-in node executors: tool, llm,
// agent, condition, loop, parallel, code, recursive, workflow, human,
// swarm. Each satisfies registry.Executor and is dispatched by
// executor.Run after the shared resolve/validate/cache/retry lifecycle.
package builtin

import (
	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/registry"
)

// Register installs every built-in executor into reg. Called once at
// startup, before LoadManifest, so core node kinds exist ahead of any
// plugin manifest.
func Register(reg *registry.Registry) error {
	registrations := map[blueprint.NodeType]registry.Executor{
		blueprint.NodeTool:      ToolExecutor,
		blueprint.NodeLLM:       LLMExecutor,
		blueprint.NodeAgent:     AgentExecutor,
		blueprint.NodeCondition: ConditionExecutor,
		blueprint.NodeLoop:      LoopExecutor,
		blueprint.NodeParallel:  ParallelExecutor,
		blueprint.NodeCode:      CodeExecutor,
		blueprint.NodeRecursive: RecursiveExecutor,
		blueprint.NodeWorkflow:  WorkflowExecutor,
		blueprint.NodeHuman:     HumanExecutor,
		blueprint.NodeSwarm:     SwarmExecutor,
	}
	for nt, fn := range registrations {
		if err := reg.RegisterExecutor(nt, fn); err != nil {
			return err
		}
	}
	return nil
}
