package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/registry"
)

// branchOutcome is one branch's terminal result.
type branchOutcome struct {
	index  int
	output json.RawMessage
	err    error
}

// ParallelExecutor launches each branch as a sub-scheduler run over a
// snapshot of the context and resolves per wait_strategy: all (list of
// outputs by branch index), any (first success, siblings canceled), n-of-m
// (first n successes, rest canceled). Cancellation of losing branches is
// cooperative via their shared context.
func ParallelExecutor(ctx context.Context, rt registry.Runtime, node blueprint.NodeSpec, execCtx *blueprint.RunContext) blueprint.NodeExecutionResult {
	if node.Parallel == nil {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("parallel node %q: missing parallel spec", node.ID))
	}
	spec := node.Parallel
	if len(spec.Branches) == 0 {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("parallel node %q: no branches", node.ID))
	}

	need := len(spec.Branches)
	switch spec.WaitStrategy {
	case blueprint.WaitAll, "":
		// need stays len(branches)
	case blueprint.WaitAny:
		need = 1
	case blueprint.WaitNOfM:
		if spec.N <= 0 || spec.N > len(spec.Branches) {
			return errResult(blueprint.ErrKindValidation, fmt.Errorf("parallel node %q: n-of-m requires 0 < n <= %d", node.ID, len(spec.Branches)))
		}
		need = spec.N
	default:
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("parallel node %q: unknown wait_strategy %q", node.ID, spec.WaitStrategy))
	}

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan branchOutcome, len(spec.Branches))
	var wg sync.WaitGroup
	for i, branch := range spec.Branches {
		if len(branch) == 0 {
			return errResult(blueprint.ErrKindValidation, fmt.Errorf("parallel node %q: branch %d is empty", node.ID, i))
		}
		wg.Add(1)
		go func(idx int, nodes []blueprint.NodeSpec) {
			defer wg.Done()
			child := execCtx.Clone()
			sub, err := rt.RunSubgraph(branchCtx, nodes, child, 0)
			if err != nil {
				results <- branchOutcome{index: idx, err: err}
				return
			}
			if !sub.Success {
				results <- branchOutcome{index: idx, err: fmt.Errorf("branch %d failed", idx)}
				return
			}
			terminal := nodes[len(nodes)-1].ID
			out, ok := child.GetOutput(terminal)
			if !ok {
				results <- branchOutcome{index: idx, err: fmt.Errorf("branch %d produced no output for node %q", idx, terminal)}
				return
			}
			results <- branchOutcome{index: idx, output: out}
		}(i, branch)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	succeeded := make(map[int]json.RawMessage)
	failed := 0
	for outcome := range results {
		if outcome.err != nil {
			failed++
			if spec.WaitStrategy == blueprint.WaitAll || spec.WaitStrategy == "" {
				cancel()
				return errResult(blueprint.ErrKindInternal, fmt.Errorf("parallel node %q: %v", node.ID, outcome.err))
			}
			// any / n-of-m: a branch failure is only fatal once success
			// becomes unreachable.
			if len(spec.Branches)-failed < need {
				cancel()
				return errResult(blueprint.ErrKindInternal, fmt.Errorf("parallel node %q: %d branches failed, cannot reach %d successes", node.ID, failed, need))
			}
			continue
		}
		succeeded[outcome.index] = outcome.output
		if len(succeeded) >= need {
			cancel()
			break
		}
	}
	if len(succeeded) < need {
		if ctx.Err() != nil {
			return errResult(blueprint.ErrKindCanceled, ctx.Err())
		}
		return errResult(blueprint.ErrKindInternal, fmt.Errorf("parallel node %q: only %d of %d required branches succeeded", node.ID, len(succeeded), need))
	}

	var payload interface{}
	switch spec.WaitStrategy {
	case blueprint.WaitAny:
		for _, out := range succeeded {
			payload = json.RawMessage(out)
		}
	default:
		// Ordered by branch index; branches that were canceled before
		// finishing (n-of-m) appear as null.
		list := make([]json.RawMessage, len(spec.Branches))
		for i := range list {
			list[i] = json.RawMessage("null")
		}
		for idx, out := range succeeded {
			list[idx] = out
		}
		payload = list
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return errResult(blueprint.ErrKindInternal, err)
	}
	return blueprint.NodeExecutionResult{Success: true, Output: raw}
}
