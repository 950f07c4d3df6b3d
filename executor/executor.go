// Package executor implements the per-node lifecycle: resolve inputs,
// validate against input_schema, consult the cache, dispatch to the
// registered executor with retry/timeout/backoff, validate the result
// against output_schema, then commit the output into the RunContext exactly
// once.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/registry"
	"github.com/stef-writes/iceOS-sub005/resolver"
)

// CacheKey builds the opaque per-node cache key:
// sha256(topologyHash | nodeID | canonicalJSON(input)).
func CacheKey(topoHash, nodeID string, inputs map[string]interface{}) (string, error) {
	canon, err := blueprint.CanonicalJSON(inputs)
	if err != nil {
		return "", fmt.Errorf("executor: cache key: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(topoHash))
	h.Write([]byte{'|'})
	h.Write([]byte(nodeID))
	h.Write([]byte{'|'})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Run executes node's full C3 lifecycle and returns its result. It never
// panics: every failure mode is captured into a NodeExecutionResult so the
// caller (runtime's Scheduler) can route success/failure uniformly.
func Run(ctx context.Context, rt registry.Runtime, topoHash string, node blueprint.NodeSpec, execCtx *blueprint.RunContext, cache Cache, useCacheDefault bool) blueprint.NodeExecutionResult {
	started := time.Now()

	// Step 1: required-field presence per node type. blueprint.Validate
	// checks structure at load time; this re-checks at dispatch time since a
	// node can arrive with a nil variant pointer if the blueprint was built
	// programmatically.
	if err := validateVariant(node); err != nil {
		return withTiming(failResult(blueprint.ErrKindValidation, err), started, 1)
	}

	// Step 2: resolve input_mappings.
	inputs, err := resolver.ResolveInputMappings(node.InputMappings, execCtx)
	if err != nil {
		return withTiming(failResult(blueprint.ErrKindInputUnresolved, err), started, 1)
	}

	// Step 3: validate resolved inputs against input_schema.
	inSchema, err := blueprint.ParseSchema(node.InputSchema)
	if err != nil {
		return withTiming(failResult(blueprint.ErrKindValidation, err), started, 1)
	}
	if err := inSchema.Validate(genericOf(inputs)); err != nil {
		return withTiming(failResult(blueprint.ErrKindValidation, err), started, 1)
	}

	// Step 4: cache lookup.
	useCache := node.UseCacheOr(useCacheDefault)
	var cacheKey string
	if useCache && cache != nil {
		cacheKey, err = CacheKey(topoHash, node.ID, inputs)
		if err == nil {
			if hit, ok := cache.Get(cacheKey); ok {
				hit.Metadata.CacheHit = true
				if hit.Success {
					if _, already := execCtx.GetOutput(node.ID); !already {
						_ = execCtx.SetOutput(node.ID, hit.Output)
					}
				}
				return hit
			}
		}
	}

	// Step 5: dispatch.
	fn, ok := rt.Registry().GetExecutor(node.Type)
	if !ok {
		return withTiming(failResult(blueprint.ErrKindRegistry, fmt.Errorf("no executor registered for node type %q", node.Type)), started, 1)
	}

	// Step 6: retry loop with per-attempt timeout.
	maxAttempts, backoff := retrySettings(node.RetryPolicy)
	var result blueprint.NodeExecutionResult
	attempt := 0
	for {
		attempt++
		result = callWithTimeout(ctx, node.TimeoutMS, func(c context.Context) blueprint.NodeExecutionResult {
			return fn(c, rt, node, execCtx)
		})
		if result.Success {
			break
		}
		kind := blueprint.ErrorKind(result.ErrorType)
		if attempt >= maxAttempts || !kind.Retryable() {
			break
		}
		rt.Emit(blueprint.NewEvent(rt.RunID(), blueprint.EventNodeRetrying, node.ID, map[string]interface{}{
			"attempt": attempt, "error": result.Error,
		}))
		wait := backoff(attempt)
		select {
		case <-ctx.Done():
			result = failResult(blueprint.ErrKindCanceled, ctx.Err())
			attempt = maxAttempts
		case <-time.After(wait):
		}
		if attempt >= maxAttempts {
			break
		}
	}
	result.Metadata.Attempts = attempt

	// Step 7: validate output_schema on success.
	if result.Success {
		outSchema, serr := blueprint.ParseSchema(node.OutputSchema)
		if serr != nil {
			result = failResult(blueprint.ErrKindValidation, serr)
		} else if verr := outSchema.Validate(genericOfRaw(result.Output)); verr != nil {
			result = failResult(blueprint.ErrKindOutputSchema, verr)
		}
	}
	result = withTiming(result, started, attempt)

	// Step 8/9: commit + cache + emit.
	if result.Success {
		if err := execCtx.SetOutput(node.ID, result.Output); err != nil {
			// Exactly-once violation: another path already wrote this node's
			// output. Surface as Internal rather than silently dropping it.
			result = withTiming(failResult(blueprint.ErrKindInternal, err), started, attempt)
		} else {
			if useCache && cache != nil && cacheKey != "" {
				cache.Set(cacheKey, result)
			}
			rt.Emit(blueprint.NewEvent(rt.RunID(), blueprint.EventNodeSucceeded, node.ID, map[string]interface{}{
				"attempts": result.Metadata.Attempts, "duration_ms": result.Metadata.DurationMS,
			}))
			return result
		}
	}
	rt.Emit(blueprint.NewEvent(rt.RunID(), blueprint.EventNodeFailed, node.ID, map[string]interface{}{
		"attempts": result.Metadata.Attempts, "error": result.Error, "error_type": result.ErrorType,
	}))
	return result
}

func withTiming(r blueprint.NodeExecutionResult, started time.Time, attempts int) blueprint.NodeExecutionResult {
	now := time.Now()
	r.Metadata.Attempts = attempts
	r.Metadata.DurationMS = now.Sub(started).Milliseconds()
	r.Metadata.StartedAt = started.UnixMilli()
	r.Metadata.FinishedAt = now.UnixMilli()
	return r
}

func failResult(kind blueprint.ErrorKind, err error) blueprint.NodeExecutionResult {
	msg := string(kind)
	if err != nil {
		msg = err.Error()
	}
	return blueprint.NodeExecutionResult{Success: false, Error: msg, ErrorType: string(kind)}
}

// callWithTimeout runs fn with a bounded context if timeoutMS > 0.
func callWithTimeout(ctx context.Context, timeoutMS int, fn func(context.Context) blueprint.NodeExecutionResult) blueprint.NodeExecutionResult {
	if timeoutMS <= 0 {
		return fn(ctx)
	}
	c, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	resCh := make(chan blueprint.NodeExecutionResult, 1)
	go func() { resCh <- fn(c) }()

	select {
	case r := <-resCh:
		return r
	case <-c.Done():
		if ctx.Err() != nil {
			return failResult(blueprint.ErrKindCanceled, ctx.Err())
		}
		return failResult(blueprint.ErrKindTimeout, c.Err())
	}
}

// retrySettings returns (maxAttempts, backoffFn) for rp, defaulting to a
// single attempt with no retry when rp is nil.
func retrySettings(rp *blueprint.RetryPolicy) (int, func(attempt int) time.Duration) {
	if rp == nil || rp.MaxAttempts <= 0 {
		return 1, func(int) time.Duration { return 0 }
	}
	base := time.Duration(rp.BackoffMS) * time.Millisecond
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	switch rp.BackoffStrategy {
	case blueprint.BackoffExponential:
		return rp.MaxAttempts, func(attempt int) time.Duration {
			return base * time.Duration(1<<uint(attempt-1))
		}
	default:
		return rp.MaxAttempts, func(int) time.Duration { return base }
	}
}

// validateVariant checks that node carries the variant payload its Type
// declares, catching programmatically-constructed NodeSpecs that bypassed
// UnmarshalJSON's discriminated-union check.
func validateVariant(node blueprint.NodeSpec) error {
	present := map[blueprint.NodeType]bool{
		blueprint.NodeTool:      node.Tool != nil,
		blueprint.NodeLLM:       node.LLM != nil,
		blueprint.NodeAgent:     node.Agent != nil,
		blueprint.NodeCondition: node.Condition != nil,
		blueprint.NodeLoop:      node.Loop != nil,
		blueprint.NodeParallel:  node.Parallel != nil,
		blueprint.NodeCode:      node.Code != nil,
		blueprint.NodeRecursive: node.Recursive != nil,
		blueprint.NodeWorkflow:  node.Workflow != nil,
		blueprint.NodeHuman:     node.Human != nil,
		blueprint.NodeSwarm:     node.Swarm != nil,
	}
	if ok, known := present[node.Type]; !known || !ok {
		return fmt.Errorf("node %q: missing variant payload for type %q", node.ID, node.Type)
	}
	return nil
}

func genericOf(m map[string]interface{}) interface{} {
	return map[string]interface{}(m)
}

func genericOfRaw(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
