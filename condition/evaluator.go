// Package condition implements the safe boolean-DSL evaluator for the
// `condition` node's `expression` field: boolean/comparison operators,
// dotted context access, string/number literals. Built on a standard CEL
// environment with a compiled-program cache; CEL's built-in functions and
// macros (such as size() or has()) are not disabled and can be called from
// an expression.
package condition

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/stef-writes/iceOS-sub005/blueprint"
)

// Evaluator compiles and caches CEL programs for condition expressions.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator returns an Evaluator with an empty compile cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]cel.Program)}
}

// Evaluate compiles (or reuses a cached compile of) expr and runs it
// against the node's dependency outputs merged into a flat `vars` map (so
// `x > 3` resolves directly against a dependency's `{"x":5}` output), plus
// a `ctx` variable exposing every node's output keyed by node id for
// explicit `ctx.n1.x` access.
func (e *Evaluator) Evaluate(expr string, rc *blueprint.RunContext, dependencies []string) (bool, error) {
	vars := make(map[string]interface{})
	ctxMap := make(map[string]interface{}, len(rc.Outputs))
	for id, raw := range rc.Outputs {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		ctxMap[id] = v
	}
	for _, dep := range dependencies {
		if obj, ok := ctxMap[dep].(map[string]interface{}); ok {
			for k, v := range obj {
				vars[k] = v
			}
		}
	}
	for id, v := range ctxMap {
		vars[id] = v
	}
	vars["ctx"] = ctxMap

	prg, err := e.compile(expr, vars)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("condition: evaluation error: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition: expression %q did not return a boolean, got %T", expr, out.Value())
	}
	return b, nil
}

// EvaluateVars compiles and runs expr directly against vars, with no
// RunContext involved. Used by the recursive node's stop_predicate, whose
// state is a scratch map rather than node outputs.
func (e *Evaluator) EvaluateVars(expr string, vars map[string]interface{}) (bool, error) {
	prg, err := e.compile(expr, vars)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("condition: evaluation error: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition: expression %q did not return a boolean, got %T", expr, out.Value())
	}
	return b, nil
}

func (e *Evaluator) compile(expr string, vars map[string]interface{}) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	opts := make([]cel.EnvOption, 0, len(vars))
	for name := range vars {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("condition: creating CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition: compiling %q: %w", expr, issues.Err())
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("condition: building program for %q: %w", expr, err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

// ClearCache empties the compiled-program cache.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}
