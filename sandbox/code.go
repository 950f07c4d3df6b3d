package sandbox

import (
	"context"
	"encoding/json"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/stef-writes/iceOS-sub005/blueprint"
)

// defaultMaxSteps caps Starlark execution steps as a deterministic,
// platform-independent substitute for a CPU-seconds limit; step counting
// bounds a script's cost without relying on OS scheduling.
const defaultMaxSteps = 10_000_000

// RunCode executes a Python-dialect script inside a Starlark interpreter:
// inputs are injected as a `ctx` dict, the output is read from a
// conventional `result` global, and only names in `imports` may be
// referenced as predeclared modules. The script is parsed up front so
// syntax errors surface before any execution.
func RunCode(ctx context.Context, cfg Limits, code string, imports []string, input map[string]interface{}) (json.RawMessage, error) {
	if _, err := syntax.Parse("code_node.star", code, 0); err != nil {
		return nil, blueprint.NewRunError(blueprint.ErrKindSandboxViolation, "", fmt.Errorf("syntax error: %w", err))
	}

	allow := make(map[string]bool, len(imports))
	for _, name := range imports {
		allow[name] = true
	}

	ctxDict, err := toStarlarkDict(input)
	if err != nil {
		return nil, blueprint.NewRunError(blueprint.ErrKindSandboxViolation, "", err)
	}

	predeclared := starlark.StringDict{"ctx": ctxDict}
	for name := range allow {
		if mod, ok := allowlistedModules[name]; ok {
			predeclared[name] = mod
		}
	}

	run := func(runCtx context.Context) (json.RawMessage, error) {
		thread := &starlark.Thread{Name: "code_node"}
		thread.SetLocal("context", runCtx)
		done := make(chan struct{})
		thread.SetMaxExecutionSteps(defaultMaxSteps)
		var globals starlark.StringDict
		var execErr error
		go func() {
			defer close(done)
			globals, execErr = starlark.ExecFile(thread, "code_node.star", code, predeclared)
		}()
		select {
		case <-runCtx.Done():
			return nil, runCtx.Err()
		case <-done:
		}
		if execErr != nil {
			return nil, blueprint.NewRunError(blueprint.ErrKindSandboxViolation, "", execErr)
		}
		res, ok := globals["result"]
		if !ok {
			return nil, blueprint.NewRunError(blueprint.ErrKindSandboxViolation, "", fmt.Errorf("code node did not set a `result` global"))
		}
		return fromStarlarkValue(res)
	}

	return Run(ctx, cfg, run)
}

// allowlistedModules is the fixed set of Starlark built-in modules a `code`
// node may opt into via its `imports` field. Starlark has no filesystem,
// network, or OS access unless explicitly injected here, so the allowlist
// starts empty and is a documented extension point for future additions.
var allowlistedModules = map[string]starlark.Value{}

func toStarlarkDict(m map[string]interface{}) (*starlark.Dict, error) {
	d := starlark.NewDict(len(m))
	for k, v := range m {
		sv, err := toStarlarkValue(v)
		if err != nil {
			return nil, err
		}
		if err := d.SetKey(starlark.String(k), sv); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func toStarlarkValue(v interface{}) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case float64:
		return starlark.Float(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case []interface{}:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			sv, err := toStarlarkValue(e)
			if err != nil {
				return nil, err
			}
			elems[i] = sv
		}
		return starlark.NewList(elems), nil
	case map[string]interface{}:
		return toStarlarkDict(x)
	default:
		return nil, fmt.Errorf("unsupported value type %T for starlark conversion", v)
	}
}

func fromStarlarkValue(v starlark.Value) (json.RawMessage, error) {
	native, err := starlarkToNative(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(native)
}

func starlarkToNative(v starlark.Value) (interface{}, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Int:
		i, _ := x.Int64()
		return i, nil
	case starlark.Float:
		return float64(x), nil
	case *starlark.List:
		out := make([]interface{}, 0, x.Len())
		iter := x.Iterate()
		defer iter.Done()
		var item starlark.Value
		for iter.Next(&item) {
			native, err := starlarkToNative(item)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]interface{}, x.Len())
		for _, item := range x.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("starlark dict key %v is not a string", item[0])
			}
			native, err := starlarkToNative(item[1])
			if err != nil {
				return nil, err
			}
			out[string(key)] = native
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported starlark value type %T", v)
	}
}
