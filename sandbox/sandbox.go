// Package sandbox bounds executor calls with wall-clock cancellation and
// best-effort memory/CPU caps, and hosts the `code` node's Starlark
// runtime.
package sandbox

import (
	"context"
	"encoding/json"
	"os/exec"
	"syscall"
	"time"

	"github.com/stef-writes/iceOS-sub005/blueprint"
)

// Limits bounds one sandboxed call, mirroring ResourceSandbox's
// timeout_seconds/memory_limit_mb/cpu_limit_seconds constructor args.
type Limits struct {
	Timeout         time.Duration
	MemoryLimitMB   int64
	CPULimitSeconds int64
}

// DefaultLimits mirrors resource_sandbox.py's defaults (30s / 512MB / 10 CPU-s).
var DefaultLimits = Limits{
	Timeout:         30 * time.Second,
	MemoryLimitMB:   512,
	CPULimitSeconds: 10,
}

// Run wraps fn in context.WithTimeout(ctx, cfg.Timeout). On timeout it
// returns a ResourceExceeded error rather than the raw
// context.DeadlineExceeded, so executors can classify it directly.
func Run(ctx context.Context, cfg Limits, fn func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLimits.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	type result struct {
		out json.RawMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := fn(cctx)
		done <- result{out, err}
	}()

	select {
	case <-cctx.Done():
		if cctx.Err() == context.DeadlineExceeded {
			return nil, blueprint.NewRunError(blueprint.ErrKindResourceExceeded, "", cctx.Err())
		}
		return nil, blueprint.NewRunError(blueprint.ErrKindCanceled, "", cctx.Err())
	case r := <-done:
		return r.out, r.err
	}
}

// ApplyRlimits ensures cmd has a SysProcAttr and applies no resource
// limit: limits is not read, and RLIMIT_AS, RLIMIT_CPU and RLIMIT_CORE are
// left as the child process inherits them. The helper has no caller in the
// default build; the `code` node runs in-process via Starlark (RunCode in
// code.go), not as a subprocess.
func ApplyRlimits(cmd *exec.Cmd, limits Limits) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	_ = limits // not read: no rlimit is set.
}
