// Package config loads the runtime knobs the core consumes from ICE_-
// prefixed environment variables and builds the process logger.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/lmittmann/tint"
)

// Mode selects development vs production behavior: auto-approval stubs,
// budget fail-open, and dynamic registration are development-only.
type Mode string

const (
	Development Mode = "development"
	Production  Mode = "production"
)

// StateStoreKind selects the backing for per-step state snapshots.
type StateStoreKind string

const (
	StateStoreMemory StateStoreKind = "memory"
	StateStoreSQLite StateStoreKind = "sqlite"
	StateStoreMySQL  StateStoreKind = "mysql"
)

// Runtime is the validated configuration consumed by runtime.New and
// cmd/iceosd.
type Runtime struct {
	MaxParallel              int
	OrgBudgetUSD             float64
	MaxLLMCalls              int
	MaxToolExecutions        int
	Mode                     Mode
	BudgetFailOpen           bool
	AllowDynamicRegistration bool
	EventJSONStdout          bool

	// StateStore selects where per-step RunContext snapshots persist:
	// memory (default), sqlite, or mysql. SQL backings require
	// StateStoreDSN (a file path for sqlite, a DSN for mysql).
	StateStore    StateStoreKind
	StateStoreDSN string
}

// Load reads every knob from the environment, applying defaults and
// validating ranges.
func Load() (Runtime, error) {
	cfg := Runtime{
		MaxParallel: 5,
		Mode:        Production,
	}

	var err error
	if cfg.MaxParallel, err = intEnv("ICE_MAX_PARALLEL", cfg.MaxParallel); err != nil {
		return cfg, err
	}
	if cfg.MaxParallel <= 0 {
		return cfg, fmt.Errorf("config: ICE_MAX_PARALLEL must be positive, got %d", cfg.MaxParallel)
	}
	if cfg.MaxLLMCalls, err = intEnv("ICE_MAX_LLM_CALLS", 0); err != nil {
		return cfg, err
	}
	if cfg.MaxToolExecutions, err = intEnv("ICE_MAX_TOOL_EXECUTIONS", 0); err != nil {
		return cfg, err
	}
	if cfg.OrgBudgetUSD, err = floatEnv("ICE_ORG_BUDGET_USD", 0); err != nil {
		return cfg, err
	}

	switch mode := os.Getenv("ICE_RUNTIME_MODE"); mode {
	case "":
	case string(Development), string(Production):
		cfg.Mode = Mode(mode)
	default:
		return cfg, fmt.Errorf("config: ICE_RUNTIME_MODE must be development or production, got %q", mode)
	}

	cfg.BudgetFailOpen = boolEnv("ICE_BUDGET_FAIL_OPEN")
	cfg.AllowDynamicRegistration = boolEnv("ICE_ALLOW_DYNAMIC_REGISTRATION")
	cfg.EventJSONStdout = boolEnv("ICE_EVENT_JSON_STDOUT")

	cfg.StateStore = StateStoreMemory
	cfg.StateStoreDSN = os.Getenv("ICE_STATE_STORE_DSN")
	switch kind := os.Getenv("ICE_STATE_STORE"); kind {
	case "", string(StateStoreMemory):
	case string(StateStoreSQLite), string(StateStoreMySQL):
		cfg.StateStore = StateStoreKind(kind)
		if cfg.StateStoreDSN == "" {
			return cfg, fmt.Errorf("config: ICE_STATE_STORE=%s requires ICE_STATE_STORE_DSN", kind)
		}
	default:
		return cfg, fmt.Errorf("config: ICE_STATE_STORE must be memory, sqlite, or mysql, got %q", kind)
	}

	if cfg.Mode == Production && cfg.BudgetFailOpen {
		return cfg, fmt.Errorf("config: ICE_BUDGET_FAIL_OPEN is development-only")
	}
	if cfg.Mode == Production && cfg.AllowDynamicRegistration {
		return cfg, fmt.Errorf("config: ICE_ALLOW_DYNAMIC_REGISTRATION is development-only")
	}
	return cfg, nil
}

// Logger builds the process logger: tinted console output for humans, JSON
// when event_json_stdout is set.
func (c Runtime) Logger() *slog.Logger {
	if c.EventJSONStdout {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.Kitchen}))
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func boolEnv(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "TRUE", "yes":
		return true
	default:
		return false
	}
}
