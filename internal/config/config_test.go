package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxParallel != 5 {
		t.Fatalf("MaxParallel = %d, want 5", cfg.MaxParallel)
	}
	if cfg.Mode != Production {
		t.Fatalf("Mode = %q, want production", cfg.Mode)
	}
	if cfg.BudgetFailOpen || cfg.AllowDynamicRegistration || cfg.EventJSONStdout {
		t.Fatalf("boolean knobs should default off: %+v", cfg)
	}
}

func TestLoadReadsEnv(t *testing.T) {
	t.Setenv("ICE_MAX_PARALLEL", "9")
	t.Setenv("ICE_MAX_LLM_CALLS", "3")
	t.Setenv("ICE_MAX_TOOL_EXECUTIONS", "7")
	t.Setenv("ICE_ORG_BUDGET_USD", "1.25")
	t.Setenv("ICE_RUNTIME_MODE", "development")
	t.Setenv("ICE_BUDGET_FAIL_OPEN", "true")
	t.Setenv("ICE_EVENT_JSON_STDOUT", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxParallel != 9 || cfg.MaxLLMCalls != 3 || cfg.MaxToolExecutions != 7 {
		t.Fatalf("counters not read: %+v", cfg)
	}
	if cfg.OrgBudgetUSD != 1.25 {
		t.Fatalf("OrgBudgetUSD = %v", cfg.OrgBudgetUSD)
	}
	if cfg.Mode != Development || !cfg.BudgetFailOpen || !cfg.EventJSONStdout {
		t.Fatalf("flags not read: %+v", cfg)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("ICE_MAX_PARALLEL", "zero")
	if _, err := Load(); err == nil {
		t.Fatal("accepted non-numeric ICE_MAX_PARALLEL")
	}

	t.Setenv("ICE_MAX_PARALLEL", "0")
	if _, err := Load(); err == nil {
		t.Fatal("accepted zero ICE_MAX_PARALLEL")
	}

	t.Setenv("ICE_MAX_PARALLEL", "2")
	t.Setenv("ICE_RUNTIME_MODE", "staging")
	if _, err := Load(); err == nil {
		t.Fatal("accepted unknown runtime mode")
	}
}

func TestLoadStateStoreSelection(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StateStore != StateStoreMemory {
		t.Fatalf("default StateStore = %q, want memory", cfg.StateStore)
	}

	t.Setenv("ICE_STATE_STORE", "sqlite")
	if _, err := Load(); err == nil {
		t.Fatal("accepted sqlite state store without a DSN")
	}

	t.Setenv("ICE_STATE_STORE_DSN", "/var/lib/iceos/state.db")
	cfg, err = Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StateStore != StateStoreSQLite || cfg.StateStoreDSN != "/var/lib/iceos/state.db" {
		t.Fatalf("sqlite knobs not read: %+v", cfg)
	}

	t.Setenv("ICE_STATE_STORE", "postgres")
	if _, err := Load(); err == nil {
		t.Fatal("accepted unknown state store kind")
	}
}

func TestLoadRejectsFailOpenInProduction(t *testing.T) {
	t.Setenv("ICE_RUNTIME_MODE", "production")
	t.Setenv("ICE_BUDGET_FAIL_OPEN", "true")
	if _, err := Load(); err == nil {
		t.Fatal("accepted fail-open budget in production")
	}
}
