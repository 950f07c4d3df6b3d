// Command iceosd wires a complete runtime from configuration and a plugin
// manifest, then executes a blueprint JSON file supplied on the command
// line. It is the reference wiring for embedding the engine: config ->
// registry (built-ins + manifest) -> runtime -> StartRun/Wait, with events
// written to stdout by a LogEmitter.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/budget"
	"github.com/stef-writes/iceOS-sub005/builtin"
	"github.com/stef-writes/iceOS-sub005/graph/emit"
	"github.com/stef-writes/iceOS-sub005/graph/model"
	"github.com/stef-writes/iceOS-sub005/graph/model/anthropic"
	"github.com/stef-writes/iceOS-sub005/graph/model/google"
	"github.com/stef-writes/iceOS-sub005/graph/model/openai"
	"github.com/stef-writes/iceOS-sub005/graph/store"
	"github.com/stef-writes/iceOS-sub005/graph/tool"
	"github.com/stef-writes/iceOS-sub005/internal/config"
	"github.com/stef-writes/iceOS-sub005/memstore"
	"github.com/stef-writes/iceOS-sub005/registry"
	"github.com/stef-writes/iceOS-sub005/runtime"
)

func main() {
	inputsFlag := flag.String("inputs", "{}", "top-level run inputs as JSON")
	orgFlag := flag.String("org", "local", "org id stamped on the run")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: iceosd [flags] <blueprint.json>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := cfg.Logger()

	reg := registry.New(cfg.AllowDynamicRegistration)
	if err := builtin.Register(reg); err != nil {
		log.Error("registering built-in executors", "err", err)
		os.Exit(1)
	}
	reg.SetMemory(memstore.NewInMemoryStore())
	if err := reg.LoadManifest(manifest()); err != nil {
		log.Error("loading plugin manifest", "err", err)
		os.Exit(1)
	}
	log.Info("registry ready", "mode", string(cfg.Mode))

	stateStore, err := openStateStore(cfg)
	if err != nil {
		log.Error("opening state store", "err", err)
		os.Exit(1)
	}

	rt := runtime.New(reg, runtime.Options{
		Emitter:     emit.NewLogEmitter(os.Stdout, cfg.EventJSONStdout),
		StateStore:  stateStore,
		MaxParallel: cfg.MaxParallel,
		DefaultBudget: budget.Limits{
			MaxLLMCalls:       cfg.MaxLLMCalls,
			MaxToolExecutions: cfg.MaxToolExecutions,
			OrgBudgetUSD:      cfg.OrgBudgetUSD,
			FailOpen:          cfg.BudgetFailOpen,
		},
		DevelopmentMode: cfg.Mode == config.Development,
	})

	raw, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Error("reading blueprint", "err", err)
		os.Exit(1)
	}
	var bp blueprint.Blueprint
	if err := json.Unmarshal(raw, &bp); err != nil {
		log.Error("decoding blueprint", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	runID, err := rt.StartRun(ctx, &bp, []byte(*inputsFlag), runtime.Identity{OrgID: *orgFlag}, runtime.RunOptions{})
	if err != nil {
		log.Error("starting run", "err", err)
		os.Exit(1)
	}
	log.Info("run started", "run_id", runID)

	result, err := rt.Wait(ctx, runID)
	if err != nil {
		log.Error("waiting for run", "err", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	if !result.Success {
		os.Exit(1)
	}
}

// echoTool returns its "msg" input under the "echo" key.
type echoTool struct{}

func (echoTool) Name() string { return "echo" }

func (echoTool) Call(_ context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"echo": input["msg"]}, nil
}

// openStateStore builds the configured state-snapshot backing.
func openStateStore(cfg config.Runtime) (store.Store[*blueprint.RunContext], error) {
	switch cfg.StateStore {
	case config.StateStoreSQLite:
		return store.NewSQLiteStore[*blueprint.RunContext](cfg.StateStoreDSN)
	case config.StateStoreMySQL:
		return store.NewMySQLStore[*blueprint.RunContext](cfg.StateStoreDSN)
	default:
		return store.NewMemStore[*blueprint.RunContext](), nil
	}
}

// manifest is the declarative factory list loaded at startup. A real
// deployment links its own tools, agents, and providers here; iceosd ships
// an echo tool, a scripted agent, and a mock model so blueprints run end to
// end without credentials, and registers the real provider adapters for
// any API keys present in the environment.
func manifest() registry.Manifest {
	entries := []registry.FactoryRef{
		{Kind: "tool", Name: "echo", Tool: func() (tool.Tool, error) {
			return echoTool{}, nil
		}},
		{Kind: "tool", Name: "http_get", Tool: func() (tool.Tool, error) {
			return tool.NewHTTPTool(), nil
		}},
		{Kind: "agent", Name: "scripted", Agent: func() (interface{}, error) {
			return &builtin.ScriptedAgent{Decisions: []builtin.AgentDecision{
				{FinalAnswer: json.RawMessage(`{"answer":"done"}`)},
			}}, nil
		}},
		{Kind: "llm", Name: "mock-1", LLM: func() (model.ChatModel, error) {
			return &model.MockChatModel{Responses: []model.ChatOut{{Text: "ok"}}}, nil
		}},
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		entries = append(entries, registry.FactoryRef{Kind: "llm", Name: "gpt-4o", LLM: func() (model.ChatModel, error) {
			return openai.NewChatModel(key, "gpt-4o"), nil
		}})
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		entries = append(entries, registry.FactoryRef{Kind: "llm", Name: "claude-sonnet-4-5-20250929", LLM: func() (model.ChatModel, error) {
			return anthropic.NewChatModel(key, "claude-sonnet-4-5-20250929"), nil
		}})
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		entries = append(entries, registry.FactoryRef{Kind: "llm", Name: "gemini-2.5-flash", LLM: func() (model.ChatModel, error) {
			return google.NewChatModel(key, "gemini-2.5-flash"), nil
		}})
	}
	return registry.Manifest{Entries: entries}
}
