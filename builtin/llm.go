package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stef-writes/iceOS-sub005/blueprint"
	"github.com/stef-writes/iceOS-sub005/graph/model"
	"github.com/stef-writes/iceOS-sub005/memstore"
	"github.com/stef-writes/iceOS-sub005/registry"
	"github.com/stef-writes/iceOS-sub005/resolver"
)

// LLMExecutor resolves the node's provider by model id, renders the prompt
// template against the run context, optionally prepends a memory-retrieval
// prelude, invokes model.ChatModel.Chat, and charges the call against the
// run's LLM budget. Cost is computed by the budget enforcer's pricing
// tables from the recorded token usage.
func LLMExecutor(ctx context.Context, rt registry.Runtime, node blueprint.NodeSpec, execCtx *blueprint.RunContext) blueprint.NodeExecutionResult {
	if node.LLM == nil {
		return errResult(blueprint.ErrKindValidation, fmt.Errorf("llm node %q: missing llm spec", node.ID))
	}
	spec := node.LLM

	m, err := rt.Registry().GetLLM(spec.Model)
	if err != nil {
		return errResult(blueprint.ErrKindRegistry, err)
	}

	prompt, missing := resolver.RenderTemplate(spec.Prompt, execCtx)
	if len(missing) > 0 {
		return errResult(blueprint.ErrKindInputUnresolved,
			fmt.Errorf("llm node %q: unresolved prompt placeholders %v", node.ID, missing))
	}

	var messages []model.Message
	if spec.MemoryAware {
		scope := memstore.Scope{OrgID: execCtx.OrgID, UserID: execCtx.UserID, SessionID: execCtx.SessionID}
		hits, merr := rt.Memory().SemanticSearch(ctx, scope, prompt, 5)
		if merr != nil {
			return errResult(blueprint.ErrKindTransient, fmt.Errorf("llm node %q: memory retrieval: %w", node.ID, merr))
		}
		if len(hits) > 0 {
			var sb strings.Builder
			sb.WriteString("Relevant context from memory:\n")
			for _, h := range hits {
				sb.WriteString("- ")
				sb.WriteString(h.Content)
				sb.WriteByte('\n')
			}
			messages = append(messages, model.Message{Role: model.RoleSystem, Content: sb.String()})
		}
	}
	if spec.ResponseFormat == blueprint.ResponseJSON {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: "Respond with a single JSON object and nothing else."})
	}
	messages = append(messages, model.Message{Role: model.RoleUser, Content: prompt})

	out, err := m.Chat(ctx, messages, nil)
	if err != nil {
		return classifyProviderError(ctx, err)
	}

	usage := &blueprint.Usage{
		PromptTokens:     approxTokens(messagesText(messages)),
		CompletionTokens: approxTokens(out.Text),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	cost, err := rt.RegisterLLMCall(spec.Model, usage.PromptTokens, usage.CompletionTokens, node.ID)
	if err != nil {
		return errResult(blueprint.ErrKindBudgetExceeded, err)
	}

	payload := map[string]interface{}{"response": out.Text}
	if spec.ResponseFormat == blueprint.ResponseJSON {
		var parsed interface{}
		if jerr := json.Unmarshal([]byte(out.Text), &parsed); jerr != nil {
			return errResult(blueprint.ErrKindOutputSchema,
				fmt.Errorf("llm node %q: response_format=json but provider returned non-JSON text", node.ID))
		}
		payload["parsed"] = parsed
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return errResult(blueprint.ErrKindInternal, err)
	}
	return blueprint.NodeExecutionResult{Success: true, Output: raw, Usage: usage, CostUSD: &cost}
}

// classifyProviderError maps a provider failure onto the retryable taxonomy:
// context cancellation is Canceled, deadline expiry is Timeout, explicit
// rate-limit text is RateLimited, anything else Transient (network-shaped
// failures retry; schema-shaped ones were caught before dispatch).
func classifyProviderError(ctx context.Context, err error) blueprint.NodeExecutionResult {
	switch {
	case ctx.Err() == context.Canceled:
		return errResult(blueprint.ErrKindCanceled, err)
	case ctx.Err() == context.DeadlineExceeded:
		return errResult(blueprint.ErrKindTimeout, err)
	case strings.Contains(strings.ToLower(err.Error()), "rate limit"),
		strings.Contains(err.Error(), "429"):
		return errResult(blueprint.ErrKindRateLimited, err)
	default:
		return errResult(blueprint.ErrKindTransient, err)
	}
}

// approxTokens estimates token counts at ~4 characters per token. The
// ChatModel capability does not surface provider usage metadata, so budget
// accounting works from this estimate; a provider adapter that reports real
// usage can override it upstream.
func approxTokens(s string) int {
	if s == "" {
		return 0
	}
	return len(s)/4 + 1
}

func messagesText(msgs []model.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(m.Content)
	}
	return sb.String()
}
