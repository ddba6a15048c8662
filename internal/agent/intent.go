// File path: internal/agent/intent.go
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langgraphgo/graph"

	"github.com/caseforge/caseforge/internal/common"
	"github.com/caseforge/caseforge/internal/llm"
	"github.com/caseforge/caseforge/internal/retrieval"
)

const snippetLimit = 5

// Intent is one distinct testable concern identified in a requirement.
type Intent struct {
	Description string `json:"description"`
	Scope       string `json:"scope"`
}

// Analyzer runs requirement intent analysis as a two-node message graph:
// a retrieval node that folds related knowledge into the conversation,
// then an analysis node that asks the model for the intents.
type Analyzer struct {
	provider llm.Provider
	engine   *retrieval.Engine
	logger   *slog.Logger
}

func NewAnalyzer(provider llm.Provider, engine *retrieval.Engine) *Analyzer {
	return &Analyzer{provider: provider, engine: engine, logger: common.Logger()}
}

type intentPayload struct {
	Intents []Intent `json:"intents"`
}

// AnalyzeIntents identifies the testable intents in the requirement text.
func (a *Analyzer) AnalyzeIntents(ctx context.Context, requirement string) ([]Intent, error) {
	requirement = strings.TrimSpace(requirement)
	if requirement == "" {
		return nil, fmt.Errorf("agent: requirement text required")
	}
	if a.provider == nil {
		return nil, fmt.Errorf("agent: no model provider available")
	}

	g := graph.NewMessageGraph()
	g.AddNode("retrieve", func(ctx context.Context, state []llms.MessageContent) ([]llms.MessageContent, error) {
		if related := a.collectKnowledge(ctx, requirement); related != "" {
			state = append(state, llms.TextParts(llms.ChatMessageTypeSystem,
				"Related knowledge from earlier analysis:\n"+related))
		}
		return state, nil
	})
	g.AddNode("analyze", func(ctx context.Context, state []llms.MessageContent) ([]llms.MessageContent, error) {
		reply, err := a.provider.Chat(ctx, toProviderMessages(state))
		if err != nil {
			return nil, fmt.Errorf("intent call: %w", err)
		}
		return append(state, llms.TextParts(llms.ChatMessageTypeAI, reply)), nil
	})
	g.AddEdge("retrieve", "analyze")
	g.AddEdge("analyze", graph.END)
	g.SetEntryPoint("retrieve")

	runnable, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("agent: compile graph: %w", err)
	}
	state, err := runnable.Invoke(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, llm.IntentPrompt(requirement)),
	})
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	if len(state) == 0 {
		return nil, fmt.Errorf("agent: empty graph state")
	}

	var payload intentPayload
	if err := llm.DecodeJSON(messageText(state[len(state)-1]), &payload); err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	intents := make([]Intent, 0, len(payload.Intents))
	for _, intent := range payload.Intents {
		if strings.TrimSpace(intent.Description) == "" {
			continue
		}
		intents = append(intents, intent)
	}
	a.logger.Info("agent: intent analysis completed", "intents", len(intents))
	return intents, nil
}

// collectKnowledge pulls vector-only context for the prompt. Failures are
// logged and the analysis proceeds without context.
func (a *Analyzer) collectKnowledge(ctx context.Context, requirement string) string {
	if a.engine == nil {
		return ""
	}
	hits, err := a.engine.Search(ctx, requirement, snippetLimit, 0)
	if err != nil {
		a.logger.Warn("agent: knowledge retrieval failed", "error", err)
		return ""
	}
	lines := make([]string, 0, len(hits))
	for _, hit := range hits {
		lines = append(lines, fmt.Sprintf("- [%s] %s", hit.Kind, hit.Content))
	}
	return strings.Join(lines, "\n")
}

func toProviderMessages(state []llms.MessageContent) []llm.Message {
	roles := map[llms.ChatMessageType]string{
		llms.ChatMessageTypeSystem: "system",
		llms.ChatMessageTypeHuman:  "user",
		llms.ChatMessageTypeAI:     "assistant",
	}
	messages := make([]llm.Message, 0, len(state))
	for _, mc := range state {
		role, ok := roles[mc.Role]
		if !ok {
			role = "user"
		}
		messages = append(messages, llm.Message{Role: role, Content: messageText(mc)})
	}
	return messages
}

func messageText(mc llms.MessageContent) string {
	var builder strings.Builder
	for _, part := range mc.Parts {
		if text, ok := part.(llms.TextContent); ok {
			builder.WriteString(text.Text)
		}
	}
	return builder.String()
}
