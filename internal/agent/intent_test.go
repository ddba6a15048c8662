// File path: internal/agent/intent_test.go
package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/caseforge/caseforge/internal/llm"
)

type fakeProvider struct {
	reply    string
	messages []llm.Message
}

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	f.messages = messages
	return f.reply, nil
}

func (f *fakeProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func (f *fakeProvider) Name() string { return "fake" }

func TestAnalyzeIntents(t *testing.T) {
	provider := &fakeProvider{reply: `{
                "intents": [
                        {"description": "authenticate with valid credentials", "scope": "login"},
                        {"description": "lock account after repeated failures", "scope": "security"},
                        {"description": "", "scope": "dropped"}
                ]
        }`}
	analyzer := NewAnalyzer(provider, nil)

	intents, err := analyzer.AnalyzeIntents(context.Background(), "users sign in with email and password")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(intents) != 2 {
		t.Fatalf("expected 2 intents, got %d", len(intents))
	}
	if intents[0].Scope != "login" || intents[1].Scope != "security" {
		t.Fatalf("unexpected intents: %+v", intents)
	}
	if len(provider.messages) == 0 || provider.messages[len(provider.messages)-1].Role != "user" {
		t.Fatalf("prompt not delivered as user message: %+v", provider.messages)
	}
}

func TestAnalyzeIntentsMalformedReply(t *testing.T) {
	analyzer := NewAnalyzer(&fakeProvider{reply: "two intents come to mind"}, nil)
	_, err := analyzer.AnalyzeIntents(context.Background(), "requirement")
	if !errors.Is(err, llm.ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
}

func TestAnalyzeIntentsEmptyRequirement(t *testing.T) {
	analyzer := NewAnalyzer(&fakeProvider{}, nil)
	if _, err := analyzer.AnalyzeIntents(context.Background(), "   "); err == nil {
		t.Fatalf("expected validation error")
	}
}
