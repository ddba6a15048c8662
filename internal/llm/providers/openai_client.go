// File path: internal/llm/providers/openai_client.go
package providers

import (
	"context"
	"fmt"
	"os"

	openai "github.com/openai/openai-go/v2"

	"github.com/caseforge/caseforge/internal/common"
	"github.com/caseforge/caseforge/internal/common/telemetry"
)

const (
	defaultChatModel  = "gpt-4o"
	defaultEmbedModel = "text-embedding-3-small"
)

type OpenAIProvider struct {
	client     openai.Client
	chatModel  string
	embedModel string
}

func NewOpenAIProvider(client openai.Client) *OpenAIProvider {
	p := &OpenAIProvider{
		client:     client,
		chatModel:  envOrDefault("OPENAI_CHAT_MODEL", defaultChatModel),
		embedModel: envOrDefault("OPENAI_EMBED_MODEL", defaultEmbedModel),
	}
	common.Logger().Info("llm: OpenAI models", "chat", p.chatModel, "embed", p.embedModel)
	return p
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	logger := common.Logger()
	logger.Debug("llm: chat request", "model", o.chatModel, "messages", len(messages))
	params := openai.ChatCompletionNewParams{Model: openai.ChatModel(o.chatModel)}
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(msg.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(msg.Content))
		}
	}
	resp, err := o.client.Chat.Completions.New(ctx, params)
	telemetry.RecordLLMCall(false, err)
	if err != nil {
		logger.Error("llm: chat request failed", "error", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}
	logger := common.Logger()
	logger.Debug("llm: embed request", "model", o.embedModel, "items", len(input))
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: input},
	})
	telemetry.RecordLLMCall(true, err)
	if err != nil {
		logger.Error("llm: embed request failed", "error", err)
		return nil, err
	}
	vectors := make([][]float32, 0, len(resp.Data))
	for _, data := range resp.Data {
		vector := make([]float32, len(data.Embedding))
		for i, value := range data.Embedding {
			vector[i] = float32(value)
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}

func (o *OpenAIProvider) Name() string {
	return "openai"
}
