// File path: internal/llm/providers/local.go
package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

type Message struct {
	Role    string
	Content string
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Embed(ctx context.Context, input []string) ([][]float32, error)
	Name() string
}

// LocalProvider is the offline fallback used when no API key is configured.
// Chat output is a stub; embeddings are deterministic so repeated runs index
// the same content identically.
type LocalProvider struct {
	dim int
}

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{dim: 8}
}

func (l *LocalProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages provided")
	}
	last := messages[len(messages)-1].Content
	return "[local-stub] " + strings.TrimSpace(last), nil
}

func (l *LocalProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	vectors := make([][]float32, len(input))
	for i, text := range input {
		vector := make([]float32, l.dim)
		for j := range vector {
			h := fnv.New32a()
			fmt.Fprintf(h, "%d:%s", j, text)
			vector[j] = float32(h.Sum32()%1000) / 1000
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (l *LocalProvider) Name() string {
	return "local"
}
