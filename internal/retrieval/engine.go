// File path: internal/retrieval/engine.go
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caseforge/caseforge/internal/common"
	"github.com/caseforge/caseforge/internal/graph"
	"github.com/caseforge/caseforge/internal/llm"
	"github.com/caseforge/caseforge/internal/vector"
)

// Hit is one retrieval result. GraphContext is nil for vector-only queries
// and points at the shared expansion result otherwise.
type Hit struct {
	ID           string          `json:"id"`
	Content      string          `json:"content"`
	Kind         string          `json:"kind,omitempty"`
	Score        float32         `json:"score"`
	Confidence   float64         `json:"confidence,omitempty"`
	GraphContext *graph.Subgraph `json:"graph_context,omitempty"`
}

// Engine blends vector similarity search with graph neighborhood context.
type Engine struct {
	provider llm.Provider
	vector   vector.Store
	graph    graph.Client
	logger   *slog.Logger
}

func NewEngine(provider llm.Provider, store vector.Store, client graph.Client) *Engine {
	return &Engine{
		provider: provider,
		vector:   store,
		graph:    client,
		logger:   common.Logger(),
	}
}

// Search embeds the query, runs a top-k vector search, and, for graphDepth
// greater than zero, attaches one batched subgraph expansion shared by all
// hits. Graph trouble degrades the answer to vector-only; it never fails the
// query.
func (e *Engine) Search(ctx context.Context, query string, topK, graphDepth int) ([]Hit, error) {
	if e == nil {
		return nil, errors.New("retrieval: engine not configured")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("retrieval: query required")
	}
	if topK < 1 {
		return nil, fmt.Errorf("retrieval: topK %d out of range", topK)
	}
	if graphDepth < 0 {
		return nil, fmt.Errorf("retrieval: graph depth %d out of range", graphDepth)
	}
	if e.vector == nil || !e.vector.Available() {
		return nil, errors.New("retrieval: vector index unavailable")
	}

	vectors, err := e.provider.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, errors.New("retrieval: embedding provider returned nothing")
	}
	results, err := e.vector.Search(ctx, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector search: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	graphIDs := make([]string, 0, len(results))
	for _, result := range results {
		hit := Hit{ID: result.ID, Score: result.Score}
		if content, ok := result.Payload["content"].(string); ok {
			hit.Content = content
		}
		if kind, ok := result.Payload["kind"].(string); ok {
			hit.Kind = kind
		}
		if confidence, ok := result.Payload["confidence"].(float64); ok {
			hit.Confidence = confidence
		}
		graphID := hit.ID
		if value, ok := result.Payload["graph_id"].(string); ok && value != "" {
			graphID = value
		}
		graphIDs = append(graphIDs, graphID)
		hits = append(hits, hit)
	}

	if graphDepth == 0 || len(hits) == 0 {
		return hits, nil
	}

	graphContext := e.expand(ctx, graphIDs, graphDepth)
	if graphContext != nil {
		for i := range hits {
			hits[i].GraphContext = graphContext
		}
	}
	return hits, nil
}

// expand issues the single batched expansion for all hit graph ids. Any
// failure is logged and swallowed so the caller still gets vector results.
func (e *Engine) expand(ctx context.Context, graphIDs []string, depth int) *graph.Subgraph {
	if e.graph == nil || !e.graph.Available() {
		e.logger.Warn("retrieval: graph store unavailable, returning vector-only results")
		return nil
	}
	sub, err := e.graph.ExpandSubgraph(ctx, graphIDs, depth)
	if err != nil {
		e.logger.Warn("retrieval: subgraph expansion failed, returning vector-only results",
			"seeds", len(graphIDs), "depth", depth, "error", err)
		return nil
	}
	return &sub
}
