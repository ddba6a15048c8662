// File path: internal/extraction/pipeline_test.go
package extraction

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/caseforge/caseforge/internal/catalog"
	"github.com/caseforge/caseforge/internal/graph/memory"
	"github.com/caseforge/caseforge/internal/knowledge"
	"github.com/caseforge/caseforge/internal/llm"
	"github.com/caseforge/caseforge/internal/sqlite"
	"github.com/caseforge/caseforge/internal/vector"
)

type fakeProvider struct {
	reply   string
	chatErr error
}

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if f.chatErr != nil {
		return "", f.chatErr
	}
	return f.reply, nil
}

func (f *fakeProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	vectors := make([][]float32, len(input))
	for i := range input {
		vectors[i] = []float32{0.1, 0.2, 0.3}
	}
	return vectors, nil
}

func (f *fakeProvider) Name() string { return "fake" }

type captureVector struct {
	entries   []vector.Entry
	batches   int
	upsertErr error
}

func (c *captureVector) Available() bool                                  { return true }
func (c *captureVector) Collection() string                               { return "test" }
func (c *captureVector) Close() error                                     { return nil }
func (c *captureVector) EnsureCollection(ctx context.Context, d int) error { return nil }
func (c *captureVector) Search(ctx context.Context, v []float32, l int) ([]vector.SearchResult, error) {
	return nil, nil
}
func (c *captureVector) Upsert(ctx context.Context, entries []vector.Entry, vectors [][]float32) error {
	if c.upsertErr != nil {
		return c.upsertErr
	}
	c.batches++
	c.entries = append(c.entries, entries...)
	return nil
}

func openStore(t *testing.T) catalog.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

const extractionReply = `{
        "nodes": [
                {"id": "n1", "type": "TestPoint", "content": "verify login with valid credentials", "confidence": 0.9},
                {"id": "n2", "type": "Risk", "content": "account lockout bypass", "confidence": 0.7},
                {"id": "n3", "type": "widget", "content": "password boundary lengths", "confidence": 0.6}
        ],
        "edges": [
                {"source": "n1", "target": "n2", "relation": "relates to"},
                {"source": "n1", "target": "n9", "relation": "RELATES_TO"}
        ]
}`

func TestExtractAndStore(t *testing.T) {
	store := openStore(t)
	vec := &captureVector{}
	g := memory.New()
	pipeline := NewPipeline(&fakeProvider{reply: extractionReply}, store, vec, g)

	summary, err := pipeline.ExtractAndStore(context.Background(), "REQ-00000001", "login requirement")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if summary.ProcessedNodes != 3 {
		t.Fatalf("expected 3 nodes, got %d", summary.ProcessedNodes)
	}
	if summary.ProcessedEdges != 1 {
		t.Fatalf("expected 1 written edge, got %d", summary.ProcessedEdges)
	}
	if summary.SkippedEdges != 1 {
		t.Fatalf("expected 1 skipped edge, got %d", summary.SkippedEdges)
	}

	units, err := store.ListKnowledgeUnits(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("list units: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("expected 3 catalog units, got %d", len(units))
	}
	kinds := make(map[knowledge.Kind]int)
	for _, unit := range units {
		kinds[unit.Kind]++
		if unit.Source != knowledge.SourceRequirement {
			t.Fatalf("unexpected source: %+v", unit)
		}
		if unit.VectorRef == nil || unit.GraphRef == nil {
			t.Fatalf("unit %s should be fully mirrored: %+v", unit.ID, unit)
		}
	}
	// The unrecognised type falls back to TestPoint.
	if kinds[knowledge.KindTestPoint] != 2 || kinds[knowledge.KindRisk] != 1 {
		t.Fatalf("unexpected kind distribution: %v", kinds)
	}

	if vec.batches != 1 {
		t.Fatalf("vector upsert must be one batch, got %d", vec.batches)
	}
	if len(vec.entries) != 3 {
		t.Fatalf("expected 3 vector entries, got %d", len(vec.entries))
	}

	// Root node plus three units in the graph, all derived from the root.
	if g.NodeCount() != 4 {
		t.Fatalf("expected 4 graph nodes, got %d", g.NodeCount())
	}
	for _, unit := range units {
		if !g.HasEdge("REQ-00000001", knowledge.RelDerive, unit.ID) {
			t.Fatalf("missing DERIVE edge for %s", unit.ID)
		}
	}
}

func TestExtractMalformedReply(t *testing.T) {
	pipeline := NewPipeline(&fakeProvider{reply: "the requirement is about login"}, openStore(t), &captureVector{}, memory.New())
	_, err := pipeline.ExtractAndStore(context.Background(), "REQ-00000002", "text")
	if !errors.Is(err, llm.ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
}

func TestExtractVectorFailureIsNotFatal(t *testing.T) {
	store := openStore(t)
	vec := &captureVector{upsertErr: errors.New("index offline")}
	pipeline := NewPipeline(&fakeProvider{reply: extractionReply}, store, vec, memory.New())

	summary, err := pipeline.ExtractAndStore(context.Background(), "REQ-00000003", "text")
	if err != nil {
		t.Fatalf("vector failure must not fail extraction: %v", err)
	}
	if summary.ProcessedNodes != 3 {
		t.Fatalf("expected 3 nodes, got %d", summary.ProcessedNodes)
	}
	missing, err := store.ListUnitsMissingRefs(context.Background(), 10)
	if err != nil {
		t.Fatalf("list missing refs: %v", err)
	}
	if len(missing) != 3 {
		t.Fatalf("units should await reconciliation, got %d", len(missing))
	}
}
