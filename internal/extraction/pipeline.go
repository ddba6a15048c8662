// File path: internal/extraction/pipeline.go
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caseforge/caseforge/internal/catalog"
	"github.com/caseforge/caseforge/internal/common"
	"github.com/caseforge/caseforge/internal/graph"
	"github.com/caseforge/caseforge/internal/knowledge"
	"github.com/caseforge/caseforge/internal/llm"
	"github.com/caseforge/caseforge/internal/vector"
)

// Summary reports what one extraction run persisted. ProcessedEdges counts
// model edges actually written; edges skipped over unresolved endpoints are
// tallied separately.
type Summary struct {
	ProcessedNodes int `json:"processed_nodes"`
	ProcessedEdges int `json:"processed_edges"`
	SkippedEdges   int `json:"skipped_edges"`
}

// Pipeline turns raw requirement text into knowledge units mirrored across
// the catalog, the vector index and the graph.
type Pipeline struct {
	provider llm.Provider
	store    catalog.Store
	vector   vector.Store
	graph    graph.Client
	logger   *slog.Logger
}

func NewPipeline(provider llm.Provider, store catalog.Store, vec vector.Store, client graph.Client) *Pipeline {
	return &Pipeline{
		provider: provider,
		store:    store,
		vector:   vec,
		graph:    client,
		logger:   common.Logger(),
	}
}

type extractionPayload struct {
	Nodes []struct {
		ID         string  `json:"id"`
		Type       string  `json:"type"`
		Content    string  `json:"content"`
		Confidence float64 `json:"confidence"`
	} `json:"nodes"`
	Edges []struct {
		Source   string `json:"source"`
		Target   string `json:"target"`
		Relation string `json:"relation"`
	} `json:"edges"`
}

type mintedNode struct {
	id   string
	kind knowledge.Kind
	// inGraph tracks whether the graph mirror landed; edges only attach to
	// nodes that exist there.
	inGraph bool
}

// ExtractAndStore runs the model over the requirement text and persists the
// resulting knowledge. The catalog write happens first for every node; graph
// and vector mirrors follow, and all nodes are durably written before any
// model edge.
func (p *Pipeline) ExtractAndStore(ctx context.Context, requirementID, text string) (Summary, error) {
	var summary Summary
	if strings.TrimSpace(requirementID) == "" {
		return summary, errors.New("extraction: requirement id required")
	}
	if strings.TrimSpace(text) == "" {
		return summary, errors.New("extraction: requirement text required")
	}

	raw, err := p.provider.Chat(ctx, []llm.Message{
		{Role: "user", Content: llm.KnowledgeExtractionPrompt(text)},
	})
	if err != nil {
		return summary, fmt.Errorf("extraction: model call: %w", err)
	}
	var payload extractionPayload
	if err := llm.DecodeJSON(raw, &payload); err != nil {
		return summary, fmt.Errorf("extraction: %w", err)
	}

	graphUp := p.graph != nil && p.graph.Available()
	if graphUp {
		err := p.graph.UpsertNode(ctx, "Requirement", map[string]interface{}{
			"id":      requirementID,
			"content": text,
		})
		if err != nil {
			p.logger.Warn("extraction: requirement root write failed", "requirement", requirementID, "error", err)
			graphUp = false
		}
	} else {
		p.logger.Warn("extraction: graph store unavailable, mirrors deferred to reconciliation",
			"requirement", requirementID)
	}

	minted := make(map[string]mintedNode, len(payload.Nodes))
	entries := make([]vector.Entry, 0, len(payload.Nodes))
	for _, node := range payload.Nodes {
		tempID := strings.TrimSpace(node.ID)
		content := strings.TrimSpace(node.Content)
		if tempID == "" || content == "" {
			p.logger.Warn("extraction: dropping empty node", "requirement", requirementID)
			continue
		}
		kind, recognised := knowledge.KindFromLabel(node.Type)
		if !recognised {
			p.logger.Warn("extraction: unknown node type, treating as test point",
				"requirement", requirementID, "type", node.Type)
		}
		confidence := node.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 1 {
			confidence = 1
		}

		unitID := knowledge.NewUnitID()
		unit := catalog.KnowledgeUnit{
			ID:         unitID,
			Kind:       kind,
			Content:    content,
			Confidence: confidence,
			Source:     knowledge.SourceRequirement,
		}
		if err := p.store.CreateKnowledgeUnit(ctx, unit); err != nil {
			return summary, fmt.Errorf("extraction: persist unit: %w", err)
		}

		entry := mintedNode{id: unitID, kind: kind}
		if graphUp {
			err := p.graph.UpsertNode(ctx, kind.Label(), map[string]interface{}{
				"id":             unitID,
				"content":        content,
				"confidence":     confidence,
				"requirement_id": requirementID,
			})
			if err != nil {
				p.logger.Warn("extraction: node mirror failed", "unit", unitID, "error", err)
			} else {
				entry.inGraph = true
				ref := unitID
				if err := p.store.SetUnitRefs(ctx, unitID, nil, &ref); err != nil {
					p.logger.Warn("extraction: record graph ref failed", "unit", unitID, "error", err)
				}
				err = p.graph.UpsertRelationship(ctx, "Requirement", requirementID, kind.Label(), unitID, knowledge.RelDerive)
				if err != nil {
					p.logger.Warn("extraction: derive edge failed", "unit", unitID, "error", err)
				}
			}
		}
		minted[tempID] = entry

		entries = append(entries, vector.Entry{
			ID:         unitID,
			Content:    content,
			Kind:       string(kind),
			GraphID:    unitID,
			Confidence: confidence,
		})
		summary.ProcessedNodes++
	}

	p.upsertVectors(ctx, requirementID, entries)

	for _, edge := range payload.Edges {
		source, srcOK := minted[strings.TrimSpace(edge.Source)]
		target, dstOK := minted[strings.TrimSpace(edge.Target)]
		if !srcOK || !dstOK {
			summary.SkippedEdges++
			p.logger.Warn("extraction: skipping edge with unresolved endpoint",
				"requirement", requirementID, "source", edge.Source, "target", edge.Target)
			continue
		}
		relation := normalizeRelation(edge.Relation)
		if graph.ValidIdentifier(relation) != nil {
			summary.SkippedEdges++
			p.logger.Warn("extraction: skipping edge with invalid relation",
				"requirement", requirementID, "relation", edge.Relation)
			continue
		}
		if !graphUp || !source.inGraph || !target.inGraph {
			summary.SkippedEdges++
			continue
		}
		err := p.graph.UpsertRelationship(ctx, source.kind.Label(), source.id, target.kind.Label(), target.id, relation)
		if err != nil {
			summary.SkippedEdges++
			p.logger.Warn("extraction: edge write failed",
				"source", source.id, "target", target.id, "error", err)
			continue
		}
		summary.ProcessedEdges++
	}

	p.logger.Info("extraction: completed", "requirement", requirementID,
		"nodes", summary.ProcessedNodes, "edges", summary.ProcessedEdges, "skipped", summary.SkippedEdges)
	return summary, nil
}

func (p *Pipeline) upsertVectors(ctx context.Context, requirementID string, entries []vector.Entry) {
	if len(entries) == 0 {
		return
	}
	if p.vector == nil || !p.vector.Available() {
		p.logger.Warn("extraction: vector index unavailable, mirrors deferred to reconciliation",
			"requirement", requirementID)
		return
	}
	contents := make([]string, 0, len(entries))
	for _, entry := range entries {
		contents = append(contents, entry.Content)
	}
	vectors, err := p.provider.Embed(ctx, contents)
	if err != nil || len(vectors) != len(entries) {
		p.logger.Warn("extraction: embedding batch failed", "requirement", requirementID, "error", err)
		return
	}
	if err := p.vector.Upsert(ctx, entries, vectors); err != nil {
		p.logger.Warn("extraction: vector upsert failed", "requirement", requirementID, "error", err)
		return
	}
	for _, entry := range entries {
		ref := entry.ID
		if err := p.store.SetUnitRefs(ctx, entry.ID, &ref, nil); err != nil {
			p.logger.Warn("extraction: record vector ref failed", "unit", entry.ID, "error", err)
		}
	}
}

func normalizeRelation(relation string) string {
	cleaned := strings.TrimSpace(strings.ToUpper(relation))
	cleaned = strings.ReplaceAll(cleaned, " ", "_")
	cleaned = strings.ReplaceAll(cleaned, "-", "_")
	if cleaned == "" {
		return "RELATES_TO"
	}
	return cleaned
}
