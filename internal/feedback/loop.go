// File path: internal/feedback/loop.go
package feedback

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

const (
	// OutcomeUpdated means an existing linked unit had its confidence raised.
	OutcomeUpdated = "updated"
	// OutcomeCreated means a new unit was minted from the feedback source.
	OutcomeCreated = "created"
	// OutcomeSkipped means the source did not qualify, for example a case
	// that is not confirmed yet.
	OutcomeSkipped = "skipped"
)

// confirmedBoost is added to a linked unit's confidence when its test case
// is confirmed, capped at 1.0.
const confirmedBoost = 0.1

// Result reports what one feedback event did to the knowledge base.
type Result struct {
	CaseID   string `json:"case_id,omitempty"`
	DefectID string `json:"defect_id,omitempty"`
	UnitID   string `json:"unit_id,omitempty"`
	Outcome  string `json:"outcome"`
}

// BatchSummary reports one batch feedback run.
type BatchSummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Loop feeds confirmed test cases and defects back into the knowledge base,
// and repairs vector and graph mirrors that drifted from the catalog.
type Loop struct {
	store    catalog.Store
	vector   vector.Store
	graph    graph.Client
	provider llm.Provider
	logger   *slog.Logger
}

func NewLoop(store catalog.Store, vec vector.Store, client graph.Client, provider llm.Provider) *Loop {
	return &Loop{
		store:    store,
		vector:   vec,
		graph:    client,
		provider: provider,
		logger:   common.Logger(),
	}
}

// FromConfirmedCase absorbs a confirmed test case. A case already linked to
// a unit raises that unit's confidence; an unlinked case mints a new
// confirmed_case test point and links the case to it. Mirror writes are best
// effort, the reconciliation sweep picks up what fails here.
func (l *Loop) FromConfirmedCase(ctx context.Context, caseID string) (Result, error) {
	tc, err := l.store.GetTestCase(ctx, caseID)
	if err != nil {
		return Result{}, fmt.Errorf("feedback: load case: %w", err)
	}
	result := Result{CaseID: caseID}
	if tc.Status != knowledge.CaseConfirmed {
		result.Outcome = OutcomeSkipped
		return result, nil
	}

	if tc.TestPointID != "" {
		unit, err := l.store.GetKnowledgeUnit(ctx, tc.TestPointID)
		if err != nil {
			return Result{}, fmt.Errorf("feedback: load linked unit: %w", err)
		}
		confidence := unit.Confidence + confirmedBoost
		if confidence > 1.0 {
			confidence = 1.0
		}
		if err := l.store.UpdateUnitConfidence(ctx, unit.ID, confidence); err != nil {
			return Result{}, fmt.Errorf("feedback: raise confidence: %w", err)
		}
		l.logger.Info("feedback: confirmed case raised unit confidence",
			"case", caseID, "unit", unit.ID, "confidence", confidence)
		result.UnitID = unit.ID
		result.Outcome = OutcomeUpdated
		return result, nil
	}

	content := caseContent(tc)
	unit := catalog.KnowledgeUnit{
		ID:         knowledge.NewUnitID(),
		Kind:       knowledge.KindTestPoint,
		Content:    content,
		Confidence: 0.8,
		Source:     knowledge.SourceConfirmedCase,
	}
	if err := l.store.CreateKnowledgeUnit(ctx, unit); err != nil {
		return Result{}, fmt.Errorf("feedback: persist unit: %w", err)
	}
	if err := l.store.LinkTestCaseUnit(ctx, tc.ID, unit.ID); err != nil {
		return Result{}, fmt.Errorf("feedback: link case: %w", err)
	}
	l.mirrorUnit(ctx, unit)
	if l.graphUp() {
		err := l.graph.UpsertNode(ctx, "TestCase", map[string]interface{}{
			"id":     tc.ID,
			"title":  tc.Title,
			"status": string(knowledge.CaseConfirmed),
		})
		if err != nil {
			l.logger.Warn("feedback: case node write failed", "case", tc.ID, "error", err)
		} else {
			err = l.graph.UpsertRelationship(ctx, unit.Kind.Label(), unit.ID, "TestCase", tc.ID, knowledge.RelCoveredBy)
			if err != nil {
				l.logger.Warn("feedback: covered_by edge failed", "case", tc.ID, "unit", unit.ID, "error", err)
			}
		}
	}
	l.logger.Info("feedback: confirmed case minted unit", "case", caseID, "unit", unit.ID)
	result.UnitID = unit.ID
	result.Outcome = OutcomeCreated
	return result, nil
}

// FromDefect turns a reported defect into a risk unit linked to the defect
// in the graph.
func (l *Loop) FromDefect(ctx context.Context, defectID string) (Result, error) {
	defect, err := l.store.GetDefect(ctx, defectID)
	if err != nil {
		return Result{}, fmt.Errorf("feedback: load defect: %w", err)
	}
	unit := catalog.KnowledgeUnit{
		ID:         knowledge.NewUnitID(),
		Kind:       knowledge.KindRisk,
		Content:    defectContent(defect),
		Confidence: 0.9,
		Source:     knowledge.SourceDefect,
	}
	if err := l.store.CreateKnowledgeUnit(ctx, unit); err != nil {
		return Result{}, fmt.Errorf("feedback: persist risk unit: %w", err)
	}
	l.mirrorUnit(ctx, unit)
	if l.graphUp() {
		err := l.graph.UpsertNode(ctx, "Defect", map[string]interface{}{
			"id":       defect.ID,
			"title":    defect.Title,
			"severity": defect.Severity,
		})
		if err != nil {
			l.logger.Warn("feedback: defect node write failed", "defect", defect.ID, "error", err)
		} else {
			err = l.graph.UpsertRelationship(ctx, "Defect", defect.ID, unit.Kind.Label(), unit.ID, knowledge.RelTriggered)
			if err != nil {
				l.logger.Warn("feedback: triggered edge failed", "defect", defect.ID, "unit", unit.ID, "error", err)
			}
		}
	}
	l.logger.Info("feedback: defect minted risk unit", "defect", defectID, "unit", unit.ID)
	return Result{DefectID: defectID, UnitID: unit.ID, Outcome: OutcomeCreated}, nil
}

// BatchConfirmedCases runs the confirmed-case contract over every confirmed
// case that has no linked unit yet. Individual failures are counted, not
// fatal.
func (l *Loop) BatchConfirmedCases(ctx context.Context, limit int) (BatchSummary, error) {
	var summary BatchSummary
	cases, err := l.store.ListConfirmedCasesWithoutUnit(ctx, limit)
	if err != nil {
		return summary, fmt.Errorf("feedback: list confirmed cases: %w", err)
	}
	for _, tc := range cases {
		summary.Processed++
		if _, err := l.FromConfirmedCase(ctx, tc.ID); err != nil {
			summary.Failed++
			l.logger.Warn("feedback: batch case failed", "case", tc.ID, "error", err)
			continue
		}
		summary.Succeeded++
	}
	if summary.Processed > 0 {
		l.logger.Info("feedback: batch completed", "processed", summary.Processed,
			"succeeded", summary.Succeeded, "failed", summary.Failed)
	}
	return summary, nil
}

// ReconcileMirrors re-mirrors catalog units whose vector or graph write
// never landed. Returns the number of units whose mirrors are now complete.
func (l *Loop) ReconcileMirrors(ctx context.Context, limit int) (int, error) {
	units, err := l.store.ListUnitsMissingRefs(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("feedback: list drifted units: %w", err)
	}
	repaired := 0
	for _, unit := range units {
		l.mirrorUnit(ctx, unit)
		fresh, err := l.store.GetKnowledgeUnit(ctx, unit.ID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			return repaired, fmt.Errorf("feedback: reload unit: %w", err)
		}
		if fresh.VectorRef != nil && fresh.GraphRef != nil {
			repaired++
		}
	}
	if len(units) > 0 {
		l.logger.Info("feedback: reconciliation pass", "candidates", len(units), "repaired", repaired)
	}
	return repaired, nil
}

// mirrorUnit writes the unit's missing vector and graph projections and
// records each ref that lands. Never fatal.
func (l *Loop) mirrorUnit(ctx context.Context, unit catalog.KnowledgeUnit) {
	if unit.GraphRef == nil && l.graphUp() {
		err := l.graph.UpsertNode(ctx, unit.Kind.Label(), map[string]interface{}{
			"id":         unit.ID,
			"content":    unit.Content,
			"confidence": unit.Confidence,
		})
		if err != nil {
			l.logger.Warn("feedback: graph mirror failed", "unit", unit.ID, "error", err)
		} else {
			ref := unit.ID
			if err := l.store.SetUnitRefs(ctx, unit.ID, nil, &ref); err != nil {
				l.logger.Warn("feedback: record graph ref failed", "unit", unit.ID, "error", err)
			}
		}
	}
	if unit.VectorRef == nil && l.vector != nil && l.vector.Available() {
		vectors, err := l.provider.Embed(ctx, []string{unit.Content})
		if err != nil || len(vectors) != 1 {
			l.logger.Warn("feedback: embed failed", "unit", unit.ID, "error", err)
			return
		}
		entry := vector.Entry{
			ID:         unit.ID,
			Content:    unit.Content,
			Kind:       string(unit.Kind),
			GraphID:    unit.ID,
			Confidence: unit.Confidence,
		}
		if err := l.vector.Upsert(ctx, []vector.Entry{entry}, vectors); err != nil {
			l.logger.Warn("feedback: vector mirror failed", "unit", unit.ID, "error", err)
			return
		}
		ref := unit.ID
		if err := l.store.SetUnitRefs(ctx, unit.ID, &ref, nil); err != nil {
			l.logger.Warn("feedback: record vector ref failed", "unit", unit.ID, "error", err)
		}
	}
}

func (l *Loop) graphUp() bool {
	return l.graph != nil && l.graph.Available()
}

func caseContent(tc catalog.TestCase) string {
	parts := []string{tc.Title}
	if strings.TrimSpace(tc.Expected) != "" {
		parts = append(parts, "expected: "+tc.Expected)
	}
	return strings.Join(parts, "; ")
}

func defectContent(defect catalog.Defect) string {
	parts := []string{defect.Title}
	if strings.TrimSpace(defect.Phenomenon) != "" {
		parts = append(parts, defect.Phenomenon)
	}
	if strings.TrimSpace(defect.RootCause) != "" {
		parts = append(parts, "root cause: "+defect.RootCause)
	}
	return strings.Join(parts, "; ")
}
