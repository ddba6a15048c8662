// File path: internal/feedback/loop_test.go
package feedback

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/caseforge/caseforge/internal/catalog"
	"github.com/caseforge/caseforge/internal/graph/memory"
	"github.com/caseforge/caseforge/internal/knowledge"
	"github.com/caseforge/caseforge/internal/llm"
	"github.com/caseforge/caseforge/internal/sqlite"
	"github.com/caseforge/caseforge/internal/vector"
)

type stubProvider struct{}

func (stubProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return "", nil
}

func (stubProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	vectors := make([][]float32, len(input))
	for i := range input {
		vectors[i] = []float32{0.5, 0.5}
	}
	return vectors, nil
}

func (stubProvider) Name() string { return "stub" }

type memVector struct {
	entries map[string]vector.Entry
}

func newMemVector() *memVector { return &memVector{entries: make(map[string]vector.Entry)} }

func (m *memVector) Available() bool                                   { return true }
func (m *memVector) Collection() string                                { return "test" }
func (m *memVector) Close() error                                      { return nil }
func (m *memVector) EnsureCollection(ctx context.Context, d int) error { return nil }
func (m *memVector) Search(ctx context.Context, v []float32, l int) ([]vector.SearchResult, error) {
	return nil, nil
}
func (m *memVector) Upsert(ctx context.Context, entries []vector.Entry, vectors [][]float32) error {
	for _, entry := range entries {
		m.entries[entry.ID] = entry
	}
	return nil
}

func newLoop(t *testing.T) (*Loop, catalog.Store, *memVector, *memory.Service) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	vec := newMemVector()
	g := memory.New()
	return NewLoop(store, vec, g, stubProvider{}), store, vec, g
}

func seedCase(t *testing.T, store catalog.Store, status knowledge.CaseStatus, unitID string) catalog.TestCase {
	t.Helper()
	ctx := context.Background()
	req := catalog.Requirement{ID: knowledge.NewRequirementID(), Title: "login", Content: "login flow", SourceType: "manual"}
	if err := store.CreateRequirement(ctx, req); err != nil {
		t.Fatalf("seed requirement: %v", err)
	}
	tc := catalog.TestCase{
		ID:            knowledge.NewCaseID(),
		RequirementID: req.ID,
		TestPointID:   unitID,
		Title:         "login rejects bad password",
		Expected:      "error shown",
		Status:        knowledge.CaseDraft,
		CreatedBy:     knowledge.CreatorManual,
	}
	if err := store.CreateTestCase(ctx, tc); err != nil {
		t.Fatalf("seed case: %v", err)
	}
	if status != knowledge.CaseDraft {
		if err := store.UpdateTestCaseStatus(ctx, tc.ID, status); err != nil {
			t.Fatalf("seed status: %v", err)
		}
		tc.Status = status
	}
	return tc
}

func TestConfirmedCaseRaisesLinkedConfidence(t *testing.T) {
	loop, store, _, _ := newLoop(t)
	ctx := context.Background()

	unit := catalog.KnowledgeUnit{
		ID:         knowledge.NewUnitID(),
		Kind:       knowledge.KindTestPoint,
		Content:    "bad password rejection",
		Confidence: 0.95,
		Source:     knowledge.SourceRequirement,
	}
	if err := store.CreateKnowledgeUnit(ctx, unit); err != nil {
		t.Fatalf("seed unit: %v", err)
	}
	tc := seedCase(t, store, knowledge.CaseConfirmed, unit.ID)

	result, err := loop.FromConfirmedCase(ctx, tc.ID)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if result.Outcome != OutcomeUpdated || result.UnitID != unit.ID {
		t.Fatalf("unexpected result: %+v", result)
	}
	fresh, err := store.GetKnowledgeUnit(ctx, unit.ID)
	if err != nil {
		t.Fatalf("reload unit: %v", err)
	}
	// 0.95 + 0.1 caps at 1.0.
	if fresh.Confidence != 1.0 {
		t.Fatalf("confidence not capped: %v", fresh.Confidence)
	}
}

func TestConfirmedCaseMintsUnit(t *testing.T) {
	loop, store, vec, g := newLoop(t)
	ctx := context.Background()
	tc := seedCase(t, store, knowledge.CaseConfirmed, "")

	result, err := loop.FromConfirmedCase(ctx, tc.ID)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if result.Outcome != OutcomeCreated || result.UnitID == "" {
		t.Fatalf("unexpected result: %+v", result)
	}

	unit, err := store.GetKnowledgeUnit(ctx, result.UnitID)
	if err != nil {
		t.Fatalf("minted unit missing: %v", err)
	}
	if unit.Kind != knowledge.KindTestPoint || unit.Confidence != 0.8 || unit.Source != knowledge.SourceConfirmedCase {
		t.Fatalf("unexpected unit: %+v", unit)
	}
	linked, err := store.GetTestCase(ctx, tc.ID)
	if err != nil {
		t.Fatalf("reload case: %v", err)
	}
	if linked.TestPointID != unit.ID {
		t.Fatalf("case not linked: %+v", linked)
	}
	if _, ok := vec.entries[unit.ID]; !ok {
		t.Fatalf("vector mirror missing for %s", unit.ID)
	}
	if !g.HasEdge(unit.ID, knowledge.RelCoveredBy, tc.ID) {
		t.Fatalf("missing COVERED_BY edge")
	}
}

func TestDraftCaseIsSkipped(t *testing.T) {
	loop, store, _, _ := newLoop(t)
	tc := seedCase(t, store, knowledge.CaseDraft, "")

	result, err := loop.FromConfirmedCase(context.Background(), tc.ID)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if result.Outcome != OutcomeSkipped {
		t.Fatalf("draft case must be skipped, got %+v", result)
	}
}

func TestExecutedCaseIsSkipped(t *testing.T) {
	// Only confirmed cases feed back into the knowledge base; execution
	// happens after the confirm-time absorption already ran.
	loop, store, _, _ := newLoop(t)
	tc := seedCase(t, store, knowledge.CaseExecuted, "")

	result, err := loop.FromConfirmedCase(context.Background(), tc.ID)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if result.Outcome != OutcomeSkipped {
		t.Fatalf("executed case must be skipped, got %+v", result)
	}
	if units, err := store.ListKnowledgeUnits(context.Background(), 10, 0); err != nil || len(units) != 0 {
		t.Fatalf("no unit should be minted: %v, %d units", err, len(units))
	}
}

func TestDefectMintsRiskUnit(t *testing.T) {
	loop, store, _, g := newLoop(t)
	ctx := context.Background()

	defect := catalog.Defect{
		ID:         knowledge.NewDefectID(),
		Title:      "session survives logout",
		Phenomenon: "stale token accepted",
		RootCause:  "token cache not invalidated",
		Severity:   "high",
	}
	if err := store.CreateDefect(ctx, defect); err != nil {
		t.Fatalf("seed defect: %v", err)
	}

	result, err := loop.FromDefect(ctx, defect.ID)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	unit, err := store.GetKnowledgeUnit(ctx, result.UnitID)
	if err != nil {
		t.Fatalf("risk unit missing: %v", err)
	}
	if unit.Kind != knowledge.KindRisk || unit.Confidence != 0.9 || unit.Source != knowledge.SourceDefect {
		t.Fatalf("unexpected unit: %+v", unit)
	}
	if !g.HasEdge(defect.ID, knowledge.RelTriggered, unit.ID) {
		t.Fatalf("missing TRIGGERED edge")
	}
}

func TestBatchConfirmedCases(t *testing.T) {
	loop, store, _, _ := newLoop(t)
	ctx := context.Background()

	first := seedCase(t, store, knowledge.CaseConfirmed, "")
	second := seedCase(t, store, knowledge.CaseConfirmed, "")
	seedCase(t, store, knowledge.CaseDraft, "")

	summary, err := loop.BatchConfirmedCases(ctx, 10)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if summary.Processed != 2 || summary.Succeeded != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, id := range []string{first.ID, second.ID} {
		tc, err := store.GetTestCase(ctx, id)
		if err != nil {
			t.Fatalf("reload case: %v", err)
		}
		if tc.TestPointID == "" {
			t.Fatalf("case %s not linked after batch", id)
		}
	}

	// A second pass finds nothing left to absorb.
	summary, err = loop.BatchConfirmedCases(ctx, 10)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if summary.Processed != 0 {
		t.Fatalf("batch must be idempotent, got %+v", summary)
	}
}

func TestSweeperAbsorbsConfirmedCases(t *testing.T) {
	loop, store, _, _ := newLoop(t)
	tc := seedCase(t, store, knowledge.CaseConfirmed, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sweeper := NewSweeper(loop, 10*time.Millisecond)
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		linked, err := store.GetTestCase(context.Background(), tc.ID)
		if err != nil {
			t.Fatalf("reload case: %v", err)
		}
		if linked.TestPointID != "" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("sweeper never absorbed the confirmed case")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestReconcileMirrors(t *testing.T) {
	loop, store, vec, g := newLoop(t)
	ctx := context.Background()

	unit := catalog.KnowledgeUnit{
		ID:         knowledge.NewUnitID(),
		Kind:       knowledge.KindScenario,
		Content:    "concurrent login sessions",
		Confidence: 0.7,
		Source:     knowledge.SourceRequirement,
	}
	if err := store.CreateKnowledgeUnit(ctx, unit); err != nil {
		t.Fatalf("seed unit: %v", err)
	}

	repaired, err := loop.ReconcileMirrors(ctx, 10)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if repaired != 1 {
		t.Fatalf("expected 1 repaired unit, got %d", repaired)
	}
	if _, ok := vec.entries[unit.ID]; !ok {
		t.Fatalf("vector mirror not repaired")
	}
	if g.NodeCount() != 1 {
		t.Fatalf("graph mirror not repaired, nodes=%d", g.NodeCount())
	}
	missing, err := store.ListUnitsMissingRefs(ctx, 10)
	if err != nil {
		t.Fatalf("list missing: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("refs still missing: %d", len(missing))
	}
}
