// File path: internal/sqlite/store_test.go
package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/caseforge/caseforge/internal/catalog"
	"github.com/caseforge/caseforge/internal/knowledge"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedRequirement(t *testing.T, store *Store, id string) {
	t.Helper()
	err := store.CreateRequirement(context.Background(), catalog.Requirement{
		ID:      id,
		Title:   "login",
		Content: "The user logs in with account and password",
	})
	if err != nil {
		t.Fatalf("seed requirement: %v", err)
	}
}

func TestOpenAppliesConnectionPragmas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	var mode string
	if err := store.db.Get(&mode, "PRAGMA journal_mode"); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected wal journal mode, got %q", mode)
	}
	var fk int
	if err := store.db.Get(&fk, "PRAGMA foreign_keys"); err != nil {
		t.Fatalf("read foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Fatalf("expected foreign_keys on, got %d", fk)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	// Reopening runs the migration again against the existing file.
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	reopened.Close()
}

func TestRequirementRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedRequirement(t, store, "REQ-AAAA0001")

	req, err := store.GetRequirement(ctx, "REQ-AAAA0001")
	if err != nil {
		t.Fatalf("get requirement: %v", err)
	}
	if req.Title != "login" || req.SourceType != "manual" {
		t.Fatalf("unexpected requirement: %+v", req)
	}
	if _, err := store.GetRequirement(ctx, "REQ-MISSING0"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestKnowledgeUnitRefsAndConfidence(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	unit := catalog.KnowledgeUnit{
		ID:         "K-00000001",
		Kind:       knowledge.KindTestPoint,
		Content:    "verify lockout after five failures",
		Confidence: 0.8,
		Source:     knowledge.SourceRequirement,
	}
	if err := store.CreateKnowledgeUnit(ctx, unit); err != nil {
		t.Fatalf("create unit: %v", err)
	}

	missing, err := store.ListUnitsMissingRefs(ctx, 10)
	if err != nil {
		t.Fatalf("list missing refs: %v", err)
	}
	if len(missing) != 1 || missing[0].ID != unit.ID {
		t.Fatalf("expected one unmirrored unit, got %+v", missing)
	}

	vectorRef := unit.ID
	if err := store.SetUnitRefs(ctx, unit.ID, &vectorRef, nil); err != nil {
		t.Fatalf("set vector ref: %v", err)
	}
	got, err := store.GetKnowledgeUnit(ctx, unit.ID)
	if err != nil {
		t.Fatalf("get unit: %v", err)
	}
	if got.VectorRef == nil || *got.VectorRef != unit.ID {
		t.Fatalf("vector ref not recorded: %+v", got)
	}
	if got.GraphRef != nil {
		t.Fatalf("graph ref should stay unset, got %v", *got.GraphRef)
	}

	graphRef := unit.ID
	if err := store.SetUnitRefs(ctx, unit.ID, nil, &graphRef); err != nil {
		t.Fatalf("set graph ref: %v", err)
	}
	missing, err = store.ListUnitsMissingRefs(ctx, 10)
	if err != nil {
		t.Fatalf("list missing refs: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected fully mirrored unit, got %+v", missing)
	}

	if err := store.UpdateUnitConfidence(ctx, unit.ID, 1.4); err != nil {
		t.Fatalf("update confidence: %v", err)
	}
	got, _ = store.GetKnowledgeUnit(ctx, unit.ID)
	if got.Confidence != 1.0 {
		t.Fatalf("expected confidence clamped to 1.0, got %f", got.Confidence)
	}
}

func TestCreateKnowledgeUnitRejectsUnknownKind(t *testing.T) {
	store := openTestStore(t)
	err := store.CreateKnowledgeUnit(context.Background(), catalog.KnowledgeUnit{
		ID:         "K-00000002",
		Kind:       knowledge.Kind("Widget"),
		Content:    "x",
		Confidence: 0.5,
		Source:     knowledge.SourceRequirement,
	})
	if err == nil {
		t.Fatal("expected invalid kind to be rejected")
	}
}

func TestTaskStateMachine(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedRequirement(t, store, "REQ-AAAA0002")

	task := catalog.GenerationTask{ID: "GT-00000001", RequirementID: "REQ-AAAA0002"}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	// Progress updates before RUNNING are no-ops.
	if err := store.UpdateTaskProgress(ctx, task.ID, 30); err != nil {
		t.Fatalf("progress on INIT: %v", err)
	}
	got, _ := store.GetTask(ctx, task.ID)
	if got.Progress != 0 {
		t.Fatalf("INIT task progress must stay 0, got %d", got.Progress)
	}

	if err := store.MarkTaskRunning(ctx, task.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := store.MarkTaskRunning(ctx, task.ID); !errors.Is(err, catalog.ErrConflict) {
		t.Fatalf("expected ErrConflict re-running, got %v", err)
	}

	if err := store.UpdateTaskProgress(ctx, task.ID, 50); err != nil {
		t.Fatalf("progress 50: %v", err)
	}
	if err := store.UpdateTaskProgress(ctx, task.ID, 30); err != nil {
		t.Fatalf("progress 30: %v", err)
	}
	got, _ = store.GetTask(ctx, task.ID)
	if got.Progress != 50 {
		t.Fatalf("progress must be monotonic, got %d", got.Progress)
	}

	if err := store.CompleteTask(ctx, task.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = store.GetTask(ctx, task.ID)
	if got.Status != knowledge.TaskDone || got.Progress != 100 || got.FinishedAt == nil {
		t.Fatalf("unexpected terminal task: %+v", got)
	}

	if err := store.FailTask(ctx, task.ID, "late failure"); !errors.Is(err, catalog.ErrConflict) {
		t.Fatalf("expected terminal task to be immutable, got %v", err)
	}
}

func TestFailTaskRetainsResults(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedRequirement(t, store, "REQ-AAAA0003")

	task := catalog.GenerationTask{ID: "GT-00000002", RequirementID: "REQ-AAAA0003"}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := store.MarkTaskRunning(ctx, task.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	err := store.CreateGenerationResult(ctx, catalog.GenerationResult{
		TaskID: task.ID, UnitID: "K-00000003", Content: `{"title":"partial"}`,
	})
	if err != nil {
		t.Fatalf("create result: %v", err)
	}
	if err := store.FailTask(ctx, task.ID, "provider timeout"); err != nil {
		t.Fatalf("fail task: %v", err)
	}

	got, _ := store.GetTask(ctx, task.ID)
	if got.Status != knowledge.TaskFailed || got.ErrorMessage != "provider timeout" || got.FinishedAt == nil {
		t.Fatalf("unexpected failed task: %+v", got)
	}
	results, err := store.ListGenerationResults(ctx, task.ID)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("partial results must be retained, got %d", len(results))
	}
}

func TestConfirmedCasesWithoutUnit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedRequirement(t, store, "REQ-AAAA0004")

	mk := func(id, unitID string, status knowledge.CaseStatus) {
		t.Helper()
		err := store.CreateTestCase(ctx, catalog.TestCase{
			ID: id, RequirementID: "REQ-AAAA0004", TestPointID: unitID,
			Title: "case " + id, Status: status, CreatedBy: knowledge.CreatorManual,
		})
		if err != nil {
			t.Fatalf("create case %s: %v", id, err)
		}
	}
	err := store.CreateKnowledgeUnit(ctx, catalog.KnowledgeUnit{
		ID: "K-00000004", Kind: knowledge.KindTestPoint, Content: "linked",
		Confidence: 0.8, Source: knowledge.SourceRequirement,
	})
	if err != nil {
		t.Fatalf("create unit: %v", err)
	}

	mk("TC-00000001", "", knowledge.CaseConfirmed)
	mk("TC-00000002", "K-00000004", knowledge.CaseConfirmed)
	mk("TC-00000003", "", knowledge.CaseDraft)

	unlinked, err := store.ListConfirmedCasesWithoutUnit(ctx, 10)
	if err != nil {
		t.Fatalf("list unlinked: %v", err)
	}
	if len(unlinked) != 1 || unlinked[0].ID != "TC-00000001" {
		t.Fatalf("expected only the unlinked confirmed case, got %+v", unlinked)
	}

	if err := store.UpdateTestCaseStatus(ctx, "TC-00000002", knowledge.CaseExecuted); err != nil {
		t.Fatalf("execute case: %v", err)
	}
	if err := store.UpdateTestCaseStatus(ctx, "TC-00000002", knowledge.CaseDraft); !errors.Is(err, catalog.ErrConflict) {
		t.Fatalf("expected backwards status move to conflict, got %v", err)
	}
}

func TestOverviewAndBreakdown(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	seedRequirement(t, store, "REQ-AAAA0005")

	units := []catalog.KnowledgeUnit{
		{ID: "K-00000005", Kind: knowledge.KindTestPoint, Content: "a", Confidence: 0.8, Source: knowledge.SourceRequirement},
		{ID: "K-00000006", Kind: knowledge.KindRisk, Content: "b", Confidence: 0.9, Source: knowledge.SourceDefect},
	}
	for _, unit := range units {
		if err := store.CreateKnowledgeUnit(ctx, unit); err != nil {
			t.Fatalf("create unit: %v", err)
		}
	}
	err := store.CreateDefect(ctx, catalog.Defect{ID: "DF-00000001", Title: "crash on submit"})
	if err != nil {
		t.Fatalf("create defect: %v", err)
	}

	stats, err := store.Overview(ctx)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if stats.Requirements != 1 || stats.KnowledgeUnits != 2 || stats.Defects != 1 {
		t.Fatalf("unexpected overview: %+v", stats)
	}

	breakdown, err := store.KnowledgeBreakdown(ctx)
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	if len(breakdown) != 2 {
		t.Fatalf("expected two kinds, got %+v", breakdown)
	}
}
