// File path: internal/catalog/types.go
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/caseforge/caseforge/internal/knowledge"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("catalog: record not found")
	// ErrConflict is returned when a state transition guard rejects a write,
	// for example marking a terminal task running again.
	ErrConflict = errors.New("catalog: conflicting state")
)

// Requirement is a raw requirement submitted for extraction and generation.
type Requirement struct {
	ID         string    `json:"id" db:"id"`
	Title      string    `json:"title" db:"title"`
	Content    string    `json:"content" db:"content"`
	SourceType string    `json:"source_type" db:"source_type"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// KnowledgeUnit is the authoritative record of a unit of test knowledge.
// The same id keys the vector index entry and the graph node; VectorRef and
// GraphRef record whether each mirror write has landed.
type KnowledgeUnit struct {
	ID         string           `json:"id" db:"id"`
	Kind       knowledge.Kind   `json:"kind" db:"kind"`
	Content    string           `json:"content" db:"content"`
	Confidence float64          `json:"confidence" db:"confidence"`
	Source     knowledge.Source `json:"source" db:"source"`
	VectorRef  *string          `json:"vector_ref,omitempty" db:"vector_ref"`
	GraphRef   *string          `json:"graph_ref,omitempty" db:"graph_ref"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at" db:"updated_at"`
}

// TestCase is a generated or hand-written test case. TestPointID links the
// case to the knowledge unit it covers and may be empty.
type TestCase struct {
	ID            string               `json:"id" db:"id"`
	RequirementID string               `json:"requirement_id" db:"requirement_id"`
	TestPointID   string               `json:"test_point_id,omitempty" db:"test_point_id"`
	Title         string               `json:"title" db:"title"`
	Precondition  string               `json:"precondition" db:"precondition"`
	Steps         string               `json:"steps" db:"steps"`
	Expected      string               `json:"expected" db:"expected"`
	Status        knowledge.CaseStatus `json:"status" db:"status"`
	CreatedBy     knowledge.Creator    `json:"created_by" db:"created_by"`
	CreatedAt     time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at" db:"updated_at"`
}

// Defect is a reported defect that the feedback loop turns into risk
// knowledge.
type Defect struct {
	ID         string    `json:"id" db:"id"`
	Title      string    `json:"title" db:"title"`
	Phenomenon string    `json:"phenomenon" db:"phenomenon"`
	RootCause  string    `json:"root_cause" db:"root_cause"`
	Severity   string    `json:"severity" db:"severity"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// GenerationTask tracks one asynchronous generation run. Progress is
// monotonically non-decreasing 0..100; FinishedAt is set exactly once when
// the task reaches DONE or FAILED.
type GenerationTask struct {
	ID            string               `json:"id" db:"id"`
	RequirementID string               `json:"requirement_id" db:"requirement_id"`
	Status        knowledge.TaskStatus `json:"status" db:"status"`
	Progress      int                  `json:"progress" db:"progress"`
	ErrorMessage  string               `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time            `json:"created_at" db:"created_at"`
	FinishedAt    *time.Time           `json:"finished_at,omitempty" db:"finished_at"`
}

// GenerationResult is one raw model output produced during a task, kept for
// audit even when the task later fails.
type GenerationResult struct {
	ID        int64     `json:"id" db:"id"`
	TaskID    string    `json:"task_id" db:"task_id"`
	UnitID    string    `json:"unit_id" db:"unit_id"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// OverviewStats aggregates headline counts for the statistics API.
type OverviewStats struct {
	Requirements   int `json:"requirements" db:"requirements"`
	KnowledgeUnits int `json:"knowledge_units" db:"knowledge_units"`
	TestCases      int `json:"test_cases" db:"test_cases"`
	ConfirmedCases int `json:"confirmed_cases" db:"confirmed_cases"`
	Defects        int `json:"defects" db:"defects"`
	TasksRunning   int `json:"tasks_running" db:"tasks_running"`
	TasksDone      int `json:"tasks_done" db:"tasks_done"`
	TasksFailed    int `json:"tasks_failed" db:"tasks_failed"`
}

// GenerationDay is one day of task activity.
type GenerationDay struct {
	Day     string `json:"day" db:"day"`
	Started int    `json:"started" db:"started"`
	Done    int    `json:"done" db:"done"`
	Failed  int    `json:"failed" db:"failed"`
}

// KindCount aggregates knowledge units per kind with average confidence.
type KindCount struct {
	Kind          knowledge.Kind `json:"kind" db:"kind"`
	Count         int            `json:"count" db:"count"`
	AvgConfidence float64        `json:"avg_confidence" db:"avg_confidence"`
}

// Store is the authoritative relational contract. The vector index and the
// graph store are projections; when they disagree with the catalog, the
// catalog wins and the reconciliation sweep repairs the mirrors.
type Store interface {
	CreateRequirement(ctx context.Context, req Requirement) error
	GetRequirement(ctx context.Context, id string) (Requirement, error)
	ListRequirements(ctx context.Context, limit, offset int) ([]Requirement, error)

	CreateKnowledgeUnit(ctx context.Context, unit KnowledgeUnit) error
	GetKnowledgeUnit(ctx context.Context, id string) (KnowledgeUnit, error)
	ListKnowledgeUnits(ctx context.Context, limit, offset int) ([]KnowledgeUnit, error)
	UpdateUnitConfidence(ctx context.Context, id string, confidence float64) error
	SetUnitRefs(ctx context.Context, id string, vectorRef, graphRef *string) error
	ListUnitsMissingRefs(ctx context.Context, limit int) ([]KnowledgeUnit, error)

	CreateTestCase(ctx context.Context, tc TestCase) error
	GetTestCase(ctx context.Context, id string) (TestCase, error)
	ListTestCases(ctx context.Context, taskID string, limit, offset int) ([]TestCase, error)
	UpdateTestCaseStatus(ctx context.Context, id string, status knowledge.CaseStatus) error
	LinkTestCaseUnit(ctx context.Context, caseID, unitID string) error
	ListConfirmedCasesWithoutUnit(ctx context.Context, limit int) ([]TestCase, error)

	CreateDefect(ctx context.Context, defect Defect) error
	GetDefect(ctx context.Context, id string) (Defect, error)

	CreateTask(ctx context.Context, task GenerationTask) error
	GetTask(ctx context.Context, id string) (GenerationTask, error)
	MarkTaskRunning(ctx context.Context, id string) error
	UpdateTaskProgress(ctx context.Context, id string, progress int) error
	CompleteTask(ctx context.Context, id string) error
	FailTask(ctx context.Context, id, message string) error

	CreateGenerationResult(ctx context.Context, result GenerationResult) error
	ListGenerationResults(ctx context.Context, taskID string) ([]GenerationResult, error)

	Overview(ctx context.Context) (OverviewStats, error)
	GenerationActivity(ctx context.Context, days int) ([]GenerationDay, error)
	KnowledgeBreakdown(ctx context.Context) ([]KindCount, error)

	Close() error
}
