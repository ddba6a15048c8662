// File path: internal/sqlite/rows.go
package sqlite

import (
	"database/sql"
	"time"

	"github.com/caseforge/caseforge/internal/catalog"
	"github.com/caseforge/caseforge/internal/knowledge"
)

type requirementRow struct {
	ID         string    `db:"id"`
	Title      string    `db:"title"`
	Content    string    `db:"content"`
	SourceType string    `db:"source_type"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r requirementRow) toRecord() catalog.Requirement {
	return catalog.Requirement{
		ID:         r.ID,
		Title:      r.Title,
		Content:    r.Content,
		SourceType: r.SourceType,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

type unitRow struct {
	ID         string         `db:"id"`
	Kind       string         `db:"kind"`
	Content    string         `db:"content"`
	Confidence float64        `db:"confidence"`
	Source     string         `db:"source"`
	VectorRef  sql.NullString `db:"vector_ref"`
	GraphRef   sql.NullString `db:"graph_ref"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r unitRow) toRecord() catalog.KnowledgeUnit {
	unit := catalog.KnowledgeUnit{
		ID:         r.ID,
		Kind:       knowledge.Kind(r.Kind),
		Content:    r.Content,
		Confidence: r.Confidence,
		Source:     knowledge.Source(r.Source),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if r.VectorRef.Valid {
		ref := r.VectorRef.String
		unit.VectorRef = &ref
	}
	if r.GraphRef.Valid {
		ref := r.GraphRef.String
		unit.GraphRef = &ref
	}
	return unit
}

type caseRow struct {
	ID            string         `db:"id"`
	RequirementID string         `db:"requirement_id"`
	TestPointID   sql.NullString `db:"test_point_id"`
	Title         string         `db:"title"`
	Precondition  sql.NullString `db:"precondition"`
	Steps         sql.NullString `db:"steps"`
	Expected      sql.NullString `db:"expected"`
	Status        string         `db:"status"`
	CreatedBy     string         `db:"created_by"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r caseRow) toRecord() catalog.TestCase {
	return catalog.TestCase{
		ID:            r.ID,
		RequirementID: r.RequirementID,
		TestPointID:   r.TestPointID.String,
		Title:         r.Title,
		Precondition:  r.Precondition.String,
		Steps:         r.Steps.String,
		Expected:      r.Expected.String,
		Status:        knowledge.CaseStatus(r.Status),
		CreatedBy:     knowledge.Creator(r.CreatedBy),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

type defectRow struct {
	ID         string         `db:"id"`
	Title      string         `db:"title"`
	Phenomenon sql.NullString `db:"phenomenon"`
	RootCause  sql.NullString `db:"root_cause"`
	Severity   sql.NullString `db:"severity"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r defectRow) toRecord() catalog.Defect {
	return catalog.Defect{
		ID:         r.ID,
		Title:      r.Title,
		Phenomenon: r.Phenomenon.String,
		RootCause:  r.RootCause.String,
		Severity:   r.Severity.String,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

type taskRow struct {
	ID            string         `db:"id"`
	RequirementID string         `db:"requirement_id"`
	Status        string         `db:"status"`
	Progress      int            `db:"progress"`
	ErrorMessage  sql.NullString `db:"error_message"`
	CreatedAt     time.Time      `db:"created_at"`
	FinishedAt    sql.NullTime   `db:"finished_at"`
}

func (r taskRow) toRecord() catalog.GenerationTask {
	task := catalog.GenerationTask{
		ID:            r.ID,
		RequirementID: r.RequirementID,
		Status:        knowledge.TaskStatus(r.Status),
		Progress:      r.Progress,
		ErrorMessage:  r.ErrorMessage.String,
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if r.FinishedAt.Valid {
		finished := r.FinishedAt.Time.UTC()
		task.FinishedAt = &finished
	}
	return task
}

type resultRow struct {
	ID        int64          `db:"id"`
	TaskID    string         `db:"task_id"`
	UnitID    sql.NullString `db:"unit_id"`
	Content   string         `db:"content"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r resultRow) toRecord() catalog.GenerationResult {
	return catalog.GenerationResult{
		ID:        r.ID,
		TaskID:    r.TaskID,
		UnitID:    r.UnitID.String,
		Content:   r.Content,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func nullable(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
