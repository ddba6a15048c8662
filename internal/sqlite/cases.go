// File path: internal/sqlite/cases.go
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caseforge/caseforge/internal/catalog"
	"github.com/caseforge/caseforge/internal/knowledge"
)

// CreateTestCase inserts a test case row.
func (s *Store) CreateTestCase(ctx context.Context, tc catalog.TestCase) error {
	if strings.TrimSpace(tc.ID) == "" {
		return errors.New("sqlite: test case id required")
	}
	if strings.TrimSpace(tc.RequirementID) == "" {
		return errors.New("sqlite: test case requirement id required")
	}
	if tc.Status == "" {
		tc.Status = knowledge.CaseDraft
	}
	if tc.CreatedBy == "" {
		tc.CreatedBy = knowledge.CreatorAI
	}
	now := time.Now().UTC()
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = now
	}
	if tc.UpdatedAt.IsZero() {
		tc.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO test_cases
                 (id, requirement_id, test_point_id, title, precondition, steps, expected,
                  status, created_by, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tc.ID, tc.RequirementID, nullable(tc.TestPointID), tc.Title,
		nullable(tc.Precondition), nullable(tc.Steps), nullable(tc.Expected),
		string(tc.Status), string(tc.CreatedBy), tc.CreatedAt, tc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert test case: %w", err)
	}
	return nil
}

// GetTestCase fetches a test case by id.
func (s *Store) GetTestCase(ctx context.Context, id string) (catalog.TestCase, error) {
	var row caseRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, requirement_id, test_point_id, title, precondition, steps, expected,
                        status, created_by, created_at, updated_at
                 FROM test_cases WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.TestCase{}, fmt.Errorf("test case %s: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return catalog.TestCase{}, fmt.Errorf("select test case: %w", err)
	}
	return row.toRecord(), nil
}

// ListTestCases returns test cases newest first, optionally filtered to the
// cases produced by one generation task.
func (s *Store) ListTestCases(ctx context.Context, taskID string, limit, offset int) ([]catalog.TestCase, error) {
	if offset < 0 {
		offset = 0
	}
	var rows []caseRow
	var err error
	if strings.TrimSpace(taskID) != "" {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT id, requirement_id, test_point_id, title, precondition, steps, expected,
                                status, created_by, created_at, updated_at
                         FROM task_case_view WHERE task_id = ?
                         ORDER BY created_at, id LIMIT ? OFFSET ?`,
			taskID, clampLimit(limit), offset)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			`SELECT id, requirement_id, test_point_id, title, precondition, steps, expected,
                                status, created_by, created_at, updated_at
                         FROM test_cases ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
			clampLimit(limit), offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}
	out := make([]catalog.TestCase, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

// UpdateTestCaseStatus moves a case through draft -> confirmed -> executed.
// Any backwards move is rejected.
func (s *Store) UpdateTestCaseStatus(ctx context.Context, id string, status knowledge.CaseStatus) error {
	rank := map[knowledge.CaseStatus]int{
		knowledge.CaseDraft:     0,
		knowledge.CaseConfirmed: 1,
		knowledge.CaseExecuted:  2,
	}
	target, ok := rank[status]
	if !ok {
		return fmt.Errorf("sqlite: invalid case status %q", status)
	}
	current, err := s.GetTestCase(ctx, id)
	if err != nil {
		return err
	}
	if rank[current.Status] > target {
		return fmt.Errorf("case %s is already %s: %w", id, current.Status, catalog.ErrConflict)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE test_cases SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	return requireAffected(res, id)
}

// LinkTestCaseUnit attaches a knowledge unit to a test case.
func (s *Store) LinkTestCaseUnit(ctx context.Context, caseID, unitID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE test_cases SET test_point_id = ?, updated_at = ? WHERE id = ?`,
		unitID, time.Now().UTC(), caseID)
	if err != nil {
		return fmt.Errorf("link case unit: %w", err)
	}
	return requireAffected(res, caseID)
}

// ListConfirmedCasesWithoutUnit returns confirmed cases that have no linked
// knowledge unit, oldest first, for batch feedback.
func (s *Store) ListConfirmedCasesWithoutUnit(ctx context.Context, limit int) ([]catalog.TestCase, error) {
	var rows []caseRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, requirement_id, test_point_id, title, precondition, steps, expected,
                        status, created_by, created_at, updated_at
                 FROM test_cases
                 WHERE status = 'confirmed' AND (test_point_id IS NULL OR test_point_id = '')
                 ORDER BY created_at, id LIMIT ?`,
		clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list confirmed cases: %w", err)
	}
	out := make([]catalog.TestCase, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

// CreateDefect inserts a defect row.
func (s *Store) CreateDefect(ctx context.Context, defect catalog.Defect) error {
	if strings.TrimSpace(defect.ID) == "" {
		return errors.New("sqlite: defect id required")
	}
	if strings.TrimSpace(defect.Title) == "" {
		return errors.New("sqlite: defect title required")
	}
	if defect.CreatedAt.IsZero() {
		defect.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO defects (id, title, phenomenon, root_cause, severity, created_at)
                 VALUES (?, ?, ?, ?, ?, ?)`,
		defect.ID, defect.Title, nullable(defect.Phenomenon), nullable(defect.RootCause),
		nullable(defect.Severity), defect.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert defect: %w", err)
	}
	return nil
}

// GetDefect fetches a defect by id.
func (s *Store) GetDefect(ctx context.Context, id string) (catalog.Defect, error) {
	var row defectRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, title, phenomenon, root_cause, severity, created_at FROM defects WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Defect{}, fmt.Errorf("defect %s: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return catalog.Defect{}, fmt.Errorf("select defect: %w", err)
	}
	return row.toRecord(), nil
}
