// File path: internal/sqlite/tasks.go
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

// Task state transitions are guarded in SQL so that concurrent runners and
// retries cannot resurrect a terminal task or move progress backwards.

// CreateTask inserts a task in the INIT state with zero progress.
func (s *Store) CreateTask(ctx context.Context, task catalog.GenerationTask) error {
	if strings.TrimSpace(task.ID) == "" {
		return errors.New("sqlite: task id required")
	}
	if strings.TrimSpace(task.RequirementID) == "" {
		return errors.New("sqlite: task requirement id required")
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generation_tasks (id, requirement_id, status, progress, created_at)
                 VALUES (?, ?, 'INIT', 0, ?)`,
		task.ID, task.RequirementID, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (catalog.GenerationTask, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, requirement_id, status, progress, error_message, created_at, finished_at
                 FROM generation_tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.GenerationTask{}, fmt.Errorf("task %s: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return catalog.GenerationTask{}, fmt.Errorf("select task: %w", err)
	}
	return row.toRecord(), nil
}

// MarkTaskRunning transitions INIT -> RUNNING.
func (s *Store) MarkTaskRunning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE generation_tasks SET status = 'RUNNING' WHERE id = ? AND status = 'INIT'`, id)
	if err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}
	return s.requireTransition(ctx, res, id, knowledge.TaskRunning)
}

// UpdateTaskProgress raises progress on a running task. Lower values are
// silently ignored so checkpoint writers never regress the bar.
func (s *Store) UpdateTaskProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE generation_tasks SET progress = ?
                 WHERE id = ? AND status = 'RUNNING' AND progress < ?`,
		progress, id, progress)
	if err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	return nil
}

// CompleteTask transitions RUNNING -> DONE at 100% and stamps finished_at.
func (s *Store) CompleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE generation_tasks SET status = 'DONE', progress = 100, finished_at = ?
                 WHERE id = ? AND status = 'RUNNING'`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return s.requireTransition(ctx, res, id, knowledge.TaskDone)
}

// FailTask transitions INIT or RUNNING -> FAILED, recording the message.
// Rows written before the failure are retained.
func (s *Store) FailTask(ctx context.Context, id, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE generation_tasks SET status = 'FAILED', error_message = ?, finished_at = ?
                 WHERE id = ? AND status IN ('INIT', 'RUNNING')`,
		message, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return s.requireTransition(ctx, res, id, knowledge.TaskFailed)
}

// requireTransition distinguishes a missing task from a guard rejection when
// a guarded update touched no rows.
func (s *Store) requireTransition(ctx context.Context, res sql.Result, id string, target knowledge.TaskStatus) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("task %s is %s, cannot move to %s: %w",
		id, current.Status, target, catalog.ErrConflict)
}

// CreateGenerationResult appends a raw model output for a task.
func (s *Store) CreateGenerationResult(ctx context.Context, result catalog.GenerationResult) error {
	if strings.TrimSpace(result.TaskID) == "" {
		return errors.New("sqlite: result task id required")
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generation_results (task_id, unit_id, content, created_at)
                 VALUES (?, ?, ?, ?)`,
		result.TaskID, nullable(result.UnitID), result.Content, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert generation result: %w", err)
	}
	return nil
}

// ListGenerationResults returns a task's results in insertion order.
func (s *Store) ListGenerationResults(ctx context.Context, taskID string) ([]catalog.GenerationResult, error) {
	var rows []resultRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, task_id, unit_id, content, created_at
                 FROM generation_results WHERE task_id = ? ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list generation results: %w", err)
	}
	out := make([]catalog.GenerationResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}
