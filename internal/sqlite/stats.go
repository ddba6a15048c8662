// File path: internal/sqlite/stats.go
package sqlite

import (
	"context"
	"fmt"

	"github.com/caseforge/caseforge/internal/catalog"
)

// Overview aggregates headline counts across the catalog.
func (s *Store) Overview(ctx context.Context) (catalog.OverviewStats, error) {
	var stats catalog.OverviewStats
	err := s.db.GetContext(ctx, &stats, `
                SELECT
                        (SELECT COUNT(*) FROM requirements) AS requirements,
                        (SELECT COUNT(*) FROM knowledge_units) AS knowledge_units,
                        (SELECT COUNT(*) FROM test_cases) AS test_cases,
                        (SELECT COUNT(*) FROM test_cases WHERE status IN ('confirmed', 'executed')) AS confirmed_cases,
                        (SELECT COUNT(*) FROM defects) AS defects,
                        (SELECT COUNT(*) FROM generation_tasks WHERE status = 'RUNNING') AS tasks_running,
                        (SELECT COUNT(*) FROM generation_tasks WHERE status = 'DONE') AS tasks_done,
                        (SELECT COUNT(*) FROM generation_tasks WHERE status = 'FAILED') AS tasks_failed`)
	if err != nil {
		return catalog.OverviewStats{}, fmt.Errorf("overview stats: %w", err)
	}
	return stats, nil
}

// GenerationActivity returns per-day task counts for the trailing window.
func (s *Store) GenerationActivity(ctx context.Context, days int) ([]catalog.GenerationDay, error) {
	if days <= 0 {
		days = 7
	}
	if days > 90 {
		days = 90
	}
	var out []catalog.GenerationDay
	err := s.db.SelectContext(ctx, &out, `
                SELECT
                        day,
                        COUNT(*) AS started,
                        SUM(CASE WHEN status = 'DONE' THEN 1 ELSE 0 END) AS done,
                        SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END) AS failed
                FROM task_activity_view
                WHERE day >= DATE('now', ?)
                GROUP BY day
                ORDER BY day`,
		fmt.Sprintf("-%d days", days))
	if err != nil {
		return nil, fmt.Errorf("generation activity: %w", err)
	}
	return out, nil
}

// KnowledgeBreakdown returns unit counts and average confidence per kind.
func (s *Store) KnowledgeBreakdown(ctx context.Context) ([]catalog.KindCount, error) {
	var out []catalog.KindCount
	err := s.db.SelectContext(ctx, &out,
		`SELECT kind, count, avg_confidence FROM knowledge_kind_view ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("knowledge breakdown: %w", err)
	}
	return out, nil
}
