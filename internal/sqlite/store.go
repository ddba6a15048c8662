// File path: internal/sqlite/store.go
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed catalog. It is the authoritative record; the
// vector index and the graph store are projections of its rows.
type Store struct {
	db *sqlx.DB
}

// Open constructs a Store backed by the SQLite database at the provided path.
// The schema is migrated on first use.
func Open(path string) (*Store, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		cfg.Path = trimmed
	}
	return OpenWithConfig(cfg)
}

// OpenWithConfig constructs a Store using the provided configuration.
func OpenWithConfig(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path required")
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	busy := int(cfg.BusyTimeout / time.Millisecond)
	if busy <= 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_time_format=sqlite", abs, busy)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingTimeout := cfg.BusyTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite store not initialised")
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// Journal mode and foreign-key enforcement come from the DSN pragmas;
// journal_mode cannot change inside a transaction, so the migration holds
// DDL only.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS requirements (
                id TEXT PRIMARY KEY,
                title TEXT NOT NULL,
                content TEXT NOT NULL,
                source_type TEXT NOT NULL DEFAULT 'manual',
                created_at DATETIME NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS knowledge_units (
                id TEXT PRIMARY KEY,
                kind TEXT NOT NULL CHECK (kind IN ('TestPoint', 'Scenario', 'Risk')),
                content TEXT NOT NULL,
                confidence REAL NOT NULL CHECK (confidence >= 0.0 AND confidence <= 1.0),
                source TEXT NOT NULL CHECK (source IN ('requirement', 'defect', 'confirmed_case')),
                vector_ref TEXT,
                graph_ref TEXT,
                created_at DATETIME NOT NULL,
                updated_at DATETIME NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS test_cases (
                id TEXT PRIMARY KEY,
                requirement_id TEXT NOT NULL REFERENCES requirements(id) ON DELETE CASCADE,
                test_point_id TEXT REFERENCES knowledge_units(id) ON DELETE SET NULL,
                title TEXT NOT NULL,
                precondition TEXT,
                steps TEXT,
                expected TEXT,
                status TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'confirmed', 'executed')),
                created_by TEXT NOT NULL DEFAULT 'ai' CHECK (created_by IN ('ai', 'manual')),
                created_at DATETIME NOT NULL,
                updated_at DATETIME NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS defects (
                id TEXT PRIMARY KEY,
                title TEXT NOT NULL,
                phenomenon TEXT,
                root_cause TEXT,
                severity TEXT,
                created_at DATETIME NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS generation_tasks (
                id TEXT PRIMARY KEY,
                requirement_id TEXT NOT NULL REFERENCES requirements(id) ON DELETE CASCADE,
                status TEXT NOT NULL DEFAULT 'INIT' CHECK (status IN ('INIT', 'RUNNING', 'DONE', 'FAILED')),
                progress INTEGER NOT NULL DEFAULT 0 CHECK (progress >= 0 AND progress <= 100),
                error_message TEXT,
                created_at DATETIME NOT NULL,
                finished_at DATETIME
        );`,
	`CREATE TABLE IF NOT EXISTS generation_results (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                task_id TEXT NOT NULL REFERENCES generation_tasks(id) ON DELETE CASCADE,
                unit_id TEXT,
                content TEXT NOT NULL,
                created_at DATETIME NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS idx_units_kind ON knowledge_units(kind);`,
	`CREATE INDEX IF NOT EXISTS idx_units_source ON knowledge_units(source);`,
	`CREATE INDEX IF NOT EXISTS idx_cases_requirement ON test_cases(requirement_id);`,
	`CREATE INDEX IF NOT EXISTS idx_cases_status ON test_cases(status);`,
	`CREATE INDEX IF NOT EXISTS idx_cases_test_point ON test_cases(test_point_id);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_requirement ON generation_tasks(requirement_id, status);`,
	`CREATE INDEX IF NOT EXISTS idx_results_task ON generation_results(task_id);`,
	`CREATE VIEW IF NOT EXISTS task_case_view AS
                SELECT
                        tc.id,
                        tc.requirement_id,
                        tc.test_point_id,
                        tc.title,
                        tc.precondition,
                        tc.steps,
                        tc.expected,
                        tc.status,
                        tc.created_by,
                        tc.created_at,
                        tc.updated_at,
                        gr.task_id
                FROM test_cases tc
                INNER JOIN generation_results gr ON gr.unit_id = tc.test_point_id;`,
	`CREATE VIEW IF NOT EXISTS knowledge_kind_view AS
                SELECT kind, COUNT(*) AS count, AVG(confidence) AS avg_confidence
                FROM knowledge_units
                GROUP BY kind;`,
	`CREATE VIEW IF NOT EXISTS task_activity_view AS
                SELECT DATE(created_at) AS day, status
                FROM generation_tasks;`,
}
