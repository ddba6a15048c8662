// File path: internal/sqlite/knowledge.go
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caseforge/caseforge/internal/catalog"
)

var _ catalog.Store = (*Store)(nil)

const defaultListLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > 500 {
		return 500
	}
	return limit
}

// CreateRequirement inserts a requirement row.
func (s *Store) CreateRequirement(ctx context.Context, req catalog.Requirement) error {
	if strings.TrimSpace(req.ID) == "" {
		return errors.New("sqlite: requirement id required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return errors.New("sqlite: requirement content required")
	}
	if req.SourceType == "" {
		req.SourceType = "manual"
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requirements (id, title, content, source_type, created_at)
                 VALUES (?, ?, ?, ?, ?)`,
		req.ID, req.Title, req.Content, req.SourceType, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert requirement: %w", err)
	}
	return nil
}

// GetRequirement fetches a requirement by id.
func (s *Store) GetRequirement(ctx context.Context, id string) (catalog.Requirement, error) {
	var row requirementRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, title, content, source_type, created_at FROM requirements WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Requirement{}, fmt.Errorf("requirement %s: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return catalog.Requirement{}, fmt.Errorf("select requirement: %w", err)
	}
	return row.toRecord(), nil
}

// ListRequirements returns requirements newest first.
func (s *Store) ListRequirements(ctx context.Context, limit, offset int) ([]catalog.Requirement, error) {
	if offset < 0 {
		offset = 0
	}
	var rows []requirementRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, title, content, source_type, created_at
                 FROM requirements ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		clampLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list requirements: %w", err)
	}
	out := make([]catalog.Requirement, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

// CreateKnowledgeUnit inserts a knowledge unit row. The id must already be
// minted; the same value becomes the vector and graph identity.
func (s *Store) CreateKnowledgeUnit(ctx context.Context, unit catalog.KnowledgeUnit) error {
	if strings.TrimSpace(unit.ID) == "" {
		return errors.New("sqlite: unit id required")
	}
	if !unit.Kind.Valid() {
		return fmt.Errorf("sqlite: invalid unit kind %q", unit.Kind)
	}
	now := time.Now().UTC()
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = now
	}
	if unit.UpdatedAt.IsZero() {
		unit.UpdatedAt = now
	}
	var vectorRef, graphRef sql.NullString
	if unit.VectorRef != nil {
		vectorRef = nullable(*unit.VectorRef)
	}
	if unit.GraphRef != nil {
		graphRef = nullable(*unit.GraphRef)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_units
                 (id, kind, content, confidence, source, vector_ref, graph_ref, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		unit.ID, string(unit.Kind), unit.Content, unit.Confidence, string(unit.Source),
		vectorRef, graphRef, unit.CreatedAt, unit.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert knowledge unit: %w", err)
	}
	return nil
}

// GetKnowledgeUnit fetches a unit by id.
func (s *Store) GetKnowledgeUnit(ctx context.Context, id string) (catalog.KnowledgeUnit, error) {
	var row unitRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, kind, content, confidence, source, vector_ref, graph_ref, created_at, updated_at
                 FROM knowledge_units WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.KnowledgeUnit{}, fmt.Errorf("knowledge unit %s: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return catalog.KnowledgeUnit{}, fmt.Errorf("select knowledge unit: %w", err)
	}
	return row.toRecord(), nil
}

// ListKnowledgeUnits returns units newest first.
func (s *Store) ListKnowledgeUnits(ctx context.Context, limit, offset int) ([]catalog.KnowledgeUnit, error) {
	if offset < 0 {
		offset = 0
	}
	var rows []unitRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, kind, content, confidence, source, vector_ref, graph_ref, created_at, updated_at
                 FROM knowledge_units ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		clampLimit(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("list knowledge units: %w", err)
	}
	out := make([]catalog.KnowledgeUnit, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

// UpdateUnitConfidence sets a unit's confidence, clamped to [0, 1].
func (s *Store) UpdateUnitConfidence(ctx context.Context, id string, confidence float64) error {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_units SET confidence = ?, updated_at = ? WHERE id = ?`,
		confidence, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update unit confidence: %w", err)
	}
	return requireAffected(res, id)
}

// SetUnitRefs records mirror write markers. A nil pointer leaves the existing
// marker untouched so vector and graph outcomes can be recorded separately.
func (s *Store) SetUnitRefs(ctx context.Context, id string, vectorRef, graphRef *string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_units
                 SET vector_ref = COALESCE(?, vector_ref),
                     graph_ref = COALESCE(?, graph_ref),
                     updated_at = ?
                 WHERE id = ?`,
		vectorRef, graphRef, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set unit refs: %w", err)
	}
	return requireAffected(res, id)
}

// ListUnitsMissingRefs returns units whose vector or graph mirror has not
// been recorded, oldest first, for the reconciliation sweep.
func (s *Store) ListUnitsMissingRefs(ctx context.Context, limit int) ([]catalog.KnowledgeUnit, error) {
	var rows []unitRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, kind, content, confidence, source, vector_ref, graph_ref, created_at, updated_at
                 FROM knowledge_units
                 WHERE vector_ref IS NULL OR graph_ref IS NULL
                 ORDER BY created_at, id LIMIT ?`,
		clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list units missing refs: %w", err)
	}
	out := make([]catalog.KnowledgeUnit, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

func requireAffected(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("record %s: %w", id, catalog.ErrNotFound)
	}
	return nil
}
