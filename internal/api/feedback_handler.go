// File path: internal/api/feedback_handler.go
package api

import (
	"fmt"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"

	"github.com/caseforge/caseforge/internal/catalog"
	"github.com/caseforge/caseforge/internal/common"
	"github.com/caseforge/caseforge/internal/knowledge"
)

type defectRequest struct {
	Title      string `json:"title"`
	Phenomenon string `json:"phenomenon"`
	RootCause  string `json:"root_cause"`
	Severity   string `json:"severity"`
}

// handleDefectCreate records a defect and immediately mints its risk
// knowledge.
func (s *Server) handleDefectCreate(w http.ResponseWriter, r *http.Request) {
	var req defectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("title required"))
		return
	}
	record := catalog.Defect{
		ID:         knowledge.NewDefectID(),
		Title:      strings.TrimSpace(req.Title),
		Phenomenon: req.Phenomenon,
		RootCause:  req.RootCause,
		Severity:   req.Severity,
	}
	if err := s.store.CreateDefect(r.Context(), record); err != nil {
		writeStoreError(w, err)
		return
	}
	result, err := s.loop.FromDefect(r.Context(), record.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	common.Logger().Info("api: defect recorded", "defect", record.ID, "unit", result.UnitID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"defect":   record,
		"feedback": result,
	})
}

func (s *Server) handleDefectGet(w http.ResponseWriter, r *http.Request) {
	record, err := s.store.GetDefect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleFeedbackBatch absorbs every confirmed case that has no linked unit.
func (s *Server) handleFeedbackBatch(w http.ResponseWriter, r *http.Request) {
	summary, err := s.loop.BatchConfirmedCases(r.Context(), s.cfg.BatchLimit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleFeedbackReconcile repairs vector and graph mirrors that never
// landed.
func (s *Server) handleFeedbackReconcile(w http.ResponseWriter, r *http.Request) {
	repaired, err := s.loop.ReconcileMirrors(r.Context(), s.cfg.BatchLimit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"repaired": repaired})
}
