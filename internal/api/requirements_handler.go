// File path: internal/api/requirements_handler.go
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

type requirementRequest struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	SourceType string `json:"source_type"`
}

func (s *Server) handleRequirementCreate(w http.ResponseWriter, r *http.Request) {
	var req requirementRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("title and content required"))
		return
	}
	if strings.TrimSpace(req.SourceType) == "" {
		req.SourceType = "manual"
	}
	record := catalog.Requirement{
		ID:         knowledge.NewRequirementID(),
		Title:      strings.TrimSpace(req.Title),
		Content:    req.Content,
		SourceType: req.SourceType,
	}
	if err := s.store.CreateRequirement(r.Context(), record); err != nil {
		writeStoreError(w, err)
		return
	}
	common.Logger().Info("api: requirement created", "requirement", record.ID)
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleRequirementList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	records, err := s.store.ListRequirements(r.Context(), limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requirements": records})
}

func (s *Server) handleRequirementGet(w http.ResponseWriter, r *http.Request) {
	record, err := s.store.GetRequirement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleExtract runs knowledge extraction over the stored requirement text.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := s.store.GetRequirement(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	summary, err := s.pipeline.ExtractAndStore(r.Context(), record.ID, record.Content)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleIntents runs the intent analysis agent over the requirement.
func (s *Server) handleIntents(w http.ResponseWriter, r *http.Request) {
	record, err := s.store.GetRequirement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	intents, err := s.analyzer.AnalyzeIntents(r.Context(), record.Content)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"intents": intents})
}

// handleGenerate starts an asynchronous generation task and answers 202 with
// the task id.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	taskID, err := s.orchestrator.StartTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}
