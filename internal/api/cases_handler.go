// File path: internal/api/cases_handler.go
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

type caseRequest struct {
	RequirementID string `json:"requirement_id"`
	TestPointID   string `json:"test_point_id"`
	Title         string `json:"title"`
	Precondition  string `json:"precondition"`
	Steps         string `json:"steps"`
	Expected      string `json:"expected"`
}

// handleCaseCreate records a hand-written test case.
func (s *Server) handleCaseCreate(w http.ResponseWriter, r *http.Request) {
	var req caseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.RequirementID) == "" || strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("requirement_id and title required"))
		return
	}
	if _, err := s.store.GetRequirement(r.Context(), req.RequirementID); err != nil {
		writeStoreError(w, err)
		return
	}
	record := catalog.TestCase{
		ID:            knowledge.NewCaseID(),
		RequirementID: req.RequirementID,
		TestPointID:   req.TestPointID,
		Title:         strings.TrimSpace(req.Title),
		Precondition:  req.Precondition,
		Steps:         req.Steps,
		Expected:      req.Expected,
		Status:        knowledge.CaseDraft,
		CreatedBy:     knowledge.CreatorManual,
	}
	if err := s.store.CreateTestCase(r.Context(), record); err != nil {
		writeStoreError(w, err)
		return
	}
	common.Logger().Info("api: test case created", "case", record.ID)
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleCaseList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	taskID := r.URL.Query().Get("task_id")
	cases, err := s.store.ListTestCases(r.Context(), taskID, limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cases": cases})
}

func (s *Server) handleCaseGet(w http.ResponseWriter, r *http.Request) {
	record, err := s.store.GetTestCase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleCaseConfirm moves a case to confirmed and feeds it back into the
// knowledge base.
func (s *Server) handleCaseConfirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.UpdateTestCaseStatus(r.Context(), id, knowledge.CaseConfirmed); err != nil {
		writeStoreError(w, err)
		return
	}
	result, err := s.loop.FromConfirmedCase(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCaseExecute marks a confirmed case executed.
func (s *Server) handleCaseExecute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.UpdateTestCaseStatus(r.Context(), id, knowledge.CaseExecuted); err != nil {
		writeStoreError(w, err)
		return
	}
	record, err := s.store.GetTestCase(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
