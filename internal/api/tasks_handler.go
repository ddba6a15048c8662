// File path: internal/api/tasks_handler.go
package api

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"
)

// handleTaskStatus answers the task record plus everything the run produced
// so far, which makes the endpoint pollable while the task is RUNNING.
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.orchestrator.TaskStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
