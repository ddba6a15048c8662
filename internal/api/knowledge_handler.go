// File path: internal/api/knowledge_handler.go
package api

import (
	"fmt"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"

	"github.com/caseforge/caseforge/internal/common"
)

// handleKnowledgeSearch serves hybrid retrieval: vector similarity with an
// optional shared graph expansion controlled by the depth parameter.
func (s *Server) handleKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	query := r.URL.Query().Get("q")
	if query == "" {
		logger.Warn("api: knowledge search missing query parameter")
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing q parameter"))
		return
	}
	limit := s.cfg.SearchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	depth := s.cfg.GraphDepth
	if v := r.URL.Query().Get("depth"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid depth parameter"))
			return
		}
		depth = parsed
	}
	logger.Info("api: knowledge search", "query", query, "limit", limit, "depth", depth)
	hits, err := s.engine.Search(r.Context(), query, limit, depth)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"hits": hits})
}

func (s *Server) handleKnowledgeList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	units, err := s.store.ListKnowledgeUnits(r.Context(), limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"units": units})
}

func (s *Server) handleKnowledgeGet(w http.ResponseWriter, r *http.Request) {
	unit, err := s.store.GetKnowledgeUnit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}
