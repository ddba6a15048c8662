// File path: internal/api/stats_handler.go
package api

import (
	"net/http"
	"strconv"

	"github.com/caseforge/caseforge/internal/common"
	"github.com/caseforge/caseforge/internal/common/telemetry"
)

func (s *Server) handleStatsOverview(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Overview(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"overview":  stats,
		"telemetry": telemetry.Snapshot(),
	})
}

func (s *Server) handleStatsGeneration(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			days = parsed
		}
	}
	activity, err := s.store.GenerationActivity(r.Context(), days)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"days": activity})
}

func (s *Server) handleStatsKnowledge(w http.ResponseWriter, r *http.Request) {
	breakdown, err := s.store.KnowledgeBreakdown(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"kinds": breakdown})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": common.RecentEntries()})
}
