package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Sessions          int            `json:"sessions"`
	SessionsByStatus  map[string]int `json:"sessions_by_status"`
	Navigations       int            `json:"navigations"`
	NavigationsByKind map[string]int `json:"navigations_by_kind"`
	EngineExited      bool           `json:"engine_exited"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("get stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Sessions:          stats.Sessions,
		SessionsByStatus:  stats.SessionsByStatus,
		Navigations:       stats.Navigations,
		NavigationsByKind: stats.NavigationsByKind,
		EngineExited:      s.engine.Exited(),
	})
}
