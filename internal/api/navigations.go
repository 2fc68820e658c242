package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/ember/internal/model"
	"github.com/seantiz/ember/internal/store"
)

// listNavigationsResponse wraps the paginated list response.
type listNavigationsResponse struct {
	Navigations []*model.Navigation `json:"navigations"`
	Total       int                 `json:"total"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

func (s *Server) handleGetNavigation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	nav, err := s.store.GetNavigation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "navigation not found")
		return
	}
	if err != nil {
		s.logger.Error("get navigation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get navigation")
		return
	}

	s.writeJSON(w, http.StatusOK, nav)
}

func (s *Server) handleListNavigations(w http.ResponseWriter, r *http.Request) {
	s.listNavigations(w, r, r.URL.Query().Get("session_id"))
}

func (s *Server) handleListSessionNavigations(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	s.listNavigations(w, r, sess.ID)
}

func (s *Server) listNavigations(w http.ResponseWriter, r *http.Request, sessionID string) {
	limit, offset := pagination(r)

	navs, total, err := s.store.ListNavigations(r.Context(), sessionID, limit, offset)
	if err != nil {
		s.logger.Error("list navigations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list navigations")
		return
	}

	if navs == nil {
		navs = []*model.Navigation{}
	}

	s.writeJSON(w, http.StatusOK, listNavigationsResponse{
		Navigations: navs,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}
