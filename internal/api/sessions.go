package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/ember/internal/engine"
	"github.com/seantiz/ember/internal/model"
	"github.com/seantiz/ember/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// navigateRequest is the JSON body for POST /v1/sessions/{id}/navigate.
type navigateRequest struct {
	URL string `json:"url"`
}

// exitResponse is the JSON response for POST /v1/sessions/{id}/exit.
type exitResponse struct {
	Session   *model.Session `json:"session"`
	Abandoned int            `json:"abandoned"`
	ExitedAt  time.Time      `json:"exited_at"`
}

// listSessionsResponse wraps the paginated list response.
type listSessionsResponse struct {
	Sessions []*model.Session `json:"sessions"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ep, err := s.engine.Connect()
	if errors.Is(err, engine.ErrEngineExited) {
		s.writeError(w, http.StatusGone, "engine has exited")
		return
	}
	if err != nil {
		s.logger.Error("connect session", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to connect session")
		return
	}

	sess := &model.Session{
		ID:        model.NewID(),
		Status:    model.SessionOpen,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSession(r.Context(), sess); err != nil {
		// The endpoint stays pending in the engine; without a record no
		// client can reach it.
		s.logger.Error("create session", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	s.endpoints.add(sess.ID, ep)

	s.logger.Info("session opened", "session_id", sess.ID, "endpoint", ep.ID())
	s.writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	sessions, total, err := s.store.ListSessions(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list sessions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	if sessions == nil {
		sessions = []*model.Session{}
	}

	s.writeJSON(w, http.StatusOK, listSessionsResponse{
		Sessions: sessions,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	u, err := url.Parse(req.URL)
	if err != nil || req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if !u.IsAbs() {
		s.writeError(w, http.StatusBadRequest, "url must be absolute")
		return
	}

	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	ep, ok := s.takeEndpoint(w, sess)
	if !ok {
		return
	}

	next, err := ep.LoadURL(u)
	if err != nil {
		s.endpoints.release(sess.ID)
		s.writeEngineError(w, err)
		return
	}
	s.endpoints.put(sess.ID, next)

	nav := &model.Navigation{
		ID:        model.NewID(),
		SessionID: sess.ID,
		URL:       u.String(),
		Kind:      engine.Classify(u),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateNavigation(r.Context(), nav); err != nil {
		s.logger.Error("record navigation", "session_id", sess.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "navigation dispatched but not recorded")
		return
	}

	s.writeJSON(w, http.StatusAccepted, nav)
}

func (s *Server) handleExitSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	ep, ok := s.takeEndpoint(w, sess)
	if !ok {
		return
	}

	x, err := ep.Exit()
	if err != nil {
		s.endpoints.release(sess.ID)
		s.writeEngineError(w, err)
		return
	}
	s.setExitWinner(sess.ID)

	ex, err := x.Wait(r.Context())
	if err != nil {
		// The supervisor finishes the shutdown regardless; only this
		// request gave up waiting. The outcome is recorded once it lands.
		s.endpoints.release(sess.ID)
		s.finishing.Add(1)
		go func() {
			defer s.finishing.Done()
			if _, err := x.Wait(context.Background()); err != nil {
				return
			}
			s.recordExit(context.Background(), sess.ID)
		}()
		s.logger.Warn("exit wait abandoned", "session_id", sess.ID, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "exit in progress")
		return
	}
	s.recordExit(r.Context(), sess.ID)

	updated, err := s.store.GetSession(r.Context(), sess.ID)
	if err != nil {
		s.logger.Error("get exited session", "session_id", sess.ID, "error", err)
		updated = sess
	}

	s.logger.Info("engine exited by session", "session_id", sess.ID, "abandoned", ex.Abandoned)
	s.writeJSON(w, http.StatusOK, exitResponse{
		Session:   updated,
		Abandoned: ex.Abandoned,
		ExitedAt:  ex.At,
	})
}

// recordExit marks the session whose exit won as exited and every other open
// session as abandoned.
func (s *Server) recordExit(ctx context.Context, sessionID string) {
	s.endpoints.clear()

	if err := s.store.UpdateSessionStatus(ctx, sessionID, model.SessionExited); err != nil {
		s.logger.Error("mark session exited", "session_id", sessionID, "error", err)
	}
	if _, err := s.store.AbandonOpenSessions(ctx, sessionID); err != nil {
		s.logger.Error("abandon sessions", "error", err)
	}
}

// loadSession fetches the session named in the URL, writing a 404 if it does
// not exist.
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*model.Session, bool) {
	id := chi.URLParam(r, "id")

	sess, err := s.store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("get session", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get session")
		return nil, false
	}
	return sess, true
}

// takeEndpoint claims the session's live endpoint, writing 410 for closed
// sessions and 409 when another request holds it.
func (s *Server) takeEndpoint(w http.ResponseWriter, sess *model.Session) (*engine.Running, bool) {
	if sess.Status != model.SessionOpen || s.engine.Exited() {
		s.writeError(w, http.StatusGone, "session is "+closedStatus(sess, s.engine.Exited()))
		return nil, false
	}

	ep, err := s.endpoints.take(sess.ID)
	switch {
	case errors.Is(err, errEndpointBusy):
		s.writeError(w, http.StatusConflict, "session has a command in flight")
		return nil, false
	case errors.Is(err, errEndpointMissing):
		s.writeError(w, http.StatusGone, "session endpoint is gone")
		return nil, false
	}
	return ep, true
}

func closedStatus(sess *model.Session, engineExited bool) string {
	if sess.Status == model.SessionOpen && engineExited {
		return model.SessionAbandoned
	}
	return sess.Status
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrEngineExited):
		s.writeError(w, http.StatusGone, "engine has exited")
	case errors.Is(err, engine.ErrEndpointConsumed):
		s.writeError(w, http.StatusConflict, "session endpoint already used")
	default:
		s.logger.Error("engine command", "error", err)
		s.writeError(w, http.StatusInternalServerError, "engine command failed")
	}
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// pagination reads limit and offset query parameters, clamping them.
func pagination(r *http.Request) (limit, offset int) {
	limit = parseIntQuery(r, "limit", defaultListLimit)
	offset = parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
