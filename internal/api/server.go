package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/ember/internal/engine"
	"github.com/seantiz/ember/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Server wraps the chi router and application dependencies.
type Server struct {
	router    *chi.Mux
	store     store.Store
	engine    *engine.Engine
	root      *engine.Running
	endpoints *endpoints
	logger    *slog.Logger
	addr      string

	// finishing tracks exits whose requests stopped waiting; their store
	// updates run in the background.
	finishing sync.WaitGroup

	mu     sync.Mutex
	winner string // session whose Exit the engine accepted
}

// NewServer creates and configures a new HTTP server. root is the endpoint
// returned by the engine's Start; the server keeps it to shut the engine down
// when it stops.
func NewServer(addr string, s store.Store, eng *engine.Engine, root *engine.Running, logger *slog.Logger) *Server {
	srv := &Server{
		router:    chi.NewRouter(),
		store:     s,
		engine:    eng,
		root:      root,
		endpoints: newEndpoints(),
		logger:    logger,
		addr:      addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/stats", s.handleGetStats)
	s.router.Get("/v1/events", s.handleStreamEvents)
	s.router.Get("/v1/events/ws", s.handleEventsWebSocket)

	s.router.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/", s.handleListSessions)
		r.Get("/{id}", s.handleGetSession)
		r.Post("/{id}/navigate", s.handleNavigate)
		r.Post("/{id}/exit", s.handleExitSession)
		r.Get("/{id}/navigations", s.handleListSessionNavigations)
	})

	s.router.Route("/v1/navigations", func(r chi.Router) {
		r.Get("/", s.handleListNavigations)
		r.Get("/{id}", s.handleGetNavigation)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is received
// or a client exits the engine. On a signal the engine is exited through the
// root endpoint before HTTP stops, which also ends open event streams.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case <-s.engine.Done():
		s.logger.Info("shutting down", "reason", "engine exited")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.exitEngine(ctx); err != nil {
		return fmt.Errorf("exit engine: %w", err)
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.finishing.Wait()

	s.logger.Info("server stopped")
	return nil
}

// exitEngine exits the engine through the root endpoint and marks every open
// session abandoned. If a client already exited the engine, every open
// session except that client's is abandoned.
func (s *Server) exitEngine(ctx context.Context) error {
	if s.engine.Exited() {
		return s.settleExited(ctx)
	}

	x, err := s.root.Exit()
	if err != nil {
		if s.engine.Exited() {
			return s.settleExited(ctx)
		}
		return err
	}
	ex, err := x.Wait(ctx)
	if err != nil {
		return err
	}
	s.endpoints.clear()

	n, err := s.store.AbandonOpenSessions(ctx, "")
	if err != nil {
		return err
	}
	s.logger.Info("engine exited",
		"abandoned_endpoints", ex.Abandoned,
		"abandoned_sessions", n,
	)
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// settleExited finishes the store bookkeeping after a client's exit. The
// winning session is left to its exit handler, which may still be waiting.
func (s *Server) settleExited(ctx context.Context) error {
	s.endpoints.clear()

	n, err := s.store.AbandonOpenSessions(ctx, s.exitWinner())
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("sessions abandoned after exit", "abandoned_sessions", n)
	}
	return nil
}

func (s *Server) setExitWinner(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.winner = sessionID
}

func (s *Server) exitWinner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.winner
}
