// Package server exposes sessions and projects over an HTTP JSON API.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/joss/buildlab/internal/domain"
	"github.com/joss/buildlab/internal/logging"
	"github.com/joss/buildlab/internal/metrics"
	"github.com/joss/buildlab/internal/projectstore"
	"github.com/joss/buildlab/internal/session"
	"github.com/joss/buildlab/pkg/llm"
)

// Config wires the server to its collaborators.
type Config struct {
	Addr string
	// Machines holds one session machine per supported mode.
	Machines map[domain.Mode]*session.Machine
	Provider llm.Provider
	// Projects is optional; without it the project and save routes
	// answer 501.
	Projects projectstore.Store
	// Metrics is served on /metrics. A fresh set is used when nil.
	Metrics *metrics.Metrics
}

// Server provides the HTTP API.
type Server struct {
	cfg    Config
	router chi.Router
	log    *logging.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
	wg       sync.WaitGroup
}

func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	s := &Server{
		cfg:      cfg,
		log:      logging.New("server"),
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(requestID, s.recoverPanics, s.logRequests, cors)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.cfg.Metrics.Handler())

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleCreateSession)

		r.Route("/{id}", func(r chi.Router) {
			r.Use(s.sessionCtx)
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/turns", s.handleSubmit)
			r.Get("/turns", s.handleListTurns)
			r.Get("/turns/{n}/export", s.handleExportTurn)
			r.Get("/tree", s.handleTree)
			r.Get("/files/*", s.handleFile)
			r.Post("/save", s.handleSave)
		})
	})

	r.Route("/projects", func(r chi.Router) {
		r.Use(s.requireProjects)
		r.Get("/", s.handleListProjects)
		r.Post("/", s.handleCreateProject)
		r.Get("/{id}", s.handleGetProject)
		r.Delete("/{id}", s.handleDeleteProject)
	})

	s.router = r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve starts the server and shuts it down when ctx is done. Open
// sessions are closed on return.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	logging.SafeGo("server", func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})

	s.log.Info("server_started", map[string]interface{}{"addr": s.cfg.Addr})
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		err = nil
	}
	s.Close()
	return err
}

// Close ends every open session and waits for their goroutines.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range sessions {
		e.ctrl.Close()
		s.cfg.Metrics.RecordSession(false)
	}
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.cfg.Projects != nil {
		if err := s.cfg.Projects.Ping(r.Context()); err != nil {
			body["status"] = "degraded"
			body["store"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["store"] = "ok"
	}
	s.mu.RLock()
	body["sessions"] = len(s.sessions)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, body)
}

// Middleware

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithRequestID(r.Context(), r.Header.Get("X-Request-ID"))
		w.Header().Set("X-Request-ID", logging.GetRequestID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := logging.NewRecoveryHandler("server")
		err := h.WrapError(func() error {
			next.ServeHTTP(w, r)
			return nil
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.TimedEvent("http_request", start, map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"request_id": logging.GetRequestID(r.Context()),
		})
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireProjects(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Projects == nil {
			writeError(w, http.StatusNotImplemented, "project store not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}
