// Package api provides the HTTP API server for the agent forum engine.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agentforum/agentforum/internal/core"
	"github.com/agentforum/agentforum/internal/engine"
	"github.com/agentforum/agentforum/internal/logging"
	"github.com/agentforum/agentforum/internal/runlog"
	"github.com/agentforum/agentforum/internal/scheduler"
)

// Ticker runs agent ticks
type Ticker interface {
	RunAgentTick(ctx context.Context, slug string) engine.ActionResult
}

// PersonaLister lists configured personas
type PersonaLister interface {
	List(ctx context.Context, activeOnly bool) ([]*core.Persona, error)
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	log        *logging.Logger

	// Components
	ticker    Ticker
	runs      *runlog.Store
	personas  PersonaLister
	scheduler *scheduler.Scheduler
	wsHub     *WebSocketHub

	// Admin bearer token, bcrypt hashed
	adminTokenHash []byte

	requestTimeout time.Duration

	// Background ticks started by async triggers
	background sync.WaitGroup
}

// Config for the server
type Config struct {
	Host           string
	Port           int
	Ticker         Ticker
	Runs           *runlog.Store
	Personas       PersonaLister
	Scheduler      *scheduler.Scheduler // Optional
	Hub            *WebSocketHub        // Optional, created when nil
	AdminTokenHash string
	RequestTimeout time.Duration // Read endpoints only; ticks are bounded by the engine
}

// New creates a new API server
func New(cfg Config) *Server {
	hub := cfg.Hub
	if hub == nil {
		hub = NewWebSocketHub()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		log:            logging.WithField("component", "api"),
		ticker:         cfg.Ticker,
		runs:           cfg.Runs,
		personas:       cfg.Personas,
		scheduler:      cfg.Scheduler,
		wsHub:          hub,
		adminTokenHash: []byte(cfg.AdminTokenHash),
		requestTimeout: cfg.RequestTimeout,
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Hub returns the WebSocket hub, which doubles as the engine notifier
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)

			// A sync tick can outlive the read timeout
			r.Post("/agents/tick", s.handleTick)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(s.requestTimeout))

				NewRunsAPI(s.runs).RegisterRoutes(r)

				r.Get("/personas", s.handleListPersonas)
				r.Get("/scheduler", s.handleSchedulerStats)
				r.Post("/scheduler/{slug}/enable", s.handleSchedulerToggle(true))
				r.Post("/scheduler/{slug}/disable", s.handleSchedulerToggle(false))
			})
		})
	})

	// Live tick feed
	r.With(s.requireAdmin).Get("/ws", s.handleWebSocket)

	s.router = r
}

// Start starts the WebSocket hub and the HTTP server. It blocks until the
// server stops.
func (s *Server) Start() error {
	go s.wsHub.Run()

	s.log.Info("API server starting on http://%s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the server and waits for background ticks
func (s *Server) Stop(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("background ticks still running at shutdown")
	}

	s.wsHub.Close()
	return err
}

// --- Response helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	if s.scheduler != nil {
		resp["scheduler"] = s.scheduler.GetStats().Started
	}
	respondJSON(w, http.StatusOK, resp)
}

type tickRequest struct {
	Slug string `json:"slug"`
	Sync *bool  `json:"sync,omitempty"`
}

// handleTick triggers one agent tick.
// POST /api/v1/agents/tick {"slug": "...", "sync": true}
// sync defaults to true; sync=false returns 202 and runs in the background.
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var req tickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Slug == "" {
		respondError(w, http.StatusBadRequest, "slug required")
		return
	}
	if s.ticker == nil {
		respondError(w, http.StatusServiceUnavailable, "engine not configured")
		return
	}

	if req.Sync != nil && !*req.Sync {
		ctx := context.WithoutCancel(r.Context())
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			defer func() {
				if rec := recover(); rec != nil {
					s.log.WithField("persona", req.Slug).Error("background tick panicked: %v\n%s", rec, debug.Stack())
				}
			}()
			s.ticker.RunAgentTick(ctx, req.Slug)
		}()
		respondJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"slug":   req.Slug,
		})
		return
	}

	result := s.ticker.RunAgentTick(r.Context(), req.Slug)
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	if s.personas == nil {
		respondError(w, http.StatusServiceUnavailable, "personas not configured")
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"
	personas, err := s.personas.List(r.Context(), activeOnly)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if personas == nil {
		personas = []*core.Persona{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"personas": personas,
		"count":    len(personas),
	})
}

func (s *Server) handleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		respondError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stats": s.scheduler.GetStats(),
		"jobs":  s.scheduler.ListJobs(),
	})
}

func (s *Server) handleSchedulerToggle(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.scheduler == nil {
			respondError(w, http.StatusServiceUnavailable, "scheduler not running")
			return
		}

		slug := chi.URLParam(r, "slug")
		toggle := s.scheduler.Disable
		if enable {
			toggle = s.scheduler.Enable
		}
		if err := toggle(slug); err != nil {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}

		job, _ := s.scheduler.GetJob(slug)
		respondJSON(w, http.StatusOK, job)
	}
}
