package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/liamcoop/courseaudit/auditor"
	"github.com/liamcoop/courseaudit/conditions"
	"github.com/liamcoop/courseaudit/internal/logger"
	"github.com/liamcoop/courseaudit/internal/metrics"
	"github.com/liamcoop/courseaudit/remediation"
	"github.com/liamcoop/courseaudit/tour"
)

// Deps are the services behind the HTTP API.
type Deps struct {
	Auditor        *auditor.Auditor
	Tours          *tour.Orchestrator
	Remediation    *remediation.Service
	Library        *conditions.Library
	Metrics        *metrics.Collector
	Ping           func(ctx context.Context) error
	AllowedOrigins []string
}

type Server struct {
	deps   Deps
	router *chi.Mux
}

func NewServer(deps Deps) *Server {
	s := &Server{deps: deps}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.deps.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(s.instrument)

	r.Get("/api/v1/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/courses/{courseId}/tour", s.handleCreateTour)
		r.Get("/courses/{courseId}/summary", s.handleCourseSummary)
		r.Get("/tours/{tourId}/summary", s.handleTourSummary)
		r.Get("/sections/{sectionId}/analysis", s.handleSectionAnalysis)

		// Remediation
		r.Route("/actions", func(r chi.Router) {
			r.Post("/add_label", s.handleAddLabel)
			r.Post("/manage_quiz", s.handleAddQuiz)
			r.Post("/enable_repeatable", s.handleEnableRepeatable)
			r.Post("/execute_rule_action", s.handleExecuteRuleAction)
		})

		// Stored rule definitions
		r.Route("/definitions", func(r chi.Router) {
			r.Get("/", s.handleListDefinitions)
			r.Post("/", s.handleCreateDefinition)
			r.Get("/{id}", s.handleGetDefinition)
			r.Delete("/{id}", s.handleDeleteDefinition)
			r.Post("/{id}/evaluate", s.handleEvaluateDefinition)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// instrument records request metrics under the matched route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		logger.CountHTTPStatus(status)
		s.deps.Metrics.ObserveRequest(r.Method, route, status, time.Since(start))
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ping != nil {
		if err := s.deps.Ping(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"warnings": logger.TotalWarnings.Load(),
		"errors":   logger.TotalErrors.Load(),
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}
