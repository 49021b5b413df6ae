// Package api exposes the HTTP operations interface for the filing service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rlorentegh/tramitador/internal/config"
	"github.com/rlorentegh/tramitador/internal/filing"
	"github.com/rlorentegh/tramitador/internal/metrics"
)

// Cycler triggers one refill cycle on demand.
type Cycler interface {
	RunCycle(ctx context.Context) error
}

// Server wires HTTP handlers to the stores and the orchestrator.
type Server struct {
	router chi.Router
	tasks  filing.TaskStore
	auths  filing.AuthorizationStore
	cycler Cycler
	logger *zap.Logger
	cfg    config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	tasks filing.TaskStore,
	auths filing.AuthorizationStore,
	cycler Cycler,
	logger *zap.Logger,
	cfg config.Config,
) *Server {
	s := &Server{
		tasks:  tasks,
		auths:  auths,
		cycler: cycler,
		logger: logger,
		cfg:    cfg,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.listTasks)
			r.Route("/{task_id}", func(r chi.Router) {
				r.Get("/", s.getTask)
				r.Post("/reset", s.resetTask)
			})
		})
		r.Route("/queues", func(r chi.Router) {
			r.Get("/counts", s.queueCounts)
			r.Post("/clear", s.clearQueues)
		})
		r.Post("/cycle", s.runCycle)
		r.Route("/authorizations", func(r chi.Router) {
			r.Get("/", s.listAuthorizations)
			r.Route("/{auth_id}", func(r chi.Router) {
				r.Post("/authorize", s.authorize)
				r.Post("/reject", s.reject)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.tasks.CountTasksAny(r.Context(), filing.TaskStatusPending); err != nil {
		writeError(w, http.StatusServiceUnavailable, "task store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	source := filing.SourceID(r.URL.Query().Get("source"))
	status := filing.TaskStatus(r.URL.Query().Get("status"))
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	tasks, err := s.tasks.ListTasks(r.Context(), source, status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.tasks.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, filing.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) resetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if err := s.tasks.ResetTask(r.Context(), taskID); err != nil {
		if errors.Is(err, filing.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to reset task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": string(filing.TaskStatusPending)})
}

func (s *Server) queueCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.tasks.CountBySource(r.Context(), filing.NonTerminalStatuses...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count queues")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

func (s *Server) clearQueues(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.tasks.ClearQueues(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear queues")
		return
	}
	s.logger.Warn("queues cleared via API", zap.Int64("tasks_failed", cleared))
	writeJSON(w, http.StatusOK, map[string]int64{"cleared": cleared})
}

func (s *Server) runCycle(w http.ResponseWriter, r *http.Request) {
	if err := s.cycler.RunCycle(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cycle complete"})
}

func (s *Server) listAuthorizations(w http.ResponseWriter, r *http.Request) {
	pending, err := s.auths.ListPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list authorizations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authorizations": pending})
}

type authorizeRequest struct {
	AuthorizedBy string `json:"authorized_by"`
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) {
	authID := chi.URLParam(r, "auth_id")
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AuthorizedBy == "" {
		writeError(w, http.StatusBadRequest, "authorized_by is required")
		return
	}
	taskID, err := s.auths.Authorize(r.Context(), authID, req.AuthorizedBy)
	if err != nil {
		if errors.Is(err, filing.ErrAuthorizationNotFound) {
			writeError(w, http.StatusNotFound, "authorization not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to authorize")
		return
	}
	metrics.ObserveAuthorization("authorized")
	writeJSON(w, http.StatusOK, map[string]string{"authorization_id": authID, "task_id": taskID})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	authID := chi.URLParam(r, "auth_id")
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}
	if err := s.auths.Reject(r.Context(), authID, req.Reason); err != nil {
		if errors.Is(err, filing.ErrAuthorizationNotFound) {
			writeError(w, http.StatusNotFound, "authorization not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to reject")
		return
	}
	metrics.ObserveAuthorization("rejected")
	writeJSON(w, http.StatusOK, map[string]string{"authorization_id": authID, "status": string(filing.AuthorizationRejected)})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
