package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/cmdgate/internal/archive"
	"github.com/JakeFAU/cmdgate/internal/dispatcher"
	"github.com/JakeFAU/cmdgate/internal/metrics"
	"github.com/JakeFAU/cmdgate/internal/progress"
)

// RequestIDHeader carries the per-request id set by the server.
const RequestIDHeader = "X-Request-ID"

// Pool reports the state of the command listener.
type Pool interface {
	Running() bool
	Stats() dispatcher.Stats
}

// Commands lists subscribed command names.
type Commands interface {
	Names() []string
	Count(name string) int
}

// RequestLog returns recent request events, newest first.
type RequestLog interface {
	Events() []progress.Event
}

// LookupLog returns recent archive lookups, newest first.
type LookupLog interface {
	Recent() []archive.Lookup
}

// Deps are the collaborators exposed by the admin API. Requests and Lookups
// are optional; their routes answer 404 when unset.
type Deps struct {
	Pool     Pool
	Commands Commands
	Requests RequestLog
	Lookups  LookupLog
	APIKey   string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Server wires HTTP handlers to the command server's internals.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// CommandInfo is one entry of GET /v1/commands.
type CommandInfo struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}

// RequestInfo is the JSON view of a progress event.
type RequestInfo struct {
	ID         string    `json:"id"`
	At         time.Time `json:"at"`
	Stage      string    `json:"stage"`
	Method     string    `json:"method,omitempty"`
	Command    string    `json:"command,omitempty"`
	Status     int       `json:"status,omitempty"`
	Delivered  int       `json:"delivered"`
	DurationMs float64   `json:"duration_ms"`
	Note       string    `json:"note,omitempty"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 10 * time.Second
	}
	s := &Server{deps: deps, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(deps.Timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if deps.APIKey != "" {
			r.Use(apiKeyMiddleware(deps.APIKey))
		}
		r.Get("/commands", s.listCommands)
		r.Get("/pool", s.poolStats)
		r.Get("/requests", s.listRequests)
		r.Get("/lookups", s.listLookups)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Pool == nil || !s.deps.Pool.Running() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listCommands(w http.ResponseWriter, _ *http.Request) {
	out := []CommandInfo{}
	if s.deps.Commands != nil {
		for _, name := range s.deps.Commands.Names() {
			out = append(out, CommandInfo{Name: name, Subscribers: s.deps.Commands.Count(name)})
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"commands": out})
}

func (s *Server) poolStats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Pool == nil {
		s.writeError(w, http.StatusServiceUnavailable, "pool not configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Pool.Stats())
}

func (s *Server) listRequests(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Requests == nil {
		s.writeError(w, http.StatusNotFound, "request log disabled")
		return
	}
	events := s.deps.Requests.Events()
	out := make([]RequestInfo, 0, len(events))
	for _, evt := range events {
		out = append(out, RequestInfo{
			ID:         evt.RequestUUID().String(),
			At:         evt.TS,
			Stage:      string(evt.Stage),
			Method:     evt.Method,
			Command:    evt.Command,
			Status:     evt.Status,
			Delivered:  evt.Delivered,
			DurationMs: float64(evt.Dur) / float64(time.Millisecond),
			Note:       evt.Note,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"requests": out})
}

func (s *Server) listLookups(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Lookups == nil {
		s.writeError(w, http.StatusNotFound, "archive disabled")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"lookups": s.deps.Lookups.Recent()})
}

type requestIDKey struct{}

// RequestID returns the id assigned by the request id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set(RequestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("error", rec),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
