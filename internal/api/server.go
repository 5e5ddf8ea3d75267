package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/adrecon/internal/engine"
	"github.com/roach88/adrecon/internal/metrics"
)

// maxBody caps request bodies; row imports are the largest.
const maxBody = 8 << 20

// Server exposes one engine over HTTP.
type Server struct {
	engine   *engine.Engine
	recorder *metrics.Recorder
	validate *validator.Validate
	timeout  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves rec on /metrics and records request counts.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(s *Server) {
		s.recorder = rec
	}
}

// WithCommandTimeout bounds how long a write waits for the engine.
func WithCommandTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// New creates a server for eng.
func New(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:   eng,
		validate: validator.New(),
		timeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.recorder != nil {
		r.Use(s.instrument)
	}

	r.Get("/healthz", s.handleHealth)
	if s.recorder != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.recorder.Registry(), promhttp.HandlerOpts{}))
	}

	r.Get("/views", s.handleViews)
	r.Route("/views/{view}", func(r chi.Router) {
		r.Get("/rows", s.handleGetRows)
		r.Put("/rows", s.handleReplaceRows)
		r.Post("/rows", s.handleAddRow)
		r.Delete("/rows", s.handleClearRows)
		r.Patch("/rows/{id}", s.handleEditField)

		r.Get("/messages", s.handleGetMessages)
		r.Delete("/messages", s.handleClearMessages)

		r.Post("/ingest", s.handleIngest)
		r.Post("/outcomes", s.handleOutcome)
		r.Post("/verifications", s.handleVerify)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// instrument records one observation per request, labelled by route
// pattern rather than raw path.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.recorder.ObserveRequest(r.Method, route, status, time.Since(start))
	})
}

// do runs ev on the engine loop and waits for its result.
func (s *Server) do(ctx context.Context, ev engine.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.engine.Do(ctx, ev)
}

func (s *Server) submit(ctx context.Context, view string, cmd engine.Command) error {
	return s.do(ctx, engine.Event{
		Type:    engine.EventTypeCommand,
		View:    view,
		Command: cmd,
	})
}

// errorBody mirrors the CLI's JSON error shape.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeEngineError maps engine failures to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		status := http.StatusBadRequest
		switch re.Code {
		case engine.ErrCodeUnknownView, engine.ErrCodeRowNotFound:
			status = http.StatusNotFound
		case engine.ErrCodeDuplicateRow:
			status = http.StatusConflict
		}
		writeError(w, status, string(re.Code), err.Error())
		return
	}

	switch {
	case errors.Is(err, engine.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "STOPPED", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", "engine did not answer in time")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

// decode reads a JSON body into v and validates it when v is a struct.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any, validateStruct bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", fmt.Sprintf("invalid body: %v", err))
		return false
	}
	if validateStruct {
		if err := s.validate.Struct(v); err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return false
		}
	}
	return true
}
