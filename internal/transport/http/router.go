// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/adiadia/execstream/internal/domain"
	"github.com/adiadia/execstream/internal/metrics"
	"github.com/adiadia/execstream/internal/stream"
	"github.com/adiadia/execstream/internal/transport/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 4 << 20

type openStreamRequest struct {
	ExpectedSequence int64  `json:"expected_sequence"`
	Status           string `json:"status"`
	Connected        bool   `json:"connected"`
}

type ingestRequest struct {
	Events []domain.LogEvent `json:"events"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type connectionRequest struct {
	Connected *bool `json:"connected"`
}

type completeRequest struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
}

type errorRequest struct {
	Message string `json:"message"`
}

type Deps struct {
	Store       StreamStore
	Follower    Follower
	Health      HealthChecker
	Logger      *slog.Logger
	IngestToken string
	// IngestRatePerMin caps ingest requests per execution; zero disables it.
	IngestRatePerMin int
	TailInterval     time.Duration
	// BaseContext bounds background follows started over HTTP.
	BaseContext context.Context
	Version     string
	Commit      string
	BuildDate   string
}

type server struct {
	store        StreamStore
	follower     Follower
	logger       *slog.Logger
	limiter      *middleware.ExecutionRateLimiter
	tailInterval time.Duration
	baseCtx      context.Context
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	s := &server{
		store:        deps.Store,
		follower:     deps.Follower,
		logger:       logger,
		tailInterval: deps.TailInterval,
		baseCtx:      deps.BaseContext,
	}
	if s.tailInterval <= 0 {
		s.tailInterval = 500 * time.Millisecond
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	if deps.IngestRatePerMin > 0 {
		s.limiter = middleware.NewExecutionRateLimiter(deps.IngestRatePerMin, logger)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Error("health check failed", "error", err)
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- STREAMS ----------------

	r.Get("/executions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"executions": s.store.IDs(),
		})
	})

	r.Route("/executions/{id}", func(r chi.Router) {
		// Consumer side: the UI opens, reads and clears streams.
		r.Put("/stream", s.handleOpen)
		r.Get("/stream", s.handleSnapshot)
		r.Delete("/stream", s.handleClear)
		r.Get("/log", s.handleLogTail)

		// Producer side.
		r.Group(func(r chi.Router) {
			r.Use(middleware.IngestTokenAuth(deps.IngestToken, logger))

			// Buckets are only created for open streams.
			if s.limiter != nil {
				r.With(s.requireStream, s.limiter.Middleware).Post("/events", s.handleIngest)
			} else {
				r.Post("/events", s.handleIngest)
			}
			r.Put("/status", s.handleStatus)
			r.Put("/connection", s.handleConnection)
			r.Post("/complete", s.handleComplete)
			r.Post("/error", s.handleError)
			r.Post("/follow", s.handleFollow)
			r.Get("/ws", s.handleProducerSocket)
		})
	})

	return r
}

func (s *server) handleOpen(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req openStreamRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ExpectedSequence < 0 {
		http.Error(w, "expected_sequence must be non-negative", http.StatusBadRequest)
		return
	}
	status, err := parseStatus(req.Status, true)
	if err != nil {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	created := s.store.Open(id, stream.InitialState{
		Expected:  req.ExpectedSequence,
		Status:    status,
		Connected: req.Connected,
	})

	st, ok := s.store.Snapshot(id)
	if !ok {
		// Cleared between Open and Snapshot.
		http.Error(w, "execution stream not found", http.StatusNotFound)
		return
	}

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, st)
}

func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, ok := s.store.Snapshot(id)
	if !ok {
		http.Error(w, "execution stream not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleClear(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.follower != nil {
		if execID, err := uuid.Parse(id); err == nil {
			s.follower.Stop(execID)
		}
	}
	if s.limiter != nil {
		s.limiter.Forget(id)
	}

	if err := s.store.Clear(id); err != nil {
		s.writeStoreError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.store.Ingest(id, req.Events); err != nil {
		s.writeStoreError(w, id, err)
		return
	}

	expected, err := s.store.Expected(id)
	if err != nil {
		s.writeStoreError(w, id, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":          len(req.Events),
		"expected_sequence": expected,
	})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	status, err := parseStatus(req.Status, false)
	if err != nil {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	if err := s.store.UpdateStatus(id, status); err != nil {
		s.writeStoreError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req connectionRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Connected == nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.store.SetConnection(id, *req.Connected); err != nil {
		s.writeStoreError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req completeRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	opts, err := completeOptions(req)
	if err != nil {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	if err := s.store.Complete(id, opts...); err != nil {
		s.writeStoreError(w, id, err)
		return
	}

	st, ok := s.store.Snapshot(id)
	if !ok {
		http.Error(w, "execution stream not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleError(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req errorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	if err := s.store.SetError(id, req.Message); err != nil {
		s.writeStoreError(w, id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleFollow(w http.ResponseWriter, r *http.Request) {
	if s.follower == nil {
		http.Error(w, "execution store not configured", http.StatusNotImplemented)
		return
	}

	execID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid execution ID", http.StatusBadRequest)
		return
	}

	started := s.follower.Start(s.baseCtx, execID)
	if started {
		s.logger.Info("follow requested via API", "execution_id", execID)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"execution_id": execID.String(),
		"started":      started,
	})
}

func (s *server) requireStream(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.store.Exists(chi.URLParam(r, "id")) {
			http.Error(w, "execution stream not found", http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) writeStoreError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, domain.ErrUnknownExecution) {
		http.Error(w, "execution stream not found", http.StatusNotFound)
		return
	}
	s.logger.Error("stream operation failed", "execution_id", id, "error", err)
	http.Error(w, "stream operation failed", http.StatusInternalServerError)
}

func completeOptions(req completeRequest) ([]stream.CompleteOption, error) {
	var opts []stream.CompleteOption

	status, err := parseStatus(req.Status, true)
	if err != nil {
		return nil, err
	}
	if status != "" {
		opts = append(opts, stream.WithFinalStatus(status))
	}

	result := json.RawMessage(strings.TrimSpace(string(req.Result)))
	if len(result) > 0 && string(result) != "null" {
		opts = append(opts, stream.WithResult(result))
	}
	return opts, nil
}

func parseStatus(raw string, allowEmpty bool) (domain.ExecutionStatus, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" && allowEmpty {
		return "", nil
	}

	status := domain.ExecutionStatus(raw)
	if !status.Valid() {
		return "", domain.ErrInvalidExecutionStatus
	}
	return status, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads exactly one JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return domain.ErrInvalidEventBatch
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}

// decodeOptionalJSON is decodeJSON that accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	err := decodeJSON(w, r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
