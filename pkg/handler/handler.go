// Package handler is the upload coordinator: it exposes the HTTP surface,
// enforces the upload state machine and idempotency rules, and routes chunk
// persistence through the worker pool or the durable queue.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dfs-io/dfsd/pkg/auth"
	"github.com/dfs-io/dfsd/pkg/config"
	"github.com/dfs-io/dfsd/pkg/maintenance"
	"github.com/dfs-io/dfsd/pkg/metrics"
	"github.com/dfs-io/dfsd/pkg/queue"
	"github.com/dfs-io/dfsd/pkg/storage"
	"github.com/dfs-io/dfsd/pkg/store"
	"github.com/dfs-io/dfsd/pkg/worker"
)

// Options are the collaborators of a Handler. Pool is used when Queue is
// nil; otherwise chunk writes travel through Queue and Results.
type Options struct {
	Config  *config.Config
	Store   *store.Store
	Storage storage.ChunkStorage
	Pool    *worker.Pool
	Limiter *worker.UploadLimiter
	Queue   queue.DurableQueue
	Results *queue.ResultStore
	Sweeper *maintenance.Sweeper
	Auth    auth.Authenticator
	Rate    *auth.RateLimiter
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	Audit   zerolog.Logger
}

// Handler orchestrates the upload lifecycle over HTTP.
type Handler struct {
	cfg     *config.Config
	store   *store.Store
	objects storage.ChunkStorage
	pool    *worker.Pool
	limiter *worker.UploadLimiter
	queue   queue.DurableQueue
	results *queue.ResultStore
	sweeper *maintenance.Sweeper
	authn   auth.Authenticator
	rate    *auth.RateLimiter
	metrics *metrics.Metrics
	logger  zerolog.Logger
	audit   zerolog.Logger
}

// New builds a Handler from its collaborators.
func New(opts Options) *Handler {
	return &Handler{
		cfg:     opts.Config,
		store:   opts.Store,
		objects: opts.Storage,
		pool:    opts.Pool,
		limiter: opts.Limiter,
		queue:   opts.Queue,
		results: opts.Results,
		sweeper: opts.Sweeper,
		authn:   opts.Auth,
		rate:    opts.Rate,
		metrics: opts.Metrics,
		logger:  opts.Logger.With().Str("component", "handler").Logger(),
		audit:   opts.Audit,
	}
}

// Routes assembles the chi router for the full HTTP surface.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestMiddleware)

	r.Get("/health", h.health)
	r.Get("/version", h.version)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware)
		r.Post("/v1/uploads/init", h.initUpload)
		r.Put("/v1/uploads/{id}/chunks/{index}", h.uploadChunk)
		r.Get("/v1/uploads/{id}/missing-chunks", h.missingChunks)
		r.Post("/v1/uploads/{id}/complete", h.completeUpload)
		r.Get("/v1/uploads/{id}/download", h.download)
		r.Post("/v1/admin/cleanup", h.adminCleanup)
	})
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) version(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"app_name":        h.cfg.AppName,
		"app_version":     h.cfg.AppVersion,
		"queue_backend":   h.cfg.QueueBackend,
		"storage_backend": h.cfg.StorageBackend,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("write response failed")
	}
}

// writeError renders err as the structured error body. Unclassified errors
// become 500s.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, uploadID string) {
	var httpErr Error
	if !errors.As(err, &httpErr) {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
		httpErr = ErrInternal
	}
	if httpErr.ErrorCode == "" {
		httpErr.ErrorCode = errorCodeForStatus(httpErr.StatusCode)
	}
	for key, value := range httpErr.Header {
		w.Header().Set(key, value)
	}
	if httpErr.StatusCode == http.StatusTooManyRequests {
		reason := httpErr.Header["X-RateLimit-Reason"]
		h.metrics.ThrottledRequests.WithLabelValues(reason).Inc()
	}
	h.writeJSON(w, httpErr.StatusCode, errorBody{
		Detail:    httpErr.Detail,
		ErrorCode: httpErr.ErrorCode,
		RequestID: requestIDFrom(r.Context()),
		UploadID:  uploadID,
	})
}

// throttleError converts an admission rejection into its 429 response.
func throttleError(reason string) Error {
	return ErrThrottled.
		WithDetail("chunk admission rejected: " + reason).
		WithHeader("Retry-After", "1").
		WithHeader("X-RateLimit-Reason", reason)
}

func (h *Handler) observeDB(start time.Time) {
	h.metrics.DBUpdateLatency.Observe(time.Since(start).Seconds())
}
