package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dfs-io/dfsd/internal/uid"
	"github.com/dfs-io/dfsd/pkg/auth"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	requestIDKey contextKey = "request_id"
)

// requestMiddleware tags every response with X-Request-ID and the app
// version, logs the completed request and observes its duration.
func (h *Handler) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uid.Uid()
		}
		w.Header().Set("X-Request-ID", requestID)
		w.Header().Set("X-DFS-App-Version", h.cfg.AppVersion)

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		duration := time.Since(start)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		h.metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
			Observe(duration.Seconds())
		h.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Float64("duration_ms", float64(duration.Microseconds())/1000).
			Msg("request_completed")
	})
}

// authMiddleware resolves the caller to a Principal and applies the
// per-credential rate limit.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := h.authn.Authenticate(r)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrForbidden):
				h.writeError(w, r, ErrForbidden.WithDetail("invalid api key"), "")
			default:
				h.writeError(w, r, ErrMissingAPIKey, "")
			}
			return
		}

		if err := h.rate.Allow(principal.RateKey); err != nil {
			var rateErr *auth.RateLimitError
			if errors.As(err, &rateErr) {
				retryAfter := fmt.Sprintf("%d", int(rateErr.RetryAfter/time.Second))
				h.writeError(w, r, ErrThrottled.
					WithDetail("api rate limit exceeded").
					WithHeader("Retry-After", retryAfter).
					WithHeader("X-RateLimit-Reason", auth.RateLimitReason), "")
				return
			}
			h.writeError(w, r, err, "")
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFrom(ctx context.Context) auth.Principal {
	principal, _ := ctx.Value(principalKey).(auth.Principal)
	return principal
}

func requestIDFrom(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey).(string)
	return requestID
}
