package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/juanpasaflipz/agentic-devops/internal/telemetry"
)

// NewRouter mounts the gateway routes. /healthz is open; /event and /runs
// require the bearer token and share limiter when one is given.
func NewRouter(h *Handler, limiter *rate.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware())
	r.Use(requestLog)

	r.Get("/healthz", h.Healthz)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(RateLimit(limiter))
		r.Post("/event", h.Event)
		r.Get("/runs", h.Runs)
	})
	return r
}

// NewLimiter builds a token bucket. A non-positive rps disables limiting.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// RateLimit rejects requests beyond the limiter's rate with 429.
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("X-RateLimit-Limit", strconv.FormatFloat(float64(limiter.Limit()), 'f', -1, 64))
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limit_exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Func(telemetry.LogTraceFields(r.Context())).
			Msg("request")
	})
}
