// Package handlers binds the resize service to HTTP.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// RouterOptions selects the routes NewRouter mounts. Nil handlers leave
// their routes unmounted.
type RouterOptions struct {
	Resize       *ResizeHandler
	Async        *AsyncHandler
	Metrics      http.Handler
	RateLimiter  *RateLimiter
	MaxBodyBytes int64

	// Ready is checked by /health when set.
	Ready func(context.Context) error
}

// NewRouter builds the service router. Unknown routes and methods answer
// 400 {"query":{"route":"Not Supported"}}.
func NewRouter(opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.NotFound(notSupported)
	r.MethodNotAllowed(notSupported)

	r.Get("/health", healthHandler(opts.Ready))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Middleware)
		}
		if opts.MaxBodyBytes > 0 {
			r.Use(maxBody(opts.MaxBodyBytes))
		}

		r.Get("/ping", handlePing)
		r.Post("/ping", handlePing)

		if opts.Resize != nil {
			r.Method(http.MethodGet, "/resize", opts.Resize)
			r.Method(http.MethodPost, "/resize", opts.Resize)
		}

		if opts.Async != nil {
			r.Post("/v1/process", opts.Async.HandleProcess)
			r.Get("/v1/runs/{runID}", opts.Async.HandleStatus)
		}
	})

	return r
}

func handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func healthHandler(ready func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				log.Warn().Err(err).Msg("Health check failed")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

func maxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Debug().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("HTTP request")
		}()
		next.ServeHTTP(ww, r)
	})
}
