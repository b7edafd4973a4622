package server

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"castrelay/internal/observability/metrics"
)

// RequestLogging returns middleware that logs each completed request with
// its status, duration, and the request-scoped fields request_id and
// destination_id carry forward from requestIDMiddleware.
func RequestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := metrics.NewResponseRecorder(w)
			start := time.Now()
			next.ServeHTTP(rec, r)
			duration := time.Since(start)

			metrics.ObserveRequest(r.Method, r.URL.Path, rec.Status(), duration)

			entryLogger := loggingWithRequest(logger, r)
			if entryLogger == nil {
				return
			}
			entryLogger.Info("request completed",
				"method", r.Method,
				"status", rec.Status(),
				"duration_ms", duration.Milliseconds(),
			)
		})
	}
}

// WithRequestID installs requestIDMiddleware using logger for the
// request-scoped logger attached to the context.
func WithRequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return requestIDMiddleware(logger, next)
	}
}

// Recovery recovers panics from the handler chain, logs them, and responds
// with a 500 JSON error instead of crashing the process.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if logger != nil {
						logger.Error("panic recovered", "error", rec, "stack", string(debug.Stack()))
					}
					writeMiddlewareError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
