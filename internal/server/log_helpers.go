package server

import (
	"log/slog"
	"net/http"
	"strings"
)

// loggingWithRequest returns a logger annotated with request-scoped fields:
// request and destination IDs carried on the context, plus the HTTP path and
// the resolved client IP, so middleware logs stay aligned on shared keys.
func loggingWithRequest(base *slog.Logger, r *http.Request) *slog.Logger {
	if base == nil || r == nil {
		return nil
	}

	logger := loggerWithRequestContext(r.Context(), base)
	if logger == nil {
		return nil
	}

	return logger.With(
		"path", r.URL.Path,
		"remote_ip", clientIP(r),
	)
}

// clientIP resolves the originating address, preferring the first hop of a
// forwarding chain (X-Forwarded-For) over the raw connection's remote
// address, which is only correct when the service sits behind a trusted
// reverse proxy.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-Ip")); real != "" {
		return real
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		return host[:idx]
	}
	return host
}
