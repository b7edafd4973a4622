package api

import (
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"castrelay/internal/server"
)

// idPattern bounds the :id path parameter accepted by the platform routes.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// rateLimitWindow and rateLimitRequests implement the token-bucket contract
// in §4.7: 100 requests per 15 minutes per source address.
const (
	rateLimitRequests = 100
	rateLimitWindow   = 15 * time.Minute
)

// NewRouter builds the chi router for the Control API, applying the shared
// request-id/logging/recovery middleware from internal/server plus
// httprate-based rate limiting and gzip response compression.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(server.WithRequestID(h.Logger))
	r.Use(server.Recovery(h.Logger))
	r.Use(server.RequestLogging(h.Logger))
	r.Use(httprate.Limit(
		rateLimitRequests,
		rateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(rateLimitExceeded),
	))
	r.Use(gzipMiddleware)

	r.Get("/health", h.Health)

	r.Get("/stream/status", h.StreamStatus)
	r.Post("/stream/start", h.StreamStart)
	r.Post("/stream/stop", h.StreamStop)
	r.Post("/stream/connect", h.StreamConnect)
	r.Post("/stream/disconnect", h.StreamDisconnect)

	r.Get("/platforms", h.ListPlatforms)
	r.Route("/platforms/{id}", func(r chi.Router) {
		r.Use(validatePlatformID)
		r.Post("/connect", h.ConnectPlatform)
		r.Post("/disconnect", h.DisconnectPlatform)
	})

	r.Get("/config", h.GetConfig)
	r.Post("/config", h.PostConfig)

	return r
}

func validatePlatformID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !idPattern.MatchString(id) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid platform id"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitExceeded(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
}
