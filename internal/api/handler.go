// Package api is the Control API: a small REST surface over the
// Configuration Store, the RTMP ingest endpoint, and the Relay Supervisor.
// The Handler aggregates those collaborators the way the teacher's own
// api.Handler aggregates storage, sessions, and chat -- a plain struct of
// dependencies with one method per endpoint, wired together by the caller
// rather than by the handler reaching into a global.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"castrelay/internal/config"
	"castrelay/internal/ingest"
	"castrelay/internal/relay"
	"castrelay/internal/relayerr"
)

// platformsCacheTTL bounds how long a GET /platforms response is reused
// before a fresh snapshot is built.
const platformsCacheTTL = 1 * time.Second

// Handler aggregates the Control API's dependencies and exposes one method
// per endpoint in §4.7.
type Handler struct {
	Store      *config.Store
	ConfigPath string
	Ingest     *ingest.Server
	Supervisor *relay.Supervisor
	Logger     *slog.Logger

	cacheMu        sync.Mutex
	platformsCache []platformView
	platformsAt    time.Time
}

// NewHandler wires the Control API to its collaborators.
func NewHandler(store *config.Store, configPath string, ingestSrv *ingest.Server, supervisor *relay.Supervisor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:      store,
		ConfigPath: configPath,
		Ingest:     ingestSrv,
		Supervisor: supervisor,
		Logger:     logger.With("component", "api"),
	}
}

func (h *Handler) invalidatePlatformsCache() {
	h.cacheMu.Lock()
	h.platformsCache = nil
	h.platformsAt = time.Time{}
	h.cacheMu.Unlock()
}

// errorResponse is the JSON envelope written for every failed request: a
// leading one-line summary plus optional structured detail lines.
type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders err as the {error, details?} envelope, deriving the
// status code from its relayerr.Kind when present and falling back to 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind, ok := relayerr.KindOf(err)
	if !ok {
		if logger != nil {
			logger.Error("unstructured control API error", "error", err)
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	var structured *relayerr.Error
	errors.As(err, &structured)
	writeJSON(w, relayerr.HTTPStatus(kind), errorResponse{
		Error:   structured.Message,
		Details: structured.Details,
	})
}
