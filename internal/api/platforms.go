package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"castrelay/internal/config"
	"castrelay/internal/relay"
)

type platformView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	URL         string `json:"url"`
	StreamKey   string `json:"streamKey"`
	Enabled     bool   `json:"enabled"`
	State       string `json:"state"`
	Connected   bool   `json:"connected"`
	Streaming   bool   `json:"streaming"`
}

func maskStreamKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func buildPlatformViews(destinations []config.Destination, snapshot []relay.Status) []platformView {
	byID := make(map[string]relay.Status, len(snapshot))
	for _, s := range snapshot {
		byID[s.DestinationID] = s
	}

	views := make([]platformView, 0, len(destinations))
	for _, d := range destinations {
		state := "idle"
		var connected, streaming bool
		if s, ok := byID[d.ID]; ok {
			state, connected, streaming = s.State, s.Connected, s.Streaming
		}
		views = append(views, platformView{
			ID:          d.ID,
			Name:        d.Name,
			DisplayName: d.DisplayName,
			URL:         d.URL,
			StreamKey:   maskStreamKey(d.StreamKey),
			Enabled:     d.Enabled,
			State:       state,
			Connected:   connected,
			Streaming:   streaming,
		})
	}
	return views
}

// ListPlatforms returns every configured destination with its stream key
// masked, reusing a snapshot built within the last second.
func (h *Handler) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	h.cacheMu.Lock()
	if h.platformsCache != nil && time.Since(h.platformsAt) < platformsCacheTTL {
		cached := h.platformsCache
		h.cacheMu.Unlock()
		writeJSON(w, http.StatusOK, cached)
		return
	}
	h.cacheMu.Unlock()

	cfg, err := h.Store.Load(h.ConfigPath)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	views := buildPlatformViews(cfg.Destinations, h.Supervisor.StatusSnapshot())

	h.cacheMu.Lock()
	h.platformsCache = views
	h.platformsAt = time.Now()
	h.cacheMu.Unlock()

	writeJSON(w, http.StatusOK, views)
}

// ConnectPlatform starts the relay child for one destination.
func (h *Handler) ConnectPlatform(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Supervisor.Start(r.Context(), id); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	h.invalidatePlatformsCache()
	writeJSON(w, http.StatusOK, streamActionResponse{Status: "connected"})
}

// DisconnectPlatform stops the relay child for one destination.
func (h *Handler) DisconnectPlatform(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Supervisor.Stop(id); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	h.invalidatePlatformsCache()
	writeJSON(w, http.StatusOK, streamActionResponse{Status: "disconnected"})
}
