package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"castrelay/internal/config"
	"castrelay/internal/relayerr"
)

type destinationPayload struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	DisplayName string            `json:"displayName,omitempty"`
	URL         string            `json:"url"`
	StreamKey   string            `json:"streamKey"`
	Enabled     bool              `json:"enabled"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type ingestPayload struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	App       string `json:"app"`
	StreamKey string `json:"streamKey"`
	Enabled   bool   `json:"enabled"`
}

type configPayload struct {
	Version              string               `json:"version"`
	Ingest               ingestPayload        `json:"ingest"`
	AutoReconnect        bool                 `json:"autoReconnect"`
	ReconnectDelay       int                  `json:"reconnectDelay"`
	MaxReconnectAttempts int                  `json:"maxReconnectAttempts"`
	Destinations         []destinationPayload `json:"destinations"`
}

func toPayload(cfg config.Config, includeKeys bool) configPayload {
	destinations := make([]destinationPayload, 0, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		key := d.StreamKey
		if !includeKeys {
			key = maskStreamKey(key)
		}
		destinations = append(destinations, destinationPayload{
			ID:          d.ID,
			Name:        d.Name,
			DisplayName: d.DisplayName,
			URL:         d.URL,
			StreamKey:   key,
			Enabled:     d.Enabled,
			Metadata:    d.Metadata,
		})
	}

	ingestKey := cfg.Ingest.StreamKey
	if !includeKeys {
		ingestKey = maskStreamKey(ingestKey)
	}

	return configPayload{
		Version: cfg.Version,
		Ingest: ingestPayload{
			Host:      cfg.Ingest.Host,
			Port:      cfg.Ingest.Port,
			App:       cfg.Ingest.App,
			StreamKey: ingestKey,
			Enabled:   cfg.Ingest.Enabled,
		},
		AutoReconnect:        cfg.AutoReconnect,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Destinations:         destinations,
	}
}

func fromPayload(p configPayload, previous config.Config) config.Config {
	cfg := previous
	cfg.Version = p.Version
	cfg.Ingest = config.Ingest{
		Host:      p.Ingest.Host,
		Port:      p.Ingest.Port,
		App:       p.Ingest.App,
		StreamKey: p.Ingest.StreamKey,
		Enabled:   p.Ingest.Enabled,
	}
	cfg.AutoReconnect = p.AutoReconnect
	cfg.ReconnectDelay = p.ReconnectDelay
	cfg.MaxReconnectAttempts = p.MaxReconnectAttempts

	destinations := make([]config.Destination, 0, len(p.Destinations))
	for _, d := range p.Destinations {
		destinations = append(destinations, config.Destination{
			ID:          d.ID,
			Name:        d.Name,
			DisplayName: d.DisplayName,
			URL:         d.URL,
			StreamKey:   d.StreamKey,
			Enabled:     d.Enabled,
			Metadata:    d.Metadata,
		})
	}
	cfg.Destinations = destinations
	return cfg
}

// validatePayload checks field-level constraints and returns a
// relayerr.ConfigInvalid error carrying one detail string per violation,
// or nil when the payload is well-formed.
func validatePayload(p configPayload) error {
	var details []string
	if p.Ingest.Port <= 0 || p.Ingest.Port > 65535 {
		details = append(details, "ingest.port must be between 1 and 65535")
	}
	if p.Ingest.App == "" {
		details = append(details, "ingest.app must not be empty")
	}
	seen := make(map[string]struct{}, len(p.Destinations))
	for i, d := range p.Destinations {
		if d.Name == "" {
			details = append(details, "destinations["+strconv.Itoa(i)+"].name must not be empty")
		}
		if d.URL == "" {
			details = append(details, "destinations["+strconv.Itoa(i)+"].url must not be empty")
		}
		if d.ID != "" {
			if _, dup := seen[d.ID]; dup {
				details = append(details, "destinations["+strconv.Itoa(i)+"].id is duplicated")
			}
			seen[d.ID] = struct{}{}
		}
	}
	if len(details) == 0 {
		return nil
	}
	return relayerr.New(relayerr.ConfigInvalid, "config: validation failed").WithDetails(details...)
}

// GetConfig returns the persisted configuration, masking stream keys unless
// includeKeys=true is supplied.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Store.Load(h.ConfigPath)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	includeKeys := r.URL.Query().Get("includeKeys") == "true"
	writeJSON(w, http.StatusOK, toPayload(cfg, includeKeys))
}

// PostConfig validates, persists, and applies a new configuration: the
// platforms cache is invalidated, the supervisor's destination table is
// replaced, and the ingest listener is restarted iff its identifying fields
// (host, port, app, streamKey) changed.
func (h *Handler) PostConfig(w http.ResponseWriter, r *http.Request) {
	var payload configPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, h.Logger, relayerr.New(relayerr.ConfigInvalid, "config: malformed request body"))
		return
	}
	if err := validatePayload(payload); err != nil {
		writeError(w, h.Logger, err)
		return
	}

	previous, err := h.Store.Load(h.ConfigPath)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	next := fromPayload(payload, previous)

	if err := h.Store.Save(next, h.ConfigPath); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	h.invalidatePlatformsCache()

	h.Supervisor.Configure(next.Destinations)

	ingestIdentityChanged := previous.Ingest.Host != next.Ingest.Host ||
		previous.Ingest.Port != next.Ingest.Port ||
		previous.Ingest.App != next.Ingest.App ||
		previous.Ingest.StreamKey != next.Ingest.StreamKey
	if ingestIdentityChanged {
		if err := h.Ingest.Stop(); err != nil {
			h.Logger.Warn("ingest restart: stop failed", "error", err)
		}
		if err := h.Ingest.Start(r.Context()); err != nil {
			writeError(w, h.Logger, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, toPayload(next, false))
}
