package api

import (
	"net/http"

	"castrelay/internal/relay"
	"castrelay/internal/telemetry/parser"
)

type streamStatusResponse struct {
	ActualPath   string             `json:"actualPath"`
	IngestState  string             `json:"ingestState"`
	Destinations []destinationState `json:"destinations"`
}

type destinationState struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	State     string       `json:"state"`
	Connected bool         `json:"connected"`
	Streaming bool         `json:"streaming"`
	Stats     *parser.Stats `json:"stats,omitempty"`
}

func toDestinationStates(snapshot []relay.Status) []destinationState {
	out := make([]destinationState, 0, len(snapshot))
	for _, s := range snapshot {
		out = append(out, destinationState{
			ID:        s.DestinationID,
			Name:      s.Name,
			State:     s.State,
			Connected: s.Connected,
			Streaming: s.Streaming,
			Stats:     s.LatestStats,
		})
	}
	return out
}

// StreamStatus reports the supervisor's destination snapshot and the
// ingest endpoint's observed publish path.
func (h *Handler) StreamStatus(w http.ResponseWriter, r *http.Request) {
	ingestStatus := h.Ingest.StatusSnapshot()
	writeJSON(w, http.StatusOK, streamStatusResponse{
		ActualPath:   ingestStatus.ActualPath,
		IngestState:  string(ingestStatus.State),
		Destinations: toDestinationStates(h.Supervisor.StatusSnapshot()),
	})
}

// StreamStart starts every enabled destination.
func (h *Handler) StreamStart(w http.ResponseWriter, r *http.Request) {
	if err := h.Supervisor.StartAll(r.Context()); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, streamActionResponse{Status: "started"})
}

// StreamStop stops every running destination.
func (h *Handler) StreamStop(w http.ResponseWriter, r *http.Request) {
	if err := h.Supervisor.StopAll(); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, streamActionResponse{Status: "stopped"})
}

// StreamConnect opens the ingest listener.
func (h *Handler) StreamConnect(w http.ResponseWriter, r *http.Request) {
	if err := h.Ingest.Start(r.Context()); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, streamActionResponse{Status: "connected"})
}

// StreamDisconnect closes the ingest listener and drops any publisher.
func (h *Handler) StreamDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.Ingest.Stop(); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, streamActionResponse{Status: "disconnected"})
}

type streamActionResponse struct {
	Status string `json:"status"`
}
