package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"castrelay/internal/config"
	"castrelay/internal/ingest"
	"castrelay/internal/relay"
)

func newTestHandler(t *testing.T) (*Handler, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	store := config.NewStore()
	cfg := config.Default()
	cfg.Ingest.Port = 19351
	cfg.Destinations = []config.Destination{
		{ID: "dest-1", Name: "twitch", URL: "rtmps://example.invalid/app", StreamKey: "sk_abcdef1234", Enabled: true},
	}
	if err := store.Save(cfg, path); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	ingestSrv := ingest.New(cfg.Ingest, nil)
	supervisor := relay.New("sh", func() string { return "" }, nil)
	supervisor.Configure(cfg.Destinations)

	return NewHandler(store, path, ingestSrv, supervisor, nil), path
}

func TestHealthReturnsOK(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
}

func TestListPlatformsMasksStreamKey(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/platforms")
	if err != nil {
		t.Fatalf("GET /platforms: %v", err)
	}
	defer res.Body.Close()

	var views []platformView
	if err := json.NewDecoder(res.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("len(views) = %d, want 1", len(views))
	}
	if views[0].StreamKey == "sk_abcdef1234" {
		t.Fatal("stream key was not masked")
	}
	if views[0].StreamKey != "****1234" {
		t.Fatalf("stream key = %q, want ****1234", views[0].StreamKey)
	}
}

func TestConnectPlatformRejectsInvalidID(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	res, err := http.Post(srv.URL+"/platforms/bad id!/connect", "application/json", nil)
	if err != nil {
		t.Fatalf("POST connect: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestConnectPlatformUnknownDestinationReturnsNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	res, err := http.Post(srv.URL+"/platforms/does-not-exist/connect", "application/json", nil)
	if err != nil {
		t.Fatalf("POST connect: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
	var body errorResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error == "" {
		t.Fatal("expected a non-empty error summary")
	}
}

func TestPostConfigValidatesBeforePersisting(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	bad := configPayload{Ingest: ingestPayload{Port: -1, App: ""}}
	raw, _ := json.Marshal(bad)

	res, err := http.Post(srv.URL+"/config", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST /config: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
	var body errorResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Details) == 0 {
		t.Fatal("expected structured field-level details")
	}
}

func TestPostConfigPersistsAndMasksResponse(t *testing.T) {
	h, path := newTestHandler(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	good := configPayload{
		Version: "1",
		Ingest:  ingestPayload{Host: "0.0.0.0", Port: 19352, App: "live", StreamKey: "topsecret", Enabled: true},
		Destinations: []destinationPayload{
			{ID: "dest-1", Name: "twitch", URL: "rtmps://example.invalid/app", StreamKey: "sk_newkey123", Enabled: true},
		},
	}
	raw, _ := json.Marshal(good)

	res, err := http.Post(srv.URL+"/config", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST /config: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	var got configPayload
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Destinations[0].StreamKey == "sk_newkey123" {
		t.Fatal("response should mask stream key by default")
	}

	persisted, err := h.Store.Load(path)
	if err != nil {
		t.Fatalf("reload persisted config: %v", err)
	}
	if persisted.Ingest.Port != 19352 {
		t.Fatalf("persisted ingest port = %d, want 19352", persisted.Ingest.Port)
	}
}

func TestGetConfigIncludeKeysUnmasks(t *testing.T) {
	h, _ := newTestHandler(t)
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/config?includeKeys=true")
	if err != nil {
		t.Fatalf("GET /config: %v", err)
	}
	defer res.Body.Close()

	var got configPayload
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Destinations[0].StreamKey != "sk_abcdef1234" {
		t.Fatalf("stream key = %q, want unmasked", got.Destinations[0].StreamKey)
	}
}
