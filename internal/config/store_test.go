package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAbsentFileReturnsDefaults(t *testing.T) {
	store := NewStore()
	cfg, err := store.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ingest.Port != 1935 {
		t.Fatalf("ingest port = %d, want default 1935", cfg.Ingest.Port)
	}
}

func TestLoadAcceptsSnakeAndCamelCase(t *testing.T) {
	snake := `
version: "2"
stream_manager:
  rtmp_server: {host: "0.0.0.0", port: 1935, app_name: "live", stream_key: "obs", enabled: true}
  platforms:
    - {name: "twitch", rtmp_url: "rtmp://live.twitch.tv/app", stream_key: "abc", enabled: true}
ui: {host: "127.0.0.1", port: 9090, debug: false}
`
	camel := `
version: "2"
streamManager:
  rtmpServer: {host: "0.0.0.0", port: 1935, appName: "live", streamKey: "obs", enabled: true}
  platforms:
    - {name: "twitch", rtmpUrl: "rtmp://live.twitch.tv/app", streamKey: "abc", enabled: true}
ui: {host: "127.0.0.1", port: 9090, debug: false}
`
	dir := t.TempDir()
	for name, content := range map[string]string{"snake.yaml": snake, "camel.yaml": camel} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		store := NewStore()
		cfg, err := store.Load(path)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		if cfg.UI.Port != 9090 {
			t.Fatalf("%s: ui port = %d, want 9090", name, cfg.UI.Port)
		}
		if len(cfg.Destinations) != 1 || cfg.Destinations[0].Name != "twitch" {
			t.Fatalf("%s: destinations = %+v", name, cfg.Destinations)
		}
		if cfg.Destinations[0].ID == "" {
			t.Fatalf("%s: expected auto-generated id", name)
		}
	}
}

func TestLoadFiltersDestinationsMissingURLOrKey(t *testing.T) {
	content := `
stream_manager:
  platforms:
    - {name: "a", rtmp_url: "rtmp://x/app", stream_key: "k", enabled: true}
    - {name: "b", rtmp_url: "", stream_key: "k", enabled: true}
    - {name: "c", rtmp_url: "rtmp://x/app", stream_key: "", enabled: true}
`
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	store := NewStore()
	cfg, err := store.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Destinations) != 1 || cfg.Destinations[0].Name != "a" {
		t.Fatalf("destinations = %+v, want only [a]", cfg.Destinations)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cfg.yaml")
	cfg := Default()
	cfg.Destinations = []Destination{
		{ID: "a", Name: "twitch", URL: "rtmp://live.twitch.tv/app", StreamKey: "sk_abc", Enabled: true},
	}
	store := NewStore()
	if err := store.Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Destinations) != 1 || loaded.Destinations[0].StreamKey != "sk_abc" {
		t.Fatalf("round-tripped destinations = %+v", loaded.Destinations)
	}
}

func TestLoadCachesWithinTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	store := NewStore()
	if err := store.Save(Default(), path); err != nil {
		t.Fatal(err)
	}
	first, err := store.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	before, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	// Mutate the file on disk without going through Save/cache invalidation,
	// restoring its mtime so the (path, mtime) cache key is unchanged; a cache
	// hit within the TTL must not observe this change.
	if err := os.WriteFile(path, []byte("version: \"999\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, before.ModTime(), before.ModTime()); err != nil {
		t.Fatal(err)
	}
	second, err := store.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if second.Version != first.Version {
		t.Fatalf("cache hit should have returned identical config, got version %q vs %q", second.Version, first.Version)
	}
}

func TestEnvOverridesApplyAtLoad(t *testing.T) {
	t.Setenv("UI_PORT", "7777")
	t.Setenv("OBS_PASSWORD", "secret")
	store := NewStore()
	cfg, err := store.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.UI.Port != 7777 {
		t.Fatalf("ui port = %d, want 7777", cfg.UI.Port)
	}
	if cfg.OBS.Password != "secret" {
		t.Fatalf("obs password = %q, want secret", cfg.OBS.Password)
	}
}

func TestWatchInvokesCallbackOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	store := NewStore()
	if err := store.Save(Default(), path); err != nil {
		t.Fatal(err)
	}

	results := make(chan Config, 4)
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.Watch(path, func(cfg Config, err error) {
			if err == nil {
				results <- cfg
			}
		}, stop)
	}()

	time.Sleep(50 * time.Millisecond)
	updated := Default()
	updated.Version = "changed"
	if err := store.Save(updated, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-results:
		if cfg.Version != "changed" {
			t.Fatalf("watch callback version = %q, want changed", cfg.Version)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for watch callback")
	}

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
