package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const cacheTTL = 1 * time.Second

type cacheEntry struct {
	absPath  string
	mtime    time.Time
	cfg      Config
	cachedAt time.Time
}

// Store loads, saves, and watches the persisted configuration document. A
// zero Store is ready to use.
type Store struct {
	mu    sync.Mutex
	cache *cacheEntry
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Load reads, parses, validates, and merges the document at path against the
// built-in default, applying environment overrides afterwards. An absent
// file is treated as defaults. A cache hit -- same absolute path and mtime,
// within the 1s TTL -- returns the cached Config without reparsing.
func (s *Store) Load(path string) (Config, error) {
	path = ResolvePath(path)
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: resolve path: %w", err)
	}

	var mtime time.Time
	info, statErr := os.Stat(absPath)
	if statErr == nil {
		mtime = info.ModTime()
	} else if !os.IsNotExist(statErr) {
		return Config{}, fmt.Errorf("config: stat %s: %w", absPath, statErr)
	}

	s.mu.Lock()
	if s.cache != nil && s.cache.absPath == absPath && s.cache.mtime.Equal(mtime) && time.Since(s.cache.cachedAt) < cacheTTL {
		cfg := s.cache.cfg
		s.mu.Unlock()
		return applyEnvOverrides(cfg), nil
	}
	s.mu.Unlock()

	base := documentFromDefault(Default())
	var raw []byte
	if statErr == nil {
		raw, err = os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", absPath, err)
		}
	}
	doc, err := parseDocument(raw, base)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", absPath, err)
	}
	cfg := doc.toConfig()

	s.mu.Lock()
	s.cache = &cacheEntry{absPath: absPath, mtime: mtime, cfg: cfg, cachedAt: time.Now()}
	s.mu.Unlock()

	return applyEnvOverrides(cfg), nil
}

// Save writes cfg to path atomically (temp file + rename) and invalidates
// the cache so the next Load reparses. The containing directory is created
// if absent.
func (s *Store) Save(cfg Config, path string) error {
	path = ResolvePath(path)
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: resolve path: %w", err)
	}
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}

	doc := documentFromDefault(cfg)
	raw, err := marshalDocument(doc)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, absPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("config: rename temp file: %w", err)
	}

	s.mu.Lock()
	s.cache = nil
	s.mu.Unlock()
	return nil
}

// Watch monitors path for changes (fsnotify events on its directory, with a
// 1s polling fallback for filesystems where events are unreliable) and
// invokes callback with the freshly loaded Config whenever the file's mtime
// changes. Watch blocks until stop is closed.
func (s *Store) Watch(path string, callback func(Config, error), stop <-chan struct{}) error {
	path = ResolvePath(path)
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(absPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	var lastMtime time.Time
	if info, err := os.Stat(absPath); err == nil {
		lastMtime = info.ModTime()
	}

	checkAndReload := func() {
		info, err := os.Stat(absPath)
		var mtime time.Time
		if err == nil {
			mtime = info.ModTime()
		}
		if mtime.Equal(lastMtime) {
			return
		}
		lastMtime = mtime
		cfg, err := s.Load(absPath)
		callback(cfg, err)
	}

	ticker := time.NewTicker(cacheTTL)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) == absPath {
				checkAndReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				callback(Config{}, err)
			}
		case <-ticker.C:
			checkAndReload()
		}
	}
}

// ResolvePath applies the CONFIG_PATH environment override and falls back to
// the supplied path (or a sane default) when unset.
func ResolvePath(path string) string {
	if override := os.Getenv("CONFIG_PATH"); override != "" {
		return override
	}
	if path == "" {
		return "config.yaml"
	}
	return path
}
