package main

import (
	"context"
	"log/slog"
	"sync"

	"castrelay/internal/config"
	"castrelay/internal/ingest"
	"castrelay/internal/relay"
)

// configComponent adapts the Configuration Store to the Module Registry's
// lifecycle: Initialize performs the first load (surfacing a malformed
// document as a fatal startup error), Activate starts the fsnotify/poll
// watcher described in the Configuration Store's design, applying every
// externally-made change to the supervisor's destination table and
// restarting the ingest listener when its identifying fields changed --
// the same reconfiguration the control API applies for in-process edits.
type configComponent struct {
	store      *config.Store
	path       string
	supervisor *relay.Supervisor
	ingestSrv  *ingest.Server
	logger     *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	lastCfg config.Config
}

func newConfigComponent(store *config.Store, path string, supervisor *relay.Supervisor, ingestSrv *ingest.Server, logger *slog.Logger) *configComponent {
	if logger == nil {
		logger = slog.Default()
	}
	return &configComponent{
		store:      store,
		path:       path,
		supervisor: supervisor,
		ingestSrv:  ingestSrv,
		logger:     logger.With("component", "config_watch"),
	}
}

func (c *configComponent) Initialize() error {
	cfg, err := c.store.Load(c.path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.lastCfg = cfg
	c.mu.Unlock()
	return nil
}

func (c *configComponent) Activate() error {
	c.stop = make(chan struct{})
	go func() {
		if err := c.store.Watch(c.path, c.onChange, c.stop); err != nil {
			c.logger.Warn("config watch stopped", "error", err)
		}
	}()
	return nil
}

func (c *configComponent) onChange(cfg config.Config, err error) {
	if err != nil {
		c.logger.Warn("configuration reload failed", "error", err)
		return
	}

	c.mu.Lock()
	previous := c.lastCfg
	c.lastCfg = cfg
	c.mu.Unlock()

	c.logger.Info("configuration reloaded from disk", "path", c.path)
	c.supervisor.Configure(cfg.Destinations)

	identityChanged := previous.Ingest.Host != cfg.Ingest.Host ||
		previous.Ingest.Port != cfg.Ingest.Port ||
		previous.Ingest.App != cfg.Ingest.App ||
		previous.Ingest.StreamKey != cfg.Ingest.StreamKey
	if !identityChanged {
		return
	}
	if err := c.ingestSrv.Stop(); err != nil {
		c.logger.Warn("ingest restart: stop failed", "error", err)
	}
	if err := c.ingestSrv.Start(context.Background()); err != nil {
		c.logger.Warn("ingest restart: start failed", "error", err)
	}
}

func (c *configComponent) Deactivate() error {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	return nil
}

func (c *configComponent) Destroy() error { return nil }
