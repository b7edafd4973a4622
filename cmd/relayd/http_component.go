package main

import (
	"context"
	"log/slog"
	"net/http"

	"castrelay/internal/serverutil"
)

// httpComponent adapts the control API's *http.Server to the Module
// Registry's lifecycle: Activate starts serverutil.Run in a background
// goroutine, Deactivate cancels its context and waits for the graceful
// shutdown it performs internally.
type httpComponent struct {
	server *http.Server
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan error
}

func newHTTPComponent(server *http.Server, logger *slog.Logger) *httpComponent {
	return &httpComponent{server: server, logger: logger}
}

func (c *httpComponent) Initialize() error { return nil }

func (c *httpComponent) Activate() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan error, 1)
	go func() {
		c.done <- serverutil.Run(ctx, serverutil.Config{Server: c.server})
	}()
	return nil
}

func (c *httpComponent) Deactivate() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	return <-c.done
}

func (c *httpComponent) Destroy() error { return nil }
