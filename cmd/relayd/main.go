// Command relayd starts the RTMP fan-out relay service: the ingest
// endpoint, the relay supervisor, the telemetry bus, and the control API,
// wired together by the Module Registry.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"castrelay/internal/api"
	"castrelay/internal/config"
	"castrelay/internal/ingest"
	"castrelay/internal/observability/logging"
	"castrelay/internal/observability/metrics"
	"castrelay/internal/preflight"
	"castrelay/internal/registry"
	"castrelay/internal/relay"
	"castrelay/internal/telemetry/bus"
	"castrelay/internal/telemetry/parser"
)

const transcoderBinary = "ffmpeg"

func main() {
	configPath := flag.String("config", "", "path to the relay configuration document")
	listenAddr := flag.String("listen", "", "override the control API listen address (host:port)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "json", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{Level: *logLevel, Format: *logFormat})

	resolvedPath := config.ResolvePath(*configPath)
	store := config.NewStore()
	cfg, err := store.Load(resolvedPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err, "path", resolvedPath)
		os.Exit(1)
	}

	uiHost, uiPort := cfg.UI.Host, cfg.UI.Port
	if *listenAddr != "" {
		host, port, perr := splitHostPort(*listenAddr)
		if perr != nil {
			logger.Error("invalid -listen address", "error", perr)
			os.Exit(1)
		}
		uiHost, uiPort = host, port
	}

	preflightCtx, preflightCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := preflight.CheckPorts(preflightCtx, []preflight.Port{
		{Name: "ingest", Host: cfg.Ingest.Host, Port: cfg.Ingest.Port},
		{Name: "control-api", Host: uiHost, Port: uiPort},
	}); err != nil {
		preflightCancel()
		logger.Error("preflight port check failed", "error", err)
		os.Exit(1)
	}
	preflightCancel()

	transcoderReport := preflight.CheckTranscoder(transcoderBinary)
	if !transcoderReport.TranscoderFound {
		logger.Warn("transcoder binary not found on PATH; relay starts will fail until it is installed", "binary", transcoderBinary)
	}

	ingestSrv := ingest.New(cfg.Ingest, logger)
	hub := bus.New(logger)
	supervisor := relay.New(transcoderBinary, ingestSrv.LoopbackURL, logger)
	supervisor.Configure(cfg.Destinations)

	supervisor.OnStatus(func(snapshot []relay.Status) {
		hub.Broadcast(bus.Envelope{Type: "status", Data: snapshot})
	})
	supervisor.OnStats(func(destinationID string, stats *parser.Stats) {
		hub.PublishStats(destinationID, stats)
	})
	supervisor.OnLine(func(destinationID, line string) {
		hub.BroadcastLog("info", line, "relay", destinationID)
	})
	ingestSrv.Subscribe(func(status ingest.Status) {
		hub.Broadcast(bus.Envelope{Type: "ingestStatus", Data: status})
	})

	reg := registry.New()
	mustRegister(reg, "config", func() (registry.Component, error) {
		return newConfigComponent(store, resolvedPath, supervisor, ingestSrv, logger), nil
	}, nil, []string{"config.Store"})
	mustRegister(reg, "ingest", func() (registry.Component, error) { return ingestSrv, nil }, []string{"config"}, []string{"ingest.Server"})
	mustRegister(reg, "relay", func() (registry.Component, error) { return supervisor, nil }, []string{"config"}, []string{"relay.Supervisor"})
	mustRegister(reg, "bus", func() (registry.Component, error) { return hub, nil }, nil, []string{"bus.Hub"})

	handler := api.NewHandler(store, resolvedPath, ingestSrv, supervisor, logger)
	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", api.NewRouter(handler)))
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", metrics.Handler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", uiHost, uiPort),
		Handler: mux,
	}
	mustRegister(reg, "control-api", func() (registry.Component, error) {
		return newHTTPComponent(httpSrv, logger), nil
	}, []string{"config", "ingest", "relay", "bus"}, nil)

	if err := reg.InitializeAll(); err != nil {
		logger.Error("component initialization failed", "error", err)
		os.Exit(1)
	}
	if err := reg.ActivateAll(); err != nil {
		logger.Error("component activation failed", "error", err)
		os.Exit(1)
	}
	logger.Info("relayd started", "ingest_addr", fmt.Sprintf("%s:%d", cfg.Ingest.Host, cfg.Ingest.Port), "control_addr", httpSrv.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()
	logger.Info("shutdown signal received")

	for _, err := range reg.DeactivateAll() {
		logger.Warn("component deactivation error", "error", err)
	}
	for _, err := range reg.DestroyAll() {
		logger.Warn("component destruction error", "error", err)
	}
}

func mustRegister(reg *registry.Registry, name string, factory func() (registry.Component, error), deps, exports []string) {
	if err := reg.Register(name, factory, deps, exports); err != nil {
		panic(err)
	}
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return host, port, nil
}
