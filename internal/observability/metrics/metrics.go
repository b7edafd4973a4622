// Package metrics instruments the control API, the ingest listener, and the
// relay supervisor with Prometheus collectors, adapted from the teacher's
// own in-process Recorder (method-shaped API, a process-wide default
// instance, an HTTP handler for scraping) but backed by
// github.com/prometheus/client_golang rather than a hand-rolled text
// exporter, matching the pack's wider convention of instrumenting services
// with the official client library.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder aggregates every Prometheus collector this service exposes. A
// fresh Recorder registers against its own registry so tests never collide
// with the process-wide Default().
type Recorder struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	sessionsActive  prometheus.Gauge
	destinationEvts *prometheus.CounterVec

	ingestPublish *prometheus.CounterVec

	telemetryMessages prometheus.Counter

	busClients prometheus.Gauge
}

var defaultRecorder = New()

// New constructs a Recorder with its own private registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	return &Recorder{
		registry: reg,
		httpRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests processed by the control API.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		sessionsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "relay_destination_sessions_active",
			Help: "Current number of running relay child processes across all destinations.",
		}),
		destinationEvts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "relay_destination_events_total",
			Help: "Relay destination lifecycle events by destination and event type.",
		}, []string{"destination", "event"}),
		ingestPublish: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "relay_ingest_publish_total",
			Help: "Ingest publish attempts by result (accepted, rejected).",
		}, []string{"result"}),
		telemetryMessages: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "relay_telemetry_messages_total",
			Help: "Total telemetry bus envelopes broadcast to connected clients.",
		}),
		busClients: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "relay_telemetry_bus_clients",
			Help: "Current number of connected telemetry bus WebSocket clients.",
		}),
	}
}

// Default returns the process-wide Recorder shared by package-level helpers.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest records an HTTP request's outcome and latency.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": strings.ToUpper(method),
		"path":   normalizePath(path),
		"status": statusLabel(status),
	}
	r.httpRequests.With(labels).Inc()
	r.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// SessionStarted records a destination's relay child starting and
// increments the active session gauge.
func (r *Recorder) SessionStarted(destination string) {
	r.destinationEvts.WithLabelValues(normalizeName(destination), "start").Inc()
	r.sessionsActive.Inc()
}

// SessionStopped records a destination's relay child stopping and
// decrements the active session gauge.
func (r *Recorder) SessionStopped(destination string) {
	r.destinationEvts.WithLabelValues(normalizeName(destination), "stop").Inc()
	r.sessionsActive.Dec()
}

// SessionChildExited records a destination's relay child exiting on its own
// (crash or upstream disconnect) without an explicit Stop call, without
// touching the active-session gauge (the supervisor already removed the
// session from its table before this is called).
func (r *Recorder) SessionChildExited(destination string, failed bool) {
	event := "exit"
	if failed {
		event = "crash"
	}
	r.destinationEvts.WithLabelValues(normalizeName(destination), event).Inc()
}

// PublishAccepted records an ingest publish that passed stream-key
// validation.
func (r *Recorder) PublishAccepted() {
	r.ingestPublish.WithLabelValues("accepted").Inc()
}

// PublishRejected records an ingest publish rejected at prePublish.
func (r *Recorder) PublishRejected() {
	r.ingestPublish.WithLabelValues("rejected").Inc()
}

// TelemetryMessageBroadcast records one telemetry bus envelope delivered to
// the client table (counted once per broadcast, not once per recipient).
func (r *Recorder) TelemetryMessageBroadcast() {
	r.telemetryMessages.Inc()
}

// SetBusClients sets the current connected telemetry bus client count.
func (r *Recorder) SetBusClients(count int) {
	r.busClients.Set(float64(count))
}

// Handler exposes the Recorder's registry for Prometheus scraping.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// SessionStarted records a relay start on the default recorder.
func SessionStarted(destination string) { defaultRecorder.SessionStarted(destination) }

// SessionStopped records a relay stop on the default recorder.
func SessionStopped(destination string) { defaultRecorder.SessionStopped(destination) }

// SessionChildExited records a relay child exit on the default recorder.
func SessionChildExited(destination string, failed bool) {
	defaultRecorder.SessionChildExited(destination, failed)
}

// PublishAccepted records an accepted ingest publish on the default recorder.
func PublishAccepted() { defaultRecorder.PublishAccepted() }

// PublishRejected records a rejected ingest publish on the default recorder.
func PublishRejected() { defaultRecorder.PublishRejected() }

// TelemetryMessageBroadcast records a telemetry bus broadcast on the default
// recorder.
func TelemetryMessageBroadcast() { defaultRecorder.TelemetryMessageBroadcast() }

// SetBusClients sets the connected telemetry bus client count on the
// default recorder.
func SetBusClients(count int) { defaultRecorder.SetBusClients(count) }

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	if digitCount == 0 {
		return false
	}
	return len(segment) >= 8 || digitCount >= 3
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
