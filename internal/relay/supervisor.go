// Package relay is the Relay Supervisor: it owns one child transcoder
// process per enabled destination, stream-copying the ingest's loopback
// output out to each destination's publish URL, and keeps each
// destination's state fully independent of the others.
package relay

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"

	"golang.org/x/sync/errgroup"

	"castrelay/internal/config"
	"castrelay/internal/observability/metrics"
	"castrelay/internal/relayerr"
	"castrelay/internal/telemetry/parser"
)

// Status is the per-destination projection returned by StatusSnapshot.
type Status struct {
	DestinationID string
	Name          string
	State         string // "streaming", "connected", or "idle"
	Connected     bool
	Streaming     bool
	LatestStats   *parser.Stats
}

// InputURLFunc supplies the loopback RTMP URL a child should read from; it
// is resolved at spawn time so it always reflects the ingest's current
// actual publish path.
type InputURLFunc func() string

// Supervisor maintains the destination table and one RelaySession per
// started destination, keyed exclusively by destination id.
type Supervisor struct {
	mu           sync.Mutex
	byID         map[string]config.Destination
	byName       map[string]config.Destination
	order        []string
	sessions     map[string]*RelaySession
	starting     map[string]struct{}
	binary       string
	inputURL     InputURLFunc
	logger       *slog.Logger
	onLine       func(destinationID string, line string)
	onStats      func(destinationID string, stats *parser.Stats)
	onStatus     func(snapshot []Status)
}

// New constructs a Supervisor. binary is the transcoder executable name
// looked up on PATH (e.g. "ffmpeg"); inputURL supplies the loopback source
// URL at spawn time.
func New(binary string, inputURL InputURLFunc, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		byID:     make(map[string]config.Destination),
		byName:   make(map[string]config.Destination),
		sessions: make(map[string]*RelaySession),
		starting: make(map[string]struct{}),
		binary:   binary,
		inputURL: inputURL,
		logger:   logger.With("component", "relay"),
	}
}

// Initialize performs no I/O; the supervisor has no resources to acquire
// until destinations are started.
func (s *Supervisor) Initialize() error { return nil }

// Activate is a no-op: relay children are spawned on demand via Start, not
// at component activation.
func (s *Supervisor) Activate() error { return nil }

// Deactivate stops every running destination.
func (s *Supervisor) Deactivate() error {
	return s.StopAll()
}

// Destroy releases no further resources beyond Deactivate.
func (s *Supervisor) Destroy() error { return nil }

// OnLine registers a callback invoked for every stderr/stdout line a child
// produces, tagged with its destination id; intended for feeding §4.6.
func (s *Supervisor) OnLine(cb func(destinationID, line string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLine = cb
}

// OnStats registers a callback invoked whenever a destination's stderr
// yields a freshly parsed statistics sample.
func (s *Supervisor) OnStats(cb func(destinationID string, stats *parser.Stats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStats = cb
}

// OnStatus registers a callback invoked with a fresh snapshot whenever a
// destination's status may have changed.
func (s *Supervisor) OnStatus(cb func(snapshot []Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = cb
}

// Configure replaces the destination table and rebuilds the (id|name)
// lookup. Destinations that no longer appear keep any already-running
// session; callers that want those stopped must do so explicitly.
func (s *Supervisor) Configure(destinations []config.Destination) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]config.Destination, len(destinations))
	s.byName = make(map[string]config.Destination, len(destinations))
	s.order = s.order[:0]
	for _, d := range destinations {
		s.byID[d.ID] = d
		s.byName[d.Name] = d
		s.order = append(s.order, d.ID)
	}
}

func (s *Supervisor) resolveLocked(idOrName string) (config.Destination, bool) {
	if d, ok := s.byID[idOrName]; ok {
		return d, true
	}
	if d, ok := s.byName[idOrName]; ok {
		return d, true
	}
	return config.Destination{}, false
}

// Start locates destinationIdOrName and spawns its relay child. Starting an
// already-started destination is a no-op. Starting a disabled or unknown
// destination is an error.
func (s *Supervisor) Start(ctx context.Context, destinationIdOrName string) error {
	s.mu.Lock()
	dest, ok := s.resolveLocked(destinationIdOrName)
	if !ok {
		s.mu.Unlock()
		return relayerr.Newf(relayerr.NotFound, "relay: unknown destination %q", destinationIdOrName)
	}
	if _, running := s.sessions[dest.ID]; running {
		s.mu.Unlock()
		return nil
	}
	if _, pending := s.starting[dest.ID]; pending {
		s.mu.Unlock()
		return nil
	}
	if !dest.Enabled {
		s.mu.Unlock()
		return relayerr.Newf(relayerr.StateMismatch, "relay: destination %q is disabled", dest.Name)
	}
	s.starting[dest.ID] = struct{}{}
	binary := s.binary
	inputURL := s.inputURL
	onLine := s.onLine
	onStats := s.onStats
	s.mu.Unlock()

	clearPending := func() {
		s.mu.Lock()
		delete(s.starting, dest.ID)
		s.mu.Unlock()
	}

	if _, err := exec.LookPath(binary); err != nil {
		clearPending()
		return relayerr.Newf(relayerr.TranscoderMissing, "relay: %s not found on PATH; install it and ensure it is on PATH", binary)
	}

	outputURL, err := composeDestinationURL(dest)
	if err != nil {
		clearPending()
		return relayerr.New(relayerr.ConfigInvalid, err.Error())
	}
	args := buildArgs(inputURL(), outputURL, isRTMPS(dest))

	lineCallback := func(line string) {
		if onLine != nil {
			onLine(dest.ID, line)
		}
	}
	statsCallback := func(stats *parser.Stats) {
		if onStats != nil {
			onStats(dest.ID, stats)
		}
	}
	sess, err := newRelaySession(context.WithoutCancel(ctx), dest.ID, binary, args, lineCallback, statsCallback)
	if err != nil {
		clearPending()
		return relayerr.Newf(relayerr.ChildExit, "relay: spawn %s: %v", binary, err)
	}

	s.mu.Lock()
	s.sessions[dest.ID] = sess
	delete(s.starting, dest.ID)
	s.mu.Unlock()

	s.logger.Info("relay session started", "destination", dest.Name, "id", dest.ID)
	metrics.SessionStarted(dest.ID)
	go s.awaitExit(dest.ID, sess)
	s.broadcastStatus()
	return nil
}

func (s *Supervisor) awaitExit(destinationID string, sess *RelaySession) {
	err := sess.cmd.Wait()
	close(sess.done)

	s.mu.Lock()
	current, stillTracked := s.sessions[destinationID]
	if stillTracked && current == sess {
		delete(s.sessions, destinationID)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("relay child exited with error", "destination", destinationID, "error", err)
	} else {
		s.logger.Info("relay child exited", "destination", destinationID)
	}
	if stillTracked {
		metrics.SessionChildExited(destinationID, err != nil)
		s.broadcastStatus()
	}
}

// Stop removes destinationIdOrName's session from the table before
// signaling the child to terminate, so a subsequent StatusSnapshot reflects
// idle immediately regardless of how long the child takes to exit. Stop is
// safe to call for an already-stopped destination.
func (s *Supervisor) Stop(destinationIdOrName string) error {
	s.mu.Lock()
	dest, ok := s.resolveLocked(destinationIdOrName)
	id := destinationIdOrName
	if ok {
		id = dest.ID
	}
	sess, running := s.sessions[id]
	if running {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !running {
		return nil
	}
	s.logger.Info("relay session stopped", "destination", id)
	metrics.SessionStopped(id)
	s.broadcastStatus()
	sess.cancel()
	return nil
}

// StartAll starts every enabled, configured destination concurrently.
func (s *Supervisor) StartAll(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if s.byID[id].Enabled {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return s.Start(ctx, id)
		})
	}
	return g.Wait()
}

// StopAll stops every currently running destination concurrently.
func (s *Supervisor) StopAll() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return s.Stop(id)
		})
	}
	return g.Wait()
}

// StatusSnapshot projects each configured destination's status per the
// rules in 4.4.3: the supervisor's own flags always win over how long a
// child takes to actually exit.
func (s *Supervisor) StatusSnapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.order))
	for _, id := range s.order {
		dest := s.byID[id]
		sess, running := s.sessions[id]
		st := Status{DestinationID: id, Name: dest.Name}
		if !running {
			st.State = "idle"
			out = append(out, st)
			continue
		}
		connected, streaming, stats := sess.snapshot()
		st.Connected = connected
		st.Streaming = streaming
		st.LatestStats = stats
		switch {
		case !streaming && !connected:
			st.State = "idle"
		case sess.alive() && streaming:
			st.State = "streaming"
		case sess.alive() && connected:
			st.State = "connected"
		default:
			st.State = "idle"
		}
		out = append(out, st)
	}
	return out
}

func (s *Supervisor) broadcastStatus() {
	s.mu.Lock()
	cb := s.onStatus
	s.mu.Unlock()
	if cb == nil {
		return
	}
	cb(s.StatusSnapshot())
}
