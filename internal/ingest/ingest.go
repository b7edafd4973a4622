// Package ingest accepts a single inbound RTMP publish, enforces the
// configured stream key, and serves the live stream back out over the same
// listener to loopback consumers (the relay supervisor's child processes).
// It does not re-emit media to the outside world itself.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"castrelay/internal/config"
	"castrelay/internal/ingest/rtmp/amf"
	"castrelay/internal/ingest/rtmp/chunk"
	"castrelay/internal/ingest/rtmp/handshake"
	"castrelay/internal/observability/metrics"
	"castrelay/internal/relayerr"
)

// State is the publish state of the ingest endpoint.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
)

// Status is the snapshot delivered to subscribers and to the control API.
type Status struct {
	State      State
	ActualPath string
}

const (
	videoCSID = 6
	audioCSID = 7
	mediaSID  = 1
)

// Server is the RTMP ingest endpoint.
type Server struct {
	mu     sync.Mutex
	cfg    config.Ingest
	logger *slog.Logger

	listener net.Listener
	state    State
	actualPath string
	publisher  *session
	players    map[*session]struct{}

	lastVideoSeqHeader []byte
	lastAudioSeqHeader []byte

	subs      map[int]func(Status)
	nextSubID int
}

type session struct {
	conn   net.Conn
	writer *chunk.Writer
}

// New constructs an ingest server for cfg; it does not bind a listener.
func New(cfg config.Ingest, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.With("component", "ingest"),
		state:   StateIdle,
		players: make(map[*session]struct{}),
		subs:    make(map[int]func(Status)),
	}
}

// Start binds the listener and begins accepting connections. Calling Start
// on an already-started server is a no-op (idempotent).
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return nil
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return relayerr.New(relayerr.PortUnavailable, fmt.Sprintf("ingest: listen on %s: %v", addr, err))
	}
	s.listener = ln
	s.mu.Unlock()

	go s.acceptLoop(ctx)
	s.logger.Info("ingest listening", "addr", addr)
	return nil
}

// Initialize validates configuration; it performs no I/O.
func (s *Server) Initialize() error {
	if s.cfg.Port <= 0 {
		return relayerr.New(relayerr.ConfigInvalid, "ingest: port must be positive")
	}
	return nil
}

// Activate satisfies registry.Component by binding the listener.
func (s *Server) Activate() error {
	return s.Start(context.Background())
}

// Deactivate satisfies registry.Component by closing the listener.
func (s *Server) Deactivate() error {
	return s.Stop()
}

// Destroy releases any remaining resources; Stop already does so.
func (s *Server) Destroy() error {
	return nil
}

// Stop closes the listener and all connected sessions.
func (s *Server) Stop() error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	publisher := s.publisher
	players := s.players
	s.players = make(map[*session]struct{})
	s.publisher = nil
	s.state = StateIdle
	s.actualPath = ""
	s.mu.Unlock()

	if publisher != nil {
		publisher.conn.Close()
	}
	for p := range players {
		p.conn.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if s.listenerClosed() {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) listenerClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener == nil
}

// Subscribe registers a status callback invoked serially on the ingest
// event goroutine; it returns a subscription id usable with Unsubscribe.
// Callbacks MUST NOT block.
func (s *Server) Subscribe(cb func(Status)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = cb
	return id
}

// Unsubscribe removes a previously registered status callback.
func (s *Server) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// StatusSnapshot returns the current publish state.
func (s *Server) StatusSnapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{State: s.state, ActualPath: s.actualPath}
}

// GetStreamPath returns the actually-observed publish path if a publisher
// is connected, otherwise the configured default path.
func (s *Server) GetStreamPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actualPath != "" {
		return s.actualPath
	}
	return fmt.Sprintf("%s/%s", s.cfg.App, s.cfg.StreamKey)
}

// LoopbackURL returns the rtmp:// URL a child process on this host should
// use to pull the currently-publishing stream.
func (s *Server) LoopbackURL() string {
	return fmt.Sprintf("rtmp://%s:%d/%s", LoopbackHost(s.cfg.Host), s.cfg.Port, s.GetStreamPath())
}

// LoopbackHost rewrites the wildcard bind address 0.0.0.0 to "loopback" so
// that publishers and spawned children can address this host's listener
// over the local interface.
func LoopbackHost(host string) string {
	if host == "0.0.0.0" || host == "" {
		return "loopback"
	}
	return host
}

func (s *Server) notify(status Status) {
	s.mu.Lock()
	callbacks := make([]func(Status), 0, len(s.subs))
	for _, cb := range s.subs {
		callbacks = append(callbacks, cb)
	}
	s.mu.Unlock()
	for _, cb := range callbacks {
		cb(status)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	s.logger.Debug("pre-connect", "remote", conn.RemoteAddr())

	warning, err := handshake.Accept(conn)
	if err != nil {
		s.logger.Debug("handshake failed", "error", err)
		return
	}
	if warning != "" {
		s.logger.Debug("handshake warning", "warning", warning)
	}

	r := chunk.NewReader(conn)
	w := chunk.NewWriter(conn)
	sess := &session{conn: conn, writer: w}

	for {
		msg, err := r.ReadMessage()
		if err != nil {
			s.handleDisconnect(sess)
			return
		}
		switch msg.TypeID {
		case chunk.TypeAMF0Command:
			s.handleCommand(sess, msg)
		case chunk.TypeAudio:
			s.handleMedia(sess, msg, true)
		case chunk.TypeVideo:
			s.handleMedia(sess, msg, false)
		}
	}
}

func (s *Server) handleCommand(sess *session, msg *chunk.Message) {
	values, err := amf.DecodeAll(msg.Payload)
	if err != nil || len(values) == 0 {
		return
	}
	name, _ := values[0].(string)
	var txID float64
	if len(values) > 1 {
		txID, _ = values[1].(float64)
	}

	switch name {
	case "connect":
		s.replyConnectSuccess(sess, txID)
	case "createStream":
		s.replyCreateStream(sess, txID)
	case "publish":
		path := stringArg(values, 3)
		s.handlePublish(sess, path)
	case "play":
		path := stringArg(values, 3)
		s.handlePlay(sess, path)
	case "deleteStream", "FCUnpublish", "closeStream":
		s.handleDonePublish(sess)
	}
}

func stringArg(values []any, index int) string {
	if index < 0 || index >= len(values) {
		return ""
	}
	v, _ := values[index].(string)
	return v
}

func (s *Server) replyConnectSuccess(sess *session, txID float64) {
	payload, err := amf.EncodeAll(
		"_result", txID,
		map[string]any{"fmsVer": "FMS/3,5,7,7009", "capabilities": float64(31)},
		map[string]any{"level": "status", "code": "NetConnection.Connect.Success", "description": "Connection succeeded."},
	)
	if err != nil {
		return
	}
	_ = sess.writer.WriteMessage(3, chunk.TypeAMF0Command, 0, 0, payload)
}

func (s *Server) replyCreateStream(sess *session, txID float64) {
	payload, err := amf.EncodeAll("_result", txID, nil, float64(mediaSID))
	if err != nil {
		return
	}
	_ = sess.writer.WriteMessage(3, chunk.TypeAMF0Command, 0, 0, payload)
}

func (s *Server) replyOnStatus(sess *session, code, description string) {
	payload, err := amf.EncodeAll("onStatus", float64(0), nil, map[string]any{
		"level":       "status",
		"code":        code,
		"description": description,
	})
	if err != nil {
		return
	}
	_ = sess.writer.WriteMessage(5, chunk.TypeAMF0Command, 0, mediaSID, payload)
}

// handlePublish is onPrePublish/onPostPublish fused: it validates the
// trailing stream-key segment, then on success records the publisher and
// transitions to STREAMING.
func (s *Server) handlePublish(sess *session, path string) {
	s.mu.Lock()
	s.state = StateConnecting
	expectedKey := s.cfg.StreamKey
	s.mu.Unlock()

	if expectedKey != "" && trailingSegment(path) != expectedKey {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		s.logger.Warn("rejecting publish: stream key mismatch", "path", path)
		metrics.PublishRejected()
		s.replyOnStatus(sess, "NetStream.Publish.BadName", "stream key rejected")
		return
	}

	s.mu.Lock()
	s.publisher = sess
	s.actualPath = path
	s.state = StateStreaming
	s.lastVideoSeqHeader = nil
	s.lastAudioSeqHeader = nil
	s.mu.Unlock()

	metrics.PublishAccepted()
	s.logger.Info("publish accepted", "path", path)
	s.replyOnStatus(sess, "NetStream.Publish.Start", "publish accepted")
	s.notify(Status{State: StateStreaming, ActualPath: path})
}

func (s *Server) handlePlay(sess *session, path string) {
	s.mu.Lock()
	s.players[sess] = struct{}{}
	videoHeader := s.lastVideoSeqHeader
	audioHeader := s.lastAudioSeqHeader
	s.mu.Unlock()

	s.logger.Debug("play requested", "path", path)
	s.replyOnStatus(sess, "NetStream.Play.Start", "playback started")

	if audioHeader != nil {
		_ = sess.writer.WriteMessage(audioCSID, chunk.TypeAudio, 0, mediaSID, audioHeader)
	}
	if videoHeader != nil {
		_ = sess.writer.WriteMessage(videoCSID, chunk.TypeVideo, 0, mediaSID, videoHeader)
	}
}

func (s *Server) handleMedia(sess *session, msg *chunk.Message, isAudio bool) {
	s.mu.Lock()
	isPublisher := sess == s.publisher
	if isPublisher {
		if isAudio && isSequenceHeader(msg.Payload, true) {
			s.lastAudioSeqHeader = append([]byte(nil), msg.Payload...)
		}
		if !isAudio && isSequenceHeader(msg.Payload, false) {
			s.lastVideoSeqHeader = append([]byte(nil), msg.Payload...)
		}
	}
	players := make([]*session, 0, len(s.players))
	for p := range s.players {
		players = append(players, p)
	}
	s.mu.Unlock()

	if !isPublisher {
		return
	}
	csid := uint32(videoCSID)
	typeID := chunk.TypeVideo
	if isAudio {
		csid = audioCSID
		typeID = chunk.TypeAudio
	}
	for _, p := range players {
		if err := p.writer.WriteMessage(csid, typeID, msg.Timestamp, mediaSID, msg.Payload); err != nil {
			s.removePlayer(p)
		}
	}
}

// isSequenceHeader recognizes the AAC/AVC decoder-configuration records
// that a late-joining player needs replayed before any subsequent frame can
// be decoded.
func isSequenceHeader(payload []byte, isAudio bool) bool {
	if isAudio {
		return len(payload) >= 2 && payload[0]>>4 == 10 && payload[1] == 0 // SoundFormat AAC, AACPacketType 0
	}
	return len(payload) >= 2 && payload[0]&0x0F == 7 && payload[1] == 0 // CodecID AVC, AVCPacketType 0
}

func trailingSegment(path string) string {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func (s *Server) removePlayer(sess *session) {
	s.mu.Lock()
	delete(s.players, sess)
	s.mu.Unlock()
	sess.conn.Close()
}

func (s *Server) handleDisconnect(sess *session) {
	s.mu.Lock()
	wasPublisher := sess == s.publisher
	if wasPublisher {
		s.publisher = nil
		s.actualPath = ""
		s.state = StateIdle
		s.lastVideoSeqHeader = nil
		s.lastAudioSeqHeader = nil
	}
	delete(s.players, sess)
	s.mu.Unlock()

	if wasPublisher {
		s.logger.Info("publish ended")
		s.notify(Status{State: StateIdle})
	}
}

func (s *Server) handleDonePublish(sess *session) {
	s.handleDisconnect(sess)
}
