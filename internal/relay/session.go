package relay

import (
	"context"
	"os/exec"
	"sync"
	"syscall"

	"castrelay/internal/telemetry/parser"
)

// RelaySession is one destination's active transfer: the spawned child
// process plus the two independent status flags the supervisor derives
// status projections from.
type RelaySession struct {
	DestinationID string

	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	connected   bool
	streaming   bool
	latestStats *parser.Stats
}

func newRelaySession(ctx context.Context, destinationID, binary string, args []string, onLine func(string), onStats func(*parser.Stats)) (*RelaySession, error) {
	childCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(childCtx, binary, args...)
	// context cancellation on stop() should ask the child to exit
	// gracefully rather than kill it outright.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}

	sess := &RelaySession{DestinationID: destinationID, cmd: cmd, cancel: cancel, done: make(chan struct{})}
	cmd.Stdout = newStatLineWriter(onLine)
	cmd.Stderr = newStatLineWriter(func(line string) {
		if stats := parser.Parse(line); stats != nil {
			sess.setStats(stats)
			if onStats != nil {
				onStats(stats)
			}
		}
		onLine(line)
	})

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}
	sess.mu.Lock()
	sess.connected = true
	sess.mu.Unlock()
	return sess, nil
}

func (s *RelaySession) setStats(stats *parser.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestStats = stats
	s.streaming = true
}

func (s *RelaySession) snapshot() (connected, streaming bool, stats *parser.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected, s.streaming, s.latestStats
}

// alive reports whether the child process has not yet been reaped.
func (s *RelaySession) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
