// Package preflight probes the runtime environment before the Module
// Registry activates the ingest listener and telemetry bus: it checks that
// every configured TCP port is actually free to bind, and that the
// transcoder binary the relay supervisor will exec is reachable on PATH.
// Port probes run concurrently via golang.org/x/sync/errgroup, the same
// fan-out idiom the relay supervisor uses for StartAll/StopAll.
package preflight

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"castrelay/internal/relayerr"
)

// probeTimeout bounds each individual port bind attempt.
const probeTimeout = 3 * time.Second

// Port names a TCP listener this process intends to bind, for error
// reporting when the probe finds it already in use.
type Port struct {
	Name string
	Host string
	Port int
}

func (p Port) addr() string {
	host := p.Host
	if host == "" || host == "0.0.0.0" {
		host = ""
	}
	return fmt.Sprintf("%s:%d", host, p.Port)
}

// Report is the outcome of a full preflight pass.
type Report struct {
	TranscoderFound  bool
	TranscoderBinary string
	TranscoderPath   string
}

// CheckPorts attempts a transient bind on every port and releases it
// immediately. Any port already in use is collected into a single
// structured error listing every offender; a nil return means every port
// was free. Ports are probed concurrently, each bounded by probeTimeout.
func CheckPorts(ctx context.Context, ports []Port) error {
	var (
		mu        sync.Mutex
		offenders []string
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range ports {
		p := p
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, probeTimeout)
			defer cancel()
			if err := probeBind(probeCtx, p); err != nil {
				mu.Lock()
				offenders = append(offenders, fmt.Sprintf("%s (%s): %v", p.Name, p.addr(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(offenders) == 0 {
		return nil
	}
	sort.Strings(offenders)
	return relayerr.New(relayerr.PortUnavailable, "preflight: port(s) already in use: "+strings.Join(offenders, "; "))
}

func probeBind(ctx context.Context, p Port) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", p.addr())
	if err != nil {
		return err
	}
	return ln.Close()
}

// CheckTranscoder probes PATH for binary. Absence is never an error here --
// the caller surfaces it as a warning at startup; it only becomes fatal at
// the first relay start(), which looks it up again via exec.LookPath
// directly.
func CheckTranscoder(binary string) Report {
	path, err := exec.LookPath(binary)
	if err != nil {
		return Report{TranscoderFound: false, TranscoderBinary: binary}
	}
	return Report{TranscoderFound: true, TranscoderBinary: binary, TranscoderPath: path}
}
