package preflight

import (
	"context"
	"net"
	"testing"

	"castrelay/internal/relayerr"
)

func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestCheckPortsPassesWhenAllFree(t *testing.T) {
	p1, p2 := freeTCPPort(t), freeTCPPort(t)
	err := CheckPorts(context.Background(), []Port{
		{Name: "ingest", Host: "127.0.0.1", Port: p1},
		{Name: "ui", Host: "127.0.0.1", Port: p2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckPortsFailsWhenPortHeld(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	held := ln.Addr().(*net.TCPAddr).Port

	err = CheckPorts(context.Background(), []Port{
		{Name: "ingest", Host: "127.0.0.1", Port: held},
	})
	if err == nil {
		t.Fatal("expected error for held port")
	}
	if kind, ok := relayerr.KindOf(err); !ok || kind != relayerr.PortUnavailable {
		t.Fatalf("kind = %v, ok = %v, want PortUnavailable", kind, ok)
	}
}

func TestCheckTranscoderFindsBinaryOnPath(t *testing.T) {
	report := CheckTranscoder("sh")
	if !report.TranscoderFound {
		t.Fatal("expected sh to be found on PATH")
	}
}

func TestCheckTranscoderReportsMissingBinary(t *testing.T) {
	report := CheckTranscoder("definitely-not-a-real-binary-xyz")
	if report.TranscoderFound {
		t.Fatal("expected binary to be reported missing")
	}
}
