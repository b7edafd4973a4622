package bus

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"castrelay/internal/telemetry/parser"
)

// testWSClient is a bare-bones client-side WebSocket handshake + frame
// reader/writer, kept local to the test so the bus package itself never
// needs a Dial-capable client.
type testWSClient struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dialWS(t *testing.T, url string) *testWSClient {
	t.Helper()
	host := strings.TrimPrefix(url, "ws://")
	conn, err := net.Dial("tcp", host)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	key := base64.StdEncoding.EncodeToString([]byte("0123456789012345"))
	req := fmt.Sprintf("GET / HTTP/1.1\r\nHost: %s\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: %s\r\nSec-WebSocket-Version: 13\r\n\r\n", host, key)
	if _, err := conn.Write([]byte(req)); err != nil {
		t.Fatalf("write request: %v", err)
	}
	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d, want 101", resp.StatusCode)
	}
	expected := computeAcceptKey(key)
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != expected {
		t.Fatalf("accept key = %q, want %q", got, expected)
	}
	return &testWSClient{conn: conn, reader: reader}
}

func (c *testWSClient) readEnvelope(t *testing.T) Envelope {
	t.Helper()
	fr, err := readFrame(c.reader)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(fr.payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func (c *testWSClient) writeText(payload []byte) {
	header := []byte{0x80 | opcodeText, 0x80 | byte(len(payload))}
	var mask [4]byte // zero mask key is permitted by RFC6455
	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ mask[i%4]
	}
	c.conn.Write(header)
	c.conn.Write(mask[:])
	c.conn.Write(masked)
}

func (c *testWSClient) close() { c.conn.Close() }

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := New(nil)
	if err := hub.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	t.Cleanup(func() {
		hub.Deactivate()
		srv.Close()
	})
	return hub, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func TestServeHTTPSendsConnectedEnvelope(t *testing.T) {
	_, srv := newTestHub(t)
	client := dialWS(t, wsURL(srv))
	defer client.close()

	env := client.readEnvelope(t)
	if env.Type != "connected" {
		t.Fatalf("type = %q, want connected", env.Type)
	}
}

func TestBroadcastDeliversWithinOneTick(t *testing.T) {
	hub, srv := newTestHub(t)
	client := dialWS(t, wsURL(srv))
	defer client.close()
	client.readEnvelope(t) // connected

	hub.Broadcast(Envelope{Type: "log", Data: map[string]string{"message": "hello"}})

	env := client.readEnvelope(t)
	if env.Type != "log" {
		t.Fatalf("type = %q, want log", env.Type)
	}
}

func TestPingReceivesPong(t *testing.T) {
	_, srv := newTestHub(t)
	client := dialWS(t, wsURL(srv))
	defer client.close()
	client.readEnvelope(t) // connected

	payload, _ := json.Marshal(map[string]string{"type": "ping"})
	client.writeText(payload)

	env := client.readEnvelope(t)
	if env.Type != "pong" {
		t.Fatalf("type = %q, want pong", env.Type)
	}
}

func TestPublishStatsDebouncesIntoOneBroadcast(t *testing.T) {
	hub, srv := newTestHub(t)
	client := dialWS(t, wsURL(srv))
	defer client.close()
	client.readEnvelope(t) // connected

	hub.PublishStats("dest-a", &parser.Stats{FPS: 30})
	hub.PublishStats("dest-a", &parser.Stats{FPS: 31})
	hub.PublishStats("dest-b", &parser.Stats{FPS: 60})

	env := client.readEnvelope(t)
	if env.Type != "statistics" {
		t.Fatalf("type = %q, want statistics", env.Type)
	}
	raw, err := json.Marshal(env.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	var samples []StatSample
	if err := json.Unmarshal(raw, &samples); err != nil {
		t.Fatalf("unmarshal samples: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("samples = %d, want 2 (one per destination, coalesced)", len(samples))
	}
}

func TestComputeAcceptKeyMatchesRFC6455Example(t *testing.T) {
	const key = "dGhlIHNhbXBsZSBub25jZQ=="
	const want = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got := computeAcceptKey(key); got != want {
		t.Fatalf("accept key = %q, want %q", got, want)
	}
}

func TestDeactivateClosesClientConnections(t *testing.T) {
	hub, srv := newTestHub(t)
	client := dialWS(t, wsURL(srv))
	defer client.close()
	client.readEnvelope(t) // connected

	hub.Deactivate()

	client.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFrame(client.reader); err == nil {
		t.Fatal("expected read error after hub deactivation")
	}
}
