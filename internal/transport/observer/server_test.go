package observer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joonk7809/port-town-01/internal/sim/tuning"
	"github.com/joonk7809/port-town-01/internal/sim/world"
)

type fakeSource struct {
	mu      sync.Mutex
	ranges  map[string]bool
	busy    bool
	metrics world.WorldMetrics
}

func (f *fakeSource) Config() tuning.Tuning { return tuning.Default() }
func (f *fakeSource) CurrentTick() uint64   { return 42 }
func (f *fakeSource) SystemNames() []string { return []string{"market.match"} }
func (f *fakeSource) Metrics() world.WorldMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics
}
func (f *fakeSource) SetInRange(id string, in bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return world.ErrBusy
	}
	f.ranges[id] = in
	return nil
}
func (f *fakeSource) Leave(string) error { return world.ErrBusy }

func newFake() *fakeSource {
	return &fakeSource{ranges: map[string]bool{}, metrics: world.WorldMetrics{Tick: 7, Digest: "abc"}}
}

func TestBootstrap_LoopbackOnly(t *testing.T) {
	s := NewServer(newFake(), nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/bootstrap", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	s.BootstrapHandler()(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("code=%d want 403", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/bootstrap", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	s.BootstrapHandler()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("code=%d want 200", rr.Code)
	}
	var resp BootstrapResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tick != 42 || resp.Item != "FISH" || len(resp.Participants) < 2 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:80":     true,
		"::1":          true,
		"10.0.0.1:80":  false,
		"garbage":      false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}

func dial(t *testing.T, src Source) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(NewServer(src, nil).WSHandler())
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if m["type"] == typ {
			return m
		}
	}
	t.Fatalf("no %s frame", typ)
	return nil
}

func TestWS_StreamsMetricsAndAcksCommands(t *testing.T) {
	src := newFake()
	conn := dial(t, src)

	if err := conn.WriteJSON(ClientMsg{Type: "SUBSCRIBE", ProtocolVersion: Version, IntervalMS: 50}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	m := readUntil(t, conn, "METRICS")
	metrics, _ := m["metrics"].(map[string]any)
	if metrics == nil || metrics["digest"] != "abc" {
		t.Fatalf("metrics frame=%v", m)
	}

	if err := conn.WriteJSON(ClientMsg{Type: "SET_IN_RANGE", Participant: "BUYER", InRange: true}); err != nil {
		t.Fatalf("set in range: %v", err)
	}
	ack := readUntil(t, conn, "ACK")
	if ack["ok"] != true || ack["ref"] != "SET_IN_RANGE" {
		t.Fatalf("ack=%v", ack)
	}
	src.mu.Lock()
	got := src.ranges["BUYER"]
	src.mu.Unlock()
	if !got {
		t.Fatalf("SetInRange not forwarded")
	}

	if err := conn.WriteJSON(ClientMsg{Type: "LEAVE", Participant: "BUYER"}); err != nil {
		t.Fatalf("leave: %v", err)
	}
	ack = readUntil(t, conn, "ACK")
	if ack["ok"] != false || ack["reason"] != "busy" {
		t.Fatalf("ack=%v", ack)
	}
}

func TestWS_RejectsMissingSubscribe(t *testing.T) {
	conn := dial(t, newFake())
	if err := conn.WriteJSON(ClientMsg{Type: "LEAVE"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v want policy violation close", err)
	}
}
