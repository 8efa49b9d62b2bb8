package observer

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pastelcraft.ai/internal/observerproto"
	"pastelcraft.ai/internal/sim/pastelnet"
	"pastelcraft.ai/internal/sim/tuning"
)

type fakeSource struct {
	st atomic.Pointer[pastelnet.State]
}

func (f *fakeSource) Latest() *pastelnet.State { return f.st.Load() }
func (f *fakeSource) Tuning() tuning.Tuning {
	t := tuning.Defaults()
	t.TickRateHz = 100
	return t
}

func newSource(tick uint64) *fakeSource {
	f := &fakeSource{}
	f.st.Store(&pastelnet.State{
		Tick:   tick,
		Digest: "d",
		Nodes:  3,
		Networks: []pastelnet.NetworkState{
			{ID: "a", World: "OVERWORLD", Nodes: 2, Counts: map[string]int{}},
			{ID: "b", World: "NETHER", Nodes: 1, Counts: map[string]int{}},
		},
	})
	return f
}

type countingGauge struct{ open atomic.Int64 }

func (g *countingGauge) ConnOpened() { g.open.Add(1) }
func (g *countingGauge) ConnClosed() { g.open.Add(-1) }

func TestBootstrap(t *testing.T) {
	s := NewServer(newSource(5), log.New(io.Discard, "", 0), nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/observer/bootstrap", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	s.BootstrapHandler()(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var resp observerproto.BootstrapResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Tick != 5 || resp.Networks != 2 || resp.Nodes != 3 || len(resp.NodeTypes) != 6 || resp.TickRateHz != 100 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestBootstrap_ForbidsRemote(t *testing.T) {
	s := NewServer(newSource(1), log.New(io.Discard, "", 0), nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/observer/bootstrap", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	s.BootstrapHandler()(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d want 403", rr.Code)
	}
}

func TestWS_StreamsFilteredState(t *testing.T) {
	src := newSource(9)
	gauge := &countingGauge{}
	srv := httptest.NewServer(NewServer(src, log.New(io.Discard, "", 0), gauge).WSHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		World:           "NETHER",
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg observerproto.NetworkStateMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != observerproto.TypeNetworkState || msg.Tick != 9 {
		t.Fatalf("msg=%+v", msg)
	}
	if len(msg.Networks) != 1 || msg.Networks[0].ID != "b" || msg.Nodes != 1 {
		t.Fatalf("filter not applied: %+v", msg.Networks)
	}
	if gauge.open.Load() != 1 {
		t.Fatalf("open connections=%d want 1", gauge.open.Load())
	}

	next := *src.Latest()
	next.Tick = 10
	src.st.Store(&next)
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Tick != 10 {
		t.Fatalf("tick=%d want 10", msg.Tick)
	}
}

func TestWS_RejectsBadSubscribe(t *testing.T) {
	srv := httptest.NewServer(NewServer(newSource(1), log.New(io.Discard, "", 0), nil).WSHandler())
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(map[string]string{"type": "HELLO"})
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:80": true,
		"[::1]:9000":   true,
		"10.0.0.1:80":  false,
		"garbage":      false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
