package observer_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"spacegame.io/internal/observerproto"
	"spacegame.io/internal/protocol"
	"spacegame.io/internal/runtime"
	"spacegame.io/internal/sim/planet"
	"spacegame.io/internal/sim/tuning"
	"spacegame.io/internal/transport/observer"
)

type nopPeer struct{ id string }

func (p nopPeer) SessionID() string { return p.id }
func (p nopPeer) Send(any)          {}

func setup(t *testing.T) (*runtime.Runtime, *httptest.Server) {
	t.Helper()
	tun := tuning.Defaults()
	tun.Seed.GridSize = 2
	rt, err := runtime.New(runtime.GenerateWorld(tun), runtime.Config{FramePeriodMs: 50}, nil, nil)
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	s := observer.NewServer(rt, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/ws", s.WSHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return rt, srv
}

func TestBootstrap(t *testing.T) {
	_, srv := setup(t)
	resp, err := http.Get(srv.URL + "/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var b observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.ProtocolVersion != observerproto.Version || b.FramePeriodMs != 50 || len(b.Planets) != 4 || len(b.Markers) != 4 {
		t.Fatalf("bootstrap: %+v", b)
	}

	post, err := http.Post(srv.URL+"/bootstrap", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("post status %d", post.StatusCode)
	}
}

func TestStreamsPlanetUpdates(t *testing.T) {
	rt, srv := setup(t)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for rt.Stats().Observers == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("observer never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rt.ConnectWorker(nopPeer{id: "W"}, "W1")
	id := rt.Planets()[0].EntityID
	rt.HandleComponentUpdate("W", protocol.ComponentUpdateMsg{EntityID: id, Update: planet.Update{OwnerPlayerID: planet.Ptr("alice")}})

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var pm observerproto.PlanetMsg
	if err := conn.ReadJSON(&pm); err != nil {
		t.Fatalf("read: %v", err)
	}
	if pm.Type != observerproto.TypePlanet || pm.Planet.EntityID != id || pm.Planet.State.OwnerPlayerID != "alice" {
		t.Fatalf("planet msg: %+v", pm)
	}

	conn.Close()
	deadline = time.Now().Add(5 * time.Second)
	for rt.Stats().Observers != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("observer not removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
