package runtime

import (
	"encoding/json"
	"reflect"
	"sync"
	"testing"

	"spacegame.io/internal/observerproto"
	"spacegame.io/internal/persistence/snapshot"
	"spacegame.io/internal/protocol"
	"spacegame.io/internal/sim/planet"
	"spacegame.io/internal/sim/tuning"
)

type fakePeer struct {
	id string

	mu   sync.Mutex
	sent []any
}

func (p *fakePeer) SessionID() string { return p.id }

func (p *fakePeer) Send(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, v)
}

func (p *fakePeer) take() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.sent
	p.sent = nil
	return out
}

func authorityOf(msgs []any) map[protocol.EntityID][]protocol.Authority {
	out := map[protocol.EntityID][]protocol.Authority{}
	for _, m := range msgs {
		if a, ok := m.(protocol.AuthorityChangedMsg); ok {
			out[a.EntityID] = append(out[a.EntityID], a.Authority)
		}
	}
	return out
}

func responses(msgs []any) []protocol.CommandResponseMsg {
	var out []protocol.CommandResponseMsg
	for _, m := range msgs {
		if r, ok := m.(protocol.CommandResponseMsg); ok {
			out = append(out, r)
		}
	}
	return out
}

func requests(msgs []any) []protocol.CommandRequestMsg {
	var out []protocol.CommandRequestMsg
	for _, m := range msgs {
		if r, ok := m.(protocol.CommandRequestMsg); ok {
			out = append(out, r)
		}
	}
	return out
}

// smallWorld has markers 1..4 and planets 5..8.
func smallWorld() snapshot.SnapshotV1 {
	t := tuning.Defaults()
	t.Seed.GridSize = 2
	return GenerateWorld(t)
}

func newTestRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	if cfg.FramePeriodMs == 0 {
		cfg.FramePeriodMs = 1000
	}
	r, err := New(smallWorld(), cfg, v, nil)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	return r
}

func commandRaw(t *testing.T, requestID string, entity protocol.EntityID, cmd string, payload any) []byte {
	t.Helper()
	p, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(protocol.CommandRequestMsg{
		Type:            protocol.TypeCommandRequest,
		ProtocolVersion: protocol.Version,
		RequestID:       requestID,
		EntityID:        entity,
		Command:         cmd,
		Payload:         p,
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestGenerateWorldDeterministic(t *testing.T) {
	a := GenerateWorld(tuning.Defaults())
	b := GenerateWorld(tuning.Defaults())
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed produced different worlds")
	}
	markers, planets := 0, 0
	names := map[string]bool{}
	for _, e := range a.Entities {
		switch e.Kind {
		case snapshot.KindMarker:
			markers++
		case snapshot.KindPlanet:
			planets++
			if names[e.Planet.Name] {
				t.Fatalf("duplicate planet name %q", e.Planet.Name)
			}
			names[e.Planet.Name] = true
			if e.Planet.OwnerPlayerID != "" || len(e.Planet.Password) != 6 {
				t.Fatalf("bad seed planet: %+v", e.Planet)
			}
		}
	}
	if markers != 4 || planets != 256 {
		t.Fatalf("markers=%d planets=%d", markers, planets)
	}
	if a.NextEntityID != 261 {
		t.Fatalf("next id: %d", a.NextEntityID)
	}

	other := tuning.Defaults()
	other.Seed.Value = 7
	if reflect.DeepEqual(a, GenerateWorld(other)) {
		t.Fatalf("different seeds produced the same world")
	}
}

func TestConnectWorkerReplaysWorld(t *testing.T) {
	r := newTestRuntime(t, Config{})
	a := &fakePeer{id: "A"}
	r.ConnectWorker(a, "W1")

	msgs := a.take()
	if w, ok := msgs[0].(protocol.WelcomeMsg); !ok || w.SessionID != "A" || w.FramePeriodMS != 1000 {
		t.Fatalf("first message: %#v", msgs[0])
	}
	added, components := 0, 0
	for _, m := range msgs {
		switch m.(type) {
		case protocol.EntityAddedMsg:
			added++
		case protocol.ComponentAddedMsg:
			components++
		}
	}
	if added != 8 || components != 4 {
		t.Fatalf("added=%d components=%d", added, components)
	}
	auth := authorityOf(msgs)
	for id := protocol.EntityID(1); id <= 8; id++ {
		if got := auth[id]; len(got) != 1 || got[0] != protocol.Authoritative {
			t.Fatalf("entity %d authority: %v", id, got)
		}
		if r.Authority(id) != "A" {
			t.Fatalf("entity %d owner: %q", id, r.Authority(id))
		}
	}
}

func TestRebalanceHandsOverWithLossImminent(t *testing.T) {
	r := newTestRuntime(t, Config{})
	a, b := &fakePeer{id: "A"}, &fakePeer{id: "B"}
	r.ConnectWorker(a, "W1")
	a.take()
	r.ConnectWorker(b, "W2")

	lost := authorityOf(a.take())
	gained := authorityOf(b.take())
	for id := protocol.EntityID(1); id <= 8; id++ {
		if id%2 == 1 {
			want := []protocol.Authority{protocol.AuthorityLossImminent, protocol.NotAuthoritative}
			if !reflect.DeepEqual(lost[id], want) {
				t.Fatalf("entity %d old owner saw %v", id, lost[id])
			}
			if !reflect.DeepEqual(gained[id], []protocol.Authority{protocol.Authoritative}) {
				t.Fatalf("entity %d new owner saw %v", id, gained[id])
			}
			if r.Authority(id) != "B" {
				t.Fatalf("entity %d owner %q", id, r.Authority(id))
			}
			continue
		}
		if len(lost[id]) != 0 || len(gained[id]) != 0 {
			t.Fatalf("entity %d should not move: %v %v", id, lost[id], gained[id])
		}
	}

	r.Disconnect("A")
	for id := protocol.EntityID(1); id <= 8; id++ {
		if r.Authority(id) != "B" {
			t.Fatalf("entity %d not taken over after disconnect: %q", id, r.Authority(id))
		}
	}
}

func TestComponentUpdateOnlyFromOwner(t *testing.T) {
	r := newTestRuntime(t, Config{})
	a, b := &fakePeer{id: "A"}, &fakePeer{id: "B"}
	r.ConnectWorker(a, "W1")
	r.ConnectWorker(b, "W2")
	a.take()
	b.take()

	// 6 is even, so it stays with A.
	u := planet.Update{OwnerPlayerID: planet.Ptr("p1"), Minerals: planet.Ptr(10.0)}
	r.HandleComponentUpdate("B", protocol.ComponentUpdateMsg{EntityID: 6, Update: u})
	if p, _ := r.Planet(6); p.OwnerPlayerID != "" || r.Dirty() {
		t.Fatalf("non-owner write applied: %+v", p)
	}

	r.HandleComponentUpdate("A", protocol.ComponentUpdateMsg{EntityID: 6, Update: u})
	p, _ := r.Planet(6)
	if p.OwnerPlayerID != "p1" || p.Minerals != 10 || !r.Dirty() {
		t.Fatalf("owner write not applied: %+v", p)
	}
	var forwarded []protocol.ComponentUpdatedMsg
	for _, m := range b.take() {
		if cu, ok := m.(protocol.ComponentUpdatedMsg); ok {
			forwarded = append(forwarded, cu)
		}
	}
	if len(forwarded) != 1 || forwarded[0].EntityID != 6 {
		t.Fatalf("forwarded: %+v", forwarded)
	}
	if len(a.take()) != 0 {
		t.Fatalf("writer must not receive its own update")
	}
	st := r.Stats()
	if st.UpdatesAccepted != 1 || st.UpdatesRejected != 1 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestObserversSeeAcceptedWrites(t *testing.T) {
	r := newTestRuntime(t, Config{})
	w, o := &fakePeer{id: "W"}, &fakePeer{id: "O1"}
	r.ConnectWorker(w, "W1")
	r.ConnectObserver(o)
	if len(o.take()) != 0 {
		t.Fatalf("observer must not get the replication feed")
	}

	r.HandleComponentUpdate("X", protocol.ComponentUpdateMsg{EntityID: 6, Update: planet.Update{Minerals: planet.Ptr(1.0)}})
	r.HandleComponentUpdate("W", protocol.ComponentUpdateMsg{EntityID: 6, Update: planet.Update{Minerals: planet.Ptr(7.0)}})
	got := o.take()
	if len(got) != 1 {
		t.Fatalf("observer got %d messages", len(got))
	}
	pm, ok := got[0].(observerproto.PlanetMsg)
	if !ok || pm.Planet.EntityID != 6 || pm.Planet.State.Minerals != 7 || pm.Planet.Owner != "W" {
		t.Fatalf("planet msg: %+v", got[0])
	}
	if n := len(r.Planets()); n != 4 {
		t.Fatalf("planets: %d", n)
	}
	if r.Stats().Observers != 1 {
		t.Fatalf("stats: %+v", r.Stats())
	}

	r.Disconnect("O1")
	r.HandleComponentUpdate("W", protocol.ComponentUpdateMsg{EntityID: 6, Update: planet.Update{Minerals: planet.Ptr(8.0)}})
	if len(o.take()) != 0 || r.Stats().Observers != 0 || r.Stats().Workers != 1 {
		t.Fatalf("observer not removed cleanly")
	}
}

func TestCommandRoutingRoundTrip(t *testing.T) {
	r := newTestRuntime(t, Config{})
	w, c := &fakePeer{id: "W"}, &fakePeer{id: "C"}
	r.ConnectWorker(w, "W1")
	r.ConnectClient(c)
	w.take()
	if wm, ok := c.take()[0].(protocol.WelcomeMsg); !ok || !reflect.DeepEqual(wm.MarkerIDs, []protocol.EntityID{1, 2, 3, 4}) {
		t.Fatalf("client welcome: %#v", wm)
	}

	r.HandleCommandRequest("C", commandRaw(t, "client-1", 5, protocol.CmdPlanetInfo, protocol.PlanetInfoRequest{PlanetID: 5}))
	reqs := requests(w.take())
	if len(reqs) != 1 || reqs[0].RequestID == "client-1" || reqs[0].EntityID != 5 {
		t.Fatalf("routed: %+v", reqs)
	}

	// A response from a worker that was not asked is ignored.
	r.HandleCommandResponse("X", protocol.CommandResponseMsg{RequestID: reqs[0].RequestID})
	if len(c.take()) != 0 {
		t.Fatalf("foreign response relayed")
	}

	r.HandleCommandResponse("W", protocol.CommandResponseMsg{RequestID: reqs[0].RequestID, Payload: json.RawMessage(`{"planet_id":5}`)})
	resps := responses(c.take())
	if len(resps) != 1 || resps[0].RequestID != "client-1" || resps[0].Code != "" || resps[0].Command != protocol.CmdPlanetInfo {
		t.Fatalf("relayed: %+v", resps)
	}
	if st := r.Stats(); st.PendingCommands != 0 || st.CommandsRouted != 1 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestCommandErrors(t *testing.T) {
	t.Run("no worker", func(t *testing.T) {
		r := newTestRuntime(t, Config{})
		c := &fakePeer{id: "C"}
		r.ConnectClient(c)
		c.take()
		r.HandleCommandRequest("C", commandRaw(t, "r1", 5, protocol.CmdPlanetInfo, protocol.PlanetInfoRequest{PlanetID: 5}))
		if resps := responses(c.take()); len(resps) != 1 || resps[0].Code != protocol.ErrNoWorker {
			t.Fatalf("responses: %+v", resps)
		}
	})

	t.Run("bad request", func(t *testing.T) {
		r := newTestRuntime(t, Config{})
		c := &fakePeer{id: "C"}
		r.ConnectClient(c)
		c.take()
		r.HandleCommandRequest("C", []byte(`{"type":"COMMAND_REQUEST","request_id":"r1"}`))
		if resps := responses(c.take()); len(resps) != 1 || resps[0].Code != protocol.ErrProtoBadRequest || resps[0].RequestID != "r1" {
			t.Fatalf("responses: %+v", resps)
		}
	})

	t.Run("rate limit", func(t *testing.T) {
		r := newTestRuntime(t, Config{CommandRatePerSec: 0.001, CommandBurst: 1})
		w, c := &fakePeer{id: "W"}, &fakePeer{id: "C"}
		r.ConnectWorker(w, "W1")
		r.ConnectClient(c)
		c.take()
		raw := commandRaw(t, "r1", 5, protocol.CmdPlanetInfo, protocol.PlanetInfoRequest{PlanetID: 5})
		r.HandleCommandRequest("C", raw)
		r.HandleCommandRequest("C", raw)
		if resps := responses(c.take()); len(resps) != 1 || resps[0].Code != protocol.ErrRateLimit {
			t.Fatalf("responses: %+v", resps)
		}
	})

	t.Run("worker lost", func(t *testing.T) {
		r := newTestRuntime(t, Config{})
		w, c := &fakePeer{id: "W"}, &fakePeer{id: "C"}
		r.ConnectWorker(w, "W1")
		r.ConnectClient(c)
		c.take()
		r.HandleCommandRequest("C", commandRaw(t, "r1", 5, protocol.CmdAssignPlanet, protocol.AssignPlanetRequest{PlayerID: "p1"}))
		r.Disconnect("W")
		resps := responses(c.take())
		if len(resps) != 1 || resps[0].Code != protocol.ErrWorkerLost || resps[0].RequestID != "r1" {
			t.Fatalf("responses: %+v", resps)
		}
		if r.Authority(5) != "" {
			t.Fatalf("authority kept after last worker left")
		}
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	r := newTestRuntime(t, Config{})
	w := &fakePeer{id: "W"}
	r.ConnectWorker(w, "W1")
	r.HandleComponentUpdate("W", protocol.ComponentUpdateMsg{EntityID: 7, Update: planet.Update{
		OwnerPlayerID:              planet.Ptr("p1"),
		BuildQueue:                 planet.Ptr(planet.Hangar),
		BuildQueueRemainingSeconds: planet.Ptr(12.5),
	}})

	dir := t.TempDir()
	path, err := r.WriteSnapshot(dir, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if r.Dirty() {
		t.Fatalf("dirty after snapshot")
	}
	latest, seq, ok, err := snapshot.Latest(dir)
	if err != nil || !ok || latest != path || seq != 1 {
		t.Fatalf("latest: %q %d %v %v", latest, seq, ok, err)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	r2, err := New(snap, Config{FramePeriodMs: 1000}, nil, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	want, _ := r.Planet(7)
	got, _ := r2.Planet(7)
	if got != want || got.BuildQueue != planet.Hangar {
		t.Fatalf("reloaded planet %+v want %+v", got, want)
	}
	if !reflect.DeepEqual(r2.Markers(), r.Markers()) {
		t.Fatalf("markers differ")
	}
	if next := r2.Snapshot(); next.Header.Seq != 2 {
		t.Fatalf("seq did not continue: %d", next.Header.Seq)
	}
}

func TestNewRejectsBadSnapshots(t *testing.T) {
	dup := smallWorld()
	dup.Entities = append(dup.Entities, dup.Entities[0])
	if _, err := New(dup, Config{}, nil, nil); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	missing := smallWorld()
	missing.Entities[len(missing.Entities)-1].Planet = nil
	if _, err := New(missing, Config{}, nil, nil); err == nil {
		t.Fatalf("expected missing component error")
	}
}

type countRecorder struct{ paths []string }

func (c *countRecorder) RecordSnapshot(path string, _ snapshot.SnapshotV1) {
	c.paths = append(c.paths, path)
}

func TestRecordersFanOut(t *testing.T) {
	if Recorders(nil, nil) != nil {
		t.Fatalf("all-nil recorders should collapse to nil")
	}
	a, b := &countRecorder{}, &countRecorder{}
	r := newTestRuntime(t, Config{})
	path, err := r.WriteSnapshot(t.TempDir(), Recorders(a, nil, b))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(a.paths) != 1 || len(b.paths) != 1 || a.paths[0] != path {
		t.Fatalf("recorded: %v %v", a.paths, b.paths)
	}
}
