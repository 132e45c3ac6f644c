// Package runtime is the platform side of the simulation: it owns the canonical entity
// store, assigns single-writer authority to connected workers and routes client commands.
package runtime

import (
	"encoding/json"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"spacegame.io/internal/observerproto"
	"spacegame.io/internal/protocol"
	"spacegame.io/internal/sim/planet"
)

// Peer is one connected worker or client. Send must not block.
type Peer interface {
	SessionID() string
	Send(v any)
}

type Config struct {
	FramePeriodMs     int
	CommandRatePerSec float64
	CommandBurst      int
}

type entity struct {
	ID     protocol.EntityID
	Kind   string
	Pos    [2]int
	Planet *planet.State
}

type workerConn struct {
	peer     Peer
	workerID string
}

type clientConn struct {
	peer    Peer
	limiter *rate.Limiter
}

type pendingCommand struct {
	clientSession   string
	clientRequestID string
	workerSession   string
	command         string
}

type Stats struct {
	Workers         int    `json:"workers"`
	Clients         int    `json:"clients"`
	Observers       int    `json:"observers"`
	Entities        int    `json:"entities"`
	PendingCommands int    `json:"pending_commands"`
	CommandsRouted  uint64 `json:"commands_routed"`
	CommandsFailed  uint64 `json:"commands_failed"`
	UpdatesAccepted uint64 `json:"updates_accepted"`
	UpdatesRejected uint64 `json:"updates_rejected"`
}

// Runtime is safe for concurrent use; every transport goroutine calls into it.
type Runtime struct {
	cfg       Config
	log       *log.Logger
	validator *protocol.Validator

	mu        sync.Mutex
	seed      int64
	speed     float64
	entities  map[protocol.EntityID]*entity
	ids       []protocol.EntityID
	markers   []protocol.EntityID
	nextID    int64
	workers   []*workerConn
	clients   map[string]*clientConn
	observers map[string]Peer
	authority map[protocol.EntityID]string
	pending   map[string]pendingCommand
	dirty     bool
	snapSeq   uint64
	stats     Stats
}

func (r *Runtime) logf(format string, args ...any) {
	if r.log != nil {
		r.log.Printf(format, args...)
	}
}

// ConnectWorker registers a worker, replays the world to it and rebalances authority.
func (r *Runtime) ConnectWorker(p Peer, workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.workers = append(r.workers, &workerConn{peer: p, workerID: workerID})
	p.Send(protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       p.SessionID(),
		FramePeriodMS:   r.cfg.FramePeriodMs,
	})
	for _, id := range r.ids {
		e := r.entities[id]
		p.Send(protocol.EntityAddedMsg{Type: protocol.TypeEntityAdded, ProtocolVersion: protocol.Version, EntityID: id})
		if e.Planet != nil {
			p.Send(protocol.ComponentAddedMsg{Type: protocol.TypeComponentAdded, ProtocolVersion: protocol.Version, EntityID: id, State: *e.Planet})
		}
	}
	r.logf("worker %s connected (session %s), %d workers", workerID, p.SessionID(), len(r.workers))
	r.rebalanceLocked()
}

func (r *Runtime) ConnectClient(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[p.SessionID()] = &clientConn{
		peer:    p,
		limiter: rate.NewLimiter(rate.Limit(r.cfg.CommandRatePerSec), r.cfg.CommandBurst),
	}
	p.Send(protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       p.SessionID(),
		FramePeriodMS:   r.cfg.FramePeriodMs,
		MarkerIDs:       append([]protocol.EntityID(nil), r.markers...),
	})
}

// ConnectObserver registers a read-only peer that receives every accepted planet write.
func (r *Runtime) ConnectObserver(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers[p.SessionID()] = p
}

// Disconnect removes a peer. Commands pending on a lost worker are answered with E_WORKER_LOST.
func (r *Runtime) Disconnect(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[sessionID]; ok {
		delete(r.clients, sessionID)
		return
	}
	if _, ok := r.observers[sessionID]; ok {
		delete(r.observers, sessionID)
		return
	}
	idx := -1
	for i, w := range r.workers {
		if w.peer.SessionID() == sessionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	w := r.workers[idx]
	r.workers = append(r.workers[:idx], r.workers[idx+1:]...)
	for id, owner := range r.authority {
		if owner == sessionID {
			delete(r.authority, id)
		}
	}
	for routed, pc := range r.pending {
		if pc.workerSession != sessionID {
			continue
		}
		delete(r.pending, routed)
		r.replyErrorLocked(pc.clientSession, pc.clientRequestID, pc.command, protocol.ErrWorkerLost, "worker disconnected before answering")
	}
	r.logf("worker %s disconnected, %d workers", w.workerID, len(r.workers))
	r.rebalanceLocked()
}

// rebalanceLocked gives entity id to the worker at index id mod n in connect order.
func (r *Runtime) rebalanceLocked() {
	n := len(r.workers)
	for _, id := range r.ids {
		want := ""
		if n > 0 {
			want = r.workers[int(int64(id)%int64(n))].peer.SessionID()
		}
		cur := r.authority[id]
		if cur == want {
			continue
		}
		if old := r.workerBySession(cur); old != nil {
			old.peer.Send(authorityMsg(id, protocol.AuthorityLossImminent))
			old.peer.Send(authorityMsg(id, protocol.NotAuthoritative))
		}
		if want == "" {
			delete(r.authority, id)
			continue
		}
		r.authority[id] = want
		r.workerBySession(want).peer.Send(authorityMsg(id, protocol.Authoritative))
	}
}

func authorityMsg(id protocol.EntityID, a protocol.Authority) protocol.AuthorityChangedMsg {
	return protocol.AuthorityChangedMsg{
		Type:            protocol.TypeAuthorityChanged,
		ProtocolVersion: protocol.Version,
		EntityID:        id,
		Authority:       a,
	}
}

func (r *Runtime) workerBySession(sessionID string) *workerConn {
	if sessionID == "" {
		return nil
	}
	for _, w := range r.workers {
		if w.peer.SessionID() == sessionID {
			return w
		}
	}
	return nil
}

// HandleComponentUpdate applies a worker write if that worker holds authority, then
// forwards it to every other worker. Writes from non-owners are dropped.
func (r *Runtime) HandleComponentUpdate(sessionID string, msg protocol.ComponentUpdateMsg) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entities[msg.EntityID]
	if e == nil || e.Planet == nil || r.authority[msg.EntityID] != sessionID {
		r.stats.UpdatesRejected++
		return
	}
	e.Planet.Apply(msg.Update)
	r.dirty = true
	r.stats.UpdatesAccepted++

	out := protocol.ComponentUpdatedMsg{
		Type:            protocol.TypeComponentUpdated,
		ProtocolVersion: protocol.Version,
		EntityID:        msg.EntityID,
		Update:          msg.Update,
	}
	for _, w := range r.workers {
		if w.peer.SessionID() == sessionID {
			continue
		}
		w.peer.Send(out)
	}
	if len(r.observers) > 0 {
		pm := observerproto.PlanetMsg{
			Type:            observerproto.TypePlanet,
			ProtocolVersion: observerproto.Version,
			Planet:          r.planetViewLocked(e),
		}
		for _, o := range r.observers {
			o.Send(pm)
		}
	}
}

// HandleCommandRequest validates and routes a client command to the worker owning its target.
// Every request gets exactly one response, from here or relayed from the worker.
func (r *Runtime) HandleCommandRequest(clientSession string, raw []byte) {
	var req protocol.CommandRequestMsg
	_ = json.Unmarshal(raw, &req)

	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.clients[clientSession]
	if c == nil {
		return
	}
	if r.validator != nil {
		if err := r.validator.ValidateCommandRequest(raw); err != nil {
			r.replyErrorLocked(clientSession, req.RequestID, req.Command, protocol.ErrProtoBadRequest, err.Error())
			return
		}
	}
	if req.ProtocolVersion != protocol.Version {
		r.replyErrorLocked(clientSession, req.RequestID, req.Command, protocol.ErrProtoBadRequest, "bad protocol_version")
		return
	}
	if !c.limiter.Allow() {
		r.replyErrorLocked(clientSession, req.RequestID, req.Command, protocol.ErrRateLimit, "too many commands")
		return
	}
	w := r.workerBySession(r.authority[req.EntityID])
	if w == nil {
		r.replyErrorLocked(clientSession, req.RequestID, req.Command, protocol.ErrNoWorker, "no worker is authoritative for the target entity")
		return
	}

	routed := uuid.NewString()
	r.pending[routed] = pendingCommand{
		clientSession:   clientSession,
		clientRequestID: req.RequestID,
		workerSession:   w.peer.SessionID(),
		command:         req.Command,
	}
	r.stats.CommandsRouted++
	w.peer.Send(protocol.CommandRequestMsg{
		Type:            protocol.TypeCommandRequest,
		ProtocolVersion: protocol.Version,
		RequestID:       routed,
		EntityID:        req.EntityID,
		Command:         req.Command,
		Payload:         req.Payload,
	})
}

// HandleCommandResponse relays a worker's answer back under the client's request id.
func (r *Runtime) HandleCommandResponse(workerSession string, msg protocol.CommandResponseMsg) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pc, ok := r.pending[msg.RequestID]
	if !ok || pc.workerSession != workerSession {
		return
	}
	delete(r.pending, msg.RequestID)
	if msg.Code != "" {
		r.stats.CommandsFailed++
	}
	c := r.clients[pc.clientSession]
	if c == nil {
		return
	}
	c.peer.Send(protocol.CommandResponseMsg{
		Type:            protocol.TypeCommandResponse,
		ProtocolVersion: protocol.Version,
		RequestID:       pc.clientRequestID,
		Command:         pc.command,
		Code:            msg.Code,
		Message:         msg.Message,
		Payload:         msg.Payload,
	})
}

func (r *Runtime) replyErrorLocked(clientSession, requestID, command, code, message string) {
	r.stats.CommandsFailed++
	c := r.clients[clientSession]
	if c == nil {
		return
	}
	c.peer.Send(protocol.CommandResponseMsg{
		Type:            protocol.TypeCommandResponse,
		ProtocolVersion: protocol.Version,
		RequestID:       requestID,
		Command:         command,
		Code:            code,
		Message:         message,
	})
}

// Authority returns the session id of the worker owning id, or "".
func (r *Runtime) Authority(id protocol.EntityID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authority[id]
}

// Planet returns a copy of the canonical state of a planet.
func (r *Runtime) Planet(id protocol.EntityID) (planet.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entities[id]
	if e == nil || e.Planet == nil {
		return planet.State{}, false
	}
	return *e.Planet, true
}

// Planets lists every planet in id order.
func (r *Runtime) Planets() []observerproto.PlanetView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]observerproto.PlanetView, 0, len(r.ids))
	for _, id := range r.ids {
		if e := r.entities[id]; e.Planet != nil {
			out = append(out, r.planetViewLocked(e))
		}
	}
	return out
}

func (r *Runtime) planetViewLocked(e *entity) observerproto.PlanetView {
	st := *e.Planet
	st.Password = ""
	return observerproto.PlanetView{
		EntityID: e.ID,
		Pos:      e.Pos,
		Owner:    r.authority[e.ID],
		State:    st,
	}
}

// Seed is the world seed the store was generated from.
func (r *Runtime) Seed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seed
}

func (r *Runtime) FramePeriodMs() int { return r.cfg.FramePeriodMs }

func (r *Runtime) Markers() []protocol.EntityID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.EntityID(nil), r.markers...)
}

func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Workers = len(r.workers)
	s.Clients = len(r.clients)
	s.Observers = len(r.observers)
	s.Entities = len(r.entities)
	s.PendingCommands = len(r.pending)
	return s
}

func sortIDs(ids []protocol.EntityID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
