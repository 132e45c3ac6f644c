// Package command answers AssignPlanet, PlanetInfo and PlanetImprovement against a worker's view.
package command

import (
	"encoding/json"
	"fmt"
	"log"

	"spacegame.io/internal/protocol"
	"spacegame.io/internal/sim/planet"
	"spacegame.io/internal/sim/view"
)

// Error is a protocol-level failure. Domain refusals are not Errors: they are normal
// responses carrying a message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

type Config struct {
	Costs         planet.CostTable
	EconomySpeed  float64
	ClaimMinerals float64
}

// Cache is the subset of the view the handlers need.
type Cache interface {
	Get(id protocol.EntityID) (view.Entity, bool)
	Entities() []view.Entity
	ApplyLocal(id protocol.EntityID, u planet.Update) bool
}

type Sender interface {
	SendComponentUpdate(id protocol.EntityID, u planet.Update)
}

// Handlers never block and never touch the network beyond fire-and-forget sends.
type Handlers struct {
	cache Cache
	out   Sender
	cfg   Config
	log   *log.Logger
}

func New(cache Cache, out Sender, cfg Config, logger *log.Logger) *Handlers {
	if cfg.EconomySpeed <= 0 {
		cfg.EconomySpeed = 1
	}
	return &Handlers{cache: cache, out: out, cfg: cfg, log: logger}
}

// write merges u locally and sends it. The send may silently fail if authority is lost in flight.
func (h *Handlers) write(id protocol.EntityID, u planet.Update) {
	h.cache.ApplyLocal(id, u)
	h.out.SendComponentUpdate(id, u)
}

func (h *Handlers) AssignPlanet(req protocol.AssignPlanetRequest) (protocol.AssignPlanetResponse, *Error) {
	if req.PlayerID == "" {
		return protocol.AssignPlanetResponse{}, errorf(protocol.ErrBadRequest, "missing player_id")
	}
	if req.PlanetID != 0 {
		return h.assignKnown(req), nil
	}

	for _, e := range h.cache.Entities() {
		if !e.HasAuthority() || !e.IsPlanet() || e.Planet.Claimed() {
			continue
		}
		h.write(e.ID, planet.Update{
			OwnerPlayerID: planet.Ptr(req.PlayerID),
			Minerals:      planet.Ptr(h.cfg.ClaimMinerals),
		})
		return protocol.AssignPlanetResponse{
			PlanetID:   e.ID,
			PlanetName: e.Planet.Name,
			Password:   e.Planet.Password,
			Message:    fmt.Sprintf("Assigned planet %s to %s", e.Planet.Name, req.PlayerID),
		}, nil
	}
	return protocol.AssignPlanetResponse{}, errorf(protocol.ErrNoCandidate, "no unclaimed planet available on this worker")
}

func (h *Handlers) assignKnown(req protocol.AssignPlanetRequest) protocol.AssignPlanetResponse {
	e, ok := h.cache.Get(req.PlanetID)
	if !ok || !e.HasAuthority() {
		return protocol.AssignPlanetResponse{
			PlanetID: protocol.NotAuthoritativeHere,
			Message:  fmt.Sprintf("planet %d is not authoritative here", req.PlanetID),
		}
	}
	if !e.IsPlanet() {
		return protocol.AssignPlanetResponse{Message: fmt.Sprintf("entity %d is not a planet", req.PlanetID)}
	}
	if e.Planet.Password != req.Password {
		return protocol.AssignPlanetResponse{Message: fmt.Sprintf("wrong password for planet %d", req.PlanetID)}
	}
	h.write(e.ID, planet.Update{OwnerPlayerID: planet.Ptr(req.PlayerID)})
	return protocol.AssignPlanetResponse{
		PlanetID:   e.ID,
		PlanetName: e.Planet.Name,
		Password:   e.Planet.Password,
		Message:    fmt.Sprintf("Welcome back to %s", e.Planet.Name),
	}
}

func (h *Handlers) PlanetInfo(req protocol.PlanetInfoRequest) (protocol.PlanetInfoResponse, *Error) {
	e, ok := h.cache.Get(req.PlanetID)
	if !ok || !e.IsPlanet() {
		return protocol.PlanetInfoResponse{}, errorf(protocol.ErrNotFound, "no planet found for id %d", req.PlanetID)
	}
	return protocol.NewPlanetInfoResponse(e.ID, e.Planet), nil
}

func (h *Handlers) PlanetImprovement(req protocol.PlanetImprovementRequest) (protocol.PlanetImprovementResponse, *Error) {
	e, ok := h.cache.Get(req.PlanetID)
	if !ok || !e.IsPlanet() {
		return protocol.PlanetImprovementResponse{}, errorf(protocol.ErrNotFound, "no planet found for id %d", req.PlanetID)
	}
	imp := req.Improvement
	if imp == planet.None || !imp.Valid() {
		return protocol.PlanetImprovementResponse{}, errorf(protocol.ErrBadRequest, "cannot build %s", imp)
	}
	p := e.Planet

	if p.Building() {
		return refusal("%s is already building %s, %d seconds remaining",
			p.Name, p.BuildQueue, int(p.BuildQueueRemainingSeconds)), nil
	}
	cost, err := h.cfg.Costs.Cost(p, imp)
	if err != nil {
		return protocol.PlanetImprovementResponse{}, errorf(protocol.ErrInternal, "%v", err)
	}
	if p.Minerals < cost {
		return refusal("Not enough minerals to build %s: costs %d, %d available",
			imp, int(cost), int(p.Minerals)), nil
	}
	if imp == planet.Probe && p.HangarFull() {
		return refusal("Hangar full: %d / %d probes, upgrade the hangar first",
			p.ProbeCount, p.ProbeCapacity()), nil
	}
	if !e.HasAuthority() {
		return protocol.PlanetImprovementResponse{}, errorf(protocol.ErrNotAuthoritative, "planet %d is not authoritative here", req.PlanetID)
	}

	secs := planet.BuildSeconds(cost, p.NanobotLevel, h.cfg.EconomySpeed)
	h.write(e.ID, planet.Update{
		BuildQueue:                 planet.Ptr(imp),
		BuildQueueRemainingSeconds: planet.Ptr(secs),
		ReservedBuildMaterials:     planet.Ptr(cost),
	})
	return protocol.PlanetImprovementResponse{
		Message: fmt.Sprintf("Building %s on %s, ready in %d seconds", imp, p.Name, int(secs)),
	}, nil
}

func refusal(format string, args ...any) protocol.PlanetImprovementResponse {
	return protocol.PlanetImprovementResponse{Message: fmt.Sprintf(format, args...)}
}

// Handle decodes a request, runs the matching handler and always produces a result.
func (h *Handlers) Handle(req protocol.CommandRequestMsg) protocol.CommandResult {
	var (
		payload any
		cerr    *Error
	)
	switch req.Command {
	case protocol.CmdAssignPlanet:
		var r protocol.AssignPlanetRequest
		if cerr = decode(req.Payload, &r); cerr == nil {
			payload, cerr = h.AssignPlanet(r)
		}
	case protocol.CmdPlanetInfo:
		var r protocol.PlanetInfoRequest
		if cerr = decode(req.Payload, &r); cerr == nil {
			payload, cerr = h.PlanetInfo(r)
		}
	case protocol.CmdPlanetImprovement:
		var r protocol.PlanetImprovementRequest
		if cerr = decode(req.Payload, &r); cerr == nil {
			payload, cerr = h.PlanetImprovement(r)
		}
	default:
		cerr = errorf(protocol.ErrBadRequest, "unknown command %q", req.Command)
	}
	if cerr != nil {
		if h.log != nil {
			h.log.Printf("command %s %s: %v", req.Command, req.RequestID, cerr)
		}
		return protocol.CommandResult{Code: cerr.Code, Message: cerr.Message}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return protocol.CommandResult{Code: protocol.ErrInternal, Message: err.Error()}
	}
	return protocol.CommandResult{Payload: b}
}

func decode(raw json.RawMessage, v any) *Error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errorf(protocol.ErrBadRequest, "bad payload: %v", err)
	}
	return nil
}
