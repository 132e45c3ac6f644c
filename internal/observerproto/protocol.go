package observerproto

import (
	"spacegame.io/internal/protocol"
	"spacegame.io/internal/sim/planet"
)

// Version is the observer protocol version (separate from the worker/client WS protocol).
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypePlanet    = "PLANET"
)

// Client -> Server. First message on the observer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string              `json:"protocol_version"`
	Seed            int64               `json:"seed"`
	FramePeriodMs   int                 `json:"frame_period_ms"`
	Markers         []protocol.EntityID `json:"markers"`
	Planets         []PlanetView        `json:"planets"`
}

// PlanetView is one planet as the runtime currently holds it.
type PlanetView struct {
	EntityID protocol.EntityID `json:"entity_id"`
	Pos      [2]int            `json:"pos"`

	// Owner is the session id of the authoritative worker, empty when none.
	Owner string       `json:"owner,omitempty"`
	State planet.State `json:"state"`
}

// Server -> Client. Sent after every accepted worker write.
type PlanetMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Planet          PlanetView `json:"planet"`
}
