package protocol

import (
	"encoding/json"
	"fmt"

	"spacegame.io/internal/sim/planet"
)

// EntityID identifies a world entity. Ids are assigned by the snapshot and never reused.
type EntityID int64

// NotAuthoritativeHere is the AssignPlanet planet id a worker answers when it does not
// hold the requested entity, so a caller fanning out can tell which worker does.
const NotAuthoritativeHere EntityID = -1

// Authority is the write permission a worker holds over one entity.
type Authority uint8

const (
	NotAuthoritative Authority = iota
	Authoritative
	AuthorityLossImminent
)

var authorityNames = [...]string{
	NotAuthoritative:      "NOT_AUTHORITATIVE",
	Authoritative:         "AUTHORITATIVE",
	AuthorityLossImminent: "AUTHORITY_LOSS_IMMINENT",
}

func (a Authority) String() string {
	if int(a) < len(authorityNames) {
		return authorityNames[a]
	}
	return fmt.Sprintf("Authority(%d)", uint8(a))
}

func (a Authority) MarshalText() ([]byte, error) {
	if int(a) >= len(authorityNames) {
		return nil, fmt.Errorf("invalid authority %d", uint8(a))
	}
	return []byte(authorityNames[a]), nil
}

func (a *Authority) UnmarshalText(b []byte) error {
	for i, n := range authorityNames {
		if n == string(b) {
			*a = Authority(i)
			return nil
		}
	}
	return fmt.Errorf("unknown authority %q", string(b))
}

// HELLO (peer -> runtime)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Role            string `json:"role"`
	WorkerID        string `json:"worker_id,omitempty"`
	ClientName      string `json:"client_name,omitempty"`
}

// WELCOME (runtime -> peer)
type WelcomeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SessionID       string     `json:"session_id"`
	FramePeriodMS   int        `json:"frame_period_ms,omitempty"`
	MarkerIDs       []EntityID `json:"marker_ids,omitempty"`
}

type EntityAddedMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	EntityID        EntityID `json:"entity_id"`
}

type EntityRemovedMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	EntityID        EntityID `json:"entity_id"`
}

// COMPONENT_ADDED carries the full planet state.
type ComponentAddedMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	EntityID        EntityID     `json:"entity_id"`
	State           planet.State `json:"state"`
}

// COMPONENT_UPDATED carries only the fields that changed.
type ComponentUpdatedMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	EntityID        EntityID      `json:"entity_id"`
	Update          planet.Update `json:"update"`
}

type AuthorityChangedMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	EntityID        EntityID  `json:"entity_id"`
	Authority       Authority `json:"authority"`
}

// COMPONENT_UPDATE (worker -> runtime)
type ComponentUpdateMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	EntityID        EntityID      `json:"entity_id"`
	Update          planet.Update `json:"update"`
}

type CommandRequestMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	RequestID       string          `json:"request_id"`
	EntityID        EntityID        `json:"entity_id"`
	Command         string          `json:"command"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

type CommandResponseMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	RequestID       string          `json:"request_id"`
	Command         string          `json:"command,omitempty"`
	Code            string          `json:"code,omitempty"`
	Message         string          `json:"message,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// CommandResult is the outcome of one command. Code is empty on success.
type CommandResult struct {
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (r CommandResult) OK() bool { return r.Code == "" }

type DisconnectMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Reason          string `json:"reason"`
}
