// Package session defines the operation feed a worker consumes and the sends it may issue.
package session

import (
	"spacegame.io/internal/protocol"
	"spacegame.io/internal/sim/planet"
)

type OpKind string

const (
	OpEntityAdded      OpKind = "ENTITY_ADDED"
	OpEntityRemoved    OpKind = "ENTITY_REMOVED"
	OpComponentAdded   OpKind = "COMPONENT_ADDED"
	OpComponentUpdated OpKind = "COMPONENT_UPDATED"
	OpAuthorityChanged OpKind = "AUTHORITY_CHANGED"
	OpCommandRequest   OpKind = "COMMAND_REQUEST"
	OpDisconnect       OpKind = "DISCONNECT"
)

// Op is one inbound operation. Which fields are set depends on Kind.
// Ops are recorded verbatim in the frame log so replays can feed them back.
type Op struct {
	Kind      OpKind                      `json:"kind"`
	EntityID  protocol.EntityID           `json:"entity_id,omitempty"`
	State     *planet.State               `json:"state,omitempty"`
	Update    *planet.Update              `json:"update,omitempty"`
	Authority protocol.Authority          `json:"authority,omitempty"`
	Request   *protocol.CommandRequestMsg `json:"request,omitempty"`
	Reason    string                      `json:"reason,omitempty"`
}

// Session is the platform connection a worker runs against.
// Sends are fire-and-forget: delivery failures are not reported.
type Session interface {
	// Ops is closed when the connection ends.
	Ops() <-chan Op
	SendComponentUpdate(id protocol.EntityID, u planet.Update)
	SendCommandResponse(requestID string, r protocol.CommandResult)
}

// Sender is the outbound half of a Session.
type Sender interface {
	SendComponentUpdate(id protocol.EntityID, u planet.Update)
	SendCommandResponse(requestID string, r protocol.CommandResult)
}

// Op constructors keep call sites short.

func EntityAdded(id protocol.EntityID) Op   { return Op{Kind: OpEntityAdded, EntityID: id} }
func EntityRemoved(id protocol.EntityID) Op { return Op{Kind: OpEntityRemoved, EntityID: id} }

func ComponentAdded(id protocol.EntityID, s planet.State) Op {
	return Op{Kind: OpComponentAdded, EntityID: id, State: &s}
}

func ComponentUpdated(id protocol.EntityID, u planet.Update) Op {
	return Op{Kind: OpComponentUpdated, EntityID: id, Update: &u}
}

func AuthorityChanged(id protocol.EntityID, a protocol.Authority) Op {
	return Op{Kind: OpAuthorityChanged, EntityID: id, Authority: a}
}

func CommandRequest(req protocol.CommandRequestMsg) Op {
	return Op{Kind: OpCommandRequest, EntityID: req.EntityID, Request: &req}
}

func Disconnect(reason string) Op { return Op{Kind: OpDisconnect, Reason: reason} }
