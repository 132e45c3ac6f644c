package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"

	// Replication feed (runtime -> worker).
	TypeEntityAdded      = "ENTITY_ADDED"
	TypeEntityRemoved    = "ENTITY_REMOVED"
	TypeComponentAdded   = "COMPONENT_ADDED"
	TypeComponentUpdated = "COMPONENT_UPDATED"
	TypeAuthorityChanged = "AUTHORITY_CHANGED"

	// Commands (client -> runtime -> worker and back).
	TypeCommandRequest  = "COMMAND_REQUEST"
	TypeCommandResponse = "COMMAND_RESPONSE"

	// Worker write (worker -> runtime).
	TypeComponentUpdate = "COMPONENT_UPDATE"

	TypeDisconnect = "DISCONNECT"
)

// Peer roles announced in HELLO.
const (
	RoleWorker = "worker"
	RoleClient = "client"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
