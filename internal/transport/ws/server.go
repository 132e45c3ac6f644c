package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"spacegame.io/internal/protocol"
	"spacegame.io/internal/runtime"
)

const (
	writeWait    = 5 * time.Second
	readWait     = 60 * time.Second
	pingInterval = 20 * time.Second

	workerQueue = 8192
	clientQueue = 64
)

// Server accepts worker and client connections for a runtime.
type Server struct {
	rt        *runtime.Runtime
	validator *protocol.Validator
	log       *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(rt *runtime.Runtime, validator *protocol.Validator, logger *log.Logger) *Server {
	return &Server{
		rt:        rt,
		validator: validator,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

// peer is the runtime's handle on one connection. Send never blocks: a peer whose queue
// overflows is disconnected.
type peer struct {
	id   string
	conn *websocket.Conn
	out  chan []byte
	log  func(string, ...any)

	once sync.Once
}

func (p *peer) SessionID() string { return p.id }

func (p *peer) Send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		p.log("session %s: marshal %T: %v", p.id, v, err)
		return
	}
	select {
	case p.out <- b:
	default:
		p.once.Do(func() {
			p.log("session %s: send queue full, closing", p.id)
			_ = p.conn.Close()
		})
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		hello, ok := s.handshake(conn)
		if !ok {
			return
		}
		queue := clientQueue
		if hello.Role == protocol.RoleWorker {
			queue = workerQueue
		}
		p := &peer{id: uuid.NewString(), conn: conn, out: make(chan []byte, queue), log: s.logf}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			ping := time.NewTicker(pingInterval)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
						_ = conn.Close()
						return
					}
				case b := <-p.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})

		switch hello.Role {
		case protocol.RoleWorker:
			s.rt.ConnectWorker(p, hello.WorkerID)
			s.readWorker(conn, p)
		case protocol.RoleClient:
			s.rt.ConnectClient(p)
			s.readClient(conn, p)
		}

		// Cleanup.
		s.rt.Disconnect(p.id)
	}
}

func (s *Server) readWorker(conn *websocket.Conn, p *peer) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.ProtocolVersion != protocol.Version {
			continue
		}
		switch base.Type {
		case protocol.TypeComponentUpdate:
			var m protocol.ComponentUpdateMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				s.logf("session %s: bad COMPONENT_UPDATE: %v", p.id, err)
				continue
			}
			s.rt.HandleComponentUpdate(p.id, m)
		case protocol.TypeCommandResponse:
			var m protocol.CommandResponseMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				s.logf("session %s: bad COMMAND_RESPONSE: %v", p.id, err)
				continue
			}
			s.rt.HandleCommandResponse(p.id, m)
		case protocol.TypeDisconnect:
			return
		}
	}
}

func (s *Server) readClient(conn *websocket.Conn, p *peer) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeCommandRequest:
			s.rt.HandleCommandRequest(p.id, msg)
		case protocol.TypeDisconnect:
			return
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (protocol.HelloMsg, bool) {
	var hello protocol.HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(writeWait))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return hello, false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return hello, false
	}
	if s.validator != nil {
		if err := s.validator.ValidateHello(msg); err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
			return hello, false
		}
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		return hello, false
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return hello, false
	}
	switch hello.Role {
	case protocol.RoleWorker:
		if hello.WorkerID == "" {
			closeWith(conn, websocket.ClosePolicyViolation, "missing worker_id")
			return hello, false
		}
	case protocol.RoleClient:
	default:
		closeWith(conn, websocket.ClosePolicyViolation, "unknown role")
		return hello, false
	}
	return hello, true
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
