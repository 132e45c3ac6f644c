package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"spacegame.io/internal/protocol"
	"spacegame.io/internal/session"
	"spacegame.io/internal/sim/planet"
)

var ErrClosed = errors.New("ws: connection closed")

// dial connects to the runtime, sends HELLO and waits for WELCOME.
func dial(ctx context.Context, url string, hello protocol.HelloMsg) (*websocket.Conn, protocol.WelcomeMsg, error) {
	var welcome protocol.WelcomeMsg
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, welcome, fmt.Errorf("dial %s: %w", url, err)
	}
	hello.Type = protocol.TypeHello
	hello.ProtocolVersion = protocol.Version
	if err := writeJSON(conn, hello); err != nil {
		_ = conn.Close()
		return nil, welcome, fmt.Errorf("send hello: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, welcome, fmt.Errorf("read welcome: %w", err)
	}
	if err := json.Unmarshal(msg, &welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		_ = conn.Close()
		return nil, welcome, fmt.Errorf("expected WELCOME, got %s", truncate(msg, 120))
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, welcome, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// WorkerConn is a worker's session over a websocket. Inbound replication and commands
// become Ops; sends are queued to a writer goroutine and dropped when the queue is full.
type WorkerConn struct {
	conn    *websocket.Conn
	log     *log.Logger
	welcome protocol.WelcomeMsg

	ops  chan session.Op
	out  chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	dropped uint64
}

var _ session.Session = (*WorkerConn)(nil)

func DialWorker(ctx context.Context, url, workerID string, logger *log.Logger) (*WorkerConn, error) {
	conn, welcome, err := dial(ctx, url, protocol.HelloMsg{Role: protocol.RoleWorker, WorkerID: workerID})
	if err != nil {
		return nil, err
	}
	w := &WorkerConn{
		conn:    conn,
		log:     logger,
		welcome: welcome,
		ops:     make(chan session.Op, workerQueue),
		out:     make(chan []byte, workerQueue),
		done:    make(chan struct{}),
	}
	go w.writeLoop()
	go w.readLoop()
	return w, nil
}

func (w *WorkerConn) SessionID() string { return w.welcome.SessionID }

// FramePeriod is the frame period the runtime announced, or 0.
func (w *WorkerConn) FramePeriod() time.Duration {
	return time.Duration(w.welcome.FramePeriodMS) * time.Millisecond
}

func (w *WorkerConn) Ops() <-chan session.Op { return w.ops }

func (w *WorkerConn) SendComponentUpdate(id protocol.EntityID, u planet.Update) {
	w.send(protocol.ComponentUpdateMsg{
		Type:            protocol.TypeComponentUpdate,
		ProtocolVersion: protocol.Version,
		EntityID:        id,
		Update:          u,
	})
}

func (w *WorkerConn) SendCommandResponse(requestID string, r protocol.CommandResult) {
	w.send(protocol.CommandResponseMsg{
		Type:            protocol.TypeCommandResponse,
		ProtocolVersion: protocol.Version,
		RequestID:       requestID,
		Code:            r.Code,
		Message:         r.Message,
		Payload:         r.Payload,
	})
}

// Dropped counts sends lost to a full queue or a closed connection.
func (w *WorkerConn) Dropped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *WorkerConn) send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.logf("marshal %T: %v", v, err)
		return
	}
	select {
	case <-w.done:
		w.drop()
	case w.out <- b:
	default:
		w.drop()
	}
}

func (w *WorkerConn) drop() {
	w.mu.Lock()
	w.dropped++
	w.mu.Unlock()
}

// Close sends a close frame and closes the socket. Ops is closed by the read loop.
func (w *WorkerConn) Close() error {
	var err error
	w.once.Do(func() {
		closeWith(w.conn, websocket.CloseNormalClosure, "worker shutting down")
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

func (w *WorkerConn) logf(format string, args ...any) {
	if w.log != nil {
		w.log.Printf(format, args...)
	}
}

func (w *WorkerConn) writeLoop() {
	for {
		select {
		case <-w.done:
			return
		case b := <-w.out:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				w.logf("write: %v", err)
				_ = w.Close()
				return
			}
		}
	}
}

func (w *WorkerConn) readLoop() {
	defer close(w.ops)
	defer w.Close()
	for {
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
			default:
				w.logf("read: %v", err)
			}
			return
		}
		op, ok, err := decodeOp(msg)
		if err != nil {
			w.logf("decode: %v", err)
			continue
		}
		if !ok {
			continue
		}
		select {
		case w.ops <- op:
		case <-w.done:
			return
		}
		if op.Kind == session.OpDisconnect {
			return
		}
	}
}

// decodeOp maps a runtime message onto an Op. ok is false for messages a worker ignores.
func decodeOp(msg []byte) (op session.Op, ok bool, err error) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return op, false, err
	}
	if base.ProtocolVersion != protocol.Version {
		return op, false, fmt.Errorf("protocol_version %q", base.ProtocolVersion)
	}
	switch base.Type {
	case protocol.TypeEntityAdded:
		var m protocol.EntityAddedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return op, false, err
		}
		return session.EntityAdded(m.EntityID), true, nil
	case protocol.TypeEntityRemoved:
		var m protocol.EntityRemovedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return op, false, err
		}
		return session.EntityRemoved(m.EntityID), true, nil
	case protocol.TypeComponentAdded:
		var m protocol.ComponentAddedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return op, false, err
		}
		return session.ComponentAdded(m.EntityID, m.State), true, nil
	case protocol.TypeComponentUpdated:
		var m protocol.ComponentUpdatedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return op, false, err
		}
		return session.ComponentUpdated(m.EntityID, m.Update), true, nil
	case protocol.TypeAuthorityChanged:
		var m protocol.AuthorityChangedMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return op, false, err
		}
		return session.AuthorityChanged(m.EntityID, m.Authority), true, nil
	case protocol.TypeCommandRequest:
		var m protocol.CommandRequestMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return op, false, err
		}
		return session.CommandRequest(m), true, nil
	case protocol.TypeDisconnect:
		var m protocol.DisconnectMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return op, false, err
		}
		return session.Disconnect(m.Reason), true, nil
	}
	return op, false, nil
}

// ClientConn issues commands to the runtime and waits for their responses.
type ClientConn struct {
	conn    *websocket.Conn
	log     *log.Logger
	welcome protocol.WelcomeMsg

	writeMu sync.Mutex
	mu      sync.Mutex
	waiting map[string]chan protocol.CommandResponseMsg
	done    chan struct{}
	once    sync.Once
}

func DialClient(ctx context.Context, url, name string, logger *log.Logger) (*ClientConn, error) {
	conn, welcome, err := dial(ctx, url, protocol.HelloMsg{Role: protocol.RoleClient, ClientName: name})
	if err != nil {
		return nil, err
	}
	c := &ClientConn{
		conn:    conn,
		log:     logger,
		welcome: welcome,
		waiting: map[string]chan protocol.CommandResponseMsg{},
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *ClientConn) SessionID() string { return c.welcome.SessionID }

// Markers are the authority marker entities, one per worker slot.
func (c *ClientConn) Markers() []protocol.EntityID {
	return append([]protocol.EntityID(nil), c.welcome.MarkerIDs...)
}

// Request sends a command targeted at entity and waits for its response or ctx.
func (c *ClientConn) Request(ctx context.Context, entity protocol.EntityID, command string, payload any) (protocol.CommandResponseMsg, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return protocol.CommandResponseMsg{}, err
	}
	id := uuid.NewString()
	ch := make(chan protocol.CommandResponseMsg, 1)
	c.mu.Lock()
	c.waiting[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiting, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err = writeJSON(c.conn, protocol.CommandRequestMsg{
		Type:            protocol.TypeCommandRequest,
		ProtocolVersion: protocol.Version,
		RequestID:       id,
		EntityID:        entity,
		Command:         command,
		Payload:         p,
	})
	c.writeMu.Unlock()
	if err != nil {
		return protocol.CommandResponseMsg{}, fmt.Errorf("send %s: %w", command, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return protocol.CommandResponseMsg{}, ctx.Err()
	case <-c.done:
		return protocol.CommandResponseMsg{}, ErrClosed
	}
}

func (c *ClientConn) Close() error {
	var err error
	c.once.Do(func() {
		closeWith(c.conn, websocket.CloseNormalClosure, "client quit")
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *ClientConn) readLoop() {
	defer c.Close()
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeCommandResponse {
			continue
		}
		var resp protocol.CommandResponseMsg
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch := c.waiting[resp.RequestID]
		c.mu.Unlock()
		if ch == nil {
			// Late answer to a request that already timed out.
			continue
		}
		select {
		case ch <- resp:
		default:
		}
	}
}
