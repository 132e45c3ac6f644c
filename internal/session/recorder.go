package session

import (
	"sync"

	"spacegame.io/internal/protocol"
	"spacegame.io/internal/sim/planet"
)

type SentUpdate struct {
	EntityID protocol.EntityID `json:"entity_id"`
	Update   planet.Update     `json:"update"`
}

type SentResponse struct {
	RequestID string                 `json:"request_id"`
	Result    protocol.CommandResult `json:"result"`
}

// Recorder is an in-memory Session used by tests and replays.
type Recorder struct {
	ops chan Op

	mu        sync.Mutex
	updates   []SentUpdate
	responses []SentResponse
	closed    bool
}

func NewRecorder(buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{ops: make(chan Op, buffer)}
}

func (r *Recorder) Ops() <-chan Op { return r.ops }

// Push enqueues ops. It blocks when the buffer is full.
func (r *Recorder) Push(ops ...Op) {
	for _, op := range ops {
		r.ops <- op
	}
}

func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.ops)
}

func (r *Recorder) SendComponentUpdate(id protocol.EntityID, u planet.Update) {
	r.mu.Lock()
	r.updates = append(r.updates, SentUpdate{EntityID: id, Update: u})
	r.mu.Unlock()
}

func (r *Recorder) SendCommandResponse(requestID string, res protocol.CommandResult) {
	r.mu.Lock()
	r.responses = append(r.responses, SentResponse{RequestID: requestID, Result: res})
	r.mu.Unlock()
}

func (r *Recorder) Updates() []SentUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentUpdate(nil), r.updates...)
}

func (r *Recorder) Responses() []SentResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentResponse(nil), r.responses...)
}

// UpdatesFor returns the updates sent for one entity, in send order.
func (r *Recorder) UpdatesFor(id protocol.EntityID) []planet.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []planet.Update
	for _, u := range r.updates {
		if u.EntityID == id {
			out = append(out, u.Update)
		}
	}
	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.updates = nil
	r.responses = nil
	r.mu.Unlock()
}
