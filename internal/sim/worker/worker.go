// Package worker runs the per-frame event loop of one simulation worker.
package worker

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"spacegame.io/internal/protocol"
	"spacegame.io/internal/session"
	"spacegame.io/internal/sim/command"
	"spacegame.io/internal/sim/economy"
	"spacegame.io/internal/sim/planet"
	"spacegame.io/internal/sim/view"
)

// ErrDisconnected is returned by Run and StepOnce once the session reports a disconnect.
var ErrDisconnected = errors.New("worker: session disconnected")

type Config struct {
	ID            string
	FramePeriod   time.Duration
	Costs         planet.CostTable
	EconomySpeed  float64
	ClaimMinerals float64
}

type FrameLogger interface {
	WriteFrame(entry FrameLogEntry) error
}

type CommandLogger interface {
	WriteCommand(entry CommandLogEntry) error
}

// FrameLogEntry records everything needed to replay one frame.
type FrameLogEntry struct {
	WorkerID string               `json:"worker_id"`
	Frame    uint64               `json:"frame"`
	Ops      []session.Op         `json:"ops,omitempty"`
	Updates  []session.SentUpdate `json:"updates,omitempty"`
	Digest   string               `json:"digest"`
	Reason   string               `json:"disconnect_reason,omitempty"`
}

type CommandLogEntry struct {
	WorkerID  string            `json:"worker_id"`
	Frame     uint64            `json:"frame"`
	RequestID string            `json:"request_id"`
	Command   string            `json:"command"`
	EntityID  protocol.EntityID `json:"entity_id"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// Worker is single-threaded: the cache, handlers and engine are only touched from the
// goroutine calling Run or StepOnce.
type Worker struct {
	cfg  Config
	sess session.Session
	log  *log.Logger

	cache    *view.Cache
	engine   economy.Engine
	handlers *command.Handlers
	out      *recordingSender

	frame atomic.Uint64

	frameLogger   FrameLogger
	commandLogger CommandLogger

	metrics         atomic.Value // Metrics
	updatesTotal    uint64
	commandsTotal   uint64
	tickErrorsTotal uint64
}

func New(cfg Config, sess session.Session, logger *log.Logger) *Worker {
	if cfg.FramePeriod <= 0 {
		cfg.FramePeriod = time.Second
	}
	w := &Worker{
		cfg:    cfg,
		sess:   sess,
		log:    logger,
		cache:  view.New(logger),
		engine: economy.Engine{FrameSeconds: cfg.FramePeriod.Seconds()},
		out:    &recordingSender{next: sess},
	}
	w.handlers = command.New(w.cache, w.out, command.Config{
		Costs:         cfg.Costs,
		EconomySpeed:  cfg.EconomySpeed,
		ClaimMinerals: cfg.ClaimMinerals,
	}, logger)
	w.metrics.Store(Metrics{WorkerID: cfg.ID})
	return w
}

func (w *Worker) SetFrameLogger(l FrameLogger)     { w.frameLogger = l }
func (w *Worker) SetCommandLogger(l CommandLogger) { w.commandLogger = l }

func (w *Worker) ID() string { return w.cfg.ID }

// Run drains pending ops, steps one frame, then sleeps for what is left of the frame period.
// It returns ErrDisconnected when the session ends, or ctx.Err() on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		start := time.Now()
		if _, _, err := w.step(w.drain()); err != nil {
			return err
		}
		wait := w.cfg.FramePeriod - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// drain takes the ops queued when the frame starts without blocking; later arrivals wait
// for the next frame. A closed feed becomes a Disconnect.
func (w *Worker) drain() []session.Op {
	var ops []session.Op
	in := w.sess.Ops()
	limit := len(in)
	if limit == 0 {
		limit = 1 // still notice a closed feed
	}
	for i := 0; i < limit; i++ {
		select {
		case op, ok := <-in:
			if !ok {
				return append(ops, session.Disconnect("session closed"))
			}
			ops = append(ops, op)
			if op.Kind == session.OpDisconnect {
				return ops
			}
		default:
			return ops
		}
	}
	return ops
}

// StepOnce runs one frame over ops using the same ordering as Run, without sleeping.
func (w *Worker) StepOnce(ops []session.Op) (frame uint64, digest string, err error) {
	return w.step(ops)
}

func (w *Worker) step(ops []session.Op) (uint64, string, error) {
	start := time.Now()
	frame := w.frame.Load()
	w.out.reset()

	applied := ops
	reason := ""
	disconnected := false
	for i, op := range ops {
		if op.Kind == session.OpDisconnect {
			applied = ops[:i+1]
			reason = op.Reason
			disconnected = true
			break
		}
		w.apply(frame, op)
	}

	if !disconnected {
		_, errs := w.engine.Tick(w.cache, w.out)
		for _, err := range errs {
			w.tickErrorsTotal++
			w.logf("frame %d: tick: %v", frame, err)
		}
	}

	digest := w.cache.Digest()
	if w.frameLogger != nil {
		_ = w.frameLogger.WriteFrame(FrameLogEntry{
			WorkerID: w.cfg.ID,
			Frame:    frame,
			Ops:      applied,
			Updates:  w.out.sent,
			Digest:   digest,
			Reason:   reason,
		})
	}
	w.updatesTotal += uint64(len(w.out.sent))

	if disconnected {
		w.logf("frame %d: disconnected: %s", frame, reason)
		w.storeMetrics(frame, start)
		return frame, digest, ErrDisconnected
	}
	w.frame.Add(1)
	w.storeMetrics(frame+1, start)
	return frame, digest, nil
}

func (w *Worker) apply(frame uint64, op session.Op) {
	switch op.Kind {
	case session.OpEntityAdded:
		w.cache.OnEntityAdded(op.EntityID)
	case session.OpEntityRemoved:
		w.cache.OnEntityRemoved(op.EntityID)
	case session.OpComponentAdded:
		if op.State == nil {
			w.logf("frame %d: COMPONENT_ADDED for %d without state", frame, op.EntityID)
			return
		}
		w.cache.OnComponentAdded(op.EntityID, *op.State)
	case session.OpComponentUpdated:
		if op.Update == nil {
			return
		}
		w.cache.OnComponentUpdated(op.EntityID, *op.Update)
	case session.OpAuthorityChanged:
		w.cache.OnAuthorityChanged(op.EntityID, op.Authority)
	case session.OpCommandRequest:
		if op.Request == nil {
			return
		}
		w.handleCommand(frame, *op.Request)
	default:
		w.logf("frame %d: unknown op %q", frame, op.Kind)
	}
}

func (w *Worker) handleCommand(frame uint64, req protocol.CommandRequestMsg) {
	res := w.handlers.Handle(req)
	w.sess.SendCommandResponse(req.RequestID, res)
	w.commandsTotal++
	if w.commandLogger != nil {
		_ = w.commandLogger.WriteCommand(CommandLogEntry{
			WorkerID:  w.cfg.ID,
			Frame:     frame,
			RequestID: req.RequestID,
			Command:   req.Command,
			EntityID:  req.EntityID,
			Code:      res.Code,
			Message:   res.Message,
		})
	}
}

// View returns a copy of one entity, for tests and diagnostics.
// Only safe from the loop goroutine or when the loop is not running.
func (w *Worker) View(id protocol.EntityID) (view.Entity, bool) { return w.cache.Get(id) }

func (w *Worker) logf(format string, args ...any) {
	if w.log != nil {
		w.log.Printf(format, args...)
	}
}

// recordingSender forwards component updates and keeps the ones sent this frame.
type recordingSender struct {
	next session.Sender
	sent []session.SentUpdate
}

func (s *recordingSender) reset() { s.sent = nil }

func (s *recordingSender) SendComponentUpdate(id protocol.EntityID, u planet.Update) {
	s.sent = append(s.sent, session.SentUpdate{EntityID: id, Update: u})
	s.next.SendComponentUpdate(id, u)
}
