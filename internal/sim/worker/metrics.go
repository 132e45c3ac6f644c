package worker

import (
	"time"
)

// Metrics is a read-only view of the loop, safe to read from HTTP handlers.
type Metrics struct {
	WorkerID string `json:"worker_id"`
	Frame    uint64 `json:"frame"`

	Entities      int `json:"entities"`
	Planets       int `json:"planets"`
	Authoritative int `json:"authoritative"`
	OwnedPlanets  int `json:"owned_planets"`

	StepMS float64 `json:"step_ms"`

	UpdatesSent      uint64 `json:"updates_sent"`
	CommandsHandled  uint64 `json:"commands_handled"`
	TickErrors       uint64 `json:"tick_errors"`
	ReplicationDrops uint64 `json:"replication_drops"`
}

func (w *Worker) Metrics() Metrics {
	if w == nil {
		return Metrics{}
	}
	m, _ := w.metrics.Load().(Metrics)
	return m
}

func (w *Worker) storeMetrics(frame uint64, start time.Time) {
	m := Metrics{
		WorkerID:         w.cfg.ID,
		Frame:            frame,
		Entities:         w.cache.Len(),
		StepMS:           float64(time.Since(start).Microseconds()) / 1000.0,
		UpdatesSent:      w.updatesTotal,
		CommandsHandled:  w.commandsTotal,
		TickErrors:       w.tickErrorsTotal,
		ReplicationDrops: w.cache.Anomalies(),
	}
	for _, e := range w.cache.Entities() {
		if e.HasAuthority() {
			m.Authoritative++
		}
		if e.IsPlanet() {
			m.Planets++
			if e.HasAuthority() && e.Planet.Claimed() {
				m.OwnedPlanets++
			}
		}
	}
	w.metrics.Store(m)
}
