// Package economy advances build queues and mineral production for owned planets.
package economy

import (
	"fmt"

	"spacegame.io/internal/protocol"
	"spacegame.io/internal/sim/planet"
	"spacegame.io/internal/sim/view"
)

// Engine advances planets by one frame. All time math is in frame units, never wall clock.
type Engine struct {
	FrameSeconds float64
}

// Advance returns s after one frame. The only error is a queued value outside the closed
// improvement set.
func (e Engine) Advance(s planet.State) (planet.State, error) {
	if s.BuildQueue != planet.None {
		if s.BuildQueueRemainingSeconds-e.FrameSeconds <= 0 {
			if err := s.Complete(s.BuildQueue); err != nil {
				return s, fmt.Errorf("complete build: %w", err)
			}
			s.BuildQueue = planet.None
			s.BuildQueueRemainingSeconds = 0
		} else {
			s.BuildQueueRemainingSeconds -= e.FrameSeconds
		}
	}

	// Payment and production are exclusive within a frame.
	if s.ReservedBuildMaterials > 0 {
		s.Minerals -= s.ReservedBuildMaterials
		s.ReservedBuildMaterials = 0
	} else {
		// Stock above capacity, e.g. a claim grant on a planet without deposits, is cut back.
		capacity := s.MineralCapacity()
		s.Minerals += float64(s.MineLevel) * e.FrameSeconds
		if s.Minerals > capacity {
			s.Minerals = capacity
		}
	}
	return s, nil
}

// Cache is the view the tick reads and writes back into.
type Cache interface {
	Entities() []view.Entity
	ApplyLocal(id protocol.EntityID, u planet.Update) bool
}

// Sender receives the partial update of every planet that changed.
type Sender interface {
	SendComponentUpdate(id protocol.EntityID, u planet.Update)
}

type TickStats struct {
	Visited int
	Updated int
	Failed  int
}

// Tick advances every authoritative, owned planet once.
func (e Engine) Tick(c Cache, out Sender) (TickStats, []error) {
	var stats TickStats
	var errs []error
	for _, ent := range c.Entities() {
		if !ent.HasAuthority() || !ent.IsPlanet() || !ent.Planet.Claimed() {
			continue
		}
		stats.Visited++
		next, err := e.Advance(ent.Planet)
		if err != nil {
			stats.Failed++
			errs = append(errs, fmt.Errorf("entity %d: %w", ent.ID, err))
			continue
		}
		u := planet.Diff(ent.Planet, next)
		if u.Empty() {
			continue
		}
		c.ApplyLocal(ent.ID, u)
		out.SendComponentUpdate(ent.ID, u)
		stats.Updated++
	}
	return stats, errs
}
