// Package view holds a worker's local, possibly stale replica of the entities it has been told about.
package view

import (
	"log"

	"spacegame.io/internal/protocol"
	"spacegame.io/internal/sim/planet"
)

// Entity is one replicated entity as last observed. Values handed out by the Cache are copies.
type Entity struct {
	ID        protocol.EntityID  `json:"id"`
	Authority protocol.Authority `json:"authority"`
	HasPlanet bool               `json:"has_planet"`
	Planet    planet.State       `json:"planet"`
}

// HasAuthority reports whether writes may be originated. Imminent loss counts as no authority.
func (e Entity) HasAuthority() bool { return e.Authority == protocol.Authoritative }

func (e Entity) IsPlanet() bool { return e.HasPlanet }

// Cache maps entity id to Entity. It is owned by the event loop goroutine and is not safe
// for concurrent use.
type Cache struct {
	entities map[protocol.EntityID]*Entity
	order    []protocol.EntityID

	log       *log.Logger
	anomalies uint64
}

func New(logger *log.Logger) *Cache {
	return &Cache{
		entities: map[protocol.EntityID]*Entity{},
		log:      logger,
	}
}

func (c *Cache) insert(id protocol.EntityID) *Entity {
	e := &Entity{ID: id}
	c.entities[id] = e
	c.order = append(c.order, id)
	return e
}

// OnEntityAdded is idempotent: an existing entry keeps its authority and state.
func (c *Cache) OnEntityAdded(id protocol.EntityID) {
	if _, ok := c.entities[id]; ok {
		return
	}
	c.insert(id)
}

func (c *Cache) OnEntityRemoved(id protocol.EntityID) {
	if _, ok := c.entities[id]; !ok {
		return
	}
	delete(c.entities, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// OnComponentAdded replaces the planet state wholesale, creating the entry if the
// component add raced ahead of the entity add.
func (c *Cache) OnComponentAdded(id protocol.EntityID, s planet.State) {
	e, ok := c.entities[id]
	if !ok {
		e = c.insert(id)
	}
	e.Planet = s
	e.HasPlanet = true
}

// OnComponentUpdated merges the present fields. Updates for unknown entities, or for
// entities whose component was never added, are logged and dropped.
func (c *Cache) OnComponentUpdated(id protocol.EntityID, u planet.Update) {
	e, ok := c.entities[id]
	if !ok {
		c.anomaly("component update for unknown entity %d", id)
		return
	}
	if !e.HasPlanet {
		c.anomaly("component update for entity %d without planet component", id)
		return
	}
	e.Planet.Apply(u)
}

// OnAuthorityChanged drops notifications for unseen entities rather than buffering them.
func (c *Cache) OnAuthorityChanged(id protocol.EntityID, a protocol.Authority) {
	e, ok := c.entities[id]
	if !ok {
		c.anomaly("authority %s for unknown entity %d", a, id)
		return
	}
	e.Authority = a
}

// ApplyLocal merges a write this worker originated so its own handlers read it back
// before the platform echoes it. It reports whether the entity still exists.
func (c *Cache) ApplyLocal(id protocol.EntityID, u planet.Update) bool {
	e, ok := c.entities[id]
	if !ok || !e.HasPlanet {
		return false
	}
	e.Planet.Apply(u)
	return true
}

func (c *Cache) Get(id protocol.EntityID) (Entity, bool) {
	e, ok := c.entities[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Entities returns a snapshot in insertion order.
func (c *Cache) Entities() []Entity {
	out := make([]Entity, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.entities[id])
	}
	return out
}

func (c *Cache) Len() int { return len(c.entities) }

// Anomalies counts dropped replication events.
func (c *Cache) Anomalies() uint64 { return c.anomalies }

func (c *Cache) anomaly(format string, args ...any) {
	c.anomalies++
	if c.log != nil {
		c.log.Printf("replication anomaly: "+format, args...)
	}
}
