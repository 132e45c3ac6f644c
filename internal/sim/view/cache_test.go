package view

import (
	"math/rand"
	"testing"

	"spacegame.io/internal/protocol"
	"spacegame.io/internal/sim/planet"
)

func TestEntityAddedIdempotent(t *testing.T) {
	c := New(nil)
	c.OnEntityAdded(5)
	c.OnComponentAdded(5, planet.State{Name: "Vega", Minerals: 12})
	c.OnAuthorityChanged(5, protocol.Authoritative)

	c.OnEntityAdded(5)

	e, ok := c.Get(5)
	if !ok {
		t.Fatalf("expected entity 5")
	}
	if !e.HasAuthority() || e.Planet.Name != "Vega" || e.Planet.Minerals != 12 {
		t.Fatalf("re-add clobbered entity: %+v", e)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entity, got %d", c.Len())
	}
}

func TestDefaultsToNotAuthoritative(t *testing.T) {
	c := New(nil)
	c.OnEntityAdded(1)
	e, _ := c.Get(1)
	if e.HasAuthority() || e.IsPlanet() {
		t.Fatalf("fresh entity: %+v", e)
	}
}

func TestAuthorityLossImminentIsNotAuthority(t *testing.T) {
	c := New(nil)
	c.OnEntityAdded(1)
	c.OnAuthorityChanged(1, protocol.Authoritative)
	c.OnAuthorityChanged(1, protocol.AuthorityLossImminent)
	e, _ := c.Get(1)
	if e.HasAuthority() {
		t.Fatalf("loss imminent must not allow writes")
	}
	if e.Authority != protocol.AuthorityLossImminent {
		t.Fatalf("authority value not kept: %v", e.Authority)
	}
}

func TestComponentAddedCreatesAndReplaces(t *testing.T) {
	c := New(nil)
	c.OnComponentAdded(7, planet.State{Name: "A", MineLevel: 3})
	if _, ok := c.Get(7); !ok {
		t.Fatalf("component add must create the entity")
	}
	c.OnComponentAdded(7, planet.State{Name: "B"})
	e, _ := c.Get(7)
	if e.Planet.Name != "B" || e.Planet.MineLevel != 0 {
		t.Fatalf("component add must replace wholesale: %+v", e.Planet)
	}
}

func TestComponentUpdatedDroppedForUnknown(t *testing.T) {
	c := New(nil)
	c.OnComponentUpdated(9, planet.Update{Minerals: planet.Ptr(5.0)})
	if _, ok := c.Get(9); ok {
		t.Fatalf("update must not create entity")
	}
	c.OnEntityAdded(9)
	c.OnComponentUpdated(9, planet.Update{Minerals: planet.Ptr(5.0)})
	e, _ := c.Get(9)
	if e.IsPlanet() || e.Planet.Minerals != 0 {
		t.Fatalf("update must not merge into a missing component: %+v", e)
	}
	if c.Anomalies() != 2 {
		t.Fatalf("expected 2 anomalies, got %d", c.Anomalies())
	}
}

func TestAuthorityForUnknownDropped(t *testing.T) {
	c := New(nil)
	c.OnAuthorityChanged(3, protocol.Authoritative)
	c.OnEntityAdded(3)
	e, _ := c.Get(3)
	if e.HasAuthority() {
		t.Fatalf("authority for unseen entity must not be buffered")
	}
}

func TestRemovedLeavesNoTombstone(t *testing.T) {
	c := New(nil)
	c.OnComponentAdded(2, planet.State{Name: "X", MineLevel: 4})
	c.OnAuthorityChanged(2, protocol.Authoritative)
	c.OnEntityRemoved(2)
	c.OnEntityRemoved(2)
	if _, ok := c.Get(2); ok {
		t.Fatalf("removed entity still visible")
	}
	c.OnEntityAdded(2)
	e, _ := c.Get(2)
	if e.HasAuthority() || e.IsPlanet() {
		t.Fatalf("re-added entity inherited old fields: %+v", e)
	}
	if got := len(c.Entities()); got != 1 {
		t.Fatalf("expected 1 entity in iteration, got %d", got)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c := New(nil)
	c.OnComponentAdded(1, planet.State{Minerals: 1})
	e, _ := c.Get(1)
	e.Planet.Minerals = 99
	again, _ := c.Get(1)
	if again.Planet.Minerals != 1 {
		t.Fatalf("cache aliased by caller")
	}
}

func TestRandomInterleavingNeverExposesRemoved(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	c := New(nil)
	live := map[protocol.EntityID]bool{}
	for i := 0; i < 5000; i++ {
		id := protocol.EntityID(r.Intn(8) + 1)
		switch r.Intn(5) {
		case 0:
			c.OnEntityAdded(id)
			live[id] = true
		case 1:
			c.OnEntityRemoved(id)
			delete(live, id)
		case 2:
			c.OnComponentAdded(id, planet.State{MineLevel: r.Intn(4)})
			live[id] = true
		case 3:
			c.OnComponentUpdated(id, planet.Update{Minerals: planet.Ptr(float64(r.Intn(100)))})
		case 4:
			c.OnAuthorityChanged(id, protocol.Authority(r.Intn(3)))
		}
		for id := protocol.EntityID(1); id <= 8; id++ {
			_, ok := c.Get(id)
			if ok != live[id] {
				t.Fatalf("step %d: entity %d visible=%v want %v", i, id, ok, live[id])
			}
		}
		if len(c.Entities()) != len(live) {
			t.Fatalf("step %d: iteration has %d entities, want %d", i, len(c.Entities()), len(live))
		}
	}
}

func TestDigestIgnoresInsertionOrder(t *testing.T) {
	a, b := New(nil), New(nil)
	a.OnComponentAdded(1, planet.State{Name: "one"})
	a.OnComponentAdded(2, planet.State{Name: "two"})
	b.OnComponentAdded(2, planet.State{Name: "two"})
	b.OnComponentAdded(1, planet.State{Name: "one"})
	if a.Digest() != b.Digest() {
		t.Fatalf("digest depends on insertion order")
	}
	b.OnComponentUpdated(1, planet.Update{Minerals: planet.Ptr(0.5)})
	if a.Digest() == b.Digest() {
		t.Fatalf("digest did not change with state")
	}
}
