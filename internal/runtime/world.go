package runtime

import (
	"fmt"
	"log"
	"math/rand"

	"spacegame.io/internal/persistence/snapshot"
	"spacegame.io/internal/protocol"
	"spacegame.io/internal/sim/planet"
	"spacegame.io/internal/sim/tuning"
)

var (
	namePrefixes = []string{
		"Kepler", "Gliese", "Tau", "Vega", "Rigel", "Altair", "Deneb", "Sirius",
		"Lyra", "Draco", "Orion", "Cygnus", "Hydra", "Lupus", "Pavo", "Volans",
	}
	nameSuffixes   = []string{"b", "c", "d", "e", "f"}
	passwordLetter = []byte("abcdefghjkmnpqrstuvwxyz23456789")
)

// GenerateWorld builds the starting world: authority markers first, then a square planet
// grid centred on the origin. Names and passwords depend only on the seed.
func GenerateWorld(t tuning.Tuning) snapshot.SnapshotV1 {
	rng := rand.New(rand.NewSource(t.Seed.Value))
	snap := snapshot.SnapshotV1{
		Seed:          t.Seed.Value,
		FramePeriodMs: t.FramePeriodMs,
		EconomySpeed:  t.EconomySpeed,
	}
	next := int64(1)

	// Markers sit on a 2x2 layout per layer.
	corners := [4][2]int{{-250, -250}, {-250, 250}, {250, -250}, {250, 250}}
	for i := 0; i < t.Seed.Markers; i++ {
		c := corners[i%4]
		layer := i / 4
		snap.Entities = append(snap.Entities, snapshot.EntityV1{
			ID:   next,
			Kind: snapshot.KindMarker,
			Pos:  [2]int{c[0] * (layer + 1), c[1] * (layer + 1)},
		})
		next++
	}

	half := t.Seed.GridSize / 2
	var coords []int
	for k := -half; k <= half; k++ {
		if k == 0 {
			continue
		}
		coords = append(coords, k*t.Seed.Spacing)
	}
	if len(coords) > t.Seed.GridSize {
		coords = coords[:t.Seed.GridSize]
	}
	used := map[string]bool{}
	for _, x := range coords {
		for _, z := range coords {
			snap.Entities = append(snap.Entities, snapshot.EntityV1{
				ID:   next,
				Kind: snapshot.KindPlanet,
				Pos:  [2]int{x, z},
				Planet: &snapshot.PlanetV1{
					Name:         uniqueName(rng, used),
					Password:     password(rng, 6),
					MineLevel:    t.Seed.MineLevel,
					DepositLevel: t.Seed.DepositLevel,
					HangarLevel:  t.Seed.HangarLevel,
					BuildQueue:   planet.None.String(),
				},
			})
			next++
		}
	}
	snap.NextEntityID = next
	return snap
}

func uniqueName(rng *rand.Rand, used map[string]bool) string {
	for {
		name := fmt.Sprintf("%s-%d%s",
			namePrefixes[rng.Intn(len(namePrefixes))],
			rng.Intn(999)+1,
			nameSuffixes[rng.Intn(len(nameSuffixes))])
		if !used[name] {
			used[name] = true
			return name
		}
	}
}

func password(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = passwordLetter[rng.Intn(len(passwordLetter))]
	}
	return string(b)
}

// New loads the canonical store from snap.
func New(snap snapshot.SnapshotV1, cfg Config, validator *protocol.Validator, logger *log.Logger) (*Runtime, error) {
	if cfg.CommandRatePerSec <= 0 {
		cfg.CommandRatePerSec = 5
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = 10
	}
	r := &Runtime{
		cfg:       cfg,
		log:       logger,
		validator: validator,
		seed:      snap.Seed,
		speed:     snap.EconomySpeed,
		entities:  map[protocol.EntityID]*entity{},
		clients:   map[string]*clientConn{},
		observers: map[string]Peer{},
		authority: map[protocol.EntityID]string{},
		pending:   map[string]pendingCommand{},
		nextID:    snap.NextEntityID,
		snapSeq:   snap.Header.Seq,
	}
	for _, ev := range snap.Entities {
		id := protocol.EntityID(ev.ID)
		if _, dup := r.entities[id]; dup {
			return nil, fmt.Errorf("snapshot: duplicate entity id %d", ev.ID)
		}
		e := &entity{ID: id, Kind: ev.Kind, Pos: ev.Pos}
		switch ev.Kind {
		case snapshot.KindMarker:
			r.markers = append(r.markers, id)
		case snapshot.KindPlanet:
			if ev.Planet == nil {
				return nil, fmt.Errorf("snapshot: planet %d has no planet component", ev.ID)
			}
			s, err := planetFromV1(*ev.Planet)
			if err != nil {
				return nil, fmt.Errorf("snapshot: planet %d: %w", ev.ID, err)
			}
			e.Planet = &s
		default:
			return nil, fmt.Errorf("snapshot: entity %d has unknown kind %q", ev.ID, ev.Kind)
		}
		r.entities[id] = e
		r.ids = append(r.ids, id)
		if ev.ID >= r.nextID {
			r.nextID = ev.ID + 1
		}
	}
	sortIDs(r.ids)
	sortIDs(r.markers)
	return r, nil
}

// Snapshot exports the canonical store under the next sequence number.
func (r *Runtime) Snapshot() snapshot.SnapshotV1 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapSeq++
	r.dirty = false
	snap := snapshot.SnapshotV1{
		Header:        snapshot.Header{Seq: r.snapSeq},
		Seed:          r.seed,
		FramePeriodMs: r.cfg.FramePeriodMs,
		EconomySpeed:  r.speed,
		NextEntityID:  r.nextID,
	}
	for _, id := range r.ids {
		e := r.entities[id]
		ev := snapshot.EntityV1{ID: int64(id), Kind: e.Kind, Pos: e.Pos}
		if e.Planet != nil {
			p := planetToV1(*e.Planet)
			ev.Planet = &p
		}
		snap.Entities = append(snap.Entities, ev)
	}
	return snap
}

// Dirty reports whether any write was accepted since the last Snapshot.
func (r *Runtime) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

func planetToV1(s planet.State) snapshot.PlanetV1 {
	return snapshot.PlanetV1{
		Name:                       s.Name,
		OwnerPlayerID:              s.OwnerPlayerID,
		Password:                   s.Password,
		MineLevel:                  s.MineLevel,
		Minerals:                   s.Minerals,
		DepositLevel:               s.DepositLevel,
		ProbeCount:                 s.ProbeCount,
		HangarLevel:                s.HangarLevel,
		NanobotLevel:               s.NanobotLevel,
		BuildQueue:                 s.BuildQueue.String(),
		BuildQueueRemainingSeconds: s.BuildQueueRemainingSeconds,
		ReservedBuildMaterials:     s.ReservedBuildMaterials,
	}
}

func planetFromV1(p snapshot.PlanetV1) (planet.State, error) {
	q := planet.None
	if p.BuildQueue != "" {
		var err error
		if q, err = planet.ParseImprovement(p.BuildQueue); err != nil {
			return planet.State{}, err
		}
	}
	return planet.State{
		Name:                       p.Name,
		OwnerPlayerID:              p.OwnerPlayerID,
		Password:                   p.Password,
		MineLevel:                  p.MineLevel,
		Minerals:                   p.Minerals,
		DepositLevel:               p.DepositLevel,
		ProbeCount:                 p.ProbeCount,
		HangarLevel:                p.HangarLevel,
		NanobotLevel:               p.NanobotLevel,
		BuildQueue:                 q,
		BuildQueueRemainingSeconds: p.BuildQueueRemainingSeconds,
		ReservedBuildMaterials:     p.ReservedBuildMaterials,
	}, nil
}
