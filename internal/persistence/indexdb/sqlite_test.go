package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	"spacegame.io/internal/persistence/snapshot"
	"spacegame.io/internal/protocol"
	"spacegame.io/internal/session"
	"spacegame.io/internal/sim/planet"
	"spacegame.io/internal/sim/tuning"
	"spacegame.io/internal/sim/worker"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqFrame, frame: worker.FrameLogEntry{Frame: 1}}

	_ = s.WriteFrame(worker.FrameLogEntry{Frame: 2})
	_ = s.WriteCommand(worker.CommandLogEntry{Frame: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropFrameTotal != 1 || st.DropCommandTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drop stats mismatch: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_WritesRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path, "run-1")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.RecordRun("worker", "W1"); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	digest, err := idx.UpsertTuning(tuning.Defaults())
	if err != nil || digest == "" {
		t.Fatalf("UpsertTuning: %q %v", digest, err)
	}

	_ = idx.WriteFrame(worker.FrameLogEntry{
		WorkerID: "W1",
		Frame:    4,
		Ops:      []session.Op{session.EntityAdded(9)},
		Updates:  []session.SentUpdate{{EntityID: 9, Update: planet.Update{Minerals: planet.Ptr(3.0)}}},
		Digest:   "d4",
	})
	_ = idx.WriteCommand(worker.CommandLogEntry{WorkerID: "W1", Frame: 4, RequestID: "r1", Command: protocol.CmdPlanetInfo, EntityID: 9, Code: protocol.ErrNotFound})
	idx.RecordSnapshot("/abs/7.snap.zst", snapshot.SnapshotV1{
		Header: snapshot.Header{Seq: 7},
		Seed:   42,
		Entities: []snapshot.EntityV1{
			{ID: 1, Kind: snapshot.KindMarker},
			{ID: 2, Kind: snapshot.KindPlanet, Planet: &snapshot.PlanetV1{OwnerPlayerID: "p"}},
			{ID: 3, Kind: snapshot.KindPlanet, Planet: &snapshot.PlanetV1{}},
		},
	})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		frameDigest string
		updates     int
	)
	if err := db.QueryRow(`SELECT digest,updates FROM frames WHERE run_id='run-1' AND frame=4`).Scan(&frameDigest, &updates); err != nil {
		t.Fatalf("frames: %v", err)
	}
	if frameDigest != "d4" || updates != 1 {
		t.Fatalf("frame row: digest=%q updates=%d", frameDigest, updates)
	}
	var entity int64
	if err := db.QueryRow(`SELECT entity_id FROM updates WHERE run_id='run-1' AND frame=4 AND seq=0`).Scan(&entity); err != nil || entity != 9 {
		t.Fatalf("updates: entity=%d err=%v", entity, err)
	}
	var code string
	if err := db.QueryRow(`SELECT code FROM commands WHERE request_id='r1'`).Scan(&code); err != nil || code != protocol.ErrNotFound {
		t.Fatalf("commands: code=%q err=%v", code, err)
	}
	var ents, planets, owned int
	if err := db.QueryRow(`SELECT entities,planets,owned FROM snapshots WHERE seq=7`).Scan(&ents, &planets, &owned); err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if ents != 3 || planets != 2 || owned != 1 {
		t.Fatalf("snapshot row: %d %d %d", ents, planets, owned)
	}
	var role string
	if err := db.QueryRow(`SELECT role FROM runs WHERE run_id='run-1'`).Scan(&role); err != nil || role != "worker" {
		t.Fatalf("runs: role=%q err=%v", role, err)
	}
}
