package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"spacegame.io/internal/persistence/indexdb"
	"spacegame.io/internal/persistence/snapshot"
	"spacegame.io/internal/protocol"
	"spacegame.io/internal/sim/tuning"
	"spacegame.io/internal/sim/worker"
)

func TestPlanetRows(t *testing.T) {
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Seq: 3},
		Entities: []snapshot.EntityV1{
			{ID: 1, Kind: snapshot.KindMarker},
			{ID: 5, Kind: snapshot.KindPlanet, Planet: &snapshot.PlanetV1{Name: "Alpha", BuildQueue: "NONE"}},
			{ID: 6, Kind: snapshot.KindPlanet, Planet: &snapshot.PlanetV1{Name: "Beta", OwnerPlayerID: "alice", BuildQueue: "MINE", Minerals: 40}},
		},
	}
	all := planetRows(snap, false)
	if len(all) != 2 || all[0].Building != "" || all[1].Building != "MINE" {
		t.Fatalf("rows: %+v", all)
	}
	owned := planetRows(snap, true)
	if len(owned) != 1 || owned[0].EntityID != 6 || owned[0].Owner != "alice" || owned[0].Seq != 3 {
		t.Fatalf("owned: %+v", owned)
	}
}

func TestRunQueryAgainstIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.sqlite")
	idx, err := indexdb.OpenSQLite(path, "run-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.RecordRun("worker", "W1"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := idx.UpsertTuning(tuning.Defaults()); err != nil {
		t.Fatalf("tuning: %v", err)
	}
	_ = idx.WriteCommand(worker.CommandLogEntry{WorkerID: "W1", Frame: 2, RequestID: "ok-1", Command: protocol.CmdPlanetInfo, EntityID: 9})
	_ = idx.WriteCommand(worker.CommandLogEntry{WorkerID: "W1", Frame: 3, RequestID: "bad-1", Command: protocol.CmdPlanetInfo, EntityID: 9, Code: protocol.ErrNotFound})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql open: %v", err)
	}
	defer db.Close()

	var buf bytes.Buffer
	if err := runQuery(db, &buf, "commands", dbQuery{Code: "OK"}); err != nil {
		t.Fatalf("commands: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], `"request_id":"ok-1"`) {
		t.Fatalf("OK commands: %q", buf.String())
	}

	buf.Reset()
	if err := runQuery(db, &buf, "commands", dbQuery{Code: protocol.ErrNotFound, EntityID: 9}); err != nil {
		t.Fatalf("commands: %v", err)
	}
	if !strings.Contains(buf.String(), `"request_id":"bad-1"`) || strings.Contains(buf.String(), "ok-1") {
		t.Fatalf("failed commands: %q", buf.String())
	}

	buf.Reset()
	if err := runQuery(db, &buf, "tuning", dbQuery{}); err != nil {
		t.Fatalf("tuning: %v", err)
	}
	var tv struct {
		Digest string          `json:"digest"`
		Tuning json.RawMessage `json:"tuning"`
	}
	if err := json.Unmarshal(buf.Bytes(), &tv); err != nil || tv.Digest == "" || len(tv.Tuning) == 0 {
		t.Fatalf("tuning output %q: %v", buf.String(), err)
	}

	if err := runQuery(db, &buf, "updates", dbQuery{}); err == nil {
		t.Fatalf("updates without -entity should fail")
	}
	if err := runQuery(db, &buf, "boards", dbQuery{}); err == nil {
		t.Fatalf("unknown query should fail")
	}
}
