package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"spacegame.io/internal/persistence/snapshot"
	"spacegame.io/internal/sim/tuning"
	"spacegame.io/internal/sim/worker"
)

// SQLiteIndex is a queryable secondary index over the JSONL logs and snapshots.
// Writes are queued and applied by one goroutine; when the queue is full they are dropped.
type SQLiteIndex struct {
	db    *sql.DB
	runID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropFrame    atomic.Uint64
	dropCommand  atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqFrame reqKind = iota + 1
	reqCommand
	reqSnapshot
)

type req struct {
	kind reqKind

	frame    worker.FrameLogEntry
	command  worker.CommandLogEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Seq        uint64
	Path       string
	Seed       int64
	Entities   int
	Planets    int
	Owned      int
	RecordedAt string
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropFrameTotal    uint64 `json:"drop_frame_total"`
	DropCommandTotal  uint64 `json:"drop_command_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

// OpenSQLite opens (or creates) the index at path. Rows written through this handle are
// tagged with runID so restarts, whose frame numbers begin at zero again, do not collide.
func OpenSQLite(path, runID string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:    db,
		runID: runID,
		ch:    make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			node_id TEXT NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS frames (
			run_id TEXT NOT NULL,
			frame INTEGER NOT NULL,
			worker_id TEXT NOT NULL,
			digest TEXT NOT NULL,
			ops INTEGER NOT NULL,
			updates INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, frame)
		);`,
		`CREATE TABLE IF NOT EXISTS updates (
			run_id TEXT NOT NULL,
			frame INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			entity_id INTEGER NOT NULL,
			update_json TEXT NOT NULL,
			PRIMARY KEY (run_id, frame, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_updates_entity ON updates(entity_id, run_id, frame);`,
		`CREATE TABLE IF NOT EXISTS commands (
			run_id TEXT NOT NULL,
			frame INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			request_id TEXT NOT NULL,
			command TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			code TEXT NOT NULL,
			message TEXT NOT NULL,
			PRIMARY KEY (run_id, frame, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_request ON commands(request_id);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			seq INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			entities INTEGER NOT NULL,
			planets INTEGER NOT NULL,
			owned INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropFrameTotal:    s.dropFrame.Load(),
		DropCommandTotal:  s.dropCommand.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

// RecordRun registers this process. It is synchronous: call it once at startup.
func (s *SQLiteIndex) RecordRun(role, nodeID string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO runs(run_id,role,node_id,started_at) VALUES(?,?,?,?)`,
		s.runID, role, nodeID, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteIndex) WriteFrame(entry worker.FrameLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqFrame, frame: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropFrame.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteCommand(entry worker.CommandLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqCommand, command: entry}:
	default:
		s.dropCommand.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Seq:        snap.Header.Seq,
		Path:       path,
		Seed:       snap.Seed,
		Entities:   len(snap.Entities),
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, e := range snap.Entities {
		if e.Planet == nil {
			continue
		}
		r.Planets++
		if e.Planet.OwnerPlayerID != "" {
			r.Owned++
		}
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertTuning stores the tuning actually applied, as canonical JSON with its digest.
func (s *SQLiteIndex) UpsertTuning(t tuning.Tuning) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for _, kv := range [][2]string{
		{"schema_version", "1"},
		{"tuning_json", string(b)},
		{"tuning_digest", digest},
	} {
		if _, err := stmt.Exec(kv[0], kv[1]); err != nil {
			return "", err
		}
	}
	return digest, tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertFrame, _ := s.db.Prepare(`INSERT OR REPLACE INTO frames(run_id,frame,worker_id,digest,ops,updates,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertUpdate, _ := s.db.Prepare(`INSERT OR REPLACE INTO updates(run_id,frame,seq,entity_id,update_json) VALUES(?,?,?,?,?)`)
	insertCommand, _ := s.db.Prepare(`INSERT OR REPLACE INTO commands(run_id,frame,seq,request_id,command,entity_id,code,message) VALUES(?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(seq,path,seed,entities,planets,owned,recorded_at) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertFrame, insertUpdate, insertCommand, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastCommandFrame uint64
		commandSeq       int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqFrame:
			f := r.frame
			raw, _ := json.Marshal(f)
			if !exec(insertFrame, s.runID, int64(f.Frame), f.WorkerID, f.Digest, len(f.Ops), len(f.Updates), string(raw)) {
				continue
			}
			for i, u := range f.Updates {
				ub, _ := json.Marshal(u.Update)
				if !exec(insertUpdate, s.runID, int64(f.Frame), i, int64(u.EntityID), string(ub)) {
					break
				}
			}

		case reqCommand:
			c := r.command
			if c.Frame != lastCommandFrame {
				lastCommandFrame = c.Frame
				commandSeq = 0
			}
			seq := commandSeq
			commandSeq++
			if !exec(insertCommand, s.runID, int64(c.Frame), seq, c.RequestID, c.Command, int64(c.EntityID), c.Code, c.Message) {
				continue
			}

		case reqSnapshot:
			sn := r.snapshot
			if !exec(insertSnapshot, int64(sn.Seq), sn.Path, sn.Seed, sn.Entities, sn.Planets, sn.Owned, sn.RecordedAt) {
				continue
			}
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
