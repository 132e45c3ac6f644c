package main

import (
	"path/filepath"

	"github.com/google/uuid"

	"spacegame.io/internal/persistence/indexdb"
	"spacegame.io/internal/sim/tuning"
	"spacegame.io/internal/sim/worker"
)

type workerIndex interface {
	worker.FrameLogger
	worker.CommandLogger
	Close() error
	Stats() indexdb.Stats
	RecordRun(role, nodeID string) error
	UpsertTuning(t tuning.Tuning) (string, error)
}

// openWorkerIndex returns nil when indexing is disabled. The index does not affect the
// simulation; it only makes the JSONL logs queryable.
func openWorkerIndex(workerDir string, disableDB bool) (workerIndex, error) {
	if disableDB {
		return nil, nil
	}
	idx, err := indexdb.OpenSQLite(filepath.Join(workerDir, "index", "worker.sqlite"), uuid.NewString())
	if err != nil {
		return nil, err
	}
	return idx, nil
}

type multiFrameLogger struct {
	a worker.FrameLogger
	b worker.FrameLogger
}

func (m multiFrameLogger) WriteFrame(entry worker.FrameLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteFrame(entry)
	}
	if m.b != nil {
		_ = m.b.WriteFrame(entry)
	}
	return nil
}

type multiCommandLogger struct {
	a worker.CommandLogger
	b worker.CommandLogger
}

func (m multiCommandLogger) WriteCommand(entry worker.CommandLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteCommand(entry)
	}
	if m.b != nil {
		_ = m.b.WriteCommand(entry)
	}
	return nil
}
