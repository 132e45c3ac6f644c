package runtime

import (
	"context"
	"time"

	"spacegame.io/internal/persistence/snapshot"
)

// SnapshotRecorder indexes written snapshots. *indexdb.SQLiteIndex implements it.
type SnapshotRecorder interface {
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
}

type recorders []SnapshotRecorder

func (rs recorders) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	for _, r := range rs {
		r.RecordSnapshot(path, snap)
	}
}

// Recorders fans a snapshot out to every non-nil recorder.
func Recorders(rs ...SnapshotRecorder) SnapshotRecorder {
	var out recorders
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// WriteSnapshot exports the store into dir and returns the written path.
func (r *Runtime) WriteSnapshot(dir string, rec SnapshotRecorder) (string, error) {
	snap := r.Snapshot()
	path := snapshot.Path(dir, snap.Header.Seq)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", err
	}
	if rec != nil {
		rec.RecordSnapshot(path, snap)
	}
	return path, nil
}

// RunSnapshots writes a snapshot every interval while the store has unsaved writes, and a
// final one when ctx ends.
func (r *Runtime) RunSnapshots(ctx context.Context, dir string, every time.Duration, rec SnapshotRecorder) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if r.Dirty() {
				if p, err := r.WriteSnapshot(dir, rec); err != nil {
					r.logf("final snapshot: %v", err)
				} else {
					r.logf("final snapshot %s", p)
				}
			}
			return
		case <-t.C:
			if !r.Dirty() {
				continue
			}
			if _, err := r.WriteSnapshot(dir, rec); err != nil {
				r.logf("snapshot: %v", err)
			}
		}
	}
}
