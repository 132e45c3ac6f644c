package log

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"spacegame.io/internal/sim/worker"
)

func TestJSONLZstdWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "frames")
	now := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	var closed []string
	w.OnFileClosed(func(p string) { closed = append(closed, filepath.Base(p)) })

	for i := 0; i < 3; i++ {
		if err := w.Write(map[string]int{"n": i}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(closed) != 1 || closed[0] != "frames-2026-03-01-10.jsonl.zst" {
		t.Fatalf("closed after rotation: %v", closed)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(closed) != 2 || closed[1] != "frames-2026-03-01-11.jsonl.zst" {
		t.Fatalf("closed after Close: %v", closed)
	}

	files, err := Files(dir, "frames")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 hourly files, got %v", files)
	}
	if filepath.Base(files[0]) != "frames-2026-03-01-10.jsonl.zst" {
		t.Fatalf("unexpected name: %s", files[0])
	}

	var seen []int
	for _, f := range files {
		err := ReadJSONL(f, func(line []byte) error {
			var v map[string]int
			if err := json.Unmarshal(line, &v); err != nil {
				return err
			}
			seen = append(seen, v["n"])
			return nil
		})
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(seen) != 4 || seen[0] != 0 || seen[3] != 3 {
		t.Fatalf("lines: %v", seen)
	}
}

func TestReadableBeforeClose(t *testing.T) {
	dir := t.TempDir()
	l := NewFrameLogger(dir)
	defer l.Close()
	if err := l.WriteFrame(worker.FrameLogEntry{WorkerID: "W1", Frame: 7, Digest: "abc"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	files, _ := Files(filepath.Join(dir, "frames"), "frames")
	if len(files) != 1 {
		t.Fatalf("files: %v", files)
	}
	var got worker.FrameLogEntry
	if err := ReadJSONL(files[0], func(line []byte) error { return json.Unmarshal(line, &got) }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Frame != 7 || got.Digest != "abc" {
		t.Fatalf("entry: %+v", got)
	}
}
