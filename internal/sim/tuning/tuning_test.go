package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMergesOverDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := []byte("frame_period_ms: 250\nimprovements:\n  mine:\n    base_cost: 40\n    growth: 2\n")
	if err := os.WriteFile(p, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.FramePeriodMs != 250 || got.FrameSeconds() != 0.25 {
		t.Fatalf("frame period: %+v", got)
	}
	if got.Improvements.Mine.Base != 40 || got.Improvements.Mine.Growth != 2 {
		t.Fatalf("mine curve: %+v", got.Improvements.Mine)
	}
	if got.Improvements.Nanobots != Defaults().Improvements.Nanobots {
		t.Fatalf("nanobots curve lost its default: %+v", got.Improvements.Nanobots)
	}
	if got.ClaimMinerals != 10 {
		t.Fatalf("claim minerals default: %v", got.ClaimMinerals)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("economy_speed: 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestShippedTuningLoads(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load shipped tuning: %v", err)
	}
	if got != Defaults() {
		t.Fatalf("shipped tuning drifted from defaults:\n got %+v\nwant %+v", got, Defaults())
	}
}
