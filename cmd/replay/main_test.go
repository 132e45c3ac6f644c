package main

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	persistlog "spacegame.io/internal/persistence/log"
	"spacegame.io/internal/protocol"
	"spacegame.io/internal/session"
	"spacegame.io/internal/sim/planet"
	"spacegame.io/internal/sim/tuning"
	"spacegame.io/internal/sim/worker"
)

func recordRun(t *testing.T, dir string, tune tuning.Tuning) {
	t.Helper()
	fl := persistlog.NewFrameLogger(dir)
	w := worker.New(worker.Config{
		ID:            "W1",
		FramePeriod:   tune.FramePeriod(),
		Costs:         tune.Improvements,
		EconomySpeed:  tune.EconomySpeed,
		ClaimMinerals: tune.ClaimMinerals,
	}, session.NewRecorder(0), nil)
	w.SetFrameLogger(fl)

	claim, _ := json.Marshal(protocol.AssignPlanetRequest{PlayerID: "p1"})
	build, _ := json.Marshal(protocol.PlanetImprovementRequest{PlanetID: 2, Improvement: planet.Mine})
	frames := [][]session.Op{
		{
			session.EntityAdded(1),
			session.EntityAdded(2),
			session.ComponentAdded(2, planet.State{Name: "Io", Password: "pw", MineLevel: 1, DepositLevel: 1}),
			session.AuthorityChanged(1, protocol.Authoritative),
			session.AuthorityChanged(2, protocol.Authoritative),
		},
		{session.CommandRequest(protocol.CommandRequestMsg{RequestID: "a", EntityID: 1, Command: protocol.CmdAssignPlanet, Payload: claim})},
		nil, nil, nil,
		{session.CommandRequest(protocol.CommandRequestMsg{RequestID: "b", EntityID: 2, Command: protocol.CmdPlanetImprovement, Payload: build})},
		nil, nil,
		{session.Disconnect("bye")},
	}
	for _, ops := range frames {
		_, _, _ = w.StepOnce(ops)
	}
	if err := fl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestReplayVerifiesRecordedRun(t *testing.T) {
	dir := t.TempDir()
	tune := tuning.Defaults()
	tune.FramePeriodMs = 2000
	recordRun(t, dir, tune)
	recordRun(t, dir, tune)

	files, err := persistlog.Files(filepath.Join(dir, "frames"), "frames")
	if err != nil || len(files) == 0 {
		t.Fatalf("files: %v %v", files, err)
	}
	checked, err := replay(files, tune, 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if checked != 18 {
		t.Fatalf("checked %d frames, want 18", checked)
	}

	if checked, err := replay(files, tune, 3); err != nil || checked != 4 {
		t.Fatalf("bounded replay: checked=%d err=%v", checked, err)
	}
}

func TestReplayDetectsDivergence(t *testing.T) {
	dir := t.TempDir()
	tune := tuning.Defaults()
	tune.FramePeriodMs = 2000
	recordRun(t, dir, tune)

	files, _ := persistlog.Files(filepath.Join(dir, "frames"), "frames")
	other := tune
	other.FramePeriodMs = 1000
	_, err := replay(files, other, 0)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch") {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
}
