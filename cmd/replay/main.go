package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	persistlog "spacegame.io/internal/persistence/log"
	"spacegame.io/internal/session"
	"spacegame.io/internal/sim/tuning"
	"spacegame.io/internal/sim/worker"
)

func main() {
	var (
		framesDir  = flag.String("frames", "", "worker frames dir containing frames-*.jsonl.zst")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml the worker ran with (default: <configs>/tuning.yaml)")
		frameMS    = flag.Int("frame_ms", 0, "frame period the worker ran with (default: tuning frame_period_ms)")
		toFrame    = flag.Uint64("to_frame", 0, "stop after frame (inclusive, optional)")
	)
	flag.Parse()

	if *framesDir == "" {
		fmt.Fprintln(os.Stderr, "missing -frames")
		os.Exit(2)
	}
	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}
	if *frameMS > 0 {
		tune.FramePeriodMs = *frameMS
	}

	files, err := persistlog.Files(*framesDir, "frames")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list frames:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no frames files found in", *framesDir)
		os.Exit(1)
	}

	checked, err := replay(files, tune, *toFrame)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d frames\n", checked)
}

var errStop = errors.New("stop")

// replay feeds each logged frame's ops through a fresh worker and compares digests.
func replay(files []string, tune tuning.Tuning, toFrame uint64) (checked uint64, err error) {
	rec := session.NewRecorder(0)
	fresh := func() *worker.Worker {
		return worker.New(worker.Config{
			ID:            "replay",
			FramePeriod:   time.Duration(tune.FramePeriodMs) * time.Millisecond,
			Costs:         tune.Improvements,
			EconomySpeed:  tune.EconomySpeed,
			ClaimMinerals: tune.ClaimMinerals,
		}, rec, nil)
	}
	w := fresh()

	var next uint64
	for _, path := range files {
		err := persistlog.ReadJSONL(path, func(line []byte) error {
			var entry worker.FrameLogEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			if toFrame != 0 && entry.Frame > toFrame {
				return errStop
			}
			// A worker restarted under the same id appends a new run starting at frame 0.
			if entry.Frame == 0 && next != 0 {
				w, next = fresh(), 0
			}
			if entry.Frame != next {
				return fmt.Errorf("frame mismatch: want=%d got=%d (file=%s)", next, entry.Frame, filepath.Base(path))
			}
			rec.Reset()
			frame, digest, err := w.StepOnce(entry.Ops)
			if frame != entry.Frame {
				return fmt.Errorf("internal frame mismatch: stepped=%d entry=%d", frame, entry.Frame)
			}
			if digest != entry.Digest {
				return fmt.Errorf("digest mismatch at frame %d: got=%s want=%s", frame, digest, entry.Digest)
			}
			checked++
			if errors.Is(err, worker.ErrDisconnected) {
				// The run ended here; a later run, if any, restarts at frame 0.
				return nil
			}
			if err != nil {
				return err
			}
			if len(rec.Updates()) != len(entry.Updates) {
				return fmt.Errorf("frame %d: sent %d updates, log has %d", frame, len(rec.Updates()), len(entry.Updates))
			}
			next++
			return nil
		})
		if errors.Is(err, errStop) {
			return checked, nil
		}
		if err != nil {
			return checked, err
		}
	}
	return checked, nil
}
