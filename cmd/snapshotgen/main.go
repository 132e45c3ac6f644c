package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"spacegame.io/internal/persistence/snapshot"
	"spacegame.io/internal/runtime"
	"spacegame.io/internal/sim/tuning"
)

func main() {
	var (
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		out        = flag.String("out", "./data/runtime/snapshots/0.snap.zst", "output snapshot path")
		seed       = flag.Int64("seed", 0, "override the tuning seed (0 keeps it)")
		grid       = flag.Int("grid", 0, "override planets per side (0 keeps it)")
	)
	flag.Parse()

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
	if *seed != 0 {
		tune.Seed.Value = *seed
	}
	if *grid > 0 {
		tune.Seed.GridSize = *grid
	}
	if err := tune.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "tuning:", err)
		os.Exit(2)
	}

	snap := runtime.GenerateWorld(tune)
	if err := snapshot.WriteSnapshot(*out, snap); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}
	planets := 0
	for _, e := range snap.Entities {
		if e.Kind == snapshot.KindPlanet {
			planets++
		}
	}
	fmt.Printf("wrote %s seed=%d entities=%d planets=%d\n", *out, snap.Seed, len(snap.Entities), planets)
}
