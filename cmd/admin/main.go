package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"spacegame.io/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "planets":
			planetsCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the runtime's snapshot files, oldest first.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "runtime", "snapshots"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

func planetsCmd(args []string) {
	fs := flag.NewFlagSet("planets", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	ownedOnly := fs.Bool("owned", false, "only list claimed planets")
	_ = fs.Parse(args)

	p := strings.TrimSpace(*snapPath)
	if p == "" {
		latest, _, ok, err := snapshot.Latest(filepath.Join(*dataDir, "runtime", "snapshots"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "find snapshot:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run the runtime until it writes one")
			os.Exit(2)
		}
		p = latest
	}
	snap, err := snapshot.ReadSnapshot(p)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	for _, r := range planetRows(snap, *ownedOnly) {
		printJSON(os.Stdout, r)
	}
}

type planetRow struct {
	Seq          uint64  `json:"seq"`
	EntityID     int64   `json:"entity_id"`
	Pos          [2]int  `json:"pos"`
	Name         string  `json:"name"`
	Owner        string  `json:"owner,omitempty"`
	Minerals     float64 `json:"minerals"`
	MineLevel    int     `json:"mine_level"`
	DepositLevel int     `json:"deposit_level"`
	ProbeCount   int     `json:"probe_count"`
	HangarLevel  int     `json:"hangar_level"`
	NanobotLevel int     `json:"nanobot_level"`
	Building     string  `json:"building,omitempty"`
}

func planetRows(snap snapshot.SnapshotV1, ownedOnly bool) []planetRow {
	var out []planetRow
	for _, e := range snap.Entities {
		if e.Planet == nil {
			continue
		}
		pl := e.Planet
		if ownedOnly && pl.OwnerPlayerID == "" {
			continue
		}
		r := planetRow{
			Seq:          snap.Header.Seq,
			EntityID:     e.ID,
			Pos:          e.Pos,
			Name:         pl.Name,
			Owner:        pl.OwnerPlayerID,
			Minerals:     pl.Minerals,
			MineLevel:    pl.MineLevel,
			DepositLevel: pl.DepositLevel,
			ProbeCount:   pl.ProbeCount,
			HangarLevel:  pl.HangarLevel,
			NanobotLevel: pl.NanobotLevel,
		}
		if pl.BuildQueue != "" && pl.BuildQueue != "NONE" {
			r.Building = pl.BuildQueue
		}
		out = append(out, r)
	}
	return out
}

func printJSON(w io.Writer, v any) {
	b, _ := json.Marshal(v)
	fmt.Fprintln(w, string(b))
}
