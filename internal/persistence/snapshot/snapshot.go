package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

// ErrBadHeader is returned when a file does not start with a valid snapshot header line.
var ErrBadHeader = errors.New("snapshot: bad header")

type Header struct {
	Version  int    `json:"version"`
	Seq      uint64 `json:"seq"`
	Entities int    `json:"entities"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed          int64   `json:"seed"`
	FramePeriodMs int     `json:"frame_period_ms"`
	EconomySpeed  float64 `json:"economy_speed"`

	Entities []EntityV1 `json:"entities"`

	// NextEntityID is the first id not yet handed out.
	NextEntityID int64 `json:"next_entity_id"`
}

const (
	KindMarker = "MARKER"
	KindPlanet = "PLANET"
)

type EntityV1 struct {
	ID     int64     `json:"id"`
	Kind   string    `json:"kind"`
	Pos    [2]int    `json:"pos"`
	Planet *PlanetV1 `json:"planet,omitempty"`
}

type PlanetV1 struct {
	Name          string `json:"name"`
	OwnerPlayerID string `json:"owner_player_id"`
	Password      string `json:"password"`

	MineLevel    int     `json:"mine_level"`
	Minerals     float64 `json:"minerals"`
	DepositLevel int     `json:"deposit_level"`
	ProbeCount   int     `json:"probe_count"`
	HangarLevel  int     `json:"hangar_level"`
	NanobotLevel int     `json:"nanobot_level"`

	BuildQueue                 string  `json:"build_queue"`
	BuildQueueRemainingSeconds float64 `json:"build_queue_remaining_seconds"`
	ReservedBuildMaterials     float64 `json:"reserved_build_materials"`
}

// WriteSnapshot writes to a temp file and renames it into place, so readers never see a
// partial snapshot.
func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	snap.Header.Version = Version
	snap.Header.Entities = len(snap.Entities)

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, h.Version)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// Path names snapshot seq inside dir.
func Path(dir string, seq uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.snap.zst", seq))
}

// Latest returns the highest-numbered snapshot in dir, or ok=false when there is none.
func Latest(dir string) (path string, seq uint64, ok bool, err error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	var seqs []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, n)
	}
	if len(seqs) == 0 {
		return "", 0, false, nil
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	seq = seqs[len(seqs)-1]
	return Path(dir, seq), seq, true, nil
}
