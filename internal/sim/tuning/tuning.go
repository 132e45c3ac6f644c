package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"spacegame.io/internal/sim/planet"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	FramePeriodMs int     `yaml:"frame_period_ms"`
	EconomySpeed  float64 `yaml:"economy_speed"`
	ClaimMinerals float64 `yaml:"claim_minerals"`

	Improvements planet.CostTable `yaml:"improvements"`

	Seed    Seed    `yaml:"seed"`
	Runtime Runtime `yaml:"runtime"`
}

// Seed controls the generated starting world.
type Seed struct {
	Value int64 `yaml:"value"`
	// Markers are the non-planet entities clients fan AssignPlanet out to.
	Markers int `yaml:"markers"`
	// GridSize planets per side, placed Spacing apart and skipping the origin row and column.
	GridSize int `yaml:"grid_size"`
	Spacing  int `yaml:"spacing"`

	MineLevel    int `yaml:"mine_level"`
	DepositLevel int `yaml:"deposit_level"`
	HangarLevel  int `yaml:"hangar_level"`
}

type Runtime struct {
	SnapshotEverySeconds int     `yaml:"snapshot_every_seconds"`
	CommandRatePerSec    float64 `yaml:"command_rate_per_sec"`
	CommandBurst         int     `yaml:"command_burst"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		FramePeriodMs:   1000,
		EconomySpeed:    1,
		ClaimMinerals:   10,
		Improvements:    planet.DefaultCosts(),
		Seed: Seed{
			Value:        1337,
			Markers:      4,
			GridSize:     16,
			Spacing:      50,
			MineLevel:    1,
			DepositLevel: 1,
			HangarLevel:  0,
		},
		Runtime: Runtime{
			SnapshotEverySeconds: 60,
			CommandRatePerSec:    5,
			CommandBurst:         10,
		},
	}
}

// Load reads path over Defaults(), so keys missing from the file keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.FramePeriodMs <= 0 {
		errs = append(errs, errors.New("frame_period_ms must be > 0"))
	}
	if t.EconomySpeed <= 0 {
		errs = append(errs, errors.New("economy_speed must be > 0"))
	}
	if t.ClaimMinerals < 0 {
		errs = append(errs, errors.New("claim_minerals must be >= 0"))
	}
	if err := t.Improvements.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("improvements: %w", err))
	}
	if t.Seed.Markers <= 0 {
		errs = append(errs, errors.New("seed.markers must be > 0"))
	}
	if t.Seed.GridSize < 0 || t.Seed.Spacing <= 0 {
		errs = append(errs, errors.New("seed.grid_size must be >= 0 and seed.spacing > 0"))
	}
	if t.Runtime.CommandRatePerSec <= 0 || t.Runtime.CommandBurst <= 0 {
		errs = append(errs, errors.New("runtime command rate and burst must be > 0"))
	}
	return errors.Join(errs...)
}

func (t Tuning) FramePeriod() time.Duration {
	return time.Duration(t.FramePeriodMs) * time.Millisecond
}

func (t Tuning) FrameSeconds() float64 {
	return float64(t.FramePeriodMs) / 1000
}
