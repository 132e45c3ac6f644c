package planet

import "fmt"

const (
	// MineralsPerDepositLevel is the storage each deposit level adds.
	MineralsPerDepositLevel = 100
	// ProbesPerHangarLevel is the number of probe slots each hangar level adds.
	ProbesPerHangarLevel = 3
)

// State is the replicated economic component of a planet entity.
type State struct {
	Name          string `json:"name"`
	OwnerPlayerID string `json:"owner_player_id"`
	Password      string `json:"password"`

	MineLevel    int     `json:"mine_level"`
	Minerals     float64 `json:"minerals"`
	DepositLevel int     `json:"deposit_level"`
	ProbeCount   int     `json:"probe_count"`
	HangarLevel  int     `json:"hangar_level"`
	NanobotLevel int     `json:"nanobot_level"`

	BuildQueue                 Improvement `json:"build_queue"`
	BuildQueueRemainingSeconds float64     `json:"build_queue_remaining_seconds"`
	ReservedBuildMaterials     float64     `json:"reserved_build_materials"`
}

func (s State) MineralCapacity() float64 { return float64(s.DepositLevel * MineralsPerDepositLevel) }
func (s State) ProbeCapacity() int       { return s.HangarLevel * ProbesPerHangarLevel }
func (s State) Claimed() bool            { return s.OwnerPlayerID != "" }
func (s State) Building() bool           { return s.BuildQueue != None }
func (s State) HangarFull() bool         { return s.ProbeCount >= s.ProbeCapacity() }

// Level returns the level an improvement's cost curve is keyed by.
func (s State) Level(imp Improvement) (int, error) {
	switch imp {
	case Mine:
		return s.MineLevel, nil
	case Probe:
		return s.ProbeCount, nil
	case Hangar:
		return s.HangarLevel, nil
	case Deposit:
		return s.DepositLevel, nil
	case Nanobots:
		return s.NanobotLevel, nil
	case None:
		return 0, fmt.Errorf("no level for %s", imp)
	default:
		return 0, fmt.Errorf("unknown improvement %d", uint8(imp))
	}
}

// Complete applies the level increment of a finished build.
func (s *State) Complete(imp Improvement) error {
	switch imp {
	case Mine:
		s.MineLevel++
	case Probe:
		s.ProbeCount++
	case Hangar:
		s.HangarLevel++
	case Deposit:
		s.DepositLevel++
	case Nanobots:
		s.NanobotLevel++
	case None:
		return fmt.Errorf("cannot complete %s", imp)
	default:
		return fmt.Errorf("unknown improvement %d", uint8(imp))
	}
	return nil
}

// Update is a partial write to a State: nil fields are left untouched when merged.
type Update struct {
	Name          *string `json:"name,omitempty"`
	OwnerPlayerID *string `json:"owner_player_id,omitempty"`
	Password      *string `json:"password,omitempty"`

	MineLevel    *int     `json:"mine_level,omitempty"`
	Minerals     *float64 `json:"minerals,omitempty"`
	DepositLevel *int     `json:"deposit_level,omitempty"`
	ProbeCount   *int     `json:"probe_count,omitempty"`
	HangarLevel  *int     `json:"hangar_level,omitempty"`
	NanobotLevel *int     `json:"nanobot_level,omitempty"`

	BuildQueue                 *Improvement `json:"build_queue,omitempty"`
	BuildQueueRemainingSeconds *float64     `json:"build_queue_remaining_seconds,omitempty"`
	ReservedBuildMaterials     *float64     `json:"reserved_build_materials,omitempty"`
}

// Ptr is a small helper for building Updates inline.
func Ptr[T any](v T) *T { return &v }

func (u Update) Empty() bool {
	return u.Name == nil && u.OwnerPlayerID == nil && u.Password == nil &&
		u.MineLevel == nil && u.Minerals == nil && u.DepositLevel == nil &&
		u.ProbeCount == nil && u.HangarLevel == nil && u.NanobotLevel == nil &&
		u.BuildQueue == nil && u.BuildQueueRemainingSeconds == nil && u.ReservedBuildMaterials == nil
}

// Apply merges the fields present in u into s.
func (s *State) Apply(u Update) {
	if u.Name != nil {
		s.Name = *u.Name
	}
	if u.OwnerPlayerID != nil {
		s.OwnerPlayerID = *u.OwnerPlayerID
	}
	if u.Password != nil {
		s.Password = *u.Password
	}
	if u.MineLevel != nil {
		s.MineLevel = *u.MineLevel
	}
	if u.Minerals != nil {
		s.Minerals = *u.Minerals
	}
	if u.DepositLevel != nil {
		s.DepositLevel = *u.DepositLevel
	}
	if u.ProbeCount != nil {
		s.ProbeCount = *u.ProbeCount
	}
	if u.HangarLevel != nil {
		s.HangarLevel = *u.HangarLevel
	}
	if u.NanobotLevel != nil {
		s.NanobotLevel = *u.NanobotLevel
	}
	if u.BuildQueue != nil {
		s.BuildQueue = *u.BuildQueue
	}
	if u.BuildQueueRemainingSeconds != nil {
		s.BuildQueueRemainingSeconds = *u.BuildQueueRemainingSeconds
	}
	if u.ReservedBuildMaterials != nil {
		s.ReservedBuildMaterials = *u.ReservedBuildMaterials
	}
}

// Diff returns the partial update that turns before into after.
func Diff(before, after State) Update {
	var u Update
	if before.Name != after.Name {
		u.Name = Ptr(after.Name)
	}
	if before.OwnerPlayerID != after.OwnerPlayerID {
		u.OwnerPlayerID = Ptr(after.OwnerPlayerID)
	}
	if before.Password != after.Password {
		u.Password = Ptr(after.Password)
	}
	if before.MineLevel != after.MineLevel {
		u.MineLevel = Ptr(after.MineLevel)
	}
	if before.Minerals != after.Minerals {
		u.Minerals = Ptr(after.Minerals)
	}
	if before.DepositLevel != after.DepositLevel {
		u.DepositLevel = Ptr(after.DepositLevel)
	}
	if before.ProbeCount != after.ProbeCount {
		u.ProbeCount = Ptr(after.ProbeCount)
	}
	if before.HangarLevel != after.HangarLevel {
		u.HangarLevel = Ptr(after.HangarLevel)
	}
	if before.NanobotLevel != after.NanobotLevel {
		u.NanobotLevel = Ptr(after.NanobotLevel)
	}
	if before.BuildQueue != after.BuildQueue {
		u.BuildQueue = Ptr(after.BuildQueue)
	}
	if before.BuildQueueRemainingSeconds != after.BuildQueueRemainingSeconds {
		u.BuildQueueRemainingSeconds = Ptr(after.BuildQueueRemainingSeconds)
	}
	if before.ReservedBuildMaterials != after.ReservedBuildMaterials {
		u.ReservedBuildMaterials = Ptr(after.ReservedBuildMaterials)
	}
	return u
}
