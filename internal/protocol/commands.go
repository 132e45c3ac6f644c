package protocol

import "spacegame.io/internal/sim/planet"

// Command names.
const (
	CmdAssignPlanet      = "ASSIGN_PLANET"
	CmdPlanetInfo        = "PLANET_INFO"
	CmdPlanetImprovement = "PLANET_IMPROVEMENT"
)

var knownCommands = map[string]struct{}{
	CmdAssignPlanet:      {},
	CmdPlanetInfo:        {},
	CmdPlanetImprovement: {},
}

func IsKnownCommand(name string) bool {
	_, ok := knownCommands[name]
	return ok
}

// PlanetID zero or absent asks the worker to pick an unclaimed planet.
type AssignPlanetRequest struct {
	PlayerID string   `json:"player_id"`
	PlanetID EntityID `json:"planet_id,omitempty"`
	Password string   `json:"password,omitempty"`
}

// PlanetID is 0 on refusal and NotAuthoritativeHere when the worker does not hold the entity.
type AssignPlanetResponse struct {
	PlanetID   EntityID `json:"planet_id"`
	PlanetName string   `json:"planet_name"`
	Password   string   `json:"password"`
	Message    string   `json:"message"`
}

type PlanetInfoRequest struct {
	PlanetID EntityID `json:"planet_id"`
}

type PlanetInfoResponse struct {
	PlanetID                   EntityID           `json:"planet_id"`
	Name                       string             `json:"name"`
	OwnerPlayerID              string             `json:"owner_player_id"`
	MineLevel                  int                `json:"mine_level"`
	Minerals                   float64            `json:"minerals"`
	MineralCapacity            float64            `json:"mineral_capacity"`
	DepositLevel               int                `json:"deposit_level"`
	ProbeCount                 int                `json:"probe_count"`
	ProbeCapacity              int                `json:"probe_capacity"`
	HangarLevel                int                `json:"hangar_level"`
	NanobotLevel               int                `json:"nanobot_level"`
	BuildQueue                 planet.Improvement `json:"build_queue"`
	BuildQueueRemainingSeconds float64            `json:"build_queue_remaining_seconds"`
	ReservedBuildMaterials     float64            `json:"reserved_build_materials"`
}

func NewPlanetInfoResponse(id EntityID, s planet.State) PlanetInfoResponse {
	return PlanetInfoResponse{
		PlanetID:                   id,
		Name:                       s.Name,
		OwnerPlayerID:              s.OwnerPlayerID,
		MineLevel:                  s.MineLevel,
		Minerals:                   s.Minerals,
		MineralCapacity:            s.MineralCapacity(),
		DepositLevel:               s.DepositLevel,
		ProbeCount:                 s.ProbeCount,
		ProbeCapacity:              s.ProbeCapacity(),
		HangarLevel:                s.HangarLevel,
		NanobotLevel:               s.NanobotLevel,
		BuildQueue:                 s.BuildQueue,
		BuildQueueRemainingSeconds: s.BuildQueueRemainingSeconds,
		ReservedBuildMaterials:     s.ReservedBuildMaterials,
	}
}

type PlanetImprovementRequest struct {
	PlanetID    EntityID           `json:"planet_id"`
	Improvement planet.Improvement `json:"improvement"`
}

type PlanetImprovementResponse struct {
	Message string `json:"message"`
}
