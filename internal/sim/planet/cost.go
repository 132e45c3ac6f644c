package planet

import (
	"fmt"
	"math"
)

// CostCurve prices level L of an improvement at Base * Growth^L.
type CostCurve struct {
	Base   float64 `yaml:"base_cost" json:"base_cost"`
	Growth float64 `yaml:"growth" json:"growth"`
}

func (c CostCurve) At(level int) float64 {
	if level < 0 {
		level = 0
	}
	return c.Base * math.Pow(c.Growth, float64(level))
}

type CostTable struct {
	Mine     CostCurve `yaml:"mine" json:"mine"`
	Probe    CostCurve `yaml:"probe" json:"probe"`
	Hangar   CostCurve `yaml:"hangar" json:"hangar"`
	Deposit  CostCurve `yaml:"deposit" json:"deposit"`
	Nanobots CostCurve `yaml:"nanobots" json:"nanobots"`
}

// DefaultCosts matches the shipped tuning. Probes cost a flat amount.
func DefaultCosts() CostTable {
	return CostTable{
		Mine:     CostCurve{Base: 20, Growth: 1.5},
		Probe:    CostCurve{Base: 80, Growth: 1},
		Hangar:   CostCurve{Base: 80, Growth: 1.2},
		Deposit:  CostCurve{Base: 50, Growth: 1.2},
		Nanobots: CostCurve{Base: 300, Growth: 1.5},
	}
}

func (t CostTable) Curve(imp Improvement) (CostCurve, error) {
	switch imp {
	case Mine:
		return t.Mine, nil
	case Probe:
		return t.Probe, nil
	case Hangar:
		return t.Hangar, nil
	case Deposit:
		return t.Deposit, nil
	case Nanobots:
		return t.Nanobots, nil
	case None:
		return CostCurve{}, fmt.Errorf("no cost curve for %s", imp)
	default:
		return CostCurve{}, fmt.Errorf("unknown improvement %d", uint8(imp))
	}
}

// Cost prices the next level of imp for s.
func (t CostTable) Cost(s State, imp Improvement) (float64, error) {
	c, err := t.Curve(imp)
	if err != nil {
		return 0, err
	}
	lvl, err := s.Level(imp)
	if err != nil {
		return 0, err
	}
	return c.At(lvl), nil
}

func (t CostTable) Validate() error {
	for _, imp := range Buildable {
		c, _ := t.Curve(imp)
		if c.Base <= 0 {
			return fmt.Errorf("%s: base_cost must be > 0", imp)
		}
		if c.Growth < 1 {
			return fmt.Errorf("%s: growth must be >= 1", imp)
		}
	}
	return nil
}

// BuildSeconds is the construction time for a build costing cost minerals.
func BuildSeconds(cost float64, nanobotLevel int, economySpeed float64) float64 {
	if economySpeed <= 0 {
		economySpeed = 1
	}
	return cost / (2 * float64(1+nanobotLevel) * economySpeed)
}
