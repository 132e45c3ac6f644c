package planet

import "fmt"

// Improvement is the closed set of things a planet can build. At most one is queued at a time.
type Improvement uint8

const (
	None Improvement = iota
	Mine
	Probe
	Hangar
	Deposit
	Nanobots
)

var improvementNames = [...]string{
	None:     "NONE",
	Mine:     "MINE",
	Probe:    "PROBE",
	Hangar:   "HANGAR",
	Deposit:  "DEPOSIT",
	Nanobots: "NANOBOTS",
}

// Buildable lists every improvement a PlanetImprovement request may ask for.
var Buildable = []Improvement{Mine, Probe, Hangar, Deposit, Nanobots}

func (i Improvement) String() string {
	if int(i) < len(improvementNames) {
		return improvementNames[i]
	}
	return fmt.Sprintf("Improvement(%d)", uint8(i))
}

// Valid reports whether i is one of the declared values (NONE included).
func (i Improvement) Valid() bool { return int(i) < len(improvementNames) }

func ParseImprovement(s string) (Improvement, error) {
	for i, name := range improvementNames {
		if name == s {
			return Improvement(i), nil
		}
	}
	return None, fmt.Errorf("unknown improvement %q", s)
}

func (i Improvement) MarshalText() ([]byte, error) {
	if !i.Valid() {
		return nil, fmt.Errorf("invalid improvement %d", uint8(i))
	}
	return []byte(improvementNames[i]), nil
}

func (i *Improvement) UnmarshalText(b []byte) error {
	v, err := ParseImprovement(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}
