// Package config loads and validates simulation scenarios: the grid geometry,
// the iteration budget and the team and heat-source rosters.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/emberctl/internal/agents"
)

var (
	ErrBadGeometry   = errors.New("config: rows, cols and max_iter must be positive")
	ErrBadPolicy     = errors.New("config: team policy must be 1 (diagonal), 2 (horizontal-first) or 3 (vertical-first)")
	ErrBadHeat       = errors.New("config: source heat must be positive")
	ErrBadStart      = errors.New("config: source start must not be negative")
	ErrNotEnoughArgs = errors.New("config: not enough arguments")
	ErrExtraArgs     = errors.New("config: extra arguments at the end of the command line")
)

// TeamConfig is one mobile suppression unit as configured.
type TeamConfig struct {
	X      int `toml:"x"`
	Y      int `toml:"y"`
	Policy int `toml:"policy"`
}

// SourceConfig is one heat source as configured.
type SourceConfig struct {
	X     int     `toml:"x"`
	Y     int     `toml:"y"`
	Start int     `toml:"start"`
	Heat  float64 `toml:"heat"`
}

// Scenario is one full simulation input.
type Scenario struct {
	Rows    int            `toml:"rows"`
	Cols    int            `toml:"cols"`
	MaxIter int            `toml:"max_iter"`
	Teams   []TeamConfig   `toml:"teams"`
	Sources []SourceConfig `toml:"sources"`
}

// Load reads a scenario TOML file.
func Load(path string) (Scenario, error) {
	var s Scenario
	if _, err := toml.DecodeFile(path, &s); err != nil {
		return Scenario{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, fmt.Errorf("%w (%s)", err, path)
	}
	return s, nil
}

// ParseArgs reads the inline positional form:
//
//	<rows> <cols> <maxIter> <numTeams> [ <x> <y> <policy> ... ] <numSources> [ <x> <y> <start> <heat> ... ]
func ParseArgs(args []string) (Scenario, error) {
	var s Scenario
	pos := 0
	next := func(field string) (int, error) {
		if pos >= len(args) {
			return 0, fmt.Errorf("%w: missing %s", ErrNotEnoughArgs, field)
		}
		v, err := strconv.Atoi(args[pos])
		if err != nil {
			return 0, fmt.Errorf("config: malformed %s: %q", field, args[pos])
		}
		pos++
		return v, nil
	}

	var err error
	if s.Rows, err = next("rows"); err != nil {
		return Scenario{}, err
	}
	if s.Cols, err = next("cols"); err != nil {
		return Scenario{}, err
	}
	if s.MaxIter, err = next("max_iter"); err != nil {
		return Scenario{}, err
	}

	numTeams, err := next("team count")
	if err != nil {
		return Scenario{}, err
	}
	for i := 0; i < numTeams; i++ {
		var t TeamConfig
		if t.X, err = next(fmt.Sprintf("team[%d].x", i)); err != nil {
			return Scenario{}, err
		}
		if t.Y, err = next(fmt.Sprintf("team[%d].y", i)); err != nil {
			return Scenario{}, err
		}
		if t.Policy, err = next(fmt.Sprintf("team[%d].policy", i)); err != nil {
			return Scenario{}, err
		}
		s.Teams = append(s.Teams, t)
	}

	numSources, err := next("source count")
	if err != nil {
		return Scenario{}, err
	}
	for i := 0; i < numSources; i++ {
		var src SourceConfig
		if src.X, err = next(fmt.Sprintf("source[%d].x", i)); err != nil {
			return Scenario{}, err
		}
		if src.Y, err = next(fmt.Sprintf("source[%d].y", i)); err != nil {
			return Scenario{}, err
		}
		if src.Start, err = next(fmt.Sprintf("source[%d].start", i)); err != nil {
			return Scenario{}, err
		}
		heat, err := next(fmt.Sprintf("source[%d].heat", i))
		if err != nil {
			return Scenario{}, err
		}
		src.Heat = float64(heat)
		s.Sources = append(s.Sources, src)
	}

	if pos != len(args) {
		return Scenario{}, fmt.Errorf("%w: %v", ErrExtraArgs, args[pos:])
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}

func (s Scenario) Validate() error {
	if s.Rows <= 0 || s.Cols <= 0 || s.MaxIter <= 0 {
		return fmt.Errorf("%w: rows=%d cols=%d max_iter=%d", ErrBadGeometry, s.Rows, s.Cols, s.MaxIter)
	}
	for i, t := range s.Teams {
		if !agents.Policy(t.Policy).Valid() {
			return fmt.Errorf("%w: team[%d].policy=%d", ErrBadPolicy, i, t.Policy)
		}
	}
	for i, src := range s.Sources {
		if src.Heat <= 0 {
			return fmt.Errorf("%w: source[%d].heat=%v", ErrBadHeat, i, src.Heat)
		}
		if src.Start < 0 {
			return fmt.Errorf("%w: source[%d].start=%d", ErrBadStart, i, src.Start)
		}
	}
	return nil
}

// Roster builds the replicated agent state for one run of the scenario.
func (s Scenario) Roster() *agents.Roster {
	sources := make([]agents.Source, len(s.Sources))
	for i, src := range s.Sources {
		sources[i] = agents.Source{X: src.X, Y: src.Y, Start: src.Start, Heat: float32(src.Heat)}
	}
	teams := make([]agents.Team, len(s.Teams))
	for i, t := range s.Teams {
		teams[i] = agents.Team{X: t.X, Y: t.Y, Policy: agents.Policy(t.Policy)}
	}
	return agents.NewRoster(sources, teams)
}

// WriteTemplate writes a starter scenario file for scenariogen.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config: scenario already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(scenarioTemplate), 0o600)
}

const scenarioTemplate = `rows = 100
cols = 100
max_iter = 50

[[teams]]
x = 10
y = 10
policy = 1

[[teams]]
x = 90
y = 90
policy = 2

[[sources]]
x = 50
y = 50
start = 0
heat = 100.0

[[sources]]
x = 20
y = 80
start = 5
heat = 100.0
`
