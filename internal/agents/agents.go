// Package agents holds the replicated agent state of the simulation: fixed
// heat sources with a dormant/active/suppressed lifecycle and mobile teams
// that chase the nearest active source. Every worker carries an identical
// replica and advances it with the same pure updates each iteration, so no
// cross-worker communication is needed for agent decisions.
package agents

import (
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/emberctl/internal/grid"
)

// Movement policies. The wire/config encoding matches the scenario format:
// 1 diagonal, 2 horizontal-first, 3 vertical-first.
type Policy int

const (
	PolicyDiagonal        Policy = 1
	PolicyHorizontalFirst Policy = 2
	PolicyVerticalFirst   Policy = 3
)

// Influence radii of a team's strike by policy.
const (
	RadiusDiagonal = 3
	RadiusAxis     = 9
)

// strikeFactor is the fraction of heat left in a cell after one strike.
const strikeFactor = 0.75

// NoTarget marks a team with no active source to chase.
const NoTarget = -1

var ErrUnknownPolicy = errors.New("agents: unknown movement policy")

func (p Policy) Valid() bool {
	switch p {
	case PolicyDiagonal, PolicyHorizontalFirst, PolicyVerticalFirst:
		return true
	}
	return false
}

func (p Policy) Radius() int {
	if p == PolicyDiagonal {
		return RadiusDiagonal
	}
	return RadiusAxis
}

func (p Policy) String() string {
	switch p {
	case PolicyDiagonal:
		return "diagonal"
	case PolicyHorizontalFirst:
		return "horizontal-first"
	case PolicyVerticalFirst:
		return "vertical-first"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// SourceState is the tri-state lifecycle of a heat source.
type SourceState int

const (
	SourceDormant SourceState = iota
	SourceActive
	SourceSuppressed // terminal
)

// Source is one fixed-position heat emitter. X is the global row, Y the
// column, matching the scenario coordinate order.
type Source struct {
	X, Y  int
	Start int // iteration at which the source ignites
	Heat  float32
	State SourceState
}

// Team is one mobile suppression unit.
type Team struct {
	X, Y   int
	Policy Policy
	Target int // index of the chased source, or NoTarget
}

// Roster is the full replicated agent state.
type Roster struct {
	Sources []Source
	Teams   []Team
}

// NewRoster copies the configured agents so the caller's slices stay
// untouched; targets start unset.
func NewRoster(sources []Source, teams []Team) *Roster {
	r := &Roster{
		Sources: make([]Source, len(sources)),
		Teams:   make([]Team, len(teams)),
	}
	copy(r.Sources, sources)
	copy(r.Teams, teams)
	for i := range r.Teams {
		r.Teams[i].Target = NoTarget
	}
	return r
}

// ActivateDue flips dormant sources whose start time has arrived and returns
// the local count of suppressed sources for the deactivation reduction.
func (r *Roster) ActivateDue(iteration int) (suppressed int) {
	for i := range r.Sources {
		if r.Sources[i].State == SourceDormant && r.Sources[i].Start == iteration {
			r.Sources[i].State = SourceActive
		}
		if r.Sources[i].State == SourceSuppressed {
			suppressed++
		}
	}
	return suppressed
}

// InjectHeat pins every active source cell owned by the partition to the
// source's heat value. Sources outside the global grid are ignored.
func (r *Roster) InjectHeat(p *grid.Partition) {
	for i := range r.Sources {
		s := &r.Sources[i]
		if s.State != SourceActive {
			continue
		}
		if s.X < 0 || s.X > p.Rows()-1 || s.Y < 0 || s.Y > p.Cols()-1 {
			continue
		}
		if local, ok := p.LocalRow(s.X); ok {
			p.Set(local, s.Y, s.Heat)
		}
	}
}

// NearestActive returns the index of the active source closest to (x,y) by
// Euclidean distance, lowest index winning ties, or NoTarget when no source
// is active.
func (r *Roster) NearestActive(x, y int) int {
	best := NoTarget
	bestDist := math.MaxFloat64
	for i := range r.Sources {
		if r.Sources[i].State != SourceActive {
			continue
		}
		dx := float64(r.Sources[i].X - x)
		dy := float64(r.Sources[i].Y - y)
		d := math.Sqrt(dx*dx + dy*dy)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// MoveTeams records each team's target and advances it one cell toward it.
// A team with no active source stays put. The update is a pure function of
// the replicated roster, identical on every rank.
func (r *Roster) MoveTeams() {
	for t := range r.Teams {
		team := &r.Teams[t]
		team.Target = r.NearestActive(team.X, team.Y)
		if team.Target == NoTarget {
			continue
		}
		goal := r.Sources[team.Target]
		switch team.Policy {
		case PolicyDiagonal:
			if goal.X < team.X {
				team.X--
			}
			if goal.X > team.X {
				team.X++
			}
			if goal.Y < team.Y {
				team.Y--
			}
			if goal.Y > team.Y {
				team.Y++
			}
		case PolicyHorizontalFirst:
			if goal.Y < team.Y {
				team.Y--
			} else if goal.Y > team.Y {
				team.Y++
			} else if goal.X < team.X {
				team.X--
			} else if goal.X > team.X {
				team.X++
			}
		default: // vertical-first
			if goal.X < team.X {
				team.X--
			} else if goal.X > team.X {
				team.X++
			} else if goal.Y < team.Y {
				team.Y--
			} else if goal.Y > team.Y {
				team.Y++
			}
		}
	}
}

// Strike applies team actions after movement: a team that reached its target
// suppresses it, and every team damps the heat inside its circular influence
// radius. Only cells inside the partition's owned band are touched, so across
// the worker group each cell is damped exactly once.
func (r *Roster) Strike(p *grid.Partition) {
	for t := range r.Teams {
		team := &r.Teams[t]
		if team.Target != NoTarget {
			goal := &r.Sources[team.Target]
			if goal.X == team.X && goal.Y == team.Y && goal.State == SourceActive {
				goal.State = SourceSuppressed
			}
		}

		radius := team.Policy.Radius()
		for x := team.X - radius; x <= team.X+radius; x++ {
			if x < 1 || x >= p.Rows()-1 {
				continue
			}
			local, ok := p.LocalRow(x)
			if !ok {
				continue
			}
			for y := team.Y - radius; y <= team.Y+radius; y++ {
				if y < 1 || y >= p.Cols()-1 {
					continue
				}
				dx := float64(team.X - x)
				dy := float64(team.Y - y)
				if math.Sqrt(dx*dx+dy*dy) <= float64(radius) {
					p.Set(local, y, p.At(local, y)*strikeFactor)
				}
			}
		}
	}
}
