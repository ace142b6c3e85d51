package agents

import (
	"testing"

	"github.com/danmuck/emberctl/internal/grid"
)

func TestActivateDueAndSuppressedCount(t *testing.T) {
	r := NewRoster([]Source{
		{X: 1, Y: 1, Start: 0, Heat: 100},
		{X: 2, Y: 2, Start: 3, Heat: 100},
	}, nil)

	if n := r.ActivateDue(0); n != 0 {
		t.Fatalf("suppressed after iter 0 = %d", n)
	}
	if r.Sources[0].State != SourceActive {
		t.Fatalf("source 0 not activated at its start time")
	}
	if r.Sources[1].State != SourceDormant {
		t.Fatalf("source 1 activated early")
	}

	r.Sources[0].State = SourceSuppressed
	if n := r.ActivateDue(3); n != 1 {
		t.Fatalf("suppressed after iter 3 = %d, want 1", n)
	}
	if r.Sources[1].State != SourceActive {
		t.Fatalf("source 1 not activated at iter 3")
	}

	// Suppressed is terminal: a matching start time must not revive it.
	r.Sources[0].Start = 5
	r.ActivateDue(5)
	if r.Sources[0].State != SourceSuppressed {
		t.Fatalf("suppressed source revived")
	}
}

func TestNearestActiveTieBreaksOnLowestIndex(t *testing.T) {
	r := NewRoster([]Source{
		{X: 0, Y: 4, State: SourceActive},
		{X: 4, Y: 0, State: SourceActive}, // equidistant from (0,0)
	}, nil)
	r.Sources[0].State = SourceActive
	r.Sources[1].State = SourceActive
	if got := r.NearestActive(0, 0); got != 0 {
		t.Fatalf("tie broken to %d, want 0", got)
	}

	r.Sources[0].State = SourceSuppressed
	if got := r.NearestActive(0, 0); got != 1 {
		t.Fatalf("nearest with source 0 suppressed = %d, want 1", got)
	}
	r.Sources[1].State = SourceDormant
	if got := r.NearestActive(0, 0); got != NoTarget {
		t.Fatalf("nearest with no active sources = %d, want NoTarget", got)
	}
}

func TestHorizontalFirstMovesColumnBeforeRow(t *testing.T) {
	r := NewRoster(
		[]Source{{X: 3, Y: 5, State: SourceActive}},
		[]Team{{X: 0, Y: 0, Policy: PolicyHorizontalFirst}},
	)
	r.Sources[0].State = SourceActive

	// Five moves along the column axis to (0,5), then three rows down.
	for step := 1; step <= 5; step++ {
		r.MoveTeams()
		if r.Teams[0].X != 0 || r.Teams[0].Y != step {
			t.Fatalf("step %d: team at (%d,%d), want (0,%d)",
				step, r.Teams[0].X, r.Teams[0].Y, step)
		}
	}
	for step := 1; step <= 3; step++ {
		r.MoveTeams()
		if r.Teams[0].X != step || r.Teams[0].Y != 5 {
			t.Fatalf("row step %d: team at (%d,%d), want (%d,5)",
				step, r.Teams[0].X, r.Teams[0].Y, step)
		}
	}
}

func TestDiagonalMoveAdjustsBothAxes(t *testing.T) {
	r := NewRoster(
		[]Source{{X: 4, Y: 1, State: SourceActive}},
		[]Team{{X: 0, Y: 4, Policy: PolicyDiagonal}},
	)
	r.Sources[0].State = SourceActive
	r.MoveTeams()
	if r.Teams[0].X != 1 || r.Teams[0].Y != 3 {
		t.Fatalf("team at (%d,%d), want (1,3)", r.Teams[0].X, r.Teams[0].Y)
	}
}

func TestTeamWithoutTargetStays(t *testing.T) {
	r := NewRoster(
		[]Source{{X: 4, Y: 4, Start: 9}},
		[]Team{{X: 2, Y: 2, Policy: PolicyVerticalFirst}},
	)
	r.MoveTeams()
	if r.Teams[0].X != 2 || r.Teams[0].Y != 2 {
		t.Fatalf("idle team moved to (%d,%d)", r.Teams[0].X, r.Teams[0].Y)
	}
	if r.Teams[0].Target != NoTarget {
		t.Fatalf("idle team acquired target %d", r.Teams[0].Target)
	}
}

func TestStrikeSuppressesReachedTargetAndDampsHeat(t *testing.T) {
	p, err := grid.NewPartition(16, 16, 0, 1)
	if err != nil {
		t.Fatalf("new partition: %v", err)
	}
	for local := 1; local <= p.Chunk(); local++ {
		for col := 0; col < p.Cols(); col++ {
			p.Set(local, col, 100)
		}
	}
	r := NewRoster(
		[]Source{{X: 8, Y: 8, State: SourceActive}},
		[]Team{{X: 7, Y: 7, Policy: PolicyDiagonal}},
	)
	r.Sources[0].State = SourceActive
	r.MoveTeams() // lands on (8,8)
	if r.Teams[0].X != 8 || r.Teams[0].Y != 8 {
		t.Fatalf("team at (%d,%d), want (8,8)", r.Teams[0].X, r.Teams[0].Y)
	}
	r.Strike(p)
	if r.Sources[0].State != SourceSuppressed {
		t.Fatalf("reached source not suppressed")
	}
	local, _ := p.LocalRow(8)
	if got := p.At(local, 8); got != 75 {
		t.Fatalf("center cell = %v, want 75", got)
	}
	// Distance 3 is inside a diagonal team's radius, 4 is outside.
	if got := p.At(local, 11); got != 75 {
		t.Fatalf("cell at distance 3 = %v, want 75", got)
	}
	if got := p.At(local, 12); got != 100 {
		t.Fatalf("cell at distance 4 = %v, want 100", got)
	}
}

func TestStrikeTouchesOnlyOwnedRows(t *testing.T) {
	// Two ranks over 16 rows; the team's radius straddles the band boundary.
	top, err := grid.NewPartition(16, 16, 0, 2)
	if err != nil {
		t.Fatalf("rank 0 partition: %v", err)
	}
	bottom, err := grid.NewPartition(16, 16, 1, 2)
	if err != nil {
		t.Fatalf("rank 1 partition: %v", err)
	}
	for _, p := range []*grid.Partition{top, bottom} {
		for local := 1; local <= p.Chunk(); local++ {
			for col := 0; col < p.Cols(); col++ {
				p.Set(local, col, 100)
			}
		}
	}

	mk := func() *Roster {
		r := NewRoster(nil, []Team{{X: 7, Y: 7, Policy: PolicyDiagonal}})
		return r
	}
	mk().Strike(top)
	mk().Strike(bottom)

	// Global row 7 belongs to rank 0, row 8 to rank 1; both rows sit inside
	// the radius and each owner damped its own row exactly once.
	localTop, _ := top.LocalRow(7)
	if got := top.At(localTop, 7); got != 75 {
		t.Fatalf("rank 0 row = %v, want 75", got)
	}
	localBottom, _ := bottom.LocalRow(8)
	if got := bottom.At(localBottom, 7); got != 75 {
		t.Fatalf("rank 1 row = %v, want 75", got)
	}
	// Rank 0 never wrote into rank 1's band and vice versa: halo rows of both
	// partitions are untouched.
	for col := 0; col < 16; col++ {
		if top.BottomHalo()[col] != 0 {
			t.Fatalf("rank 0 bottom halo written at col %d", col)
		}
		if bottom.TopHalo()[col] != 0 {
			t.Fatalf("rank 1 top halo written at col %d", col)
		}
	}
}
