// Package sim drives the distributed heat-diffusion simulation: per outer
// iteration it activates due sources, runs a fixed number of diffusion
// sub-steps over the partitioned grid, then advances the replicated team
// agents and applies their strikes to the owned band.
package sim

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/emberctl/internal/agents"
	"github.com/danmuck/emberctl/internal/comm"
	"github.com/danmuck/emberctl/internal/config"
	"github.com/danmuck/emberctl/internal/grid"
	"github.com/danmuck/emberctl/internal/observability"
	"github.com/danmuck/emberctl/internal/stencil"
)

const (
	// Threshold is the residual below which the surface counts as stable.
	Threshold = 0.1
	// SubSteps is the number of diffusion sub-steps per team movement.
	SubSteps = 10
)

// Report is the outcome of one rank's run. Grid and SourceHeat are populated
// on rank 0 only, after the final gather.
type Report struct {
	Iterations int
	Residual   float32   // last globally reduced residual
	Residuals  []float32 // one entry per sub-step, identical on every rank
	Grid       []float32 // full surface in row-major global layout, rank 0 only
	SourceHeat []float32 // final temperature at each in-bounds source, input order, rank 0 only
}

// Engine runs one rank of a scenario over a collective fabric.
type Engine struct {
	sc  config.Scenario
	c   comm.Comm
	log zerolog.Logger
}

func New(sc config.Scenario, c comm.Comm) *Engine {
	return &Engine{
		sc:  sc,
		c:   c,
		log: log.With().Int("rank", c.Rank()).Logger(),
	}
}

// Run executes the simulation loop until every source is suppressed and the
// surface is stable, or the iteration budget runs out. Every rank must call
// Run with the identical scenario.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	buffers, err := grid.NewBuffers(e.sc.Rows, e.sc.Cols, e.c.Rank(), e.c.Size())
	if err != nil {
		return nil, err
	}
	roster := e.sc.Roster()
	rankLabel := strconv.Itoa(e.c.Rank())

	report := &Report{}
	stable := false
	for iter := 0; iter < e.sc.MaxIter && !stable; iter++ {
		suppressed := roster.ActivateDue(iter)

		// Every rank counts its own replica, so the sum across the group is
		// count*size; replica divergence would surface here as a total that
		// does not divide evenly.
		totalSuppressed, err := e.c.AllReduceSum(ctx, suppressed)
		if err != nil {
			return nil, fmt.Errorf("sim: suppressed-count reduction: %w", err)
		}
		allSuppressed := totalSuppressed == len(roster.Sources)*e.c.Size()

		var residual float32
		for step := 0; step < SubSteps; step++ {
			roster.InjectHeat(buffers.Cur)

			if err := exchangeHalos(ctx, e.c, buffers.Cur, rankLabel); err != nil {
				return nil, err
			}

			local := stencil.Step(buffers)
			buffers.Swap()

			residual, err = e.c.AllReduceMax(ctx, local)
			if err != nil {
				return nil, fmt.Errorf("sim: residual reduction: %w", err)
			}
			report.Residuals = append(report.Residuals, residual)
			observability.RecordSubStep()
		}
		observability.RecordResidual(float64(residual))
		report.Residual = residual

		if allSuppressed && residual < Threshold {
			stable = true
		}

		roster.MoveTeams()
		roster.Strike(buffers.Cur)

		report.Iterations = iter + 1
		observability.RecordIteration()
		active := 0
		for _, s := range roster.Sources {
			if s.State == agents.SourceActive {
				active++
			}
		}
		observability.RecordSourceStates(active, suppressed)
		e.log.Debug().
			Int("iter", iter).
			Float32("residual", residual).
			Int("active_sources", active).
			Msg("iteration complete")
	}

	full, err := e.c.Gather(ctx, buffers.Cur.Band())
	if err != nil {
		return nil, fmt.Errorf("sim: final gather: %w", err)
	}
	// In cluster mode the gathered grid lands at the driver, not rank 0.
	if e.c.Rank() == 0 && full != nil {
		report.Grid = full
		report.SourceHeat = SourceHeat(e.sc, full)
	}
	return report, nil
}

// exchangeHalos refreshes both halo rows from the row neighbors. Edge ranks
// skip the missing side; their outer halo stays at the fixed boundary value.
func exchangeHalos(ctx context.Context, c comm.Comm, p *grid.Partition, rankLabel string) error {
	if p.HasTopNeighbor() {
		if err := c.ExchangeRow(ctx, c.Rank()-1, p.TopBoundary(), p.TopHalo()); err != nil {
			return fmt.Errorf("sim: halo exchange with rank %d: %w", c.Rank()-1, err)
		}
		observability.RecordHaloRow(rankLabel)
	}
	if p.HasBottomNeighbor() {
		if err := c.ExchangeRow(ctx, c.Rank()+1, p.BottomBoundary(), p.BottomHalo()); err != nil {
			return fmt.Errorf("sim: halo exchange with rank %d: %w", c.Rank()+1, err)
		}
		observability.RecordHaloRow(rankLabel)
	}
	return nil
}

// SourceHeat reads the final temperature at each source coordinate from the
// gathered grid, in input order. Out-of-bounds sources contribute no value.
func SourceHeat(sc config.Scenario, full []float32) []float32 {
	heat := make([]float32, 0, len(sc.Sources))
	for _, src := range sc.Sources {
		if src.X < 0 || src.X > sc.Rows-1 || src.Y < 0 || src.Y > sc.Cols-1 {
			continue
		}
		heat = append(heat, full[src.X*sc.Cols+src.Y])
	}
	return heat
}

// RunLocal runs the whole scenario with the given number of in-process ranks
// and returns rank 0's report.
func RunLocal(ctx context.Context, sc config.Scenario, workers int) (*Report, error) {
	if _, err := grid.NewPartition(sc.Rows, sc.Cols, 0, workers); err != nil {
		return nil, err
	}
	reports := make([]*Report, workers)
	err := comm.RunLocal(ctx, workers, func(ctx context.Context, c comm.Comm) error {
		rep, err := New(sc, c).Run(ctx)
		if err != nil {
			return err
		}
		reports[c.Rank()] = rep
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reports[0], nil
}
