package sim

import (
	"context"
	"fmt"
	"strconv"

	"github.com/danmuck/emberctl/internal/comm"
	"github.com/danmuck/emberctl/internal/grid"
	"github.com/danmuck/emberctl/internal/stencil"
)

// RelaxConfig is the input of the pure relaxation mode: no sources, no teams,
// just the banded solver iterating until the surface settles.
type RelaxConfig struct {
	Rows, Cols int
	MaxIter    int
	Tolerance  float32
	// Init seeds the initial surface value of a global cell. Nil means an
	// all-zero surface. Border values set here are held fixed for the whole
	// run.
	Init func(row, col int) float32
}

// RunRelax executes one rank of the pure relaxation mode: sub-step loop of
// halo exchange, stencil update and residual reduction until the global
// residual drops below the tolerance or the iteration budget is spent.
func RunRelax(ctx context.Context, cfg RelaxConfig, c comm.Comm) (*Report, error) {
	buffers, err := grid.NewBuffers(cfg.Rows, cfg.Cols, c.Rank(), c.Size())
	if err != nil {
		return nil, err
	}
	if cfg.Init != nil {
		for local := 1; local <= buffers.Cur.Chunk(); local++ {
			global := buffers.Cur.GlobalRow(local)
			for col := 0; col < cfg.Cols; col++ {
				buffers.Cur.Set(local, col, cfg.Init(global, col))
			}
		}
	}

	rankLabel := strconv.Itoa(c.Rank())
	report := &Report{}
	for iter := 0; iter < cfg.MaxIter; iter++ {
		if err := exchangeHalos(ctx, c, buffers.Cur, rankLabel); err != nil {
			return nil, err
		}
		local := stencil.Step(buffers)
		buffers.Swap()

		residual, err := c.AllReduceMax(ctx, local)
		if err != nil {
			return nil, fmt.Errorf("sim: residual reduction: %w", err)
		}
		report.Iterations = iter + 1
		report.Residual = residual
		report.Residuals = append(report.Residuals, residual)
		if residual < cfg.Tolerance {
			break
		}
	}

	full, err := c.Gather(ctx, buffers.Cur.Band())
	if err != nil {
		return nil, fmt.Errorf("sim: final gather: %w", err)
	}
	if c.Rank() == 0 {
		report.Grid = full
	}
	return report, nil
}

// RunRelaxLocal runs the pure relaxation mode with in-process ranks and
// returns rank 0's report.
func RunRelaxLocal(ctx context.Context, cfg RelaxConfig, workers int) (*Report, error) {
	if _, err := grid.NewPartition(cfg.Rows, cfg.Cols, 0, workers); err != nil {
		return nil, err
	}
	reports := make([]*Report, workers)
	err := comm.RunLocal(ctx, workers, func(ctx context.Context, c comm.Comm) error {
		rep, err := RunRelax(ctx, cfg, c)
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
