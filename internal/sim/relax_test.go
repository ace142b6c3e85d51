package sim

import (
	"context"
	"testing"

	"github.com/danmuck/emberctl/internal/testutil/testlog"
)

func TestRunRelaxConvergesOnFixedPoint(t *testing.T) {
	testlog.Start(t)
	cfg := RelaxConfig{
		Rows: 8, Cols: 8, MaxIter: 50, Tolerance: 0.01,
		// Planar surface: already a fixed point of the relaxation.
		Init: func(row, col int) float32 { return float32(row + col) },
	}
	rep, err := RunRelaxLocal(context.Background(), cfg, 1)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Iterations != 1 {
		t.Fatalf("fixed point should converge immediately, ran %d iterations", rep.Iterations)
	}
	if rep.Residual != 0 {
		t.Fatalf("fixed point residual = %v", rep.Residual)
	}
}

func TestRunRelaxMatchesAcrossWorkerCounts(t *testing.T) {
	testlog.Start(t)
	cfg := RelaxConfig{
		Rows: 12, Cols: 10, MaxIter: 40, Tolerance: 0.001,
		// Hot top border diffusing into a cold interior.
		Init: func(row, col int) float32 {
			if row == 0 {
				return 100
			}
			return 0
		},
	}

	one, err := RunRelaxLocal(context.Background(), cfg, 1)
	if err != nil {
		t.Fatalf("one worker: %v", err)
	}
	for _, workers := range []int{2, 3, 4} {
		many, err := RunRelaxLocal(context.Background(), cfg, workers)
		if err != nil {
			t.Fatalf("%d workers: %v", workers, err)
		}
		if many.Iterations != one.Iterations {
			t.Fatalf("%d workers: iteration count %d, want %d", workers, many.Iterations, one.Iterations)
		}
		if len(many.Residuals) != len(one.Residuals) {
			t.Fatalf("%d workers: residual sequence diverged", workers)
		}
		for i := range one.Residuals {
			if one.Residuals[i] != many.Residuals[i] {
				t.Fatalf("%d workers: residual %d differs: %v vs %v",
					workers, i, one.Residuals[i], many.Residuals[i])
			}
		}
		for i := range one.Grid {
			if one.Grid[i] != many.Grid[i] {
				t.Fatalf("%d workers: grid cell %d differs: %v vs %v",
					workers, i, one.Grid[i], many.Grid[i])
			}
		}
	}
}

func TestRunRelaxStopsAtBudget(t *testing.T) {
	testlog.Start(t)
	cfg := RelaxConfig{
		Rows: 6, Cols: 6, MaxIter: 3, Tolerance: 1e-9,
		Init: func(row, col int) float32 {
			if row == 0 {
				return 100
			}
			return 0
		},
	}
	rep, err := RunRelaxLocal(context.Background(), cfg, 2)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Iterations != 3 {
		t.Fatalf("expected budget exhaustion at 3, ran %d", rep.Iterations)
	}
}
