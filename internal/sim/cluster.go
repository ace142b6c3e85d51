package sim

import (
	"context"

	"github.com/danmuck/emberctl/internal/comm"
	"github.com/danmuck/emberctl/internal/comm/cluster"
)

// ClusterRun adapts the engine to the cluster worker daemon: it runs one
// rank of the received scenario and reports the outcome back to the driver.
func ClusterRun(ctx context.Context, start cluster.Start, c comm.Comm) (cluster.Result, error) {
	rep, err := New(start.Scenario, c).Run(ctx)
	if err != nil {
		return cluster.Result{}, err
	}
	return cluster.Result{
		RunID:      start.RunID,
		Iterations: rep.Iterations,
		Residual:   rep.Residual,
	}, nil
}
