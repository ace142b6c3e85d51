// Package comm provides the collective fabric between simulation ranks:
// paired halo-row exchange with row neighbors, all-reduce of convergence
// metrics, rank-order gather of the final bands and a plain barrier. Every
// rank must call the collectives in the same order each sub-step; a rank that
// never reaches a collective stalls the group, which is accepted as fatal.
package comm

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotNeighbor   = errors.New("comm: exchange peer is not a row neighbor")
	ErrRowLength     = errors.New("comm: halo row length mismatch")
	ErrGroupClosed   = errors.New("comm: group closed")
	ErrMixedOps      = errors.New("comm: ranks disagree on collective operation")
	ErrBandMismatch  = errors.New("comm: gathered band sizes differ")
	ErrUnknownOpcode = errors.New("comm: unknown collective opcode")
)

// Comm is one rank's handle on the worker group. It mirrors the collective
// surface the solver needs and nothing more.
type Comm interface {
	Rank() int
	Size() int

	// ExchangeRow performs the paired boundary exchange with the given row
	// neighbor (rank-1 or rank+1): send leaves, the neighbor's boundary row
	// lands in recv. Both sides must call it within the same sub-step.
	ExchangeRow(ctx context.Context, neighbor int, send, recv []float32) error

	// AllReduceMax combines every rank's value with the max operator and
	// returns the single global value, bit-identical on all ranks.
	AllReduceMax(ctx context.Context, v float32) (float32, error)

	// AllReduceSum combines every rank's count with the sum operator.
	AllReduceSum(ctx context.Context, v int) (int, error)

	// Gather collects the owned bands in rank order. Rank 0 receives the
	// concatenated full grid; every other rank receives nil.
	Gather(ctx context.Context, band []float32) ([]float32, error)

	// Barrier blocks until every rank arrived.
	Barrier(ctx context.Context) error
}

func checkNeighbor(rank, size, neighbor int) error {
	if neighbor != rank-1 && neighbor != rank+1 || neighbor < 0 || neighbor >= size {
		return fmt.Errorf("%w: rank=%d neighbor=%d size=%d", ErrNotNeighbor, rank, neighbor, size)
	}
	return nil
}
