package comm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Collective opcodes shared by the local group and the cluster fabric.
const (
	OpMax uint8 = iota + 1
	OpSum
	OpGather
	OpBarrier
)

type collCall struct {
	op    uint8
	rank  int
	f     float32
	n     int
	band  []float32
	reply chan collResult
}

type collResult struct {
	f    float32
	n    int
	grid []float32
	err  error
}

// LocalGroup runs every rank as a goroutine in one process. Halo rows travel
// over buffered channel links between adjacent ranks; collectives go through
// a single combiner goroutine so all ranks observe one identical result.
type LocalGroup struct {
	size  int
	up    []chan []float32 // up[i]: row flowing rank i+1 -> rank i
	down  []chan []float32 // down[i]: row flowing rank i -> rank i+1
	calls chan collCall
	done  chan struct{}
}

// NewLocalGroup builds the fabric for size ranks and starts the combiner.
func NewLocalGroup(size int) *LocalGroup {
	g := &LocalGroup{
		size:  size,
		up:    make([]chan []float32, size),
		down:  make([]chan []float32, size),
		calls: make(chan collCall, size),
		done:  make(chan struct{}),
	}
	for i := 0; i < size-1; i++ {
		g.up[i] = make(chan []float32, 1)
		g.down[i] = make(chan []float32, 1)
	}
	go g.combine()
	return g
}

// Close stops the combiner. Pending collective calls fail with
// ErrGroupClosed.
func (g *LocalGroup) Close() {
	close(g.done)
}

// Rank returns the handle for one rank of the group.
func (g *LocalGroup) Rank(rank int) Comm {
	if rank < 0 || rank >= g.size {
		panic(fmt.Sprintf("comm: rank %d outside group of %d", rank, g.size))
	}
	return &localRank{group: g, rank: rank}
}

// combine serves one collective round at a time: exactly size contributions
// of the same opcode, one combined answer for everyone.
func (g *LocalGroup) combine() {
	for {
		calls := make([]collCall, 0, g.size)
		for len(calls) < g.size {
			select {
			case c := <-g.calls:
				calls = append(calls, c)
			case <-g.done:
				for _, c := range calls {
					c.reply <- collResult{err: ErrGroupClosed}
				}
				return
			}
		}

		res := reduce(calls)
		for _, c := range calls {
			r := res
			if c.op == OpGather && c.rank != 0 {
				r.grid = nil
			}
			c.reply <- r
		}
	}
}

func reduce(calls []collCall) collResult {
	op := calls[0].op
	for _, c := range calls {
		if c.op != op {
			return collResult{err: ErrMixedOps}
		}
	}
	switch op {
	case OpMax:
		var top float32
		for i, c := range calls {
			if i == 0 || c.f > top {
				top = c.f
			}
		}
		return collResult{f: top}
	case OpSum:
		sum := 0
		for _, c := range calls {
			sum += c.n
		}
		return collResult{n: sum}
	case OpGather:
		per := len(calls[0].band)
		for _, c := range calls {
			if len(c.band) != per {
				return collResult{err: ErrBandMismatch}
			}
		}
		full := make([]float32, per*len(calls))
		for _, c := range calls {
			copy(full[c.rank*per:], c.band)
		}
		return collResult{grid: full}
	case OpBarrier:
		return collResult{}
	default:
		return collResult{err: ErrUnknownOpcode}
	}
}

type localRank struct {
	group *LocalGroup
	rank  int
}

func (r *localRank) Rank() int { return r.rank }
func (r *localRank) Size() int { return r.group.size }

func (r *localRank) ExchangeRow(ctx context.Context, neighbor int, send, recv []float32) error {
	if err := checkNeighbor(r.rank, r.group.size, neighbor); err != nil {
		return err
	}
	if len(send) != len(recv) {
		return fmt.Errorf("%w: send=%d recv=%d", ErrRowLength, len(send), len(recv))
	}

	var out, in chan []float32
	if neighbor == r.rank-1 {
		out = r.group.up[neighbor]
		in = r.group.down[neighbor]
	} else {
		out = r.group.down[r.rank]
		in = r.group.up[r.rank]
	}

	// Links are buffered, so both sides of the pair can send before either
	// receives; the exchange cannot deadlock.
	row := make([]float32, len(send))
	copy(row, send)
	select {
	case out <- row:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case got := <-in:
		if len(got) != len(recv) {
			return fmt.Errorf("%w: got=%d want=%d", ErrRowLength, len(got), len(recv))
		}
		copy(recv, got)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *localRank) call(ctx context.Context, c collCall) (collResult, error) {
	c.rank = r.rank
	c.reply = make(chan collResult, 1)
	select {
	case r.group.calls <- c:
	case <-ctx.Done():
		return collResult{}, ctx.Err()
	case <-r.group.done:
		return collResult{}, ErrGroupClosed
	}
	select {
	case res := <-c.reply:
		return res, res.err
	case <-ctx.Done():
		return collResult{}, ctx.Err()
	}
}

func (r *localRank) AllReduceMax(ctx context.Context, v float32) (float32, error) {
	res, err := r.call(ctx, collCall{op: OpMax, f: v})
	return res.f, err
}

func (r *localRank) AllReduceSum(ctx context.Context, v int) (int, error) {
	res, err := r.call(ctx, collCall{op: OpSum, n: v})
	return res.n, err
}

func (r *localRank) Gather(ctx context.Context, band []float32) ([]float32, error) {
	res, err := r.call(ctx, collCall{op: OpGather, band: band})
	return res.grid, err
}

func (r *localRank) Barrier(ctx context.Context) error {
	_, err := r.call(ctx, collCall{op: OpBarrier})
	return err
}

// RunLocal drives fn once per rank over a fresh local group and waits for the
// whole group. The first error cancels every other rank; there is no partial
// completion.
func RunLocal(ctx context.Context, size int, fn func(ctx context.Context, c Comm) error) error {
	group := NewLocalGroup(size)
	defer group.Close()

	eg, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		c := group.Rank(rank)
		eg.Go(func() error {
			return fn(ctx, c)
		})
	}
	return eg.Wait()
}
