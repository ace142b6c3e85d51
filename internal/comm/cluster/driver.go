package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/emberctl/internal/config"
	"github.com/danmuck/emberctl/internal/wire"
)

var (
	ErrNoWorkers     = errors.New("cluster: no worker addresses")
	ErrMixedRound    = errors.New("cluster: ranks disagree on collective round")
	ErrWorkerAborted = errors.New("cluster: worker aborted")
)

// Outcome is the driver's view of a finished run.
type Outcome struct {
	Iterations int
	Residual   float32
	Grid       []float32 // full surface, row-major global layout
}

// Driver owns a run: it assigns ranks to worker daemons, then serves as the
// collective hub until rank 0 reports the outcome.
type Driver struct {
	addrs   []string
	limits  wire.Limits
	backoff BackoffConfig
	sec     Security
	log     zerolog.Logger
}

func NewDriver(addrs []string) *Driver {
	return &Driver{
		addrs:   addrs,
		limits:  wire.DefaultLimits(),
		backoff: DefaultBackoff(),
		log:     log.With().Str("role", "driver").Logger(),
	}
}

// Secure enables transport security for the driver's worker connections.
func (d *Driver) Secure(sec Security) error {
	if err := sec.ValidateClient(); err != nil {
		return err
	}
	d.sec = sec
	return nil
}

// Run executes the scenario across the worker daemons and blocks until the
// run finishes or fails. Any failure aborts the whole group.
func (d *Driver) Run(ctx context.Context, sc config.Scenario) (*Outcome, error) {
	size := len(d.addrs)
	if size == 0 {
		return nil, ErrNoWorkers
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := d.log.With().Str("run_id", runID).Logger()

	conns := make([]net.Conn, size)
	defer func() {
		for _, conn := range conns {
			if conn != nil {
				conn.Close()
			}
		}
	}()
	for rank := 0; rank < size; rank++ {
		conn, err := dialWithBackoff(ctx, d.addrs[rank], d.backoff, d.sec)
		if err != nil {
			return nil, fmt.Errorf("cluster: dial worker %d (%s): %w", rank, d.addrs[rank], err)
		}
		conns[rank] = conn
	}

	for rank := 0; rank < size; rank++ {
		payload, err := EncodeStart(Start{
			RunID:    runID,
			Rank:     rank,
			Size:     size,
			Peers:    d.addrs,
			Scenario: sc,
		})
		if err != nil {
			d.abortAll(conns, err)
			return nil, err
		}
		f := wire.Frame{Header: wire.Header{Type: wire.TypeStart}, Payload: payload}
		if err := wire.WriteFrame(conns[rank], f, d.limits); err != nil {
			d.abortAll(conns, err)
			return nil, fmt.Errorf("cluster: start worker %d: %w", rank, err)
		}
	}
	logger.Info().Int("workers", size).Msg("run started")

	outcome, err := d.hub(conns, sc)
	if err != nil {
		d.abortAll(conns, err)
		return nil, err
	}
	logger.Info().Int("iterations", outcome.Iterations).Msg("run finished")
	return outcome, nil
}

// hub serves collective rounds: one frame from every rank, one combined
// response to every rank, until rank 0 sends the result instead of a
// contribution.
func (d *Driver) hub(conns []net.Conn, sc config.Scenario) (*Outcome, error) {
	outcome := &Outcome{}
	for {
		first, err := wire.ReadFrame(conns[0], d.limits)
		if err != nil {
			return nil, fmt.Errorf("cluster: read rank 0: %w", err)
		}
		if first.Header.Type == wire.TypeAbort {
			return nil, fmt.Errorf("%w: %s", ErrWorkerAborted, string(first.Payload))
		}
		if first.Header.Type == wire.TypeResult {
			result, err := DecodeResult(first.Payload)
			if err != nil {
				return nil, err
			}
			outcome.Iterations = result.Iterations
			outcome.Residual = result.Residual
			return outcome, nil
		}

		frames := make([]wire.Frame, len(conns))
		frames[0] = first
		for rank := 1; rank < len(conns); rank++ {
			f, err := wire.ReadFrame(conns[rank], d.limits)
			if err != nil {
				return nil, fmt.Errorf("cluster: read rank %d: %w", rank, err)
			}
			if f.Header.Type == wire.TypeAbort {
				return nil, fmt.Errorf("%w: %s", ErrWorkerAborted, string(f.Payload))
			}
			if f.Header.Type != first.Header.Type || f.Header.Step != first.Header.Step {
				return nil, fmt.Errorf("%w: rank %d sent type=%d step=%d, rank 0 sent type=%d step=%d",
					ErrMixedRound, rank, f.Header.Type, f.Header.Step, first.Header.Type, first.Header.Step)
			}
		}

		response, err := d.combine(first.Header.Type, frames, sc, outcome)
		if err != nil {
			return nil, err
		}
		for rank := 0; rank < len(conns); rank++ {
			out := wire.Frame{
				Header: wire.Header{
					Type:  first.Header.Type,
					Flags: wire.FlagResponse,
					Step:  first.Header.Step,
				},
				Payload: response,
			}
			if err := wire.WriteFrame(conns[rank], out, d.limits); err != nil {
				return nil, fmt.Errorf("cluster: respond rank %d: %w", rank, err)
			}
		}
	}
}

func (d *Driver) combine(frameType uint16, frames []wire.Frame, sc config.Scenario, outcome *Outcome) ([]byte, error) {
	switch frameType {
	case wire.TypeReduceMax:
		var top float32
		for i, f := range frames {
			v, err := wire.DecodeFloat(f.Payload)
			if err != nil {
				return nil, err
			}
			if i == 0 || v > top {
				top = v
			}
		}
		return wire.EncodeFloat(top), nil
	case wire.TypeReduceSum:
		sum := 0
		for _, f := range frames {
			v, err := wire.DecodeInt(f.Payload)
			if err != nil {
				return nil, err
			}
			sum += v
		}
		return wire.EncodeInt(sum), nil
	case wire.TypeBarrier:
		return nil, nil
	case wire.TypeGatherBand:
		per := sc.Rows / len(frames) * sc.Cols
		grid := make([]float32, sc.Rows*sc.Cols)
		for rank, f := range frames {
			band := make([]float32, per)
			if err := wire.DecodeRow(f.Payload, band); err != nil {
				return nil, fmt.Errorf("cluster: band from rank %d: %w", rank, err)
			}
			copy(grid[rank*per:], band)
		}
		outcome.Grid = grid
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: type=%d", ErrMixedRound, frameType)
	}
}

func (d *Driver) abortAll(conns []net.Conn, cause error) {
	f := wire.Frame{
		Header:  wire.Header{Type: wire.TypeAbort, Flags: wire.FlagError},
		Payload: []byte(cause.Error()),
	}
	for _, conn := range conns {
		if conn == nil {
			continue
		}
		if err := wire.WriteFrame(conn, f, d.limits); err != nil {
			d.log.Warn().Err(err).Msg("abort frame not delivered")
		}
	}
}
