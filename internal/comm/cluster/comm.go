package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/danmuck/emberctl/internal/wire"
)

var (
	ErrAborted       = errors.New("cluster: run aborted")
	ErrUnexpected    = errors.New("cluster: unexpected frame")
	ErrStepMismatch  = errors.New("cluster: peer is on a different step")
	ErrNoNeighborSet = errors.New("cluster: neighbor link not established")
)

// rankComm is one worker rank's view of the cluster fabric. Halo rows travel
// over direct neighbor links; every collective is a request/response round
// with the driver hub. The sim loop is single-threaded per rank, so each
// connection carries strictly alternating write/read pairs.
type rankComm struct {
	start  Start
	ctrl   net.Conn
	up     net.Conn // link to rank-1, accepted
	down   net.Conn // link to rank+1, dialed
	limits wire.Limits

	// Per-connection sequence counters. Both ends of a link advance in
	// lockstep, so a mismatch means the peer skipped or repeated a round.
	ctrlStep uint32
	upStep   uint32
	downStep uint32
}

func (r *rankComm) Rank() int { return r.start.Rank }
func (r *rankComm) Size() int { return r.start.Size }

func (r *rankComm) ExchangeRow(ctx context.Context, neighbor int, send, recv []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var link net.Conn
	var step *uint32
	switch neighbor {
	case r.start.Rank - 1:
		link, step = r.up, &r.upStep
	case r.start.Rank + 1:
		link, step = r.down, &r.downStep
	}
	if link == nil {
		return fmt.Errorf("%w: rank=%d neighbor=%d", ErrNoNeighborSet, r.start.Rank, neighbor)
	}

	*step++
	out := wire.Frame{
		Header:  wire.Header{Type: wire.TypeHaloRow, Rank: uint16(r.start.Rank), Step: *step},
		Payload: wire.EncodeRow(send),
	}
	if err := wire.WriteFrame(link, out, r.limits); err != nil {
		return fmt.Errorf("cluster: send halo to rank %d: %w", neighbor, err)
	}
	in, err := wire.ReadFrame(link, r.limits)
	if err != nil {
		return fmt.Errorf("cluster: recv halo from rank %d: %w", neighbor, err)
	}
	if in.Header.Type == wire.TypeAbort {
		return fmt.Errorf("%w: %s", ErrAborted, string(in.Payload))
	}
	if in.Header.Type != wire.TypeHaloRow {
		return fmt.Errorf("%w: type=%d from rank %d", ErrUnexpected, in.Header.Type, neighbor)
	}
	if in.Header.Step != *step {
		return fmt.Errorf("%w: got step %d, at %d", ErrStepMismatch, in.Header.Step, *step)
	}
	return wire.DecodeRow(in.Payload, recv)
}

// collective sends one contribution to the driver and waits for the combined
// answer.
func (r *rankComm) collective(ctx context.Context, frameType uint16, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.ctrlStep++
	out := wire.Frame{
		Header:  wire.Header{Type: frameType, Rank: uint16(r.start.Rank), Step: r.ctrlStep},
		Payload: payload,
	}
	if err := wire.WriteFrame(r.ctrl, out, r.limits); err != nil {
		return nil, fmt.Errorf("cluster: send collective: %w", err)
	}
	in, err := wire.ReadFrame(r.ctrl, r.limits)
	if err != nil {
		return nil, fmt.Errorf("cluster: recv collective: %w", err)
	}
	if in.Header.Type == wire.TypeAbort {
		return nil, fmt.Errorf("%w: %s", ErrAborted, string(in.Payload))
	}
	if in.Header.Type != frameType || in.Header.Flags&wire.FlagResponse == 0 {
		return nil, fmt.Errorf("%w: type=%d flags=%#x", ErrUnexpected, in.Header.Type, in.Header.Flags)
	}
	return in.Payload, nil
}

func (r *rankComm) AllReduceMax(ctx context.Context, v float32) (float32, error) {
	payload, err := r.collective(ctx, wire.TypeReduceMax, wire.EncodeFloat(v))
	if err != nil {
		return 0, err
	}
	return wire.DecodeFloat(payload)
}

func (r *rankComm) AllReduceSum(ctx context.Context, v int) (int, error) {
	payload, err := r.collective(ctx, wire.TypeReduceSum, wire.EncodeInt(v))
	if err != nil {
		return 0, err
	}
	return wire.DecodeInt(payload)
}

// Gather ships the owned band to the driver; the assembled grid stays there,
// so every rank gets nil back.
func (r *rankComm) Gather(ctx context.Context, band []float32) ([]float32, error) {
	if _, err := r.collective(ctx, wire.TypeGatherBand, wire.EncodeRow(band)); err != nil {
		return nil, err
	}
	return nil, nil
}

func (r *rankComm) Barrier(ctx context.Context) error {
	_, err := r.collective(ctx, wire.TypeBarrier, nil)
	return err
}
