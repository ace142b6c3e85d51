package cluster

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/emberctl/internal/comm"
	"github.com/danmuck/emberctl/internal/wire"
)

var ErrRunInProgress = errors.New("cluster: a run is already in progress")

// RunFunc executes one rank of a run over the fabric and returns its outcome.
type RunFunc func(ctx context.Context, start Start, c comm.Comm) (Result, error)

// Worker is the daemon side of the fabric: it accepts the driver's start
// frame, wires up the neighbor links and hands the rank to the run function.
// One run is served at a time.
type Worker struct {
	addr    string
	run     RunFunc
	limits  wire.Limits
	backoff BackoffConfig
	sec     Security
	log     zerolog.Logger

	mu     sync.Mutex
	active bool

	// hello parks the accepted link from rank-1. The upper neighbor may dial
	// before this worker has seen its own start frame, so the channel outlives
	// individual runs; links are matched to a run by its ID.
	hello chan helloLink

	ln net.Listener
}

type helloLink struct {
	conn  net.Conn
	runID string
}

func NewWorker(addr string, run RunFunc) *Worker {
	return &Worker{
		addr:    addr,
		run:     run,
		limits:  wire.DefaultLimits(),
		backoff: DefaultBackoff(),
		hello:   make(chan helloLink, 1),
		log:     log.With().Str("role", "worker").Logger(),
	}
}

// Secure enables transport security for every fabric connection the worker
// accepts or dials. Must be called before Listen or Serve.
func (w *Worker) Secure(sec Security) error {
	if err := sec.Validate(); err != nil {
		return err
	}
	w.sec = sec
	return nil
}

// Addr returns the bound listen address once Serve has started.
func (w *Worker) Addr() string {
	if w.ln != nil {
		return w.ln.Addr().String()
	}
	return w.addr
}

// Listen binds the worker's port without serving yet, so callers can learn
// the bound address before the first driver arrives.
func (w *Worker) Listen() error {
	if w.sec.Enabled {
		cfg, err := w.sec.serverTLSConfig()
		if err != nil {
			return fmt.Errorf("cluster: tls listen %s: %w", w.addr, err)
		}
		ln, err := tls.Listen("tcp", w.addr, cfg)
		if err != nil {
			return fmt.Errorf("cluster: listen %s: %w", w.addr, err)
		}
		w.ln = ln
		return nil
	}
	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("cluster: listen %s: %w", w.addr, err)
	}
	w.ln = ln
	return nil
}

// Serve accepts driver sessions and neighbor links until the context ends.
// A connection's first frame decides its role: TypeStart makes it the control
// connection of a new run, TypeLinkHello routes it to the active run.
func (w *Worker) Serve(ctx context.Context) error {
	if w.ln == nil {
		if err := w.Listen(); err != nil {
			return err
		}
	}
	go func() {
		<-ctx.Done()
		w.ln.Close()
	}()
	w.log.Info().Str("addr", w.Addr()).Msg("worker listening")

	for {
		conn, err := w.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("cluster: accept: %w", err)
		}
		go w.route(ctx, conn)
	}
}

func (w *Worker) route(ctx context.Context, conn net.Conn) {
	f, err := wire.ReadFrame(conn, w.limits)
	if err != nil {
		w.log.Warn().Err(err).Msg("dropping connection with bad first frame")
		conn.Close()
		return
	}
	switch f.Header.Type {
	case wire.TypeStart:
		w.handleRun(ctx, conn, f)
	case wire.TypeLinkHello:
		select {
		case w.hello <- helloLink{conn: conn, runID: string(f.Payload)}:
		case <-ctx.Done():
			conn.Close()
		}
	default:
		w.log.Warn().Uint16("type", f.Header.Type).Msg("unexpected first frame")
		conn.Close()
	}
}

func (w *Worker) handleRun(ctx context.Context, ctrl net.Conn, f wire.Frame) {
	defer ctrl.Close()

	start, err := DecodeStart(f.Payload)
	if err != nil {
		w.abort(ctrl, err)
		return
	}
	logger := w.log.With().Str("run_id", start.RunID).Int("rank", start.Rank).Logger()

	w.mu.Lock()
	if w.active {
		w.mu.Unlock()
		w.abort(ctrl, ErrRunInProgress)
		return
	}
	w.active = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.active = false
		w.mu.Unlock()
	}()

	rc := &rankComm{start: start, ctrl: ctrl, limits: w.limits}
	if err := w.linkNeighbors(ctx, rc); err != nil {
		logger.Error().Err(err).Msg("neighbor link setup failed")
		w.abort(ctrl, err)
		return
	}
	defer rc.closeLinks()

	logger.Info().Int("size", start.Size).Msg("run starting")
	result, err := w.run(ctx, start, rc)
	if err != nil {
		logger.Error().Err(err).Msg("run failed")
		w.abort(ctrl, err)
		return
	}
	if start.Rank == 0 {
		payload, err := EncodeResult(result)
		if err != nil {
			logger.Error().Err(err).Msg("result encode failed")
			return
		}
		out := wire.Frame{Header: wire.Header{Type: wire.TypeResult}, Payload: payload}
		if err := wire.WriteFrame(ctrl, out, w.limits); err != nil {
			logger.Error().Err(err).Msg("result send failed")
			return
		}
	}
	logger.Info().Int("iterations", result.Iterations).Msg("run complete")
}

// linkNeighbors establishes the halo links: every rank below the last dials
// its lower neighbor, every rank above the first waits for the accepted link
// from its upper neighbor. Registration of the hello channel happens before
// dialing, so link setup cannot deadlock along the chain.
func (w *Worker) linkNeighbors(ctx context.Context, rc *rankComm) error {
	if rc.start.Rank < rc.start.Size-1 {
		conn, err := dialWithBackoff(ctx, rc.start.Peers[rc.start.Rank+1], w.backoff, w.sec)
		if err != nil {
			return fmt.Errorf("cluster: dial rank %d: %w", rc.start.Rank+1, err)
		}
		hello := wire.Frame{
			Header:  wire.Header{Type: wire.TypeLinkHello, Rank: uint16(rc.start.Rank)},
			Payload: []byte(rc.start.RunID),
		}
		if err := wire.WriteFrame(conn, hello, w.limits); err != nil {
			conn.Close()
			return fmt.Errorf("cluster: link hello to rank %d: %w", rc.start.Rank+1, err)
		}
		rc.down = conn
	}
	if rc.start.Rank > 0 {
		for rc.up == nil {
			select {
			case link := <-w.hello:
				if link.runID != rc.start.RunID {
					// Parked by an aborted earlier run.
					link.conn.Close()
					continue
				}
				rc.up = link.conn
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (w *Worker) abort(conn net.Conn, cause error) {
	f := wire.Frame{
		Header:  wire.Header{Type: wire.TypeAbort, Flags: wire.FlagError},
		Payload: []byte(cause.Error()),
	}
	if err := wire.WriteFrame(conn, f, w.limits); err != nil {
		w.log.Warn().Err(err).Msg("abort frame not delivered")
	}
}

func (r *rankComm) closeLinks() {
	if r.up != nil {
		r.up.Close()
	}
	if r.down != nil {
		r.down.Close()
	}
}

func dialWithBackoff(ctx context.Context, addr string, cfg BackoffConfig, sec Security) (net.Conn, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	dialer := &net.Dialer{}
	for attempt := 1; attempt <= 8; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			if !sec.Enabled {
				return conn, nil
			}
			tlsCfg, cfgErr := sec.clientTLSConfig(addr)
			if cfgErr != nil {
				conn.Close()
				return nil, cfgErr
			}
			tlsConn := tls.Client(conn, tlsCfg)
			if err = tlsConn.HandshakeContext(ctx); err == nil {
				return tlsConn, nil
			}
			conn.Close()
		}
		lastErr = err
		select {
		case <-time.After(cfg.Delay(attempt, rng)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
