// Package cluster runs the collective fabric across worker processes: a
// driver dials every worker daemon, hands each one its rank and the scenario,
// and then serves as the reduction hub while neighbor ranks exchange halo
// rows over direct links.
package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/emberctl/internal/config"
)

var (
	ErrInvalidStart  = errors.New("cluster: invalid start payload")
	ErrInvalidResult = errors.New("cluster: invalid result payload")
)

// Start is the driver->worker run assignment carried in a TypeStart frame.
type Start struct {
	RunID    string          `json:"run_id"`
	Rank     int             `json:"rank"`
	Size     int             `json:"size"`
	Peers    []string        `json:"peers"` // worker listen addresses, rank order
	Scenario config.Scenario `json:"scenario"`
}

func (s Start) Validate() error {
	if strings.TrimSpace(s.RunID) == "" {
		return fmt.Errorf("%w: missing run_id", ErrInvalidStart)
	}
	if s.Size <= 0 || s.Rank < 0 || s.Rank >= s.Size {
		return fmt.Errorf("%w: rank=%d size=%d", ErrInvalidStart, s.Rank, s.Size)
	}
	if len(s.Peers) != s.Size {
		return fmt.Errorf("%w: %d peers for %d ranks", ErrInvalidStart, len(s.Peers), s.Size)
	}
	if err := s.Scenario.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStart, err)
	}
	if s.Scenario.Rows%s.Size != 0 {
		return fmt.Errorf("%w: %d rows across %d workers", ErrInvalidStart, s.Scenario.Rows, s.Size)
	}
	return nil
}

// Result is the rank 0 -> driver run outcome carried in a TypeResult frame.
type Result struct {
	RunID      string  `json:"run_id"`
	Iterations int     `json:"iterations"`
	Residual   float32 `json:"residual"`
}

func (r Result) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("%w: missing run_id", ErrInvalidResult)
	}
	if r.Iterations < 0 {
		return fmt.Errorf("%w: iterations=%d", ErrInvalidResult, r.Iterations)
	}
	return nil
}

func EncodeStart(s Start) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

func DecodeStart(payload []byte) (Start, error) {
	var s Start
	if err := json.Unmarshal(payload, &s); err != nil {
		return Start{}, fmt.Errorf("%w: %v", ErrInvalidStart, err)
	}
	if err := s.Validate(); err != nil {
		return Start{}, err
	}
	return s, nil
}

func EncodeResult(r Result) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

func DecodeResult(payload []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(payload, &r); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidResult, err)
	}
	if err := r.Validate(); err != nil {
		return Result{}, err
	}
	return r, nil
}
