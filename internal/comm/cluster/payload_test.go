package cluster_test

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/emberctl/internal/comm/cluster"
	"github.com/danmuck/emberctl/internal/config"
)

func validStart() cluster.Start {
	return cluster.Start{
		RunID: "run-1",
		Rank:  1,
		Size:  2,
		Peers: []string{"a:1", "b:2"},
		Scenario: config.Scenario{
			Rows: 8, Cols: 8, MaxIter: 10,
			Sources: []config.SourceConfig{{X: 1, Y: 1, Start: 0, Heat: 50}},
		},
	}
}

func TestStartValidate(t *testing.T) {
	if err := validStart().Validate(); err != nil {
		t.Fatalf("valid start rejected: %v", err)
	}

	s := validStart()
	s.Rank = 2
	if err := s.Validate(); !errors.Is(err, cluster.ErrInvalidStart) {
		t.Fatalf("rank out of range accepted: %v", err)
	}

	s = validStart()
	s.Peers = s.Peers[:1]
	if err := s.Validate(); !errors.Is(err, cluster.ErrInvalidStart) {
		t.Fatalf("peer count mismatch accepted: %v", err)
	}

	s = validStart()
	s.RunID = ""
	if err := s.Validate(); !errors.Is(err, cluster.ErrInvalidStart) {
		t.Fatalf("empty run id accepted: %v", err)
	}
}

func TestStartCodecRoundTrip(t *testing.T) {
	in := validStart()
	payload, err := cluster.EncodeStart(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := cluster.DecodeStart(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.RunID != in.RunID || out.Rank != in.Rank || out.Size != in.Size {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
	if len(out.Scenario.Sources) != 1 || out.Scenario.Sources[0].Heat != 50 {
		t.Fatalf("scenario lost in transit: %+v", out.Scenario)
	}
}

func TestDecodeResultRejectsBadPayload(t *testing.T) {
	if _, err := cluster.DecodeResult([]byte(`{"iterations":-1}`)); !errors.Is(err, cluster.ErrInvalidResult) {
		t.Fatalf("negative iterations accepted: %v", err)
	}
	if _, err := cluster.DecodeResult([]byte("not json")); err == nil {
		t.Fatalf("garbage payload accepted")
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	cfg := cluster.BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}
	if d := cfg.Delay(1, nil); d != 100*time.Millisecond {
		t.Fatalf("first delay = %v", d)
	}
	if d := cfg.Delay(3, nil); d != 400*time.Millisecond {
		t.Fatalf("third delay = %v", d)
	}
	if d := cfg.Delay(10, nil); d != time.Second {
		t.Fatalf("delay past cap = %v", d)
	}

	cfg.Jitter = true
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		d := cfg.Delay(3, rng)
		if d < 200*time.Millisecond || d > 600*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", d)
		}
	}
}
