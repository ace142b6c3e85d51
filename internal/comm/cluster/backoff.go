package cluster

import (
	"math/rand"
	"time"
)

// BackoffConfig shapes the dial retry schedule toward a worker daemon.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Delay returns the retry delay for attempt N (1-based). Attempts after the
// first grow geometrically up to MaxDelay, with an optional +/-50% jitter.
func (c BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return c.InitialDelay
	}
	if c.InitialDelay <= 0 {
		return 0
	}
	mult := c.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	d := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if c.MaxDelay > 0 && d >= float64(c.MaxDelay) {
			d = float64(c.MaxDelay)
			break
		}
	}
	if c.Jitter {
		scale := 0.5
		if rng != nil {
			scale += rng.Float64()
		}
		d *= scale
	}
	return time.Duration(d)
}
