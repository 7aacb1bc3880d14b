package client

import (
	"math"
	"math/rand"
	"time"
)

// Backoff configures reconnect attempts with exponential delay.
type Backoff struct {
	MaxAttempts int           // attempts before giving up (default: 8)
	BaseDelay   time.Duration // delay before the first retry (default: 500ms)
	MaxDelay    time.Duration // cap for a single delay (default: 30s)
	Multiplier  float64       // growth per attempt (default: 2.0)
	Jitter      float64       // fraction of the delay randomized either way (default: 0.2)
}

func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 8,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = d.MaxAttempts
	}
	if b.BaseDelay <= 0 {
		b.BaseDelay = d.BaseDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.Jitter <= 0 || b.Jitter > 1 {
		b.Jitter = d.Jitter
	}
	return b
}

// Delay returns the wait before attempt n, counting from zero.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.BaseDelay) * math.Pow(b.Multiplier, float64(attempt))
	if delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}

	if b.Jitter > 0 {
		spread := delay * b.Jitter
		delay += (rand.Float64()*2 - 1) * spread
		if delay < 0 {
			delay = float64(b.BaseDelay)
		}
	}
	return time.Duration(delay)
}
