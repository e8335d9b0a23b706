package queue

import (
	"math"
	"time"
)

// Backoff computes retry delays as Base * 2^(attempts-1), capped at Max
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff retries after 1m, 2m, 4m ... up to 1h
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Minute, Max: time.Hour}
}

// Delay returns the wait before the next attempt after `attempts` claims
func (b Backoff) Delay(attempts int) time.Duration {
	if b.Base <= 0 {
		b = DefaultBackoff()
	}
	if attempts < 1 {
		attempts = 1
	}

	delay := b.Base
	for i := 1; i < attempts; i++ {
		if (b.Max > 0 && delay >= b.Max) || delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}

	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}
