package jobs

import "time"

// Backoff is an exponential retry schedule.
type Backoff struct {
	Base time.Duration `json:"base" mapstructure:"base" yaml:"base"`
	Max  time.Duration `json:"max" mapstructure:"max" yaml:"max"`
}

// Delay returns the wait before the next attempt, given the one-based
// number of attempts already made: Base * 2^(attempt-1), capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && delay > b.Max {
		return b.Max
	}
	return delay
}
