package worker

import "time"

// RetryPolicy controls how a failed event is redelivered.
// MaxAttempts includes the first delivery. For example:
//
//	MaxAttempts = 1 => no redelivery (just the initial handling)
//	MaxAttempts = 3 => initial handling + up to 2 redeliveries
type RetryPolicy struct {
	MaxAttempts int

	// InitialBackoff is the delay before the first redelivery.
	InitialBackoff time.Duration

	// BackoffMultiplier > 1 grows the delay each attempt (default 2.0
	// if <= 0).
	BackoffMultiplier float64

	// MaxBackoff caps the delay; if <= 0, there is no cap.
	MaxBackoff time.Duration
}

// Delay returns the backoff before redelivery number attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.InitialBackoff <= 0 || attempt <= 0 {
		return 0
	}

	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}

	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}
