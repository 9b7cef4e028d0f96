package broadcast

import (
	"time"

	"golang.org/x/time/rate"
)

// Policy controls fan-out pacing and reporting.
type Policy struct {
	// ProgressEvery posts a progress notice after every N successful sends
	// and then pauses for ProgressPause.
	ProgressEvery int
	ProgressPause time.Duration

	// RatePerSec > 0 adds a token bucket in front of every send.
	RatePerSec float64
	Burst      int

	// FailureSample is how many failed identities the report lists.
	FailureSample int
	// FailureCap bounds the identities kept in memory; the count keeps going.
	FailureCap int
}

func DefaultPolicy() Policy {
	return Policy{
		ProgressEvery: 15,
		ProgressPause: time.Second,
		FailureSample: 5,
		FailureCap:    1000,
	}
}

func (p Policy) normalize() Policy {
	def := DefaultPolicy()
	if p.ProgressEvery <= 0 {
		p.ProgressEvery = def.ProgressEvery
	}
	if p.ProgressPause < 0 {
		p.ProgressPause = 0
	}
	if p.FailureSample <= 0 {
		p.FailureSample = def.FailureSample
	}
	if p.FailureCap <= 0 {
		p.FailureCap = def.FailureCap
	}
	if p.FailureCap < p.FailureSample {
		p.FailureCap = p.FailureSample
	}
	if p.RatePerSec > 0 && p.Burst <= 0 {
		p.Burst = 1
	}
	return p
}

func (p Policy) limiter() *rate.Limiter {
	if p.RatePerSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(p.RatePerSec), p.Burst)
}
