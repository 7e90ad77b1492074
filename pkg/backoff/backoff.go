package backoff

import (
	"math/rand/v2"
	"time"
)

// ExponentialJitter doubles base for every attempt after the first, caps the
// result at max and spreads it by +/- 20%.
func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := max
	if shift := attempt - 1; shift < 62 && base <= max>>shift {
		d = base << shift
	}

	spread := int64(d) / 5
	if spread <= 0 {
		return d
	}
	return d - time.Duration(spread) + time.Duration(rand.Int64N(2*spread))
}

// Schedule spaces out repeated attempts at one operation, such as
// reconnecting a dropped session. The zero value is ready immediately.
type Schedule struct {
	Base time.Duration
	Max  time.Duration

	attempts int
	next     time.Time
}

// Ready reports whether the next attempt may run at now.
func (s *Schedule) Ready(now time.Time) bool {
	return !now.Before(s.next)
}

// Failed records a failed attempt at now and returns the delay before the
// next one.
func (s *Schedule) Failed(now time.Time) time.Duration {
	s.attempts++
	d := ExponentialJitter(s.Base, s.Max, s.attempts)
	s.next = now.Add(d)
	return d
}

func (s *Schedule) Reset() {
	s.attempts = 0
	s.next = time.Time{}
}

// Attempts returns the number of consecutive failures since the last Reset.
func (s *Schedule) Attempts() int { return s.attempts }
