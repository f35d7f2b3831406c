// Package clock provides the time source used by the scheduler.
//
// Every piece of scheduling arithmetic (retry delays, request deadlines,
// delay-queue sleeps) goes through a Clock, which can scale a virtual
// duration into a real one and back. With a time factor of 10 a scenario
// written in seconds runs in tenths of seconds, without any special-cased
// code path in the scheduler itself.
package clock

import (
	"time"
)

// NoFactor disables virtual-time scaling. A clock created with NoFactor
// behaves exactly like the wall clock.
const NoFactor float64 = 0

// Clock is a wall clock with an optional virtual-time factor.
//
// The factor multiplies real elapsed time into virtual time: factor=2 means
// virtual time moves twice as fast as the wall clock.
type Clock struct {
	factor float64
}

// New returns a Clock with the given time factor. Factors that are NoFactor,
// negative, or exactly 1 produce an unscaled clock.
func New(factor float64) *Clock {
	if factor <= 0 || factor == 1 {
		return &Clock{factor: NoFactor}
	}
	return &Clock{factor: factor}
}

// Now returns the current wall instant.
func (c *Clock) Now() time.Time {
	return time.Now()
}

// TimeFactor returns the configured factor, or NoFactor when the clock is
// unscaled.
func (c *Clock) TimeFactor() float64 {
	return c.factor
}

// VirtualGap returns the virtual duration between two wall instants.
//
// It returns zero iff the endpoints are equal; any real gap, however small,
// maps to a nonzero virtual gap (rounded away from zero), so consumers never
// confuse "no time passed" with "less than one virtual unit passed".
func (c *Clock) VirtualGap(start, end time.Time) time.Duration {
	if start.Equal(end) {
		return 0
	}
	gap := end.Sub(start)
	if c.factor == NoFactor {
		return gap
	}
	return scale(gap, c.factor)
}

// AddVirtualInterval returns the wall instant reached by sleeping the given
// virtual duration starting at t. The result differs from t unless v is
// zero; a nonzero virtual interval always lands on a different instant.
func (c *Clock) AddVirtualInterval(t time.Time, v time.Duration) time.Time {
	if v == 0 {
		return t
	}
	if c.factor == NoFactor {
		return t.Add(v)
	}
	return t.Add(scale(v, 1/c.factor))
}

// RealInterval converts a virtual duration into the real duration a sleeper
// should wait. Nonzero inputs produce nonzero outputs.
func (c *Clock) RealInterval(v time.Duration) time.Duration {
	if v == 0 || c.factor == NoFactor {
		return v
	}
	return scale(v, 1/c.factor)
}

// scale multiplies d by f, rounding away from zero so that a nonzero input
// never collapses to zero.
func scale(d time.Duration, f float64) time.Duration {
	scaled := time.Duration(float64(d) * f)
	if scaled == 0 {
		if d > 0 {
			return 1
		}
		return -1
	}
	return scaled
}
