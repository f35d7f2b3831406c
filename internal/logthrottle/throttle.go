// Package logthrottle bounds how often a given message type may be logged.
//
// Each message key owns an immutable counting window held in an atomic cell.
// Writers bump the window's counter; whichever writer first observes that the
// window's age exceeded the throttling interval swaps in a fresh window with
// a compare-and-swap and learns how many messages the old window suppressed.
package logthrottle

import (
	"sync"
	"sync/atomic"
	"time"
)

type window struct {
	start time.Time
	count atomic.Int64
}

// Throttle limits each key to burst messages per interval.
type Throttle struct {
	interval time.Duration
	burst    int64
	now      func() time.Time
	windows  sync.Map // string -> *atomic.Pointer[window]
}

// New returns a Throttle allowing burst messages per key per interval.
// A non-positive burst or interval disables throttling.
func New(interval time.Duration, burst int) *Throttle {
	return &Throttle{
		interval: interval,
		burst:    int64(burst),
		now:      time.Now,
	}
}

// Allow reports whether a message for key may be emitted now. When the call
// rotates an expired window, suppressed reports how many messages that window
// swallowed, so the caller can log a single "N messages suppressed" line.
func (t *Throttle) Allow(key string) (allowed bool, suppressed int64) {
	if t.interval <= 0 || t.burst <= 0 {
		return true, 0
	}

	holder := t.holder(key)
	for {
		w := holder.Load()
		if t.now().Sub(w.start) <= t.interval {
			n := w.count.Add(1)
			return n <= t.burst, 0
		}

		fresh := &window{start: t.now()}
		fresh.count.Add(1)
		if holder.CompareAndSwap(w, fresh) {
			over := w.count.Load() - t.burst
			if over < 0 {
				over = 0
			}
			return true, over
		}
		// Lost the swap race; the winner installed a fresh window.
	}
}

func (t *Throttle) holder(key string) *atomic.Pointer[window] {
	if v, ok := t.windows.Load(key); ok {
		return v.(*atomic.Pointer[window])
	}
	holder := &atomic.Pointer[window]{}
	holder.Store(&window{start: t.now()})
	actual, _ := t.windows.LoadOrStore(key, holder)
	return actual.(*atomic.Pointer[window])
}
