package scheduler

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// AcquireOutcome is the result of a ticket acquisition.
type AcquireOutcome int

const (
	// TicketAcquired means one ticket was consumed.
	TicketAcquired AcquireOutcome = iota
	// TicketWouldBlock means no ticket became available within the wait.
	TicketWouldBlock
	// TicketCancelled means the waiter was cancelled (shutdown or request
	// cancellation) before a ticket became available.
	TicketCancelled
)

func (o AcquireOutcome) String() string {
	switch o {
	case TicketAcquired:
		return "acquired"
	case TicketWouldBlock:
		return "would_block"
	case TicketCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ticketBucket gates attempts behind a token bucket. Replenishment is lazy:
// the underlying limiter accrues tokens with the passage of time up to the
// configured burst, so no replenisher task is needed. No partial acquire,
// no overdraft.
type ticketBucket struct {
	limiter *rate.Limiter
}

func newTicketBucket(r Rate, burst int) *ticketBucket {
	return &ticketBucket{limiter: rate.NewLimiter(rate.Limit(r.perSecond()), burst)}
}

// acquire takes one ticket, waiting up to maxWait. maxWait <= 0 degrades to
// a non-blocking try. ctx carries shutdown and per-request cancellation; a
// cancelled waiter returns promptly.
func (b *ticketBucket) acquire(ctx context.Context, maxWait time.Duration) AcquireOutcome {
	if maxWait <= 0 {
		if b.limiter.Allow() {
			return TicketAcquired
		}
		return TicketWouldBlock
	}

	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()
	err := b.limiter.Wait(waitCtx)
	if err != nil && ctx.Err() == nil {
		// The limiter fails fast when no ticket can arrive before the
		// deadline; sit the wait out so a cancellation is still observed.
		<-waitCtx.Done()
	}
	switch {
	case err == nil:
		return TicketAcquired
	case ctx.Err() != nil:
		return TicketCancelled
	default:
		return TicketWouldBlock
	}
}

// available reports the tickets currently accumulated in the bucket.
func (b *ticketBucket) available() float64 {
	return b.limiter.Tokens()
}
