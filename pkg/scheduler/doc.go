// Package scheduler implements an in-process retry-and-rate-limit scheduler.
//
// Callers submit opaque payloads with a deadline and an optional initial
// delay; the service repeatedly attempts each request until it succeeds,
// exhausts retries, or exceeds its deadline, subject to an admission ceiling
// that bounds live requests and a ticket-based rate limiter that gates
// attempts. Each submission is represented by an Entry, which doubles as the
// future the submitter waits on.
//
// # Architecture Overview
//
//	┌────────────────────────────────────────────────────────────────────────┐
//	│                               Service                                  │
//	│                                                                        │
//	│  Submit ──► admission ceiling ──►┌─────────────┐                       │
//	│             (maxPendingRequests) │ Main Queue  │◄───────────────┐      │
//	│                    │             │   (FIFO)    │                │      │
//	│                    │             └──────┬──────┘                │      │
//	│                    │ notBefore > grace  │                       │      │
//	│                    ▼                    ▼                       │      │
//	│  ┌──────────────────────┐        ┌─────────────┐   retry ≤ grace│      │
//	│  │ Delay Queues (D)     │promote │ Dispatcher  │────────────────┤      │
//	│  │ min-heap / notBefore │───────►│             │                │      │
//	│  │ one drainer each     │        └──────┬──────┘   retry > grace│      │
//	│  └──────────────────────┘               │          ┌────────────┘      │
//	│            ▲                 slot, then │          │                   │
//	│            └────────────────────────────│──────────┘                   │
//	│                                  ticket │                              │
//	│                                         ▼                              │
//	│  ┌──────────────┐  outcome  ┌──────────────────────┐                   │
//	│  │ Ticket Bucket│◄─gates────│ Executor Pool (N)    │                   │
//	│  │ (rate/burst) │           │ runs attemptFn       │                   │
//	│  └──────────────┘           └──────────┬───────────┘                   │
//	│                                        │                               │
//	│                 completions channel ───┘ (back to Dispatcher)          │
//	└────────────────────────────────────────────────────────────────────────┘
//
// # Request Lifecycle
//
//  1. Submit creates an Entry and charges the admission ceiling. Entries
//     whose notBefore is within the grace period enter the main queue
//     directly; later ones go to a delay queue.
//     │
//     ▼
//  2. The dispatcher drains the main queue FIFO. For each entry it consults
//     the decision policy, acquires a worker slot (blocking, cancellable),
//     re-consults, acquires a ticket, re-consults, and hands the entry to a
//     worker. It never blocks on the attempt itself.
//     │
//     ▼
//  3. A worker runs the user attempt function, captures the returned value
//     or error (panics included), and posts the outcome back to the
//     dispatcher.
//     │
//     ▼
//  4. Success terminates the entry; a failed attempt goes through the
//     after-attempt decision: retry with a delay (back through a delay
//     queue, or the main queue when the delay is within grace), final
//     failure, or final timeout.
//     │
//     ▼
//  5. Every terminal transition signals the entry's future exactly once and
//     emits RequestRemoved.
//
// # Entry State Machine
//
//	Pending ──dispatch──► Running ──success──► Succeeded
//	   ▲                     │
//	   └──────retry──────────┼──fail──► FailedTerminal
//	                         └─────────► TimedOut
//
//	Cancellation moves any non-terminal entry to Cancelled at the next
//	decision point; a running attempt is not pre-empted.
//
// # Extension Points
//
// EventListener receives a synchronous notification at every pipeline
// boundary; listener panics are contained and reported through the
// listener's own error channel. DecisionPolicy owns the three branch
// points: main-queue admission, after-attempt routing, and delay-queue
// stepping. Both default to sensible implementations (NoopListener,
// DefaultPolicy).
//
// # Virtual Time
//
// All delay and deadline arithmetic goes through pkg/clock, so a time
// factor compresses multi-second retry schedules into milliseconds for
// tests without touching any scheduler code path.
//
// # Usage Example
//
//	svc, err := scheduler.New(scheduler.Config{
//	    ThreadPoolSize: 4,
//	    MaxAttempts:    3,
//	    RetryDelays:    []time.Duration{100 * time.Millisecond, 800 * time.Millisecond},
//	}, func(ctx context.Context, req string, attempt int) (string, error) {
//	    return callBackend(ctx, req)
//	})
//	if err != nil {
//	    return err
//	}
//	svc.Start()
//	defer svc.Shutdown(5 * time.Second)
//
//	entry, err := svc.SubmitFor("payload", 5*time.Second)
//	if err != nil {
//	    return err // e.g. *TooManyPendingError
//	}
//	result, err := entry.Get(ctx)
package scheduler
