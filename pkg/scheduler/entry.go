package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the completion state of an entry. Transitions form a DAG ending
// in one of the four terminal states; the transition into a terminal state
// happens exactly once, serialised through a compare-and-swap.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailedTerminal
	StateTimedOut
	StateCancelled
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s >= StateSucceeded
}

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailedTerminal:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// AttemptFunc is the user-supplied function executed for each attempt.
// attempt is 1-based. The context is cancelled on service shutdown; a
// request-level cancellation does not pre-empt a running attempt.
type AttemptFunc[I, O any] func(ctx context.Context, input I, attempt int) (O, error)

// Entry is the per-request scheduler record and, at the same time, the
// future handle returned to the submitter. The pipeline moves the entry
// between stages under a single-writer discipline; the submitter observes it
// only through the accessors below.
type Entry[I, O any] struct {
	id         uuid.UUID
	input      I
	createdAt  time.Time
	validUntil time.Time

	mu        sync.Mutex
	notBefore time.Time
	lastErr   error

	attempt         atomic.Int32
	state           atomic.Int32
	cancelRequested atomic.Bool

	// ctx is cancelled on shutdown or request cancellation; it releases
	// blocked slot and ticket waits. Running attempts observe only the
	// service context, never this one.
	ctx    context.Context
	cancel context.CancelFunc

	result   O
	finalErr error
	done     chan struct{}

	// policyState carries per-entry state owned by the decision policy.
	policyState any
}

func newEntry[I, O any](parent context.Context, input I, createdAt, notBefore, validUntil time.Time) *Entry[I, O] {
	ctx, cancel := context.WithCancel(parent)
	return &Entry[I, O]{
		id:         uuid.New(),
		input:      input,
		createdAt:  createdAt,
		notBefore:  notBefore,
		validUntil: validUntil,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// ID returns the entry's unique identifier.
func (e *Entry[I, O]) ID() uuid.UUID {
	return e.id
}

// Task returns the original payload.
func (e *Entry[I, O]) Task() I {
	return e.input
}

// CreatedAt returns the submission instant.
func (e *Entry[I, O]) CreatedAt() time.Time {
	return e.createdAt
}

// ValidUntil returns the absolute deadline.
func (e *Entry[I, O]) ValidUntil() time.Time {
	return e.validUntil
}

// NotBefore returns the earliest instant the next attempt may run.
func (e *Entry[I, O]) NotBefore() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.notBefore
}

func (e *Entry[I, O]) setNotBefore(t time.Time) {
	e.mu.Lock()
	e.notBefore = t
	e.mu.Unlock()
}

// Attempt returns the number of attempts started so far (0 before the
// first).
func (e *Entry[I, O]) Attempt() int {
	return int(e.attempt.Load())
}

// LastError returns the error of the most recent failed attempt, if any.
func (e *Entry[I, O]) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Entry[I, O]) setLastError(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

// State returns the current completion state.
func (e *Entry[I, O]) State() State {
	return State(e.state.Load())
}

// CancellationRequested reports whether cancellation has been requested.
func (e *Entry[I, O]) CancellationRequested() bool {
	return e.cancelRequested.Load()
}

// RequestCancellation asks the scheduler to stop processing this request.
// Best effort: it takes effect at the next decision point; a running attempt
// is not pre-empted. Returns true iff this call set the flag on a request
// that had not yet completed.
func (e *Entry[I, O]) RequestCancellation() bool {
	if e.State().Terminal() {
		return false
	}
	if !e.cancelRequested.CompareAndSwap(false, true) {
		return false
	}
	e.cancel()
	return true
}

// PolicyState returns the per-entry state previously stored by the decision
// policy, or nil.
func (e *Entry[I, O]) PolicyState() any {
	return e.policyState
}

// SetPolicyState stores per-entry state for the decision policy. Only the
// policy, invoked from the entry's current owning stage, may call this.
func (e *Entry[I, O]) SetPolicyState(v any) {
	e.policyState = v
}

// Get waits for the request to complete and returns its result. The context
// bounds the caller's wait only, not the request's own deadline: ctx.Err()
// is returned when the wait is interrupted or times out. Once the request
// completes, Get returns the success value, or one of *RequestTimedOutError,
// *AttemptFailedError, ErrCancelled.
func (e *Entry[I, O]) Get(ctx context.Context) (O, error) {
	select {
	case <-e.done:
	case <-ctx.Done():
		var zero O
		return zero, ctx.Err()
	}
	return e.outcome()
}

// GetWithin waits up to d for the request to complete. The boolean is false
// when the caller's wait elapsed first; the request itself keeps running.
func (e *Entry[I, O]) GetWithin(d time.Duration) (O, bool, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.done:
	case <-timer.C:
		var zero O
		return zero, false, nil
	}
	v, err := e.outcome()
	return v, true, err
}

func (e *Entry[I, O]) outcome() (O, error) {
	if e.State() == StateSucceeded {
		return e.result, nil
	}
	var zero O
	return zero, e.finalErr
}

// IsSuccessful reports whether the request completed successfully.
func (e *Entry[I, O]) IsSuccessful() bool {
	return e.State() == StateSucceeded
}

// IsCancelled reports whether the request terminated as cancelled.
func (e *Entry[I, O]) IsCancelled() bool {
	return e.State() == StateCancelled
}

// IsDone reports whether the request reached a terminal state.
func (e *Entry[I, O]) IsDone() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// complete performs the terminal transition. Exactly one caller wins the
// compare-and-swap; the winner writes the result before signalling the
// future, so waiters observe a fully-populated outcome.
func (e *Entry[I, O]) complete(s State, result O, err error) bool {
	for {
		cur := e.State()
		if cur.Terminal() {
			return false
		}
		if e.state.CompareAndSwap(int32(cur), int32(s)) {
			e.result = result
			e.finalErr = err
			close(e.done)
			e.cancel()
			return true
		}
	}
}

// beginAttempt increments the attempt counter and marks the entry running.
// Returns the 1-based attempt number.
func (e *Entry[I, O]) beginAttempt() int {
	n := int(e.attempt.Add(1))
	e.state.CompareAndSwap(int32(StatePending), int32(StateRunning))
	return n
}

// endAttempt returns a running entry to pending, ahead of the after-attempt
// decision.
func (e *Entry[I, O]) endAttempt() {
	e.state.CompareAndSwap(int32(StateRunning), int32(StatePending))
}

func (e *Entry[I, O]) expired(now time.Time) bool {
	return now.After(e.validUntil)
}
