package scheduler

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/transactcampus/retryq/pkg/clock"
)

// MainQueueDecisionKind enumerates main-queue admission outcomes.
type MainQueueDecisionKind int

const (
	MainProcessNow MainQueueDecisionKind = iota
	MainDelayFor
	MainFinalTimeout
	MainFinalFailure
)

func (k MainQueueDecisionKind) String() string {
	switch k {
	case MainProcessNow:
		return "process_now"
	case MainDelayFor:
		return "delay_for"
	case MainFinalTimeout:
		return "final_timeout"
	case MainFinalFailure:
		return "final_failure"
	default:
		return "unknown"
	}
}

// MainQueueDecision is the outcome of a main-queue admission check.
type MainQueueDecision struct {
	Kind  MainQueueDecisionKind
	Delay time.Duration
	Cause error
}

// ProcessNow admits the entry for immediate processing.
func ProcessNow() MainQueueDecision {
	return MainQueueDecision{Kind: MainProcessNow}
}

// DelayFor sends the entry back to a delay queue for d.
func DelayFor(d time.Duration) MainQueueDecision {
	return MainQueueDecision{Kind: MainDelayFor, Delay: d}
}

// MainTimeout terminates the entry as timed out.
func MainTimeout() MainQueueDecision {
	return MainQueueDecision{Kind: MainFinalTimeout}
}

// MainFailure terminates the entry as failed with the given cause.
func MainFailure(cause error) MainQueueDecision {
	return MainQueueDecision{Kind: MainFinalFailure, Cause: cause}
}

// AttemptDecisionKind enumerates after-attempt outcomes.
type AttemptDecisionKind int

const (
	AttemptRetry AttemptDecisionKind = iota
	AttemptFinalFailure
	AttemptFinalTimeout
)

func (k AttemptDecisionKind) String() string {
	switch k {
	case AttemptRetry:
		return "retry"
	case AttemptFinalFailure:
		return "final_failure"
	case AttemptFinalTimeout:
		return "final_timeout"
	default:
		return "unknown"
	}
}

// AttemptDecision is the outcome of the after-attempt check on a failed
// attempt.
type AttemptDecision struct {
	Kind  AttemptDecisionKind
	Delay time.Duration
	Cause error
}

// Retry schedules another attempt after d.
func Retry(d time.Duration) AttemptDecision {
	return AttemptDecision{Kind: AttemptRetry, Delay: d}
}

// AttemptFailure terminates the entry as failed with the given cause.
func AttemptFailure(cause error) AttemptDecision {
	return AttemptDecision{Kind: AttemptFinalFailure, Cause: cause}
}

// AttemptTimeout terminates the entry as timed out.
func AttemptTimeout() AttemptDecision {
	return AttemptDecision{Kind: AttemptFinalTimeout}
}

// DelayStepDecisionKind enumerates delay-queue drainer outcomes.
type DelayStepDecisionKind int

const (
	DelaySleepFully DelayStepDecisionKind = iota
	DelaySleepStep
	DelayPromote
	DelayDrop
)

func (k DelayStepDecisionKind) String() string {
	switch k {
	case DelaySleepFully:
		return "sleep_fully"
	case DelaySleepStep:
		return "sleep_step"
	case DelayPromote:
		return "promote"
	case DelayDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// DelayStepDecision is the outcome of a delay-queue step check.
type DelayStepDecision struct {
	Kind DelayStepDecisionKind
	Step time.Duration
}

// SleepFully waits out the entry's whole remaining delay.
func SleepFully() DelayStepDecision {
	return DelayStepDecision{Kind: DelaySleepFully}
}

// SleepStep waits at most d before re-polling the decision.
func SleepStep(d time.Duration) DelayStepDecision {
	return DelayStepDecision{Kind: DelaySleepStep, Step: d}
}

// Promote moves the entry to the main queue now.
func Promote() DelayStepDecision {
	return DelayStepDecision{Kind: DelayPromote}
}

// Drop removes the entry from the delay queue and terminates it as
// cancelled or timed out, per its flags.
func Drop() DelayStepDecision {
	return DelayStepDecision{Kind: DelayDrop}
}

// DecisionPolicy is the pluggable policy consulted at every branch point of
// the pipeline. Implementations run synchronously on pipeline goroutines; a
// panic is caught and treated as a final failure of the entry being decided.
//
// MainQueue is invoked repeatedly for the same entry: after the initial
// dequeue, after the worker slot was obtained, and after the ticket
// acquisition attempt. Each waited-on step may have consumed enough time to
// change the answer.
//
// AfterAttempt is invoked once per failed attempt; a successful attempt
// terminates the entry without consulting the policy.
//
// DelayStep is invoked before and potentially many times during a delay, so
// policy can react to cancellation, shutdown, or deadline drift.
type DecisionPolicy[I, O any] interface {
	MainQueue(e *Entry[I, O], hasSlot, hasTicket bool) MainQueueDecision
	AfterAttempt(e *Entry[I, O], attemptErr error) AttemptDecision
	DelayStep(e *Entry[I, O], remaining time.Duration) DelayStepDecision
}

// DefaultPolicy retries with the configured delay ladder, falling back to
// exponential backoff when no ladder is configured, always bounded by the
// entry's deadline.
type DefaultPolicy[I, O any] struct {
	cfg Config
	clk *clock.Clock
}

// NewDefaultPolicy returns the policy used when no custom policy is
// configured.
func NewDefaultPolicy[I, O any](cfg Config, clk *clock.Clock) *DefaultPolicy[I, O] {
	return &DefaultPolicy[I, O]{cfg: cfg, clk: clk}
}

// MainQueue times out expired entries and admits everything else.
func (p *DefaultPolicy[I, O]) MainQueue(e *Entry[I, O], hasSlot, hasTicket bool) MainQueueDecision {
	if e.expired(p.clk.Now()) {
		return MainTimeout()
	}
	return ProcessNow()
}

// AfterAttempt retries until the attempt ceiling, with the next delay taken
// from the ladder or from a per-entry exponential backoff. A retry whose
// delay would land past the deadline becomes a final timeout.
func (p *DefaultPolicy[I, O]) AfterAttempt(e *Entry[I, O], attemptErr error) AttemptDecision {
	if e.Attempt() >= p.cfg.MaxAttempts {
		return AttemptFailure(attemptErr)
	}
	d := p.nextDelay(e)
	if p.clk.AddVirtualInterval(p.clk.Now(), d).After(e.ValidUntil()) {
		return AttemptTimeout()
	}
	return Retry(d)
}

func (p *DefaultPolicy[I, O]) nextDelay(e *Entry[I, O]) time.Duration {
	if len(p.cfg.RetryDelays) > 0 {
		idx := e.Attempt() - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(p.cfg.RetryDelays) {
			idx = len(p.cfg.RetryDelays) - 1
		}
		return p.cfg.RetryDelays[idx]
	}

	b, ok := e.PolicyState().(*backoff.ExponentialBackOff)
	if !ok {
		b = backoff.NewExponentialBackOff()
		b.InitialInterval = 100 * time.Millisecond
		b.MaxInterval = 10 * time.Second
		e.SetPolicyState(b)
	}
	return b.NextBackOff()
}

// DelayStep drops cancelled or expired entries, promotes entries within the
// grace window, and otherwise sleeps one bounded step.
func (p *DefaultPolicy[I, O]) DelayStep(e *Entry[I, O], remaining time.Duration) DelayStepDecision {
	if e.CancellationRequested() || e.expired(p.clk.Now()) {
		return Drop()
	}
	if remaining <= p.cfg.GracePeriod {
		return Promote()
	}
	step := remaining
	if p.cfg.MaxSleepStep > 0 && step > p.cfg.MaxSleepStep {
		step = p.cfg.MaxSleepStep
	}
	return SleepStep(step)
}
