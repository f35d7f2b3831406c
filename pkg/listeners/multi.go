// Package listeners provides ready-made event listener implementations for
// the scheduler: structured logging through zap (with per-event throttling),
// prometheus metrics, an ordered recording listener for tests, and a
// fan-out combinator.
package listeners

import (
	"time"

	"github.com/transactcampus/retryq/pkg/scheduler"
)

// Multi fans every notification out to several listeners, in order.
type Multi[I, O any] struct {
	listeners []scheduler.EventListener[I, O]
}

// NewMulti combines listeners into one.
func NewMulti[I, O any](ls ...scheduler.EventListener[I, O]) *Multi[I, O] {
	return &Multi[I, O]{listeners: ls}
}

func (m *Multi[I, O]) RequestAdded(e *scheduler.Entry[I, O]) {
	for _, l := range m.listeners {
		l.RequestAdded(e)
	}
}

func (m *Multi[I, O]) RequestExecuting(e *scheduler.Entry[I, O], attempt int, remaining time.Duration) {
	for _, l := range m.listeners {
		l.RequestExecuting(e, attempt, remaining)
	}
}

func (m *Multi[I, O]) RequestSucceeded(e *scheduler.Entry[I, O], result O, attempt int, took time.Duration) {
	for _, l := range m.listeners {
		l.RequestSucceeded(e, result, attempt, took)
	}
}

func (m *Multi[I, O]) RequestAttemptFailed(e *scheduler.Entry[I, O], cause error, attempt int, took time.Duration) {
	for _, l := range m.listeners {
		l.RequestAttemptFailed(e, cause, attempt, took)
	}
}

func (m *Multi[I, O]) RequestAttemptFailedDecision(e *scheduler.Entry[I, O], d scheduler.AttemptDecision) {
	for _, l := range m.listeners {
		l.RequestAttemptFailedDecision(e, d)
	}
}

func (m *Multi[I, O]) RequestFinalFailure(e *scheduler.Entry[I, O], cause error) {
	for _, l := range m.listeners {
		l.RequestFinalFailure(e, cause)
	}
}

func (m *Multi[I, O]) RequestFinalTimeout(e *scheduler.Entry[I, O], remaining time.Duration) {
	for _, l := range m.listeners {
		l.RequestFinalTimeout(e, remaining)
	}
}

func (m *Multi[I, O]) RequestRemoved(e *scheduler.Entry[I, O]) {
	for _, l := range m.listeners {
		l.RequestRemoved(e)
	}
}

func (m *Multi[I, O]) MainQueueProcessingDecision(e *scheduler.Entry[I, O], d scheduler.MainQueueDecision) {
	for _, l := range m.listeners {
		l.MainQueueProcessingDecision(e, d)
	}
}

func (m *Multi[I, O]) MainQueueThreadObtained(e *scheduler.Entry[I, O], took time.Duration) {
	for _, l := range m.listeners {
		l.MainQueueThreadObtained(e, took)
	}
}

func (m *Multi[I, O]) MainQueueTicketObtainAttempt(e *scheduler.Entry[I, O], obtained bool, took time.Duration) {
	for _, l := range m.listeners {
		l.MainQueueTicketObtainAttempt(e, obtained, took)
	}
}

func (m *Multi[I, O]) MainQueueProcessingCompleted(e *scheduler.Entry[I, O]) {
	for _, l := range m.listeners {
		l.MainQueueProcessingCompleted(e)
	}
}

func (m *Multi[I, O]) DelayQueueItemBeforeDelayStep(e *scheduler.Entry[I, O], remaining time.Duration) {
	for _, l := range m.listeners {
		l.DelayQueueItemBeforeDelayStep(e, remaining)
	}
}

func (m *Multi[I, O]) DelayQueueDecisionAfterDelayStep(e *scheduler.Entry[I, O], d scheduler.DelayStepDecision) {
	for _, l := range m.listeners {
		l.DelayQueueDecisionAfterDelayStep(e, d)
	}
}

func (m *Multi[I, O]) InternalError(kind scheduler.ErrorKind, err error) {
	for _, l := range m.listeners {
		l.InternalError(kind, err)
	}
}
