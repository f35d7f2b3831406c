package listeners

import (
	"time"

	"go.uber.org/zap"

	"github.com/transactcampus/retryq/internal/logthrottle"
	"github.com/transactcampus/retryq/pkg/scheduler"
)

// Logging is an event listener that writes structured diagnostics through
// zap. Debug-level events (per-attempt diagnostics, success and removal) are
// throttled per event kind so a hot pipeline cannot flood the log; final
// failure, final timeout and error-channel events always pass.
type Logging[I, O any] struct {
	log      *zap.SugaredLogger
	throttle *logthrottle.Throttle
}

// NewLogging returns a logging listener named after the service. Each event
// kind is limited to burst lines per interval.
func NewLogging[I, O any](serviceName string, interval time.Duration, burst int) *Logging[I, O] {
	return &Logging[I, O]{
		log:      zap.S().Named(serviceName),
		throttle: logthrottle.New(interval, burst),
	}
}

func (l *Logging[I, O]) debugw(key, msg string, kv ...any) {
	allowed, suppressed := l.throttle.Allow(key)
	if suppressed > 0 {
		l.log.Debugw("log messages suppressed", "event", key, "count", suppressed)
	}
	if allowed {
		l.log.Debugw(msg, kv...)
	}
}

func (l *Logging[I, O]) RequestAdded(e *scheduler.Entry[I, O]) {
	l.debugw("request_added", "request added", "id", e.ID(), "validUntil", e.ValidUntil())
}

func (l *Logging[I, O]) RequestExecuting(e *scheduler.Entry[I, O], attempt int, remaining time.Duration) {
	l.debugw("request_executing", "attempt starting", "id", e.ID(), "attempt", attempt, "remaining-validity", remaining)
}

func (l *Logging[I, O]) RequestSucceeded(e *scheduler.Entry[I, O], _ O, attempt int, took time.Duration) {
	l.debugw("request_success", "request succeeded", "id", e.ID(), "attempt", attempt, "took", took)
}

func (l *Logging[I, O]) RequestAttemptFailed(e *scheduler.Entry[I, O], cause error, attempt int, took time.Duration) {
	l.debugw("attempt_failed", "attempt failed", "id", e.ID(), "attempt", attempt, "took", took, "error", cause)
}

func (l *Logging[I, O]) RequestAttemptFailedDecision(e *scheduler.Entry[I, O], d scheduler.AttemptDecision) {
	l.debugw("attempt_failed_decision", "after-attempt decision", "id", e.ID(), "decision", d.Kind.String(), "delay", d.Delay)
}

func (l *Logging[I, O]) RequestFinalFailure(e *scheduler.Entry[I, O], cause error) {
	l.log.Warnw("request failed terminally", "id", e.ID(), "attempts", e.Attempt(), "error", cause)
}

func (l *Logging[I, O]) RequestFinalTimeout(e *scheduler.Entry[I, O], remaining time.Duration) {
	l.log.Warnw("request timed out", "id", e.ID(), "attempts", e.Attempt(), "remaining-validity", remaining)
}

func (l *Logging[I, O]) RequestRemoved(e *scheduler.Entry[I, O]) {
	l.debugw("request_removed", "request removed", "id", e.ID(), "state", e.State().String())
}

func (l *Logging[I, O]) MainQueueProcessingDecision(e *scheduler.Entry[I, O], d scheduler.MainQueueDecision) {
	l.debugw("main_queue_decision", "main-queue decision", "id", e.ID(), "decision", d.Kind.String(), "delay", d.Delay)
}

func (l *Logging[I, O]) MainQueueThreadObtained(e *scheduler.Entry[I, O], took time.Duration) {
	l.debugw("thread_obtained", "worker slot obtained", "id", e.ID(), "took", took)
}

func (l *Logging[I, O]) MainQueueTicketObtainAttempt(e *scheduler.Entry[I, O], obtained bool, took time.Duration) {
	l.debugw("ticket_attempt", "ticket acquisition attempted", "id", e.ID(), "obtained", obtained, "took", took)
}

func (l *Logging[I, O]) MainQueueProcessingCompleted(e *scheduler.Entry[I, O]) {
	l.debugw("main_queue_completed", "main-queue processing completed", "id", e.ID())
}

func (l *Logging[I, O]) DelayQueueItemBeforeDelayStep(e *scheduler.Entry[I, O], remaining time.Duration) {
	l.debugw("delay_step", "delay step", "id", e.ID(), "remaining", remaining)
}

func (l *Logging[I, O]) DelayQueueDecisionAfterDelayStep(e *scheduler.Entry[I, O], d scheduler.DelayStepDecision) {
	l.debugw("delay_step_decision", "delay-step decision", "id", e.ID(), "decision", d.Kind.String(), "step", d.Step)
}

func (l *Logging[I, O]) InternalError(kind scheduler.ErrorKind, err error) {
	l.log.Errorw("internal scheduler error", "kind", kind.String(), "error", err)
}
