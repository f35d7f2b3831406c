package listeners

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/transactcampus/retryq/pkg/scheduler"
)

// Event is one recorded notification.
type Event struct {
	Kind     string
	EntryID  uuid.UUID
	Attempt  int
	Took     time.Duration
	Err      error
	Decision string
	Obtained bool
	At       time.Time
}

// Recording captures every notification in order, for tests and debugging.
// All methods are safe for concurrent use.
type Recording[I, O any] struct {
	mu     sync.Mutex
	events []Event
}

// NewRecording returns an empty recording listener.
func NewRecording[I, O any]() *Recording[I, O] {
	return &Recording[I, O]{}
}

// Events returns a copy of everything recorded so far.
func (r *Recording[I, O]) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded event kinds in order.
func (r *Recording[I, O]) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// CountOf returns how many events of the given kind were recorded.
func (r *Recording[I, O]) CountOf(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// ForEntry returns the events recorded for one entry, in order.
func (r *Recording[I, O]) ForEntry(id uuid.UUID) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.EntryID == id {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recording[I, O]) record(ev Event) {
	ev.At = time.Now()
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recording[I, O]) RequestAdded(e *scheduler.Entry[I, O]) {
	r.record(Event{Kind: "requestAdded", EntryID: e.ID()})
}

func (r *Recording[I, O]) RequestExecuting(e *scheduler.Entry[I, O], attempt int, _ time.Duration) {
	r.record(Event{Kind: "requestExecuting", EntryID: e.ID(), Attempt: attempt})
}

func (r *Recording[I, O]) RequestSucceeded(e *scheduler.Entry[I, O], _ O, attempt int, took time.Duration) {
	r.record(Event{Kind: "requestSuccess", EntryID: e.ID(), Attempt: attempt, Took: took})
}

func (r *Recording[I, O]) RequestAttemptFailed(e *scheduler.Entry[I, O], cause error, attempt int, took time.Duration) {
	r.record(Event{Kind: "requestAttemptFailed", EntryID: e.ID(), Attempt: attempt, Took: took, Err: cause})
}

func (r *Recording[I, O]) RequestAttemptFailedDecision(e *scheduler.Entry[I, O], d scheduler.AttemptDecision) {
	r.record(Event{Kind: "requestAttemptFailedDecision", EntryID: e.ID(), Decision: d.Kind.String()})
}

func (r *Recording[I, O]) RequestFinalFailure(e *scheduler.Entry[I, O], cause error) {
	r.record(Event{Kind: "requestFinalFailure", EntryID: e.ID(), Err: cause})
}

func (r *Recording[I, O]) RequestFinalTimeout(e *scheduler.Entry[I, O], _ time.Duration) {
	r.record(Event{Kind: "requestFinalTimeout", EntryID: e.ID()})
}

func (r *Recording[I, O]) RequestRemoved(e *scheduler.Entry[I, O]) {
	r.record(Event{Kind: "requestRemoved", EntryID: e.ID()})
}

func (r *Recording[I, O]) MainQueueProcessingDecision(e *scheduler.Entry[I, O], d scheduler.MainQueueDecision) {
	r.record(Event{Kind: "mainQueueProcessingDecision", EntryID: e.ID(), Decision: d.Kind.String()})
}

func (r *Recording[I, O]) MainQueueThreadObtained(e *scheduler.Entry[I, O], took time.Duration) {
	r.record(Event{Kind: "mainQueueThreadObtained", EntryID: e.ID(), Took: took})
}

func (r *Recording[I, O]) MainQueueTicketObtainAttempt(e *scheduler.Entry[I, O], obtained bool, took time.Duration) {
	r.record(Event{Kind: "mainQueueTicketObtainAttempt", EntryID: e.ID(), Obtained: obtained, Took: took})
}

func (r *Recording[I, O]) MainQueueProcessingCompleted(e *scheduler.Entry[I, O]) {
	r.record(Event{Kind: "mainQueueProcessingCompleted", EntryID: e.ID()})
}

func (r *Recording[I, O]) DelayQueueItemBeforeDelayStep(e *scheduler.Entry[I, O], _ time.Duration) {
	r.record(Event{Kind: "delayQueueItemBeforeDelayStep", EntryID: e.ID()})
}

func (r *Recording[I, O]) DelayQueueDecisionAfterDelayStep(e *scheduler.Entry[I, O], d scheduler.DelayStepDecision) {
	r.record(Event{Kind: "delayQueueDecisionAfterDelayStep", EntryID: e.ID(), Decision: d.Kind.String()})
}

func (r *Recording[I, O]) InternalError(kind scheduler.ErrorKind, err error) {
	r.record(Event{Kind: "internalError", Decision: kind.String(), Err: err})
}
