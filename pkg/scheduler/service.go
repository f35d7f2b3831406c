package scheduler

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/transactcampus/retryq/pkg/clock"
)

// Option customises a Service at construction time.
type Option[I, O any] func(*Service[I, O])

// WithListener installs the event listener notified at every pipeline
// boundary.
func WithListener[I, O any](l EventListener[I, O]) Option[I, O] {
	return func(s *Service[I, O]) { s.events = newNotifier(l) }
}

// WithPolicy replaces the default decision policy.
func WithPolicy[I, O any](p DecisionPolicy[I, O]) Option[I, O] {
	return func(s *Service[I, O]) { s.policy = p }
}

// WithClock replaces the clock; mainly for tests that need a specific
// virtual-time factor independent of the config.
func WithClock[I, O any](c *clock.Clock) Option[I, O] {
	return func(s *Service[I, O]) { s.clk = c }
}

// Service repeatedly attempts submitted requests until they succeed,
// exhaust retries, or exceed their deadline, subject to an admission
// ceiling, a bounded worker pool, and a ticket-based rate limiter.
type Service[I, O any] struct {
	cfg    Config
	clk    *clock.Clock
	events *notifier[I, O]
	policy DecisionPolicy[I, O]

	exec        *executor[I, O]
	tickets     *ticketBucket
	mainQueue   chan *Entry[I, O]
	delayQueues []*delayQueue[I, O]

	entries sync.Map // uuid.UUID -> *Entry[I, O]
	live    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool

	dispatcherAlive atomic.Bool

	statusMu   sync.Mutex
	status     Snapshot
	haveStatus bool
}

// New builds a Service. Zero config fields are filled with defaults; the
// result is validated. The service is inert until Start.
func New[I, O any](cfg Config, attemptFn AttemptFunc[I, O], opts ...Option[I, O]) (*Service[I, O], error) {
	if attemptFn == nil {
		return nil, fmt.Errorf("attempt function is required")
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service[I, O]{
		cfg:       cfg,
		events:    newNotifier[I, O](nil),
		mainQueue: make(chan *Entry[I, O], cfg.MaxPendingRequests),
		tickets:   newTicketBucket(cfg.RateLimit, cfg.RateLimitBurst),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clk == nil {
		s.clk = clock.New(cfg.TimeFactor)
	}
	if s.policy == nil {
		s.policy = NewDefaultPolicy[I, O](cfg, s.clk)
	}
	s.exec = newExecutor(cfg.ThreadPoolSize, cfg.MaxPendingRequests, attemptFn, s.events, s.clk)
	s.delayQueues = make([]*delayQueue[I, O], cfg.DelayQueueCount)
	for i := range s.delayQueues {
		s.delayQueues[i] = newDelayQueue(i, s)
	}
	return s, nil
}

// Start launches the pipeline tasks. Idempotent.
func (s *Service[I, O]) Start() {
	s.startOnce.Do(func() {
		s.exec.start(s.ctx)
		for _, q := range s.delayQueues {
			q.alive.Store(true)
			s.wg.Add(1)
			go q.drain(s.ctx)
		}
		s.dispatcherAlive.Store(true)
		s.wg.Add(1)
		go s.dispatchLoop(s.ctx)
	})
}

// Shutdown stops the pipeline, waits up to graceful for in-flight work to
// drain, then terminates every request that has not completed as cancelled.
// Idempotent.
func (s *Service[I, O]) Shutdown(graceful time.Duration) {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			s.exec.wg.Wait()
			close(done)
		}()
		timer := time.NewTimer(graceful)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
		}

		s.entries.Range(func(_, v any) bool {
			s.finishCancelled(v.(*Entry[I, O]))
			return true
		})
	})
}

// Submit schedules input for immediate processing, valid until the given
// deadline.
func (s *Service[I, O]) Submit(input I, validUntil time.Time) (*Entry[I, O], error) {
	return s.submit(input, validUntil, time.Time{})
}

// SubmitFor schedules input with a deadline of timeout from now. The
// timeout is a virtual duration: with a time factor it compresses.
func (s *Service[I, O]) SubmitFor(input I, timeout time.Duration) (*Entry[I, O], error) {
	now := s.clk.Now()
	return s.submit(input, s.clk.AddVirtualInterval(now, timeout), time.Time{})
}

// SubmitForWithDelayFor schedules input with a deadline of timeout from now
// and a first attempt no earlier than delay from now.
func (s *Service[I, O]) SubmitForWithDelayFor(input I, timeout, delay time.Duration) (*Entry[I, O], error) {
	now := s.clk.Now()
	return s.submit(input, s.clk.AddVirtualInterval(now, timeout), s.clk.AddVirtualInterval(now, delay))
}

// SubmitUntilWithDelayUntil schedules input with explicit deadline and
// earliest-attempt instants.
func (s *Service[I, O]) SubmitUntilWithDelayUntil(input I, validUntil, notBefore time.Time) (*Entry[I, O], error) {
	return s.submit(input, validUntil, notBefore)
}

func (s *Service[I, O]) submit(input I, validUntil, notBefore time.Time) (*Entry[I, O], error) {
	if s.stopped.Load() {
		return nil, ErrServiceStopped
	}
	now := s.clk.Now()
	if notBefore.IsZero() || notBefore.Before(now) {
		notBefore = now
	}
	if validUntil.Before(notBefore) {
		return nil, fmt.Errorf("validUntil %s precedes notBefore %s", validUntil, notBefore)
	}

	// Admission: the ceiling is global across the main queue and the delay
	// queues.
	for {
		cur := s.live.Load()
		if cur >= int64(s.cfg.MaxPendingRequests) {
			return nil, &TooManyPendingError{Limit: s.cfg.MaxPendingRequests}
		}
		if s.live.CompareAndSwap(cur, cur+1) {
			break
		}
	}

	e := newEntry[I, O](s.ctx, input, now, notBefore, validUntil)
	s.entries.Store(e.id, e)
	s.events.requestAdded(e)

	if notBefore.Sub(now) <= s.cfg.GracePeriod {
		s.enqueueMain(s.ctx, e)
	} else {
		s.route(e)
	}
	return e, nil
}

// enqueueMain pushes an entry onto the main queue. Capacity equals the
// admission ceiling and every live entry occupies at most one queue slot,
// so the send cannot block outside of shutdown.
func (s *Service[I, O]) enqueueMain(ctx context.Context, e *Entry[I, O]) {
	select {
	case s.mainQueue <- e:
	case <-ctx.Done():
	}
}

// route picks the delay queue for an entry by hashing its ID.
func (s *Service[I, O]) route(e *Entry[I, O]) {
	h := fnv.New32a()
	id := e.id
	_, _ = h.Write(id[:])
	s.delayQueues[int(h.Sum32())%len(s.delayQueues)].push(e)
}

// dropEntry terminates an entry dropped by a delay-queue decision:
// cancelled or timed out, per its flags.
func (s *Service[I, O]) dropEntry(e *Entry[I, O]) {
	if !e.CancellationRequested() && e.expired(s.clk.Now()) {
		s.finishTimeout(e)
		return
	}
	s.finishCancelled(e)
}

func (s *Service[I, O]) finishSuccess(e *Entry[I, O], out attemptOutcome[I, O]) {
	if e.complete(StateSucceeded, out.result, nil) {
		s.events.requestSucceeded(e, out.result, out.attempt, out.took)
		s.remove(e)
	}
}

func (s *Service[I, O]) finishFailure(e *Entry[I, O], cause error) {
	var zero O
	if e.complete(StateFailedTerminal, zero, &AttemptFailedError{Attempts: e.Attempt(), Cause: cause}) {
		s.events.requestFinalFailure(e, cause)
		s.remove(e)
	}
}

func (s *Service[I, O]) finishTimeout(e *Entry[I, O]) {
	var zero O
	remaining := s.clk.VirtualGap(s.clk.Now(), e.ValidUntil())
	if e.complete(StateTimedOut, zero, &RequestTimedOutError{Attempts: e.Attempt()}) {
		s.events.requestFinalTimeout(e, remaining)
		s.remove(e)
	}
}

func (s *Service[I, O]) finishCancelled(e *Entry[I, O]) {
	var zero O
	if e.complete(StateCancelled, zero, ErrCancelled) {
		s.remove(e)
	}
}

// remove runs once per entry, after the future was signalled.
func (s *Service[I, O]) remove(e *Entry[I, O]) {
	s.events.requestRemoved(e)
	s.entries.Delete(e.id)
	s.live.Add(-1)
}
