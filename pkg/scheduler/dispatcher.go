package scheduler

import (
	"context"
	"fmt"
	"time"
)

// dispatchLoop is the single consumer of the main queue. It interleaves two
// sources: entries becoming eligible for an attempt, and outcomes of
// attempts posted back by the executor. It never blocks on an attempt
// itself.
func (s *Service[I, O]) dispatchLoop(ctx context.Context) {
	defer s.dispatcherAlive.Store(false)
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case out := <-s.exec.completions:
			s.handleOutcome(out)
		case e := <-s.mainQueue:
			s.processEntry(ctx, e)
		}
	}
}

// processEntry walks one entry through admission: decision, worker slot,
// ticket, submission. The decision policy is re-consulted after every
// waited-on step, because each wait may have consumed enough of the entry's
// validity to change the answer.
func (s *Service[I, O]) processEntry(ctx context.Context, e *Entry[I, O]) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("dispatcher: processing %s: %v", e.ID(), r)
			s.events.internalError(ErrorRuntime, err)
			s.finishFailure(e, err)
		}
	}()

	if s.gate(e, false, false, nil) {
		return
	}

	// Worker slot.
	t0 := time.Now()
	if !s.exec.tryAcquireSlot() {
		if err := s.exec.acquireSlot(e.ctx); err != nil {
			if ctx.Err() != nil {
				return // shutdown; the sweep terminates the entry
			}
			s.finishCancelled(e)
			return
		}
	}
	s.events.mainQueueThreadObtained(e, time.Since(t0))

	if s.gate(e, true, false, s.exec.releaseSlot) {
		return
	}

	// Ticket. The wait is bounded by the entry's remaining validity; the
	// entry's context aborts it on shutdown or cancellation.
	t1 := time.Now()
	outcome := s.tickets.acquire(e.ctx, time.Until(e.ValidUntil()))
	obtained := outcome == TicketAcquired
	s.events.mainQueueTicketObtainAttempt(e, obtained, time.Since(t1))

	if outcome == TicketCancelled {
		s.exec.releaseSlot()
		if ctx.Err() != nil {
			return
		}
		s.finishCancelled(e)
		return
	}

	if s.gate(e, true, obtained, s.exec.releaseSlot) {
		return
	}

	if !obtained {
		// The policy asked to proceed without a ticket; hold the entry back
		// instead of bypassing the limiter.
		s.exec.releaseSlot()
		s.requeueAfter(e, s.cfg.GracePeriod)
		return
	}

	if s.exec.submit(ctx, e) {
		s.events.mainQueueProcessingCompleted(e)
	}
}

// gate runs one main-queue decision round. cleanup releases resources held
// so far and runs only when the entry does not proceed. Returns true when
// the entry was routed away or terminated.
func (s *Service[I, O]) gate(e *Entry[I, O], hasSlot, hasTicket bool, cleanup func()) bool {
	release := func() {
		if cleanup != nil {
			cleanup()
		}
	}

	if e.CancellationRequested() {
		release()
		s.finishCancelled(e)
		return true
	}

	dec, decErr := s.decideMain(e, hasSlot, hasTicket)
	if decErr != nil {
		release()
		s.finishFailure(e, decErr)
		return true
	}
	s.events.mainQueueProcessingDecision(e, dec)

	switch dec.Kind {
	case MainProcessNow:
		return false
	case MainDelayFor:
		release()
		s.requeueAfter(e, dec.Delay)
	case MainFinalTimeout:
		release()
		s.finishTimeout(e)
	case MainFinalFailure:
		release()
		cause := dec.Cause
		if cause == nil {
			cause = e.LastError()
		}
		s.finishFailure(e, cause)
	default:
		release()
		s.events.internalError(ErrorAssertion, fmt.Errorf("unknown main-queue decision %d", dec.Kind))
		s.finishFailure(e, fmt.Errorf("unknown main-queue decision %d", dec.Kind))
	}
	return true
}

// handleOutcome interprets one finished attempt.
func (s *Service[I, O]) handleOutcome(out attemptOutcome[I, O]) {
	e := out.entry
	if out.err == nil {
		s.finishSuccess(e, out)
		return
	}

	if e.CancellationRequested() {
		s.finishCancelled(e)
		return
	}

	e.setLastError(out.err)
	s.events.requestAttemptFailed(e, out.err, out.attempt, out.took)

	dec, decErr := s.decideAfterAttempt(e, out.err)
	if decErr != nil {
		s.finishFailure(e, decErr)
		return
	}
	s.events.requestAttemptFailedDecision(e, dec)

	switch dec.Kind {
	case AttemptRetry:
		s.requeueAfter(e, dec.Delay)
	case AttemptFinalTimeout:
		s.finishTimeout(e)
	case AttemptFinalFailure:
		cause := dec.Cause
		if cause == nil {
			cause = out.err
		}
		s.finishFailure(e, cause)
	default:
		s.events.internalError(ErrorAssertion, fmt.Errorf("unknown after-attempt decision %d", dec.Kind))
		s.finishFailure(e, out.err)
	}
}

// requeueAfter schedules the next appearance of the entry at the
// dispatcher. Delays within the grace period skip the delay queue. A delay
// that would land past the deadline becomes a final timeout.
func (s *Service[I, O]) requeueAfter(e *Entry[I, O], d time.Duration) {
	now := s.clk.Now()
	notBefore := s.clk.AddVirtualInterval(now, d)
	if notBefore.After(e.ValidUntil()) {
		s.finishTimeout(e)
		return
	}
	e.setNotBefore(notBefore)
	if d <= s.cfg.GracePeriod {
		s.enqueueMain(s.ctx, e)
		return
	}
	s.route(e)
}

// The decide* helpers shield the pipeline from a panicking policy: per the
// failure semantics, a policy panic terminates the entry as failed with the
// panic as cause.

func (s *Service[I, O]) decideMain(e *Entry[I, O], hasSlot, hasTicket bool) (dec MainQueueDecision, err error) {
	defer s.recoverDecision(&err)
	return s.policy.MainQueue(e, hasSlot, hasTicket), nil
}

func (s *Service[I, O]) decideAfterAttempt(e *Entry[I, O], attemptErr error) (dec AttemptDecision, err error) {
	defer s.recoverDecision(&err)
	return s.policy.AfterAttempt(e, attemptErr), nil
}

func (s *Service[I, O]) decideDelayStep(e *Entry[I, O], remaining time.Duration) (dec DelayStepDecision, err error) {
	defer s.recoverDecision(&err)
	return s.policy.DelayStep(e, remaining), nil
}

func (s *Service[I, O]) recoverDecision(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("decision policy panicked: %v", r)
		s.events.internalError(ErrorDecisionPanic, *err)
	}
}
