package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/transactcampus/retryq/pkg/clock"
)

// attemptOutcome carries one finished attempt back to the dispatcher.
type attemptOutcome[I, O any] struct {
	entry   *Entry[I, O]
	result  O
	err     error
	attempt int
	took    time.Duration
}

// executor runs user attempts on a bounded pool of workers. Slot admission
// is decoupled from execution: the dispatcher holds a slot before handing an
// entry over, so the task channel never backs up beyond the pool size, and
// the worker releases the slot when the attempt finishes.
type executor[I, O any] struct {
	size        int
	slots       *semaphore.Weighted
	tasks       chan *Entry[I, O]
	completions chan attemptOutcome[I, O]
	attemptFn   AttemptFunc[I, O]
	events      *notifier[I, O]
	clk         *clock.Clock
	active      atomic.Int32
	wg          sync.WaitGroup
}

func newExecutor[I, O any](size, completionBuffer int, fn AttemptFunc[I, O], events *notifier[I, O], clk *clock.Clock) *executor[I, O] {
	return &executor[I, O]{
		size:        size,
		slots:       semaphore.NewWeighted(int64(size)),
		tasks:       make(chan *Entry[I, O], size),
		completions: make(chan attemptOutcome[I, O], completionBuffer),
		attemptFn:   fn,
		events:      events,
		clk:         clk,
	}
}

func (x *executor[I, O]) start(ctx context.Context) {
	for range x.size {
		x.wg.Add(1)
		go x.worker(ctx)
	}
}

func (x *executor[I, O]) worker(ctx context.Context) {
	defer x.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-x.tasks:
			x.run(ctx, e)
		}
	}
}

// tryAcquireSlot is the non-blocking probe used for the pool-saturation
// path.
func (x *executor[I, O]) tryAcquireSlot() bool {
	if !x.slots.TryAcquire(1) {
		return false
	}
	x.active.Add(1)
	return true
}

// acquireSlot blocks until a slot frees up or ctx is cancelled.
func (x *executor[I, O]) acquireSlot(ctx context.Context) error {
	if err := x.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	x.active.Add(1)
	return nil
}

func (x *executor[I, O]) releaseSlot() {
	x.active.Add(-1)
	x.slots.Release(1)
}

// submit hands an entry to a worker. The caller must hold a slot; ownership
// of both the entry and the slot transfers to the worker.
func (x *executor[I, O]) submit(ctx context.Context, e *Entry[I, O]) bool {
	select {
	case x.tasks <- e:
		return true
	case <-ctx.Done():
		x.releaseSlot()
		return false
	}
}

func (x *executor[I, O]) activeWorkers() int {
	return int(x.active.Load())
}

func (x *executor[I, O]) run(ctx context.Context, e *Entry[I, O]) {
	defer x.releaseSlot()

	if e.CancellationRequested() {
		// Skip the attempt; the dispatcher terminates the entry.
		x.post(ctx, attemptOutcome[I, O]{entry: e, err: ErrCancelled, attempt: e.Attempt()})
		return
	}

	attempt := e.beginAttempt()
	now := x.clk.Now()
	x.events.requestExecuting(e, attempt, x.clk.VirtualGap(now, e.ValidUntil()))

	start := time.Now()
	result, err := x.invoke(ctx, e, attempt)
	took := time.Since(start)

	e.endAttempt()
	x.post(ctx, attemptOutcome[I, O]{entry: e, result: result, err: err, attempt: attempt, took: took})
}

func (x *executor[I, O]) post(ctx context.Context, out attemptOutcome[I, O]) {
	// The completion channel is sized to the admission ceiling, so this
	// never blocks outside of shutdown.
	select {
	case x.completions <- out:
	case <-ctx.Done():
	}
}

func (x *executor[I, O]) invoke(ctx context.Context, e *Entry[I, O], attempt int) (result O, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("attempt %d panicked: %v", attempt, r)
		}
	}()
	return x.attemptFn(ctx, e.input, attempt)
}
