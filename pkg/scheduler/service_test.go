package scheduler_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/transactcampus/retryq/pkg/listeners"
	"github.com/transactcampus/retryq/pkg/scheduler"
)

// attemptRecorder captures the start instant of every attempt.
type attemptRecorder struct {
	mu    sync.Mutex
	times []time.Time
}

func (r *attemptRecorder) mark() {
	r.mu.Lock()
	r.times = append(r.times, time.Now())
	r.mu.Unlock()
}

func (r *attemptRecorder) starts() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, len(r.times))
	copy(out, r.times)
	return out
}

func testConfig() scheduler.Config {
	return scheduler.Config{
		ThreadPoolSize:     4,
		DelayQueueCount:    2,
		MaxAttempts:        3,
		MaxPendingRequests: 100,
		MaxSleepStep:       500 * time.Millisecond,
		GracePeriod:        50 * time.Millisecond,
		RetryDelays:        []time.Duration{100 * time.Millisecond, 800 * time.Millisecond},
	}
}

var _ = Describe("Service", func() {
	var svc *scheduler.Service[string, string]

	AfterEach(func() {
		if svc != nil {
			svc.Shutdown(time.Second)
			svc = nil
		}
	})

	Describe("Retry pipeline", func() {
		// Given an attempt function that fails until the third attempt
		// When a request is submitted with a generous deadline
		// Then three attempts run on the configured delay ladder and the
		// future resolves to the success value
		It("should succeed after two failed attempts", func() {
			rec := &attemptRecorder{}
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				rec.mark()
				if attempt < 3 {
					return "", fmt.Errorf("attempt: %d", attempt)
				}
				return "ok:" + in, nil
			}

			var err error
			svc, err = scheduler.New(testConfig(), fn)
			Expect(err).NotTo(HaveOccurred())
			svc.Start()

			entry, err := svc.SubmitFor("x", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
			defer cancel()
			result, err := entry.Get(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("ok:x"))
			Expect(entry.IsSuccessful()).To(BeTrue())
			Expect(entry.Attempt()).To(Equal(3))

			starts := rec.starts()
			Expect(starts).To(HaveLen(3))
			Expect(starts[1].Sub(starts[0])).To(BeNumerically(">=", 90*time.Millisecond))
			Expect(starts[1].Sub(starts[0])).To(BeNumerically("<", 500*time.Millisecond))
			Expect(starts[2].Sub(starts[1])).To(BeNumerically(">=", 700*time.Millisecond))
			Expect(starts[2].Sub(starts[1])).To(BeNumerically("<", 1500*time.Millisecond))
		})

		// Given an attempt function that always fails
		// When the retry budget runs out
		// Then the future completes with AttemptFailedError wrapping the
		// last cause
		It("should fail terminally once retries are exhausted", func() {
			rec := &attemptRecorder{}
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				rec.mark()
				return "", fmt.Errorf("attempt: %d", attempt)
			}

			var err error
			svc, err = scheduler.New(testConfig(), fn)
			Expect(err).NotTo(HaveOccurred())
			svc.Start()

			entry, err := svc.SubmitFor("x", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
			defer cancel()
			_, err = entry.Get(ctx)
			Expect(scheduler.IsAttemptFailed(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("attempt: 3"))
			Expect(rec.starts()).To(HaveLen(3))
		})

		// Given an attempt function that always fails
		// When the deadline lands before the third attempt could run
		// Then only two attempts run and the future reports a timeout
		It("should time out mid-retry instead of starting a late attempt", func() {
			rec := &attemptRecorder{}
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				rec.mark()
				return "", fmt.Errorf("attempt: %d", attempt)
			}

			var err error
			svc, err = scheduler.New(testConfig(), fn)
			Expect(err).NotTo(HaveOccurred())
			svc.Start()

			entry, err := svc.SubmitFor("x", 300*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err = entry.Get(ctx)
			Expect(scheduler.IsRequestTimedOut(err)).To(BeTrue())
			Expect(rec.starts()).To(HaveLen(2))
		})
	})

	Describe("Delayed start", func() {
		// Given a succeeding attempt function
		// When a request is submitted with an initial delay of 300ms
		// Then exactly one attempt runs, at roughly submit+300ms
		It("should honour the initial delay", func() {
			rec := &attemptRecorder{}
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				rec.mark()
				return "done", nil
			}

			var err error
			svc, err = scheduler.New(testConfig(), fn)
			Expect(err).NotTo(HaveOccurred())
			svc.Start()

			submitted := time.Now()
			entry, err := svc.SubmitForWithDelayFor("x", 2*time.Second, 300*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			result, err := entry.Get(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("done"))

			starts := rec.starts()
			Expect(starts).To(HaveLen(1))
			Expect(starts[0].Sub(submitted)).To(BeNumerically(">=", 280*time.Millisecond))
			Expect(starts[0].Sub(submitted)).To(BeNumerically("<", 700*time.Millisecond))
		})

		// Given a grace period of 50ms
		// When one request is delayed by 40ms and another by 70ms
		// Then the first bypasses the delay queue and the second does not
		It("should dispatch within-grace requests directly", func() {
			var mu sync.Mutex
			started := map[string]time.Time{}
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				mu.Lock()
				started[in] = time.Now()
				mu.Unlock()
				return in, nil
			}

			var err error
			svc, err = scheduler.New(testConfig(), fn)
			Expect(err).NotTo(HaveOccurred())
			svc.Start()

			submitted := time.Now()
			first, err := svc.SubmitForWithDelayFor("within-grace", 2*time.Second, 40*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			second, err := svc.SubmitForWithDelayFor("past-grace", 2*time.Second, 70*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err = first.Get(ctx)
			Expect(err).NotTo(HaveOccurred())
			_, err = second.Get(ctx)
			Expect(err).NotTo(HaveOccurred())

			mu.Lock()
			defer mu.Unlock()
			Expect(started["within-grace"].Sub(submitted)).To(BeNumerically("<", 60*time.Millisecond))
			Expect(started["past-grace"].Sub(submitted)).To(BeNumerically(">=", 65*time.Millisecond))
		})
	})

	Describe("Back-pressure", func() {
		// Given a full complement of pending requests
		// When one more is submitted
		// Then the submission is rejected synchronously
		It("should reject the request over the ceiling", func() {
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				return in, nil
			}

			var err error
			svc, err = scheduler.New(testConfig(), fn)
			Expect(err).NotTo(HaveOccurred())
			svc.Start()

			for i := range 100 {
				_, err := svc.SubmitForWithDelayFor(fmt.Sprintf("r%d", i), 30*time.Second, 10*time.Second)
				Expect(err).NotTo(HaveOccurred())
			}

			_, err = svc.SubmitFor("one-too-many", 30*time.Second)
			Expect(scheduler.IsTooManyPending(err)).To(BeTrue())
		})

		It("should admit again after requests drain", func() {
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				return in, nil
			}

			cfg := testConfig()
			cfg.MaxPendingRequests = 2
			var err error
			svc, err = scheduler.New(cfg, fn)
			Expect(err).NotTo(HaveOccurred())
			svc.Start()

			a, err := svc.SubmitFor("a", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			b, err := svc.SubmitFor("b", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err = a.Get(ctx)
			Expect(err).NotTo(HaveOccurred())
			_, err = b.Get(ctx)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() error {
				_, err := svc.SubmitFor("c", 5*time.Second)
				return err
			}, time.Second, 10*time.Millisecond).Should(Succeed())
		})
	})

	Describe("Cancellation", func() {
		// Given a request waiting in a delay queue
		// When cancellation is requested
		// Then the drainer drops it at the next decision step
		It("should cancel a delayed request before its attempt", func() {
			attempted := make(chan struct{}, 1)
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				attempted <- struct{}{}
				return in, nil
			}

			cfg := testConfig()
			cfg.MaxSleepStep = 50 * time.Millisecond
			var err error
			svc, err = scheduler.New(cfg, fn)
			Expect(err).NotTo(HaveOccurred())
			svc.Start()

			entry, err := svc.SubmitForWithDelayFor("x", 5*time.Second, time.Second)
			Expect(err).NotTo(HaveOccurred())

			Expect(entry.RequestCancellation()).To(BeTrue())
			Expect(entry.RequestCancellation()).To(BeFalse())

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err = entry.Get(ctx)
			Expect(err).To(MatchError(scheduler.ErrCancelled))
			Expect(entry.IsCancelled()).To(BeTrue())
			Consistently(attempted, 200*time.Millisecond).ShouldNot(Receive())
		})

		It("should stop retrying a cancelled request", func() {
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				return "", fmt.Errorf("attempt: %d", attempt)
			}

			cfg := testConfig()
			cfg.MaxAttempts = 100
			cfg.RetryDelays = []time.Duration{200 * time.Millisecond}
			cfg.MaxSleepStep = 50 * time.Millisecond
			var err error
			svc, err = scheduler.New(cfg, fn)
			Expect(err).NotTo(HaveOccurred())
			svc.Start()

			entry, err := svc.SubmitFor("x", 30*time.Second)
			Expect(err).NotTo(HaveOccurred())

			// Let the first attempt fail, then cancel during the retry delay.
			Eventually(entry.Attempt, time.Second, 10*time.Millisecond).Should(BeNumerically(">=", 1))
			entry.RequestCancellation()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err = entry.Get(ctx)
			Expect(err).To(MatchError(scheduler.ErrCancelled))
		})
	})

	Describe("Shutdown", func() {
		// Given in-flight and queued requests
		// When the service shuts down
		// Then every live request reaches a terminal state promptly
		It("should terminate all live requests as cancelled", func() {
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}

			s, err := scheduler.New(testConfig(), fn)
			Expect(err).NotTo(HaveOccurred())
			s.Start()

			var entries []*scheduler.Entry[string, string]
			for i := range 10 {
				e, err := s.SubmitFor(fmt.Sprintf("r%d", i), 30*time.Second)
				Expect(err).NotTo(HaveOccurred())
				entries = append(entries, e)
			}

			done := make(chan struct{})
			go func() {
				s.Shutdown(300 * time.Millisecond)
				close(done)
			}()
			Eventually(done, 2*time.Second).Should(BeClosed())

			for _, e := range entries {
				Expect(e.IsDone()).To(BeTrue())
				Expect(e.IsCancelled()).To(BeTrue())
			}

			_, err = s.SubmitFor("late", time.Second)
			Expect(err).To(MatchError(scheduler.ErrServiceStopped))
		})

		It("should be idempotent", func() {
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				return in, nil
			}
			s, err := scheduler.New(testConfig(), fn)
			Expect(err).NotTo(HaveOccurred())
			s.Start()
			s.Shutdown(100 * time.Millisecond)
			s.Shutdown(100 * time.Millisecond)
		})
	})

	Describe("Listener contract", func() {
		// Given a recording listener
		// When a request completes
		// Then its notifications are totally ordered: added first, removed
		// last and exactly once
		It("should order per-entry notifications", func() {
			rec := listeners.NewRecording[string, string]()
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				if attempt < 2 {
					return "", fmt.Errorf("attempt: %d", attempt)
				}
				return in, nil
			}

			var err error
			svc, err = scheduler.New(testConfig(), fn, scheduler.WithListener[string, string](rec))
			Expect(err).NotTo(HaveOccurred())
			svc.Start()

			entry, err := svc.SubmitFor("x", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_, err = entry.Get(ctx)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() int {
				return rec.CountOf("requestRemoved")
			}, time.Second, 10*time.Millisecond).Should(Equal(1))

			events := rec.ForEntry(entry.ID())
			Expect(events).NotTo(BeEmpty())
			Expect(events[0].Kind).To(Equal("requestAdded"))
			Expect(events[len(events)-1].Kind).To(Equal("requestRemoved"))

			var order []string
			for _, ev := range events {
				switch ev.Kind {
				case "requestAdded", "requestAttemptFailed", "requestSuccess", "requestRemoved":
					order = append(order, ev.Kind)
				}
			}
			Expect(order).To(Equal([]string{"requestAdded", "requestAttemptFailed", "requestSuccess", "requestRemoved"}))
		})

		// Given a listener that panics on every notification
		// When requests flow through the pipeline
		// Then processing is unaffected and the panic is reported through
		// the error channel
		It("should contain listener panics", func() {
			rec := listeners.NewRecording[string, string]()
			panicking := &panickingListener{inner: rec}
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				return in, nil
			}

			var err error
			svc, err = scheduler.New(testConfig(), fn, scheduler.WithListener[string, string](panicking))
			Expect(err).NotTo(HaveOccurred())
			svc.Start()

			entry, err := svc.SubmitFor("x", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			result, err := entry.Get(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal("x"))

			Eventually(func() int {
				return rec.CountOf("internalError")
			}, time.Second, 10*time.Millisecond).Should(BeNumerically(">", 0))
		})
	})

	Describe("Decision policy failures", func() {
		// Given a policy that panics on the main-queue decision
		// When a request reaches the dispatcher
		// Then the request fails terminally with the panic as cause
		It("should treat a policy panic as final failure", func() {
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				return in, nil
			}

			var err error
			svc, err = scheduler.New(testConfig(), fn, scheduler.WithPolicy[string, string](panicPolicy{}))
			Expect(err).NotTo(HaveOccurred())
			svc.Start()

			entry, err := svc.SubmitFor("x", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err = entry.Get(ctx)
			Expect(scheduler.IsAttemptFailed(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("boom"))
		})
	})

	Describe("Attempt panics", func() {
		// Given an attempt function that panics
		// When the request runs out of retries
		// Then the panic surfaces as the failure cause, not a crash
		It("should convert attempt panics into attempt failures", func() {
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				panic("kaboom")
			}

			cfg := testConfig()
			cfg.MaxAttempts = 1
			var err error
			svc, err = scheduler.New(cfg, fn)
			Expect(err).NotTo(HaveOccurred())
			svc.Start()

			entry, err := svc.SubmitFor("x", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err = entry.Get(ctx)
			Expect(scheduler.IsAttemptFailed(err)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("kaboom"))
		})
	})

	Describe("Status", func() {
		It("should report live pipeline tasks and reuse cached snapshots", func() {
			fn := func(ctx context.Context, in string, attempt int) (string, error) {
				return in, nil
			}

			var err error
			svc, err = scheduler.New(testConfig(), fn)
			Expect(err).NotTo(HaveOccurred())
			svc.Start()

			Eventually(func() bool {
				return svc.Status(0).DispatcherAlive
			}, time.Second, 10*time.Millisecond).Should(BeTrue())

			snap := svc.Status(0)
			Expect(snap.DelayQueueDepths).To(HaveLen(2))
			Expect(snap.DrainersAlive).To(Equal([]bool{true, true}))

			cached := svc.Status(time.Minute)
			again := svc.Status(time.Minute)
			Expect(again.GeneratedAt).To(Equal(cached.GeneratedAt))

			fresh := svc.Status(0)
			Expect(fresh.GeneratedAt).To(BeTemporally(">=", cached.GeneratedAt))
		})
	})
})

// panickingListener panics on every notification except the error channel.
type panickingListener struct {
	scheduler.NoopListener[string, string]
	inner *listeners.Recording[string, string]
}

func (p *panickingListener) RequestAdded(e *scheduler.Entry[string, string]) {
	panic("listener boom")
}

func (p *panickingListener) RequestExecuting(e *scheduler.Entry[string, string], attempt int, remaining time.Duration) {
	panic("listener boom")
}

func (p *panickingListener) InternalError(kind scheduler.ErrorKind, err error) {
	p.inner.InternalError(kind, err)
}

// panicPolicy panics as soon as the dispatcher consults it.
type panicPolicy struct{}

func (panicPolicy) MainQueue(e *scheduler.Entry[string, string], hasSlot, hasTicket bool) scheduler.MainQueueDecision {
	panic("boom")
}

func (panicPolicy) AfterAttempt(e *scheduler.Entry[string, string], attemptErr error) scheduler.AttemptDecision {
	panic("boom")
}

func (panicPolicy) DelayStep(e *scheduler.Entry[string, string], remaining time.Duration) scheduler.DelayStepDecision {
	panic("boom")
}
