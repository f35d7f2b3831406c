package listeners

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/transactcampus/retryq/pkg/scheduler"
)

// Metrics is an event listener exporting pipeline metrics to prometheus.
type Metrics[I, O any] struct {
	requestsAdded    prometheus.Counter
	requestsRemoved  prometheus.Counter
	terminalOutcomes *prometheus.CounterVec
	attemptsStarted  prometheus.Counter
	attemptDuration  prometheus.Histogram
	attemptFailures  prometheus.Counter
	ticketWait       prometheus.Histogram
	ticketMisses     prometheus.Counter
	slotWait         prometheus.Histogram
	internalErrors   *prometheus.CounterVec
	executing        prometheus.Gauge
}

// NewMetrics registers the listener's collectors with reg. The service name
// becomes a constant label so several services can share a registry.
func NewMetrics[I, O any](reg prometheus.Registerer, serviceName string) *Metrics[I, O] {
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, reg))
	return &Metrics[I, O]{
		requestsAdded: factory.NewCounter(prometheus.CounterOpts{
			Name: "retryq_requests_added_total",
			Help: "Total requests admitted into the scheduler",
		}),
		requestsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "retryq_requests_removed_total",
			Help: "Total requests that reached a terminal state",
		}),
		terminalOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "retryq_terminal_outcomes_total",
			Help: "Terminal outcomes by kind",
		}, []string{"outcome"}),
		attemptsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "retryq_attempts_started_total",
			Help: "Total attempts handed to the executor pool",
		}),
		attemptDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "retryq_attempt_duration_seconds",
			Help:    "Duration of individual attempts",
			Buckets: prometheus.DefBuckets,
		}),
		attemptFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "retryq_attempt_failures_total",
			Help: "Total failed attempts, including retried ones",
		}),
		ticketWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "retryq_ticket_wait_seconds",
			Help:    "Time spent acquiring a rate-limit ticket",
			Buckets: prometheus.DefBuckets,
		}),
		ticketMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "retryq_ticket_misses_total",
			Help: "Ticket acquisition attempts that came back empty",
		}),
		slotWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "retryq_slot_wait_seconds",
			Help:    "Time spent acquiring an executor slot",
			Buckets: prometheus.DefBuckets,
		}),
		internalErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "retryq_internal_errors_total",
			Help: "Internal errors by kind",
		}, []string{"kind"}),
		executing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "retryq_executing_attempts",
			Help: "Attempts currently running",
		}),
	}
}

func (m *Metrics[I, O]) RequestAdded(*scheduler.Entry[I, O]) {
	m.requestsAdded.Inc()
}

func (m *Metrics[I, O]) RequestExecuting(_ *scheduler.Entry[I, O], _ int, _ time.Duration) {
	m.attemptsStarted.Inc()
	m.executing.Inc()
}

func (m *Metrics[I, O]) RequestSucceeded(_ *scheduler.Entry[I, O], _ O, _ int, took time.Duration) {
	m.executing.Dec()
	m.attemptDuration.Observe(took.Seconds())
	m.terminalOutcomes.WithLabelValues("succeeded").Inc()
}

func (m *Metrics[I, O]) RequestAttemptFailed(_ *scheduler.Entry[I, O], _ error, _ int, took time.Duration) {
	m.executing.Dec()
	m.attemptDuration.Observe(took.Seconds())
	m.attemptFailures.Inc()
}

func (m *Metrics[I, O]) RequestAttemptFailedDecision(*scheduler.Entry[I, O], scheduler.AttemptDecision) {
}

func (m *Metrics[I, O]) RequestFinalFailure(*scheduler.Entry[I, O], error) {
	m.terminalOutcomes.WithLabelValues("failed").Inc()
}

func (m *Metrics[I, O]) RequestFinalTimeout(*scheduler.Entry[I, O], time.Duration) {
	m.terminalOutcomes.WithLabelValues("timed_out").Inc()
}

func (m *Metrics[I, O]) RequestRemoved(e *scheduler.Entry[I, O]) {
	m.requestsRemoved.Inc()
	if e.IsCancelled() {
		m.terminalOutcomes.WithLabelValues("cancelled").Inc()
	}
}

func (m *Metrics[I, O]) MainQueueProcessingDecision(*scheduler.Entry[I, O], scheduler.MainQueueDecision) {
}

func (m *Metrics[I, O]) MainQueueThreadObtained(_ *scheduler.Entry[I, O], took time.Duration) {
	m.slotWait.Observe(took.Seconds())
}

func (m *Metrics[I, O]) MainQueueTicketObtainAttempt(_ *scheduler.Entry[I, O], obtained bool, took time.Duration) {
	m.ticketWait.Observe(took.Seconds())
	if !obtained {
		m.ticketMisses.Inc()
	}
}

func (m *Metrics[I, O]) MainQueueProcessingCompleted(*scheduler.Entry[I, O]) {}

func (m *Metrics[I, O]) DelayQueueItemBeforeDelayStep(*scheduler.Entry[I, O], time.Duration) {}

func (m *Metrics[I, O]) DelayQueueDecisionAfterDelayStep(*scheduler.Entry[I, O], scheduler.DelayStepDecision) {
}

func (m *Metrics[I, O]) InternalError(kind scheduler.ErrorKind, _ error) {
	m.internalErrors.WithLabelValues(kind.String()).Inc()
}
