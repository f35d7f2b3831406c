package scheduler

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
)

// Rate expresses a rate-limit budget of Events tickets per Per.
type Rate struct {
	Events int
	Per    time.Duration
}

func (r Rate) String() string {
	return fmt.Sprintf("%d/%s", r.Events, r.Per)
}

// perSecond converts the rate into tickets per second.
func (r Rate) perSecond() float64 {
	if r.Events <= 0 || r.Per <= 0 {
		return 0
	}
	return float64(r.Events) / r.Per.Seconds()
}

// Config holds the scheduler's recognised settings. Values are parsed once
// and immutable at runtime; zero fields are filled with defaults by New.
type Config struct {
	// ServiceName labels the service in diagnostics.
	ServiceName string `default:"retryq"`

	// MainQueueCacheTime is the default status-snapshot cache validity,
	// applied when Status is called with a negative cache argument.
	MainQueueCacheTime time.Duration `default:"0s"`

	// MaxPendingRequests is the admission ceiling across the main queue and
	// the delay queues together.
	MaxPendingRequests int `default:"1000"`

	// MaxAttempts bounds how many attempts a single request may consume.
	MaxAttempts int `default:"3"`

	// DelayQueueCount is the number of delay queues, each with its own
	// drainer.
	DelayQueueCount int `default:"2"`

	// MaxSleepStep bounds a single delay-queue sleep before the decision
	// policy is re-polled.
	MaxSleepStep time.Duration `default:"500ms"`

	// GracePeriod is the window within which an entry's notBefore counts as
	// "now": such entries skip the delay queue.
	GracePeriod time.Duration `default:"50ms"`

	// ThreadPoolSize is the number of executor workers.
	ThreadPoolSize int `default:"4"`

	// RateLimit is the ticket replenishment rate; RateLimitBurst caps how
	// many tickets may accumulate (0 means the rate's event count).
	RateLimit      Rate
	RateLimitBurst int

	// TimeFactor scales virtual time; 0 (clock.NoFactor) disables scaling.
	TimeFactor float64

	// RetryDelays is the retry delay ladder consulted by the default
	// policy; the last rung repeats. Empty selects exponential backoff.
	RetryDelays []time.Duration
}

// withDefaults returns the config with zero fields replaced by defaults.
func (c Config) withDefaults() (Config, error) {
	if err := defaults.Set(&c); err != nil {
		return c, fmt.Errorf("applying config defaults: %w", err)
	}
	if c.RateLimit.Events == 0 && c.RateLimit.Per == 0 {
		c.RateLimit = Rate{Events: 1000, Per: time.Second}
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = c.RateLimit.Events
	}
	return c, nil
}

// Validate enforces the documented bounds.
func (c Config) Validate() error {
	if c.MainQueueCacheTime < 0 {
		return fmt.Errorf("mainQueueCacheTimeMs must be >= 0, got %s", c.MainQueueCacheTime)
	}
	if c.MaxPendingRequests < 1 {
		return fmt.Errorf("maxPendingRequests must be >= 1, got %d", c.MaxPendingRequests)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("maxAttempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.DelayQueueCount < 1 {
		return fmt.Errorf("delayQueueCount must be >= 1, got %d", c.DelayQueueCount)
	}
	if c.MaxSleepStep <= 0 {
		return fmt.Errorf("maxSleepStep must be positive, got %s", c.MaxSleepStep)
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("requestEarlyProcessingGracePeriod must be >= 0, got %s", c.GracePeriod)
	}
	if c.ThreadPoolSize < 1 {
		return fmt.Errorf("threadPoolSize must be >= 1, got %d", c.ThreadPoolSize)
	}
	if c.RateLimit.Events < 1 || c.RateLimit.Per <= 0 {
		return fmt.Errorf("rateLimit must be positive, got %s", c.RateLimit)
	}
	if c.RateLimitBurst < 1 {
		return fmt.Errorf("rateLimitBurst must be >= 1, got %d", c.RateLimitBurst)
	}
	if c.TimeFactor < 0 {
		return fmt.Errorf("timeFactor must be positive or none, got %f", c.TimeFactor)
	}
	for i, d := range c.RetryDelays {
		if d < 0 {
			return fmt.Errorf("retryDelays[%d] must be >= 0, got %s", i, d)
		}
	}
	return nil
}
