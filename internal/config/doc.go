// Package config loads the scheduler configuration from files and the
// environment.
//
// Loading uses viper; missing keys fall back to the defaults applied by the
// scheduler itself. Environment variables use the RETRYQ_ prefix (e.g.
// RETRYQ_THREADPOOLSIZE).
//
// # Recognised Keys
//
//	┌─────────────────────────────────────┬─────────┬────────────────────────────────────────────┐
//	│ Key                                 │ Default │ Description                                │
//	├─────────────────────────────────────┼─────────┼────────────────────────────────────────────┤
//	│ serviceName                         │ retryq  │ Label used in diagnostics                  │
//	│ mainQueueCacheTimeMs                │ 0       │ Status snapshot cache validity             │
//	│ maxPendingRequests                  │ 1000    │ Admission ceiling (>= 1)                   │
//	│ maxAttempts                         │ 3       │ Retry ceiling (>= 1)                       │
//	│ delayQueueCount                     │ 2       │ Number of delay queues (>= 1)              │
//	│ maxSleepStep                        │ 500ms   │ Upper bound on one delay sleep             │
//	│ requestEarlyProcessingGracePeriod   │ 50ms    │ notBefore within grace skips delay queue   │
//	│ threadPoolSize                      │ 4       │ Executor workers (>= 1)                    │
//	│ rateLimit                           │ 1000/1s │ Ticket rate, "<events>/<duration>"         │
//	│ rateLimitBurst                      │ events  │ Ticket bucket capacity                     │
//	│ timeFactor                          │ none    │ Virtual-time factor, or "none"             │
//	│ retryDelays                         │ (empty) │ Delay ladder, e.g. "100ms,800ms"           │
//	└─────────────────────────────────────┴─────────┴────────────────────────────────────────────┘
//
// Durations accept the usual suffixes (ms, s, m). Keys whose name carries an
// Ms suffix also accept a bare number of milliseconds.
//
// # Usage Example
//
//	cfg, err := config.Load("retryq.yaml")
//	if err != nil {
//	    return err
//	}
//	svc, err := scheduler.New(cfg, attemptFn)
package config
