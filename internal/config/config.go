package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/transactcampus/retryq/pkg/scheduler"
)

const envPrefix = "RETRYQ"

// Load reads the configuration file at path and returns a validated
// scheduler config. An empty path loads from the environment only.
func Load(path string) (scheduler.Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return scheduler.Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	return FromViper(v)
}

// FromViper extracts the recognised keys from v. Unset keys are left zero
// so the scheduler applies its defaults.
func FromViper(v *viper.Viper) (scheduler.Config, error) {
	var cfg scheduler.Config
	var err error

	cfg.ServiceName = v.GetString("serviceName")
	cfg.MaxPendingRequests = v.GetInt("maxPendingRequests")
	cfg.MaxAttempts = v.GetInt("maxAttempts")
	cfg.DelayQueueCount = v.GetInt("delayQueueCount")
	cfg.ThreadPoolSize = v.GetInt("threadPoolSize")
	cfg.RateLimitBurst = v.GetInt("rateLimitBurst")

	if cfg.MainQueueCacheTime, err = duration(v, "mainQueueCacheTimeMs"); err != nil {
		return cfg, err
	}
	if cfg.MaxSleepStep, err = duration(v, "maxSleepStep"); err != nil {
		return cfg, err
	}
	if cfg.GracePeriod, err = duration(v, "requestEarlyProcessingGracePeriod"); err != nil {
		return cfg, err
	}

	if s := v.GetString("rateLimit"); s != "" {
		if cfg.RateLimit, err = ParseRate(s); err != nil {
			return cfg, err
		}
	}
	if cfg.TimeFactor, err = timeFactor(v.GetString("timeFactor")); err != nil {
		return cfg, err
	}
	if cfg.RetryDelays, err = delays(v.GetString("retryDelays")); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseRate parses "<events>/<duration>", e.g. "100/1s".
func ParseRate(s string) (scheduler.Rate, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return scheduler.Rate{}, fmt.Errorf("invalid rate %q: want <events>/<duration>", s)
	}
	events, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return scheduler.Rate{}, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	per, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil {
		return scheduler.Rate{}, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	return scheduler.Rate{Events: events, Per: per}, nil
}

// duration reads a duration key, accepting suffixed strings ("500ms", "2s",
// "1m") and, for keys named with an Ms suffix, bare millisecond numbers.
func duration(v *viper.Viper, key string) (time.Duration, error) {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if !strings.HasSuffix(key, "Ms") {
			return 0, fmt.Errorf("%s: bare number %q needs a unit suffix", key, s)
		}
		return time.Duration(n) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func timeFactor(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("timeFactor: %w", err)
	}
	if f <= 0 {
		return 0, fmt.Errorf("timeFactor must be positive or none, got %s", s)
	}
	return f, nil
}

func delays(s string) ([]time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []time.Duration
	for _, part := range strings.Split(s, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("retryDelays: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}
