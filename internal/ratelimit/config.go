package ratelimit

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DailyResetPolicy decides when the daily counter starts over.
type DailyResetPolicy string

const (
	// DailyResetPerRun never resets the daily counter; the cap bounds one run.
	DailyResetPerRun DailyResetPolicy = "per-run"
	// DailyResetCalendarDay resets the daily counter when the local date changes.
	DailyResetCalendarDay DailyResetPolicy = "calendar-day"
)

// Config holds the submission ceilings.
type Config struct {
	MinInterval time.Duration    `json:"min_interval" yaml:"min_interval"`
	HourlyCap   int              `json:"hourly_cap" yaml:"hourly_cap" validate:"gte=0"`
	DailyCap    int              `json:"daily_cap" yaml:"daily_cap" validate:"gte=0"`
	DailyReset  DailyResetPolicy `json:"daily_reset" yaml:"daily_reset" validate:"omitempty,oneof=per-run calendar-day"`
}

// DefaultConfig returns the stock ceilings: 3s spacing, 50 per hour, 300 per day.
func DefaultConfig() Config {
	return Config{
		MinInterval: 3 * time.Second,
		HourlyCap:   50,
		DailyCap:    300,
		DailyReset:  DailyResetPerRun,
	}
}

// LoadConfig applies RATE_LIMIT_* environment overrides on top of base.
func LoadConfig(base Config) Config {
	cfg := base
	cfg.MinInterval = getEnvDuration("RATE_LIMIT_MIN_INTERVAL", cfg.MinInterval)
	cfg.HourlyCap = getEnvInt("RATE_LIMIT_HOURLY_CAP", cfg.HourlyCap)
	cfg.DailyCap = getEnvInt("RATE_LIMIT_DAILY_CAP", cfg.DailyCap)
	cfg.DailyReset = DailyResetPolicy(getEnvString("RATE_LIMIT_DAILY_RESET", string(cfg.DailyReset)))
	return cfg.withDefaults()
}

// ParseDailyReset converts a flag or config value into a policy.
func ParseDailyReset(s string) (DailyResetPolicy, error) {
	switch p := DailyResetPolicy(s); p {
	case DailyResetPerRun, DailyResetCalendarDay:
		return p, nil
	case "":
		return DailyResetPerRun, nil
	}
	return "", fmt.Errorf("unknown daily reset policy %q", s)
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.HourlyCap <= 0 {
		c.HourlyCap = d.HourlyCap
	}
	if c.DailyCap <= 0 {
		c.DailyCap = d.DailyCap
	}
	if c.DailyReset == "" {
		c.DailyReset = d.DailyReset
	}
	return c
}

// getEnvString gets an environment variable as a string with a default value.
func getEnvString(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a duration with a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
