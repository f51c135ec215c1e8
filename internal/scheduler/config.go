package scheduler

import (
	"time"

	"github.com/smallbiznis/schoolledger/internal/config"
)

// Config controls scheduler intervals and per-run limits.
type Config struct {
	RunInterval      time.Duration
	JobTimeout       time.Duration
	LookaheadMonths  int
	MaxSchoolsPerRun int
	EnabledJobs      []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Hour,
		JobTimeout:  10 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:      cfg.Scheduler.RunInterval,
		JobTimeout:       cfg.Scheduler.JobTimeout,
		LookaheadMonths:  cfg.Scheduler.LookaheadMonths,
		MaxSchoolsPerRun: cfg.Scheduler.MaxSchoolsPerRun,
		EnabledJobs:      cfg.Scheduler.EnabledJobs,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LookaheadMonths < 0 {
		c.LookaheadMonths = 0
	}
	if c.MaxSchoolsPerRun < 0 {
		c.MaxSchoolsPerRun = 0
	}
	return c
}
