package planner

import "time"

// Config holds the planner budgets and thresholds.
type Config struct {
	Parallelism    int
	MinParallelism int
	MaxParallelism int

	DeviceTimeout  time.Duration
	TotalTimeout   time.Duration
	CheckInterval  time.Duration
	Cooldown       time.Duration
	ReportInterval time.Duration

	// Backoff triggers when more than MinEligibleForBackoff devices were
	// eligible and the error rate exceeds ErrorRateThreshold.
	MinEligibleForBackoff int
	ErrorRateThreshold    float64
}

func DefaultConfig() Config {
	return Config{
		Parallelism:           7,
		MinParallelism:        2,
		MaxParallelism:        15,
		DeviceTimeout:         8 * time.Second,
		TotalTimeout:          30 * time.Second,
		CheckInterval:         10 * time.Minute,
		Cooldown:              time.Minute,
		ReportInterval:        30 * time.Minute,
		MinEligibleForBackoff: 5,
		ErrorRateThreshold:    0.75,
	}
}

// normalized fills unset values from the defaults and clamps parallelism.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MinParallelism <= 0 {
		c.MinParallelism = def.MinParallelism
	}
	if c.MaxParallelism < c.MinParallelism {
		c.MaxParallelism = max(def.MaxParallelism, c.MinParallelism)
	}
	if c.Parallelism <= 0 {
		c.Parallelism = def.Parallelism
	}
	c.Parallelism = clamp(c.Parallelism, c.MinParallelism, c.MaxParallelism)
	if c.DeviceTimeout <= 0 {
		c.DeviceTimeout = def.DeviceTimeout
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = def.TotalTimeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = def.CheckInterval
	}
	if c.Cooldown < 0 {
		c.Cooldown = 0
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = def.ReportInterval
	}
	if c.MinEligibleForBackoff <= 0 {
		c.MinEligibleForBackoff = def.MinEligibleForBackoff
	}
	if c.ErrorRateThreshold <= 0 {
		c.ErrorRateThreshold = def.ErrorRateThreshold
	}
	return c
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
