package planner

import "time"

// SkipReason tells why a planning call did no work.
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipBusy       SkipReason = "busy"
	SkipCooldown   SkipReason = "cooldown"
	SkipNoEligible SkipReason = "no_eligible"
)

// RunStats summarizes one planning call.
type RunStats struct {
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
	Eligible    int           `json:"eligible"`
	Updated     int           `json:"updated"`
	Timeouts    int           `json:"timeouts"`
	Errors      int           `json:"errors"`
	Exhausted   int           `json:"exhausted"`
	Abandoned   int           `json:"abandoned"`
	ErrorRate   float64       `json:"error_rate"`
	Parallelism int           `json:"parallelism"`
	SkipReason  SkipReason    `json:"skip_reason,omitempty"`
	Backoff     bool          `json:"backoff"`
}

// Status is a point-in-time view of planner state.
type Status struct {
	Running       bool       `json:"running"`
	Parallelism   int        `json:"parallelism"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	LastRun       *RunStats  `json:"last_run,omitempty"`
}

type outcome int

const (
	outcomeAbandoned outcome = iota
	outcomeUpdated
	outcomeTimeout
	outcomeError
	outcomeExhausted
)
