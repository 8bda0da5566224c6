// Package ratelimit tracks the backend's error budget and gates requests
// before it runs out. The backend reports the budget through the
// X-Error-Limit-Remain and X-Error-Limit-Reset headers; the state is kept in
// Redis so every process talking to the backend sees the same budget.
package ratelimit

import (
	"time"
)

// Response headers carrying the error budget.
const (
	HeaderRemain = "X-Error-Limit-Remain"
	HeaderReset  = "X-Error-Limit-Reset"
)

// Redis keys for budget state storage.
const (
	RedisKeyRemaining      = "pagefetch:rate_limit:errors_remaining"
	RedisKeyResetTimestamp = "pagefetch:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "pagefetch:rate_limit:last_update"
)

// Thresholds for gating decisions.
const (
	// ThresholdCritical blocks requests when the remaining budget falls below it.
	ThresholdCritical = 5

	// ThresholdWarning throttles requests when the remaining budget falls below it.
	ThresholdWarning = 20

	// ThresholdHealthy marks the budget healthy at or above it.
	ThresholdHealthy = 50
)

// State is the backend error budget as last reported.
type State struct {
	// Remaining is the number of errors the backend still tolerates.
	Remaining int `json:"errors_remaining"`

	// ResetAt is when the budget window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the state was last written.
	LastUpdate time.Time `json:"last_update"`

	// Healthy is true when Remaining >= ThresholdHealthy.
	Healthy bool `json:"is_healthy"`
}

// defaultState is assumed until the backend reported a budget.
func defaultState() *State {
	now := time.Now()
	return &State{
		Remaining:  100,
		ResetAt:    now.Add(60 * time.Second),
		LastUpdate: now,
		Healthy:    true,
	}
}

// IsStale reports whether the state is older than maxAge.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// Blocked reports whether requests must be refused.
func (s *State) Blocked() bool {
	return s.Remaining < ThresholdCritical
}

// Throttled reports whether requests should be slowed down.
func (s *State) Throttled() bool {
	return s.Remaining < ThresholdWarning && !s.Blocked()
}

// TimeUntilReset returns the duration until the budget resets, or 0.
func (s *State) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

func (s *State) updateHealth() {
	s.Healthy = s.Remaining >= ThresholdHealthy
}
