// Package ratelimit gates Gmail API calls against the per-user quota.
// Gmail charges quota units per method within a one-second window; usage is
// tracked in Redis so every process syncing the same account shares one budget.
package ratelimit

import (
	"time"
)

// Redis key prefix for quota state storage.
const RedisKeyPrefix = "gmailsync:quota"

// Quota unit costs of the Gmail methods used by the sync engine.
const (
	UnitsListMessages = 5
	UnitsGetMessage   = 5
	UnitsListLabels   = 1
)

// DefaultBudget is Gmail's per-user quota in units per second.
const DefaultBudget = 250

// ThrottleRatio marks the share of the budget after which usage is logged
// as a warning.
const ThrottleRatio = 0.8

// QuotaState is the quota usage of one account in the current window.
type QuotaState struct {
	// UnitsUsed is the number of units reserved in the current window.
	UnitsUsed int `json:"units_used"`

	// Budget is the number of units allowed per window.
	Budget int `json:"budget"`

	// WindowStart is the start of the current one-second window.
	WindowStart time.Time `json:"window_start"`

	// BlockedUntil is set after the server rejected a request for quota
	// reasons. No units are granted before it.
	BlockedUntil time.Time `json:"blocked_until"`
}

// Remaining returns the units still available in the window.
func (s *QuotaState) Remaining() int {
	if r := s.Budget - s.UnitsUsed; r > 0 {
		return r
	}
	return 0
}

// IsBlocked reports whether a server-imposed block is active at now.
func (s *QuotaState) IsBlocked(now time.Time) bool {
	return now.Before(s.BlockedUntil)
}

// NeedsThrottling reports whether usage passed ThrottleRatio of the budget.
func (s *QuotaState) NeedsThrottling() bool {
	return float64(s.UnitsUsed) >= float64(s.Budget)*ThrottleRatio
}

// TimeUntilUnblock returns the remaining block duration, or 0.
func (s *QuotaState) TimeUntilUnblock(now time.Time) time.Duration {
	d := s.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
