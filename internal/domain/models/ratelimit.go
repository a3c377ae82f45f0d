package models

import "time"

// RateLimitConfig configures a sliding window for one endpoint key.
type RateLimitConfig struct {
	Window      time.Duration `json:"window" mapstructure:"window" validate:"gt=0"`
	MaxRequests int           `json:"max_requests" mapstructure:"max_requests" validate:"gt=0"`
}

// RateLimitState is the persisted request log of one endpoint key.
// Timestamps are Unix milliseconds, oldest first.
type RateLimitState struct {
	Requests []int64 `json:"requests"`
}

// Prune drops every request that is at least window old at now.
func (s *RateLimitState) Prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window).UnixMilli()
	kept := s.Requests[:0]
	for _, ts := range s.Requests {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	s.Requests = kept
}

// RateLimitUsage summarizes the current window of one key.
type RateLimitUsage struct {
	Key       string    `json:"key"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// IPBlockConfig configures the failed-attempt guard for one identity class.
type IPBlockConfig struct {
	MaxAttempts   int           `json:"max_attempts" mapstructure:"max_attempts" validate:"gt=0"`
	BlockDuration time.Duration `json:"block_duration" mapstructure:"block_duration" validate:"gt=0"`
}

// IPBlockState is the persisted failed-attempt record of one identity.
type IPBlockState struct {
	Attempts     []int64 `json:"attempts"`
	BlockedUntil int64   `json:"blockedUntil"`
}

// IsBlocked reports whether the block is still active at now.
func (s *IPBlockState) IsBlocked(now time.Time) bool {
	return s.BlockedUntil > now.UnixMilli()
}

// BlockExpired reports whether a block was set and has lapsed at now.
func (s *IPBlockState) BlockExpired(now time.Time) bool {
	return s.BlockedUntil != 0 && !s.IsBlocked(now)
}

// GuardPolicy is what a request guard enforces for one surface. A nil field
// disables that check.
type GuardPolicy struct {
	RateLimit *RateLimitConfig
	IPBlock   *IPBlockConfig
}
