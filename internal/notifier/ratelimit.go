package notifier

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the notification rate limit.
type RateLimitConfig struct {
	MaxPerWindow int           // Maximum notifications per window
	Window       time.Duration // Time window duration
	Enabled      bool          // Whether rate limiting is enabled
}

// DefaultRateLimitConfig returns the default rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPerWindow: 100,
		Window:       time.Minute,
		Enabled:      true,
	}
}

// RateLimiter is a token bucket holding MaxPerWindow tokens, refilled
// evenly over Window.
type RateLimiter struct {
	config  RateLimitConfig
	limiter *rate.Limiter
	dropped atomic.Int64
}

// RateLimitStats holds rate limiter statistics.
type RateLimitStats struct {
	Enabled      bool          `json:"enabled"`
	MaxPerWindow int           `json:"max_per_window"`
	Window       time.Duration `json:"window"`
	Available    float64       `json:"available"`
	Dropped      int64         `json:"dropped"`
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.MaxPerWindow <= 0 {
		config.MaxPerWindow = 100
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	every := config.Window / time.Duration(config.MaxPerWindow)
	return &RateLimiter{
		config:  config,
		limiter: rate.NewLimiter(rate.Every(every), config.MaxPerWindow),
	}
}

// Allow reports whether a notification may be sent now, consuming a token
// when it may.
func (r *RateLimiter) Allow() bool {
	if !r.config.Enabled {
		return true
	}
	if r.limiter.Allow() {
		return true
	}
	r.dropped.Add(1)
	return false
}

// Dropped returns the number of notifications denied so far.
func (r *RateLimiter) Dropped() int64 {
	return r.dropped.Load()
}

// Stats returns current rate limiter statistics.
func (r *RateLimiter) Stats() RateLimitStats {
	return RateLimitStats{
		Enabled:      r.config.Enabled,
		MaxPerWindow: r.config.MaxPerWindow,
		Window:       r.config.Window,
		Available:    r.limiter.Tokens(),
		Dropped:      r.dropped.Load(),
	}
}
