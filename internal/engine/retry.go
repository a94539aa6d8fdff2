package engine

import (
	"math"
	"time"
)

// RetryConfig controls retry eligibility and backoff.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Minute,
		Multiplier: 2,
	}
}

// RetryPolicy decides whether a failed attempt is retried and when.
type RetryPolicy struct {
	cfg RetryConfig
}

func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	def := DefaultRetryConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	// The delay must grow with every attempt.
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = def.Multiplier
	}
	return &RetryPolicy{cfg: cfg}
}

func (p *RetryPolicy) MaxRetries() int {
	return p.cfg.MaxRetries
}

// ShouldRetry reports whether the attempt numbered attemptNumber, which
// ended with statusCode (nil when no response arrived), gets another try.
// 4xx responses are treated as permanent.
func (p *RetryPolicy) ShouldRetry(attemptNumber int, statusCode *int) bool {
	if attemptNumber >= p.cfg.MaxRetries {
		return false
	}
	if statusCode == nil {
		return true
	}
	return *statusCode >= 500
}

// Delay returns how long to wait before making attempt n:
// BaseDelay * Multiplier^(n-1).
func (p *RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.Multiplier, float64(n-1))
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
