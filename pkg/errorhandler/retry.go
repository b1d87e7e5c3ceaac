package errorhandler

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

const (
	defaultBaseDelayMs       = 1000
	defaultMaxDelayMs        = 30000
	defaultBackoffMultiplier = 2.0
	defaultMaxAttempts       = 3
	maxJitterFraction        = 0.1
)

// DefaultRetryPolicy is used when a definition asks for retries without a policy.
func DefaultRetryPolicy(maxAttempts int) models.RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return models.RetryPolicy{
		Strategy:          models.RetryStrategyExponential,
		MaxAttempts:       maxAttempts,
		BaseDelayMs:       defaultBaseDelayMs,
		MaxDelayMs:        defaultMaxDelayMs,
		BackoffMultiplier: defaultBackoffMultiplier,
		RetryableErrors: []models.ErrorType{
			models.ErrorTypeTimeout,
			models.ErrorTypeExternalAPI,
			models.ErrorTypeSystem,
		},
	}
}

// Backoff computes retry delays for a policy.
type Backoff struct {
	policy models.RetryPolicy
	random func() float64
}

// NewBackoff returns a Backoff; random must return values in [0, 1) and defaults to math/rand.
func NewBackoff(policy models.RetryPolicy, random func() float64) *Backoff {
	if random == nil {
		random = rand.Float64
	}

	return &Backoff{policy: policy, random: random}
}

// BaseDelay is the jitter-free delay before retry number attempt (zero based).
func (b *Backoff) BaseDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := float64(b.policy.BaseDelayMs)

	var delayMs float64

	switch b.policy.Strategy {
	case models.RetryStrategyLinear:
		delayMs = base * float64(attempt+1)
	case models.RetryStrategyFixed:
		delayMs = base
	default:
		multiplier := b.policy.BackoffMultiplier
		if multiplier <= 0 {
			multiplier = defaultBackoffMultiplier
		}

		delayMs = base * math.Pow(multiplier, float64(attempt))
	}

	maxDelayMs := float64(b.policy.MaxDelayMs)
	if maxDelayMs <= 0 {
		maxDelayMs = defaultMaxDelayMs
	}

	if b.policy.Strategy != models.RetryStrategyFixed {
		delayMs = math.Min(delayMs, maxDelayMs)
	}

	// 0 * +Inf for a zero base delay.
	if math.IsNaN(delayMs) {
		delayMs = 0
	}

	return time.Duration(delayMs) * time.Millisecond
}

// Delay is BaseDelay plus up to 10% random jitter.
func (b *Backoff) Delay(attempt int) time.Duration {
	base := b.BaseDelay(attempt)
	jitter := time.Duration(float64(base) * maxJitterFraction * b.random())

	return base + jitter
}

// ShouldRetry reports whether another attempt is allowed after attemptsMade attempts.
func (b *Backoff) ShouldRetry(attemptsMade int, errType models.ErrorType) bool {
	return attemptsMade < b.policy.MaxAttempts && b.policy.Retries(errType)
}
