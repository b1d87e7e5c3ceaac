package models

// RetryStrategy selects the backoff curve.
type RetryStrategy string

const (
	RetryStrategyExponential RetryStrategy = "exponential"
	RetryStrategyLinear      RetryStrategy = "linear"
	RetryStrategyFixed       RetryStrategy = "fixed"
)

// RetryPolicy configures how step failures are retried.
type RetryPolicy struct {
	Strategy          RetryStrategy `json:"strategy"                     validate:"required,oneof=exponential linear fixed"`
	MaxAttempts       int           `json:"max_attempts"                 validate:"gte=0"`
	BaseDelayMs       int64         `json:"base_delay_ms"                validate:"gte=0"`
	MaxDelayMs        int64         `json:"max_delay_ms,omitempty"       validate:"gte=0"`
	BackoffMultiplier float64       `json:"backoff_multiplier,omitempty" validate:"gte=0"`
	RetryableErrors   []ErrorType   `json:"retryable_errors,omitempty"`
}

// Retries reports whether errType is in the retryable set.
func (p *RetryPolicy) Retries(errType ErrorType) bool {
	for _, t := range p.RetryableErrors {
		if t == errType {
			return true
		}
	}

	return false
}
