package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/kbukum/flowkit/errors"
)

// Retry policy defaults.
const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
	DefaultBackoffFactor  = 2.0
)

// BackoffFunc maps a 1-based retry attempt to the delay before it.
type BackoffFunc func(attempt int) time.Duration

// RetryPolicy configures retry behavior.
type RetryPolicy struct {
	// MaxRetries is the number of resubscriptions after the first attempt.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps every delay.
	MaxBackoff time.Duration
	// BackoffFactor is the multiplier for exponential backoff.
	BackoffFactor float64
	// Jitter adds randomness to backoff (0.0 to 1.0). Zero keeps delays monotone.
	Jitter float64
	// Backoff replaces the exponential computation when set. MaxBackoff still caps it.
	Backoff BackoffFunc
	// RetryIf determines if an error should be retried.
	RetryIf func(error) bool
	// OnRetry is called before each retry is scheduled.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// DefaultRetryPolicy returns sensible defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		BackoffFactor:  DefaultBackoffFactor,
		RetryIf:        DefaultRetryIf,
	}
}

// DefaultRetryIf retries everything except programmer errors and context
// cancellation.
func DefaultRetryIf(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.IsFatalKind(errors.KindOf(err))
}

// WithDefaults returns a copy with zero fields replaced by defaults.
// MaxRetries is kept as given; negative values become zero.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultInitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultMaxBackoff
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = DefaultBackoffFactor
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	if p.RetryIf == nil {
		p.RetryIf = DefaultRetryIf
	}
	return p
}

// ShouldRetry reports whether err is eligible and attempt is within budget.
// attempt is the 1-based number of the retry about to happen.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt > p.MaxRetries {
		return false
	}
	if p.RetryIf == nil {
		return DefaultRetryIf(err)
	}
	return p.RetryIf(err)
}

// Delay returns the delay before the given 1-based retry attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	if p.Backoff != nil {
		d = p.Backoff(attempt)
	} else {
		d = calculateBackoff(attempt, p)
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if d < 0 {
		d = 0
	}
	return d
}

// ExponentialBackoff returns initial * factor^(attempt-1), capped at max.
func ExponentialBackoff(initial, max time.Duration, factor float64) BackoffFunc {
	return func(attempt int) time.Duration {
		return calculateBackoff(attempt, RetryPolicy{
			InitialBackoff: initial,
			MaxBackoff:     max,
			BackoffFactor:  factor,
		})
	}
}

// FixedBackoff waits d before every retry.
func FixedBackoff(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// calculateBackoff calculates the backoff duration for an attempt.
func calculateBackoff(attempt int, p RetryPolicy) time.Duration {
	// Exponential backoff: initial * factor^(attempt-1)
	backoffFloat := float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(attempt-1))

	if p.Jitter > 0 {
		jitterRange := backoffFloat * p.Jitter
		backoffFloat += (rand.Float64()*2 - 1) * jitterRange
	}

	if p.MaxBackoff > 0 && backoffFloat > float64(p.MaxBackoff) {
		backoffFloat = float64(p.MaxBackoff)
	}

	if backoffFloat < 0 || math.IsNaN(backoffFloat) {
		backoffFloat = float64(p.InitialBackoff)
	}
	if backoffFloat >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(backoffFloat)
}
