// Package resilience provides the retry policy and circuit breaker used by the
// stream error combinators.
//
//   - RetryPolicy: attempt limit, backoff function and eligibility predicate,
//     consumed by stream.RetryBackoff.
//   - CircuitBreaker: fails fast while a dependency is unhealthy, consumed by
//     stream.CircuitBreak.
//
// Policies never sleep; the stream layer schedules each delay on a scheduler:
//
//	policy := resilience.DefaultRetryPolicy()
//	policy.MaxRetries = 5
//	s = stream.RetryBackoff(s, policy, sched)
package resilience
