package stream

import (
	"sync"
	"sync/atomic"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/resilience"
	"github.com/kbukum/flowkit/scheduler"
)

// --- continue past element errors ---

type continueKey struct{}

type continueStrategy struct {
	handler func(err error, v any)
	match   func(error) bool
}

// OnErrorContinue makes the element-processing stages upstream of it skip a
// value whose processing failed instead of terminating: handler observes the
// error and the value, the stage requests a replacement and the stream goes
// on. It applies to Map, Handle, Filter, the FlatMap and ConcatMap mappers,
// DoOnNext, DistinctBy key functions and the Scan and Reduce accumulators.
// Errors raised by a source are not element errors and still terminate the
// stream. match == nil matches every element error.
func OnErrorContinue[T any](s *Stream[T], handler func(err error, v any), match func(error) bool) *Stream[T] {
	strategy := &continueStrategy{handler: handler, match: match}
	return newStream("onErrorContinue", func(actual Subscriber[T]) {
		st := newStage(actual)
		st.ctx = st.ctx.Put(continueKey{}, strategy)
		s.Subscribe(&contextSubscriber[T]{stage: st})
	})
}

// OnErrorStop restores fail-fast element errors upstream of it, scoping an
// OnErrorContinue placed further downstream.
func OnErrorStop[T any](s *Stream[T]) *Stream[T] {
	return newStream("onErrorStop", func(actual Subscriber[T]) {
		st := newStage(actual)
		st.ctx = st.ctx.Delete(continueKey{})
		s.Subscribe(&contextSubscriber[T]{stage: st})
	})
}

// resumeElement reports whether the continue strategy in ctx skips err.
func resumeElement(ctx Context, err error, v any) bool {
	strategy, ok := ContextValue[*continueStrategy](ctx, continueKey{})
	if !ok || !errors.IsKind(err, errors.KindElement) {
		return false
	}
	if strategy.match != nil && !strategy.match(err) {
		return false
	}
	if strategy.handler != nil {
		if perr := invokeFunc(func() { strategy.handler(err, v) }); perr != nil {
			onErrorDropped(perr)
		}
	}
	return true
}

// elementFailed skips v and requests a replacement when a continue strategy
// applies, otherwise it cancels upstream and fails with err.
func (b *stage[R]) elementFailed(err error, v any) {
	if resumeElement(b.ctx, err, v) {
		b.upstream.Request(1)
		return
	}
	b.fail(err)
}

// --- fallbacks ---

// OnErrorReturn emits value and completes when an error matching match
// arrives. match == nil matches every error; unmatched errors propagate.
func OnErrorReturn[T any](s *Stream[T], value T, match func(error) bool) *Stream[T] {
	return named(OnErrorResume(s, func(err error) *Stream[T] {
		if match == nil || match(err) {
			return Just(value)
		}
		return Error[T](err)
	}), "onErrorReturn")
}

// OnErrorResume continues with the stream returned by fn for the error.
func OnErrorResume[T any](s *Stream[T], fn func(error) *Stream[T]) *Stream[T] {
	return newStream("onErrorResume", func(actual Subscriber[T]) {
		s.Subscribe(&resumeSubscriber[T]{arbiterStage: newArbiterStage(actual), fn: fn})
	})
}

// OnErrorResumeKind continues with fallback when the error has one of kinds.
func OnErrorResumeKind[T any](s *Stream[T], fallback *Stream[T], kinds ...errors.Kind) *Stream[T] {
	match := errors.MatchKind(kinds...)
	return named(OnErrorResume(s, func(err error) *Stream[T] {
		if match(err) {
			return fallback
		}
		return Error[T](err)
	}), "onErrorResumeKind")
}

type resumeSubscriber[T any] struct {
	arbiterStage[T]
	fn         func(error) *Stream[T]
	subscribed bool
	switched   bool
}

func (r *resumeSubscriber[T]) OnSubscribe(s Subscription) {
	r.setSubscription(s)
	if !r.subscribed {
		r.subscribed = true
		r.actual.OnSubscribe(r)
	}
}

func (r *resumeSubscriber[T]) OnNext(v T) { r.next(v) }

func (r *resumeSubscriber[T]) OnError(err error) {
	if r.switched || r.requestedBadly() {
		r.actual.OnError(err)
		return
	}
	r.switched = true
	fallback, ferr := supply(func() *Stream[T] { return r.fn(err) })
	if ferr != nil {
		r.actual.OnError(errors.Join(err, ferr))
		return
	}
	r.settle()
	fallback.Subscribe(r)
}

func (r *resumeSubscriber[T]) OnComplete() { r.actual.OnComplete() }

// OnErrorMap translates errors with fn. Use errors.Wrap to keep the cause.
func OnErrorMap[T any](s *Stream[T], fn func(error) error) *Stream[T] {
	return newStream("onErrorMap", func(actual Subscriber[T]) {
		s.Subscribe(&errorMapSubscriber[T]{stage: newStage(actual), fn: fn})
	})
}

type errorMapSubscriber[T any] struct {
	stage[T]
	fn func(error) error
}

func (m *errorMapSubscriber[T]) OnSubscribe(s Subscription) {
	if m.setUpstream(s) {
		m.actual.OnSubscribe(m)
	}
}

func (m *errorMapSubscriber[T]) OnNext(v T) { m.actual.OnNext(v) }

func (m *errorMapSubscriber[T]) OnError(err error) {
	mapped, perr := apply(func(e error) (error, error) { return m.fn(e), nil }, err)
	switch {
	case perr != nil:
		mapped = errors.Join(err, perr)
	case mapped == nil:
		mapped = err
	}
	m.error(mapped)
}

func (m *errorMapSubscriber[T]) OnComplete() { m.complete() }

// --- retry ---

// Retry resubscribes to s after an error, at most n times, so that an
// always-failing s is subscribed exactly n+1 times before its last error
// propagates. The exhaustion is also passed to the retry-exhausted hook as a
// RETRY_EXHAUSTED error. ILLEGAL_ARGUMENT, PROTOCOL_VIOLATION and CANCELLED
// errors are never retried.
func Retry[T any](s *Stream[T], n int) *Stream[T] {
	if n < 0 {
		return rejected[T]("retry", errors.IllegalArgument("retry count must not be negative, got %d", n))
	}
	return newStream("retry", func(actual Subscriber[T]) {
		r := &retrySubscriber[T]{arbiterStage: newArbiterStage(actual), source: s, remaining: n}
		actual.OnSubscribe(r)
		r.resubscribe()
	})
}

type retrySubscriber[T any] struct {
	arbiterStage[T]
	source    *Stream[T]
	remaining int
	attempts  int
	tramp     trampoline
}

func (r *retrySubscriber[T]) OnSubscribe(s Subscription) { r.setSubscription(s) }
func (r *retrySubscriber[T]) OnNext(v T)                 { r.next(v) }
func (r *retrySubscriber[T]) OnComplete()                { r.actual.OnComplete() }

func (r *retrySubscriber[T]) OnError(err error) {
	if r.requestedBadly() || errors.IsFatalKind(errors.KindOf(err)) {
		r.actual.OnError(err)
		return
	}
	if r.remaining == 0 {
		onRetryExhausted(errors.RetryExhausted(r.attempts+1, err))
		r.actual.OnError(err)
		return
	}
	r.remaining--
	r.attempts++
	r.resubscribe()
}

func (r *retrySubscriber[T]) resubscribe() {
	r.settle()
	r.tramp.run(func() {
		if !r.isCancelled() {
			r.source.Subscribe(r)
		}
	})
}

// RetryBackoff resubscribes after errors the policy accepts, waiting
// policy.Delay(attempt) on sched before each attempt. Errors rejected by
// policy.RetryIf propagate at once. When MaxRetries is used up the stream
// fails with a RETRY_EXHAUSTED error wrapping the last error, which is also
// passed to the retry-exhausted hook.
func RetryBackoff[T any](s *Stream[T], policy resilience.RetryPolicy, sched scheduler.Scheduler) *Stream[T] {
	if sched == nil {
		return rejected[T]("retryBackoff", errNilScheduler)
	}
	policy = policy.WithDefaults()
	return newStream("retryBackoff", func(actual Subscriber[T]) {
		r := &backoffSubscriber[T]{
			arbiterStage: newArbiterStage(actual),
			source:       s,
			policy:       policy,
			sched:        sched,
		}
		actual.OnSubscribe(r)
		r.source.Subscribe(r)
	})
}

type backoffSubscriber[T any] struct {
	arbiterStage[T]
	source  *Stream[T]
	policy  resilience.RetryPolicy
	sched   scheduler.Scheduler
	attempt int

	mu   sync.Mutex
	task scheduler.Disposable
}

func (r *backoffSubscriber[T]) OnSubscribe(s Subscription) { r.setSubscription(s) }
func (r *backoffSubscriber[T]) OnNext(v T)                 { r.next(v) }
func (r *backoffSubscriber[T]) OnComplete()                { r.actual.OnComplete() }

func (r *backoffSubscriber[T]) OnError(err error) {
	next := r.attempt + 1
	if r.requestedBadly() || !r.policy.RetryIf(err) {
		r.actual.OnError(err)
		return
	}
	if !r.policy.ShouldRetry(next, err) {
		exhausted := errors.RetryExhausted(next, err)
		onRetryExhausted(exhausted)
		r.actual.OnError(exhausted)
		return
	}
	r.attempt = next
	delay := r.policy.Delay(next)
	if r.policy.OnRetry != nil {
		if perr := invokeFunc(func() { r.policy.OnRetry(next, err, delay) }); perr != nil {
			onErrorDropped(perr)
		}
	}
	r.settle()
	task, serr := r.sched.ScheduleDelayed(func() {
		if !r.isCancelled() {
			r.source.Subscribe(r)
		}
	}, delay)
	if serr != nil {
		r.actual.OnError(serr)
		return
	}
	r.setTask(task)
}

func (r *backoffSubscriber[T]) setTask(d scheduler.Disposable) {
	r.mu.Lock()
	if r.isCancelled() {
		r.mu.Unlock()
		d.Dispose()
		return
	}
	r.task = d
	r.mu.Unlock()
}

func (r *backoffSubscriber[T]) Cancel() {
	r.cancel()
	r.mu.Lock()
	task := r.task
	r.task = nil
	r.mu.Unlock()
	if task != nil {
		task.Dispose()
	}
}

// --- circuit breaker ---

// CircuitBreak guards each subscription with cb: while the circuit is open
// subscribers fail at once with CIRCUIT_OPEN, otherwise the terminal signal
// of the subscription is recorded as its outcome.
func CircuitBreak[T any](s *Stream[T], cb *resilience.CircuitBreaker) *Stream[T] {
	return newStream("circuitBreak", func(actual Subscriber[T]) {
		if err := cb.Allow(); err != nil {
			errorNow(actual, err)
			return
		}
		s.Subscribe(&circuitSubscriber[T]{stage: newStage(actual), cb: cb})
	})
}

type circuitSubscriber[T any] struct {
	stage[T]
	cb      *resilience.CircuitBreaker
	settled atomic.Bool
}

func (c *circuitSubscriber[T]) OnSubscribe(s Subscription) {
	if c.setUpstream(s) {
		c.actual.OnSubscribe(c)
	}
}

func (c *circuitSubscriber[T]) OnNext(v T) { c.actual.OnNext(v) }

func (c *circuitSubscriber[T]) OnError(err error) {
	if c.settled.CompareAndSwap(false, true) {
		c.cb.Record(err)
	}
	c.error(err)
}

func (c *circuitSubscriber[T]) OnComplete() {
	if c.settled.CompareAndSwap(false, true) {
		c.cb.Record(nil)
	}
	c.complete()
}

func (c *circuitSubscriber[T]) Cancel() {
	if c.settled.CompareAndSwap(false, true) {
		c.cb.Release()
	}
	c.upstream.Cancel()
}

// named returns s under another name.
func named[T any](s *Stream[T], name string) *Stream[T] {
	return &Stream[T]{name: name, site: s.site, onSubscribe: s.onSubscribe}
}

