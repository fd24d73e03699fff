package stream

import (
	"math"

	"github.com/kbukum/flowkit/scheduler"
)

// Unbounded is the demand that disables flow control.
const Unbounded int64 = math.MaxInt64

// Subscription links one Subscriber to one producer.
type Subscription interface {
	// Request adds n to the outstanding demand. n <= 0 fails the subscription
	// with an ILLEGAL_ARGUMENT error.
	Request(n int64)
	// Cancel stops the producer. It is idempotent; signals already in flight
	// may still arrive once.
	Cancel()
}

// Subscriber receives the signals of one subscription, serially.
type Subscriber[T any] interface {
	OnSubscribe(s Subscription)
	OnNext(v T)
	OnError(err error)
	OnComplete()
}

// Publisher is anything that can be subscribed to.
type Publisher[T any] interface {
	Subscribe(s Subscriber[T])
}

// ContextHolder is implemented by subscribers that carry a Context.
// Operators expose their downstream subscriber's Context to their upstream.
type ContextHolder interface {
	Context() Context
}

// Disposable cancels a subscription started with SubscribeFunc.
type Disposable = scheduler.Disposable

func contextOf(v any) Context {
	if h, ok := v.(ContextHolder); ok {
		return h.Context()
	}
	return EmptyContext()
}

// noopSubscription is handed to subscribers of sources that terminate
// immediately.
type noopSubscription struct{}

func (noopSubscription) Request(int64) {}
func (noopSubscription) Cancel()       {}

func completeNow[T any](s Subscriber[T]) {
	s.OnSubscribe(noopSubscription{})
	s.OnComplete()
}

func errorNow[T any](s Subscriber[T], err error) {
	s.OnSubscribe(noopSubscription{})
	s.OnError(err)
}

// stage carries the state shared by one-to-one operator subscribers: the
// downstream, its context, the upstream subscription and the terminal flag.
// Signals are serial, so done needs no synchronization.
type stage[R any] struct {
	actual   Subscriber[R]
	ctx      Context
	upstream Subscription
	done     bool
}

func newStage[R any](actual Subscriber[R]) stage[R] {
	return stage[R]{actual: actual, ctx: contextOf(actual)}
}

func (b *stage[R]) Context() Context { return b.ctx }

// Request forwards demand upstream.
func (b *stage[R]) Request(n int64) { b.upstream.Request(n) }

// Cancel forwards cancellation upstream.
func (b *stage[R]) Cancel() { b.upstream.Cancel() }

// setUpstream stores s. A second subscription is a protocol violation: it is
// cancelled and reported.
func (b *stage[R]) setUpstream(s Subscription) bool {
	if b.upstream != nil {
		s.Cancel()
		reportDoubleSubscribe()
		return false
	}
	b.upstream = s
	return true
}

// fail cancels upstream and terminates downstream with err.
func (b *stage[R]) fail(err error) {
	b.upstream.Cancel()
	b.error(err)
}

func (b *stage[R]) error(err error) {
	if b.done {
		onErrorDropped(err)
		return
	}
	b.done = true
	b.actual.OnError(err)
}

func (b *stage[R]) complete() {
	if b.done {
		return
	}
	b.done = true
	b.actual.OnComplete()
}
