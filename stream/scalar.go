package stream

import (
	"sync/atomic"

	"github.com/kbukum/flowkit/errors"
)

// scalarSubscription emits one known value on the first valid request.
type scalarSubscription[T any] struct {
	actual Subscriber[T]
	value  T
	once   atomic.Bool
}

func (s *scalarSubscription[T]) Request(n int64) {
	if !s.once.CompareAndSwap(false, true) {
		return
	}
	if n <= 0 {
		s.actual.OnError(errors.BadRequest(n))
		return
	}
	s.actual.OnNext(s.value)
	s.actual.OnComplete()
}

func (s *scalarSubscription[T]) Cancel() { s.once.Store(true) }

const (
	scalarNoRequestNoValue int32 = iota
	scalarHasRequestNoValue
	scalarNoRequestHasValue
	scalarDone
)

// deferredScalar emits a value computed later, once it has been requested.
// Operators reducing a stream to one value embed it.
type deferredScalar[T any] struct {
	actual   Subscriber[T]
	ctx      Context
	upstream Subscription
	value    T
	state    atomic.Int32
}

func newDeferredScalar[T any](actual Subscriber[T]) deferredScalar[T] {
	return deferredScalar[T]{actual: actual, ctx: contextOf(actual)}
}

func (d *deferredScalar[T]) Context() Context { return d.ctx }

// setUpstream stores the upstream subscription and reports whether it was the
// first one.
func (d *deferredScalar[T]) setUpstream(s Subscription) bool {
	if d.upstream != nil {
		s.Cancel()
		reportDoubleSubscribe()
		return false
	}
	d.upstream = s
	return true
}

// emit delivers v now if it was requested, otherwise stores it.
func (d *deferredScalar[T]) emit(v T) {
	for {
		switch d.state.Load() {
		case scalarHasRequestNoValue:
			if d.state.CompareAndSwap(scalarHasRequestNoValue, scalarDone) {
				d.actual.OnNext(v)
				d.actual.OnComplete()
				return
			}
		case scalarNoRequestNoValue:
			d.value = v
			if d.state.CompareAndSwap(scalarNoRequestNoValue, scalarNoRequestHasValue) {
				return
			}
		default:
			return
		}
	}
}

// completeEmpty completes without a value.
func (d *deferredScalar[T]) completeEmpty() {
	if d.terminate() {
		d.actual.OnComplete()
	}
}

// fail terminates with err unless a terminal signal was already sent.
func (d *deferredScalar[T]) fail(err error) {
	if d.terminate() {
		d.actual.OnError(err)
		return
	}
	onErrorDropped(err)
}

func (d *deferredScalar[T]) terminate() bool {
	for {
		s := d.state.Load()
		if s == scalarDone {
			return false
		}
		if d.state.CompareAndSwap(s, scalarDone) {
			return true
		}
	}
}

func (d *deferredScalar[T]) isDone() bool { return d.state.Load() == scalarDone }

func (d *deferredScalar[T]) Request(n int64) {
	if n <= 0 {
		if d.upstream != nil {
			d.upstream.Cancel()
		}
		d.fail(errors.BadRequest(n))
		return
	}
	for {
		switch d.state.Load() {
		case scalarNoRequestHasValue:
			if d.state.CompareAndSwap(scalarNoRequestHasValue, scalarDone) {
				d.actual.OnNext(d.value)
				d.actual.OnComplete()
				return
			}
		case scalarNoRequestNoValue:
			if d.state.CompareAndSwap(scalarNoRequestNoValue, scalarHasRequestNoValue) {
				return
			}
		default:
			return
		}
	}
}

func (d *deferredScalar[T]) Cancel() {
	d.state.Store(scalarDone)
	if d.upstream != nil {
		d.upstream.Cancel()
	}
}
