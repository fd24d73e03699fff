package stream

import (
	"sync/atomic"

	"github.com/kbukum/flowkit/errors"
)

// Filter passes the values for which pred returns true. Each dropped value is
// replaced by requesting one more from upstream.
func Filter[T any](s *Stream[T], pred func(T) bool) *Stream[T] {
	return newStream("filter", func(actual Subscriber[T]) {
		s.Subscribe(&filterSubscriber[T]{stage: newStage(actual), pred: pred})
	})
}

type filterSubscriber[T any] struct {
	stage[T]
	pred func(T) bool
}

func (f *filterSubscriber[T]) OnSubscribe(s Subscription) {
	if f.setUpstream(s) {
		f.actual.OnSubscribe(f)
	}
}

func (f *filterSubscriber[T]) OnNext(v T) {
	if f.done {
		onNextDropped(v)
		return
	}
	ok, err := test(f.pred, v)
	if err != nil {
		f.elementFailed(err, v)
		return
	}
	if !ok {
		f.upstream.Request(1)
		return
	}
	f.actual.OnNext(v)
}

func (f *filterSubscriber[T]) OnError(err error) { f.error(err) }
func (f *filterSubscriber[T]) OnComplete()       { f.complete() }

// Take emits the first n values, then cancels upstream and completes. Demand
// passed upstream never exceeds n.
func Take[T any](s *Stream[T], n int64) *Stream[T] {
	if n < 0 {
		return rejected[T]("take", errors.IllegalArgument("take count must not be negative, got %d", n))
	}
	return newStream("take", func(actual Subscriber[T]) {
		s.Subscribe(&takeSubscriber[T]{stage: newStage(actual), limit: n, remaining: n})
	})
}

type takeSubscriber[T any] struct {
	stage[T]
	limit     int64
	remaining int64
	requested atomic.Int64
}

func (t *takeSubscriber[T]) OnSubscribe(s Subscription) {
	if !t.setUpstream(s) {
		return
	}
	if t.limit == 0 {
		s.Cancel()
		t.done = true
		completeNow(t.actual)
		return
	}
	t.actual.OnSubscribe(t)
}

func (t *takeSubscriber[T]) Request(n int64) {
	if n <= 0 {
		t.upstream.Request(n)
		return
	}
	for {
		cur := t.requested.Load()
		if cur >= t.limit {
			return
		}
		next := min(addCap(cur, n), t.limit)
		if t.requested.CompareAndSwap(cur, next) {
			t.upstream.Request(next - cur)
			return
		}
	}
}

func (t *takeSubscriber[T]) OnNext(v T) {
	if t.done {
		onNextDropped(v)
		return
	}
	t.remaining--
	t.actual.OnNext(v)
	if t.remaining == 0 && !t.done {
		t.upstream.Cancel()
		t.complete()
	}
}

func (t *takeSubscriber[T]) OnError(err error) { t.error(err) }
func (t *takeSubscriber[T]) OnComplete()       { t.complete() }

// TakeWhile emits values while pred holds and completes at the first value
// for which it does not.
func TakeWhile[T any](s *Stream[T], pred func(T) bool) *Stream[T] {
	return newStream("takeWhile", func(actual Subscriber[T]) {
		s.Subscribe(&takeWhileSubscriber[T]{stage: newStage(actual), pred: pred})
	})
}

type takeWhileSubscriber[T any] struct {
	stage[T]
	pred func(T) bool
}

func (t *takeWhileSubscriber[T]) OnSubscribe(s Subscription) {
	if t.setUpstream(s) {
		t.actual.OnSubscribe(t)
	}
}

func (t *takeWhileSubscriber[T]) OnNext(v T) {
	if t.done {
		onNextDropped(v)
		return
	}
	ok, err := test(t.pred, v)
	if err != nil {
		t.fail(err)
		return
	}
	if !ok {
		t.upstream.Cancel()
		t.complete()
		return
	}
	t.actual.OnNext(v)
}

func (t *takeWhileSubscriber[T]) OnError(err error) { t.error(err) }
func (t *takeWhileSubscriber[T]) OnComplete()       { t.complete() }

// Skip drops the first n values.
func Skip[T any](s *Stream[T], n int64) *Stream[T] {
	if n < 0 {
		return rejected[T]("skip", errors.IllegalArgument("skip count must not be negative, got %d", n))
	}
	if n == 0 {
		return s
	}
	return newStream("skip", func(actual Subscriber[T]) {
		remaining := n
		s.Subscribe(&skipSubscriber[T]{stage: newStage(actual), skip: func(T) (bool, error) {
			if remaining > 0 {
				remaining--
				return true, nil
			}
			return false, nil
		}})
	})
}

// SkipWhile drops values while pred holds, then passes everything.
func SkipWhile[T any](s *Stream[T], pred func(T) bool) *Stream[T] {
	return newStream("skipWhile", func(actual Subscriber[T]) {
		skipping := true
		s.Subscribe(&skipSubscriber[T]{stage: newStage(actual), skip: func(v T) (bool, error) {
			if !skipping {
				return false, nil
			}
			ok, err := test(pred, v)
			if err != nil {
				return false, err
			}
			skipping = ok
			return ok, nil
		}})
	})
}

type skipSubscriber[T any] struct {
	stage[T]
	skip func(T) (bool, error)
}

func (k *skipSubscriber[T]) OnSubscribe(s Subscription) {
	if k.setUpstream(s) {
		k.actual.OnSubscribe(k)
	}
}

func (k *skipSubscriber[T]) OnNext(v T) {
	if k.done {
		onNextDropped(v)
		return
	}
	skip, err := k.skip(v)
	if err != nil {
		k.fail(err)
		return
	}
	if skip {
		k.upstream.Request(1)
		return
	}
	k.actual.OnNext(v)
}

func (k *skipSubscriber[T]) OnError(err error) { k.error(err) }
func (k *skipSubscriber[T]) OnComplete()       { k.complete() }

// DefaultIfEmpty emits value when s completes without emitting anything.
func DefaultIfEmpty[T any](s *Stream[T], value T) *Stream[T] {
	return newStream("defaultIfEmpty", func(actual Subscriber[T]) {
		s.Subscribe(&defaultSubscriber[T]{deferredScalar: newDeferredScalar(actual), fallback: value})
	})
}

type defaultSubscriber[T any] struct {
	deferredScalar[T]
	fallback T
	seen     bool
}

func (d *defaultSubscriber[T]) OnSubscribe(s Subscription) {
	if d.setUpstream(s) {
		d.actual.OnSubscribe(d)
	}
}

func (d *defaultSubscriber[T]) OnNext(v T) {
	d.seen = true
	d.actual.OnNext(v)
}

func (d *defaultSubscriber[T]) OnError(err error) { d.fail(err) }

func (d *defaultSubscriber[T]) OnComplete() {
	if d.seen {
		d.completeEmpty()
		return
	}
	d.emit(d.fallback)
}

func (d *defaultSubscriber[T]) Request(n int64) {
	d.deferredScalar.Request(n)
	if n > 0 {
		d.upstream.Request(n)
	}
}
