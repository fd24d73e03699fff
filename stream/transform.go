package stream

import (
	"sync/atomic"
)

// Map transforms each value with fn. An error returned by fn, or a panic,
// cancels upstream and fails the stream with an ELEMENT_ERROR unless an
// OnErrorContinue downstream skips the value.
func Map[T, R any](s *Stream[T], fn func(T) (R, error)) *Stream[R] {
	return newStream("map", func(actual Subscriber[R]) {
		s.Subscribe(&mapSubscriber[T, R]{stage: newStage(actual), fn: fn})
	})
}

type mapSubscriber[T, R any] struct {
	stage[R]
	fn func(T) (R, error)
}

func (m *mapSubscriber[T, R]) OnSubscribe(s Subscription) {
	if m.setUpstream(s) {
		m.actual.OnSubscribe(m)
	}
}

func (m *mapSubscriber[T, R]) OnNext(v T) {
	if m.done {
		onNextDropped(v)
		return
	}
	r, err := apply(m.fn, v)
	if err != nil {
		m.elementFailed(err, v)
		return
	}
	m.actual.OnNext(r)
}

func (m *mapSubscriber[T, R]) OnError(err error) { m.error(err) }
func (m *mapSubscriber[T, R]) OnComplete()       { m.complete() }

// Handle maps each value to zero or one output: fn returns the output and
// whether to emit it. Skipped values are replaced by requesting one more.
func Handle[T, R any](s *Stream[T], fn func(T) (R, bool, error)) *Stream[R] {
	return newStream("handle", func(actual Subscriber[R]) {
		s.Subscribe(&handleSubscriber[T, R]{stage: newStage(actual), fn: fn})
	})
}

type handleResult[R any] struct {
	value R
	emit  bool
}

type handleSubscriber[T, R any] struct {
	stage[R]
	fn func(T) (R, bool, error)
}

func (h *handleSubscriber[T, R]) OnSubscribe(s Subscription) {
	if h.setUpstream(s) {
		h.actual.OnSubscribe(h)
	}
}

func (h *handleSubscriber[T, R]) OnNext(v T) {
	if h.done {
		onNextDropped(v)
		return
	}
	res, err := apply(func(v T) (handleResult[R], error) {
		r, ok, err := h.fn(v)
		return handleResult[R]{value: r, emit: ok}, err
	}, v)
	if err != nil {
		h.elementFailed(err, v)
		return
	}
	if !res.emit {
		h.upstream.Request(1)
		return
	}
	h.actual.OnNext(res.value)
}

func (h *handleSubscriber[T, R]) OnError(err error) { h.error(err) }
func (h *handleSubscriber[T, R]) OnComplete()       { h.complete() }

// Scan emits every intermediate result of folding the values with fn,
// starting from initial. When OnErrorContinue skips a failing value the
// accumulator keeps its previous state.
func Scan[T, A any](s *Stream[T], initial A, fn func(A, T) A) *Stream[A] {
	return newStream("scan", func(actual Subscriber[A]) {
		s.Subscribe(&scanSubscriber[T, A]{stage: newStage(actual), acc: initial, fn: fn})
	})
}

type scanSubscriber[T, A any] struct {
	stage[A]
	acc A
	fn  func(A, T) A
}

func (sc *scanSubscriber[T, A]) OnSubscribe(s Subscription) {
	if sc.setUpstream(s) {
		sc.actual.OnSubscribe(sc)
	}
}

func (sc *scanSubscriber[T, A]) OnNext(v T) {
	if sc.done {
		onNextDropped(v)
		return
	}
	acc, err := accumulate(sc.fn, sc.acc, v)
	if err != nil {
		sc.elementFailed(err, v)
		return
	}
	sc.acc = acc
	sc.actual.OnNext(acc)
}

func (sc *scanSubscriber[T, A]) OnError(err error) { sc.error(err) }
func (sc *scanSubscriber[T, A]) OnComplete()       { sc.complete() }

func accumulate[T, A any](fn func(A, T) A, acc A, v T) (A, error) {
	return apply(func(v T) (A, error) { return fn(acc, v), nil }, v)
}

// peekCallbacks are the side effects of the DoOn* operators. Nil fields are
// skipped.
type peekCallbacks[T any] struct {
	onSubscribe func(Subscription)
	onNext      func(T)
	onError     func(error)
	onComplete  func()
	onRequest   func(int64)
	onCancel    func()
}

func peek[T any](s *Stream[T], name string, cb peekCallbacks[T]) *Stream[T] {
	return newStream(name, func(actual Subscriber[T]) {
		s.Subscribe(&peekSubscriber[T]{stage: newStage(actual), cb: cb})
	})
}

type peekSubscriber[T any] struct {
	stage[T]
	cb peekCallbacks[T]
}

func (p *peekSubscriber[T]) OnSubscribe(s Subscription) {
	if !p.setUpstream(s) {
		return
	}
	if p.cb.onSubscribe != nil {
		if err := invoke(p.cb.onSubscribe, s); err != nil {
			s.Cancel()
			p.done = true
			errorNow(p.actual, err)
			return
		}
	}
	p.actual.OnSubscribe(p)
}

func (p *peekSubscriber[T]) OnNext(v T) {
	if p.done {
		onNextDropped(v)
		return
	}
	if p.cb.onNext != nil {
		if err := invoke(p.cb.onNext, v); err != nil {
			p.elementFailed(err, v)
			return
		}
	}
	p.actual.OnNext(v)
}

func (p *peekSubscriber[T]) OnError(err error) {
	if p.done {
		onErrorDropped(err)
		return
	}
	if p.cb.onError != nil {
		if perr := invoke(p.cb.onError, err); perr != nil {
			onErrorDropped(perr)
		}
	}
	p.error(err)
}

func (p *peekSubscriber[T]) OnComplete() {
	if p.done {
		return
	}
	if p.cb.onComplete != nil {
		if err := invokeFunc(p.cb.onComplete); err != nil {
			p.error(err)
			return
		}
	}
	p.complete()
}

func (p *peekSubscriber[T]) Request(n int64) {
	if p.cb.onRequest != nil {
		if err := invoke(p.cb.onRequest, n); err != nil {
			onErrorDropped(err)
		}
	}
	p.upstream.Request(n)
}

func (p *peekSubscriber[T]) Cancel() {
	if p.cb.onCancel != nil {
		if err := invokeFunc(p.cb.onCancel); err != nil {
			onErrorDropped(err)
		}
	}
	p.upstream.Cancel()
}

// DoOnNext calls fn for each value before passing it on. A panic in fn is an
// element error.
func DoOnNext[T any](s *Stream[T], fn func(T)) *Stream[T] {
	return peek(s, "doOnNext", peekCallbacks[T]{onNext: fn})
}

// DoOnSubscribe calls fn with the upstream subscription before the
// downstream sees it.
func DoOnSubscribe[T any](s *Stream[T], fn func(Subscription)) *Stream[T] {
	return peek(s, "doOnSubscribe", peekCallbacks[T]{onSubscribe: fn})
}

// DoOnRequest calls fn with every demand passing upstream.
func DoOnRequest[T any](s *Stream[T], fn func(int64)) *Stream[T] {
	return peek(s, "doOnRequest", peekCallbacks[T]{onRequest: fn})
}

// DoOnCancel calls fn when the downstream cancels.
func DoOnCancel[T any](s *Stream[T], fn func()) *Stream[T] {
	return peek(s, "doOnCancel", peekCallbacks[T]{onCancel: fn})
}

// DoOnComplete calls fn before completion is passed on. A panic in fn turns
// the completion into an error.
func DoOnComplete[T any](s *Stream[T], fn func()) *Stream[T] {
	return peek(s, "doOnComplete", peekCallbacks[T]{onComplete: fn})
}

// DoOnError calls fn with an error before passing it on. A panic in fn is
// reported to the dropped-error hook and the original error still propagates.
func DoOnError[T any](s *Stream[T], fn func(error)) *Stream[T] {
	return peek(s, "doOnError", peekCallbacks[T]{onError: fn})
}

// DoFinally calls fn exactly once after the stream completed, failed or was
// cancelled, with SignalComplete, SignalError or SignalCancel.
func DoFinally[T any](s *Stream[T], fn func(SignalKind)) *Stream[T] {
	return newStream("doFinally", func(actual Subscriber[T]) {
		s.Subscribe(&finallySubscriber[T]{stage: newStage(actual), fn: fn})
	})
}

type finallySubscriber[T any] struct {
	stage[T]
	fn   func(SignalKind)
	once atomic.Bool
}

func (f *finallySubscriber[T]) OnSubscribe(s Subscription) {
	if f.setUpstream(s) {
		f.actual.OnSubscribe(f)
	}
}

func (f *finallySubscriber[T]) OnNext(v T) { f.actual.OnNext(v) }

func (f *finallySubscriber[T]) OnError(err error) {
	f.error(err)
	f.run(SignalError)
}

func (f *finallySubscriber[T]) OnComplete() {
	f.complete()
	f.run(SignalComplete)
}

func (f *finallySubscriber[T]) Cancel() {
	f.upstream.Cancel()
	f.run(SignalCancel)
}

func (f *finallySubscriber[T]) run(kind SignalKind) {
	if !f.once.CompareAndSwap(false, true) {
		return
	}
	if err := invoke(f.fn, kind); err != nil {
		onErrorDropped(err)
	}
}
