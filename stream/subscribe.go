package stream

import (
	"sync"

	"github.com/kbukum/flowkit/errors"
)

// lambdaSubscriber backs SubscribeFunc.
type lambdaSubscriber[T any] struct {
	onNext     func(T)
	onError    func(error)
	onComplete func()

	mu       sync.Mutex
	upstream Subscription
	disposed bool
	done     bool
}

func (l *lambdaSubscriber[T]) OnSubscribe(s Subscription) {
	l.mu.Lock()
	if l.upstream != nil || l.disposed {
		l.mu.Unlock()
		s.Cancel()
		if !l.disposed {
			reportDoubleSubscribe()
		}
		return
	}
	l.upstream = s
	l.mu.Unlock()
	s.Request(Unbounded)
}

func (l *lambdaSubscriber[T]) OnNext(v T) {
	if l.done {
		onNextDropped(v)
		return
	}
	if l.onNext == nil {
		return
	}
	if err := invoke(l.onNext, v); err != nil {
		l.Dispose()
		l.OnError(err)
	}
}

func (l *lambdaSubscriber[T]) OnError(err error) {
	if l.done {
		onErrorDropped(err)
		return
	}
	l.done = true
	l.markDisposed()
	if l.onError == nil {
		onErrorDropped(err)
		return
	}
	if perr := invoke(l.onError, err); perr != nil {
		onErrorDropped(perr)
	}
}

func (l *lambdaSubscriber[T]) OnComplete() {
	if l.done {
		return
	}
	l.done = true
	l.markDisposed()
	if l.onComplete != nil {
		if err := invokeFunc(l.onComplete); err != nil {
			onErrorDropped(err)
		}
	}
}

func (l *lambdaSubscriber[T]) markDisposed() {
	l.mu.Lock()
	l.disposed = true
	l.mu.Unlock()
}

// Dispose cancels the subscription.
func (l *lambdaSubscriber[T]) Dispose() {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.disposed = true
	up := l.upstream
	l.mu.Unlock()
	if up != nil {
		up.Cancel()
	}
}

// IsDisposed reports whether the subscription was cancelled or terminated.
func (l *lambdaSubscriber[T]) IsDisposed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disposed
}

// --- user callback invocation ---

// apply calls fn, wrapping returned errors and panics as element errors.
func apply[T, R any](fn func(T) (R, error), v T) (r R, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Panic(rec, v)
		}
	}()
	r, err = fn(v)
	if err != nil {
		err = elementError(err, v)
	}
	return r, err
}

// test calls a predicate, converting a panic into an element error.
func test[T any](fn func(T) bool, v T) (ok bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Panic(rec, v)
		}
	}()
	return fn(v), nil
}

// invoke calls a side-effect callback, converting a panic into an element error.
func invoke[T any](fn func(T), v T) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Panic(rec, v)
		}
	}()
	fn(v)
	return nil
}

func invokeFunc(fn func()) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Panic(rec, nil)
		}
	}()
	fn()
	return nil
}

func elementError(err error, v any) error {
	if errors.IsKind(err, errors.KindElement) {
		return err
	}
	return errors.Element(err, v)
}
