package stream

import (
	"sync"
	"time"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/scheduler"
)

// Single is a stream of at most one value.
type Single[T any] struct {
	s *Stream[T]
}

func asSingle[T any](s *Stream[T]) *Single[T] { return &Single[T]{s: s} }

func newSingle[T any](name string, fn func(Subscriber[T])) *Single[T] {
	return asSingle(newStream(name, fn))
}

// Stream returns m as a Stream.
func (m *Single[T]) Stream() *Stream[T] { return m.s }

// Name returns the name of the operator or source that built m.
func (m *Single[T]) Name() string { return m.s.name }

// Subscribe attaches sub.
func (m *Single[T]) Subscribe(sub Subscriber[T]) { m.s.Subscribe(sub) }

// SubscribeFunc is Stream.SubscribeFunc for a Single.
func (m *Single[T]) SubscribeFunc(onNext func(T), onError func(error), onComplete func()) Disposable {
	return m.s.SubscribeFunc(onNext, onError, onComplete)
}

// SingleJust emits v.
func SingleJust[T any](v T) *Single[T] {
	return newSingle("singleJust", func(actual Subscriber[T]) {
		actual.OnSubscribe(&scalarSubscription[T]{actual: actual, value: v})
	})
}

// SingleEmpty completes without a value.
func SingleEmpty[T any]() *Single[T] {
	return newSingle("singleEmpty", func(actual Subscriber[T]) { completeNow(actual) })
}

// SingleError fails with err.
func SingleError[T any](err error) *Single[T] {
	return newSingle("singleError", func(actual Subscriber[T]) { errorNow(actual, err) })
}

// SingleFromSupplier calls fn on the first request and emits its result. A
// returned error or a panic fails the subscription with a SOURCE_ERROR.
func SingleFromSupplier[T any](fn func() (T, error)) *Single[T] {
	return newSingle("singleFromSupplier", func(actual Subscriber[T]) {
		actual.OnSubscribe(&supplierSubscription[T]{actual: actual, fn: fn})
	})
}

type supplierSubscription[T any] struct {
	actual Subscriber[T]
	fn     func() (T, error)
	mu     sync.Mutex
	done   bool
}

func (s *supplierSubscription[T]) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	return true
}

func (s *supplierSubscription[T]) Request(n int64) {
	if !s.claim() {
		return
	}
	if n <= 0 {
		s.actual.OnError(errors.BadRequest(n))
		return
	}
	v, err := callSupplier(s.fn)
	if err != nil {
		s.actual.OnError(err)
		return
	}
	s.actual.OnNext(v)
	s.actual.OnComplete()
}

func (s *supplierSubscription[T]) Cancel() { s.claim() }

func callSupplier[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Source(errors.Panic(r, nil))
		}
	}()
	v, err = fn()
	if err != nil && errors.KindOf(err) == errors.KindUnknown {
		err = errors.Source(err)
	}
	return v, err
}

// SingleDefer calls fn for each subscription and subscribes to the result.
func SingleDefer[T any](fn func() *Single[T]) *Single[T] {
	return asSingle(Defer(func() *Stream[T] {
		m := fn()
		if m == nil {
			return nil
		}
		return m.s
	}))
}

// Timer emits 0 on sched after d.
func Timer(d time.Duration, sched scheduler.Scheduler) *Single[int64] {
	if sched == nil {
		return asSingle(rejected[int64]("timer", errNilScheduler))
	}
	return newSingle("timer", func(actual Subscriber[int64]) {
		ts := &timerSubscription{deferredScalar: newDeferredScalar(actual)}
		actual.OnSubscribe(ts)
		task, err := sched.ScheduleDelayed(func() { ts.emit(0) }, d)
		if err != nil {
			ts.fail(err)
			return
		}
		ts.setTask(task)
	})
}

type timerSubscription struct {
	deferredScalar[int64]

	mu        sync.Mutex
	task      scheduler.Disposable
	cancelled bool
}

func (t *timerSubscription) setTask(d scheduler.Disposable) {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		d.Dispose()
		return
	}
	t.task = d
	t.mu.Unlock()
}

func (t *timerSubscription) Cancel() {
	t.deferredScalar.Cancel()
	t.mu.Lock()
	t.cancelled = true
	task := t.task
	t.task = nil
	t.mu.Unlock()
	if task != nil {
		task.Dispose()
	}
}

// SingleMap transforms the value of m.
func SingleMap[T, R any](m *Single[T], fn func(T) (R, error)) *Single[R] {
	return asSingle(Map(m.s, fn))
}

// SingleFlatMap subscribes to the Single returned by fn for the value of m.
func SingleFlatMap[T, R any](m *Single[T], fn func(T) *Single[R]) *Single[R] {
	return asSingle(ConcatMap(m.s, func(v T) *Stream[R] {
		inner := fn(v)
		if inner == nil {
			return nil
		}
		return inner.s
	}))
}
