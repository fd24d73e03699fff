package stream

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/scheduler"
)

// Just emits values and completes. The values are captured when the stream
// is built.
func Just[T any](values ...T) *Stream[T] {
	items := append([]T(nil), values...)
	return newStream("just", func(actual Subscriber[T]) {
		subscribeCursor(actual, &sliceCursor[T]{items: items})
	})
}

// FromSlice emits the items of a copy of items taken at construction.
func FromSlice[T any](items []T) *Stream[T] {
	captured := append([]T(nil), items...)
	return newStream("fromSlice", func(actual Subscriber[T]) {
		subscribeCursor(actual, &sliceCursor[T]{items: captured})
	})
}

// Range emits count consecutive integers starting at start.
func Range(start, count int) *Stream[int] {
	if count < 0 {
		return rejected[int]("range", errors.IllegalArgument("range count must not be negative, got %d", count))
	}
	return newStream("range", func(actual Subscriber[int]) {
		subscribeCursor(actual, &rangeCursor{cur: start, end: start + count})
	})
}

// FromSeq emits the values of seq, pulling one value per unit of demand. Each
// subscription iterates seq again.
func FromSeq[T any](seq iter.Seq[T]) *Stream[T] {
	return newStream("fromSeq", func(actual Subscriber[T]) {
		next, stop := iter.Pull(seq)
		subscribeCursor(actual, &lookahead[T]{
			pull: func() (T, bool, error) {
				v, ok := next()
				return v, ok, nil
			},
			release: stop,
		})
	})
}

// FromIterator emits the values of the Iterator returned by open for each
// subscription. Iterator errors terminate the stream and the iterator is closed
// on termination or cancellation.
func FromIterator[T any](open func() Iterator[T]) *Stream[T] {
	return newStream("fromIterator", func(actual Subscriber[T]) {
		it, err := openIterator(open)
		if err != nil {
			errorNow(actual, err)
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		subscribeCursor(actual, &lookahead[T]{
			pull: func() (T, bool, error) { return it.Next(ctx) },
			release: func() {
				cancel()
				if err := it.Close(); err != nil {
					onErrorDropped(err)
				}
			},
		})
	})
}

func openIterator[T any](open func() Iterator[T]) (it Iterator[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Panic(r, nil)
		}
	}()
	it = open()
	if it == nil {
		return nil, errors.IllegalArgument("iterator supplier returned nil")
	}
	return it, nil
}

// Empty completes immediately.
func Empty[T any]() *Stream[T] {
	return newStream("empty", func(actual Subscriber[T]) { completeNow(actual) })
}

// Error fails immediately with err.
func Error[T any](err error) *Stream[T] {
	return newStream("error", func(actual Subscriber[T]) { errorNow(actual, err) })
}

// Never emits nothing and never terminates.
func Never[T any]() *Stream[T] {
	return newStream("never", func(actual Subscriber[T]) {
		actual.OnSubscribe(noopSubscription{})
	})
}

// Defer calls fn for each subscription and subscribes to the returned stream.
func Defer[T any](fn func() *Stream[T]) *Stream[T] {
	return newStream("defer", func(actual Subscriber[T]) {
		src, err := supply(fn)
		if err != nil {
			errorNow(actual, err)
			return
		}
		src.Subscribe(actual)
	})
}

// Interval emits 0, 1, 2, ... on sched, the first after period and then every
// period. A tick without demand fails the stream with an OVERFLOW error.
func Interval(period time.Duration, sched scheduler.Scheduler) *Stream[int64] {
	return IntervalDelay(period, period, sched)
}

// IntervalDelay is Interval with a separate initial delay.
func IntervalDelay(initial, period time.Duration, sched scheduler.Scheduler) *Stream[int64] {
	if sched == nil {
		return rejected[int64]("interval", errNilScheduler)
	}
	if period <= 0 {
		return rejected[int64]("interval", errors.IllegalArgument("interval period must be positive, got %s", period))
	}
	return newStream("interval", func(actual Subscriber[int64]) {
		is := &intervalSubscription{ser: serializer[int64]{actual: actual}}
		actual.OnSubscribe(is)
		task, err := sched.SchedulePeriodic(is.tick, initial, period)
		if err != nil {
			is.ser.error(err)
			return
		}
		is.setTask(task)
	})
}

var errNilScheduler = errors.IllegalArgument("scheduler must not be nil")

type intervalSubscription struct {
	ser       serializer[int64]
	requested atomic.Int64
	cancelled atomic.Bool
	count     int64

	mu   sync.Mutex
	task scheduler.Disposable
}

func (s *intervalSubscription) setTask(d scheduler.Disposable) {
	s.mu.Lock()
	if s.cancelled.Load() {
		s.mu.Unlock()
		d.Dispose()
		return
	}
	s.task = d
	s.mu.Unlock()
}

func (s *intervalSubscription) tick() {
	if s.cancelled.Load() {
		return
	}
	if s.requested.Load() == 0 {
		s.Cancel()
		s.ser.error(errors.Overflow("could not emit tick %d due to lack of requests", s.count))
		return
	}
	v := s.count
	s.count++
	produced(&s.requested, 1)
	s.ser.next(v)
}

func (s *intervalSubscription) Request(n int64) {
	if n <= 0 {
		s.Cancel()
		s.ser.error(errors.BadRequest(n))
		return
	}
	requestAdd(&s.requested, n)
}

func (s *intervalSubscription) Cancel() {
	if !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	task := s.task
	s.task = nil
	s.mu.Unlock()
	if task != nil {
		task.Dispose()
	}
}
