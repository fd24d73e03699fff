package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/scheduler"
)

// Buffer groups values into slices of size. The last slice may be shorter.
func Buffer[T any](s *Stream[T], size int) *Stream[[]T] {
	if size <= 0 {
		return rejected[[]T]("buffer", errors.IllegalArgument("buffer size must be positive, got %d", size))
	}
	return newStream("buffer", func(actual Subscriber[[]T]) {
		s.Subscribe(&bufferSubscriber[T]{stage: newStage(actual), size: size})
	})
}

type bufferSubscriber[T any] struct {
	stage[[]T]
	size int
	buf  []T
}

func (b *bufferSubscriber[T]) OnSubscribe(s Subscription) {
	if b.setUpstream(s) {
		b.actual.OnSubscribe(b)
	}
}

func (b *bufferSubscriber[T]) Request(n int64) {
	if n <= 0 {
		b.upstream.Request(n)
		return
	}
	b.upstream.Request(mulCap(n, int64(b.size)))
}

func (b *bufferSubscriber[T]) OnNext(v T) {
	if b.done {
		onNextDropped(v)
		return
	}
	if b.buf == nil {
		b.buf = make([]T, 0, b.size)
	}
	b.buf = append(b.buf, v)
	if len(b.buf) == b.size {
		out := b.buf
		b.buf = nil
		b.actual.OnNext(out)
	}
}

func (b *bufferSubscriber[T]) OnError(err error) {
	b.buf = nil
	b.error(err)
}

func (b *bufferSubscriber[T]) OnComplete() {
	if b.done {
		return
	}
	if len(b.buf) > 0 {
		out := b.buf
		b.buf = nil
		b.actual.OnNext(out)
	}
	b.complete()
}

// BufferTimeout groups values into slices closed when they reach maxSize or
// when timespan has passed since their first value, whichever comes first.
// A non-positive bound is disabled; disabling both is rejected. A slice that
// closes on time without outstanding demand fails the stream with OVERFLOW.
func BufferTimeout[T any](s *Stream[T], maxSize int, timespan time.Duration, sched scheduler.Scheduler) *Stream[[]T] {
	if maxSize <= 0 && timespan <= 0 {
		return rejected[[]T]("bufferTimeout", errors.IllegalArgument("buffer needs a maximum size or a timespan"))
	}
	if sched == nil {
		return rejected[[]T]("bufferTimeout", errNilScheduler)
	}
	return newStream("bufferTimeout", func(actual Subscriber[[]T]) {
		s.Subscribe(&bufferTimeoutSubscriber[T]{
			ser:      serializer[[]T]{actual: actual},
			ctx:      contextOf(actual),
			maxSize:  maxSize,
			timespan: timespan,
			sched:    sched,
		})
	})
}

type bufferTimeoutSubscriber[T any] struct {
	ser      serializer[[]T]
	ctx      Context
	upstream Subscription
	maxSize  int
	timespan time.Duration
	sched    scheduler.Scheduler

	mu    sync.Mutex
	buf   []T
	gen   uint64
	timer scheduler.Disposable
	done  bool

	requested atomic.Int64
	unbounded atomic.Bool
}

func (b *bufferTimeoutSubscriber[T]) Context() Context { return b.ctx }

func (b *bufferTimeoutSubscriber[T]) OnSubscribe(s Subscription) {
	if b.upstream != nil {
		s.Cancel()
		reportDoubleSubscribe()
		return
	}
	b.upstream = s
	b.ser.actual.OnSubscribe(b)
}

func (b *bufferTimeoutSubscriber[T]) Request(n int64) {
	if n <= 0 {
		b.fail(errors.BadRequest(n))
		return
	}
	requestAdd(&b.requested, n)
	if b.maxSize <= 0 {
		if b.unbounded.CompareAndSwap(false, true) {
			b.upstream.Request(Unbounded)
		}
		return
	}
	b.upstream.Request(mulCap(n, int64(b.maxSize)))
}

func (b *bufferTimeoutSubscriber[T]) Cancel() {
	b.mu.Lock()
	b.done = true
	b.buf = nil
	timer := b.takeTimer()
	b.mu.Unlock()
	if timer != nil {
		timer.Dispose()
	}
	b.upstream.Cancel()
}

// takeTimer clears the pending timer. The caller holds mu.
func (b *bufferTimeoutSubscriber[T]) takeTimer() scheduler.Disposable {
	t := b.timer
	b.timer = nil
	b.gen++
	return t
}

func (b *bufferTimeoutSubscriber[T]) OnNext(v T) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		onNextDropped(v)
		return
	}
	b.buf = append(b.buf, v)
	var out []T
	var timer scheduler.Disposable
	startTimer := false
	gen := b.gen
	switch {
	case b.maxSize > 0 && len(b.buf) >= b.maxSize:
		out, b.buf = b.buf, nil
		timer = b.takeTimer()
	case len(b.buf) == 1 && b.timespan > 0:
		startTimer = true
	}
	b.mu.Unlock()

	if timer != nil {
		timer.Dispose()
	}
	if out != nil {
		b.emit(out)
		return
	}
	if startTimer {
		b.startTimer(gen)
	}
}

func (b *bufferTimeoutSubscriber[T]) startTimer(gen uint64) {
	task, err := b.sched.ScheduleDelayed(func() { b.flush(gen) }, b.timespan)
	if err != nil {
		b.fail(err)
		return
	}
	b.mu.Lock()
	if b.gen != gen || b.done {
		b.mu.Unlock()
		task.Dispose()
		return
	}
	b.timer = task
	b.mu.Unlock()
}

func (b *bufferTimeoutSubscriber[T]) flush(gen uint64) {
	b.mu.Lock()
	if b.gen != gen || b.done || len(b.buf) == 0 {
		b.mu.Unlock()
		return
	}
	out := b.buf
	b.buf = nil
	b.timer = nil
	b.gen++
	b.mu.Unlock()
	b.emit(out)
}

// emit delivers one slice if there is demand for it.
func (b *bufferTimeoutSubscriber[T]) emit(out []T) bool {
	for {
		cur := b.requested.Load()
		if cur == 0 {
			b.fail(errors.Overflow("could not emit buffer due to lack of requests"))
			return false
		}
		if cur == Unbounded || b.requested.CompareAndSwap(cur, cur-1) {
			break
		}
	}
	b.ser.next(out)
	return true
}

func (b *bufferTimeoutSubscriber[T]) fail(err error) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		onErrorDropped(err)
		return
	}
	b.done = true
	b.buf = nil
	timer := b.takeTimer()
	b.mu.Unlock()
	if timer != nil {
		timer.Dispose()
	}
	b.upstream.Cancel()
	b.ser.error(err)
}

func (b *bufferTimeoutSubscriber[T]) OnError(err error) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		onErrorDropped(err)
		return
	}
	b.done = true
	b.buf = nil
	timer := b.takeTimer()
	b.mu.Unlock()
	if timer != nil {
		timer.Dispose()
	}
	b.ser.error(err)
}

func (b *bufferTimeoutSubscriber[T]) OnComplete() {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	out := b.buf
	b.buf = nil
	timer := b.takeTimer()
	b.mu.Unlock()
	if timer != nil {
		timer.Dispose()
	}
	if len(out) > 0 && !b.emit(out) {
		return
	}
	b.mu.Lock()
	b.done = true
	b.mu.Unlock()
	b.ser.complete()
}

// Window splits s into consecutive inner streams of size values. Each window
// is emitted when its first value arrives and can be subscribed to once.
func Window[T any](s *Stream[T], size int) *Stream[*Stream[T]] {
	if size <= 0 {
		return rejected[*Stream[T]]("window", errors.IllegalArgument("window size must be positive, got %d", size))
	}
	return newStream("window", func(actual Subscriber[*Stream[T]]) {
		s.Subscribe(&windowSubscriber[T]{stage: newStage(actual), size: size})
	})
}

type windowSubscriber[T any] struct {
	stage[*Stream[T]]
	size    int
	current *unicast[T]
	count   int
}

func (w *windowSubscriber[T]) OnSubscribe(s Subscription) {
	if w.setUpstream(s) {
		w.actual.OnSubscribe(w)
	}
}

func (w *windowSubscriber[T]) Request(n int64) {
	if n <= 0 {
		w.upstream.Request(n)
		return
	}
	w.upstream.Request(mulCap(n, int64(w.size)))
}

func (w *windowSubscriber[T]) OnNext(v T) {
	if w.done {
		onNextDropped(v)
		return
	}
	if w.current == nil {
		w.current = newUnicast[T](w.size)
		w.actual.OnNext(w.current.stream("window"))
	}
	w.current.offer(v)
	w.count++
	if w.count == w.size {
		w.current.finish()
		w.current = nil
		w.count = 0
	}
}

func (w *windowSubscriber[T]) OnError(err error) {
	if w.current != nil {
		w.current.fail(err)
		w.current = nil
	}
	w.error(err)
}

func (w *windowSubscriber[T]) OnComplete() {
	if w.current != nil {
		w.current.finish()
		w.current = nil
	}
	w.complete()
}

// unicast holds values for a single late subscriber.
type unicast[T any] struct {
	capacity int

	mu         sync.Mutex
	pending    []T
	done       bool
	err        error
	subscribed bool
	core       *bufferCore[T]
}

func newUnicast[T any](capacity int) *unicast[T] {
	return &unicast[T]{capacity: capacity}
}

func (u *unicast[T]) stream(name string) *Stream[T] {
	return newStream(name, func(actual Subscriber[T]) {
		u.mu.Lock()
		if u.subscribed {
			u.mu.Unlock()
			errorNow(actual, errors.Protocol("%s allows a single subscriber", name))
			return
		}
		u.subscribed = true
		u.mu.Unlock()

		core := newBufferCore(actual, BufferStrategy(u.capacity, OverflowError))
		actual.OnSubscribe(core)
		for {
			u.mu.Lock()
			batch := u.pending
			u.pending = nil
			if len(batch) == 0 {
				u.core = core
				done, err := u.done, u.err
				u.mu.Unlock()
				if done {
					core.terminateWith(err)
				}
				return
			}
			u.mu.Unlock()
			for _, v := range batch {
				core.offer(v)
			}
		}
	})
}

func (u *unicast[T]) offer(v T) {
	u.mu.Lock()
	if u.core == nil {
		u.pending = append(u.pending, v)
		u.mu.Unlock()
		return
	}
	core := u.core
	u.mu.Unlock()
	core.offer(v)
}

func (u *unicast[T]) finish() { u.terminate(nil) }

func (u *unicast[T]) fail(err error) { u.terminate(err) }

func (u *unicast[T]) terminate(err error) {
	u.mu.Lock()
	if u.done {
		u.mu.Unlock()
		return
	}
	u.done, u.err = true, err
	core := u.core
	u.mu.Unlock()
	if core != nil {
		core.terminateWith(err)
	}
}
