package stream

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/scheduler"
)

// timedStage is the base of operators that emit from scheduler tasks. It
// requests unbounded demand upstream and tracks downstream demand itself.
type timedStage[T any] struct {
	ser      serializer[T]
	ctx      Context
	upstream Subscription
	sched    scheduler.Scheduler

	mu      sync.Mutex
	pending T
	has     bool
	gen     uint64
	task    scheduler.Disposable
	done    bool

	requested atomic.Int64
}

func newTimedStage[T any](actual Subscriber[T], sched scheduler.Scheduler) timedStage[T] {
	return timedStage[T]{ser: serializer[T]{actual: actual}, ctx: contextOf(actual), sched: sched}
}

func (t *timedStage[T]) Context() Context { return t.ctx }

func (t *timedStage[T]) setUpstream(s Subscription) bool {
	if t.upstream != nil {
		s.Cancel()
		reportDoubleSubscribe()
		return false
	}
	t.upstream = s
	return true
}

func (t *timedStage[T]) Request(n int64) {
	if n <= 0 {
		t.fail(errors.BadRequest(n))
		return
	}
	requestAdd(&t.requested, n)
}

func (t *timedStage[T]) Cancel() {
	t.mu.Lock()
	t.done = true
	task := t.takePending()
	t.mu.Unlock()
	if task != nil {
		task.Dispose()
	}
	t.upstream.Cancel()
}

// takePending clears the pending value and task. The caller holds mu.
func (t *timedStage[T]) takePending() scheduler.Disposable {
	var zero T
	t.pending, t.has = zero, false
	task := t.task
	t.task = nil
	t.gen++
	return task
}

// emit delivers v if there is demand for it and fails with OVERFLOW otherwise.
func (t *timedStage[T]) emit(v T) bool {
	for {
		cur := t.requested.Load()
		if cur == 0 {
			t.fail(errors.Overflow("could not emit value due to lack of requests"))
			return false
		}
		if cur == Unbounded || t.requested.CompareAndSwap(cur, cur-1) {
			break
		}
	}
	t.ser.next(v)
	return true
}

func (t *timedStage[T]) fail(err error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		onErrorDropped(err)
		return
	}
	t.done = true
	task := t.takePending()
	t.mu.Unlock()
	if task != nil {
		task.Dispose()
	}
	t.upstream.Cancel()
	t.ser.error(err)
}

func (t *timedStage[T]) OnError(err error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		onErrorDropped(err)
		return
	}
	t.done = true
	task := t.takePending()
	t.mu.Unlock()
	if task != nil {
		task.Dispose()
	}
	t.ser.error(err)
}

// OnComplete emits the pending value, if any, then completes.
func (t *timedStage[T]) OnComplete() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	v, has := t.pending, t.has
	task := t.takePending()
	t.mu.Unlock()
	if task != nil {
		task.Dispose()
	}
	if has && !t.emit(v) {
		return
	}
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
	t.ser.complete()
}

// setTask records task unless gen moved on, in which case it is disposed.
func (t *timedStage[T]) setTask(task scheduler.Disposable, gen uint64) {
	t.mu.Lock()
	if t.gen != gen || t.done {
		t.mu.Unlock()
		task.Dispose()
		return
	}
	t.task = task
	t.mu.Unlock()
}

// Debounce emits a value only once d has passed without another value
// arriving. The pending value is emitted when s completes.
func Debounce[T any](s *Stream[T], d time.Duration, sched scheduler.Scheduler) *Stream[T] {
	if sched == nil {
		return rejected[T]("debounce", errNilScheduler)
	}
	return newStream("debounce", func(actual Subscriber[T]) {
		s.Subscribe(&debounceSubscriber[T]{timedStage: newTimedStage(actual, sched), d: d})
	})
}

type debounceSubscriber[T any] struct {
	timedStage[T]
	d time.Duration
}

func (db *debounceSubscriber[T]) OnSubscribe(s Subscription) {
	if db.setUpstream(s) {
		db.ser.actual.OnSubscribe(db)
		s.Request(Unbounded)
	}
}

func (db *debounceSubscriber[T]) OnNext(v T) {
	db.mu.Lock()
	if db.done {
		db.mu.Unlock()
		onNextDropped(v)
		return
	}
	old := db.task
	db.task = nil
	db.gen++
	gen := db.gen
	db.pending, db.has = v, true
	db.mu.Unlock()
	if old != nil {
		old.Dispose()
	}
	task, err := db.sched.ScheduleDelayed(func() { db.fire(gen) }, db.d)
	if err != nil {
		db.fail(err)
		return
	}
	db.setTask(task, gen)
}

func (db *debounceSubscriber[T]) fire(gen uint64) {
	db.mu.Lock()
	if db.gen != gen || db.done || !db.has {
		db.mu.Unlock()
		return
	}
	v := db.pending
	var zero T
	db.pending, db.has = zero, false
	db.task = nil
	db.mu.Unlock()
	db.emit(v)
}

// Sample emits the latest value of s at the end of every period in which a
// value arrived, and the last value when s completes.
func Sample[T any](s *Stream[T], period time.Duration, sched scheduler.Scheduler) *Stream[T] {
	if sched == nil {
		return rejected[T]("sample", errNilScheduler)
	}
	if period <= 0 {
		return rejected[T]("sample", errors.IllegalArgument("sample period must be positive, got %s", period))
	}
	return newStream("sample", func(actual Subscriber[T]) {
		s.Subscribe(&sampleSubscriber[T]{timedStage: newTimedStage(actual, sched), period: period})
	})
}

type sampleSubscriber[T any] struct {
	timedStage[T]
	period time.Duration
}

func (sm *sampleSubscriber[T]) OnSubscribe(s Subscription) {
	if !sm.setUpstream(s) {
		return
	}
	sm.ser.actual.OnSubscribe(sm)
	sm.mu.Lock()
	gen := sm.gen
	sm.mu.Unlock()
	task, err := sm.sched.SchedulePeriodic(sm.tick, sm.period, sm.period)
	if err != nil {
		sm.fail(err)
		return
	}
	sm.setTask(task, gen)
	s.Request(Unbounded)
}

func (sm *sampleSubscriber[T]) OnNext(v T) {
	sm.mu.Lock()
	if sm.done {
		sm.mu.Unlock()
		onNextDropped(v)
		return
	}
	sm.pending, sm.has = v, true
	sm.mu.Unlock()
}

func (sm *sampleSubscriber[T]) tick() {
	sm.mu.Lock()
	if sm.done || !sm.has {
		sm.mu.Unlock()
		return
	}
	v := sm.pending
	var zero T
	sm.pending, sm.has = zero, false
	sm.mu.Unlock()
	sm.emit(v)
}

// Timeout fails with a TIMEOUT error when no value or terminal signal arrives
// within d of the subscription or of the previous value.
func Timeout[T any](s *Stream[T], d time.Duration, sched scheduler.Scheduler) *Stream[T] {
	return timeout("timeout", s, d, nil, sched)
}

// TimeoutWith switches to fallback instead of failing on timeout.
func TimeoutWith[T any](s *Stream[T], d time.Duration, fallback *Stream[T], sched scheduler.Scheduler) *Stream[T] {
	if fallback == nil {
		return rejected[T]("timeoutWith", errors.IllegalArgument("timeout fallback must not be nil"))
	}
	return timeout("timeoutWith", s, d, fallback, sched)
}

func timeout[T any](name string, s *Stream[T], d time.Duration, fallback *Stream[T], sched scheduler.Scheduler) *Stream[T] {
	if sched == nil {
		return rejected[T](name, errNilScheduler)
	}
	return newStream(name, func(actual Subscriber[T]) {
		t := &timeoutSubscriber[T]{
			arbiterStage: newArbiterStage(actual),
			name:         name,
			d:            d,
			fallback:     fallback,
			sched:        sched,
		}
		actual.OnSubscribe(t)
		t.arm(0)
		s.Subscribe(t)
	})
}

const timedOut = math.MaxInt64

// timeoutSubscriber races upstream signals against a timer. index counts
// the values passed on; the timer armed after value i fires only if index is
// still i, and whichever side moves index to timedOut owns the terminal
// signal.
type timeoutSubscriber[T any] struct {
	arbiterStage[T]
	name     string
	d        time.Duration
	fallback *Stream[T]
	sched    scheduler.Scheduler
	main     atomic.Pointer[subscriptionRef]
	index    atomic.Int64

	mu    sync.Mutex
	timer scheduler.Disposable
}

type subscriptionRef struct{ s Subscription }

func (t *timeoutSubscriber[T]) OnSubscribe(s Subscription) {
	if !t.main.CompareAndSwap(nil, &subscriptionRef{s: s}) {
		s.Cancel()
		reportDoubleSubscribe()
		return
	}
	t.setSubscription(s)
}

func (t *timeoutSubscriber[T]) OnNext(v T) {
	idx := t.index.Load()
	if idx == timedOut || !t.index.CompareAndSwap(idx, idx+1) {
		onNextDropped(v)
		return
	}
	t.disarm()
	t.next(v)
	t.arm(idx + 1)
}

func (t *timeoutSubscriber[T]) OnError(err error) {
	if t.index.Swap(timedOut) == timedOut {
		onErrorDropped(err)
		return
	}
	t.disarm()
	t.actual.OnError(err)
}

func (t *timeoutSubscriber[T]) OnComplete() {
	if t.index.Swap(timedOut) == timedOut {
		return
	}
	t.disarm()
	t.actual.OnComplete()
}

func (t *timeoutSubscriber[T]) Cancel() {
	t.index.Store(timedOut)
	t.disarm()
	t.cancel()
}

func (t *timeoutSubscriber[T]) arm(idx int64) {
	task, err := t.sched.ScheduleDelayed(func() { t.fire(idx) }, t.d)
	if err != nil {
		if t.index.CompareAndSwap(idx, timedOut) {
			t.cancelMain()
			t.actual.OnError(err)
		}
		return
	}
	t.mu.Lock()
	if t.index.Load() != idx {
		t.mu.Unlock()
		task.Dispose()
		return
	}
	t.timer = task
	t.mu.Unlock()
}

func (t *timeoutSubscriber[T]) disarm() {
	t.mu.Lock()
	task := t.timer
	t.timer = nil
	t.mu.Unlock()
	if task != nil {
		task.Dispose()
	}
}

func (t *timeoutSubscriber[T]) cancelMain() {
	if ref := t.main.Load(); ref != nil {
		ref.s.Cancel()
	}
}

func (t *timeoutSubscriber[T]) fire(idx int64) {
	if !t.index.CompareAndSwap(idx, timedOut) {
		return
	}
	t.cancelMain()
	if t.fallback == nil {
		t.actual.OnError(errors.Timeout(t.name, t.d))
		return
	}
	t.settle()
	t.fallback.Subscribe(&timeoutFallback[T]{parent: t})
}

// timeoutFallback relays the fallback stream through the parent's arbiter.
type timeoutFallback[T any] struct {
	parent *timeoutSubscriber[T]
}

func (f *timeoutFallback[T]) Context() Context          { return f.parent.ctx }
func (f *timeoutFallback[T]) OnSubscribe(s Subscription) { f.parent.setSubscription(s) }
func (f *timeoutFallback[T]) OnNext(v T)                 { f.parent.actual.OnNext(v) }
func (f *timeoutFallback[T]) OnError(err error)          { f.parent.actual.OnError(err) }
func (f *timeoutFallback[T]) OnComplete()                { f.parent.actual.OnComplete() }

// DelayElements delays each value by d, keeping them in order.
func DelayElements[T any](s *Stream[T], d time.Duration, sched scheduler.Scheduler) *Stream[T] {
	if sched == nil {
		return rejected[T]("delayElements", errNilScheduler)
	}
	return named(ConcatMap(s, func(v T) *Stream[T] {
		return Map(Timer(d, sched).Stream(), func(int64) (T, error) { return v, nil })
	}), "delayElements")
}
