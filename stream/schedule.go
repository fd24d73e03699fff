package stream

import (
	"sync"
	"sync/atomic"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/scheduler"
)

// SubscribeOn subscribes to s from a task on sched, so that a synchronous
// source produces on that scheduler.
func SubscribeOn[T any](s *Stream[T], sched scheduler.Scheduler) *Stream[T] {
	if sched == nil {
		return rejected[T]("subscribeOn", errNilScheduler)
	}
	return newStream("subscribeOn", func(actual Subscriber[T]) {
		so := &subscribeOnSubscriber[T]{arbiterStage: newArbiterStage(actual)}
		actual.OnSubscribe(so)
		task, err := sched.Schedule(func() {
			if !so.isCancelled() {
				s.Subscribe(so)
			}
		})
		if err != nil {
			so.cancel()
			so.actual.OnError(err)
			return
		}
		so.setTask(task)
	})
}

type subscribeOnSubscriber[T any] struct {
	arbiterStage[T]

	mu   sync.Mutex
	task scheduler.Disposable
}

func (so *subscribeOnSubscriber[T]) setTask(task scheduler.Disposable) {
	so.mu.Lock()
	if so.isCancelled() {
		so.mu.Unlock()
		task.Dispose()
		return
	}
	so.task = task
	so.mu.Unlock()
}

func (so *subscribeOnSubscriber[T]) OnSubscribe(s Subscription) { so.setSubscription(s) }
func (so *subscribeOnSubscriber[T]) OnNext(v T)                 { so.actual.OnNext(v) }
func (so *subscribeOnSubscriber[T]) OnError(err error)          { so.actual.OnError(err) }
func (so *subscribeOnSubscriber[T]) OnComplete()                { so.actual.OnComplete() }

func (so *subscribeOnSubscriber[T]) Cancel() {
	so.cancel()
	so.mu.Lock()
	task := so.task
	so.task = nil
	so.mu.Unlock()
	if task != nil {
		task.Dispose()
	}
}

// PublishOn delivers the signals of s from tasks on sched. Up to prefetch
// values are requested ahead and queued; an error is delivered after the
// queued values.
func PublishOn[T any](s *Stream[T], sched scheduler.Scheduler, prefetch int) *Stream[T] {
	if sched == nil {
		return rejected[T]("publishOn", errNilScheduler)
	}
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	return newStream("publishOn", func(actual Subscriber[T]) {
		s.Subscribe(&publishOnSubscriber[T]{
			actual:   actual,
			ctx:      contextOf(actual),
			sched:    sched,
			prefetch: prefetch,
			limit:    prefetch - prefetch/4,
		})
	})
}

type publishOnSubscriber[T any] struct {
	actual   Subscriber[T]
	ctx      Context
	sched    scheduler.Scheduler
	prefetch int
	limit    int
	upstream Subscription

	mu    sync.Mutex
	queue []T
	done  bool
	err   error

	requested  atomic.Int64
	cancelled  atomic.Bool
	bad        atomic.Pointer[errors.Error]
	terminated bool
	consumed   int
	wip        wip
}

func (p *publishOnSubscriber[T]) Context() Context { return p.ctx }

func (p *publishOnSubscriber[T]) OnSubscribe(s Subscription) {
	if p.upstream != nil {
		s.Cancel()
		reportDoubleSubscribe()
		return
	}
	p.upstream = s
	p.actual.OnSubscribe(p)
	s.Request(int64(p.prefetch))
}

func (p *publishOnSubscriber[T]) OnNext(v T) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		onNextDropped(v)
		return
	}
	p.queue = append(p.queue, v)
	p.mu.Unlock()
	p.trySchedule()
}

func (p *publishOnSubscriber[T]) OnError(err error) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		onErrorDropped(err)
		return
	}
	p.done, p.err = true, err
	p.mu.Unlock()
	p.trySchedule()
}

func (p *publishOnSubscriber[T]) OnComplete() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	p.mu.Unlock()
	p.trySchedule()
}

func (p *publishOnSubscriber[T]) Request(n int64) {
	if n <= 0 {
		p.bad.CompareAndSwap(nil, errors.BadRequest(n))
	} else {
		requestAdd(&p.requested, n)
	}
	p.trySchedule()
}

func (p *publishOnSubscriber[T]) Cancel() {
	if !p.cancelled.CompareAndSwap(false, true) {
		return
	}
	p.upstream.Cancel()
	if p.wip.enter() {
		p.clear()
	}
}

func (p *publishOnSubscriber[T]) clear() {
	p.mu.Lock()
	p.queue = nil
	p.mu.Unlock()
}

func (p *publishOnSubscriber[T]) trySchedule() {
	if !p.wip.enter() {
		return
	}
	if _, err := p.sched.Schedule(p.run); err != nil {
		p.upstream.Cancel()
		p.clear()
		p.terminate(err)
	}
}

func (p *publishOnSubscriber[T]) poll() (v T, ok, done bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return v, false, p.done, p.err
	}
	var zero T
	v = p.queue[0]
	p.queue[0] = zero
	p.queue = p.queue[1:]
	return v, true, p.done, p.err
}

func (p *publishOnSubscriber[T]) run() {
	missed := int32(1)
	for {
		if p.terminated {
			return
		}
		if p.cancelled.Load() {
			p.clear()
			return
		}
		if bad := p.bad.Load(); bad != nil {
			p.upstream.Cancel()
			p.clear()
			p.terminate(bad)
			return
		}
		r := p.requested.Load()
		var e int64
		for e != r {
			if p.cancelled.Load() {
				p.clear()
				return
			}
			v, ok, done, err := p.poll()
			if !ok {
				if done {
					p.terminate(err)
					return
				}
				break
			}
			p.actual.OnNext(v)
			e++
			p.consumed++
			if p.consumed == p.limit {
				p.consumed = 0
				p.upstream.Request(int64(p.limit))
			}
		}
		if e == r {
			p.mu.Lock()
			finished := p.done && len(p.queue) == 0
			err := p.err
			p.mu.Unlock()
			if finished {
				p.terminate(err)
				return
			}
		}
		if e != 0 {
			produced(&p.requested, e)
		}
		if missed = p.wip.leave(missed); missed == 0 {
			return
		}
	}
}

func (p *publishOnSubscriber[T]) terminate(err error) {
	p.terminated = true
	p.cancelled.Store(true)
	if err != nil {
		p.actual.OnError(err)
		return
	}
	p.actual.OnComplete()
}

// Materialize turns every signal of s into a value. The terminal signal is
// emitted as a value, followed by completion.
func Materialize[T any](s *Stream[T]) *Stream[Signal[T]] {
	return newStream("materialize", func(actual Subscriber[Signal[T]]) {
		s.Subscribe(&materializeSubscriber[T]{stage: newStage(actual)})
	})
}

const (
	materializeRunning int32 = iota
	materializePending
	materializeDone
)

type materializeSubscriber[T any] struct {
	stage[Signal[T]]
	requested atomic.Int64
	terminal  Signal[T]
	state     atomic.Int32
}

func (m *materializeSubscriber[T]) OnSubscribe(s Subscription) {
	if m.setUpstream(s) {
		m.actual.OnSubscribe(m)
	}
}

func (m *materializeSubscriber[T]) OnNext(v T) {
	produced(&m.requested, 1)
	m.actual.OnNext(NextSignal(v))
}

func (m *materializeSubscriber[T]) OnError(err error) { m.finish(ErrorSignal[T](err)) }
func (m *materializeSubscriber[T]) OnComplete()       { m.finish(CompleteSignal[T]()) }

func (m *materializeSubscriber[T]) finish(sig Signal[T]) {
	if m.state.Load() != materializeRunning {
		return
	}
	m.terminal = sig
	if m.requested.Load() > 0 && m.state.CompareAndSwap(materializeRunning, materializeDone) {
		m.deliverTerminal()
		return
	}
	if !m.state.CompareAndSwap(materializeRunning, materializePending) {
		return
	}
	if m.requested.Load() > 0 && m.state.CompareAndSwap(materializePending, materializeDone) {
		m.deliverTerminal()
	}
}

func (m *materializeSubscriber[T]) deliverTerminal() {
	m.actual.OnNext(m.terminal)
	m.actual.OnComplete()
}

func (m *materializeSubscriber[T]) Request(n int64) {
	if n <= 0 {
		m.upstream.Request(n)
		return
	}
	requestAdd(&m.requested, n)
	if m.state.Load() == materializePending {
		if m.state.CompareAndSwap(materializePending, materializeDone) {
			m.deliverTerminal()
		}
		return
	}
	m.upstream.Request(n)
}

// Dematerialize turns Signal values back into signals. Values after the
// first terminal signal are ignored and the upstream is cancelled.
func Dematerialize[T any](s *Stream[Signal[T]]) *Stream[T] {
	return newStream("dematerialize", func(actual Subscriber[T]) {
		s.Subscribe(&dematerializeSubscriber[T]{stage: newStage(actual)})
	})
}

type dematerializeSubscriber[T any] struct {
	stage[T]
}

func (d *dematerializeSubscriber[T]) OnSubscribe(s Subscription) {
	if d.setUpstream(s) {
		d.actual.OnSubscribe(d)
	}
}

func (d *dematerializeSubscriber[T]) OnNext(sig Signal[T]) {
	if d.done {
		return
	}
	switch sig.Kind {
	case SignalNext:
		d.actual.OnNext(sig.Value)
	case SignalError:
		d.upstream.Cancel()
		d.error(sig.Err)
	default:
		d.upstream.Cancel()
		d.complete()
	}
}

func (d *dematerializeSubscriber[T]) OnError(err error) { d.error(err) }
func (d *dematerializeSubscriber[T]) OnComplete()       { d.complete() }
