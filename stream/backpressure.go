package stream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kbukum/flowkit/errors"
)

// BackpressureMode selects what a push-based producer does with values it
// emits faster than the subscriber requests them.
type BackpressureMode int

const (
	// BackpressureBuffer queues up to Capacity undelivered values and applies
	// the Overflow policy beyond that.
	BackpressureBuffer BackpressureMode = iota
	// BackpressureDrop discards values that arrive without demand.
	BackpressureDrop
	// BackpressureLatest keeps only the most recent value that arrived
	// without demand.
	BackpressureLatest
	// BackpressureError fails with OVERFLOW when a value arrives without demand.
	BackpressureError
)

func (m BackpressureMode) String() string {
	switch m {
	case BackpressureBuffer:
		return "buffer"
	case BackpressureDrop:
		return "drop"
	case BackpressureLatest:
		return "latest"
	case BackpressureError:
		return "error"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// OverflowPolicy is applied when a full buffer receives a value.
type OverflowPolicy int

const (
	// OverflowError fails with OVERFLOW and discards the buffer.
	OverflowError OverflowPolicy = iota
	// OverflowDropOldest evicts the oldest buffered value.
	OverflowDropOldest
	// OverflowDropNewest discards the incoming value.
	OverflowDropNewest
)

// Backpressure is an overflow strategy.
type Backpressure struct {
	Mode     BackpressureMode
	Capacity int
	Overflow OverflowPolicy
}

// BufferStrategy buffers up to capacity values.
func BufferStrategy(capacity int, overflow OverflowPolicy) Backpressure {
	return Backpressure{Mode: BackpressureBuffer, Capacity: capacity, Overflow: overflow}
}

// DropStrategy drops values without demand.
func DropStrategy() Backpressure { return Backpressure{Mode: BackpressureDrop} }

// LatestStrategy keeps the latest value without demand.
func LatestStrategy() Backpressure { return Backpressure{Mode: BackpressureLatest} }

// ErrorStrategy fails on the first value without demand.
func ErrorStrategy() Backpressure { return Backpressure{Mode: BackpressureError} }

// Validate rejects a buffer strategy without a positive capacity.
func (b Backpressure) Validate() error {
	if b.Mode == BackpressureBuffer && b.Capacity <= 0 {
		return errors.IllegalArgument("buffer capacity must be positive, got %d", b.Capacity)
	}
	if b.Mode < BackpressureBuffer || b.Mode > BackpressureError {
		return errors.IllegalArgument("unknown backpressure mode %d", int(b.Mode))
	}
	return nil
}

// bufferCore decouples a push-based producer from the subscriber's demand
// according to a Backpressure strategy. The producer calls offer, finish and
// fail; the subscriber side sees it as its Subscription.
type bufferCore[T any] struct {
	actual   Subscriber[T]
	ctx      Context
	strategy Backpressure
	onDrop   func(T)
	onCancel func()

	mu        sync.Mutex
	queue     []T
	latest    T
	hasLatest bool
	done      bool
	err       error
	errNow    error

	requested  atomic.Int64
	cancelled  atomic.Bool
	terminated bool
	bad        atomic.Pointer[errors.Error]
	cancelOnce sync.Once
	wip        wip
}

func newBufferCore[T any](actual Subscriber[T], strategy Backpressure) *bufferCore[T] {
	return &bufferCore[T]{actual: actual, ctx: contextOf(actual), strategy: strategy}
}

func (b *bufferCore[T]) Context() Context { return b.ctx }

// offer hands v to the subscriber or applies the strategy.
func (b *bufferCore[T]) offer(v T) {
	if b.cancelled.Load() {
		return
	}
	var dropped T
	hasDropped := false
	overflow := false

	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		onNextDropped(v)
		return
	}
	demand := b.requested.Load() - int64(len(b.queue))
	switch {
	case demand > 0:
		b.queue = append(b.queue, v)
	case b.strategy.Mode == BackpressureBuffer:
		if len(b.queue)-int(max(b.requested.Load(), 0)) < b.strategy.Capacity {
			b.queue = append(b.queue, v)
			break
		}
		switch b.strategy.Overflow {
		case OverflowDropOldest:
			dropped, hasDropped = b.queue[0], true
			b.queue = append(b.queue[1:], v)
		case OverflowDropNewest:
			dropped, hasDropped = v, true
		default:
			overflow = true
		}
	case b.strategy.Mode == BackpressureDrop:
		dropped, hasDropped = v, true
	case b.strategy.Mode == BackpressureLatest:
		if b.hasLatest {
			dropped, hasDropped = b.latest, true
		}
		b.latest, b.hasLatest = v, true
	default:
		overflow = true
	}
	if overflow {
		b.done = true
		b.errNow = errors.Overflow("could not emit value due to lack of requests").
			WithDetail("strategy", b.strategy.Mode.String())
		b.queue = nil
	}
	b.mu.Unlock()

	if hasDropped {
		b.drop(dropped)
	}
	if overflow {
		b.cancelProducer()
		onNextDropped(v)
	}
	b.drain()
}

func (b *bufferCore[T]) drop(v T) {
	if b.onDrop != nil {
		if err := invoke(b.onDrop, v); err != nil {
			onErrorDropped(err)
		}
	}
	onNextDropped(v)
}

// finish completes after the buffered values are delivered.
func (b *bufferCore[T]) finish() { b.terminateWith(nil) }

// fail errors after the buffered values are delivered.
func (b *bufferCore[T]) fail(err error) { b.terminateWith(err) }

func (b *bufferCore[T]) terminateWith(err error) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		if err != nil {
			onErrorDropped(err)
		}
		return
	}
	b.done = true
	b.err = err
	b.mu.Unlock()
	b.drain()
}

// isDone reports whether the producer side was terminated.
func (b *bufferCore[T]) isDone() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

func (b *bufferCore[T]) Request(n int64) {
	if n <= 0 {
		b.bad.CompareAndSwap(nil, errors.BadRequest(n))
	} else {
		requestAdd(&b.requested, n)
	}
	b.drain()
}

func (b *bufferCore[T]) Cancel() {
	if !b.cancelled.CompareAndSwap(false, true) {
		return
	}
	b.cancelProducer()
	if b.wip.enter() {
		b.clear()
	}
}

func (b *bufferCore[T]) isCancelled() bool { return b.cancelled.Load() }

func (b *bufferCore[T]) cancelProducer() {
	b.cancelOnce.Do(func() {
		if b.onCancel != nil {
			b.onCancel()
		}
	})
}

func (b *bufferCore[T]) clear() {
	b.mu.Lock()
	b.queue = nil
	var zero T
	b.latest, b.hasLatest = zero, false
	b.mu.Unlock()
}

// poll removes the next value and charges it against demand.
func (b *bufferCore[T]) poll() (v T, ok bool, empty bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	switch {
	case len(b.queue) > 0:
		v = b.queue[0]
		b.queue[0] = zero
		b.queue = b.queue[1:]
	case b.hasLatest:
		v = b.latest
		b.latest, b.hasLatest = zero, false
	default:
		return zero, false, true
	}
	produced(&b.requested, 1)
	return v, true, len(b.queue) == 0 && !b.hasLatest
}

func (b *bufferCore[T]) state() (done bool, err, errNow error, empty bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done, b.err, b.errNow, len(b.queue) == 0 && !b.hasLatest
}

func (b *bufferCore[T]) drain() {
	if !b.wip.enter() {
		return
	}
	missed := int32(1)
	for {
		if b.terminated {
			return
		}
		if b.cancelled.Load() {
			b.clear()
			return
		}
		if bad := b.bad.Load(); bad != nil {
			b.cancelProducer()
			b.clear()
			b.terminate(bad)
			return
		}
		for b.requested.Load() > 0 {
			if b.cancelled.Load() {
				b.clear()
				return
			}
			if _, _, errNow, _ := b.state(); errNow != nil {
				b.terminate(errNow)
				return
			}
			v, ok, _ := b.poll()
			if !ok {
				break
			}
			b.actual.OnNext(v)
		}
		done, err, errNow, empty := b.state()
		if errNow != nil {
			b.terminate(errNow)
			return
		}
		if done && empty {
			b.terminate(err)
			return
		}
		if missed = b.wip.leave(missed); missed == 0 {
			return
		}
	}
}

func (b *bufferCore[T]) terminate(err error) {
	b.terminated = true
	b.cancelled.Store(true)
	if err != nil {
		b.actual.OnError(err)
		return
	}
	b.actual.OnComplete()
}

// --- Create ---

// Emitter is the producer side of Create. Its methods may be called from any
// goroutine; signals after a terminal one are dropped.
type Emitter[T any] interface {
	// Next emits v, subject to the backpressure strategy.
	Next(v T)
	// Error terminates with err once the buffered values are delivered.
	Error(err error)
	// Complete terminates once the buffered values are delivered.
	Complete()
	// Requested returns the outstanding demand.
	Requested() int64
	// IsCancelled reports whether the subscriber cancelled.
	IsCancelled() bool
	// OnDispose registers fn to run once when the subscriber cancels or the
	// emitter terminates.
	OnDispose(fn func())
	// Context returns the subscriber context.
	Context() Context
}

// Create bridges a push-based producer. fn runs once per subscription and
// may emit synchronously or keep the Emitter for later use.
func Create[T any](fn func(Emitter[T]), strategy Backpressure) *Stream[T] {
	if err := strategy.Validate(); err != nil {
		return rejected[T]("create", err)
	}
	return newStream("create", func(actual Subscriber[T]) {
		e := &emitter[T]{core: newBufferCore(actual, strategy)}
		e.core.onCancel = e.dispose
		actual.OnSubscribe(e.core)
		if err := invoke(fn, Emitter[T](e)); err != nil {
			e.Error(errors.Source(err))
		}
	})
}

type emitter[T any] struct {
	core *bufferCore[T]

	mu        sync.Mutex
	disposed  bool
	onDispose []func()
}

func (e *emitter[T]) Next(v T)          { e.core.offer(v) }
func (e *emitter[T]) Requested() int64  { return e.core.requested.Load() }
func (e *emitter[T]) IsCancelled() bool { return e.core.isCancelled() }
func (e *emitter[T]) Context() Context  { return e.core.ctx }

func (e *emitter[T]) Error(err error) {
	e.core.fail(err)
	e.dispose()
}

func (e *emitter[T]) Complete() {
	e.core.finish()
	e.dispose()
}

func (e *emitter[T]) OnDispose(fn func()) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		fn()
		return
	}
	e.onDispose = append(e.onDispose, fn)
	e.mu.Unlock()
}

func (e *emitter[T]) dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	fns := e.onDispose
	e.onDispose = nil
	e.mu.Unlock()
	for _, fn := range fns {
		if err := invokeFunc(fn); err != nil {
			onErrorDropped(err)
		}
	}
}

// --- onBackpressure operators ---

// OnBackpressureBuffer requests unbounded demand from s and buffers up to
// capacity values for the subscriber.
func OnBackpressureBuffer[T any](s *Stream[T], capacity int, overflow OverflowPolicy) *Stream[T] {
	return onBackpressure(s, "onBackpressureBuffer", BufferStrategy(capacity, overflow), nil)
}

// OnBackpressureDrop requests unbounded demand from s and drops values the
// subscriber has not requested, passing them to onDrop when it is not nil.
func OnBackpressureDrop[T any](s *Stream[T], onDrop func(T)) *Stream[T] {
	return onBackpressure(s, "onBackpressureDrop", DropStrategy(), onDrop)
}

// OnBackpressureLatest requests unbounded demand from s and keeps only the
// latest value the subscriber has not requested.
func OnBackpressureLatest[T any](s *Stream[T]) *Stream[T] {
	return onBackpressure(s, "onBackpressureLatest", LatestStrategy(), nil)
}

// OnBackpressureError requests unbounded demand from s and fails with
// OVERFLOW when a value arrives without demand.
func OnBackpressureError[T any](s *Stream[T]) *Stream[T] {
	return onBackpressure(s, "onBackpressureError", ErrorStrategy(), nil)
}

func onBackpressure[T any](s *Stream[T], name string, strategy Backpressure, onDrop func(T)) *Stream[T] {
	if err := strategy.Validate(); err != nil {
		return rejected[T](name, err)
	}
	return newStream(name, func(actual Subscriber[T]) {
		core := newBufferCore(actual, strategy)
		core.onDrop = onDrop
		s.Subscribe(&backpressureSubscriber[T]{core: core})
	})
}

type backpressureSubscriber[T any] struct {
	core     *bufferCore[T]
	upstream Subscription
}

func (b *backpressureSubscriber[T]) Context() Context { return b.core.ctx }

func (b *backpressureSubscriber[T]) OnSubscribe(s Subscription) {
	if b.upstream != nil {
		s.Cancel()
		reportDoubleSubscribe()
		return
	}
	b.upstream = s
	b.core.onCancel = s.Cancel
	b.core.actual.OnSubscribe(b.core)
	s.Request(Unbounded)
}

func (b *backpressureSubscriber[T]) OnNext(v T)        { b.core.offer(v) }
func (b *backpressureSubscriber[T]) OnError(err error) { b.core.fail(err) }
func (b *backpressureSubscriber[T]) OnComplete()       { b.core.finish() }
