package stream

import (
	"sync"
	"sync/atomic"

	"github.com/kbukum/flowkit/errors"
)

const (
	// DefaultConcurrency bounds the inner subscriptions of FlatMap when no
	// concurrency is given.
	DefaultConcurrency = 256
	// DefaultPrefetch is the demand each inner subscription starts with.
	DefaultPrefetch = 32
)

// FlatMap maps each value to an inner stream and merges the inner streams,
// interleaving their values as they arrive. At most concurrency inner
// streams are subscribed at a time and each is asked for prefetch values
// ahead of the subscriber's demand. Non-positive arguments select
// DefaultConcurrency and DefaultPrefetch. The first error, from s or from an
// inner stream, cancels everything else.
func FlatMap[T, R any](s *Stream[T], fn func(T) *Stream[R], concurrency, prefetch int) *Stream[R] {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return flatten("flatMap", s, fn, concurrency, prefetch)
}

// ConcatMap maps each value to an inner stream and emits the inner streams
// one after the other, in the order of the values that produced them.
func ConcatMap[T, R any](s *Stream[T], fn func(T) *Stream[R]) *Stream[R] {
	return flatten("concatMap", s, fn, 1, DefaultPrefetch)
}

// Merge subscribes to all sources at once and interleaves their values.
func Merge[T any](sources ...*Stream[T]) *Stream[T] {
	if len(sources) == 0 {
		return Empty[T]()
	}
	return flatten("merge", FromSlice(sources), identity[T], len(sources), DefaultPrefetch)
}

// Concat subscribes to each source after the previous one completed.
func Concat[T any](sources ...*Stream[T]) *Stream[T] {
	return flatten("concat", FromSlice(sources), identity[T], 1, DefaultPrefetch)
}

func identity[T any](s *Stream[T]) *Stream[T] { return s }

func flatten[T, R any](name string, s *Stream[T], fn func(T) *Stream[R], concurrency, prefetch int) *Stream[R] {
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	return newStream(name, func(actual Subscriber[R]) {
		s.Subscribe(&flatMapMain[T, R]{
			actual:      actual,
			ctx:         contextOf(actual),
			fn:          fn,
			concurrency: concurrency,
			prefetch:    prefetch,
			limit:       prefetch - prefetch/4,
		})
	})
}

type flatMapMain[T, R any] struct {
	actual      Subscriber[R]
	ctx         Context
	fn          func(T) *Stream[R]
	concurrency int
	prefetch    int
	limit       int
	upstream    Subscription

	mu        sync.Mutex
	inners    []*flatMapInner[T, R]
	outerDone bool
	err       error

	requested  atomic.Int64
	cancelled  atomic.Bool
	terminated bool
	wip        wip
}

type flatMapInner[T, R any] struct {
	parent   *flatMapMain[T, R]
	upstream Subscription
	queue    []R
	done     bool
	consumed int
}

func (m *flatMapMain[T, R]) Context() Context { return m.ctx }

func (m *flatMapMain[T, R]) OnSubscribe(s Subscription) {
	if m.upstream != nil {
		s.Cancel()
		reportDoubleSubscribe()
		return
	}
	m.upstream = s
	m.actual.OnSubscribe(m)
	s.Request(int64(m.concurrency))
}

func (m *flatMapMain[T, R]) OnNext(v T) {
	if m.cancelled.Load() {
		return
	}
	inner, err := m.mapValue(v)
	if err != nil {
		if resumeElement(m.ctx, err, v) {
			m.upstream.Request(1)
			return
		}
		m.upstream.Cancel()
		m.onError(err)
		return
	}
	in := &flatMapInner[T, R]{parent: m}
	m.mu.Lock()
	m.inners = append(m.inners, in)
	m.mu.Unlock()
	inner.Subscribe(in)
}

func (m *flatMapMain[T, R]) mapValue(v T) (*Stream[R], error) {
	return apply(func(v T) (*Stream[R], error) {
		inner := m.fn(v)
		if inner == nil {
			return nil, errors.IllegalArgument("mapper returned a nil stream")
		}
		return inner, nil
	}, v)
}

func (m *flatMapMain[T, R]) OnError(err error) { m.onError(err) }

func (m *flatMapMain[T, R]) OnComplete() {
	m.mu.Lock()
	m.outerDone = true
	m.mu.Unlock()
	m.drain()
}

func (m *flatMapMain[T, R]) onError(err error) {
	m.mu.Lock()
	if m.err != nil || m.cancelled.Load() {
		m.mu.Unlock()
		onErrorDropped(err)
		return
	}
	m.err = err
	m.mu.Unlock()
	m.drain()
}

func (m *flatMapMain[T, R]) Request(n int64) {
	if n <= 0 {
		m.upstream.Cancel()
		m.onError(errors.BadRequest(n))
		return
	}
	requestAdd(&m.requested, n)
	m.drain()
}

func (m *flatMapMain[T, R]) Cancel() {
	if !m.cancelled.CompareAndSwap(false, true) {
		return
	}
	m.upstream.Cancel()
	if m.wip.enter() {
		m.cancelInners()
	}
}

func (m *flatMapMain[T, R]) cancelInners() {
	m.mu.Lock()
	inners := m.inners
	m.inners = nil
	m.mu.Unlock()
	for _, in := range inners {
		if in.upstream != nil {
			in.upstream.Cancel()
		}
	}
}

func (m *flatMapMain[T, R]) drain() {
	if !m.wip.enter() {
		return
	}
	missed := int32(1)
	for {
		if m.terminated {
			return
		}
		if m.cancelled.Load() {
			m.cancelInners()
			return
		}
		m.mu.Lock()
		err := m.err
		inners := append([]*flatMapInner[T, R](nil), m.inners...)
		m.mu.Unlock()
		if err != nil {
			m.upstream.Cancel()
			m.cancelInners()
			m.terminate(err)
			return
		}

		r := m.requested.Load()
		var e int64
		var finished int64
		for _, in := range inners {
			for e != r {
				if m.cancelled.Load() {
					m.cancelInners()
					return
				}
				v, ok := m.pollInner(in)
				if !ok {
					break
				}
				m.actual.OnNext(v)
				e++
				in.consumed++
				if in.consumed == m.limit {
					in.consumed = 0
					m.requestInner(in, int64(m.limit))
				}
			}
			if m.removeIfDone(in) {
				finished++
			}
		}
		if e != 0 {
			produced(&m.requested, e)
		}

		m.mu.Lock()
		outerDone := m.outerDone
		empty := len(m.inners) == 0
		err = m.err
		m.mu.Unlock()
		if err != nil {
			continue
		}
		if outerDone && empty {
			m.terminate(nil)
			return
		}
		if finished != 0 && !outerDone {
			m.upstream.Request(finished)
		}
		if missed = m.wip.leave(missed); missed == 0 {
			return
		}
	}
}

func (m *flatMapMain[T, R]) pollInner(in *flatMapInner[T, R]) (R, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero R
	if len(in.queue) == 0 {
		return zero, false
	}
	v := in.queue[0]
	in.queue[0] = zero
	in.queue = in.queue[1:]
	return v, true
}

func (m *flatMapMain[T, R]) requestInner(in *flatMapInner[T, R], n int64) {
	m.mu.Lock()
	up := in.upstream
	m.mu.Unlock()
	if up != nil {
		up.Request(n)
	}
}

func (m *flatMapMain[T, R]) removeIfDone(in *flatMapInner[T, R]) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !in.done || len(in.queue) != 0 {
		return false
	}
	for i, other := range m.inners {
		if other == in {
			m.inners = append(m.inners[:i], m.inners[i+1:]...)
			return true
		}
	}
	return false
}

func (m *flatMapMain[T, R]) terminate(err error) {
	m.terminated = true
	m.cancelled.Store(true)
	if err != nil {
		m.actual.OnError(err)
		return
	}
	m.actual.OnComplete()
}

func (in *flatMapInner[T, R]) Context() Context { return in.parent.ctx }

func (in *flatMapInner[T, R]) OnSubscribe(s Subscription) {
	m := in.parent
	m.mu.Lock()
	if in.upstream != nil {
		m.mu.Unlock()
		s.Cancel()
		reportDoubleSubscribe()
		return
	}
	in.upstream = s
	m.mu.Unlock()
	if m.cancelled.Load() {
		s.Cancel()
		return
	}
	s.Request(int64(m.prefetch))
}

func (in *flatMapInner[T, R]) OnNext(v R) {
	m := in.parent
	m.mu.Lock()
	in.queue = append(in.queue, v)
	m.mu.Unlock()
	m.drain()
}

func (in *flatMapInner[T, R]) OnError(err error) {
	in.parent.upstream.Cancel()
	in.parent.onError(err)
}

func (in *flatMapInner[T, R]) OnComplete() {
	m := in.parent
	m.mu.Lock()
	in.done = true
	m.mu.Unlock()
	m.drain()
}
