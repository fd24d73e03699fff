package stream

import (
	"sync"
	"sync/atomic"

	"github.com/kbukum/flowkit/errors"
)

// Zip pairs the values of a and b in order and combines each pair with fn.
// It completes when either source has completed and has no value left to
// pair.
func Zip[A, B, R any](a *Stream[A], b *Stream[B], fn func(A, B) R) *Stream[R] {
	zipped := zipStreams("zip", []*Stream[any]{boxed(a), boxed(b)}, DefaultPrefetch)
	return named(Map(zipped, func(row []any) (R, error) {
		return fn(unbox[A](row[0]), unbox[B](row[1])), nil
	}), "zip")
}

// ZipAll emits a slice holding the i-th value of every source.
func ZipAll[T any](sources ...*Stream[T]) *Stream[[]T] {
	if len(sources) == 0 {
		return Empty[[]T]()
	}
	return zipStreams("zipAll", sources, DefaultPrefetch)
}

func boxed[T any](s *Stream[T]) *Stream[any] {
	return Map(s, func(v T) (any, error) { return v, nil })
}

// unbox reverses boxed. A nil interface value becomes the zero value.
func unbox[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}
	return v.(T)
}

func zipStreams[T any](name string, sources []*Stream[T], prefetch int) *Stream[[]T] {
	return newStream(name, func(actual Subscriber[[]T]) {
		m := &zipMain[T]{
			actual:   actual,
			ctx:      contextOf(actual),
			prefetch: prefetch,
			limit:    prefetch - prefetch/4,
		}
		m.inners = make([]*zipInner[T], len(sources))
		for i := range sources {
			m.inners[i] = &zipInner[T]{parent: m}
		}
		actual.OnSubscribe(m)
		for i, src := range sources {
			if m.cancelled.Load() {
				return
			}
			if src == nil {
				m.onError(errors.IllegalArgument("zip source %d is nil", i))
				return
			}
			src.Subscribe(m.inners[i])
		}
	})
}

type zipMain[T any] struct {
	actual   Subscriber[[]T]
	ctx      Context
	inners   []*zipInner[T]
	prefetch int
	limit    int

	mu  sync.Mutex
	err error

	requested  atomic.Int64
	cancelled  atomic.Bool
	terminated bool
	wip        wip
}

type zipInner[T any] struct {
	parent   *zipMain[T]
	upstream Subscription
	queue    []T
	done     bool
	consumed int
}

func (m *zipMain[T]) Request(n int64) {
	if n <= 0 {
		m.onError(errors.BadRequest(n))
		return
	}
	requestAdd(&m.requested, n)
	m.drain()
}

func (m *zipMain[T]) Cancel() {
	if m.cancelled.CompareAndSwap(false, true) && m.wip.enter() {
		m.cancelAll()
	}
}

func (m *zipMain[T]) onError(err error) {
	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		onErrorDropped(err)
		return
	}
	m.err = err
	m.mu.Unlock()
	m.drain()
}

func (m *zipMain[T]) cancelAll() {
	m.mu.Lock()
	subs := make([]Subscription, 0, len(m.inners))
	for _, in := range m.inners {
		if in.upstream != nil {
			subs = append(subs, in.upstream)
		}
		in.queue = nil
	}
	m.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
}

// status reports whether every inner has a value and whether some inner is
// finished without a value left.
func (m *zipMain[T]) status() (ready, exhausted bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ready = true
	for _, in := range m.inners {
		if len(in.queue) == 0 {
			ready = false
			if in.done {
				exhausted = true
			}
		}
	}
	return ready, exhausted, m.err
}

func (m *zipMain[T]) row() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	row := make([]T, len(m.inners))
	for i, in := range m.inners {
		row[i] = in.queue[0]
		in.queue[0] = zero
		in.queue = in.queue[1:]
	}
	return row
}

func (m *zipMain[T]) drain() {
	if !m.wip.enter() {
		return
	}
	missed := int32(1)
	for {
		if m.terminated {
			return
		}
		r := m.requested.Load()
		var e int64
		for {
			if m.cancelled.Load() {
				m.cancelAll()
				return
			}
			ready, exhausted, err := m.status()
			if err != nil {
				m.cancelAll()
				m.terminate(err)
				return
			}
			if exhausted {
				m.cancelAll()
				m.terminate(nil)
				return
			}
			if !ready || e == r {
				break
			}
			m.actual.OnNext(m.row())
			e++
			m.replenish()
		}
		if e != 0 {
			produced(&m.requested, e)
		}
		if missed = m.wip.leave(missed); missed == 0 {
			return
		}
	}
}

func (m *zipMain[T]) replenish() {
	for _, in := range m.inners {
		in.consumed++
		if in.consumed == m.limit {
			in.consumed = 0
			m.mu.Lock()
			up := in.upstream
			m.mu.Unlock()
			if up != nil {
				up.Request(int64(m.limit))
			}
		}
	}
}

func (m *zipMain[T]) terminate(err error) {
	m.terminated = true
	m.cancelled.Store(true)
	if err != nil {
		m.actual.OnError(err)
		return
	}
	m.actual.OnComplete()
}

func (in *zipInner[T]) Context() Context { return in.parent.ctx }

func (in *zipInner[T]) OnSubscribe(s Subscription) {
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

func (in *zipInner[T]) OnNext(v T) {
	m := in.parent
	m.mu.Lock()
	in.queue = append(in.queue, v)
	m.mu.Unlock()
	m.drain()
}

func (in *zipInner[T]) OnError(err error) { in.parent.onError(err) }

func (in *zipInner[T]) OnComplete() {
	m := in.parent
	m.mu.Lock()
	in.done = true
	m.mu.Unlock()
	m.drain()
}
