package stream

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
)

// Iterator provides pull-based sequential access to a stream of values.
type Iterator[T any] interface {
	// Next returns the next value. Returns (zero, false, nil) when exhausted.
	Next(ctx context.Context) (T, bool, error)
	// Close releases any resources held by the iterator.
	Close() error
}

// Block subscribes and waits for the value of m. ok is false when m
// completed empty. If ctx ends first the subscription is cancelled and
// ctx.Err() is returned.
func (m *Single[T]) Block(ctx context.Context) (v T, ok bool, err error) {
	b := &blockingSubscriber[T]{ctx: contextFromGo(ctx), done: make(chan struct{})}
	m.s.Subscribe(b)
	select {
	case <-b.done:
		return b.value, b.has, b.err
	case <-ctx.Done():
		b.cancel()
		var zero T
		return zero, false, ctx.Err()
	}
}

// BlockFirst waits for the first value of s.
func BlockFirst[T any](ctx context.Context, s *Stream[T]) (T, bool, error) {
	return Next(s).Block(ctx)
}

// BlockLast waits for s to complete and returns its last value.
func BlockLast[T any](ctx context.Context, s *Stream[T]) (T, bool, error) {
	return Last(s).Block(ctx)
}

// Collect waits for s to complete and returns all its values.
func Collect[T any](ctx context.Context, s *Stream[T]) ([]T, error) {
	list, _, err := CollectList(s).Block(ctx)
	return list, err
}

// goContextKey stores the context.Context of a blocking call in the stream
// Context so that operators can reach it.
type goContextKey struct{}

func contextFromGo(ctx context.Context) Context {
	return EmptyContext().Put(goContextKey{}, ctx)
}

// GoContext returns the context.Context of the blocking call that
// subscribed, if any.
func GoContext(c Context) (context.Context, bool) {
	return ContextValue[context.Context](c, goContextKey{})
}

type blockingSubscriber[T any] struct {
	ctx   Context
	done  chan struct{}
	value T
	has   bool
	err   error

	mu        sync.Mutex
	upstream  Subscription
	cancelled bool
}

func (b *blockingSubscriber[T]) Context() Context { return b.ctx }

func (b *blockingSubscriber[T]) OnSubscribe(s Subscription) {
	b.mu.Lock()
	if b.upstream != nil || b.cancelled {
		dup := b.upstream != nil
		b.mu.Unlock()
		s.Cancel()
		if dup {
			reportDoubleSubscribe()
		}
		return
	}
	b.upstream = s
	b.mu.Unlock()
	s.Request(Unbounded)
}

func (b *blockingSubscriber[T]) OnNext(v T) {
	if b.has {
		onNextDropped(v)
		return
	}
	b.value, b.has = v, true
}

func (b *blockingSubscriber[T]) OnError(err error) {
	b.err = err
	close(b.done)
}

func (b *blockingSubscriber[T]) OnComplete() { close(b.done) }

func (b *blockingSubscriber[T]) cancel() {
	b.mu.Lock()
	b.cancelled = true
	up := b.upstream
	b.mu.Unlock()
	if up != nil {
		up.Cancel()
	}
}

// ToIterator returns an Iterator over s. The subscription starts on the first
// call to Next, asks for prefetch values ahead and is cancelled by Close.
func ToIterator[T any](s *Stream[T], prefetch int) Iterator[T] {
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	return &streamIter[T]{
		source:   s,
		prefetch: prefetch,
		limit:    prefetch - prefetch/4,
		ch:       make(chan result[T], prefetch+1),
	}
}

// result carries a value or a terminal signal through a channel.
type result[T any] struct {
	val T
	ok  bool
	err error
}

// streamIter reads values pushed by its subscription from a channel.
// Demand never exceeds the channel capacity, so pushes do not block.
type streamIter[T any] struct {
	source   *Stream[T]
	prefetch int
	limit    int
	ch       chan result[T]

	start    sync.Once
	upstream atomic.Pointer[subscriptionRef]
	closed   atomic.Bool
	consumed int
	finished bool
}

func (it *streamIter[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if it.finished || it.closed.Load() {
		return zero, false, nil
	}
	it.start.Do(func() { it.source.Subscribe(it) })
	select {
	case r := <-it.ch:
		if !r.ok {
			it.finished = true
			return zero, false, r.err
		}
		it.consumed++
		if it.consumed == it.limit {
			it.consumed = 0
			if ref := it.upstream.Load(); ref != nil {
				ref.s.Request(int64(it.limit))
			}
		}
		return r.val, true, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

func (it *streamIter[T]) Close() error {
	if it.closed.CompareAndSwap(false, true) {
		if ref := it.upstream.Load(); ref != nil {
			ref.s.Cancel()
		}
	}
	return nil
}

func (it *streamIter[T]) OnSubscribe(s Subscription) {
	if !it.upstream.CompareAndSwap(nil, &subscriptionRef{s: s}) {
		s.Cancel()
		reportDoubleSubscribe()
		return
	}
	if it.closed.Load() {
		s.Cancel()
		return
	}
	s.Request(int64(it.prefetch))
}

func (it *streamIter[T]) OnNext(v T)        { it.ch <- result[T]{val: v, ok: true} }
func (it *streamIter[T]) OnError(err error) { it.ch <- result[T]{err: err} }
func (it *streamIter[T]) OnComplete()       { it.ch <- result[T]{} }

// Seq returns s as a range-over-func sequence. An error is yielded once as
// the last pair; breaking out of the loop cancels the subscription.
func Seq[T any](ctx context.Context, s *Stream[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		it := ToIterator(s, DefaultPrefetch)
		defer it.Close()
		for {
			v, ok, err := it.Next(ctx)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !ok || !yield(v, nil) {
				return
			}
		}
	}
}
