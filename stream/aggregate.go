package stream

// Next emits the first value of s and cancels it, or completes empty.
func Next[T any](s *Stream[T]) *Single[T] {
	return reduceWith("next", s, reducer[T, T]{
		prefetch: 1,
		first:    true,
		step:     func(_ T, v T) T { return v },
	})
}

// Last emits the final value of s, or completes empty.
func Last[T any](s *Stream[T]) *Single[T] {
	return reduceWith("last", s, reducer[T, T]{
		prefetch: Unbounded,
		step:     func(_ T, v T) T { return v },
	})
}

// Reduce folds the values of s into initial with fn and emits the result,
// which is initial itself when s is empty. When OnErrorContinue skips a value
// the accumulator keeps its previous state.
func Reduce[T, A any](s *Stream[T], initial A, fn func(A, T) A) *Single[A] {
	return reduceWith("reduce", s, reducer[T, A]{
		prefetch: Unbounded,
		seeded:   true,
		initial:  initial,
		step:     fn,
		element:  true,
	})
}

// Count emits the number of values of s.
func Count[T any](s *Stream[T]) *Single[int64] {
	return reduceWith("count", s, reducer[T, int64]{
		prefetch: Unbounded,
		seeded:   true,
		step:     func(n int64, _ T) int64 { return n + 1 },
	})
}

// CollectList emits all values of s as one slice, empty but not nil when s
// is empty.
func CollectList[T any](s *Stream[T]) *Single[[]T] {
	return reduceWith("collectList", s, reducer[T, []T]{
		prefetch: Unbounded,
		seeded:   true,
		initial:  []T{},
		step:     func(acc []T, v T) []T { return append(acc, v) },
	})
}

type reducer[T, A any] struct {
	prefetch int64
	// first stops at the first value.
	first bool
	// seeded starts from initial, which is emitted for an empty stream.
	seeded  bool
	initial A
	step    func(A, T) A
	// element marks step as a user function whose failures may be skipped.
	element bool
}

func reduceWith[T, A any](name string, s *Stream[T], r reducer[T, A]) *Single[A] {
	return newSingle(name, func(actual Subscriber[A]) {
		s.Subscribe(&reduceSubscriber[T, A]{
			deferredScalar: newDeferredScalar(actual),
			r:              r,
			acc:            r.initial,
			has:            r.seeded,
		})
	})
}

type reduceSubscriber[T, A any] struct {
	deferredScalar[A]
	r   reducer[T, A]
	acc A
	has bool
}

func (rs *reduceSubscriber[T, A]) OnSubscribe(s Subscription) {
	if rs.setUpstream(s) {
		rs.actual.OnSubscribe(rs)
		s.Request(rs.r.prefetch)
	}
}

func (rs *reduceSubscriber[T, A]) OnNext(v T) {
	if rs.isDone() {
		onNextDropped(v)
		return
	}
	acc, err := accumulate(rs.r.step, rs.acc, v)
	if err != nil {
		if rs.r.element && resumeElement(rs.ctx, err, v) {
			rs.upstream.Request(1)
			return
		}
		rs.upstream.Cancel()
		rs.fail(err)
		return
	}
	rs.acc, rs.has = acc, true
	if rs.r.first {
		rs.upstream.Cancel()
		rs.emit(acc)
	}
}

func (rs *reduceSubscriber[T, A]) OnError(err error) { rs.fail(err) }

func (rs *reduceSubscriber[T, A]) OnComplete() {
	if rs.has {
		rs.emit(rs.acc)
		return
	}
	rs.completeEmpty()
}
