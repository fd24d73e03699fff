package stream

import (
	"github.com/kbukum/flowkit/errors"
)

// Stream is a cold or hot sequence of zero or more values followed by a
// completion or an error. Streams are immutable descriptions: every operator
// returns a new Stream and nothing runs until Subscribe.
type Stream[T any] struct {
	name        string
	site        string
	onSubscribe func(Subscriber[T])
}

// Operator transforms a stream into another of the same element type.
type Operator[T any] func(*Stream[T]) *Stream[T]

func newStream[T any](name string, fn func(Subscriber[T])) *Stream[T] {
	s := &Stream[T]{name: name, onSubscribe: fn}
	if assemblyTracing.Load() {
		s.site = captureSite(name)
	}
	return s
}

// Name returns the name of the operator or source that built s.
func (s *Stream[T]) Name() string { return s.name }

// Subscribe attaches sub. The subscription starts when sub requests demand.
func (s *Stream[T]) Subscribe(sub Subscriber[T]) {
	if sub == nil {
		panic("stream: nil subscriber")
	}
	if s.site != "" {
		sub = &traceSubscriber[T]{stage: newStage(sub), site: s.site}
	}
	s.onSubscribe(sub)
}

// SubscribeWithContext attaches sub with ctx as the context seen by every
// upstream stage.
func (s *Stream[T]) SubscribeWithContext(ctx Context, sub Subscriber[T]) {
	s.Subscribe(withContext[T]{Subscriber: sub, ctx: ctx})
}

// SubscribeFunc requests unbounded demand and routes signals to the given
// callbacks, any of which may be nil. An error without onError goes to the
// dropped-error hook. A panicking onNext cancels the subscription and is
// reported as an error.
func (s *Stream[T]) SubscribeFunc(onNext func(T), onError func(error), onComplete func()) Disposable {
	l := &lambdaSubscriber[T]{onNext: onNext, onError: onError, onComplete: onComplete}
	s.Subscribe(l)
	return l
}

// Apply composes ops left to right.
func Apply[T any](s *Stream[T], ops ...Operator[T]) *Stream[T] {
	for _, op := range ops {
		s = op(s)
	}
	return s
}

// supply calls fn, converting a panic or a nil result into an error.
func supply[T any](fn func() *Stream[T]) (s *Stream[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Panic(r, nil)
		}
	}()
	s = fn()
	if s == nil {
		return nil, errors.IllegalArgument("supplier returned a nil stream")
	}
	return s, nil
}

// rejected returns a stream that fails every subscription with err. Operators
// return it for invalid arguments so that the error surfaces on subscribe.
func rejected[T any](name string, err error) *Stream[T] {
	return newStream(name, func(actual Subscriber[T]) {
		errorNow(actual, err)
	})
}
