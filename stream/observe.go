package stream

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
)

// Log logs every signal of each subscription at debug level through the
// "stream" component logger, tagged with category and a subscription id.
func Log[T any](s *Stream[T], category string) *Stream[T] {
	return LogAt(s, category, zerolog.DebugLevel)
}

// LogAt is Log at the given level.
func LogAt[T any](s *Stream[T], category string, level zerolog.Level) *Stream[T] {
	return newStream("log", func(actual Subscriber[T]) {
		l := streamLog().WithFields(logger.Fields(
			logger.FieldStream, category,
			logger.FieldSubscription, uuid.NewString(),
		))
		emit := func(signal string, kvs ...any) {
			if !l.Enabled(level) {
				return
			}
			l.Log(level, signal, logger.Fields(append([]any{logger.FieldSignal, signal}, kvs...)...))
		}
		s.Subscribe(&peekSubscriber[T]{stage: newStage(actual), cb: peekCallbacks[T]{
			onSubscribe: func(Subscription) { emit("onSubscribe") },
			onNext:      func(v T) { emit("onNext", logger.FieldValue, fmt.Sprint(v)) },
			onError: func(err error) {
				emit("onError", logger.FieldError, err.Error(), logger.FieldKind, string(errors.KindOf(err)))
			},
			onComplete: func() { emit("onComplete") },
			onRequest:  func(n int64) { emit("request", logger.FieldDemand, n) },
			onCancel:   func() { emit("cancel") },
		}})
	})
}

// Trace starts an OpenTelemetry span named observability.SpanSubscription for
// every subscription and ends it on completion, error or cancellation. The
// span context is visible upstream through GoContext, so nested Trace stages
// produce child spans.
func Trace[T any](s *Stream[T], name string) *Stream[T] {
	return observe(s, "trace", name, nil, true)
}

// Metrics records subscriptions, values, terminations and subscription
// durations of s on m, labelled with name.
func Metrics[T any](s *Stream[T], name string, m *observability.StreamMetrics) *Stream[T] {
	if m == nil {
		return rejected[T]("metrics", errors.IllegalArgument("metrics must not be nil"))
	}
	return observe(s, "metrics", name, m, false)
}

func observe[T any](s *Stream[T], op, name string, m *observability.StreamMetrics, tracing bool) *Stream[T] {
	return newStream(op, func(actual Subscriber[T]) {
		st := newStage(actual)
		goctx, ok := GoContext(st.ctx)
		if !ok {
			goctx = context.Background()
		}
		sc := observability.NewSubscriptionContext(name, uuid.NewString(), m, tracing)
		goctx = sc.Start(goctx)
		st.ctx = st.ctx.Put(goContextKey{}, goctx)
		s.Subscribe(&observeSubscriber[T]{stage: st, sc: sc, goctx: goctx})
	})
}

type observeSubscriber[T any] struct {
	stage[T]
	sc    *observability.SubscriptionContext
	goctx context.Context
}

func (o *observeSubscriber[T]) OnSubscribe(s Subscription) {
	if o.setUpstream(s) {
		o.actual.OnSubscribe(o)
	}
}

func (o *observeSubscriber[T]) OnNext(v T) {
	if o.done {
		onNextDropped(v)
		return
	}
	o.sc.Element(o.goctx)
	o.actual.OnNext(v)
}

func (o *observeSubscriber[T]) OnError(err error) {
	if !o.done {
		o.sc.End(o.goctx, observability.StatusFailed, err)
	}
	o.error(err)
}

func (o *observeSubscriber[T]) OnComplete() {
	if !o.done {
		o.sc.End(o.goctx, observability.StatusCompleted, nil)
	}
	o.complete()
}

func (o *observeSubscriber[T]) Cancel() {
	o.upstream.Cancel()
	o.sc.End(o.goctx, observability.StatusCancelled, nil)
}
