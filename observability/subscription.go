package observability

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/flowkit/errors"
)

// Subscription outcomes.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// SubscriptionContext holds the observability state of one subscription.
type SubscriptionContext struct {
	Stream         string
	SubscriptionID string
	StartTime      time.Time
	Metrics        *StreamMetrics
	Tracing        bool

	elements atomic.Int64
	ended    atomic.Bool
	span     trace.Span
}

// NewSubscriptionContext creates a subscription context. If metrics is nil,
// metric recording is skipped; if tracing is false no span is started.
func NewSubscriptionContext(stream, subscriptionID string, metrics *StreamMetrics, tracing bool) *SubscriptionContext {
	return &SubscriptionContext{
		Stream:         stream,
		SubscriptionID: subscriptionID,
		StartTime:      time.Now(),
		Metrics:        metrics,
		Tracing:        tracing,
	}
}

type subscriptionContextKey struct{}

// WithSubscriptionContext stores sc in ctx.
func WithSubscriptionContext(ctx context.Context, sc *SubscriptionContext) context.Context {
	return context.WithValue(ctx, subscriptionContextKey{}, sc)
}

// SubscriptionContextFromContext retrieves the SubscriptionContext from ctx, or nil.
func SubscriptionContextFromContext(ctx context.Context) *SubscriptionContext {
	if sc, ok := ctx.Value(subscriptionContextKey{}).(*SubscriptionContext); ok {
		return sc
	}
	return nil
}

// Start starts the subscription span and records the subscription. The
// returned context carries the span and sc.
func (sc *SubscriptionContext) Start(ctx context.Context) context.Context {
	if sc.Tracing {
		ctx, sc.span = StartSpan(ctx, SpanSubscription, trace.WithAttributes(
			attribute.String(AttrStreamName, sc.Stream),
			attribute.String(AttrSubscriptionID, sc.SubscriptionID),
		))
	}
	if sc.Metrics != nil {
		sc.Metrics.RecordSubscribe(ctx, sc.Stream)
	}
	return WithSubscriptionContext(ctx, sc)
}

// Element counts one delivered value.
func (sc *SubscriptionContext) Element(ctx context.Context) {
	sc.elements.Add(1)
	if sc.Metrics != nil {
		sc.Metrics.RecordElements(ctx, sc.Stream, 1)
	}
}

// Elements returns the number of values counted so far.
func (sc *SubscriptionContext) Elements() int64 { return sc.elements.Load() }

// End ends the span and records the outcome. Only the first call has an
// effect.
func (sc *SubscriptionContext) End(ctx context.Context, status string, err error) {
	if !sc.ended.CompareAndSwap(false, true) {
		return
	}
	d := sc.Duration()
	var kind string
	if err != nil {
		kind = string(errors.KindOf(err))
	}
	if sc.span != nil {
		if err != nil {
			sc.span.RecordError(err)
			sc.span.SetStatus(codes.Error, err.Error())
			sc.span.SetAttributes(
				attribute.String(AttrErrorKind, kind),
				attribute.String(AttrErrorMessage, err.Error()),
			)
		}
		sc.span.SetAttributes(
			attribute.String(AttrStatus, status),
			attribute.Int64(AttrElements, sc.elements.Load()),
			attribute.Int64(AttrDurationMs, d.Milliseconds()),
		)
		sc.span.End()
	}
	if sc.Metrics != nil {
		sc.Metrics.RecordTermination(ctx, sc.Stream, status, kind, d)
	}
}

// Duration returns the elapsed time since the subscription started.
func (sc *SubscriptionContext) Duration() time.Duration {
	return time.Since(sc.StartTime)
}
