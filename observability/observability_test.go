package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kbukum/flowkit/errors"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func manualMetrics(t *testing.T) (*StreamMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewStreamMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewStreamMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data map[string]metricdata.Aggregation, name string) int64 {
	t.Helper()
	sum, ok := data[name].(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s missing or not an int64 sum: %T", name, data[name])
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestDefaultTracerConfig(t *testing.T) {
	cfg := DefaultTracerConfig("test-service")

	if cfg.ServiceName != "test-service" {
		t.Errorf("expected ServiceName 'test-service', got %s", cfg.ServiceName)
	}
	if cfg.Endpoint != "localhost:4318" {
		t.Errorf("expected Endpoint 'localhost:4318', got %s", cfg.Endpoint)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected SampleRate 1.0, got %f", cfg.SampleRate)
	}
	if !cfg.Insecure {
		t.Error("expected Insecure to be true")
	}
}

func TestDefaultMeterConfig(t *testing.T) {
	cfg := DefaultMeterConfig("test-service")

	if cfg.ServiceName != "test-service" {
		t.Errorf("expected ServiceName 'test-service', got %s", cfg.ServiceName)
	}
	if cfg.Interval != 15*time.Second {
		t.Errorf("expected Interval 15s, got %v", cfg.Interval)
	}
}

func TestSampler(t *testing.T) {
	if got := Sampler(1).Description(); got != "AlwaysOnSampler" {
		t.Errorf("got %q, want AlwaysOnSampler", got)
	}
	if got := Sampler(0).Description(); got != "AlwaysOffSampler" {
		t.Errorf("got %q, want AlwaysOffSampler", got)
	}
	if got := Sampler(0.5).Description(); got == "AlwaysOnSampler" || got == "AlwaysOffSampler" {
		t.Errorf("got %q, want a ratio sampler", got)
	}
}

func TestNewResource(t *testing.T) {
	res, err := newResource("svc", "2.0.0", "test")
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	got := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		got[kv.Key] = kv.Value.Emit()
	}
	if got[AttrServiceName] != "svc" {
		t.Errorf("service.name = %q, want svc", got[AttrServiceName])
	}
	if got[AttrServiceVersion] != "2.0.0" {
		t.Errorf("service.version = %q, want 2.0.0", got[AttrServiceVersion])
	}
}

func TestStreamMetrics_Noop(t *testing.T) {
	m, err := NewStreamMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("unexpected error creating metrics: %v", err)
	}
	ctx := context.Background()
	m.RecordSubscribe(ctx, "orders")
	m.RecordElements(ctx, "orders", 3)
	m.RecordTermination(ctx, "orders", StatusCompleted, "", time.Millisecond)
	m.RecordDropped(ctx, "next")
}

func TestStreamMetrics_Recorded(t *testing.T) {
	m, reader := manualMetrics(t)
	ctx := context.Background()

	m.RecordSubscribe(ctx, "orders")
	m.RecordSubscribe(ctx, "orders")
	m.RecordElements(ctx, "orders", 5)
	m.RecordTermination(ctx, "orders", StatusFailed, string(errors.KindTimeout), 10*time.Millisecond)
	m.RecordDropped(ctx, "error")

	data := collect(t, reader)
	if got := sumOf(t, data, "stream.subscriptions"); got != 2 {
		t.Errorf("subscriptions = %d, want 2", got)
	}
	if got := sumOf(t, data, "stream.subscriptions.active"); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}
	if got := sumOf(t, data, "stream.elements"); got != 5 {
		t.Errorf("elements = %d, want 5", got)
	}
	if got := sumOf(t, data, "stream.terminations"); got != 1 {
		t.Errorf("terminations = %d, want 1", got)
	}
	if got := sumOf(t, data, "stream.dropped"); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
	hist, ok := data["stream.subscription.duration"].(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("duration histogram = %+v, want one observation", data["stream.subscription.duration"])
	}
}

func TestSubscriptionContext_SpanOnComplete(t *testing.T) {
	rec := installRecorder(t)

	sc := NewSubscriptionContext("orders", "sub-1", nil, true)
	ctx := sc.Start(context.Background())
	if got := SubscriptionContextFromContext(ctx); got != sc {
		t.Fatal("expected subscription context in returned context")
	}
	if !SpanFromContext(ctx).SpanContext().IsValid() {
		t.Fatal("expected a valid span in returned context")
	}
	sc.Element(ctx)
	sc.Element(ctx)
	sc.End(ctx, StatusCompleted, nil)
	sc.End(ctx, StatusCancelled, nil)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != SpanSubscription {
		t.Errorf("span name = %q, want %q", span.Name(), SpanSubscription)
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs[AttrStreamName].AsString(); got != "orders" {
		t.Errorf("stream.name = %q, want orders", got)
	}
	if got := attrs[AttrSubscriptionID].AsString(); got != "sub-1" {
		t.Errorf("subscription id = %q, want sub-1", got)
	}
	if got := attrs[AttrElements].AsInt64(); got != 2 {
		t.Errorf("elements = %d, want 2", got)
	}
	if got := attrs[AttrStatus].AsString(); got != StatusCompleted {
		t.Errorf("status = %q, want %q", got, StatusCompleted)
	}
	if span.Status().Code == codes.Error {
		t.Error("completed span should not carry an error status")
	}
}

func TestSubscriptionContext_SpanOnError(t *testing.T) {
	rec := installRecorder(t)

	sc := NewSubscriptionContext("orders", "sub-2", nil, true)
	ctx := sc.Start(context.Background())
	sc.End(ctx, StatusFailed, errors.Timeout("first", time.Second))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status code = %v, want Error", spans[0].Status().Code)
	}
	var kind string
	for _, kv := range spans[0].Attributes() {
		if kv.Key == AttrErrorKind {
			kind = kv.Value.AsString()
		}
	}
	if kind != string(errors.KindTimeout) {
		t.Errorf("error.kind = %q, want %q", kind, errors.KindTimeout)
	}
}

func TestSubscriptionContext_MetricsOnly(t *testing.T) {
	rec := installRecorder(t)
	m, reader := manualMetrics(t)

	sc := NewSubscriptionContext("orders", "sub-3", m, false)
	ctx := sc.Start(context.Background())
	sc.Element(ctx)
	sc.End(ctx, StatusCancelled, nil)

	if n := len(rec.Ended()); n != 0 {
		t.Errorf("got %d spans, want 0", n)
	}
	if got := sc.Elements(); got != 1 {
		t.Errorf("Elements() = %d, want 1", got)
	}
	data := collect(t, reader)
	if got := sumOf(t, data, "stream.subscriptions.active"); got != 0 {
		t.Errorf("active = %d, want 0", got)
	}
}

func TestSubscriptionContextFromContext_Missing(t *testing.T) {
	if sc := SubscriptionContextFromContext(context.Background()); sc != nil {
		t.Error("expected nil without a subscription context")
	}
}

func TestSetSpanAttribute_NoSpan(t *testing.T) {
	SetSpanAttribute(context.Background(), "key", "value")
	SetSpanError(context.Background(), errors.New("boom"))
}

func TestSetSpanAttribute_Recorded(t *testing.T) {
	rec := installRecorder(t)

	ctx, span := StartSpan(context.Background(), "op")
	SetSpanAttribute(ctx, "str", "v")
	SetSpanAttribute(ctx, "int", 3)
	SetSpanAttribute(ctx, "bool", true)
	SetSpanError(ctx, errors.New("boom"))
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if n := len(spans[0].Attributes()); n != 3 {
		t.Errorf("got %d attributes, want 3", n)
	}
	if n := len(spans[0].Events()); n != 1 {
		t.Errorf("got %d events, want 1 (the recorded error)", n)
	}
}
