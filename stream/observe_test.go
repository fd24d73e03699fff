package stream_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/stream"
)

func captureStreamLog(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger.Register("stream", logger.NewWithWriter(&logger.Config{Level: level, Format: "json"}, "test", &buf))
	t.Cleanup(func() { logger.Unregister("stream") })
	return &buf
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("invalid log line %q: %v", sc.Text(), err)
		}
		lines = append(lines, m)
	}
	return lines
}

func TestLog_RecordsEverySignal(t *testing.T) {
	buf := captureStreamLog(t, "debug")
	ts := subscribe(stream.Log(stream.Just(1, 2), "numbers"))
	assertCompleted(t, ts)

	counts := map[string]int{}
	ids := map[any]struct{}{}
	for _, line := range logLines(t, buf) {
		if line[logger.FieldStream] != "numbers" {
			t.Errorf("got stream %v, want numbers", line[logger.FieldStream])
		}
		ids[line[logger.FieldSubscription]] = struct{}{}
		counts[line[logger.FieldSignal].(string)]++
	}
	want := map[string]int{"onSubscribe": 1, "request": 1, "onNext": 2, "onComplete": 1}
	for signal, n := range want {
		if counts[signal] != n {
			t.Errorf("got %d %s lines, want %d", counts[signal], signal, n)
		}
	}
	if len(ids) != 1 {
		t.Errorf("got %d subscription ids, want 1", len(ids))
	}
}

func TestLog_ErrorCarriesKind(t *testing.T) {
	buf := captureStreamLog(t, "debug")
	subscribe(stream.Log(stream.Error[int](errors.Overflow("full")), "failing"))

	found := false
	for _, line := range logLines(t, buf) {
		if line[logger.FieldSignal] == "onError" {
			found = true
			if line[logger.FieldKind] != string(errors.KindOverflow) {
				t.Errorf("got kind %v, want %s", line[logger.FieldKind], errors.KindOverflow)
			}
		}
	}
	if !found {
		t.Error("no onError line logged")
	}
}

func TestLogAt_BelowLoggerLevelIsSilent(t *testing.T) {
	buf := captureStreamLog(t, "warn")
	subscribe(stream.LogAt(stream.Just(1), "quiet", zerolog.InfoLevel))

	if buf.Len() != 0 {
		t.Errorf("got output %q, want none", buf.String())
	}
}

func installSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
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

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTrace_SpanPerSubscription(t *testing.T) {
	rec := installSpanRecorder(t)
	traced := stream.Trace(stream.Just(1, 2, 3), "orders")

	subscribe(traced)
	subscribe(traced)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	attrs := spanAttrs(spans[0])
	if got := attrs[observability.AttrStreamName].AsString(); got != "orders" {
		t.Errorf("got stream name %q, want orders", got)
	}
	if got := attrs[observability.AttrElements].AsInt64(); got != 3 {
		t.Errorf("got elements %d, want 3", got)
	}
	if got := attrs[observability.AttrStatus].AsString(); got != observability.StatusCompleted {
		t.Errorf("got status %q, want %q", got, observability.StatusCompleted)
	}
	if spans[0].SpanContext().TraceID() == spans[1].SpanContext().TraceID() {
		t.Error("independent subscriptions share a trace")
	}
}

func TestTrace_ErrorMarksSpan(t *testing.T) {
	rec := installSpanRecorder(t)
	subscribe(stream.Trace(stream.Error[int](errors.Timeout("fetch", 0)), "fetch"))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("got status %v, want %v", spans[0].Status().Code, codes.Error)
	}
	if got := spanAttrs(spans[0])[observability.AttrErrorKind].AsString(); got != string(errors.KindTimeout) {
		t.Errorf("got error kind %q, want %s", got, errors.KindTimeout)
	}
}

func TestTrace_CancelEndsSpan(t *testing.T) {
	rec := installSpanRecorder(t)
	ts := subscribe(stream.Trace(stream.Never[int](), "idle"))
	ts.Cancel()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if got := spanAttrs(spans[0])[observability.AttrStatus].AsString(); got != observability.StatusCancelled {
		t.Errorf("got status %q, want %q", got, observability.StatusCancelled)
	}
}

func TestTrace_NestedStagesProduceChildSpans(t *testing.T) {
	rec := installSpanRecorder(t)
	inner := stream.Trace(stream.Just(1), "inner")
	outer := stream.Trace(stream.Map(inner, func(v int) (int, error) { return v * 2, nil }), "outer")
	subscribe(outer)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		byName[spanAttrs(s)[observability.AttrStreamName].AsString()] = s
	}
	if byName["inner"].Parent().SpanID() != byName["outer"].SpanContext().SpanID() {
		t.Error("inner span is not a child of the outer span")
	}
}

func TestMetrics_RecordsSubscriptionLifecycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observability.NewStreamMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatal(err)
	}

	subscribe(stream.Metrics(stream.Range(0, 4), "numbers", m))
	subscribe(stream.Metrics(stream.Error[int](errors.New("boom")), "numbers", m))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[md.Name] += dp.Value
				}
			}
		}
	}
	want := map[string]int64{
		"stream.subscriptions":        2,
		"stream.subscriptions.active": 0,
		"stream.elements":             4,
		"stream.terminations":         2,
	}
	for name, n := range want {
		if sums[name] != n {
			t.Errorf("got %s=%d, want %d", name, sums[name], n)
		}
	}
}

func TestMetrics_NilRejected(t *testing.T) {
	ts := subscribe(stream.Metrics(stream.Just(1), "numbers", nil))

	if k := errors.KindOf(ts.Err()); k != errors.KindIllegalArgument {
		t.Errorf("got kind %s, want %s", k, errors.KindIllegalArgument)
	}
}
