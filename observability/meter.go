package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/flowkit/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the service.
	ServiceName string
	// ServiceVersion is the version of the service.
	ServiceVersion string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider and installs it
// globally. The returned provider should be shut down on exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Get("observability").Info("Meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// StreamMetrics holds the instruments recorded for stream subscriptions.
type StreamMetrics struct {
	subscriptions metric.Int64Counter
	active        metric.Int64UpDownCounter
	elements      metric.Int64Counter
	terminations  metric.Int64Counter
	duration      metric.Float64Histogram
	dropped       metric.Int64Counter
}

// NewStreamMetrics creates the stream instruments on the given meter.
func NewStreamMetrics(meter metric.Meter) (*StreamMetrics, error) {
	subscriptions, err := meter.Int64Counter("stream.subscriptions",
		metric.WithDescription("Total number of subscriptions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stream.subscriptions counter: %w", err)
	}

	active, err := meter.Int64UpDownCounter("stream.subscriptions.active",
		metric.WithDescription("Number of subscriptions not yet terminated"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stream.subscriptions.active gauge: %w", err)
	}

	elements, err := meter.Int64Counter("stream.elements",
		metric.WithDescription("Total number of values delivered"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stream.elements counter: %w", err)
	}

	terminations, err := meter.Int64Counter("stream.terminations",
		metric.WithDescription("Subscriptions ended by status and error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stream.terminations counter: %w", err)
	}

	duration, err := meter.Float64Histogram("stream.subscription.duration",
		metric.WithDescription("Lifetime of subscriptions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stream.subscription.duration histogram: %w", err)
	}

	dropped, err := meter.Int64Counter("stream.dropped",
		metric.WithDescription("Signals that could not be delivered, by signal"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stream.dropped counter: %w", err)
	}

	return &StreamMetrics{
		subscriptions: subscriptions,
		active:        active,
		elements:      elements,
		terminations:  terminations,
		duration:      duration,
		dropped:       dropped,
	}, nil
}

// RecordSubscribe records a new subscription to stream.
func (m *StreamMetrics) RecordSubscribe(ctx context.Context, stream string) {
	attrs := metric.WithAttributes(attribute.String(AttrStreamName, stream))
	m.subscriptions.Add(ctx, 1, attrs)
	m.active.Add(ctx, 1, attrs)
}

// RecordElements records n values delivered by stream.
func (m *StreamMetrics) RecordElements(ctx context.Context, stream string, n int64) {
	m.elements.Add(ctx, n, metric.WithAttributes(attribute.String(AttrStreamName, stream)))
}

// RecordTermination records the end of a subscription. kind is empty unless
// status is StatusFailed.
func (m *StreamMetrics) RecordTermination(ctx context.Context, stream, status, kind string, d time.Duration) {
	m.active.Add(ctx, -1, metric.WithAttributes(attribute.String(AttrStreamName, stream)))
	m.terminations.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrStreamName, stream),
		attribute.String(AttrStatus, status),
		attribute.String(AttrErrorKind, kind),
	))
	m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String(AttrStreamName, stream),
		attribute.String(AttrStatus, status),
	))
}

// RecordDropped records a signal dropped by the engine ("next" or "error").
func (m *StreamMetrics) RecordDropped(ctx context.Context, signal string) {
	m.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("signal", signal)))
}
