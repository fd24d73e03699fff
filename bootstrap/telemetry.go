package bootstrap

import (
	"context"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/kbukum/flowkit/component"
	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/observability"
)

// newTelemetry returns a component that installs the OTLP tracer and meter
// providers on Start and flushes them on Stop.
func newTelemetry(cfg *config.Config) *component.Func {
	var (
		tp *sdktrace.TracerProvider
		mp *sdkmetric.MeterProvider
	)
	o := cfg.Observability

	start := func(ctx context.Context) error {
		if o.Tracing {
			p, err := observability.InitTracer(ctx, observability.TracerConfig{
				ServiceName:    cfg.Name,
				ServiceVersion: cfg.Version,
				Environment:    cfg.Environment,
				Endpoint:       o.Endpoint,
				Insecure:       o.Insecure,
				SampleRate:     o.SampleRate,
			})
			if err != nil {
				return err
			}
			tp = p
		}
		if o.Metrics {
			p, err := observability.InitMeter(ctx, &observability.MeterConfig{
				ServiceName:    cfg.Name,
				ServiceVersion: cfg.Version,
				Environment:    cfg.Environment,
				Endpoint:       o.Endpoint,
				Insecure:       o.Insecure,
				Interval:       o.Interval,
			})
			if err != nil {
				if tp != nil {
					_ = tp.Shutdown(ctx)
					tp = nil
				}
				return err
			}
			mp = p
		}
		return nil
	}

	stop := func(ctx context.Context) error {
		var errs []error
		if mp != nil {
			errs = append(errs, mp.Shutdown(ctx))
			mp = nil
		}
		if tp != nil {
			errs = append(errs, tp.Shutdown(ctx))
			tp = nil
		}
		return errors.Join(errs...)
	}

	return component.NewFunc("telemetry", start, stop)
}
