package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kbukum/flowkit/component"
	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/scheduler"
	"github.com/kbukum/flowkit/stream"
)

// mockComponent implements component.Component for testing.
type mockComponent struct {
	name     string
	startErr error
	stopErr  error
	health   component.Health
	started  bool
	stopped  bool
}

func (m *mockComponent) Name() string { return m.name }
func (m *mockComponent) Start(ctx context.Context) error {
	m.started = true
	return m.startErr
}
func (m *mockComponent) Stop(ctx context.Context) error {
	m.stopped = true
	return m.stopErr
}
func (m *mockComponent) Health(ctx context.Context) component.Health {
	return m.health
}

func newTestConfig(name, version string) *config.Config {
	return &config.Config{
		Name:        name,
		Version:     version,
		Environment: "staging",
	}
}

func quietLogger() *logger.Logger {
	return logger.NewWithWriter(&logger.Config{Level: "error", Format: "json"}, "test", io.Discard)
}

func newTestEngine(t *testing.T, cfg *config.Config, opts ...Option) *Engine {
	t.Helper()
	eng, err := New(cfg, append([]Option{WithLogger(quietLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })
	return eng
}

func TestNew(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("orders", "1.2.0"))

	if eng.Name != "orders" || eng.Version != "1.2.0" {
		t.Errorf("got name %q version %q", eng.Name, eng.Version)
	}
	for _, name := range []string{SchedulerSingle, SchedulerBounded, SchedulerParallel} {
		if _, ok := eng.Schedulers.Get(name); !ok {
			t.Errorf("scheduler %s not registered", name)
		}
	}
	if eng.Components.Get("schedulers") == nil {
		t.Error("scheduler registry not registered as a component")
	}
	if eng.Components.Get("telemetry") != nil {
		t.Error("telemetry registered with observability disabled")
	}
	if eng.Metrics != nil {
		t.Error("metrics created with metrics disabled")
	}
	if eng.Cfg.Stream.Prefetch != config.DefaultPrefetch {
		t.Errorf("got prefetch %d, want defaults applied", eng.Cfg.Stream.Prefetch)
	}
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(nil)
	if k := errors.KindOf(err); k != errors.KindIllegalArgument {
		t.Errorf("got kind %s, want %s", k, errors.KindIllegalArgument)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := newTestConfig("", "1.0")
	_, err := New(cfg, WithLogger(quietLogger()))
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if k := errors.KindOf(err); k != errors.KindIllegalArgument {
		t.Errorf("got kind %s, want %s", k, errors.KindIllegalArgument)
	}
}

func TestNew_TelemetryRegisteredWhenEnabled(t *testing.T) {
	cfg := newTestConfig("orders", "1.0")
	cfg.Observability.Tracing = true
	eng := newTestEngine(t, cfg)

	names := []string{}
	for _, c := range eng.Components.All() {
		names = append(names, c.Name())
	}
	if !slices.Equal(names, []string{"telemetry", "schedulers"}) {
		t.Errorf("got components %v, want [telemetry schedulers]", names)
	}
}

func TestWithGracefulTimeout(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"), WithGracefulTimeout(30*time.Second))
	if eng.gracefulTimeout != 30*time.Second {
		t.Errorf("got %v, want 30s", eng.gracefulTimeout)
	}
}

func TestDefaultGracefulTimeout(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"))
	if eng.gracefulTimeout != 15*time.Second {
		t.Errorf("got %v, want 15s", eng.gracefulTimeout)
	}
}

func TestWithScheduler(t *testing.T) {
	v := scheduler.NewVirtual()
	eng := newTestEngine(t, newTestConfig("test", "1.0"), WithScheduler(v))

	if got, ok := eng.Schedulers.Get("virtual"); !ok || got != scheduler.Scheduler(v) {
		t.Fatal("virtual scheduler not registered")
	}
	if err := eng.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !v.IsDisposed() {
		t.Error("extra scheduler not disposed on shutdown")
	}
}

func TestWithScheduler_DuplicateName(t *testing.T) {
	extra := scheduler.NewSingle(SchedulerSingle)
	_, err := New(newTestConfig("test", "1.0"), WithLogger(quietLogger()), WithScheduler(extra))
	if err == nil {
		t.Fatal("expected a duplicate scheduler error")
	}
	if !extra.IsDisposed() {
		t.Error("schedulers leaked after a failed New")
	}
}

func TestRegisterComponentDuplicate(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"))
	if err := eng.RegisterComponent(&mockComponent{name: "schedulers"}); err == nil {
		t.Error("expected a duplicate component error")
	}
}

func TestRunTaskSuccess(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"))
	executed := false
	err := eng.RunTask(context.Background(), func(ctx context.Context) error {
		executed = true
		return nil
	})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if !executed {
		t.Error("expected task to be executed")
	}
}

func TestRunTaskError(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"))
	err := eng.RunTask(context.Background(), func(ctx context.Context) error {
		return fmt.Errorf("task error")
	})
	if err == nil || err.Error() != "task error" {
		t.Errorf("got %v, want task error", err)
	}
}

func TestRunTaskCancellation(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"))
	ctx, cancel := context.WithCancel(context.Background())

	err := eng.RunTask(ctx, func(taskCtx context.Context) error {
		cancel()
		<-taskCtx.Done()
		return taskCtx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want %v", err, context.Canceled)
	}
}

func TestRunTaskWithHooks(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"))

	var order []string
	record := func(name string) Hook {
		return func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	eng.OnStart(record("start"))
	eng.OnReady(record("ready"))
	eng.OnStop(record("stop"))

	_ = eng.RunTask(context.Background(), func(ctx context.Context) error {
		order = append(order, "task")
		return nil
	})

	want := []string{"start", "ready", "task", "stop"}
	if !slices.Equal(order, want) {
		t.Errorf("got %v, want %v", order, want)
	}
}

func TestRunTaskWithStartHookError(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"))
	eng.OnStart(func(ctx context.Context) error { return fmt.Errorf("boom") })

	executed := false
	err := eng.RunTask(context.Background(), func(ctx context.Context) error {
		executed = true
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "onStart hook failed") {
		t.Errorf("got %v, want an onStart error", err)
	}
	if executed {
		t.Error("task ran after a failed start")
	}
	if !eng.Bounded().IsDisposed() {
		t.Error("schedulers not disposed after a failed start")
	}
}

func TestRunTaskWithStopHookError(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"))
	eng.OnStop(func(ctx context.Context) error { return fmt.Errorf("stop failed") })

	err := eng.RunTask(context.Background(), func(ctx context.Context) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "stop failed") {
		t.Errorf("got %v, want the stop hook error", err)
	}
}

func TestRunTaskComponentStartError(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"))
	_ = eng.RegisterComponent(&mockComponent{name: "source", startErr: fmt.Errorf("unreachable")})

	err := eng.RunTask(context.Background(), func(ctx context.Context) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Errorf("got %v, want the component start error", err)
	}
}

func TestRunTaskWithComponents(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"))
	comp := &mockComponent{
		name:   "source",
		health: component.Health{Name: "source", Status: component.StatusHealthy},
	}
	_ = eng.RegisterComponent(comp)

	_ = eng.RunTask(context.Background(), func(ctx context.Context) error { return nil })

	if !comp.started {
		t.Error("expected component to be started")
	}
	if !comp.stopped {
		t.Error("expected component to be stopped after task")
	}
}

func TestRunTask_PipelineOnSharedSchedulers(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"))

	var got []int
	err := eng.RunTask(context.Background(), func(ctx context.Context) error {
		s := stream.SubscribeOn(stream.Range(0, 5), eng.Bounded())
		s = stream.PublishOn(s, eng.Single(), eng.Cfg.Stream.Prefetch)
		var err error
		got, err = stream.Collect(ctx, s)
		return err
	})
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
		t.Errorf("got %v, want [0 1 2 3 4]", got)
	}
}

func TestShutdown_DisposesSchedulers(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"))
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := eng.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for _, s := range []scheduler.Scheduler{eng.Single(), eng.Bounded(), eng.Parallel()} {
		if !s.IsDisposed() {
			t.Errorf("scheduler %s not disposed", s.Name())
		}
	}
	if _, err := eng.Bounded().Schedule(func() {}); err == nil {
		t.Error("expected a disposed scheduler to reject work")
	}
	if h := eng.Schedulers.Health(context.Background()); h.Status != component.StatusUnhealthy {
		t.Errorf("got %s, want unhealthy after shutdown", h.Status)
	}
}

func TestShutdown_WithoutStart(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"))
	if err := eng.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !eng.Parallel().IsDisposed() {
		t.Error("scheduler not disposed when the engine never started")
	}
}

func TestAssemblyTracingFollowsConfig(t *testing.T) {
	cfg := newTestConfig("test", "1.0")
	cfg.Stream.AssemblyTracing = true
	eng := newTestEngine(t, cfg)

	if !stream.AssemblyTracingEnabled() {
		t.Error("assembly tracing not enabled")
	}
	_ = eng.Shutdown(context.Background())
	if stream.AssemblyTracingEnabled() {
		t.Error("assembly tracing still enabled after shutdown")
	}
}

func TestHooks_DroppedSignalsAreLogged(t *testing.T) {
	newTestEngine(t, newTestConfig("test", "1.0"))
	var buf bytes.Buffer
	logger.Register("stream", logger.NewWithWriter(&logger.Config{Level: "debug", Format: "json"}, "test", &buf))
	t.Cleanup(func() { logger.Unregister("stream") })

	sink := stream.NewMulticast[int](stream.MulticastConfig{})
	sink.Complete()
	sink.Next(7)
	sink.Error(errors.Overflow("late"))

	out := buf.String()
	if !strings.Contains(out, "Value dropped") || !strings.Contains(out, `"value":"7"`) {
		t.Errorf("got %q, want the dropped value logged", out)
	}
	if !strings.Contains(out, "Error dropped") || !strings.Contains(out, string(errors.KindOverflow)) {
		t.Errorf("got %q, want the dropped error logged with its kind", out)
	}
}

func TestHooks_DroppedSignalsAreCounted(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(mp)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		_ = mp.Shutdown(context.Background())
	})

	cfg := newTestConfig("test", "1.0")
	cfg.Observability.Metrics = true
	eng := newTestEngine(t, cfg)
	if eng.Metrics == nil {
		t.Fatal("expected stream metrics")
	}

	sink := stream.NewMulticast[int](stream.MulticastConfig{})
	sink.Complete()
	sink.Next(1)
	sink.Next(2)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var dropped int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok && md.Name == "stream.dropped" {
				for _, dp := range sum.DataPoints {
					dropped += dp.Value
				}
			}
		}
	}
	if dropped != 2 {
		t.Errorf("got stream.dropped=%d, want 2", dropped)
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	cfg := newTestConfig("test", "1.0")
	cfg.Retry.MaxRetries = 9
	eng := newTestEngine(t, cfg)

	if got := eng.RetryPolicy().MaxRetries; got != 9 {
		t.Errorf("got max retries %d, want 9", got)
	}
}

func TestReadyCheckAllHealthy(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"))
	_ = eng.RegisterComponent(&mockComponent{
		name:   "source",
		health: component.Health{Name: "source", Status: component.StatusHealthy},
	})

	if err := eng.ReadyCheck(context.Background()); err != nil {
		t.Errorf("expected ready, got %v", err)
	}
}

func TestReadyCheckUnhealthy(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("test", "1.0"))
	_ = eng.RegisterComponent(&mockComponent{
		name:   "source",
		health: component.Health{Name: "source", Status: component.StatusDegraded, Message: "lagging"},
	})

	err := eng.ReadyCheck(context.Background())
	if err == nil || !strings.Contains(err.Error(), "source=degraded(lagging)") {
		t.Errorf("got %v, want the degraded component listed", err)
	}
}

func TestTelemetryBeforeStart(t *testing.T) {
	cfg := newTestConfig("test", "1.0")
	cfg.Observability.Metrics = true
	tel := newTelemetry(cfg)

	if tel.Name() != "telemetry" {
		t.Errorf("got name %q, want telemetry", tel.Name())
	}
	if h := tel.Health(context.Background()); h.Status != component.StatusUnhealthy {
		t.Errorf("got %s, want unhealthy before start", h.Status)
	}
	if err := tel.Stop(context.Background()); err != nil {
		t.Errorf("Stop before start: %v", err)
	}
}

func TestNewSummary(t *testing.T) {
	s := NewSummary("orders", "1.0")
	if s.serviceName != "orders" || s.version != "1.0" {
		t.Errorf("got %q %q", s.serviceName, s.version)
	}
	if len(s.components) != 0 || len(s.pipelines) != 0 {
		t.Error("expected an empty summary")
	}
}

func TestSummaryDisplaySummary(t *testing.T) {
	eng := newTestEngine(t, newTestConfig("orders", "1.0"))
	var buf bytes.Buffer
	eng.Summary.SetOutput(&buf)
	eng.Summary.TrackComponent("source", "active", true)
	eng.Summary.TrackPipeline("ingest", SchedulerBounded, "map", "filter", "buffer")
	eng.Summary.SetStartupDuration(1500 * time.Millisecond)

	eng.DisplaySummary()

	out := buf.String()
	for _, want := range []string{
		"orders 1.0 started in 1.50s",
		"prefetch: 32",
		"telemetry: disabled",
		"bounded: 0",
		"ingest on bounded: map → filter → buffer",
		"All components healthy (1/1)",
		"schedulers (healthy)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestSummaryDisplaySummaryNilArgs(t *testing.T) {
	var buf bytes.Buffer
	s := NewSummary("orders", "")
	s.SetOutput(&buf)
	s.TrackComponent("source", "failed", false)

	s.DisplaySummary(nil, nil, nil)

	out := buf.String()
	if !strings.Contains(out, "orders dev") {
		t.Errorf("got %q, want the dev version placeholder", out)
	}
	if !strings.Contains(out, "(0/1 healthy)") {
		t.Errorf("got %q, want the unhealthy count", out)
	}
}

func TestTreePrefix(t *testing.T) {
	if got := treePrefix(0, 2); got != "├──" {
		t.Errorf("got %q, want ├──", got)
	}
	if got := treePrefix(1, 2); got != "└──" {
		t.Errorf("got %q, want └──", got)
	}
}

func TestStatusIcon(t *testing.T) {
	tests := []struct {
		status  string
		healthy bool
		want    string
	}{
		{"active", true, "✅"},
		{"running", true, "✅"},
		{"lazy", true, "⚡"},
		{"disabled", true, "⏸️"},
		{"failed", true, "❌"},
		{"active", false, "❌"},
		{"unknown", true, "⚠️"},
	}
	for _, tt := range tests {
		if got := statusIcon(tt.status, tt.healthy); got != tt.want {
			t.Errorf("statusIcon(%q, %t) = %q, want %q", tt.status, tt.healthy, got, tt.want)
		}
	}
}

func TestHealthStatusIcon(t *testing.T) {
	tests := []struct {
		status component.HealthStatus
		want   string
	}{
		{component.StatusHealthy, "✅"},
		{component.StatusDegraded, "⚠️"},
		{component.StatusUnhealthy, "❌"},
		{"other", "❓"},
	}
	for _, tt := range tests {
		if got := healthStatusIcon(tt.status); got != tt.want {
			t.Errorf("healthStatusIcon(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
