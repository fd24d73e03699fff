package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/flowkit/component"
	"github.com/kbukum/flowkit/config"
	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/observability"
	"github.com/kbukum/flowkit/resilience"
	"github.com/kbukum/flowkit/scheduler"
	"github.com/kbukum/flowkit/stream"
	"github.com/kbukum/flowkit/version"
)

// Names of the schedulers every engine registers.
const (
	SchedulerSingle   = "single"
	SchedulerBounded  = "bounded"
	SchedulerParallel = "parallel"
)

const defaultGracefulTimeout = 15 * time.Second

// Engine owns the process-wide pieces of a stream application: the logger,
// the global stream hooks, the shared schedulers and the telemetry
// providers.
//
// Example:
//
//	eng, err := bootstrap.New(&cfg)
//	if err != nil {
//	    return err
//	}
//	return eng.RunTask(ctx, func(ctx context.Context) error {
//	    _, err := stream.Collect(ctx, stream.PublishOn(source, eng.Bounded(), eng.Cfg.Stream.Prefetch))
//	    return err
//	})
type Engine struct {
	Name       string
	Version    string
	Cfg        *config.Config
	Components *component.Registry
	Schedulers *scheduler.Registry
	Logger     *logger.Logger
	// Metrics is nil unless metrics export is enabled.
	Metrics *observability.StreamMetrics
	Summary *Summary

	gracefulTimeout time.Duration

	onStart []Hook
	onReady []Hook
	onStop  []Hook
}

// New creates an engine from cfg. It applies defaults, validates the config,
// initializes the logger, installs the stream hooks and builds the shared
// schedulers. Nothing runs until Start, Run or RunTask.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.IllegalArgument("config is nil")
	}
	cfg.ApplyDefaults()
	if cfg.Version == "" {
		cfg.Version = version.Get().Short()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	o := resolveOptions(opts)
	log := o.logger
	if log == nil {
		logger.Init(&cfg.Logging)
		log = logger.GetGlobalLogger()
	}
	for _, name := range []string{"stream", "scheduler", "component", "config", "observability"} {
		logger.Register(name, log.WithComponent(name))
	}

	e := &Engine{
		Name:            cfg.Name,
		Version:         cfg.Version,
		Cfg:             cfg,
		Components:      component.NewRegistry(),
		Schedulers:      scheduler.NewRegistry(),
		Logger:          log,
		gracefulTimeout: defaultGracefulTimeout,
	}
	if o.gracefulTimeout != nil {
		e.gracefulTimeout = *o.gracefulTimeout
	}

	if cfg.Observability.Metrics {
		// The global meter delegates to the provider installed on Start.
		m, err := observability.NewStreamMetrics(observability.Meter(cfg.Name))
		if err != nil {
			return nil, fmt.Errorf("stream metrics: %w", err)
		}
		e.Metrics = m
	}

	if err := e.buildSchedulers(o.schedulers); err != nil {
		return nil, err
	}

	if cfg.Observability.Enabled() {
		if err := e.Components.Register(newTelemetry(cfg)); err != nil {
			return nil, err
		}
	}
	if err := e.Components.Register(e.Schedulers); err != nil {
		return nil, err
	}

	e.installHooks()
	stream.EnableAssemblyTracing(cfg.Stream.AssemblyTracing)

	e.Summary = NewSummary(cfg.Name, cfg.Version)
	return e, nil
}

func (e *Engine) buildSchedulers(extra []scheduler.Scheduler) error {
	var opts []scheduler.Option
	opts = append(opts, scheduler.WithLogger(logger.Get("scheduler")))
	if e.Cfg.Observability.Metrics {
		opts = append(opts, scheduler.WithMeter(observability.Meter(e.Cfg.Name)))
	}

	s := e.Cfg.Schedulers
	all := []scheduler.Scheduler{
		scheduler.NewSingle(SchedulerSingle, opts...),
		scheduler.NewBounded(SchedulerBounded, s.Bounded.MaxWorkers, s.Bounded.MaxQueued,
			append(opts, scheduler.WithIdleTTL(s.Bounded.TTL))...),
		scheduler.NewParallel(SchedulerParallel, s.Parallel.Workers, opts...),
	}
	all = append(all, extra...)

	for _, sch := range all {
		if err := e.Schedulers.Register(sch); err != nil {
			for _, built := range all {
				built.Dispose()
			}
			return err
		}
	}
	return nil
}

// installHooks routes undeliverable signals to the engine logger and, when
// enabled, the dropped-signal counter.
func (e *Engine) installHooks() {
	metrics := e.Metrics
	stream.SetHooks(stream.Hooks{
		OnErrorDropped: func(err error) {
			logger.Get("stream").Warn("Error dropped", logger.Fields(
				logger.FieldError, err.Error(),
				logger.FieldKind, string(errors.KindOf(err)),
			))
			if metrics != nil {
				metrics.RecordDropped(context.Background(), "error")
			}
		},
		OnNextDropped: func(v any) {
			logger.Get("stream").Debug("Value dropped", logger.Fields(logger.FieldValue, fmt.Sprint(v)))
			if metrics != nil {
				metrics.RecordDropped(context.Background(), "next")
			}
		},
		OnRetryExhausted: func(err error) {
			logger.Get("stream").Warn("Retries exhausted", logger.Fields(logger.FieldError, err.Error()))
		},
	})
}

// Single returns the shared single-worker scheduler.
func (e *Engine) Single() scheduler.Scheduler { return e.Schedulers.MustGet(SchedulerSingle) }

// Bounded returns the shared bounded elastic scheduler for blocking work.
func (e *Engine) Bounded() scheduler.Scheduler { return e.Schedulers.MustGet(SchedulerBounded) }

// Parallel returns the shared fixed-size scheduler for CPU-bound work.
func (e *Engine) Parallel() scheduler.Scheduler { return e.Schedulers.MustGet(SchedulerParallel) }

// RetryPolicy returns the configured default retry policy.
func (e *Engine) RetryPolicy() resilience.RetryPolicy { return e.Cfg.Retry.Policy() }

// RegisterComponent adds a component started after the engine's own.
func (e *Engine) RegisterComponent(c component.Component) error {
	return e.Components.Register(c)
}

// ReadyCheck verifies that all registered components are healthy.
func (e *Engine) ReadyCheck(ctx context.Context) error {
	var unhealthy []string
	for _, h := range e.Components.HealthAll(ctx) {
		if h.Status != component.StatusHealthy {
			detail := h.Name + "=" + string(h.Status)
			if h.Message != "" {
				detail += "(" + h.Message + ")"
			}
			unhealthy = append(unhealthy, detail)
		}
	}
	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy components: %v", unhealthy)
	}
	return nil
}

// Start starts every component and runs the OnStart and OnReady hooks.
// Use it with Shutdown when managing the lifecycle yourself.
func (e *Engine) Start(ctx context.Context) error {
	start := time.Now()

	e.Logger.Info("Starting engine", logger.Fields(
		"name", e.Name,
		"version", e.Version,
		"engine", version.Get().Engine,
	))

	if err := e.Components.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start components: %w", err)
	}
	if err := runHooks(ctx, e.onStart); err != nil {
		return fmt.Errorf("onStart hook failed: %w", err)
	}
	if err := e.ReadyCheck(ctx); err != nil {
		e.Logger.Warn("Ready check reported issues", logger.Fields(logger.FieldError, err.Error()))
	}
	if err := runHooks(ctx, e.onReady); err != nil {
		return fmt.Errorf("onReady hook failed: %w", err)
	}

	e.Summary.SetStartupDuration(time.Since(start))
	if e.Cfg.Debug {
		e.DisplaySummary()
	}
	return nil
}

// DisplaySummary prints the startup summary with live health.
func (e *Engine) DisplaySummary() {
	e.Summary.DisplaySummary(e.Cfg, e.Schedulers, e.Components)
}

// Run starts the engine, blocks until a shutdown signal or ctx is done,
// then shuts down.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	e.Logger.Info("Engine ready, waiting for shutdown signal")
	e.WaitForSignal(ctx)
	return e.stop()
}

// RunTask starts the engine, runs task and shuts down once it returns. The
// task context is cancelled on SIGINT or SIGTERM. The task error takes
// precedence over a shutdown error.
func (e *Engine) RunTask(ctx context.Context, task func(ctx context.Context) error) error {
	if err := e.Start(ctx); err != nil {
		if stopErr := e.stop(); stopErr != nil {
			e.Logger.Error("Shutdown after failed start", logger.Fields(logger.FieldError, stopErr.Error()))
		}
		return err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			e.Logger.Info("Received signal, cancelling task", logger.Fields("signal", sig.String()))
			cancel()
		case <-taskCtx.Done():
		}
	}()

	taskErr := task(taskCtx)

	if stopErr := e.stop(); stopErr != nil && taskErr == nil {
		return stopErr
	}
	return taskErr
}

// WaitForSignal blocks until SIGINT, SIGTERM or ctx cancellation.
func (e *Engine) WaitForSignal(ctx context.Context) os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		e.Logger.Info("Received shutdown signal", logger.Fields("signal", sig.String()))
		return sig
	case <-ctx.Done():
		e.Logger.Info("Context cancelled, shutting down")
		return nil
	}
}

// Shutdown runs the OnStop hooks, stops every component in reverse order
// (disposing the schedulers) and restores the default stream hooks.
func (e *Engine) Shutdown(_ context.Context) error {
	return e.stop()
}

func (e *Engine) stop() error {
	e.Logger.Info("Shutting down engine", logger.Fields("timeout", e.gracefulTimeout.String()))

	ctx, cancel := context.WithTimeout(context.Background(), e.gracefulTimeout)
	defer cancel()

	var shutdownErr error
	if err := runHooks(ctx, e.onStop); err != nil {
		e.Logger.Error("OnStop hook error", logger.Fields(logger.FieldError, err.Error()))
		shutdownErr = err
	}
	if err := e.Components.StopAll(ctx); err != nil {
		e.Logger.Error("Shutdown completed with errors", logger.Fields(logger.FieldError, err.Error()))
		shutdownErr = errors.Join(shutdownErr, err)
	}
	// Schedulers are disposed even when the engine never started.
	_ = e.Schedulers.Stop(ctx)

	stream.ResetHooks()
	stream.EnableAssemblyTracing(false)

	e.Logger.Info("Engine shutdown complete")
	return shutdownErr
}
