// Package bootstrap builds and runs a flowkit engine from a config.Config.
//
// New applies config defaults, validates them, initializes the logger,
// installs the global stream hooks and builds the shared single, bounded and
// parallel schedulers. When observability is enabled it also registers a
// telemetry component that installs the OTLP tracer and meter providers.
//
// # Quick Start
//
//	var cfg config.Config
//	if err := config.LoadConfig("orders", &cfg); err != nil {
//	    log.Fatal(err)
//	}
//	eng, err := bootstrap.New(&cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = eng.RunTask(ctx, func(ctx context.Context) error {
//	    _, err := stream.Collect(ctx, pipeline(eng))
//	    return err
//	})
//
// Shutdown runs the OnStop hooks, stops components in reverse registration
// order and disposes every scheduler, cancelling their pending tasks.
package bootstrap
