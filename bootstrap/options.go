package bootstrap

import (
	"time"

	"github.com/kbukum/flowkit/logger"
	"github.com/kbukum/flowkit/scheduler"
)

// Option configures the Engine during creation.
type Option func(*engineOptions)

type engineOptions struct {
	logger          *logger.Logger
	gracefulTimeout *time.Duration
	schedulers      []scheduler.Scheduler
}

func resolveOptions(opts []Option) *engineOptions {
	o := &engineOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets a custom logger for the engine.
// If not set, the logger is initialized from the config's Logging field.
func WithLogger(l *logger.Logger) Option {
	return func(o *engineOptions) {
		o.logger = l
	}
}

// WithGracefulTimeout sets the maximum duration for graceful shutdown.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *engineOptions) {
		o.gracefulTimeout = &d
	}
}

// WithScheduler registers an additional scheduler owned by the engine, for
// example a scheduler.Virtual in tests. Its name must not clash with the
// built-in ones.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(o *engineOptions) {
		o.schedulers = append(o.schedulers, s)
	}
}
