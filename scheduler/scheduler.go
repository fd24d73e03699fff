package scheduler

import (
	"time"

	"github.com/kbukum/flowkit/logger"
	"go.opentelemetry.io/otel/metric"
)

// Task is a unit of work run by a Scheduler.
type Task func()

// Disposable cancels a scheduled task or a subscription.
type Disposable interface {
	// Dispose cancels the underlying work. It is idempotent.
	Dispose()
	// IsDisposed reports whether Dispose was called or the work has finished.
	IsDisposed() bool
}

// Scheduler is a named execution context.
type Scheduler interface {
	// Name returns the scheduler name.
	Name() string
	// Schedule runs task as soon as possible.
	Schedule(task Task) (Disposable, error)
	// ScheduleDelayed runs task once after delay.
	ScheduleDelayed(task Task, delay time.Duration) (Disposable, error)
	// SchedulePeriodic runs task after initial and then repeatedly, waiting
	// period between the end of one run and the start of the next.
	SchedulePeriodic(task Task, initial, period time.Duration) (Disposable, error)
	// Now returns the scheduler's notion of the current time.
	Now() time.Time
	// Pending returns the number of tasks not yet finished or disposed.
	Pending() int
	// Dispose rejects new tasks and cancels pending ones. Running tasks finish.
	Dispose()
	// IsDisposed reports whether Dispose was called.
	IsDisposed() bool
}

// DisposableFunc adapts a function to Disposable. The function runs at most once.
func DisposableFunc(fn func()) Disposable {
	return &funcDisposable{fn: fn}
}

// Disposed is a Disposable that is already disposed.
var Disposed Disposable = disposed{}

type disposed struct{}

func (disposed) Dispose()         {}
func (disposed) IsDisposed() bool { return true }

// Option configures a scheduler.
type Option func(*options)

type options struct {
	meter   metric.Meter
	log     *logger.Logger
	idleTTL time.Duration
}

// WithMeter records task metrics on m instead of the global meter provider.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithLogger replaces the "scheduler" component logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithIdleTTL sets how long an idle bounded worker waits before exiting.
func WithIdleTTL(d time.Duration) Option {
	return func(o *options) { o.idleTTL = d }
}

func applyOptions(opts []Option) options {
	o := options{idleTTL: DefaultIdleTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get("scheduler")
	}
	return o
}
