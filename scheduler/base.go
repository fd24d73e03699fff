package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
)

const instrumentationName = "github.com/kbukum/flowkit/scheduler"

// base tracks the tasks of one scheduler and runs them with panic recovery.
type base struct {
	name string
	log  *logger.Logger
	inst *instruments

	mu       sync.Mutex
	disposed bool
	active   map[*task]struct{}
}

func newBase(name string, o options) *base {
	return &base{
		name:   name,
		log:    o.log.WithFields(logger.Fields(logger.FieldScheduler, name)),
		inst:   newInstruments(o.meter, name),
		active: make(map[*task]struct{}),
	}
}

func (b *base) Name() string { return b.name }

func (b *base) IsDisposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}

func (b *base) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

// track registers t; it fails once the scheduler is disposed.
func (b *base) track(t *task) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return false
	}
	b.active[t] = struct{}{}
	return true
}

func (b *base) untrack(t *task) {
	b.mu.Lock()
	delete(b.active, t)
	b.mu.Unlock()
}

// disposeAll marks the scheduler disposed and cancels every tracked task.
// It reports false if the scheduler was already disposed.
func (b *base) disposeAll() bool {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return false
	}
	b.disposed = true
	tasks := make([]*task, 0, len(b.active))
	for t := range b.active {
		tasks = append(tasks, t)
	}
	b.mu.Unlock()

	for _, t := range tasks {
		t.Dispose()
	}
	b.log.Debug("Scheduler disposed", logger.Fields("cancelled", len(tasks)))
	return true
}

func (b *base) rejected() error {
	b.inst.rejected()
	return errors.Rejected(b.name)
}

// invoke runs fn, recovering and logging panics.
func (b *base) invoke(fn Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			b.inst.panicked()
			b.log.Error("Task panicked", logger.Fields("panic", fmt.Sprint(r)))
		}
		b.inst.ran(time.Since(start))
	}()
	fn()
}

// newTask creates and tracks a task. It returns nil if the scheduler is disposed.
func (b *base) newTask(fn Task, period time.Duration) *task {
	t := &task{fn: fn, owner: b, period: period}
	if !b.track(t) {
		return nil
	}
	b.inst.scheduled()
	return t
}

const (
	statePending int32 = iota
	stateRunning
	stateDone
)

// stopper is a pending timer: a *time.Timer or a virtual-time entry.
type stopper interface {
	Stop() bool
}

type task struct {
	fn     Task
	owner  *base
	period time.Duration
	rearm  func(t *task)
	state  atomic.Int32

	mu    sync.Mutex
	timer stopper
}

// Dispose cancels the task. A running task finishes but is not re-armed.
func (t *task) Dispose() {
	for {
		s := t.state.Load()
		if s == stateDone {
			return
		}
		if t.state.CompareAndSwap(s, stateDone) {
			break
		}
	}
	t.mu.Lock()
	tm := t.timer
	t.timer = nil
	t.mu.Unlock()
	if tm != nil {
		tm.Stop()
	}
	t.owner.untrack(t)
}

func (t *task) IsDisposed() bool { return t.state.Load() == stateDone }

func (t *task) setTimer(s stopper) {
	t.mu.Lock()
	if t.state.Load() == stateDone {
		t.mu.Unlock()
		s.Stop()
		return
	}
	t.timer = s
	t.mu.Unlock()
}

func (t *task) execute() {
	if !t.state.CompareAndSwap(statePending, stateRunning) {
		return
	}
	t.mu.Lock()
	t.timer = nil
	t.mu.Unlock()

	t.owner.invoke(t.fn)

	if t.period > 0 {
		if t.state.CompareAndSwap(stateRunning, statePending) {
			t.rearm(t)
		}
		return
	}
	if t.state.CompareAndSwap(stateRunning, stateDone) {
		t.owner.untrack(t)
	}
}

type funcDisposable struct {
	done atomic.Bool
	fn   func()
}

func (d *funcDisposable) Dispose() {
	if d.done.CompareAndSwap(false, true) && d.fn != nil {
		d.fn()
	}
}

func (d *funcDisposable) IsDisposed() bool { return d.done.Load() }

// instruments records task metrics. A nil meter falls back to the global provider.
type instruments struct {
	attrs     metric.MeasurementOption
	total     metric.Int64Counter
	rejects   metric.Int64Counter
	panics    metric.Int64Counter
	durations metric.Float64Histogram
}

func newInstruments(meter metric.Meter, name string) *instruments {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	i := &instruments{
		attrs: metric.WithAttributes(attribute.String(logger.FieldScheduler, name)),
	}
	var err error
	if i.total, err = meter.Int64Counter("scheduler.tasks.scheduled",
		metric.WithDescription("Tasks accepted by a scheduler")); err != nil {
		i.total = noop.Int64Counter{}
	}
	if i.rejects, err = meter.Int64Counter("scheduler.tasks.rejected",
		metric.WithDescription("Tasks refused by a scheduler")); err != nil {
		i.rejects = noop.Int64Counter{}
	}
	if i.panics, err = meter.Int64Counter("scheduler.tasks.panics",
		metric.WithDescription("Tasks that panicked")); err != nil {
		i.panics = noop.Int64Counter{}
	}
	if i.durations, err = meter.Float64Histogram("scheduler.task.duration",
		metric.WithDescription("Task run time in seconds"),
		metric.WithUnit("s")); err != nil {
		i.durations = noop.Float64Histogram{}
	}
	return i
}

func (i *instruments) scheduled() { i.total.Add(context.Background(), 1, i.attrs) }
func (i *instruments) rejected()  { i.rejects.Add(context.Background(), 1, i.attrs) }
func (i *instruments) panicked()  { i.panics.Add(context.Background(), 1, i.attrs) }

func (i *instruments) ran(d time.Duration) {
	i.durations.Record(context.Background(), d.Seconds(), i.attrs)
}
