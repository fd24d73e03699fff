package scheduler

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// NewParallel returns a scheduler backed by n single workers. Tasks are
// assigned round-robin; n <= 0 selects GOMAXPROCS.
func NewParallel(name string, n int, opts ...Option) Scheduler {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	o := applyOptions(opts)
	workers := make([]*pool, n)
	for i := range workers {
		workers[i] = newPool(fmt.Sprintf("%s-%d", name, i), 1, 0, 0, o)
	}
	return &parallel{name: name, workers: workers}
}

type parallel struct {
	name     string
	workers  []*pool
	next     atomic.Uint64
	disposed atomic.Bool
}

func (p *parallel) pick() *pool {
	return p.workers[(p.next.Add(1)-1)%uint64(len(p.workers))]
}

func (p *parallel) Name() string   { return p.name }
func (p *parallel) Now() time.Time { return time.Now() }

func (p *parallel) Schedule(fn Task) (Disposable, error) {
	return p.pick().Schedule(fn)
}

func (p *parallel) ScheduleDelayed(fn Task, delay time.Duration) (Disposable, error) {
	return p.pick().ScheduleDelayed(fn, delay)
}

func (p *parallel) SchedulePeriodic(fn Task, initial, period time.Duration) (Disposable, error) {
	return p.pick().SchedulePeriodic(fn, initial, period)
}

func (p *parallel) Pending() int {
	n := 0
	for _, w := range p.workers {
		n += w.Pending()
	}
	return n
}

func (p *parallel) Dispose() {
	if !p.disposed.CompareAndSwap(false, true) {
		return
	}
	for _, w := range p.workers {
		w.Dispose()
	}
}

func (p *parallel) IsDisposed() bool { return p.disposed.Load() }
