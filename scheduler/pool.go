package scheduler

import (
	"runtime"
	"sync"
	"time"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/logger"
)

// Bounded pool defaults.
const (
	DefaultIdleTTL   = 60 * time.Second
	DefaultMaxQueued = 100000
)

// DefaultMaxWorkers returns the default bounded pool size, ten workers per CPU.
func DefaultMaxWorkers() int { return 10 * runtime.NumCPU() }

// pool runs tasks on up to maxWorkers goroutines, started on demand.
type pool struct {
	*base
	maxWorkers int
	maxQueued  int
	ttl        time.Duration

	qmu     sync.Mutex
	queue   []*task
	workers int
	idle    int
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewSingle returns a scheduler with one dedicated worker. Tasks run in FIFO
// order and never concurrently.
func NewSingle(name string, opts ...Option) Scheduler {
	o := applyOptions(opts)
	return newPool(name, 1, 0, 0, o)
}

// NewBounded returns a pool that grows to maxWorkers goroutines and queues at
// most maxQueued ready tasks; further tasks are rejected. Idle workers exit
// after the idle TTL. Non-positive arguments select the defaults.
func NewBounded(name string, maxWorkers, maxQueued int, opts ...Option) Scheduler {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers()
	}
	if maxQueued <= 0 {
		maxQueued = DefaultMaxQueued
	}
	o := applyOptions(opts)
	return newPool(name, maxWorkers, maxQueued, o.idleTTL, o)
}

func newPool(name string, maxWorkers, maxQueued int, ttl time.Duration, o options) *pool {
	p := &pool{
		base:       newBase(name, o),
		maxWorkers: maxWorkers,
		maxQueued:  maxQueued,
		ttl:        ttl,
		wake:       make(chan struct{}, maxWorkers),
		done:       make(chan struct{}),
	}
	p.log.Debug("Scheduler created", logger.Fields("max_workers", maxWorkers, "max_queued", maxQueued))
	return p
}

func (p *pool) Now() time.Time { return time.Now() }

func (p *pool) Schedule(fn Task) (Disposable, error) {
	t := p.newTask(fn, 0)
	if t == nil {
		return Disposed, p.rejected()
	}
	if err := p.enqueue(t, false); err != nil {
		t.Dispose()
		return Disposed, err
	}
	return t, nil
}

func (p *pool) ScheduleDelayed(fn Task, delay time.Duration) (Disposable, error) {
	if delay <= 0 {
		return p.Schedule(fn)
	}
	t := p.newTask(fn, 0)
	if t == nil {
		return Disposed, p.rejected()
	}
	t.setTimer(time.AfterFunc(delay, func() { p.fire(t) }))
	return t, nil
}

func (p *pool) SchedulePeriodic(fn Task, initial, period time.Duration) (Disposable, error) {
	if period <= 0 {
		return Disposed, errors.IllegalArgument("period must be positive, got %s", period)
	}
	t := p.newTask(fn, period)
	if t == nil {
		return Disposed, p.rejected()
	}
	t.rearm = func(t *task) {
		t.setTimer(time.AfterFunc(period, func() { p.fire(t) }))
	}
	if initial <= 0 {
		p.fire(t)
	} else {
		t.setTimer(time.AfterFunc(initial, func() { p.fire(t) }))
	}
	return t, nil
}

// fire enqueues an already accepted timed task, bypassing the queue limit.
func (p *pool) fire(t *task) {
	if err := p.enqueue(t, true); err != nil {
		t.Dispose()
	}
}

func (p *pool) enqueue(t *task, force bool) error {
	p.qmu.Lock()
	if p.closed {
		p.qmu.Unlock()
		return p.rejected()
	}
	if !force && p.maxQueued > 0 && len(p.queue) >= p.maxQueued {
		p.qmu.Unlock()
		return p.rejected()
	}
	p.queue = append(p.queue, t)
	switch {
	case p.idle > 0:
		select {
		case p.wake <- struct{}{}:
		default:
		}
	case p.workers < p.maxWorkers:
		p.workers++
		go p.worker()
	}
	p.qmu.Unlock()
	return nil
}

func (p *pool) worker() {
	for {
		p.qmu.Lock()
		if len(p.queue) > 0 {
			t := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.qmu.Unlock()
			t.execute()
			continue
		}
		if p.closed {
			p.workers--
			p.qmu.Unlock()
			return
		}
		p.idle++
		p.qmu.Unlock()

		var expired <-chan time.Time
		var timer *time.Timer
		if p.ttl > 0 {
			timer = time.NewTimer(p.ttl)
			expired = timer.C
		}

		select {
		case <-p.wake:
		case <-p.done:
		case <-expired:
			p.qmu.Lock()
			p.idle--
			if len(p.queue) == 0 {
				p.workers--
				p.qmu.Unlock()
				return
			}
			p.qmu.Unlock()
			continue
		}
		if timer != nil {
			timer.Stop()
		}
		p.qmu.Lock()
		p.idle--
		p.qmu.Unlock()
	}
}

// Workers returns the number of live worker goroutines.
func (p *pool) Workers() int {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	return p.workers
}

func (p *pool) Dispose() {
	p.once.Do(func() {
		p.qmu.Lock()
		p.closed = true
		queued := p.queue
		p.queue = nil
		p.qmu.Unlock()
		close(p.done)

		for _, t := range queued {
			t.Dispose()
		}
		p.disposeAll()
	})
}
