package scheduler

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/flowkit/errors"
)

// VirtualEpoch is the initial time of a virtual scheduler.
var VirtualEpoch = time.Unix(0, 0).UTC()

// Virtual is a deterministic scheduler for tests. Time only moves when
// Advance, AdvanceTo or Flush is called, and due tasks run on that goroutine.
// Immediate tasks run on the scheduling goroutine unless a drain is already in
// progress, in which case the active drain picks them up.
type Virtual struct {
	*base

	vmu      sync.Mutex
	now      time.Time
	seq      uint64
	queue    virtualQueue
	draining bool
}

// NewVirtual returns a virtual-time scheduler starting at VirtualEpoch.
func NewVirtual(opts ...Option) *Virtual {
	return &Virtual{
		base: newBase("virtual", applyOptions(opts)),
		now:  VirtualEpoch,
	}
}

func (v *Virtual) Now() time.Time {
	v.vmu.Lock()
	defer v.vmu.Unlock()
	return v.now
}

func (v *Virtual) Schedule(fn Task) (Disposable, error) {
	t := v.newTask(fn, 0)
	if t == nil {
		return Disposed, v.rejected()
	}
	t.setTimer(v.push(t, 0))
	v.Flush()
	return t, nil
}

func (v *Virtual) ScheduleDelayed(fn Task, delay time.Duration) (Disposable, error) {
	if delay <= 0 {
		return v.Schedule(fn)
	}
	t := v.newTask(fn, 0)
	if t == nil {
		return Disposed, v.rejected()
	}
	t.setTimer(v.push(t, delay))
	return t, nil
}

func (v *Virtual) SchedulePeriodic(fn Task, initial, period time.Duration) (Disposable, error) {
	if period <= 0 {
		return Disposed, errors.IllegalArgument("period must be positive, got %s", period)
	}
	t := v.newTask(fn, period)
	if t == nil {
		return Disposed, v.rejected()
	}
	t.rearm = func(t *task) { t.setTimer(v.push(t, period)) }
	t.setTimer(v.push(t, initial))
	if initial <= 0 {
		v.Flush()
	}
	return t, nil
}

// Advance moves virtual time forward by d, running every task due on the way
// in time order.
func (v *Virtual) Advance(d time.Duration) {
	v.vmu.Lock()
	target := v.now.Add(d)
	v.vmu.Unlock()
	v.drain(target)
}

// AdvanceTo moves virtual time to t. Times in the past only run due tasks.
func (v *Virtual) AdvanceTo(t time.Time) {
	v.drain(t)
}

// Flush runs the tasks due at the current virtual time.
func (v *Virtual) Flush() {
	v.drain(v.Now())
}

func (v *Virtual) Dispose() {
	if !v.disposeAll() {
		return
	}
	v.vmu.Lock()
	v.queue = nil
	v.vmu.Unlock()
}

func (v *Virtual) push(t *task, delay time.Duration) *virtualEntry {
	if delay < 0 {
		delay = 0
	}
	v.vmu.Lock()
	defer v.vmu.Unlock()
	v.seq++
	e := &virtualEntry{at: v.now.Add(delay), seq: v.seq, task: t}
	heap.Push(&v.queue, e)
	return e
}

func (v *Virtual) drain(target time.Time) {
	v.vmu.Lock()
	if v.draining {
		v.vmu.Unlock()
		return
	}
	v.draining = true
	for len(v.queue) > 0 && !v.queue[0].at.After(target) {
		e := heap.Pop(&v.queue).(*virtualEntry)
		if e.stopped.Load() {
			continue
		}
		if e.at.After(v.now) {
			v.now = e.at
		}
		v.vmu.Unlock()
		e.task.execute()
		v.vmu.Lock()
	}
	if target.After(v.now) {
		v.now = target
	}
	v.draining = false
	v.vmu.Unlock()
}

// virtualEntry is a queued virtual timer; Stop removes it lazily.
type virtualEntry struct {
	at      time.Time
	seq     uint64
	task    *task
	stopped atomic.Bool
	index   int
}

func (e *virtualEntry) Stop() bool {
	return e.stopped.CompareAndSwap(false, true)
}

type virtualQueue []*virtualEntry

func (q virtualQueue) Len() int { return len(q) }

func (q virtualQueue) Less(i, j int) bool {
	if q[i].at.Equal(q[j].at) {
		return q[i].seq < q[j].seq
	}
	return q[i].at.Before(q[j].at)
}

func (q virtualQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *virtualQueue) Push(x any) {
	e := x.(*virtualEntry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *virtualQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}
