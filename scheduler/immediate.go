package scheduler

import (
	"sync"
	"time"

	"github.com/kbukum/flowkit/errors"
)

var (
	immediateOnce sync.Once
	immediate     *immediateScheduler
)

// Immediate returns the shared scheduler that runs tasks on the calling
// goroutine. Delayed and periodic tasks run on timer goroutines. Dispose is a
// no-op.
func Immediate() Scheduler {
	immediateOnce.Do(func() {
		immediate = &immediateScheduler{base: newBase("immediate", applyOptions(nil))}
	})
	return immediate
}

type immediateScheduler struct {
	*base
}

func (s *immediateScheduler) Now() time.Time { return time.Now() }

func (s *immediateScheduler) Schedule(fn Task) (Disposable, error) {
	s.inst.scheduled()
	s.invoke(fn)
	return Disposed, nil
}

func (s *immediateScheduler) ScheduleDelayed(fn Task, delay time.Duration) (Disposable, error) {
	if delay <= 0 {
		return s.Schedule(fn)
	}
	t := s.newTask(fn, 0)
	t.setTimer(time.AfterFunc(delay, t.execute))
	return t, nil
}

func (s *immediateScheduler) SchedulePeriodic(fn Task, initial, period time.Duration) (Disposable, error) {
	if period <= 0 {
		return Disposed, errors.IllegalArgument("period must be positive, got %s", period)
	}
	t := s.newTask(fn, period)
	t.rearm = func(t *task) {
		t.setTimer(time.AfterFunc(period, t.execute))
	}
	if initial < 0 {
		initial = 0
	}
	t.setTimer(time.AfterFunc(initial, t.execute))
	return t, nil
}

func (s *immediateScheduler) Dispose() {}

func (s *immediateScheduler) IsDisposed() bool { return false }
