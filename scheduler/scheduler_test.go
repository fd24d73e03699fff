package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kbukum/flowkit/component"
	"github.com/kbukum/flowkit/errors"
)

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestImmediate_RunsOnCaller(t *testing.T) {
	ran := false
	d, err := Immediate().Schedule(func() { ran = true })
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !ran {
		t.Error("expected task to run synchronously")
	}
	if !d.IsDisposed() {
		t.Error("expected finished task to report disposed")
	}
}

func TestImmediate_DelayedDisposeReturnsToBaseline(t *testing.T) {
	s := Immediate()
	base := s.Pending()
	d, _ := s.ScheduleDelayed(func() { t.Error("disposed task ran") }, time.Hour)
	if s.Pending() != base+1 {
		t.Errorf("got pending %d, want %d", s.Pending(), base+1)
	}
	d.Dispose()
	if s.Pending() != base {
		t.Errorf("got pending %d, want %d", s.Pending(), base)
	}
}

func TestSingle_FIFOOrder(t *testing.T) {
	s := NewSingle("single-test")
	defer s.Dispose()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		s.Schedule(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 99 {
				close(done)
			}
		})
	}
	<-done
	for i, v := range got {
		if v != i {
			t.Fatalf("position %d: got %d, want %d", i, v, i)
		}
	}
	eventually(t, func() bool { return s.Pending() == 0 }, "pending did not return to zero")
}

func TestSingle_RecoversPanics(t *testing.T) {
	s := NewSingle("panic-test")
	defer s.Dispose()

	s.Schedule(func() { panic("boom") })
	done := make(chan struct{})
	s.Schedule(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}

func TestBounded_RejectsWhenQueueFull(t *testing.T) {
	s := NewBounded("bounded-test", 1, 1)
	defer s.Dispose()

	started := make(chan struct{})
	release := make(chan struct{})
	if _, err := s.Schedule(func() { close(started); <-release }); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	<-started

	if _, err := s.Schedule(func() {}); err != nil {
		t.Fatalf("expected queued task to be accepted, got %v", err)
	}
	_, err := s.Schedule(func() {})
	if !errors.IsKind(err, errors.KindRejected) {
		t.Fatalf("expected REJECTED_EXECUTION, got %v", err)
	}
	close(release)
	eventually(t, func() bool { return s.Pending() == 0 }, "pending did not return to zero")
}

func TestBounded_GrowsToMaxWorkers(t *testing.T) {
	s := NewBounded("grow-test", 3, 10)
	defer s.Dispose()

	var running atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		s.Schedule(func() {
			running.Add(1)
			<-release
		})
	}
	eventually(t, func() bool { return running.Load() == 3 }, "expected three concurrent workers")
	close(release)
}

func TestBounded_IdleWorkersExpire(t *testing.T) {
	s := NewBounded("ttl-test", 2, 10, WithIdleTTL(10*time.Millisecond)).(*pool)
	defer s.Dispose()

	done := make(chan struct{})
	s.Schedule(func() { close(done) })
	<-done
	eventually(t, func() bool { return s.Workers() == 0 }, "idle worker did not exit")

	again := make(chan struct{})
	s.Schedule(func() { close(again) })
	select {
	case <-again:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a new worker after expiry")
	}
}

func TestPool_DelayedTask(t *testing.T) {
	s := NewSingle("delay-test")
	defer s.Dispose()

	start := time.Now()
	done := make(chan time.Time, 1)
	s.ScheduleDelayed(func() { done <- time.Now() }, 20*time.Millisecond)

	select {
	case at := <-done:
		if at.Sub(start) < 20*time.Millisecond {
			t.Errorf("task ran after %v, want >= 20ms", at.Sub(start))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delayed task did not run")
	}
}

func TestPool_PeriodicUntilDisposed(t *testing.T) {
	s := NewSingle("periodic-test")
	defer s.Dispose()

	var count atomic.Int32
	d, err := s.SchedulePeriodic(func() { count.Add(1) }, 0, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	eventually(t, func() bool { return count.Load() >= 3 }, "periodic task did not repeat")
	d.Dispose()
	eventually(t, func() bool { return s.Pending() == 0 }, "pending did not return to zero")
}

func TestPool_PeriodicRejectsNonPositivePeriod(t *testing.T) {
	s := NewSingle("bad-period")
	defer s.Dispose()

	_, err := s.SchedulePeriodic(func() {}, 0, 0)
	if !errors.IsKind(err, errors.KindIllegalArgument) {
		t.Errorf("expected ILLEGAL_ARGUMENT, got %v", err)
	}
}

func TestPool_DisposeRejectsAndCancels(t *testing.T) {
	s := NewSingle("dispose-test")
	s.ScheduleDelayed(func() { t.Error("cancelled task ran") }, time.Hour)
	if s.Pending() != 1 {
		t.Fatalf("got pending %d, want 1", s.Pending())
	}

	s.Dispose()
	s.Dispose()
	if !s.IsDisposed() {
		t.Error("expected scheduler to be disposed")
	}
	if s.Pending() != 0 {
		t.Errorf("got pending %d, want 0", s.Pending())
	}
	if _, err := s.Schedule(func() {}); !errors.IsKind(err, errors.KindRejected) {
		t.Errorf("expected REJECTED_EXECUTION after dispose, got %v", err)
	}
}

func TestParallel_RunsOnAllWorkers(t *testing.T) {
	s := NewParallel("par-test", 4)
	defer s.Dispose()

	var wg sync.WaitGroup
	var count atomic.Int32
	for i := 0; i < 40; i++ {
		wg.Add(1)
		s.Schedule(func() {
			count.Add(1)
			wg.Done()
		})
	}
	wg.Wait()
	if count.Load() != 40 {
		t.Errorf("got %d runs, want 40", count.Load())
	}
	s.Dispose()
	if !s.IsDisposed() || s.Pending() != 0 {
		t.Errorf("expected disposed scheduler with no pending tasks, got %d", s.Pending())
	}
}

func TestVirtual_ScheduleRunsImmediately(t *testing.T) {
	v := NewVirtual()
	ran := false
	v.Schedule(func() { ran = true })
	if !ran {
		t.Error("expected immediate task to run on the caller")
	}
	if v.Pending() != 0 {
		t.Errorf("got pending %d, want 0", v.Pending())
	}
}

func TestVirtual_DelayedOrder(t *testing.T) {
	v := NewVirtual()
	var got []string
	v.ScheduleDelayed(func() { got = append(got, "b") }, 2*time.Second)
	v.ScheduleDelayed(func() { got = append(got, "a") }, time.Second)
	v.ScheduleDelayed(func() { got = append(got, "c") }, 2*time.Second)

	v.Advance(1500 * time.Millisecond)
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("got %v, want [a]", got)
	}
	v.Advance(500 * time.Millisecond)
	if len(got) != 3 || got[1] != "b" || got[2] != "c" {
		t.Fatalf("got %v, want [a b c]", got)
	}
	if want := VirtualEpoch.Add(2 * time.Second); !v.Now().Equal(want) {
		t.Errorf("got now %v, want %v", v.Now(), want)
	}
}

func TestVirtual_NowDuringTask(t *testing.T) {
	v := NewVirtual()
	var at time.Time
	v.ScheduleDelayed(func() { at = v.Now() }, 3*time.Second)
	v.Advance(10 * time.Second)
	if want := VirtualEpoch.Add(3 * time.Second); !at.Equal(want) {
		t.Errorf("task observed %v, want %v", at, want)
	}
}

func TestVirtual_PeriodicFixedDelay(t *testing.T) {
	v := NewVirtual()
	var ticks []time.Duration
	d, _ := v.SchedulePeriodic(func() {
		ticks = append(ticks, v.Now().Sub(VirtualEpoch))
	}, time.Second, 2*time.Second)

	v.Advance(7 * time.Second)
	want := []time.Duration{time.Second, 3 * time.Second, 5 * time.Second, 7 * time.Second}
	if len(ticks) != len(want) {
		t.Fatalf("got %v, want %v", ticks, want)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Errorf("tick %d: got %v, want %v", i, ticks[i], want[i])
		}
	}
	if v.Pending() != 1 {
		t.Errorf("got pending %d, want 1", v.Pending())
	}
	d.Dispose()
	v.Advance(10 * time.Second)
	if len(ticks) != 4 {
		t.Errorf("expected no ticks after dispose, got %d", len(ticks))
	}
	if v.Pending() != 0 {
		t.Errorf("got pending %d, want 0", v.Pending())
	}
}

func TestVirtual_NestedScheduling(t *testing.T) {
	v := NewVirtual()
	var got []int
	v.ScheduleDelayed(func() {
		got = append(got, 1)
		v.Schedule(func() { got = append(got, 2) })
		v.ScheduleDelayed(func() { got = append(got, 3) }, time.Second)
	}, time.Second)

	v.Advance(time.Second)
	if len(got) != 2 {
		t.Fatalf("got %v, want [1 2]", got)
	}
	v.Advance(time.Second)
	if len(got) != 3 || got[2] != 3 {
		t.Fatalf("got %v, want [1 2 3]", got)
	}
}

func TestVirtual_DisposeCancelsPending(t *testing.T) {
	v := NewVirtual()
	v.ScheduleDelayed(func() { t.Error("cancelled task ran") }, time.Second)
	v.Dispose()
	v.Advance(time.Minute)
	if v.Pending() != 0 {
		t.Errorf("got pending %d, want 0", v.Pending())
	}
	if _, err := v.Schedule(func() {}); !errors.IsKind(err, errors.KindRejected) {
		t.Errorf("expected REJECTED_EXECUTION, got %v", err)
	}
}

func TestDisposableFunc_RunsOnce(t *testing.T) {
	n := 0
	d := DisposableFunc(func() { n++ })
	d.Dispose()
	d.Dispose()
	if n != 1 || !d.IsDisposed() {
		t.Errorf("got %d calls, want 1", n)
	}
}

func TestMetrics_CountScheduledAndPanics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	v := NewVirtual(WithMeter(provider.Meter("test")))

	v.Schedule(func() {})
	v.Schedule(func() { panic("boom") })

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	if sums["scheduler.tasks.scheduled"] != 2 {
		t.Errorf("got scheduled %d, want 2", sums["scheduler.tasks.scheduled"])
	}
	if sums["scheduler.tasks.panics"] != 1 {
		t.Errorf("got panics %d, want 1", sums["scheduler.tasks.panics"])
	}
}

func TestRegistry_LifecycleAndHealth(t *testing.T) {
	r := NewRegistry()
	v := NewVirtual()
	single := NewSingle("io")
	if err := r.Register(v); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Register(single)
	if err := r.Register(NewVirtual()); err == nil {
		t.Error("expected duplicate name to be refused")
	}

	if got, ok := r.Get("io"); !ok || got != single {
		t.Error("expected to find the io scheduler")
	}
	v.ScheduleDelayed(func() {}, time.Second)

	h := r.Health(context.Background())
	if h.Status != component.StatusHealthy {
		t.Errorf("got %s, want healthy", h.Status)
	}
	if h.Message != "virtual=1 io=0" {
		t.Errorf("got message %q", h.Message)
	}

	r.Start(context.Background())
	r.Stop(context.Background())
	if !v.IsDisposed() || !single.IsDisposed() {
		t.Error("expected Stop to dispose every scheduler")
	}
	if r.Health(context.Background()).Status != component.StatusUnhealthy {
		t.Error("expected unhealthy after stop")
	}
}
