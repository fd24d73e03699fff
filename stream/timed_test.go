package stream_test

import (
	"slices"
	"testing"
	"time"

	"github.com/kbukum/flowkit/errors"
	"github.com/kbukum/flowkit/scheduler"
	"github.com/kbukum/flowkit/stream"
	"github.com/kbukum/flowkit/stream/streamtest"
)

func newVirtual(t *testing.T) *scheduler.Virtual {
	t.Helper()
	v := scheduler.NewVirtual()
	t.Cleanup(v.Dispose)
	return v
}

func TestDebounce_EmitsAfterQuietPeriod(t *testing.T) {
	v := newVirtual(t)
	sink := stream.NewMulticast[int](stream.MulticastConfig{})
	ts := subscribe(stream.Debounce(sink.Stream(), 100*time.Millisecond, v))

	sink.Next(1)
	v.Advance(50 * time.Millisecond)
	sink.Next(2)
	v.Advance(99 * time.Millisecond)
	if n := len(ts.Values()); n != 0 {
		t.Fatalf("got %d values before the quiet period ended, want 0", n)
	}
	v.Advance(time.Millisecond)
	assertValues(t, ts.Values(), []int{2})

	sink.Next(3)
	sink.Complete()
	assertValues(t, ts.Values(), []int{2, 3})
	assertCompleted(t, ts)
	if p := v.Pending(); p != 0 {
		t.Errorf("got pending %d, want 0", p)
	}
}

func TestDebounce_TimerWithoutDemandOverflows(t *testing.T) {
	v := newVirtual(t)
	sink := stream.NewMulticast[int](stream.MulticastConfig{})
	ts := streamtest.New[int](0)
	stream.Debounce(sink.Stream(), 100*time.Millisecond, v).Subscribe(ts)

	sink.Next(1)
	v.Advance(100 * time.Millisecond)

	if k := errors.KindOf(ts.Err()); k != errors.KindOverflow {
		t.Errorf("got kind %s, want %s", k, errors.KindOverflow)
	}
	if n := sink.SubscriberCount(); n != 0 {
		t.Errorf("got %d sink subscribers after overflow, want 0", n)
	}
	ts.AssertNoViolations(t)
}

func TestSample_EmitsLatestPerPeriod(t *testing.T) {
	v := newVirtual(t)
	sink := stream.NewMulticast[int](stream.MulticastConfig{})
	ts := subscribe(stream.Sample(sink.Stream(), 100*time.Millisecond, v))

	sink.Next(1)
	sink.Next(2)
	v.Advance(100 * time.Millisecond)
	assertValues(t, ts.Values(), []int{2})

	v.Advance(100 * time.Millisecond)
	assertValues(t, ts.Values(), []int{2})

	sink.Next(3)
	sink.Complete()
	assertValues(t, ts.Values(), []int{2, 3})
	assertCompleted(t, ts)
	if p := v.Pending(); p != 0 {
		t.Errorf("got pending %d, want 0", p)
	}
}

func TestTimeout_FailsWithoutSignals(t *testing.T) {
	v := newVirtual(t)
	ts := subscribe(stream.Timeout(stream.Never[int](), time.Second, v))

	v.Advance(999 * time.Millisecond)
	if ts.Terminated() {
		t.Fatal("terminated before the timeout")
	}
	v.Advance(time.Millisecond)
	if k := errors.KindOf(ts.Err()); k != errors.KindTimeout {
		t.Errorf("got kind %s, want %s", k, errors.KindTimeout)
	}
	ts.AssertNoViolations(t)
}

func TestTimeout_ValuesRearmTimer(t *testing.T) {
	v := newVirtual(t)
	sink := stream.NewMulticast[int](stream.MulticastConfig{})
	ts := subscribe(stream.Timeout(sink.Stream(), 100*time.Millisecond, v))

	for i := range 5 {
		v.Advance(90 * time.Millisecond)
		sink.Next(i)
	}
	sink.Complete()

	assertValues(t, ts.Values(), []int{0, 1, 2, 3, 4})
	assertCompleted(t, ts)
	v.Advance(time.Second)
	if len(ts.Errors()) != 0 {
		t.Errorf("got errors %v after completion, want none", ts.Errors())
	}
}

func TestTimeoutWith_SwitchesToFallback(t *testing.T) {
	v := newVirtual(t)
	sink := stream.NewMulticast[int](stream.MulticastConfig{})
	ts := subscribe(stream.TimeoutWith(sink.Stream(), 100*time.Millisecond, stream.Just(7, 8), v))

	sink.Next(1)
	v.Advance(100 * time.Millisecond)

	assertValues(t, ts.Values(), []int{1, 7, 8})
	assertCompleted(t, ts)
	if n := sink.SubscriberCount(); n != 0 {
		t.Errorf("got %d sink subscribers after the switch, want 0", n)
	}
}

func TestTimeoutWith_NilFallbackRejected(t *testing.T) {
	v := newVirtual(t)
	ts := subscribe(stream.TimeoutWith(stream.Just(1), time.Second, nil, v))

	if k := errors.KindOf(ts.Err()); k != errors.KindIllegalArgument {
		t.Errorf("got kind %s, want %s", k, errors.KindIllegalArgument)
	}
}

func TestDelayElements_KeepsOrder(t *testing.T) {
	v := newVirtual(t)
	ts := subscribe(stream.DelayElements(stream.Just(1, 2, 3), 100*time.Millisecond, v))

	if n := len(ts.Values()); n != 0 {
		t.Fatalf("got %d values before any delay passed, want 0", n)
	}
	v.Advance(100 * time.Millisecond)
	assertValues(t, ts.Values(), []int{1})

	v.Advance(200 * time.Millisecond)
	assertValues(t, ts.Values(), []int{1, 2, 3})
	assertCompleted(t, ts)
}

func TestBufferTimeout_ClosesOnSizeOrTime(t *testing.T) {
	v := newVirtual(t)
	sink := stream.NewMulticast[int](stream.MulticastConfig{})
	ts := subscribe(stream.BufferTimeout(sink.Stream(), 3, 100*time.Millisecond, v))

	sink.Next(1)
	sink.Next(2)
	sink.Next(3)
	sink.Next(4)
	v.Advance(100 * time.Millisecond)
	sink.Next(5)
	sink.Complete()

	want := [][]int{{1, 2, 3}, {4}, {5}}
	got := ts.Values()
	if !slices.EqualFunc(got, want, slices.Equal[[]int]) {
		t.Errorf("got %v, want %v", got, want)
	}
	assertCompleted(t, ts)
}

func TestBufferTimeout_RequiresABound(t *testing.T) {
	v := newVirtual(t)
	ts := subscribe(stream.BufferTimeout(stream.Just(1), 0, 0, v))

	if k := errors.KindOf(ts.Err()); k != errors.KindIllegalArgument {
		t.Errorf("got kind %s, want %s", k, errors.KindIllegalArgument)
	}
}

func TestTimedOperators_NilSchedulerRejected(t *testing.T) {
	cases := map[string]*stream.Stream[int]{
		"debounce":      stream.Debounce(stream.Just(1), time.Second, nil),
		"sample":        stream.Sample(stream.Just(1), time.Second, nil),
		"timeout":       stream.Timeout(stream.Just(1), time.Second, nil),
		"delayElements": stream.DelayElements(stream.Just(1), time.Second, nil),
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			ts := subscribe(s)
			if k := errors.KindOf(ts.Err()); k != errors.KindIllegalArgument {
				t.Errorf("got kind %s, want %s", k, errors.KindIllegalArgument)
			}
		})
	}
}
