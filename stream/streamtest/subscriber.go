package streamtest

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/flowkit/stream"
)

// TestSubscriber records the signals of one subscription.
type TestSubscriber[T any] struct {
	ctx     stream.Context
	initial int64
	active  atomic.Int32

	mu            sync.Mutex
	sub           stream.Subscription
	pending       int64
	requested     int64
	subscriptions int
	values        []T
	errs          []error
	completions   int
	violations    []string
	changed       chan struct{}
}

// New returns a subscriber that requests initial once subscribed. Zero leaves
// demand to Request.
func New[T any](initial int64) *TestSubscriber[T] {
	return NewWithContext[T](stream.EmptyContext(), initial)
}

// NewWithContext is New with ctx exposed to upstream stages.
func NewWithContext[T any](ctx stream.Context, initial int64) *TestSubscriber[T] {
	return &TestSubscriber[T]{ctx: ctx, initial: initial, changed: make(chan struct{})}
}

func (ts *TestSubscriber[T]) Context() stream.Context { return ts.ctx }

func (ts *TestSubscriber[T]) OnSubscribe(s stream.Subscription) {
	exit := ts.enter()
	ts.mu.Lock()
	ts.subscriptions++
	if ts.subscriptions > 1 {
		ts.violateLocked("OnSubscribe called %d times", ts.subscriptions)
		ts.mu.Unlock()
		exit()
		s.Cancel()
		return
	}
	ts.sub = s
	n := ts.pending
	ts.pending = 0
	if ts.initial > 0 {
		n = addCap(n, ts.initial)
	}
	ts.requested = addCap(ts.requested, n)
	ts.notifyLocked()
	ts.mu.Unlock()
	// Synchronous sources deliver from within Request.
	exit()
	if n > 0 {
		s.Request(n)
	}
}

func (ts *TestSubscriber[T]) OnNext(v T) {
	defer ts.enter()()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.terminatedLocked() {
		ts.violateLocked("OnNext(%v) after terminal signal", v)
	}
	switch {
	case ts.requested == 0:
		ts.violateLocked("OnNext(%v) beyond requested demand", v)
	case ts.requested != stream.Unbounded:
		ts.requested--
	}
	ts.values = append(ts.values, v)
	ts.notifyLocked()
}

func (ts *TestSubscriber[T]) OnError(err error) {
	defer ts.enter()()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.terminatedLocked() {
		ts.violateLocked("OnError(%v) after terminal signal", err)
	}
	ts.errs = append(ts.errs, err)
	ts.notifyLocked()
}

func (ts *TestSubscriber[T]) OnComplete() {
	defer ts.enter()()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.terminatedLocked() {
		ts.violateLocked("OnComplete after terminal signal")
	}
	ts.completions++
	ts.notifyLocked()
}

// enter flags overlapping signal delivery and returns the matching exit.
func (ts *TestSubscriber[T]) enter() func() {
	if ts.active.Add(1) != 1 {
		ts.mu.Lock()
		ts.violateLocked("concurrent signal delivery")
		ts.mu.Unlock()
	}
	return func() { ts.active.Add(-1) }
}

// Request adds n to the demand. Before OnSubscribe the demand is held back
// and requested on subscription; a non-positive n is then ignored.
func (ts *TestSubscriber[T]) Request(n int64) {
	ts.mu.Lock()
	sub := ts.sub
	if sub == nil {
		if n > 0 {
			ts.pending = addCap(ts.pending, n)
		}
		ts.mu.Unlock()
		return
	}
	if n > 0 {
		ts.requested = addCap(ts.requested, n)
	}
	ts.mu.Unlock()
	sub.Request(n)
}

// Cancel cancels the subscription, if any.
func (ts *TestSubscriber[T]) Cancel() {
	ts.mu.Lock()
	sub := ts.sub
	ts.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// Subscribed reports whether OnSubscribe was called.
func (ts *TestSubscriber[T]) Subscribed() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.sub != nil
}

// Values returns a copy of the values received so far.
func (ts *TestSubscriber[T]) Values() []T {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]T(nil), ts.values...)
}

// Errors returns every error received.
func (ts *TestSubscriber[T]) Errors() []error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]error(nil), ts.errs...)
}

// Err returns the first error received, or nil.
func (ts *TestSubscriber[T]) Err() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.errs) == 0 {
		return nil
	}
	return ts.errs[0]
}

// Completions returns how many times OnComplete was called.
func (ts *TestSubscriber[T]) Completions() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.completions
}

// Completed reports whether OnComplete was called.
func (ts *TestSubscriber[T]) Completed() bool { return ts.Completions() > 0 }

// Terminated reports whether a terminal signal arrived.
func (ts *TestSubscriber[T]) Terminated() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.terminatedLocked()
}

// Outstanding returns the demand not yet consumed by values.
func (ts *TestSubscriber[T]) Outstanding() int64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.requested
}

// Violations returns the protocol violations observed.
func (ts *TestSubscriber[T]) Violations() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.violations...)
}

// AssertNoViolations fails t for every recorded protocol violation.
func (ts *TestSubscriber[T]) AssertNoViolations(t testing.TB) {
	t.Helper()
	for _, v := range ts.Violations() {
		t.Errorf("protocol violation: %s", v)
	}
}

// Await waits up to timeout for a terminal signal.
func (ts *TestSubscriber[T]) Await(timeout time.Duration) bool {
	return ts.awaitCond(timeout, ts.terminatedLocked)
}

// AwaitValues waits up to timeout until at least n values arrived.
func (ts *TestSubscriber[T]) AwaitValues(n int, timeout time.Duration) bool {
	return ts.awaitCond(timeout, func() bool { return len(ts.values) >= n })
}

func (ts *TestSubscriber[T]) awaitCond(timeout time.Duration, cond func() bool) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		ts.mu.Lock()
		if cond() {
			ts.mu.Unlock()
			return true
		}
		ch := ts.changed
		ts.mu.Unlock()
		select {
		case <-ch:
		case <-timer.C:
			ts.mu.Lock()
			defer ts.mu.Unlock()
			return cond()
		}
	}
}

func (ts *TestSubscriber[T]) terminatedLocked() bool {
	return len(ts.errs) > 0 || ts.completions > 0
}

func (ts *TestSubscriber[T]) violateLocked(format string, args ...any) {
	ts.violations = append(ts.violations, fmt.Sprintf(format, args...))
}

func (ts *TestSubscriber[T]) notifyLocked() {
	close(ts.changed)
	ts.changed = make(chan struct{})
}

func addCap(a, b int64) int64 {
	if c := a + b; c >= 0 {
		return c
	}
	return stream.Unbounded
}
