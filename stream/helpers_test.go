package stream_test

import (
	"slices"
	"sync"
	"testing"

	"github.com/kbukum/flowkit/stream"
	"github.com/kbukum/flowkit/stream/streamtest"
)

// subscribe attaches an unbounded TestSubscriber to s.
func subscribe[T any](s *stream.Stream[T]) *streamtest.TestSubscriber[T] {
	ts := streamtest.New[T](stream.Unbounded)
	s.Subscribe(ts)
	return ts
}

func assertValues[T comparable](t *testing.T, got, want []T) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func assertCompleted[T any](t *testing.T, ts *streamtest.TestSubscriber[T]) {
	t.Helper()
	if err := ts.Err(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !ts.Completed() {
		t.Error("expected completion")
	}
	ts.AssertNoViolations(t)
}

// dropRecorder captures the dropped-signal hooks for one test.
type dropRecorder struct {
	mu        sync.Mutex
	values    []any
	errs      []error
	exhausted []error
}

func recordDrops(t *testing.T) *dropRecorder {
	t.Helper()
	r := &dropRecorder{}
	stream.SetHooks(stream.Hooks{
		OnErrorDropped: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnNextDropped: func(v any) {
			r.mu.Lock()
			r.values = append(r.values, v)
			r.mu.Unlock()
		},
		OnRetryExhausted: func(err error) {
			r.mu.Lock()
			r.exhausted = append(r.exhausted, err)
			r.mu.Unlock()
		},
	})
	t.Cleanup(stream.ResetHooks)
	return r
}

func (r *dropRecorder) droppedValues() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.values...)
}

func (r *dropRecorder) droppedErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *dropRecorder) exhaustedErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.exhausted...)
}
