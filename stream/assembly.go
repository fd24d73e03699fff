package stream

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/kbukum/flowkit/errors"
)

var assemblyTracing atomic.Bool

// EnableAssemblyTracing makes every stream built afterwards record where it
// was constructed. Errors crossing such a stream are wrapped in an
// *errors.TracedError listing the construction sites.
func EnableAssemblyTracing(enabled bool) {
	assemblyTracing.Store(enabled)
}

// AssemblyTracingEnabled reports whether assembly tracing is on.
func AssemblyTracingEnabled() bool {
	return assemblyTracing.Load()
}

var packageDir = func() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Dir(file)
}()

// captureSite returns "op at file:line" for the first caller outside this
// package.
func captureSite(op string) string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		inPackage := filepath.Dir(f.File) == packageDir && !strings.HasSuffix(f.File, "_test.go")
		if !inPackage && f.File != "" {
			return fmt.Sprintf("%s at %s:%d", op, shortPath(f.File), f.Line)
		}
		if !more {
			return op
		}
	}
}

func shortPath(file string) string {
	dir, base := filepath.Split(file)
	return filepath.Join(filepath.Base(dir), base)
}

// Checkpoint marks s with description. Errors crossing the checkpoint carry
// it in their assembly trace, whether or not tracing is enabled.
func Checkpoint[T any](s *Stream[T], description string) *Stream[T] {
	site := description
	if AssemblyTracingEnabled() {
		site = captureSite("checkpoint(" + description + ")")
	}
	return &Stream[T]{name: "checkpoint", site: site, onSubscribe: s.Subscribe}
}

// traceSubscriber appends its site to errors flowing downstream.
type traceSubscriber[T any] struct {
	stage[T]
	site string
}

func (t *traceSubscriber[T]) OnSubscribe(s Subscription) {
	if t.setUpstream(s) {
		t.actual.OnSubscribe(t)
	}
}

func (t *traceSubscriber[T]) OnNext(v T) { t.actual.OnNext(v) }

func (t *traceSubscriber[T]) OnError(err error) { t.error(errors.Trace(err, t.site)) }

func (t *traceSubscriber[T]) OnComplete() { t.complete() }
