package stream

import (
	"fmt"
	"sync"
)

// SignalKind identifies a reified signal.
type SignalKind int

const (
	SignalNext SignalKind = iota
	SignalError
	SignalComplete
	// SignalCancel is reported by DoFinally only; it is never materialized.
	SignalCancel
)

func (k SignalKind) String() string {
	switch k {
	case SignalNext:
		return "onNext"
	case SignalError:
		return "onError"
	case SignalComplete:
		return "onComplete"
	case SignalCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Signal is a reified onNext, onError or onComplete.
type Signal[T any] struct {
	Kind  SignalKind
	Value T
	Err   error
}

// NextSignal returns an onNext signal carrying v.
func NextSignal[T any](v T) Signal[T] { return Signal[T]{Kind: SignalNext, Value: v} }

// ErrorSignal returns an onError signal carrying err.
func ErrorSignal[T any](err error) Signal[T] { return Signal[T]{Kind: SignalError, Err: err} }

// CompleteSignal returns an onComplete signal.
func CompleteSignal[T any]() Signal[T] { return Signal[T]{Kind: SignalComplete} }

// IsTerminal reports whether the signal ends a sequence.
func (s Signal[T]) IsTerminal() bool { return s.Kind != SignalNext }

func (s Signal[T]) String() string {
	switch s.Kind {
	case SignalNext:
		return fmt.Sprintf("onNext(%v)", s.Value)
	case SignalError:
		return fmt.Sprintf("onError(%v)", s.Err)
	default:
		return s.Kind.String()
	}
}

// deliver sends sig to sub.
func deliver[T any](sub Subscriber[T], sig Signal[T]) {
	switch sig.Kind {
	case SignalNext:
		sub.OnNext(sig.Value)
	case SignalError:
		sub.OnError(sig.Err)
	case SignalComplete:
		sub.OnComplete()
	}
}

// serializer delivers signals raised from several goroutines one at a time.
// A caller that finds another emission in progress queues its signal and
// returns; the emitting goroutine delivers it. Signals after a terminal one
// are dropped.
type serializer[T any] struct {
	actual Subscriber[T]

	mu         sync.Mutex
	emitting   bool
	terminated bool
	queue      []Signal[T]
}

func (s *serializer[T]) next(v T)        { s.emit(NextSignal(v)) }
func (s *serializer[T]) error(err error) { s.emit(ErrorSignal[T](err)) }
func (s *serializer[T]) complete()       { s.emit(CompleteSignal[T]()) }

// isTerminated reports whether a terminal signal was accepted.
func (s *serializer[T]) isTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

func (s *serializer[T]) emit(sig Signal[T]) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		switch sig.Kind {
		case SignalNext:
			onNextDropped(sig.Value)
		case SignalError:
			onErrorDropped(sig.Err)
		}
		return
	}
	if sig.IsTerminal() {
		s.terminated = true
	}
	if s.emitting {
		s.queue = append(s.queue, sig)
		s.mu.Unlock()
		return
	}
	s.emitting = true
	s.mu.Unlock()

	for {
		deliver(s.actual, sig)

		s.mu.Lock()
		if len(s.queue) == 0 {
			s.emitting = false
			s.mu.Unlock()
			return
		}
		sig = s.queue[0]
		s.queue[0] = Signal[T]{}
		s.queue = s.queue[1:]
		s.mu.Unlock()
	}
}
