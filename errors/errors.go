package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// Error is the engine's structured error type.
type Error struct {
	// Kind is the machine-readable classification.
	Kind Kind
	// Message is a human-readable description.
	Message string
	// Retryable indicates whether resubscribing may succeed.
	Retryable bool
	// Details contains additional context for the error.
	Details map[string]any
	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *Error) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Newf creates an *Error of the given kind with automatic retryable detection.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retryable: IsRetryableKind(kind),
	}
}

// --- Constructors ---

// IllegalArgument reports an invalid argument passed to the engine.
func IllegalArgument(format string, args ...any) *Error {
	return Newf(KindIllegalArgument, format, args...)
}

// BadRequest reports a non-positive request amount.
func BadRequest(n int64) *Error {
	return IllegalArgument("request amount must be positive, got %d", n).WithDetail("n", n)
}

// Protocol reports a subscription protocol violation.
func Protocol(format string, args ...any) *Error {
	return Newf(KindProtocol, format, args...)
}

// Element wraps a failure raised while processing value.
func Element(cause error, value any) *Error {
	return &Error{
		Kind:    KindElement,
		Message: "element processing failed",
		Details: map[string]any{"value": value},
		Cause:   cause,
	}
}

// Panic converts a recovered panic into an element error.
func Panic(recovered any, value any) *Error {
	cause, ok := recovered.(error)
	if !ok {
		cause = fmt.Errorf("%v", recovered)
	}
	return Element(fmt.Errorf("panic: %w", cause), value)
}

// Source wraps a failure raised by a producing activity.
func Source(cause error) *Error {
	return &Error{Kind: KindSource, Message: "source failed", Retryable: true, Cause: cause}
}

// Timeout reports that no signal arrived within d.
func Timeout(operation string, d time.Duration) *Error {
	return Newf(KindTimeout, "%s: no signal within %s", operation, d).
		WithDetail("operation", operation)
}

// Overflow reports that a bounded buffer or demand counter could not accept a value.
func Overflow(format string, args ...any) *Error {
	return Newf(KindOverflow, format, args...)
}

// RetryExhausted reports that attempts ran out; the last error is kept as cause.
func RetryExhausted(attempts int, last error) *Error {
	return Newf(KindRetryExhausted, "retries exhausted after %d attempts", attempts).
		WithDetail("attempts", attempts).
		WithCause(last)
}

// Rejected reports that a scheduler refused a task.
func Rejected(scheduler string) *Error {
	return Newf(KindRejected, "scheduler %s rejected the task", scheduler).
		WithDetail("scheduler", scheduler)
}

// CircuitOpen reports that a circuit breaker refused a subscription.
func CircuitOpen(name string) *Error {
	return Newf(KindCircuitOpen, "circuit %s is open", name).WithDetail("circuit", name)
}

// Wrap translates err into a new kind, preserving it as the cause.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: IsRetryableKind(kind), Cause: err}
}

// --- Dispatch ---

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err's chain contains an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// MatchKind returns a predicate matching errors of any of the given kinds.
func MatchKind(kinds ...Kind) func(error) bool {
	return func(err error) bool {
		for _, k := range kinds {
			if IsKind(err, k) {
				return true
			}
		}
		return false
	}
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// --- Assembly tracing ---

// TracedError decorates an error with the construction sites of the operators it
// crossed. Unwrap returns the original error.
type TracedError struct {
	Cause error
	Sites []string
}

// Error returns the cause followed by the assembly trace.
func (e *TracedError) Error() string {
	var b strings.Builder
	b.WriteString(e.Cause.Error())
	b.WriteString("\nassembly trace:")
	for _, s := range e.Sites {
		b.WriteString("\n\t|_ ")
		b.WriteString(s)
	}
	return b.String()
}

// Unwrap returns the original error.
func (e *TracedError) Unwrap() error { return e.Cause }

// Trace appends site to err's assembly trace. A new value is returned; err is
// never mutated.
func Trace(err error, site string) error {
	if t, ok := err.(*TracedError); ok {
		sites := make([]string, len(t.Sites), len(t.Sites)+1)
		copy(sites, t.Sites)
		return &TracedError{Cause: t.Cause, Sites: append(sites, site)}
	}
	return &TracedError{Cause: err, Sites: []string{site}}
}

// --- Standard library passthroughs ---

// New returns an error with the given text.
func New(text string) error { return stderrors.New(text) }

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Join returns an error that wraps the given errors.
func Join(errs ...error) error { return stderrors.Join(errs...) }
