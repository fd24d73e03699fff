package errors

// Kind is a machine-readable error classification.
type Kind string

// Programmer errors.
const (
	// KindIllegalArgument indicates an invalid argument, such as a non-positive request.
	KindIllegalArgument Kind = "ILLEGAL_ARGUMENT"
	// KindProtocol indicates a violation of the subscription protocol.
	KindProtocol Kind = "PROTOCOL_VIOLATION"
)

// Processing errors.
const (
	// KindElement indicates a failure while processing a single element.
	KindElement Kind = "ELEMENT_ERROR"
	// KindSource indicates a failure of the producing activity itself.
	KindSource Kind = "SOURCE_ERROR"
)

// Errors synthesized by the engine.
const (
	// KindTimeout indicates that an expected signal did not arrive in time.
	KindTimeout Kind = "TIMEOUT"
	// KindOverflow indicates that a bounded buffer overflowed or demand was missing.
	KindOverflow Kind = "OVERFLOW"
	// KindRetryExhausted indicates that a retry policy ran out of attempts.
	KindRetryExhausted Kind = "RETRY_EXHAUSTED"
	// KindRejected indicates that a scheduler refused a task.
	KindRejected Kind = "REJECTED_EXECUTION"
	// KindCircuitOpen indicates that a circuit breaker refused the subscription.
	KindCircuitOpen Kind = "CIRCUIT_OPEN"
	// KindCancelled indicates that the subscription was cancelled.
	KindCancelled Kind = "CANCELLED"
)

// KindUnknown is reported for errors that carry no kind.
const KindUnknown Kind = "UNKNOWN"

var retryableKinds = map[Kind]bool{
	KindTimeout:     true,
	KindRejected:    true,
	KindCircuitOpen: true,
	KindSource:      true,
	KindOverflow:    false,
	KindElement:     false,
}

var fatalKinds = map[Kind]bool{
	KindIllegalArgument: true,
	KindProtocol:        true,
	KindCancelled:       true,
}

// IsRetryableKind returns true if errors of this kind are transient.
func IsRetryableKind(kind Kind) bool {
	return retryableKinds[kind]
}

// IsFatalKind returns true for programmer errors that retrying cannot fix.
func IsFatalKind(kind Kind) bool {
	return fatalKinds[kind]
}
