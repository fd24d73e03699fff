// Package errors provides the error taxonomy of the stream engine.
//
// Every error synthesized by the engine is an *Error carrying a machine-readable
// Kind. Combinators dispatch on the kind (see KindOf and MatchKind) instead of
// inspecting concrete error types. Errors returned by user functions and sources
// pass through unchanged; they report KindUnknown.
//
// The package re-exports Is, As, New and Join from the standard library so that
// callers need a single errors import.
package errors
