// Package faults defines the closed failure taxonomy for memory operations
// and the classifier that maps arbitrary errors into it. Every failure that
// crosses the tool-call boundary is one of the five kinds below, each with a
// fixed recovery recommendation; raw backend errors never escape.
package faults

import "fmt"

// Kind identifies one class of failure. The set is closed: new failure modes
// must be mapped onto an existing kind, not grow the taxonomy.
type Kind string

const (
	// ConfigurationInvalid means the resolved configuration is unusable.
	// Never retryable; the operator must fix the configuration and restart
	// or reload.
	ConfigurationInvalid Kind = "CONFIGURATION_INVALID"

	// BackendUnavailable means a transient network or connection failure
	// reaching the backend. Retryable.
	BackendUnavailable Kind = "BACKEND_UNAVAILABLE"

	// BackendRejected means the backend (or the pre-flight validation in
	// front of it) refused a malformed request: missing required field, bad
	// user scoping, unknown record. Not retryable.
	BackendRejected Kind = "BACKEND_REJECTED"

	// UpstreamTimeout means a backend call exceeded its deadline.
	// Retryable, within the bounded retry budget.
	UpstreamTimeout Kind = "UPSTREAM_TIMEOUT"

	// Internal means an unanticipated failure. Not retryable; always logged
	// with its full cause before being surfaced.
	Internal Kind = "INTERNAL"
)

// Retryable reports whether operations failing with this kind may be retried.
func (k Kind) Retryable() bool {
	return k == BackendUnavailable || k == UpstreamTimeout
}

// Classified is a failure mapped into the taxonomy. It carries the original
// error as its cause for diagnostics; the cause is never shown to tool
// callers, only Kind and Message are.
type Classified struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error renders the failure as "KIND: message".
func (e *Classified) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the original failure for errors.Is / errors.As.
func (e *Classified) Unwrap() error {
	return e.Cause
}

// Retryable reports whether this failure may be retried.
func (e *Classified) Retryable() bool {
	return e.Kind.Retryable()
}

// New constructs a classified failure with no underlying cause.
func New(kind Kind, message string) *Classified {
	return &Classified{Kind: kind, Message: message}
}

// Newf constructs a classified failure with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Classified {
	return &Classified{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a classified failure preserving cause.
func Wrap(kind Kind, message string, cause error) *Classified {
	return &Classified{Kind: kind, Message: message, Cause: cause}
}
