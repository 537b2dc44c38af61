// Package fault classifies errors crossing the orchestrator boundary.
//
// Callers of the conversation core receive one of a closed set of error kinds
// rather than raw dependency errors. Inner packages keep returning ordinary
// wrapped errors; the orchestrator maps them onto kinds at its boundary with
// [Wrap] and callers branch with [KindOf] or errors.As.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the category of a boundary error.
type Kind int

const (
	// KindUnknown is the zero value; treat as internal.
	KindUnknown Kind = iota

	// KindValidation marks malformed input. No side effects were committed.
	KindValidation

	// KindNotFound marks an unknown session id.
	KindNotFound

	// KindConflict marks an idempotency replay mismatch: a client message id
	// reused with different text.
	KindConflict

	// KindTransient marks an upstream blip or an exhausted
	// optimistic-concurrency retry budget; the caller may retry the request.
	KindTransient

	// KindUpstreamUnavailable marks a critical dependency unreachable with no
	// fallback available.
	KindUpstreamUnavailable

	// KindOverloaded marks an admission-control rejection.
	KindOverloaded

	// KindInternal marks an invariant violation; details are logged with a
	// correlation id and surfaced opaquely.
	KindInternal
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindNotFound:
		return "NOT_FOUND"
	case KindConflict:
		return "CONFLICT"
	case KindTransient:
		return "TRANSIENT"
	case KindUpstreamUnavailable:
		return "UPSTREAM_UNAVAILABLE"
	case KindOverloaded:
		return "OVERLOADED"
	case KindInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Error is a classified error. It wraps the underlying cause so errors.Is and
// errors.As keep working through it.
type Error struct {
	// Kind is the boundary category.
	Kind Kind

	// Op names the failing operation (e.g., "orchestrator.SendMessage").
	Op string

	// Err is the underlying cause. May be nil for pure boundary errors.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error with no underlying cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap classifies err under kind. Returns nil when err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from err. Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
