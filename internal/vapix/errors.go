package vapix

import (
	"errors"
	"fmt"
)

// Stable error kinds for camera I/O failures. They appear verbatim in
// connector replies and log lines, so renaming one is a breaking change.
const (
	KindTransport      = "transport"
	KindTimeout        = "timeout"
	KindCertMismatch   = "cert-mismatch"
	KindAuthRejected   = "auth-rejected"
	KindAuthStale      = "auth-stale"
	KindChallengeParse = "challenge-parse"
)

// Error wraps a camera request failure with its stable kind. The handler
// layer turns the kind and detail into the JSON error body.
type Error struct {
	Kind   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a kinded Error.
func NewError(kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// KindOf extracts the stable kind from any error in the chain, defaulting
// to transport for untagged failures.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}
