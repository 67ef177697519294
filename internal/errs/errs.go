// Package errs defines the tagged error type shared by the omnid services.
// Each service returns errors carrying a Kind from the taxonomy below; the
// HTTP layer converts kinds to status codes at the boundary.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for boundary handling.
type Kind int

const (
	// KindValidation marks malformed client input (bad hex, bad base64,
	// wrong key length). Never retried.
	KindValidation Kind = iota
	// KindConflict marks an operation that collides with existing state,
	// such as re-initialising a completed registration.
	KindConflict
	// KindNotFound marks a missing prerequisite record.
	KindNotFound
	// KindUnauthorized marks a rejected admin or federation credential.
	KindUnauthorized
	// KindCrypto marks an encryption or decryption failure. Always surfaced
	// with a generic message so callers learn nothing about the root cause.
	KindCrypto
	// KindPersistence marks a failed durability write. Logged, never
	// surfaced to the caller.
	KindPersistence
)

// Error is a tagged error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a tagged error with a fixed message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf returns a tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error. The cause is preserved for logging but the
// message is what callers see.
func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err. The second return is false when err
// carries no tag.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
