package domain

import "errors"

// Error kinds shared by every layer. Match with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthenticated  = errors.New("unauthenticated")
)

// Error attaches a caller-facing reason to one of the error kinds.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Kind }

// NotFound returns an ErrNotFound carrying reason.
func NotFound(reason string) error { return &Error{Kind: ErrNotFound, Reason: reason} }

// Conflict returns an ErrConflict carrying reason.
func Conflict(reason string) error { return &Error{Kind: ErrConflict, Reason: reason} }

// InvalidOperation returns an ErrInvalidOperation carrying reason.
func InvalidOperation(reason string) error {
	return &Error{Kind: ErrInvalidOperation, Reason: reason}
}

// Forbidden returns an ErrForbidden carrying reason.
func Forbidden(reason string) error { return &Error{Kind: ErrForbidden, Reason: reason} }

// Reason extracts the caller-facing message from err, falling back to fallback
// for errors outside the taxonomy.
func Reason(err error, fallback string) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Error()
	}
	return fallback
}
