package services

import "errors"

// Error kinds. Every error returned by this package matches exactly one of
// them under errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrAuth       = errors.New("authentication error")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
	ErrStore      = errors.New("store error")
)

// ErrDuplicateEmail is the validation failure for a taken email.
var ErrDuplicateEmail = &Error{Kind: ErrValidation, Msg: "User with this email already exists"}

// Error carries a message safe to show to clients alongside its kind and
// an optional underlying cause.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Message returns the client-facing text of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "Something went wrong"
}

func validationf(msg string) error { return &Error{Kind: ErrValidation, Msg: msg} }

func authError(msg string) error { return &Error{Kind: ErrAuth, Msg: msg} }

func forbidden(msg string) error { return &Error{Kind: ErrForbidden, Msg: msg} }

func notFound(msg string) error { return &Error{Kind: ErrNotFound, Msg: msg} }

func storeError(err error) error {
	return &Error{Kind: ErrStore, Msg: "Something went wrong", Err: err}
}
