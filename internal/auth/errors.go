package auth

import (
	"errors"
	"fmt"
)

// Code classifies a session store failure for inline reporting on a form.
type Code string

const (
	CodeEmailInUse    Code = "email_in_use"
	CodeInvalidEmail  Code = "invalid_email"
	CodeWeakPassword  Code = "weak_password"
	CodeNotFound      Code = "not_found"
	CodeWrongPassword Code = "wrong_password"
	CodeOther         Code = "other"
)

// Error is returned by every failing Service operation.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %v", e.Code, e.Err)
	}
	return "auth " + string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so callers can compare
// against the sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrEmailInUse    = &Error{Code: CodeEmailInUse}
	ErrInvalidEmail  = &Error{Code: CodeInvalidEmail}
	ErrWeakPassword  = &Error{Code: CodeWeakPassword}
	ErrNotFound      = &Error{Code: CodeNotFound}
	ErrWrongPassword = &Error{Code: CodeWrongPassword}
	ErrOther         = &Error{Code: CodeOther}
)

func newError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf returns the code of err, or CodeOther when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeOther
}
