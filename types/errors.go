package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error classes. Every Error belongs to exactly one of them, so callers can
// classify with errors.Is(err, types.ErrNotFound) without knowing the
// concrete error.
var (
	ErrMalformedInput     = errors.New("malformed input")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrVerificationFailed = errors.New("verification failed")
	ErrStaleTree          = errors.New("stale tree")
)

// Error wraps errors assigning a unique error code, the class it belongs to
// and the HTTP status an external controller should answer with.
type Error struct {
	Err        error
	Kind       error
	Code       int
	HTTPstatus int
}

// MarshalJSON returns a JSON containing Err.Error() and Code. Fields Kind and
// HTTPstatus are ignored.
//
// Example output: {"error":"tree not found","code":40401}
func (e Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(
		struct {
			Err  string `json:"error"`
			Code int    `json:"code"`
		}{
			Err:  e.Err.Error(),
			Code: e.Code,
		})
}

// Error returns the message contained inside the error.
func (e Error) Error() string {
	return e.Err.Error()
}

// Unwrap exposes both the underlying error and the class of the error.
func (e Error) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Kind}
}

// Is reports whether target is an Error with the same code, so decorated
// copies (With, Withf, WithErr) still match their definition.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	return ok && t.Code == e.Code
}

// Withf returns a copy of Error with the Sprintf formatted string appended at the end of e.Err
func (e Error) Withf(format string, args ...any) Error {
	return e.with(fmt.Errorf("%w: %v", e.Err, fmt.Sprintf(format, args...)))
}

// With returns a copy of Error with the string appended at the end of e.Err
func (e Error) With(s string) Error {
	return e.with(fmt.Errorf("%w: %v", e.Err, s))
}

// WithErr returns a copy of Error with err.Error() appended at the end of e.Err
func (e Error) WithErr(err error) Error {
	return e.with(fmt.Errorf("%w: %v", e.Err, err.Error()))
}

func (e Error) with(err error) Error {
	return Error{
		Err:        err,
		Kind:       e.Kind,
		Code:       e.Code,
		HTTPstatus: e.HTTPstatus,
	}
}
