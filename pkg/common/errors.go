package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the graph services.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindUnavailable      ErrorKind = "unavailable"
	KindOverloaded       ErrorKind = "overloaded"
	KindInvalidParameter ErrorKind = "invalid_parameter"
)

// Error is the typed error returned across service boundaries. Two errors
// match with errors.Is when their kinds are equal, so callers compare against
// the sentinels below.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrUnavailable      = &Error{Kind: KindUnavailable}
	ErrOverloaded       = &Error{Kind: KindOverloaded}
	ErrInvalidParameter = &Error{Kind: KindInvalidParameter}
)

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind ErrorKind, op string, err error, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(op, format string, args ...any) error {
	return newError(KindNotFound, op, nil, format, args...)
}

func InvalidParameter(op, format string, args ...any) error {
	return newError(KindInvalidParameter, op, nil, format, args...)
}

func Overloaded(op, format string, args ...any) error {
	return newError(KindOverloaded, op, nil, format, args...)
}

// Unavailable wraps a backend failure as retryable. A nil err returns nil.
// Errors that already carry a kind are returned unchanged.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: KindUnavailable, Op: op, Err: err}
}

// KindOf returns the kind of the first typed error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}

// Retryable reports whether repeating the call may succeed.
func Retryable(err error) bool {
	return KindOf(err) == KindUnavailable
}
