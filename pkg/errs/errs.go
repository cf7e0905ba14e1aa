// Package errs provides the typed error taxonomy shared by every component:
// NotFound, Conflict, Transient, Fatal, Validation, Starvation.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry/backoff/status-reporting decisions.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindTransient  Kind = "transient"
	KindFatal      Kind = "fatal"
	KindValidation Kind = "validation"
	KindStarvation Kind = "starvation"
)

// Error wraps an underlying cause with a Kind and the component that raised it.
type Error struct {
	Kind      Kind
	Component string
	Op        string
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s: %s", e.Component, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s: %v", e.Component, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func new(kind Kind, component, op string, err error) *Error {
	return &Error{Kind: kind, Component: component, Op: op, Err: err}
}

func NotFound(component, op string, err error) *Error   { return new(KindNotFound, component, op, err) }
func Conflict(component, op string, err error) *Error   { return new(KindConflict, component, op, err) }
func Transient(component, op string, err error) *Error  { return new(KindTransient, component, op, err) }
func Fatal(component, op string, err error) *Error      { return new(KindFatal, component, op, err) }
func Validation(component, op string, err error) *Error { return new(KindValidation, component, op, err) }
func Starvation(component, op string, err error) *Error { return new(KindStarvation, component, op, err) }

// sentinels for errors.Is matching by kind alone.
var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrTransient  = &Error{Kind: KindTransient}
	ErrFatal      = &Error{Kind: KindFatal}
	ErrValidation = &Error{Kind: KindValidation}
	ErrStarvation = &Error{Kind: KindStarvation}
)

// Is reports whether the first *Error in err's chain has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to KindFatal if untyped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}
