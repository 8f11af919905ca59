package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers (HTTP layer, refresh loop) can decide
// how to surface it without string matching.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindInvalidState Kind = "invalid_state"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindExternal     Kind = "external_service"
	KindPartial      Kind = "partial_failure"
)

// Error is the single error shape returned by domain services.
//
// Op names the failing operation ("reminders.schedule"); Err carries the
// underlying cause for external failures and is never shown to end users.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict) works
// regardless of Op and Message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrExternalService = &Error{Kind: KindExternal}
	ErrPartialFailure  = &Error{Kind: KindPartial}
)

func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

func InvalidState(op, msg string) error {
	return &Error{Kind: KindInvalidState, Op: op, Message: msg}
}

func Conflict(op, msg string) error {
	return &Error{Kind: KindConflict, Op: op, Message: msg}
}

func NotFound(op, resource string) error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf("%s not found", resource)}
}

// External wraps a store or webhook failure. Domain errors pass through
// unchanged so a NotFound from a lower layer is not reclassified.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	var pe *PartialFailureError
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: KindExternal, Op: op, Message: "dependency failed", Err: err}
}

// PartialFailureError reports a multi-step operation that stopped half way.
//
// Completed steps are already persisted and must not be re-run; Pending steps
// are what the caller should retry. Ref identifies the entity the retry
// applies to (lead card id or reminder id).
type PartialFailureError struct {
	Op        string
	Ref       string
	Completed []string
	Pending   []string
	Err       error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s: partial failure on %s (completed: %s; pending: %s): %v",
		e.Op, e.Ref, strings.Join(e.Completed, ","), strings.Join(e.Pending, ","), e.Err)
}

func (e *PartialFailureError) Unwrap() error { return e.Err }

func (e *PartialFailureError) Is(target error) bool { return target == ErrPartialFailure }

func Partial(op, ref string, completed, pending []string, err error) error {
	return &PartialFailureError{Op: op, Ref: ref, Completed: completed, Pending: pending, Err: err}
}

// KindOf returns the Kind of err, or "" for foreign errors.
func KindOf(err error) Kind {
	var pe *PartialFailureError
	if errors.As(err, &pe) {
		return KindPartial
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func IsValidation(err error) bool   { return KindOf(err) == KindValidation }
func IsInvalidState(err error) bool { return KindOf(err) == KindInvalidState }
func IsConflict(err error) bool     { return KindOf(err) == KindConflict }
func IsNotFound(err error) bool     { return KindOf(err) == KindNotFound }
func IsExternal(err error) bool     { return KindOf(err) == KindExternal }
func IsPartial(err error) bool      { return KindOf(err) == KindPartial }
