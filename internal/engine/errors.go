package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/attrstore/internal/ir"
)

// ErrorCode categorizes store errors. The transport maps each code to a
// status; see api.StatusFor.
type ErrorCode string

const (
	// CodeNotFound: the locator does not resolve, or an update names an
	// unregistered attribute type.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeAlreadyExists: duplicate attribute-type symbol or duplicate
	// @symbolName alias.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// CodeInvalidArgument: malformed request, value kind mismatch, or a query
	// naming an unregistered attribute type.
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"

	// CodeFailedPrecondition: the request is well-formed but the entity's
	// state forbids it, e.g. deleting a bootstrap entity.
	CodeFailedPrecondition ErrorCode = "FAILED_PRECONDITION"

	// CodeResourceExhausted: too many concurrent watch subscriptions.
	CodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"

	// CodeUnavailable: the store is closed.
	CodeUnavailable ErrorCode = "UNAVAILABLE"

	// CodeInternal: the journal failed or state is inconsistent.
	CodeInternal ErrorCode = "INTERNAL"
)

// Error is the single error type returned across the store API.
//
// Error carries structured fields so the transport and CLI can render it
// without parsing the message.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Symbol names the attribute type involved, if any.
	Symbol ir.Symbol

	// Locator identifies the entity involved, if any.
	Locator ir.EntityLocator

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Locator != nil && e.Symbol != "":
		return fmt.Sprintf("%s: %s (entity=%s, attribute=%s)", e.Code, e.Message, e.Locator, e.Symbol)
	case e.Locator != nil:
		return fmt.Sprintf("%s: %s (entity=%s)", e.Code, e.Message, e.Locator)
	case e.Symbol != "":
		return fmt.Sprintf("%s: %s (attribute=%s)", e.Code, e.Message, e.Symbol)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) withSymbol(s ir.Symbol) *Error {
	e.Symbol = s
	return e
}

func (e *Error) withLocator(l ir.EntityLocator) *Error {
	e.Locator = l
	return e
}

func (e *Error) wrap(err error) *Error {
	e.Err = err
	return e
}

// CodeOf returns the code of err, or CodeInternal when err is not an
// *Error. A nil err has no code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsNotFound reports whether err has CodeNotFound.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsAlreadyExists reports whether err has CodeAlreadyExists.
func IsAlreadyExists(err error) bool { return hasCode(err, CodeAlreadyExists) }

// IsInvalidArgument reports whether err has CodeInvalidArgument.
func IsInvalidArgument(err error) bool { return hasCode(err, CodeInvalidArgument) }

// IsFailedPrecondition reports whether err has CodeFailedPrecondition.
func IsFailedPrecondition(err error) bool { return hasCode(err, CodeFailedPrecondition) }

// IsResourceExhausted reports whether err has CodeResourceExhausted.
func IsResourceExhausted(err error) bool { return hasCode(err, CodeResourceExhausted) }

// IsUnavailable reports whether err has CodeUnavailable.
func IsUnavailable(err error) bool { return hasCode(err, CodeUnavailable) }

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = &Error{Code: CodeUnavailable, Message: "store is closed"}

// invariantViolation panics. It is reserved for conditions that indicate a
// serialization bug rather than bad input.
func invariantViolation(format string, args ...any) {
	panic(fmt.Sprintf("attrstore: invariant violated: "+format, args...))
}
