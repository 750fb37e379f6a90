// internal/app/system/apperr/apperr.go

// Package apperr is the closed set of error kinds the service layer returns.
// Handlers switch on Kind to pick a status code and user-visible message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and presentation.
type Kind string

const (
	KindValidation Kind = "validation"
	KindForbidden  Kind = "forbidden"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindTransient  Kind = "transient"
	// KindReverted: a committed change was rolled back after the background
	// job failed. Retryable by the end user.
	KindReverted Kind = "reverted"
	// KindFatal: the rollback itself failed. The store is left mutated with no
	// notification sent; requires manual remediation.
	KindFatal    Kind = "fatal"
	KindInternal Kind = "internal"
)

// Codes used across the service layer.
const (
	CodeInvalidParameter      = "INVALID_PARAMETER"
	CodeQuestionLength        = "QUESTION_LENGTH"
	CodeNotHost               = "NOT_HOST"
	CodeInsufficientRole      = "INSUFFICIENT_ROLE"
	CodeNotMember             = "NOT_CONVERSATION_MEMBER"
	CodeSessionLimitExhausted = "SESSION_LIMIT_EXHAUSTED"
	CodeSessionEnded          = "SESSION_ENDED"
	CodeDocumentLocked        = "DOCUMENT_LOCKED"
	CodeSessionNotFound       = "SESSION_NOT_FOUND"
	CodeQuestionNotFound      = "QUESTION_NOT_FOUND"
	CodeConversationNotFound  = "CONVERSATION_NOT_FOUND"
	CodeUserNotFound          = "USER_NOT_FOUND"
	CodeStoreUnavailable      = "STORE_UNAVAILABLE"
	CodeRosterUnavailable     = "ROSTER_UNAVAILABLE"
	CodeChangesReverted       = "CHANGES_REVERTED"
	CodeRevertFailed          = "REVERT_FAILED"
	CodeInternal              = "INTERNAL"
)

// Error carries a Kind, a stable Code, a user-facing Message and the cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Code, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New builds an Error.
func New(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func Validation(code, msg string) *Error { return New(KindValidation, code, msg, nil) }
func Forbidden(code, msg string) *Error  { return New(KindForbidden, code, msg, nil) }
func Conflict(code, msg string) *Error   { return New(KindConflict, code, msg, nil) }
func NotFound(code, msg string) *Error   { return New(KindNotFound, code, msg, nil) }

// Internal wraps an unexpected error.
func Internal(err error) *Error {
	return New(KindInternal, CodeInternal, "something went wrong, please try again", err)
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the Code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps a Kind to a response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindTransient, KindReverted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
