package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures reported back through event acknowledgments
type ErrorKind string

const (
	KindAuth                 ErrorKind = "auth_error"
	KindValidation           ErrorKind = "validation_error"
	KindNotAMember           ErrorKind = "not_a_member"
	KindBusy                 ErrorKind = "busy"
	KindNotFound             ErrorKind = "not_found"
	KindState                ErrorKind = "state_error"
	KindTransientPersistence ErrorKind = "transient_persistence_error"
	KindInternal             ErrorKind = "internal_error"
)

// AppError is the error type returned across service boundaries
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError of the same kind, so callers can write
// errors.Is(err, models.ErrBusy).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is
var (
	ErrAuth                 = &AppError{Kind: KindAuth}
	ErrValidation           = &AppError{Kind: KindValidation}
	ErrNotAMember           = &AppError{Kind: KindNotAMember}
	ErrBusy                 = &AppError{Kind: KindBusy}
	ErrNotFound             = &AppError{Kind: KindNotFound}
	ErrState                = &AppError{Kind: KindState}
	ErrTransientPersistence = &AppError{Kind: KindTransientPersistence}
	ErrInternal             = &AppError{Kind: KindInternal}
)

func NewAuthError(msg string) *AppError {
	return &AppError{Kind: KindAuth, Message: msg}
}

func NewValidationError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewNotAMemberError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindNotAMember, Message: fmt.Sprintf(format, args...)}
}

func NewBusyError(userID string) *AppError {
	return &AppError{Kind: KindBusy, Message: fmt.Sprintf("user %s is busy", userID)}
}

func NewNotFoundError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewStateError(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindState, Message: fmt.Sprintf(format, args...)}
}

func NewTransientPersistenceError(err error) *AppError {
	return &AppError{Kind: KindTransientPersistence, Message: "message could not be persisted, retry with the same tempId", Err: err}
}

func NewInternalError(err error) *AppError {
	return &AppError{Kind: KindInternal, Message: "internal error", Err: err}
}

// AsAppError converts any error into an AppError, treating unknown errors as internal
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError(err)
}
