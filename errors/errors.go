package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by the plugins.
var (
	ErrNilStore   = errors.New(`upgrade-assistant: store cannot be "nil"`)
	ErrNilCluster = errors.New(`upgrade-assistant: cluster client cannot be "nil"`)
)

// EnvVarNotSetError is an error which is returned when a required env var is not set.
type EnvVarNotSetError struct {
	Var string
}

// NewEnvVarNotSetError returns an error for an envVarName whose value is not set.
func NewEnvVarNotSetError(envVarName string) *EnvVarNotSetError {
	return &EnvVarNotSetError{envVarName}
}

// Error implements the error interface.
func (e *EnvVarNotSetError) Error() string {
	return fmt.Sprintf("upgrade-assistant: %s env variable not set", e.Var)
}

// NotFoundError is returned when a resource (index, operation, function) does not exist.
type NotFoundError struct {
	Message string
}

// NewNotFoundError returns a NotFoundError with a formatted message.
func NewNotFoundError(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (n *NotFoundError) Error() string {
	return n.Message
}

// ConflictError is returned when the requested change clashes with existing state,
// e.g. an optimistic concurrency check failed or an operation already exists.
type ConflictError struct {
	Message string
}

// NewConflictError returns a ConflictError with a formatted message.
func NewConflictError(format string, args ...interface{}) *ConflictError {
	return &ConflictError{fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (c *ConflictError) Error() string {
	return c.Message
}

// BadRequestError is returned when a caller violates a precondition.
type BadRequestError struct {
	Message string
}

// NewBadRequestError returns a BadRequestError with a formatted message.
func NewBadRequestError(format string, args ...interface{}) *BadRequestError {
	return &BadRequestError{fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (b *BadRequestError) Error() string {
	return b.Message
}

// LockedError is returned when a record is held by another process.
type LockedError struct {
	Key string
}

// NewLockedError returns a LockedError for the record identified by key.
func NewLockedError(key string) *LockedError {
	return &LockedError{key}
}

// Error implements the error interface.
func (l *LockedError) Error() string {
	return fmt.Sprintf("another process is currently modifying %s", l.Key)
}

// InvalidCastError is an error which is returned when an invalid cast of a particular type is attempted.
type InvalidCastError struct {
	From string
	To   []string
}

// NewInvalidCastError returns an error for the types that were involved in an invalid cast operation.
func NewInvalidCastError(from string, to ...string) *InvalidCastError {
	return &InvalidCastError{from, to}
}

// Error implements the error interface.
func (i *InvalidCastError) Error() string {
	if len(i.To) == 1 {
		return fmt.Sprintf("can not cast '%s' to '%s'", i.From, i.To[0])
	}
	list := ""
	for n, t := range i.To {
		if n > 0 {
			list += ", "
		}
		list += t
	}
	return fmt.Sprintf("can not cast '%s' to any of '%s'", i.From, list)
}

// StatusCode maps the typed errors of this package to an HTTP status code.
func StatusCode(err error) int {
	var (
		notFound   *NotFoundError
		conflict   *ConflictError
		badRequest *BadRequestError
		locked     *LockedError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &badRequest):
		return http.StatusBadRequest
	case errors.As(err, &locked):
		return http.StatusLocked
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether err is, or wraps, a *NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsConflict reports whether err is, or wraps, a *ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsLocked reports whether err is, or wraps, a *LockedError.
func IsLocked(err error) bool {
	var target *LockedError
	return errors.As(err, &target)
}
