// Package errors carries the categorised errors the HTTP layer turns into
// status codes. The Message of a ServiceError is shown to the caller, the
// wrapped Err only reaches the logs.
package errors

import (
	"errors"
	"net/http"
)

// Category classifies a ServiceError
type Category int

const (
	// CategoryGeneralError is an unexpected failure
	CategoryGeneralError Category = iota
	// CategoryDataError is a malformed or invalid request
	CategoryDataError
	// CategoryUnauthorized is a missing or rejected credential
	CategoryUnauthorized
	// CategoryForbidden is an action the caller may not take
	CategoryForbidden
	// CategoryResourceNotFound is an unknown game, player or vault entry
	CategoryResourceNotFound
	// CategoryDataConflict is an action the current game or session state rejects
	CategoryDataConflict
	// CategoryLocked means a session operation is already in flight
	CategoryLocked
	// CategoryDependencyFailure is a wallet or ledger failure
	CategoryDependencyFailure
	// CategoryRecovering is a session that is not usable yet
	CategoryRecovering
)

var categoryNames = map[Category]string{
	CategoryDataError:         "DataError",
	CategoryUnauthorized:      "Unauthorized",
	CategoryForbidden:         "Forbidden",
	CategoryResourceNotFound:  "ResourceNotFound",
	CategoryDataConflict:      "DataConflict",
	CategoryLocked:            "Locked",
	CategoryDependencyFailure: "DependencyFailure",
	CategoryRecovering:        "Recovering",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "GeneralError"
}

var statusCodes = map[Category]int{
	CategoryDataError:         http.StatusBadRequest,
	CategoryUnauthorized:      http.StatusUnauthorized,
	CategoryForbidden:         http.StatusForbidden,
	CategoryResourceNotFound:  http.StatusNotFound,
	CategoryDataConflict:      http.StatusConflict,
	CategoryLocked:            http.StatusLocked,
	CategoryDependencyFailure: http.StatusBadGateway,
	CategoryRecovering:        http.StatusServiceUnavailable,
}

// ServiceError is an error with a caller-facing message
type ServiceError struct {
	Category Category
	Message  string
	Err      error
}

func (err ServiceError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	return err.Message
}

func (err ServiceError) Unwrap() error {
	return err.Err
}

// StatusCode maps the category to an HTTP status
func (err ServiceError) StatusCode() int {
	if code, ok := statusCodes[err.Category]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Is reports whether err is a ServiceError of category cat
func Is(err error, cat Category) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Category == cat
}

func newError(cat Category, err error, message string) error {
	if err == nil {
		err = errors.New(message)
	}
	return &ServiceError{Category: cat, Message: message, Err: err}
}

// BadRequestError is a 400 carrying message
func BadRequestError(err error, message string) error {
	return newError(CategoryDataError, err, message)
}

// UnAuthorizedError is a 401 carrying message
func UnAuthorizedError(err error, message string) error {
	return newError(CategoryUnauthorized, err, message)
}

// ForbiddenError is a 403 carrying message
func ForbiddenError(err error, message string) error {
	return newError(CategoryForbidden, err, message)
}

func ResourceNotFoundError(err error, message string) error {
	return newError(CategoryResourceNotFound, err, message)
}

func ConflictError(err error, message string) error {
	return newError(CategoryDataConflict, err, message)
}

func LockedError(err error, message string) error {
	return newError(CategoryLocked, err, message)
}

// DependencyError reports a wallet or ledger failure as 502
func DependencyError(err error, message string) error {
	return newError(CategoryDependencyFailure, err, message)
}

// RecoveringError reports a temporarily unusable session as 503
func RecoveringError(err error, message string) error {
	return newError(CategoryRecovering, err, message)
}
