package apperrors

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes used in API responses.
const (
	CodeValidation       = "validation_error"
	CodeAuth             = "unauthorized"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
	CodeGatewayAuthorize = "payment_failed"
	CodeGatewayOperation = "gateway_error"
	CodeInternal         = "internal_server_error"
)

// Error is a typed service error carrying the HTTP status the boundary
// should translate it to.
type Error struct {
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(message string) *Error {
	return &Error{Code: CodeValidation, Status: fiber.StatusBadRequest, Message: message}
}

func Auth(message string) *Error {
	return &Error{Code: CodeAuth, Status: fiber.StatusUnauthorized, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Status: fiber.StatusForbidden, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Status: fiber.StatusNotFound, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Code: CodeConflict, Status: fiber.StatusConflict, Message: message}
}

// GatewayAuthorize marks a declined authorization. It maps to 400: the
// caller's payment attempt failed and retrying the same card is on them.
func GatewayAuthorize(message string, err error) *Error {
	return &Error{Code: CodeGatewayAuthorize, Status: fiber.StatusBadRequest, Message: message, Err: err}
}

// GatewayOperation marks a failed capture or refund call. It maps to 500:
// the money is already reserved or collected, so a failure here is a system
// fault rather than a client error.
func GatewayOperation(message string, err error) *Error {
	return &Error{Code: CodeGatewayOperation, Status: fiber.StatusInternalServerError, Message: message, Err: err}
}

func Internal(message string, err error) *Error {
	return &Error{Code: CodeInternal, Status: fiber.StatusInternalServerError, Message: message, Err: err}
}

// From normalizes any error into an *Error, wrapping unknown errors as
// internal faults.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("unexpected error", err)
}

// HasCode reports whether err is an *Error with the given code.
func HasCode(err error, code string) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}
