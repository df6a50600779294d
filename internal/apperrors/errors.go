package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Repository level errors
// Repositories return them (maybe wrapped), services translate them to *Error
var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidPassword   = errors.New("invalid password")

	ErrDeviceNotFound      = errors.New("device not found")
	ErrDeviceAlreadyExists = errors.New("device with this vendor identifier already exists")

	ErrDeviceAuthNotFound = errors.New("refresh token not found")
	ErrDeviceAuthIsUsed   = errors.New("refresh token is used")
	ErrDeviceAuthExpired  = errors.New("refresh token expired")

	ErrQRCodeNotFound = errors.New("qr code not found")
)

const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeAuthorization  = "AUTHORIZATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeTimeParadox    = "TIME_PARADOX"
	CodeDatabase       = "DATABASE_ERROR"
	CodeInternal       = "INTERNAL_ERROR"
	CodeTooManyRequest = "TOO_MANY_REQUESTS"
	CodeMethodNotAllow = "METHOD_NOT_ALLOWED"
)

// Application error with HTTP status and stable code
// Message is safe to show to the client, Err is not
type Error struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(status int, code string, message string, err error) *Error {
	return &Error{Status: status, Code: code, Message: message, Err: err}
}

func Validation(message string) *Error {
	return newError(http.StatusBadRequest, CodeValidation, message, nil)
}

func Authentication(message string) *Error {
	if message == "" {
		message = "Authentication failed"
	}
	return newError(http.StatusUnauthorized, CodeAuthentication, message, nil)
}

func Authorization(message string) *Error {
	if message == "" {
		message = "Not authorized"
	}
	return newError(http.StatusForbidden, CodeAuthorization, message, nil)
}

func NotFound(message string) *Error {
	return newError(http.StatusNotFound, CodeNotFound, message, nil)
}

func Conflict(message string) *Error {
	return newError(http.StatusConflict, CodeConflict, message, nil)
}

// Reserved for penalty logic, nothing in auth flow returns it
func TimeParadox(message string) *Error {
	return newError(http.StatusUnprocessableEntity, CodeTimeParadox, message, nil)
}

func TooManyRequests(message string) *Error {
	return newError(http.StatusTooManyRequests, CodeTooManyRequest, message, nil)
}

func MethodNotAllowed(message string) *Error {
	return newError(http.StatusMethodNotAllowed, CodeMethodNotAllow, message, nil)
}

func Database(err error) *Error {
	return newError(http.StatusInternalServerError, CodeDatabase, "Database error occurred", err)
}

func Internal(message string, err error) *Error {
	return newError(http.StatusInternalServerError, CodeInternal, message, err)
}

// With attaches the underlying cause, message stays the same
func (e *Error) With(err error) *Error {
	return newError(e.Status, e.Code, e.Message, err)
}

// As returns *Error from the chain if any
func As(err error) (*Error, bool) {
	var appErr *Error
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// Wrap passes typed application errors through unchanged
// Anything else becomes 500 with the stable message
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return appErr
	}
	return Internal(message, err)
}
