package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors, one per failure kind the auth service exposes.
var (
	ErrValidation           = errors.New("validation failed")
	ErrDuplicateUser        = errors.New("duplicate user")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrInvalidToken         = errors.New("invalid token")
	ErrExpiredToken         = errors.New("expired token")
	ErrFederatedAuthFailure = errors.New("federated auth failure")
	ErrUnauthenticated      = errors.New("unauthenticated")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Validation creates a 400 error for malformed input.
func Validation(message string) *AppError {
	return &AppError{
		Code:    "VALIDATION_ERROR",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrValidation,
	}
}

// DuplicateUser creates the error returned when the email or username is taken.
// It carries 409 semantics but is reported as 400.
func DuplicateUser() *AppError {
	return &AppError{
		Code:    "DUPLICATE_USER",
		Message: "User already exists with this email or username",
		Status:  http.StatusBadRequest,
		Err:     ErrDuplicateUser,
	}
}

// InvalidCredentials creates a 401 error. The message is identical for an
// unknown email and a wrong password.
func InvalidCredentials() *AppError {
	return &AppError{
		Code:    "INVALID_CREDENTIALS",
		Message: "Invalid credentials",
		Status:  http.StatusUnauthorized,
		Err:     ErrInvalidCredentials,
	}
}

// InvalidToken creates a 401 error for a token that failed verification or
// is no longer registered.
func InvalidToken(message string) *AppError {
	return &AppError{
		Code:    "INVALID_TOKEN",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrInvalidToken,
	}
}

// ExpiredToken creates a 401 error for a refresh token past its expiry.
func ExpiredToken(message string) *AppError {
	return &AppError{
		Code:    "EXPIRED_TOKEN",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrExpiredToken,
	}
}

// TokenExpired creates the 401 error the request gate returns for an
// expired access token.
func TokenExpired() *AppError {
	return &AppError{
		Code:    "TOKEN_EXPIRED",
		Message: "Token expired",
		Status:  http.StatusUnauthorized,
		Err:     ErrExpiredToken,
	}
}

// FederatedAuthFailure creates a 400 error for a rejected identity token.
func FederatedAuthFailure(message string) *AppError {
	return &AppError{
		Code:    "FEDERATED_AUTH_FAILURE",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrFederatedAuthFailure,
	}
}

// Unauthenticated creates a 401 error for a request without a usable identity.
func Unauthenticated(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHENTICATED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthenticated,
	}
}

// Internal creates a 500 error. The cause is kept for logging only.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}
