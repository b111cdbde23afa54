package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Credential-specific error types
const (
	ErrorTypeNotConnected  ErrorType = "not_connected"
	ErrorTypeRefreshFailed ErrorType = "refresh_failed"
)

// ErrNotConnected is returned when a user has no stored tracker credential.
// Callers surface it as a prompt to run the OAuth connect flow.
var ErrNotConnected = stderrors.New("tracker account not connected")

// RefreshFailedError is returned when the identity provider rejects a
// refresh-token exchange. The stored credential is left untouched so a
// later attempt can retry with the same refresh token. The message never
// carries token material.
type RefreshFailedError struct {
	// StatusCode is the HTTP status returned by the token endpoint,
	// zero when the exchange failed before a response arrived.
	StatusCode int
	Err        error
}

func (e *RefreshFailedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token refresh rejected by identity provider (status %d)", e.StatusCode)
	}
	return "token refresh failed"
}

func (e *RefreshFailedError) Unwrap() error {
	return e.Err
}

// NewRefreshFailedError wraps a provider failure in a RefreshFailedError.
func NewRefreshFailedError(statusCode int, err error) *RefreshFailedError {
	return &RefreshFailedError{StatusCode: statusCode, Err: err}
}

// IsNotConnected reports whether err indicates a missing credential.
func IsNotConnected(err error) bool {
	return stderrors.Is(err, ErrNotConnected)
}

// IsRefreshFailed reports whether err is (or wraps) a RefreshFailedError.
func IsRefreshFailed(err error) bool {
	var rfe *RefreshFailedError
	return stderrors.As(err, &rfe)
}

// ToAppError maps credential errors to HTTP-facing AppErrors without
// leaking provider detail.
func ToAppError(err error) *AppError {
	switch {
	case IsNotConnected(err):
		return &AppError{
			Type:    ErrorTypeNotConnected,
			Message: "Tracker account not connected",
			Code:    http.StatusUnauthorized,
			Details: "Please connect your tracker account first",
		}
	case IsRefreshFailed(err):
		return &AppError{
			Type:    ErrorTypeRefreshFailed,
			Message: "Could not reach the issue tracker",
			Code:    http.StatusBadGateway,
			Details: "Please try again in a moment",
		}
	default:
		if appErr := GetAppError(err); appErr != nil {
			return appErr
		}
		return NewInternalError("internal error")
	}
}
