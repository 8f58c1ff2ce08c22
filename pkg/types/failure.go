package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureCode tags a failure with its place in the error taxonomy. Callers
// branch on the code; only the outermost HTTP handler maps codes to statuses.
type FailureCode string

const (
	FailureInvalidArgument  FailureCode = "invalid_argument"
	FailureNotFound         FailureCode = "not_found"
	FailureAlreadyExists    FailureCode = "already_exists"
	FailurePermissionDenied FailureCode = "permission_denied"
	FailureUnavailable      FailureCode = "unavailable"
	FailureExternalAPI      FailureCode = "external_api_failure"
	FailureTimeout          FailureCode = "timeout"
	FailureInternal         FailureCode = "internal"
)

// Failure is a tagged domain error. Upstream detail is preserved verbatim in
// the message.
type Failure struct {
	Code     FailureCode
	Message  string
	Endpoint string
	cause    error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.cause
}

// NewFailure creates a Failure with the given code and formatted message.
func NewFailure(code FailureCode, format string, args ...any) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapFailure creates a Failure that wraps an underlying cause.
func WrapFailure(code FailureCode, cause error, format string, args ...any) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// CodeOf extracts the failure code from an error, defaulting to
// FailureInternal for untagged errors. Context cancellation and deadline
// expiry map to the timeout code.
func CodeOf(err error) FailureCode {
	var f *Failure
	if errors.As(err, &f) {
		return f.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTimeout
	}
	return FailureInternal
}

// HTTPStatus maps an error to the status the external interface responds
// with. Besides the code taxonomy, a few well-known upstream message
// fragments are recognised for compatibility with existing clients.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch CodeOf(err) {
	case FailureInvalidArgument:
		return http.StatusBadRequest
	case FailureNotFound:
		return http.StatusNotFound
	case FailureAlreadyExists:
		return http.StatusConflict
	case FailurePermissionDenied:
		return http.StatusForbidden
	case FailureTimeout:
		return http.StatusGatewayTimeout
	case FailureUnavailable, FailureExternalAPI:
		return statusFromMessage(err.Error())
	}
	return statusFromMessage(err.Error())
}

func statusFromMessage(msg string) int {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "no valid asset and policy allowed"),
		strings.Contains(lower, "negotiation failed"):
		return http.StatusForbidden
	case strings.Contains(lower, "not found"):
		return http.StatusNotFound
	case strings.Contains(lower, "timeout"):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
