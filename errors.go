package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is an OAuth2 error identifier.
type ErrorCode string

// Protocol error codes recognized by Translate
const (
	CodeInvalidRequest          ErrorCode = "invalid_request"
	CodeUnauthorizedClient      ErrorCode = "unauthorized_client"
	CodeAccessDenied            ErrorCode = "access_denied"
	CodeUnsupportedResponseType ErrorCode = "unsupported_response_type"
	CodeInvalidScope            ErrorCode = "invalid_scope"
	CodeServerError             ErrorCode = "server_error"
	CodeTemporarilyUnavailable  ErrorCode = "temporarily_unavailable"
	CodeUnsupportedGrantType    ErrorCode = "unsupported_grant_type"
	CodeInvalidClient           ErrorCode = "invalid_client"
	CodeInvalidGrant            ErrorCode = "invalid_grant"
	CodeInvalidCredentials      ErrorCode = "invalid_credentials"
	CodeInvalidRefresh          ErrorCode = "invalid_refresh"
)

// Codes produced by the gateway itself
const (
	CodeUndefined         ErrorCode = "undefined_error"
	CodeForbidden         ErrorCode = "forbidden"
	CodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"
)

// statusByCode never yields 503, temporarily_unavailable included.
var statusByCode = map[ErrorCode]int{
	CodeInvalidRequest:          http.StatusBadRequest,
	CodeUnauthorizedClient:      http.StatusBadRequest,
	CodeAccessDenied:            http.StatusUnauthorized,
	CodeUnsupportedResponseType: http.StatusBadRequest,
	CodeInvalidScope:            http.StatusBadRequest,
	CodeServerError:             http.StatusInternalServerError,
	CodeTemporarilyUnavailable:  http.StatusBadRequest,
	CodeUnsupportedGrantType:    http.StatusNotImplemented,
	CodeInvalidClient:           http.StatusUnauthorized,
	CodeInvalidGrant:            http.StatusBadRequest,
	CodeInvalidCredentials:      http.StatusBadRequest,
	CodeInvalidRefresh:          http.StatusBadRequest,
}

// StatusForCode returns the HTTP status for a protocol error code and whether
// the code is a recognized one.
func StatusForCode(code ErrorCode) (int, bool) {
	status, ok := statusByCode[code]
	return status, ok
}

// ProtocolError is a failure reported by the issuance engine. Headers carries
// the engine's recommended response headers for the error, such as
// WWW-Authenticate.
type ProtocolError struct {
	Code        ErrorCode
	Description string
	Headers     http.Header
}

// NewProtocolError creates a protocol error without extra headers.
func NewProtocolError(code ErrorCode, description string) *ProtocolError {
	return &ProtocolError{Code: code, Description: description}
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Error is a failure ready to be written as an HTTP response.
type Error struct {
	Code        ErrorCode
	Description string
	Status      int
	Headers     http.Header
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// ErrorBody is the JSON body of every failure response.
type ErrorBody struct {
	Message     ErrorCode `json:"message"`
	Description string    `json:"description"`
}

// Body returns the JSON body for the error.
func (e *Error) Body() ErrorBody {
	return ErrorBody{Message: e.Code, Description: e.Description}
}

// Forbidden returns the 403 error used for invalid tokens and missing scopes.
func Forbidden(description string) *Error {
	return &Error{Code: CodeForbidden, Description: description, Status: http.StatusForbidden}
}

// RateLimited returns the 429 error used when a caller exceeds its quota.
func RateLimited(description string) *Error {
	return &Error{Code: CodeRateLimitExceeded, Description: description, Status: http.StatusTooManyRequests}
}

// Undefined returns the 500 error used for failures that are not protocol errors.
func Undefined(description string) *Error {
	return &Error{Code: CodeUndefined, Description: description, Status: http.StatusInternalServerError}
}

// Translate maps any error to a response error. Protocol errors with a
// recognized code use the fixed status table and keep their headers. Every
// other error, including protocol errors with an unknown code, becomes a 500
// undefined_error carrying the error text.
func Translate(err error) *Error {
	if err == nil {
		return nil
	}

	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}

	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		status, ok := StatusForCode(protoErr.Code)
		if !ok {
			return Undefined(protoErr.Error())
		}
		return &Error{
			Code:        protoErr.Code,
			Description: protoErr.Description,
			Status:      status,
			Headers:     protoErr.Headers.Clone(),
		}
	}

	return Undefined(err.Error())
}
