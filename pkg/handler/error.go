package handler

import (
	"fmt"
	"net/http"
)

// Error represents an error with the intent to be sent in the HTTP response
// to the client. It carries a stable snake-case error code, the HTTP status,
// and any extra response headers (Retry-After, X-RateLimit-Reason).
type Error struct {
	ErrorCode  string
	Detail     string
	StatusCode int
	Header     map[string]string
}

func (e Error) Error() string {
	return e.ErrorCode + ": " + e.Detail
}

func (e1 Error) Is(target error) bool {
	e2, ok := target.(Error)
	return ok && e1.ErrorCode == e2.ErrorCode
}

// WithDetail returns a copy of the error with a different detail message.
func (e Error) WithDetail(detail string) Error {
	e.Detail = detail
	return e
}

// WithHeader returns a copy of the error with an extra response header.
func (e Error) WithHeader(key, value string) Error {
	headers := make(map[string]string, len(e.Header)+1)
	for k, v := range e.Header {
		headers[k] = v
	}
	headers[key] = value
	e.Header = headers
	return e
}

// NewError constructs an Error with the given code, detail and HTTP status.
func NewError(errCode, detail string, statusCode int) Error {
	return Error{ErrorCode: errCode, Detail: detail, StatusCode: statusCode}
}

var (
	ErrBadRequest     = NewError("bad_request", "request is invalid", http.StatusBadRequest)
	ErrMissingAPIKey  = NewError("missing_api_key", "missing or invalid credential", http.StatusUnauthorized)
	ErrForbidden      = NewError("forbidden", "principal does not own this resource", http.StatusForbidden)
	ErrUploadNotFound = NewError("not_found", "upload not found", http.StatusNotFound)
	ErrConflict       = NewError("conflict", "request conflicts with upload state", http.StatusConflict)
	ErrRangeInvalid   = NewError("range_not_satisfiable", "requested range is not satisfiable", http.StatusRequestedRangeNotSatisfiable)
	ErrThrottled      = NewError("throttled", "too many concurrent chunk uploads", http.StatusTooManyRequests)
	ErrInternal       = NewError("internal_error", "internal server error", http.StatusInternalServerError)
	ErrGatewayTimeout = NewError("gateway_timeout", "timed out waiting for chunk persistence", http.StatusGatewayTimeout)
)

// errorCodeForStatus maps an HTTP status to its stable error code.
func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "missing_api_key"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestedRangeNotSatisfiable:
		return "range_not_satisfiable"
	case http.StatusTooManyRequests:
		return "throttled"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return fmt.Sprintf("http_%d", status)
	}
}

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
	RequestID string `json:"request_id"`
	UploadID  string `json:"upload_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}
