package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried by APIError for failures that never reached the
// server (Status 0) or that the client classified itself.
const (
	CodeNetworkError  = "NETWORK_ERROR"
	CodeTimeout       = "TIMEOUT"
	CodeRefreshFailed = "REFRESH_FAILED"
)

// ErrSessionExpired is wrapped by every auth failure that ends the
// session (tokens cleared, auth-failure handler invoked).
var ErrSessionExpired = errors.New("session expired")

// APIError is the uniform error shape every failed call resolves to.
// Status carries the server's HTTP status, or 0 when the request never
// completed (network failure, timeout, cancellation).
type APIError struct {
	Status  int            `json:"status"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// AsAPIError extracts the normalized error from err.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsAuthError reports whether err is an authentication failure (HTTP 401
// or a failed refresh cycle).
func IsAuthError(err error) bool {
	if errors.Is(err, ErrSessionExpired) {
		return true
	}
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Status == http.StatusUnauthorized
}

// IsNetworkError reports whether err is a connectivity failure that never
// produced an HTTP status.
func IsNetworkError(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Status == 0 && apiErr.Code == CodeNetworkError
}

// IsTimeout reports whether err is a local timeout or cancellation.
func IsTimeout(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Code == CodeTimeout
}

// errorBody is the failure shape returned by workspace services. The
// human-readable text may live under any of the three field names.
type errorBody struct {
	Detail  string         `json:"detail"`
	Message string         `json:"message"`
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details"`
}

// newStatusError converts a non-2xx response into an APIError, pulling
// the message from the body when it parses.
func newStatusError(status int, body []byte) *APIError {
	apiErr := &APIError{
		Status:  status,
		Message: fmt.Sprintf("request failed with status %d", status),
	}

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		switch {
		case eb.Detail != "":
			apiErr.Message = eb.Detail
		case eb.Message != "":
			apiErr.Message = eb.Message
		case eb.Error != "":
			apiErr.Message = eb.Error
		}
		apiErr.Code = eb.Code
		apiErr.Details = eb.Details
	}

	if status == http.StatusUnauthorized {
		apiErr.Err = ErrSessionExpired
	}
	return apiErr
}
