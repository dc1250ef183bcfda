package client

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	withCode := &APIError{Status: 0, Code: CodeTimeout, Message: "request timed out"}
	assert.Equal(t, "TIMEOUT: request timed out", withCode.Error())

	withStatus := &APIError{Status: 422, Message: "name is required"}
	assert.Equal(t, "status 422: name is required", withStatus.Error())
}

func TestAsAPIError_Wrapped(t *testing.T) {
	inner := &APIError{Status: 503, Message: "upstream down"}
	wrapped := fmt.Errorf("list mail: %w", inner)

	got, ok := AsAPIError(wrapped)
	assert.True(t, ok)
	assert.Same(t, inner, got)

	_, ok = AsAPIError(errors.New("plain"))
	assert.False(t, ok)

	_, ok = AsAPIError(nil)
	assert.False(t, ok)
}

func TestErrorGuards(t *testing.T) {
	unauthorized := newStatusError(http.StatusUnauthorized, nil)
	assert.True(t, IsAuthError(unauthorized))
	assert.ErrorIs(t, unauthorized, ErrSessionExpired)

	refreshFailed := &APIError{Status: http.StatusUnauthorized, Code: CodeRefreshFailed, Message: "refresh rejected", Err: ErrSessionExpired}
	assert.True(t, IsAuthError(refreshFailed))

	network := &APIError{Status: 0, Code: CodeNetworkError, Message: "connection refused"}
	assert.True(t, IsNetworkError(network))
	assert.False(t, IsTimeout(network))
	assert.False(t, IsAuthError(network))

	timeout := &APIError{Status: 0, Code: CodeTimeout, Message: "request timed out"}
	assert.True(t, IsTimeout(timeout))
	assert.False(t, IsNetworkError(timeout))

	notFound := newStatusError(http.StatusNotFound, []byte(`{"detail":"gone"}`))
	assert.False(t, IsAuthError(notFound))
	assert.False(t, IsNetworkError(notFound))
	assert.False(t, IsTimeout(notFound))
}

func TestNewStatusError_BodyPrecedence(t *testing.T) {
	err := newStatusError(400, []byte(`{"detail":"d","message":"m","error":"e"}`))
	assert.Equal(t, "d", err.Message, "detail wins over message and error")

	err = newStatusError(400, []byte(`{"message":"m","error":"e"}`))
	assert.Equal(t, "m", err.Message)

	err = newStatusError(400, []byte(`{"error":"e"}`))
	assert.Equal(t, "e", err.Message)

	err = newStatusError(400, []byte(`{"code":"VALIDATION","details":{"field":"name"}}`))
	assert.Equal(t, "request failed with status 400", err.Message)
	assert.Equal(t, "VALIDATION", err.Code)
	assert.Equal(t, map[string]any{"field": "name"}, err.Details)
}
