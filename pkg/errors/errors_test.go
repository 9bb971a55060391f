package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	err := NewInvalidInputError("room_id is required")
	assert.Equal(t, "INVALID_INPUT: room_id is required", err.Error())
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)

	cause := errors.New("connection refused")
	wrapped := WrapError(cause, ErrCodeServiceUnavailable, "moderation store unavailable", http.StatusServiceUnavailable)
	assert.Contains(t, wrapped.Error(), "connection refused")
	assert.ErrorIs(t, wrapped, cause)
}

func TestRejectedErrorCarriesOnlyReason(t *testing.T) {
	err := NewRejectedError("banned")
	assert.Equal(t, ErrCodeRejected, err.Code)
	assert.Equal(t, http.StatusForbidden, err.HTTPStatus)
	assert.Equal(t, map[string]interface{}{"reason": "banned"}, err.Context)
}

func TestConstructorsStatus(t *testing.T) {
	cases := []struct {
		err    *AppError
		code   ErrorCode
		status int
	}{
		{NewNotFoundError("room"), ErrCodeNotFound, http.StatusNotFound},
		{NewUnauthorizedError("missing token"), ErrCodeUnauthorized, http.StatusUnauthorized},
		{NewForbiddenError("host only"), ErrCodeForbidden, http.StatusForbidden},
		{NewConflictError("room exists"), ErrCodeConflict, http.StatusConflict},
		{NewTooLargeError("note too large"), ErrCodeTooLarge, http.StatusRequestEntityTooLarge},
		{NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{NewInternalError("boom"), ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, tc.err.Code)
		assert.Equal(t, tc.status, tc.err.HTTPStatus)
	}
	assert.Equal(t, "room not found", NewNotFoundError("room").Message)
}

func TestGetAppErrorThroughWrapping(t *testing.T) {
	appErr := NewConflictError("room exists")
	wrapped := fmt.Errorf("create room: %w", appErr)

	got := GetAppError(wrapped)
	require.NotNil(t, got)
	assert.Same(t, appErr, got)
	assert.True(t, IsAppError(wrapped))

	assert.Nil(t, GetAppError(errors.New("plain")))
	assert.Nil(t, GetAppError(nil))
}
