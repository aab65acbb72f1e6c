package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status    int
		want      ErrorType
		retryable bool
	}{
		{http.StatusTooManyRequests, ErrorTypeRateLimit, true},
		{http.StatusNotFound, ErrorTypeNotFound, false},
		{http.StatusInternalServerError, ErrorTypeServer, true},
		{http.StatusBadGateway, ErrorTypeServer, true},
		{http.StatusBadRequest, ErrorTypeBadRequest, false},
		{http.StatusConflict, ErrorTypeBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := FromStatus("answer", tt.status, "")
			assert.Equal(t, tt.want, err.Type)
			assert.Equal(t, tt.retryable, err.IsRetryable())
			assert.Equal(t, http.StatusText(tt.status), err.Message)
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := FromStatus("start", http.StatusBadRequest, "Survey not found")
	assert.Equal(t, "survey api start bad_request error (status 400): Survey not found", err.Error())

	cause := errors.New("connection refused")
	err = NewErrorWithCause(ErrorTypeTransport, "answer", cause, "")
	assert.Equal(t, "survey api answer transport error: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestClassificationThroughWrapping(t *testing.T) {
	base := NewError(ErrorTypeProtocol, "answer", "unknown message_type")
	wrapped := fmt.Errorf("submit: %w", base)

	assert.True(t, Is(wrapped, ErrorTypeProtocol))
	assert.False(t, Is(wrapped, ErrorTypeServer))
	assert.Equal(t, ErrorTypeProtocol, TypeOf(wrapped))
	assert.False(t, IsRetryable(wrapped))

	plain := errors.New("dial tcp: i/o timeout")
	assert.Equal(t, ErrorTypeTransport, TypeOf(plain))
	assert.True(t, IsRetryable(plain))
	assert.False(t, IsRetryable(nil))
}
