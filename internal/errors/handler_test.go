package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	return response
}

func TestHandleError(t *testing.T) {
	handler := NewErrorHandler(quietLogger())

	tests := []struct {
		name       string
		err        error
		status     int
		errType    ErrorType
		fatal      bool
		retryAfter string
	}{
		{
			name:    "validation",
			err:     NewValidationError("n must be between 1 and 100000"),
			status:  http.StatusBadRequest,
			errType: ErrorTypeValidation,
		},
		{
			name:    "plain error is hidden",
			err:     errors.New("dial tcp: connection refused"),
			status:  http.StatusInternalServerError,
			errType: ErrorTypeInternal,
		},
		{
			name:    "wrapped source error",
			err:     fmt.Errorf("step: %w", NewSourceError("frame_len is not an unsigned integer")),
			status:  http.StatusBadGateway,
			errType: ErrorTypeSource,
			fatal:   true,
		},
		{
			name:    "invariant",
			err:     NewInvariantError("cursor %d past frame end", 70),
			status:  http.StatusInternalServerError,
			errType: ErrorTypeInvariant,
			fatal:   true,
		},
		{
			name:       "conflict",
			err:        NewConflictError("bench is running"),
			status:     http.StatusConflict,
			errType:    ErrorTypeConflict,
			retryAfter: "1",
		},
		{
			name:       "rate limited",
			err:        NewRateLimitError("too many step requests"),
			status:     http.StatusTooManyRequests,
			errType:    ErrorTypeRateLimit,
			retryAfter: "1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/bus/step", nil)
			req.Header.Set(RequestIDHeader, "test-123")
			rr := httptest.NewRecorder()

			handler.HandleError(rr, req, tt.err)

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Equal(t, tt.retryAfter, rr.Header().Get("Retry-After"))

			response := decode(t, rr)
			assert.Equal(t, tt.errType, response.Error.Type)
			assert.Equal(t, tt.fatal, response.Error.Fatal)
			assert.NotEmpty(t, response.Error.Message)
			assert.NotContains(t, response.Error.Message, "connection refused")
			assert.Equal(t, "test-123", response.RequestID)
		})
	}
}

func TestHandleNotFound(t *testing.T) {
	handler := NewErrorHandler(quietLogger())
	rr := httptest.NewRecorder()

	handler.HandleNotFound(rr, httptest.NewRequest("GET", "/nonexistent", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	response := decode(t, rr)
	assert.Equal(t, ErrorTypeNotFound, response.Error.Type)
	assert.Contains(t, response.Error.Message, "endpoint")
	assert.Empty(t, response.RequestID)
}

func TestHandleMethodNotAllowed(t *testing.T) {
	handler := NewErrorHandler(quietLogger())
	rr := httptest.NewRecorder()

	handler.HandleMethodNotAllowed(rr, httptest.NewRequest("DELETE", "/api/v1/bus", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	response := decode(t, rr)
	assert.Equal(t, ErrorTypeValidation, response.Error.Type)
	assert.Contains(t, response.Error.Message, "Method not allowed")
}

func TestMiddleware(t *testing.T) {
	handler := NewErrorHandler(quietLogger())

	protected := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("middleware test panic")
	}))

	rr := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		protected.ServeHTTP(rr, httptest.NewRequest("GET", "/test", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	response := decode(t, rr)
	assert.Equal(t, ErrorTypeInternal, response.Error.Type)
	assert.Contains(t, response.Error.Message, "unexpected error")
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, logrus.ErrorLevel, levelFor(http.StatusBadGateway))
	assert.Equal(t, logrus.DebugLevel, levelFor(http.StatusNotFound))
	assert.Equal(t, logrus.InfoLevel, levelFor(http.StatusConflict))
	assert.Equal(t, logrus.WarnLevel, levelFor(http.StatusBadRequest))
}
