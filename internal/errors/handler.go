package errors

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the request ID assigned by the server middleware.
const RequestIDHeader = "X-Request-ID"

// ErrorResponse is the JSON body of every failed control API request.
type ErrorResponse struct {
	Error     ErrorDetails `json:"error"`
	RequestID string       `json:"request_id,omitempty"`
}

// ErrorDetails describes one failure.
type ErrorDetails struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	// Fatal is set when the bench has stopped and every later step fails the same way.
	Fatal bool `json:"fatal,omitempty"`
	// RetryAfter is the suggested wait in seconds for transient failures.
	RetryAfter int `json:"retry_after,omitempty"`
}

// ErrorHandler renders errors as ErrorResponse bodies.
type ErrorHandler struct {
	logger *logrus.Logger
}

// NewErrorHandler creates a handler logging to logger.
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger: logger,
	}
}

// HandleError writes err with the status of the AppError it wraps. Other errors are
// reported as internal errors without leaking their text.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := GetAppError(err)
	if !ok {
		appErr = WrapInternalError(err, "An unexpected error occurred")
	}
	requestID := r.Header.Get(RequestIDHeader)

	h.logger.WithFields(logrus.Fields{
		"error_type": appErr.Type,
		"status":     appErr.HTTPStatus,
		"fatal":      appErr.Fatal(),
		"request_id": requestID,
		"method":     r.Method,
		"path":       r.URL.Path,
	}).Log(levelFor(appErr.HTTPStatus), appErr.Error())

	details := ErrorDetails{
		Type:       appErr.Type,
		Message:    appErr.Message,
		Code:       appErr.Code,
		Details:    appErr.Details,
		Fatal:      appErr.Fatal(),
		RetryAfter: retryAfter(appErr.Type),
	}
	if details.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(details.RetryAfter))
	}

	h.writeJSON(w, appErr.HTTPStatus, ErrorResponse{Error: details, RequestID: requestID})
}

// HandleNotFound answers requests for unknown routes.
func (h *ErrorHandler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.HandleError(w, r, NewNotFoundError("endpoint"))
}

// HandleMethodNotAllowed answers requests with a method the route does not serve.
func (h *ErrorHandler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.HandleError(w, r, New(ErrorTypeValidation, "Method not allowed", http.StatusMethodNotAllowed))
}

// HandlePanic answers a request whose handler panicked.
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	h.logger.WithFields(logrus.Fields{
		"panic":      recovered,
		"method":     r.Method,
		"path":       r.URL.Path,
		"request_id": r.Header.Get(RequestIDHeader),
	}).Error("Panic recovered in HTTP handler")

	h.HandleError(w, r, NewInternalError("An unexpected error occurred"))
}

// Middleware recovers panics in next.
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				h.HandlePanic(w, r, recovered)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (h *ErrorHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode error response")
	}
}

// levelFor logs server faults as errors and client mistakes quietly.
func levelFor(status int) logrus.Level {
	switch {
	case status >= 500:
		return logrus.ErrorLevel
	case status == http.StatusNotFound, status == http.StatusMethodNotAllowed:
		return logrus.DebugLevel
	case status == http.StatusTooManyRequests, status == http.StatusConflict:
		return logrus.InfoLevel
	default:
		return logrus.WarnLevel
	}
}

// retryAfter is the wait suggested for failures that clear by themselves.
func retryAfter(t ErrorType) int {
	switch t {
	case ErrorTypeRateLimit, ErrorTypeConflict:
		return 1
	case ErrorTypeServiceDown:
		return 5
	default:
		return 0
	}
}
