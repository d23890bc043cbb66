package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents an API error
type APIError struct {
	Code    string            `json:"code"`
	Type    string            `json:"type,omitempty"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func requestIDFrom(c *gin.Context) string {
	if id, ok := c.Get(requestIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestIDFrom(c),
		Timestamp: time.Now(),
	})
}

// CreatedResponse sends a 201 Created response
func CreatedResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestIDFrom(c),
		Timestamp: time.Now(),
	})
}

// StatusForError maps an error to the HTTP status returned to the widget
func StatusForError(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// nginx convention for a client that went away
		return 499
	}

	switch errors.GetType(err) {
	case errors.ErrorTypeValidation, errors.ErrorTypeSecurityValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorTypeCircuitOpen:
		return http.StatusServiceUnavailable
	case errors.ErrorTypeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponseFromError sends an error response based on the error type
func ErrorResponseFromError(c *gin.Context, err error) {
	statusCode := StatusForError(err)

	var apiError *APIError
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		apiError = &APIError{
			Code:    appErr.Code,
			Type:    string(appErr.Type),
			Message: appErr.Message,
		}
		if len(appErr.Details) > 0 {
			apiError.Details = make(map[string]string, len(appErr.Details))
			for k, v := range appErr.Details {
				apiError.Details[k] = v
			}
		}
	} else {
		switch statusCode {
		case http.StatusGatewayTimeout:
			apiError = &APIError{Code: "TIMEOUT", Type: string(errors.ErrorTypeTimeout), Message: "The request timed out"}
		case 499:
			apiError = &APIError{Code: "REQUEST_CANCELLED", Message: "The request was cancelled"}
		default:
			apiError = &APIError{Code: "UNKNOWN_ERROR", Message: "An unknown error occurred"}
		}
	}

	c.JSON(statusCode, APIResponse{
		Success:   false,
		Error:     apiError,
		RequestID: requestIDFrom(c),
		Timestamp: time.Now(),
	})
}

func errorResponse(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
		RequestID: requestIDFrom(c),
		Timestamp: time.Now(),
	})
}

// NotFoundResponse sends a 404 Not Found response
func NotFoundResponse(c *gin.Context, message string) {
	errorResponse(c, http.StatusNotFound, "NOT_FOUND", message)
}

// InternalErrorResponse sends a 500 Internal Server Error response
func InternalErrorResponse(c *gin.Context, message string) {
	errorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}
