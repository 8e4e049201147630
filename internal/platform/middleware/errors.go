package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/iancoleman/strcase"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	CodeValidationError = "validation_error"
	CodeStorageError    = "storage_error"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *ErrorResponse) Error() string {
	return e.Message
}

// NewErrorResponse builds a response whose code is derived from the status.
func NewErrorResponse(status int, message string) *ErrorResponse {
	return &ErrorResponse{
		StatusCode: status,
		Code:       strcase.ToSnake(http.StatusText(status)),
		Message:    message,
	}
}

// ErrorHandler renders errors returned by handlers as ErrorResponse JSON.
// Server-side failures are logged with the request id.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var resp *ErrorResponse
		var he *echo.HTTPError
		switch {
		case errors.As(err, &resp):
		case errors.As(err, &he):
			resp = NewErrorResponse(he.Code, fmt.Sprintf("%v", he.Message))
		default:
			resp = NewErrorResponse(http.StatusInternalServerError, err.Error())
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			rid, _ := c.Get(RequestIDKey).(string)
			logger.Error().Err(err).Str("request_id", rid).Int("status", resp.StatusCode).Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			c.NoContent(resp.StatusCode)
			return
		}
		c.JSON(resp.StatusCode, resp)
	}
}
