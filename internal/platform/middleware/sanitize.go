package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxHeaderValueSize is the maximum allowed size for any single header value.
const maxHeaderValueSize = 8192

// Sanitize rejects requests carrying path traversal sequences, null bytes or
// header injection before they reach a handler.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if reason := inspect(c.Request()); reason != "" {
				logger.Warn().
					Str("path", c.Request().URL.Path).
					Str("remote_ip", c.RealIP()).
					Str("reason", reason).
					Msg("request rejected")
				return NewErrorResponse(http.StatusBadRequest, reason)
			}
			return next(c)
		}
	}
}

func inspect(req *http.Request) string {
	path := req.URL.Path
	rawPath := req.URL.RawPath
	if rawPath == "" {
		rawPath = path
	}
	if containsPathTraversal(path) || containsPathTraversal(rawPath) {
		return "path traversal detected"
	}
	if containsNullByte(path) || containsNullByte(rawPath) {
		return "null byte in path"
	}

	for name, values := range req.Header {
		for _, v := range values {
			if len(v) > maxHeaderValueSize {
				return "header value too large: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "header injection detected: " + name
			}
		}
	}

	for key, values := range req.URL.Query() {
		if containsNullByte(key) {
			return "null byte in query parameter"
		}
		for _, v := range values {
			if containsNullByte(v) {
				return "null byte in query parameter"
			}
		}
	}
	return ""
}

// containsPathTraversal checks raw and percent-encoded forms.
func containsPathTraversal(s string) bool {
	if strings.Contains(s, "..") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func containsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}
