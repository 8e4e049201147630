package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newSanitizeEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(zerolog.Nop())
	e.Use(Sanitize(zerolog.Nop()))
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/*", ok)
	e.PUT("/*", ok)
	return e
}

func assertRejected(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != "bad_request" || body.Message == "" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestSanitize_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
	}{
		{"dot dot", "/../../etc/passwd", ""},
		{"encoded dot dot", "/%2e%2e/%2e%2e/etc/passwd", ""},
		{"double encoded", "/%252e%252e/etc/passwd", ""},
		{"null byte in path", "/file%00.txt", ""},
		{"null byte in query", "/api/v1/scenarios/7/parameters?name=Lac%00tate", ""},
		{"oversized header", "/api/v1/scenarios/7/timeline", strings.Repeat("a", maxHeaderValueSize+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newSanitizeEcho()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("X-Custom", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assertRejected(t, rec)
		})
	}
}

func TestSanitize_HeaderInjection(t *testing.T) {
	e := newSanitizeEcho()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/scenarios/7/timeline", nil)
	req.Header["X-Injected"] = []string{"value\r\nX-Evil: true"}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assertRejected(t, rec)
}

func TestSanitize_NormalRequestPassesThrough(t *testing.T) {
	e := newSanitizeEcho()
	for _, target := range []string{
		"/api/v1/scenarios/7/timeline",
		"/api/v1/scenarios/7/parameters?node=2&name=Lactate",
		"/api/v1/scenarios/7/timeline/nodes/3/parent-role",
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", target, rec.Code)
		}
	}
}

func TestContainsHelpers(t *testing.T) {
	if !containsPathTraversal("/a/%2E%2E/b") {
		t.Error("expected upper-case encoded traversal to be detected")
	}
	if containsPathTraversal("/a/b.c/d") {
		t.Error("single dot is not traversal")
	}
	if !containsNullByte("abc\x00") || containsNullByte("abc") {
		t.Error("unexpected null byte detection")
	}
}
