package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type healthBody struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

func runHealth(t *testing.T, h echo.HandlerFunc) (*httptest.ResponseRecorder, healthBody) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body healthBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec, body
}

func okCheck(name string) HealthCheck {
	return HealthCheck{Name: name, Ping: func(context.Context) error { return nil }}
}

func TestHealthHandler_AllHealthy(t *testing.T) {
	check := okCheck("database")
	check.Details = func() interface{} { return &PoolStats{TotalConns: 2, MaxConns: 4} }

	rec, body := runHealth(t, HealthHandler(time.Second, check, okCheck("cache")))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if body.Status != "healthy" {
		t.Errorf("expected healthy, got %s", body.Status)
	}
	if body.Checks["database"].Details == nil {
		t.Error("expected pool details on the database check")
	}
	if body.Checks["cache"].Status != "ok" {
		t.Errorf("expected cache ok, got %+v", body.Checks["cache"])
	}
}

func TestHealthHandler_FailingCheck(t *testing.T) {
	failing := HealthCheck{Name: "cache", Ping: func(context.Context) error {
		return errors.New("connection refused")
	}}

	rec, body := runHealth(t, HealthHandler(time.Second, okCheck("database"), failing))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %s", body.Status)
	}
	if got := body.Checks["cache"]; got.Status != "error" || got.Error != "connection refused" {
		t.Errorf("unexpected cache result %+v", got)
	}
	if body.Checks["database"].Status != "ok" {
		t.Error("expected database to stay ok")
	}
}

func TestHealthHandler_Timeout(t *testing.T) {
	slow := HealthCheck{Name: "database", Ping: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	rec, body := runHealth(t, HealthHandler(10*time.Millisecond, slow))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if body.Checks["database"].Error != context.DeadlineExceeded.Error() {
		t.Errorf("expected deadline error, got %q", body.Checks["database"].Error)
	}
}

func TestHealthHandler_NoChecks(t *testing.T) {
	rec, body := runHealth(t, HealthHandler(time.Second))
	if rec.Code != http.StatusOK || body.Status != "healthy" {
		t.Errorf("expected healthy with no checks, got %d %s", rec.Code, body.Status)
	}
}
