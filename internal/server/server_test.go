package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type routeHandler struct{}

func (routeHandler) Register(e *echo.Echo) {
	e.GET("/registered", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func TestNewServerRegistersHandlers(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, "", routeHandler{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/registered", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if s.addr != ":8080" {
		t.Errorf("addr = %q, want default", s.addr)
	}
}

func TestServerRecoversFromPanic(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, ":9999")
	s.echo.GET("/panic", func(echo.Context) error {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
