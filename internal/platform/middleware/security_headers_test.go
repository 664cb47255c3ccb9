package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func securityHeadersFor(hsts bool) http.Header {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs", nil), rec)
	_ = SecurityHeaders(hsts)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })(c)
	return rec.Header()
}

func TestSecurityHeaders(t *testing.T) {
	h := securityHeadersFor(false)
	for _, kv := range apiHeaders {
		if got := h.Get(kv[0]); got != kv[1] {
			t.Errorf("%s: expected %q, got %q", kv[0], kv[1], got)
		}
	}
	if h.Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must be off unless requested")
	}
	if securityHeadersFor(true).Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS header")
	}
}
