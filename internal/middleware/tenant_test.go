package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantMiddlewareRejectsMissingHeader(t *testing.T) {
	handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a tenant")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/packs", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "TENANT_REQUIRED")
}

func TestTenantMiddlewareInjectsTenant(t *testing.T) {
	var got string
	handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = TenantFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/packs", nil)
	req.Header.Set("X-Tenant-ID", "acme")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", got)
}

func TestTenantFromWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.Empty(t, TenantFrom(req.Context()))
}
