// Package middleware holds the HTTP middlewares shared by the API
// surface: tenant resolution and per-tenant rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

type ctxKey int

const tenantKey ctxKey = iota

// WithTenant injects the tenant id into the request context.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantFrom extracts the tenant id set by TenantMiddleware.
func TenantFrom(ctx context.Context) string {
	id, _ := ctx.Value(tenantKey).(string)
	return id
}

// TenantMiddleware requires an X-Tenant-ID header on every request and
// injects it into the context. Requests without one are rejected; tenant
// isolation starts here.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get("X-Tenant-ID")
		if tenantID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "missing X-Tenant-ID header",
				"code":  "TENANT_REQUIRED",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
	})
}
