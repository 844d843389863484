package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned by a TenantResolver for unknown or revoked
// tokens. Any other resolver error is treated as a server fault.
var ErrUnauthorized = errors.New("unauthorized")

type tenantKey struct{}

// TenantResolver maps a bearer token to the tenant it belongs to.
type TenantResolver interface {
	ResolveTenant(ctx context.Context, token string) (string, error)
}

// TenantFromContext returns the tenant ID from context, if present.
func TenantFromContext(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(tenantKey{}).(string)
	return tenantID, ok
}

// WithTenant returns a copy of ctx carrying tenantID.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// DefaultTenantMiddleware assigns every request to tenantID when auth is disabled.
func DefaultTenantMiddleware(tenantID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
		})
	}
}

// AuthMiddleware scopes each request to the tenant owning its bearer token.
func AuthMiddleware(resolver TenantResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w, "missing bearer token")
				return
			}

			tenantID, err := resolver.ResolveTenant(r.Context(), token)
			switch {
			case errors.Is(err, ErrUnauthorized), err == nil && tenantID == "":
				unauthorized(w, "invalid bearer token")
				return
			case err != nil:
				http.Error(w, "could not verify credentials", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
		})
	}
}

// bearerToken extracts the token of an "Authorization: Bearer" header. The
// scheme is case-insensitive.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="vesting"`)
	http.Error(w, msg, http.StatusUnauthorized)
}
