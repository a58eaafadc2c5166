package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"ms-checkin/internal/logger"
)

type contextKey string

const (
	staffIDKey contextKey = "staff_id"
	rolesKey   contextKey = "roles"
)

// Realm roles allowed at the gate.
const (
	RoleScanner = "SCANNER"
	RoleStaff   = "STAFF"
)

// Middleware authenticates the bearer token and places the staff identity
// and realm roles in the request context.
func Middleware(verifier TokenVerifier, l *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				l.LogSecurity("INVALID_TOKEN", fmt.Sprintf("%s %s from %s: %v", r.Method, r.URL.Path, r.RemoteAddr, err))
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if claims.Subject == "" {
				http.Error(w, "subject claim not found in token", http.StatusUnauthorized)
				return
			}

			ctx := WithIdentity(r.Context(), claims.Subject, claims.Roles())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose identity holds none of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasRole(r.Context(), roles...) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithIdentity stores an authenticated identity in ctx.
func WithIdentity(ctx context.Context, staffID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, staffIDKey, staffID)
	return context.WithValue(ctx, rolesKey, roles)
}

// Helper to extract staff ID in handlers
func StaffID(ctx context.Context) string {
	if uid, ok := ctx.Value(staffIDKey).(string); ok {
		return uid
	}
	return ""
}

func Roles(ctx context.Context) []string {
	roles, _ := ctx.Value(rolesKey).([]string)
	return roles
}

// HasRole reports whether the identity holds any of roles. Matching is
// case-insensitive.
func HasRole(ctx context.Context, roles ...string) bool {
	for _, have := range Roles(ctx) {
		for _, want := range roles {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}
