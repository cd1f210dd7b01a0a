// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/privacy"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for the user ID
	UserIDKey ContextKey = "user_id"
	// RoleKey is the context key for the user's role
	RoleKey ContextKey = "role"
	// DomainKey is the context key for the user's access domain
	DomainKey ContextKey = "domain"
	// SubjectIDKey is the context key for a subject user's own subject id
	SubjectIDKey ContextKey = "subject_id"
)

// Middleware provides HTTP middleware for authentication. Beyond token
// validation it resolves the user's role to a privacy access domain, so
// downstream handlers only ever see a domain.
type Middleware struct {
	tokenManager *TokenManager
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(tokenManager *TokenManager) *Middleware {
	return &Middleware{
		tokenManager: tokenManager,
	}
}

// RequireAuth validates the bearer token and attaches the principal's
// identity and access domain to the request context
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
			return
		}

		user, err := m.tokenManager.GetUser(token)
		if err != nil {
			http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}

		domain, err := privacy.DomainForRole(user.Role)
		if err != nil {
			http.Error(w, "Forbidden: "+err.Error(), http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), user, domain)))
	})
}

// extractToken extracts the bearer token from the Authorization header,
// falling back to the access_token query parameter
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}
	return r.URL.Query().Get("access_token")
}

// WithPrincipal attaches a user and resolved domain to a context
func WithPrincipal(ctx context.Context, user *database.MuninUser, domain string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, user.ID)
	ctx = context.WithValue(ctx, RoleKey, user.Role)
	ctx = context.WithValue(ctx, DomainKey, domain)
	if user.SubjectID != "" {
		ctx = context.WithValue(ctx, SubjectIDKey, user.SubjectID)
	}
	return ctx
}

// GetUserIDFromContext extracts the user ID from request context
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// GetDomainFromContext extracts the access domain from request context
func GetDomainFromContext(ctx context.Context) (string, bool) {
	domain, ok := ctx.Value(DomainKey).(string)
	return domain, ok
}

// GetSubjectIDFromContext extracts the acting subject's own id, set only
// for subject-role principals
func GetSubjectIDFromContext(ctx context.Context) (string, bool) {
	subjectID, ok := ctx.Value(SubjectIDKey).(string)
	return subjectID, ok
}
