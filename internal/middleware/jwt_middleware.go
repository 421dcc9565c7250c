// Package middleware holds the HTTP middleware of the API.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"saas_template/internal/auth"
	"saas_template/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

// Context keys for storing authentication data
const (
	ClaimsKey ContextKey = "claims"
	UserIDKey ContextKey = "userID"
)

// ErrUnknownUser is returned by a RoleLookup when the caller has no user record
var ErrUnknownUser = errors.New("user not found")

// RoleLookup resolves the stored role of an authenticated caller
type RoleLookup func(ctx context.Context, authID string) (auth.Role, error)

// RequireUser validates the bearer token of any signed-in user
func RequireUser(secret []byte) func(http.Handler) http.Handler {
	return JWTMiddleware(secret, auth.RoleUser, nil)
}

// RequireAdmin validates the bearer token and requires the caller's stored
// user record to carry the admin flag
func RequireAdmin(secret []byte, lookup RoleLookup) func(http.Handler) http.Handler {
	return JWTMiddleware(secret, auth.RoleAdmin, lookup)
}

// JWTMiddleware validates JWT tokens and enforces role-based access. Without
// a lookup every valid token carries the user role.
func JWTMiddleware(secret []byte, required auth.Role, lookup RoleLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)

			claims, err := auth.ValidateJWT(tokenString, secret)
			if err != nil {
				msg := "Invalid or expired token"
				if errors.Is(err, auth.ErrMissingToken) {
					msg = "Missing authentication token"
				}
				utils.RespondWithError(w, http.StatusUnauthorized, utils.CodeUnauthorized, msg)
				return
			}

			role := auth.RoleUser
			if lookup != nil {
				role, err = lookup(r.Context(), claims.UserID())
				switch {
				case errors.Is(err, ErrUnknownUser):
					utils.RespondWithError(w, http.StatusNotFound, utils.CodeNotFound, "User not found in database")
					return
				case err != nil:
					utils.RespondWithError(w, http.StatusInternalServerError, utils.CodeInternalError, "Failed to verify user role")
					return
				}
			}

			if !role.HasPermission(required) {
				msg := "Insufficient permissions"
				if required == auth.RoleAdmin {
					msg = "Admin access required"
				}
				utils.RespondWithError(w, http.StatusForbidden, utils.CodeForbidden, msg)
				return
			}

			// Embed claims into request context
			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			ctx = context.WithValue(ctx, UserIDKey, claims.UserID())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads the Authorization header, with or without the Bearer prefix
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// GetClaims retrieves the claims from the request context
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}

// GetUserID retrieves the user ID from the request context
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok
}
