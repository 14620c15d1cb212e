package middleware

import (
	"context"
	"net/http"
	"strings"

	"llm_portal/internal/auth"
	"llm_portal/internal/utils"
)

// ContextKey is the type for request context keys set by middleware
type ContextKey string

// Context keys for storing authentication data
const (
	UserClaimsKey       ContextKey = "userClaims"
	UserIDKey           ContextKey = "userID"
	UserDepartmentIDKey ContextKey = "userDepartmentID"
	UserRolesKey        ContextKey = "userRoles"
)

// JWTMiddleware validates access tokens and enforces role-based access. With
// no requiredRoles, any authenticated user passes.
func JWTMiddleware(secret []byte, requiredRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing authentication token")
				return
			}
			tokenString = strings.TrimPrefix(tokenString, "Bearer ")

			claims, err := auth.ValidateAccessToken(tokenString, secret)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			if len(requiredRoles) > 0 && !hasPermission(claims.Roles, requiredRoles) {
				utils.RespondWithError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
			ctx = context.WithValue(ctx, UserIDKey, claims.UserID.String())
			ctx = context.WithValue(ctx, UserDepartmentIDKey, claims.DepartmentID.String())
			ctx = context.WithValue(ctx, UserRolesKey, claims.Roles)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// hasPermission checks the user's roles against the required ones. Admin
// satisfies everything.
func hasPermission(userRoles, requiredRoles []string) bool {
	for _, requiredRoleStr := range requiredRoles {
		requiredRole := auth.Role(requiredRoleStr)
		for _, userRoleStr := range userRoles {
			if auth.Role(userRoleStr).HasPermission(requiredRole) {
				return true
			}
		}
	}
	return false
}

// GetUserClaims retrieves the user claims from the request context
func GetUserClaims(ctx context.Context) (*auth.UserClaims, bool) {
	claims, ok := ctx.Value(UserClaimsKey).(*auth.UserClaims)
	return claims, ok
}

// GetUserID retrieves the user ID from the request context
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok
}

// GetUserRoles retrieves the user roles from the request context
func GetUserRoles(ctx context.Context) ([]string, bool) {
	roles, ok := ctx.Value(UserRolesKey).([]string)
	return roles, ok
}

// HasRole checks if the authenticated user has a specific role
func HasRole(ctx context.Context, role string) bool {
	roles, ok := GetUserRoles(ctx)
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
