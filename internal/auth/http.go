// ABOUTME: HTTP middleware for JWT authentication on operator endpoints
// ABOUTME: Extracts a bearer token from the Authorization header

package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const operatorKey contextKey = "operator"

// WithOperator records the verified operator ID on the request context.
func WithOperator(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, operatorKey, operatorID)
}

// OperatorFromContext returns the verified operator ID, or empty when the
// request did not pass through the middleware.
func OperatorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(operatorKey).(string)
	return id
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequireOperator creates an HTTP middleware that validates the bearer JWT
// and adds the operator ID to the request context.
func RequireOperator(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			operatorID, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), operatorID)))
		})
	}
}
