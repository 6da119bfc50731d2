package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"facepulse/internal/auth"
)

// ContextKey is a custom type for context keys
type ContextKey string

const (
	// ViewerContextKey is the key for storing viewer claims in context
	ViewerContextKey ContextKey = "viewer"
)

// RequireToken creates an HTTP middleware that only lets viewers with a
// valid token through. The requested session is taken from the session
// query parameter. A nil manager disables the check.
func RequireToken(manager *auth.JWTManager) func(http.Handler) http.Handler {
	return RequireSessionToken(manager, SessionQuery)
}

// SessionQuery returns the session query parameter of r.
func SessionQuery(r *http.Request) string {
	return r.URL.Query().Get("session")
}

// RequireSessionToken is RequireToken with the requested session read by
// sessionOf. Tokens scoped to another session get 403.
func RequireSessionToken(manager *auth.JWTManager, sessionOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if manager == nil {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				http.Error(w, `{"error": "missing token"}`, http.StatusUnauthorized)
				return
			}

			claims, err := manager.ValidateToken(token)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					http.Error(w, `{"error": "token has expired"}`, http.StatusUnauthorized)
				} else {
					http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
				}
				return
			}

			if !claims.Allows(sessionOf(r)) {
				http.Error(w, `{"error": "token not valid for this session"}`, http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ViewerContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads the token from the Authorization header or, for
// browsers that cannot set headers on WebSocket requests, the token query
// parameter.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// ViewerFromContext retrieves viewer claims from the request context
func ViewerFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(ViewerContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}
