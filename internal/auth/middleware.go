package auth

import (
	"context"
	"net/http"
)

type contextKey struct{}

// Subject returns the authenticated user id stored by Middleware,
// or "" when the request was not authenticated.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(contextKey{}).(string)
	return s
}

// Middleware verifies the bearer token and, for routes with a
// {userID} path segment, enforces that the token subject matches the
// user being accessed. Missing or bad tokens get 401; a valid token
// for a different user gets 403.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := FromHeader(r.Header.Get("Authorization"))
		if err != nil {
			unauthorized(w, "missing bearer token")
			return
		}

		claims, err := m.Verify(token)
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}

		if pathUser := r.PathValue("userID"); pathUser != "" && pathUser != claims.Subject {
			forbidden(w, "token does not grant access to this user")
			return
		}

		ctx := context.WithValue(r.Context(), contextKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "` + msg + `"}`))
}

func forbidden(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"error": "` + msg + `"}`))
}
