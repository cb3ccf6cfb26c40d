package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenAuthMiddleware requires "Authorization: Bearer <token>" on every request.
// An empty token disables the check.
func TokenAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || got == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
