package middleware

import (
	"crypto/subtle"
	"net/http"
)

// SharedSecret gates an endpoint on the x-shared-secret header matching a
// pre-shared value, compared in constant time. Used by the browser
// extension calling the generate endpoint; a missing configured secret
// fails closed.
func SharedSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("x-shared-secret")
			if secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
