package middleware

import (
	"crypto/subtle"
	"net/http"

	"psws/backend/services/ingest-watcher/internal/password"
)

// OperatorAuth requires HTTP basic credentials matching user and a bcrypt hash.
func OperatorAuth(user, hash string, hasher password.Hasher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotUser, gotPass, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="psws"`)
				http.Error(w, "missing credentials", http.StatusUnauthorized)
				return
			}
			userOK := subtle.ConstantTimeCompare([]byte(gotUser), []byte(user)) == 1
			if err := hasher.Compare(hash, gotPass); err != nil || !userOK {
				w.Header().Set("WWW-Authenticate", `Basic realm="psws"`)
				http.Error(w, "invalid credentials", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
