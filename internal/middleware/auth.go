package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"vinzhub-gamestate/pkg/apierror"
	"vinzhub-gamestate/pkg/response"
)

// AdminKey guards a route group with a shared key sent as X-Admin-Key or a
// bearer token. An empty key disables the check.
func AdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			httpLog.Warnf("ADMIN_KEY is empty, admin routes are unauthenticated")
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Key")
			if got == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					got = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			if got == "" {
				response.Error(w, apierror.Unauthorized("Authentication required. Use X-Admin-Key header."))
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				response.Error(w, apierror.Unauthorized("Invalid admin key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
