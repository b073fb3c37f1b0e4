package middleware

import (
	"net/http"
	"runtime/debug"

	"vinzhub-gamestate/pkg/apierror"
	"vinzhub-gamestate/pkg/response"
)

// Recovery turns a handler panic into a 500 response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				httpLog.Errorf("PANIC req=%s: %v\n%s", GetRequestID(r.Context()), err, debug.Stack())
				response.Error(w, apierror.InternalError("internal server error"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
