package middleware

import (
	"net/http"
	"time"

	"vinzhub-gamestate/internal/logger"
)

var httpLog = logger.NewLogger("HTTP")

// Logging logs each request after it completes. Server errors log at WARN.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		logf := httpLog.Infof
		if wrapped.statusCode >= http.StatusInternalServerError {
			logf = httpLog.Warnf
		}
		logf("[%s] %s %s %d %s req=%s",
			r.Method,
			r.URL.Path,
			r.RemoteAddr,
			wrapped.statusCode,
			duration,
			GetRequestID(r.Context()),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
