package httpx

import (
	"log/slog"
	"net/http"
	"time"
)

// LogRequests is a tiny HTTP middleware to log method, path, latency.
// Upgraded websocket requests log once, when their connection ends.
func LogRequests(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}
