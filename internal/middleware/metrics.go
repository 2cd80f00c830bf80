package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/visionguard/visionguard/internal/metrics"
)

// HTTPMetrics records request counts and latency per route pattern.
func HTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rw.status), time.Since(start))
	})
}
