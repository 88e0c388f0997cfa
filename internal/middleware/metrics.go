package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dkoeder/gleaner/internal/metrics"
)

// ReaderMetrics counts reader API requests per matched route. The route
// pattern is only known after routing, so the counter is bumped on the way
// out.
func ReaderMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				metrics.GReaderRequests.WithLabelValues(pattern).Inc()
			}
		}
	})
}
