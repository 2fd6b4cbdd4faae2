package middleware

import (
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/metacircle/backend/internal/infrastructure/observability"
)

// unmatchedRoute labels requests the mux had no pattern for, so raw paths
// with ids never become metric labels.
const unmatchedRoute = "unmatched"

// ObservabilityMiddleware traces each request and records the request
// metrics. Spans and metrics are labelled with the mux pattern the request
// matched ("GET /api/communities/{id}/slots"), which the mux sets while
// serving, so the span is renamed once the handler returns.
func ObservabilityMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := observability.StartSpan(r.Context(), "HTTP "+r.Method)
			defer span.End()

			attrs := []attribute.KeyValue{
				attribute.String("http.method", r.Method),
				attribute.String("http.user_agent", r.UserAgent()),
				attribute.Bool("metacircle.stream", isStream(r)),
			}
			if userID := r.Header.Get(UserIDHeader); userID != "" {
				attrs = append(attrs, attribute.String("metacircle.user_id", userID))
			}
			observability.SetSpanAttributes(span, attrs...)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			req := r.WithContext(ctx)
			start := time.Now()

			next.ServeHTTP(rw, req)

			route := routeOf(req)
			span.SetName(route)
			observability.SetSpanAttributes(span,
				attribute.String("http.route", route),
				attribute.Int("http.status_code", rw.statusCode),
			)
			if community := communityOf(req); community != "" {
				observability.SetSpanAttributes(span, attribute.String("metacircle.community_id", community))
			}
			if rw.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
			}

			observability.RecordRequestMetric(ctx, metrics, r.Method, route, rw.statusCode, time.Since(start))
		})
	}
}

func routeOf(r *http.Request) string {
	if r.Pattern == "" {
		return unmatchedRoute
	}
	return r.Pattern
}

// communityOf returns the {id} of /communities/{id}/... routes
func communityOf(r *http.Request) string {
	if !strings.Contains(r.Pattern, "/communities/{id}") {
		return ""
	}
	return r.PathValue("id")
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Flush keeps the calendar stream working through the wrapper
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
