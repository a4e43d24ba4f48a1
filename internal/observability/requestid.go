package observability

import (
	"net/http"

	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	RequestIDHeader     = "X-Request-ID"
	CorrelationIDHeader = "X-Correlation-ID"
)

// RequestID tags the request context and logger with a request id and a
// correlation id, taken from the headers when present, and echoes the request
// id back.
func RequestID(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := headerOrNew(r, RequestIDHeader)
			correlationID := headerOrNew(r, CorrelationIDHeader)

			ctx := logging.WithLogger(r.Context(), logger.With(
				zap.String("correlation_id", correlationID),
			))
			ctx = logging.WithRequestID(ctx, requestID)

			w.Header().Set(RequestIDHeader, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func headerOrNew(r *http.Request, name string) string {
	if v := r.Header.Get(name); v != "" && len(v) <= 128 {
		return v
	}
	return uuid.New().String()
}
