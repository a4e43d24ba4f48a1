package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
	"go.uber.org/zap"
)

var quietPaths = map[string]bool{
	"/health":       true,
	"/health/live":  true,
	"/health/ready": true,
}

// Recovery turns a panicking handler into a 500 and logs the stack. The
// connection stays usable for other requests.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logging.FromContext(r.Context()).Error("panic recovered",
				zap.Any("panic", rec),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("stack", string(debug.Stack())),
			)
			errors.WriteHTTP(w, errors.Internal("internal server error", nil))
		}()

		next.ServeHTTP(w, r)
	})
}

// Logging writes one line per request. Health probes log at debug.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		logger := logging.FromContext(r.Context())
		log := logger.Info
		if quietPaths[r.URL.Path] {
			log = logger.Debug
		}
		log("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}
