package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/Alexander-D-Karpov/huddle/internal/auth/interceptor"
	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
)

// Middleware rejects requests over budget with 429. It must run after
// authentication so requests are keyed by user.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(r.Context(), classify(r), subject(r)) {
			w.Header().Set("Retry-After", "60")
			errors.WriteHTTP(w, errors.RateLimited("rate limit exceeded, please try again later"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func classify(r *http.Request) string {
	switch {
	case strings.Contains(r.URL.Path, "/reactions/"):
		return ClassReact
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/messages"):
		return ClassSend
	default:
		return ClassDefault
	}
}

func subject(r *http.Request) string {
	if userID, ok := interceptor.UserID(r.Context()); ok {
		return "user:" + userID.String()
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return "ip:" + strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return "ip:" + realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
