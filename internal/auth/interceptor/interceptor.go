package interceptor

import (
	"context"
	"net/http"
	"strings"

	"github.com/Alexander-D-Karpov/huddle/internal/auth/jwt"
	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const (
	userIDKey contextKey = "user_id"
	handleKey contextKey = "handle"
)

var publicPaths = map[string]bool{
	"/health":       true,
	"/health/live":  true,
	"/health/ready": true,
}

type AuthInterceptor struct {
	validator *jwt.Validator
}

func NewAuthInterceptor(validator *jwt.Validator) *AuthInterceptor {
	return &AuthInterceptor{
		validator: validator,
	}
}

// Middleware authenticates every request outside the public paths and the
// /files/ tree. WebSocket upgrades may carry the token in the access_token
// query parameter because browsers cannot set headers on them.
func (a *AuthInterceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] || strings.HasPrefix(r.URL.Path, "/files/") {
			next.ServeHTTP(w, r)
			return
		}

		logger := logging.FromContext(r.Context())

		ctx, err := a.authenticate(r)
		if err != nil {
			logger.Warn("authentication failed",
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			errors.WriteHTTP(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AuthInterceptor) authenticate(r *http.Request) (context.Context, error) {
	ctx := r.Context()

	token := ""
	if header := r.Header.Get("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return nil, errors.Unauthorized("invalid authorization header format")
		}
		token = strings.TrimPrefix(header, "Bearer ")
	} else if isUpgrade(r) {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		return nil, errors.Unauthorized("missing authorization header")
	}

	userID, claims, err := a.validator.ValidateAccessToken(token)
	if err != nil {
		return nil, errors.Unauthorized("invalid token")
	}

	ctx = ContextWithUser(ctx, userID, claims.Handle)
	ctx = logging.With(ctx,
		zap.String("user_id", userID.String()),
		zap.String("handle", claims.Handle),
	)

	return ctx, nil
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func UserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok && userID != uuid.Nil
}

func GetHandle(ctx context.Context) string {
	if handle, ok := ctx.Value(handleKey).(string); ok {
		return handle
	}
	return ""
}

func ContextWithUser(ctx context.Context, userID uuid.UUID, handle string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, handleKey, handle)
}
