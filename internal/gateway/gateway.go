package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Alexander-D-Karpov/huddle/internal/auth/interceptor"
	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/middleware"
	"github.com/Alexander-D-Karpov/huddle/internal/observability"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Routes is anything that mounts handlers on the API router.
type Routes interface {
	Register(r *mux.Router)
}

type Deps struct {
	Auth    *interceptor.AuthInterceptor
	Limiter interface {
		Middleware(http.Handler) http.Handler
	}
	Metrics *observability.Metrics
	Routes  []Routes
	// Stream serves the WebSocket event stream at /v1/stream.
	Stream http.Handler
	// Files serves locally stored attachments under /files/; nil when blobs
	// live in object storage.
	Files http.Handler
}

// Gateway is the public HTTP surface: REST routes, the event stream and
// local file serving behind one middleware chain.
type Gateway struct {
	cfg     config.ServerConfig
	logger  *zap.Logger
	handler http.Handler
}

func New(cfg config.ServerConfig, deps Deps, logger *zap.Logger) *Gateway {
	r := mux.NewRouter()

	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	if deps.Auth != nil {
		r.Use(deps.Auth.Middleware)
	}
	if deps.Limiter != nil {
		r.Use(deps.Limiter.Middleware)
	}
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	for _, routes := range deps.Routes {
		routes.Register(r)
	}
	if deps.Stream != nil {
		r.Handle("/v1/stream", deps.Stream).Methods(http.MethodGet)
	}
	if deps.Files != nil {
		r.PathPrefix("/files/").Handler(deps.Files).Methods(http.MethodGet, http.MethodHead)
	}

	handler := observability.RequestID(logger)(
		middleware.Recovery(
			middleware.Logging(
				corsMiddleware(r, cfg.AllowedOrigins),
			),
		),
	)

	return &Gateway{
		cfg:     cfg,
		logger:  logger,
		handler: handler,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

func (g *Gateway) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port),
		Handler:      g,
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
		IdleTimeout:  g.cfg.IdleTimeout,
	}

	g.logger.Info("HTTP gateway starting", zap.String("addr", server.Addr))

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func corsMiddleware(next http.Handler, allowed []string) http.Handler {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case len(origins) == 0:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origins[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
			"Content-Type",
			"Authorization",
			observability.RequestIDHeader,
			"X-Connection-ID",
		}, ", "))
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
