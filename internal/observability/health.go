package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

type ComponentHealth struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
	Stats      map[string]int             `json:"stats,omitempty"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
}

type HealthCheck func(context.Context) (HealthStatus, string, error)

// HealthChecker serves liveness, readiness and a detailed report on its own
// port so probes never pass through the API middleware.
type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	stats     map[string]func() int
	logger    *zap.Logger
	startTime time.Time
	version   string
	server    *http.Server
}

func NewHealthChecker(logger *zap.Logger, version string) *HealthChecker {
	return &HealthChecker{
		checks:    make(map[string]HealthCheck),
		stats:     make(map[string]func() int),
		logger:    logger,
		startTime: time.Now(),
		version:   version,
	}
}

func (h *HealthChecker) RegisterCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// RegisterStat adds a gauge reported with the detailed health response, such
// as the number of open event streams.
func (h *HealthChecker) RegisterStat(name string, read func() int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats[name] = read
}

func (h *HealthChecker) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", h.handleReadiness).Methods(http.MethodGet)
	r.HandleFunc("/health/live", h.handleLiveness).Methods(http.MethodGet)
	return r
}

func (h *HealthChecker) Start(ctx context.Context, port int) error {
	h.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	h.logger.Info("health server starting", zap.Int("port", port))

	errChan := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return h.Stop(context.Background())
	}
}

func (h *HealthChecker) Stop(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// run executes every check concurrently and folds the results into one
// status: any unhealthy component wins over degraded.
func (h *HealthChecker) run(ctx context.Context) (HealthStatus, map[string]ComponentHealth) {
	h.mu.RLock()
	checks := make(map[string]HealthCheck, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		components = make(map[string]ComponentHealth, len(checks))
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()

			start := time.Now()
			status, message, err := check(ctx)
			component := ComponentHealth{
				Status:  status,
				Message: message,
				Latency: time.Since(start).String(),
			}
			if err != nil {
				component.Status = StatusUnhealthy
				component.Message = err.Error()
			}

			mu.Lock()
			components[name] = component
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, c := range components {
		switch {
		case c.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case c.Status == StatusDegraded && overall != StatusUnhealthy:
			overall = StatusDegraded
		}
	}
	return overall, components
}

func (h *HealthChecker) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, components := h.run(ctx)

	h.mu.RLock()
	var stats map[string]int
	if len(h.stats) > 0 {
		stats = make(map[string]int, len(h.stats))
		for name, read := range h.stats {
			stats[name] = read()
		}
	}
	h.mu.RUnlock()

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Components: components,
		Stats:      stats,
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
	})
}

// handleReadiness keeps a degraded instance in rotation; only unhealthy
// components take it out.
func (h *HealthChecker) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, components := h.run(ctx)
	if status != StatusUnhealthy {
		h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
		return
	}

	var failing []string
	for name, c := range components {
		if c.Status == StatusUnhealthy {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)
	h.writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"ready":   false,
		"failing": failing,
	})
}

func (h *HealthChecker) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}

func (h *HealthChecker) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode health response", zap.Error(err))
	}
}
