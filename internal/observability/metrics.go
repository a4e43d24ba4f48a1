package observability

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics owns the service's Prometheus registry. It is the recorder for the
// HTTP layer, the event hub, attachment uploads and the database pool.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	activeConnections prometheus.Gauge
	deliveries        *prometheus.CounterVec
	uploads           *prometheus.CounterVec
	uploadDuration    *prometheus.HistogramVec
	dbConns           *prometheus.GaugeVec
	logger            *zap.Logger
}

func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huddle_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "huddle_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "huddle_fanout_connections",
				Help: "Number of live event stream connections",
			},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huddle_fanout_deliveries_total",
				Help: "Event frames queued to subscribers, by outcome",
			},
			[]string{"type", "outcome"},
		),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huddle_attachment_uploads_total",
				Help: "Attachment uploads by backend and result",
			},
			[]string{"backend", "status"},
		),
		uploadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "huddle_attachment_upload_duration_seconds",
				Help:    "Attachment upload duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"backend"},
		),
		dbConns: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "huddle_db_pool_connections",
				Help: "Database pool connections by state",
			},
			[]string{"state"},
		),
		logger: logger,
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.activeConnections,
		m.deliveries,
		m.uploads,
		m.uploadDuration,
		m.dbConns,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records every routed request. Register it with Router.Use so
// the route template is known and ids do not explode the label space.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) SetConnections(n int) {
	m.activeConnections.Set(float64(n))
}

func (m *Metrics) RecordDelivery(eventType string, delivered, dropped int) {
	if delivered > 0 {
		m.deliveries.WithLabelValues(eventType, "delivered").Add(float64(delivered))
	}
	if dropped > 0 {
		m.deliveries.WithLabelValues(eventType, "dropped").Add(float64(dropped))
	}
}

func (m *Metrics) RecordUpload(backend string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.uploads.WithLabelValues(backend, status).Inc()
	m.uploadDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

func (m *Metrics) ObservePool(total, idle, acquired int32) {
	m.dbConns.WithLabelValues("total").Set(float64(total))
	m.dbConns.WithLabelValues("idle").Set(float64(idle))
	m.dbConns.WithLabelValues("acquired").Set(float64(acquired))
}

func (m *Metrics) Start(ctx context.Context, port int) error {
	router := http.NewServeMux()
	router.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	m.logger.Info("metrics server starting", zap.Int("port", port))

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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}
