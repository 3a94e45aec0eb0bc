// Package telemetry exposes Prometheus metrics for the vetting service: HTTP
// server metrics, case lifecycle transitions, report exports and database
// pool gauges.
package telemetry

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vetting"

// TelemetryConfig holds all configuration for the telemetry provider.
type TelemetryConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// MetricsEnabled nil means enabled.
	MetricsEnabled *bool
	// RuntimeCollectors adds Go runtime and process metrics.
	RuntimeCollectors bool
}

func (c *TelemetryConfig) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "vetting-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for TelemetryConfig fields.
func BoolPtr(b bool) *bool {
	return &b
}

// TelemetryProvider owns a private registry and every collector the service
// exports. Methods are safe on a nil provider so services can run without
// metrics.
type TelemetryProvider struct {
	cfg      TelemetryConfig
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    prometheus.Gauge
	transitions *prometheus.CounterVec
	exports     *prometheus.CounterVec
	access      *prometheus.CounterVec
}

func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	cfg.applyDefaults()
	reg := prometheus.NewRegistry()

	tp := &TelemetryProvider{
		cfg:      cfg,
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "case_transitions_total",
			Help:      "Case lifecycle transitions by source and target status.",
		}, []string{"from", "to"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Rendered report documents by format.",
		}, []string{"format"}),
		access: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_access_total",
			Help:      "Audited API accesses by resource, action and status.",
		}, []string{"resource", "action", "status"}),
	}

	reg.MustRegister(tp.requests, tp.duration, tp.inFlight, tp.transitions, tp.exports, tp.access)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Constant 1, labelled with the service version.",
		ConstLabels: prometheus.Labels{"service": cfg.ServiceName, "version": cfg.ServiceVersion, "env": cfg.Environment},
	}, func() float64 { return 1 }))
	if cfg.RuntimeCollectors {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return tp
}

// Registry returns the provider's registry.
func (tp *TelemetryProvider) Registry() *prometheus.Registry {
	return tp.registry
}

// RegisterSQLDB exports database/sql pool statistics.
func (tp *TelemetryProvider) RegisterSQLDB(db *sql.DB, name string) error {
	if tp == nil {
		return nil
	}
	return tp.registry.Register(collectors.NewDBStatsCollector(db, name))
}

// RegisterPgxPool exports pgx pool statistics.
func (tp *TelemetryProvider) RegisterPgxPool(pool *pgxpool.Pool) error {
	if tp == nil {
		return nil
	}
	gauges := []struct {
		name string
		help string
		fn   func(*pgxpool.Stat) int32
	}{
		{"db_pool_total_conns", "Total connections in the pgx pool.", (*pgxpool.Stat).TotalConns},
		{"db_pool_idle_conns", "Idle connections in the pgx pool.", (*pgxpool.Stat).IdleConns},
		{"db_pool_acquired_conns", "Acquired connections in the pgx pool.", (*pgxpool.Stat).AcquiredConns},
		{"db_pool_max_conns", "Maximum size of the pgx pool.", (*pgxpool.Stat).MaxConns},
	}
	for _, g := range gauges {
		fn := g.fn
		err := tp.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      g.name,
			Help:      g.help,
		}, func() float64 { return float64(fn(pool.Stat())) }))
		if err != nil {
			return err
		}
	}
	return nil
}

// CaseTransition counts one lifecycle transition. An empty from means the
// case was just created.
func (tp *TelemetryProvider) CaseTransition(from, to string) {
	if tp == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	tp.transitions.WithLabelValues(from, to).Inc()
}

// ExportRendered counts n rendered documents of the given format.
func (tp *TelemetryProvider) ExportRendered(format string, n int) {
	if tp == nil || n <= 0 {
		return
	}
	tp.exports.WithLabelValues(format).Add(float64(n))
}

// ObserveAccess counts one audited API access.
func (tp *TelemetryProvider) ObserveAccess(resource, action string, status int) {
	if tp == nil {
		return
	}
	tp.access.WithLabelValues(resource, action, strconv.Itoa(status)).Inc()
}

// MetricsMiddleware records request counts, latency and in-flight requests.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if tp == nil || !tp.cfg.metricsOn() {
				return next(c)
			}

			tp.inFlight.Inc()
			start := time.Now()

			err := next(c)

			tp.inFlight.Dec()

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			// Route pattern keeps label cardinality bounded.
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			tp.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			tp.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())

			return err
		}
	}
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(tp.registry, promhttp.HandlerOpts{
		Registry: tp.registry,
	}))
}
