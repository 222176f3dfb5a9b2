// Package metrics holds the Prometheus collectors. Every recording method is
// safe on a nil *Collector so services can run without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	IdentityEventsTotal *prometheus.CounterVec
	SyncItemsTotal      *prometheus.CounterVec

	AppointmentsCreated    *prometheus.CounterVec
	AppointmentTransitions *prometheus.CounterVec

	IDPRequestsTotal   *prometheus.CounterVec
	IDPRequestDuration *prometheus.HistogramVec
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		factory:  f,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route"}),

		InFlightGauge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		IdentityEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "events_total",
			Help:      "Identity events applied, by event type and outcome (applied, skipped, failed).",
		}, []string{"event", "outcome"}),

		SyncItemsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "sync_items_total",
			Help:      "Profiles processed by bulk sync, by outcome (created, skipped, failed).",
		}, []string{"outcome"}),

		AppointmentsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "created_total",
			Help:      "Appointment requests created, by derived urgency.",
		}, []string{"urgency"}),

		AppointmentTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Appointment transition attempts by action and result.",
		}, []string{"action", "result"}),

		IDPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "idp",
			Name:      "requests_total",
			Help:      "Identity provider API calls by operation and status (0 = transport error).",
		}, []string{"op", "status"}),

		IDPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "idp",
			Name:      "request_duration_seconds",
			Help:      "Identity provider API latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"op"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Middleware records request count, latency and in-flight requests. Routes
// are labelled by their registered path, not the raw URL.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			if c == nil || ec.Path() == "/metrics" {
				return next(ec)
			}
			c.InFlightGauge.Inc()
			start := time.Now()
			err := next(ec)
			c.InFlightGauge.Dec()

			status := ec.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := ec.Path()
			if route == "" {
				route = "unmatched"
			}
			method := ec.Request().Method
			c.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			c.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (c *Collector) IdentityEvent(event, outcome string) {
	if c == nil {
		return
	}
	c.IdentityEventsTotal.WithLabelValues(event, outcome).Inc()
}

func (c *Collector) SyncItem(outcome string) {
	if c == nil {
		return
	}
	c.SyncItemsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) AppointmentCreated(urgency string) {
	if c == nil {
		return
	}
	c.AppointmentsCreated.WithLabelValues(urgency).Inc()
}

func (c *Collector) AppointmentTransition(action, result string) {
	if c == nil {
		return
	}
	c.AppointmentTransitions.WithLabelValues(action, result).Inc()
}

// ObserveIDP matches idp.Observer.
func (c *Collector) ObserveIDP(op string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.IDPRequestsTotal.WithLabelValues(op, strconv.Itoa(status)).Inc()
	c.IDPRequestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RegisterPool exports connection pool statistics as gauges.
func (c *Collector) RegisterPool(namespace string, pool *pgxpool.Pool) {
	gauge := func(name, help string, fn func(*pgxpool.Stat) float64) {
		c.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      name,
			Help:      help,
		}, func() float64 { return fn(pool.Stat()) })
	}
	gauge("total_connections", "Connections currently open.", func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) })
	gauge("idle_connections", "Idle connections.", func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) })
	gauge("acquired_connections", "Connections in use.", func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) })
	gauge("max_connections", "Configured pool size.", func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) })
}

// RegisterHub exports the notification hub's connection count and drops.
func (c *Collector) RegisterHub(namespace string, clients func() int, dropped func() int64) {
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "clients",
		Help:      "Connected WebSocket clients.",
	}, func() float64 { return float64(clients()) })
	c.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "dropped_total",
		Help:      "Notifications dropped because a client buffer was full.",
	}, func() float64 { return float64(dropped()) })
}
