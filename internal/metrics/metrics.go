package metrics

import (
	"net/http"
	"strconv"
	"time"

	"backend-lifetrack/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lifetrack"

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	fixes         *prometheus.CounterVec
	trackerErrors *prometheus.CounterVec
	records       *prometheus.CounterVec
	distance      prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tracker",
				Name:      "transitions_total",
				Help:      "State transitions by kind.",
			},
			[]string{"kind"},
		),
		fixes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tracker",
				Name:      "fixes_total",
				Help:      "Position fixes by outcome.",
			},
			[]string{"outcome"},
		),
		trackerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tracker",
				Name:      "errors_total",
				Help:      "Errors reported to tracker observers.",
			},
			[]string{"kind"},
		),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "persisted_total",
				Help:      "Activity record submissions by outcome.",
			},
			[]string{"outcome"},
		),
		distance: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "records",
				Name:      "distance_meters_total",
				Help:      "Distance covered by persisted records.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"method", "route"},
		),
	}

	m.Registry.MustRegister(
		m.transitions,
		m.fixes,
		m.trackerErrors,
		m.records,
		m.distance,
		m.httpRequests,
		m.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// TrackSessions exports the number of live tracking sessions.
func (m *Metrics) TrackSessions(count func() int) {
	m.Registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "sessions",
			Help:      "Tracking sessions held in memory.",
		},
		func() float64 { return float64(count()) },
	))
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per route pattern.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		route := c.Route().Path
		m.httpRequests.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

// Observer returns a tracker observer feeding these metrics. It is safe to
// share between trackers.
func (m *Metrics) Observer() tracking.Observer {
	return observer{m: m}
}

type observer struct {
	m *Metrics
}

func (o observer) OnStatus(ev tracking.StatusEvent) {
	o.m.transitions.WithLabelValues(string(ev.Kind)).Inc()
}

func (o observer) OnProgress(tracking.ProgressEvent) {
	o.m.fixes.WithLabelValues("accepted").Inc()
}

func (o observer) OnError(err error) {
	kind := tracking.ErrorKind(err)
	o.m.trackerErrors.WithLabelValues(kind).Inc()
	switch kind {
	case "fix_rejected":
		o.m.fixes.WithLabelValues("rejected").Inc()
	case "persistence_failure":
		o.m.records.WithLabelValues("failed").Inc()
	}
}

func (o observer) OnRecordSaved(rec tracking.Record) {
	o.m.records.WithLabelValues("saved").Inc()
	o.m.distance.Add(rec.DistanceM)
}
