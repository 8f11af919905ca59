package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing, so services can take it optionally.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Engagement metrics
	RemindersScheduled prometheus.Counter
	RemindersCancelled prometheus.Counter
	RemindersExpired   prometheus.Counter
	SweepRuns          *prometheus.CounterVec
	StatusReconciled   *prometheus.CounterVec

	// Refresh loop metrics
	RefreshStepFailures *prometheus.CounterVec
	RefreshTicksSkipped prometheus.Counter
	ActiveSessions      prometheus.Gauge

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers every metric on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		RemindersScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "reminders_scheduled_total",
			Help: "Total number of reminders scheduled",
		}),
		RemindersCancelled: f.NewCounter(prometheus.CounterOpts{
			Name: "reminders_cancelled_total",
			Help: "Total number of reminders cancelled",
		}),
		RemindersExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "reminders_expired_total",
			Help: "Total number of reminders expired by the sweep",
		}),
		SweepRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reminder_sweep_runs_total",
				Help: "Total number of expiry sweeps",
			},
			[]string{"result"}, // ok, error, skipped
		),
		StatusReconciled: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lead_status_reconciled_total",
				Help: "Leads whose stored engagement status was corrected",
			},
			[]string{"status"},
		),

		RefreshStepFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "refresh_step_failures_total",
				Help: "Refresh loop step failures",
			},
			[]string{"step"}, // sweep, stats, leads
		),
		RefreshTicksSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "refresh_ticks_skipped_total",
			Help: "Ticks skipped because the previous one was still running",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "refresh_sessions_active",
			Help: "Number of open dashboard sessions",
		}),

		CacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),
		gatherer: reg,
	}
	return m
}

// Middleware creates a Gin middleware for Prometheus metrics.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath() // route pattern, not the raw path
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry this Metrics was built on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordReminderScheduled() {
	if m == nil {
		return
	}
	m.RemindersScheduled.Inc()
}

func (m *Metrics) RecordReminderCancelled() {
	if m == nil {
		return
	}
	m.RemindersCancelled.Inc()
}

// RecordSweep records one sweep outcome and how many reminders it expired.
func (m *Metrics) RecordSweep(result string, expired int) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(result).Inc()
	if expired > 0 {
		m.RemindersExpired.Add(float64(expired))
	}
}

func (m *Metrics) RecordReconciled(status string) {
	if m == nil {
		return
	}
	m.StatusReconciled.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordRefreshFailure(step string) {
	if m == nil {
		return
	}
	m.RefreshStepFailures.WithLabelValues(step).Inc()
}

func (m *Metrics) RecordTickSkipped() {
	if m == nil {
		return
	}
	m.RefreshTicksSkipped.Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) RecordCacheHit(cacheType string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) RecordCacheMiss(cacheType string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}
