package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and the sweeper.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	batchesCreatedTotal      *prometheus.CounterVec
	claimsTotal              *prometheus.CounterVec
	claimMissesTotal         *prometheus.CounterVec
	claimRateLimitedTotal    *prometheus.CounterVec
	reconcileTotal           *prometheus.CounterVec
	notificationsSentTotal   *prometheus.CounterVec
	notificationsFailedTotal *prometheus.CounterVec
	leaseRequeuedTotal       prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "claim_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "claim_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchesCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "claim_engine",
				Name:      "batches_created_total",
				Help:      "Total number of batches created grouped by automation kind.",
			},
			[]string{"kind"},
		),
		claimsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "claim_engine",
				Name:      "claims_total",
				Help:      "Total number of work items handed to bots grouped by kind.",
			},
			[]string{"kind"},
		),
		claimMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "claim_engine",
				Name:      "claim_misses_total",
				Help:      "Total number of claim polls that found no eligible work.",
			},
			[]string{"kind"},
		),
		claimRateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "claim_engine",
				Name:      "claim_rate_limited_total",
				Help:      "Total number of claim polls rejected by the per-kind rate limit.",
			},
			[]string{"kind"},
		),
		reconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "claim_engine",
				Name:      "reconcile_total",
				Help:      "Total number of result submissions grouped by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		notificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "claim_engine",
				Name:      "notifications_sent_total",
				Help:      "Total number of completion notifications delivered.",
			},
			[]string{"kind"},
		),
		notificationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "claim_engine",
				Name:      "notifications_failed_total",
				Help:      "Total number of completion notification failures by stage.",
			},
			[]string{"kind", "reason"},
		),
		leaseRequeuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "claim_engine",
				Name:      "lease_requeued_total",
				Help:      "Total number of expired claims returned to pending by the sweeper.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchesCreatedTotal,
		m.claimsTotal,
		m.claimMissesTotal,
		m.claimRateLimitedTotal,
		m.reconcileTotal,
		m.notificationsSentTotal,
		m.notificationsFailedTotal,
		m.leaseRequeuedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncBatchCreated(kind string) {
	if m == nil {
		return
	}
	m.batchesCreatedTotal.WithLabelValues(normalizeKind(kind)).Inc()
}

func (m *Metrics) IncClaim(kind string) {
	if m == nil {
		return
	}
	m.claimsTotal.WithLabelValues(normalizeKind(kind)).Inc()
}

func (m *Metrics) IncClaimMiss(kind string) {
	if m == nil {
		return
	}
	m.claimMissesTotal.WithLabelValues(normalizeKind(kind)).Inc()
}

func (m *Metrics) IncClaimRateLimited(kind string) {
	if m == nil {
		return
	}
	m.claimRateLimitedTotal.WithLabelValues(normalizeKind(kind)).Inc()
}

func (m *Metrics) IncReconcile(kind string, outcome string) {
	if m == nil {
		return
	}
	outcomeLabel := strings.TrimSpace(strings.ToLower(outcome))
	if outcomeLabel == "" {
		outcomeLabel = "unknown"
	}
	m.reconcileTotal.WithLabelValues(normalizeKind(kind), outcomeLabel).Inc()
}

func (m *Metrics) IncNotificationSent(kind string) {
	if m == nil {
		return
	}
	m.notificationsSentTotal.WithLabelValues(normalizeKind(kind)).Inc()
}

func (m *Metrics) IncNotificationFailed(kind string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.notificationsFailedTotal.WithLabelValues(normalizeKind(kind), reasonLabel).Inc()
}

func (m *Metrics) AddLeaseRequeued(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.leaseRequeuedTotal.Add(float64(count))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeKind(kind string) string {
	normalized := strings.ToLower(strings.TrimSpace(kind))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
