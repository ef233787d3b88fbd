package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is private to the server so tests can build many apps without
// tripping duplicate registration on the default registerer.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	HTTPRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crmdesk",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crmdesk",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	AccessDenied = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crmdesk",
		Name:      "access_denied_total",
		Help:      "Requests refused because the record belongs to another user.",
	}, []string{"resource"})

	VersionConflicts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crmdesk",
		Name:      "version_conflicts_total",
		Help:      "Updates rejected by the optimistic version check.",
	}, []string{"resource"})

	ImportedRows = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crmdesk",
		Name:      "import_rows_total",
		Help:      "Bulk import rows by entity type and outcome.",
	}, []string{"type", "outcome"})

	AuditDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "crmdesk",
		Name:      "audit_entries_dropped_total",
		Help:      "Audit entries dropped because the queue was full.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
}
