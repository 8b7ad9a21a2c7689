package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eventhorizon"

// Registry holds every Event Horizon metric and is served on /metrics.
var Registry = prometheus.NewRegistry()

// AppInfo exposes build information as labels; the value is always 1.
var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application version information (always set to 1, version info in labels)",
	},
	[]string{"version", "commit", "build_date"},
)

// HealthCheckStatus tracks readiness check results (0=fail, 2=pass).
var HealthCheckStatus = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "health_check_status",
		Help:      "Readiness check status (0=fail, 2=pass)",
	},
	[]string{"check"},
)

// Registration metrics

// RegistrationsTotal counts new registrations by the status they were
// created with (registered or waitlisted).
var RegistrationsTotal = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Total number of registrations created",
	},
	[]string{"status"},
)

var RegistrationStatusChanges = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registration_status_changes_total",
		Help:      "Total number of organizer status changes",
	},
	[]string{"from", "to"},
)

// Delivery metrics

// WebhookDeliveries counts webhook POSTs by outcome: success, http_error
// (non-2xx) or transport_error.
var WebhookDeliveries = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Total number of webhook delivery attempts",
	},
	[]string{"outcome"},
)

var WebhookDeliveryDuration = promauto.With(Registry).NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "webhook_delivery_duration_seconds",
		Help:      "Webhook delivery latency in seconds",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5},
	},
)

// EmailsSent counts outgoing emails by template kind and outcome
// (sent, failed, disabled).
var EmailsSent = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emails_total",
		Help:      "Total number of notification emails",
	},
	[]string{"kind", "outcome"},
)

// APIKeysExpired counts keys removed by the expiry job.
var APIKeysExpired = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_keys_expired_total",
		Help:      "Total number of API keys deleted after expiry",
	},
)

var initOnce sync.Once

// Init registers the runtime collectors and sets the build information.
// Calls after the first only update AppInfo.
func Init(version, commit, buildDate string) {
	initOnce.Do(func() {
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
	AppInfo.Reset()
	AppInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
