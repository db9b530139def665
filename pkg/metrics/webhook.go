package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "subsync"

// Webhook request outcomes.
const (
	StatusOK               = "ok"
	StatusError            = "error"
	StatusInvalidSignature = "invalid_signature"
	StatusBadRequest       = "bad_request"
)

// WebhookMetrics records webhook deliveries by event type and outcome.
type WebhookMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_requests_total",
		Help:      "Stripe webhook deliveries by event type and outcome.",
	}, []string{"event_type", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "webhook_duration_seconds",
		Help:      "Time spent verifying and reconciling a Stripe webhook.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})
	reg.MustRegister(requests, duration)
	return &WebhookMetrics{
		requests: requests,
		duration: duration,
	}
}

// ObserveRequest counts one delivery and records how long it took.
func (m *WebhookMetrics) ObserveRequest(eventType, status string, duration time.Duration) {
	if m == nil || m.requests == nil {
		return
	}
	eventType = normalizeLabel(eventType)
	m.requests.WithLabelValues(eventType, normalizeLabel(status)).Inc()
	m.duration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// normalizeLabel maps an empty label value to "unknown". Deliveries rejected
// before the event is parsed, such as failed signature checks, have no event
// type yet and are counted under event_type="unknown".
func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
