package subscription

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the reconciler's Prometheus collectors.
type Metrics struct {
	events          *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	customersLinked prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "subsync",
				Name:      "webhook_events_total",
				Help:      "Webhook events handled, by event type and outcome.",
			},
			[]string{"event_type", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "subsync",
				Name:      "webhook_event_duration_seconds",
				Help:      "Time spent handling a webhook event.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
		customersLinked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "subsync",
				Name:      "customers_linked_total",
				Help:      "Users linked to a provider customer through email lookup.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.events, m.duration, m.customersLinked)
	}
	return m
}

func (m *Metrics) observe(t EventType, outcome Outcome, d time.Duration) {
	if m == nil {
		return
	}
	label := metricLabel(t)
	m.events.WithLabelValues(label, string(outcome)).Inc()
	m.duration.WithLabelValues(label).Observe(d.Seconds())
}

func (m *Metrics) customerLinked() {
	if m == nil {
		return
	}
	m.customersLinked.Inc()
}

// metricLabel folds unhandled event types into one label value.
func metricLabel(t EventType) string {
	switch t {
	case EventCheckoutSessionCompleted, EventPaymentIntentSucceeded, EventInvoicePaymentSucceeded,
		EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return string(t)
	}
	return "other"
}
