package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WebhookEvents counts ingestion outcomes per provider. Outcome is one of
// accepted, duplicate, rejected, failed.
var WebhookEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook deliveries by provider and ingestion outcome",
	},
	[]string{"provider", "outcome"},
)

// DonationsSettled counts donations reaching a terminal state.
var DonationsSettled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "donations_settled_total",
		Help: "Donations reaching a terminal status",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(WebhookEvents, DonationsSettled)
}
