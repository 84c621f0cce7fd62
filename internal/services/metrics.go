package services

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the membership counters exported on /metrics.
type Metrics struct {
	ShareLinkRedemptions *prometheus.CounterVec
	MembershipChanges    *prometheus.CounterVec
	QueueFailures        prometheus.Counter
}

// NewMetrics creates and registers the counters on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		ShareLinkRedemptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskhub_share_link_redemptions_total",
				Help: "Share link redemption attempts by outcome",
			},
			[]string{"outcome"},
		),
		MembershipChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskhub_membership_changes_total",
				Help: "Committed membership and share link changes by action",
			},
			[]string{"action"},
		),
		QueueFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "taskhub_event_queue_failures_total",
				Help: "Membership events that could not be enqueued",
			},
		),
	}

	registry.MustRegister(m.ShareLinkRedemptions, m.MembershipChanges, m.QueueFailures)
	return m
}
