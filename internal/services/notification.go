package services

import (
	"github.com/huangang/taskhub/backend/pkg/logger"
	"github.com/jonboulle/clockwork"
)

// Notifier publishes committed membership changes to the event queue and
// counts them. A nil Notifier is valid and does nothing.
type Notifier struct {
	queue   TaskQueue
	metrics *Metrics
	clock   clockwork.Clock
}

func NewNotifier(queue TaskQueue, metrics *Metrics, clock clockwork.Clock) *Notifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Notifier{queue: queue, metrics: metrics, clock: clock}
}

// publish must only be called after the change has committed. Delivery
// failures are logged; the change itself already succeeded.
func (n *Notifier) publish(ev *MembershipEvent) {
	if n == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = n.clock.Now()
	}
	if n.metrics != nil {
		n.metrics.MembershipChanges.WithLabelValues(ev.Action).Inc()
	}
	if n.queue == nil {
		return
	}
	if err := n.queue.Enqueue(ev); err != nil {
		if n.metrics != nil {
			n.metrics.QueueFailures.Inc()
		}
		logger.Error().Err(err).
			Str("action", ev.Action).
			Uint("project_id", ev.ProjectID).
			Msg("failed to publish membership event")
	}
}

// redeemed counts a redemption attempt by outcome or error code.
func (n *Notifier) redeemed(outcome string) {
	if n == nil || n.metrics == nil {
		return
	}
	n.metrics.ShareLinkRedemptions.WithLabelValues(outcome).Inc()
}
