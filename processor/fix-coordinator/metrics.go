package fixcoordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// solutionsReceived counts generated solutions consumed, by strategy.
	solutionsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "coordinator",
		Name:      "solutions_received_total",
		Help:      "Generated solutions consumed, by strategy",
	}, []string{"strategy"})

	// fixTransitions counts published lifecycle events, by resulting status.
	fixTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "coordinator",
		Name:      "fix_transitions_total",
		Help:      "Fix lifecycle events published, by status",
	}, []string{"status"})

	// decisionsApplied counts review decisions applied, by decision kind.
	decisionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "coordinator",
		Name:      "decisions_total",
		Help:      "Review decisions applied, by kind",
	}, []string{"decision"})

	// invalidTransitions counts lifecycle events rejected as out of order.
	invalidTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "coordinator",
		Name:      "invalid_transitions_total",
		Help:      "Lifecycle events rejected as out of order",
	})
)
