package deployer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// actionOutcomes counts simulated actions, by action type and outcome.
	actionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "deployer",
		Name:      "actions_total",
		Help:      "Simulated actions executed, by action type and outcome",
	}, []string{"type", "outcome"})

	// deploys counts whole-fix deploy attempts, by outcome.
	deploys = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "deployer",
		Name:      "deploys_total",
		Help:      "Deploy attempts, by outcome",
	}, []string{"outcome"})

	// rollbacks counts completed rollback applications.
	rollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "deployer",
		Name:      "rollbacks_total",
		Help:      "Rollback applications completed",
	})
)
