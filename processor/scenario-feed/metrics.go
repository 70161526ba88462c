package scenariofeed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// replayed counts published scenario events, by kind.
	replayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "scenario_feed",
		Name:      "events_total",
		Help:      "Scenario events published, by kind",
	}, []string{"kind"})

	// scenarios counts completed scenario replays.
	scenarios = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "scenario_feed",
		Name:      "scenarios_total",
		Help:      "Scenario replays completed",
	})
)
