package verifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// verifications counts finished verification runs, by outcome.
	verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "verifier",
		Name:      "verifications_total",
		Help:      "Finished verification runs, by outcome",
	}, []string{"outcome"})

	// actionChecks counts per-action verdicts, by metric and outcome.
	actionChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "verifier",
		Name:      "actions_total",
		Help:      "Per-action verification verdicts, by metric and outcome",
	}, []string{"metric", "outcome"})

	// samplesRecorded counts telemetry samples accepted into the window.
	samplesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "verifier",
		Name:      "samples_total",
		Help:      "Telemetry samples recorded into the rolling window",
	})

	// cancellations counts runs cancelled by a pre-empting rollback.
	cancellations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chronos",
		Subsystem: "verifier",
		Name:      "cancelled_total",
		Help:      "Verification runs cancelled before a verdict",
	})
)
