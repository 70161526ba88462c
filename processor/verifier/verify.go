package verifier

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/telemetry"
)

// Metric names with a known favorable direction.
const (
	metricDelayReduction   = "delay_reduction"
	metricRiskScoreDelta   = "risk_score_delta"
	metricSectorCongestion = "sector_congestion"
	metricVoltageStable    = "voltage_stable"
)

// knownMetric reports whether the verifier can judge a metric's direction.
func knownMetric(name string) bool {
	switch name {
	case metricDelayReduction, metricRiskScoreDelta, metricSectorCongestion, metricVoltageStable:
		return true
	}
	return false
}

// needsBaseline reports whether a metric is judged as a reduction from its
// deploy-time reading.
func needsBaseline(name string) bool {
	return name == metricSectorCongestion
}

// metricPasses judges one sample against an action's verification spec.
// baseline is the deploy-time reading; only reduction metrics use it.
func metricPasses(metric string, sample, threshold, baseline float64) bool {
	switch metric {
	case metricDelayReduction:
		// Higher is better.
		return sample >= threshold
	case metricRiskScoreDelta:
		// Larger magnitude is better regardless of sign convention.
		return math.Abs(sample) >= math.Abs(threshold)
	case metricSectorCongestion:
		// Reduction from the deploy-time baseline.
		return baseline-sample >= threshold
	case metricVoltageStable:
		// Boolean stability flag.
		return (sample != 0) == (threshold != 0)
	}
	return false
}

// skipReason explains why an action cannot be verified; empty means the
// action is pollable.
func skipReason(v *fix.Verification) string {
	switch {
	case v == nil || v.MetricName == "":
		return "no verification spec"
	case v.WindowSeconds <= 0:
		return "verification window missing"
	case !knownMetric(v.MetricName):
		return fmt.Sprintf("unknown metric %q", v.MetricName)
	}
	return ""
}

// sampleSource is the telemetry view a verification loop reads.
type sampleSource interface {
	Latest(metric string) (telemetry.Sample, bool)
}

// pollAction samples the action's metric at the cadence until it crosses
// the threshold in the favorable direction or the window expires. The first
// sample is taken immediately. An empty outcome means the run was cancelled
// before a decision.
func pollAction(ctx context.Context, samples sampleSource, v fix.Verification, baseline float64, window, cadence time.Duration) (outcome, message string) {
	check := func() (string, bool) {
		sample, ok := samples.Latest(v.MetricName)
		if !ok || !metricPasses(v.MetricName, sample.Value, v.Threshold, baseline) {
			return "", false
		}
		return fmt.Sprintf("%s crossed threshold %v (sample %v)", v.MetricName, v.Threshold, sample.Value), true
	}

	if msg, ok := check(); ok {
		return fix.ActionOutcomePassed, msg
	}

	deadline := time.NewTimer(window)
	defer deadline.Stop()
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ""
		case <-deadline.C:
			return fix.ActionOutcomeFailed,
				fmt.Sprintf("%s did not cross threshold %v within %s", v.MetricName, v.Threshold, window)
		case <-ticker.C:
			if msg, ok := check(); ok {
				return fix.ActionOutcomePassed, msg
			}
		}
	}
}
