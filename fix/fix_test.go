package fix

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/chronos/problem"
)

func conflictProblem() *problem.Problem {
	return &problem.Problem{
		ProblemID:       "CONF-001",
		ProblemType:     problem.TypeConflict,
		AffectedFlights: []string{"UAL123", "DAL456"},
		Severity:        problem.SeverityCritical,
		SectorID:        "ZNY-34",
		Summary:         "Loss of separation predicted between UAL123 and DAL456",
		DetectedAt:      time.Date(2026, 8, 26, 9, 58, 0, 0, time.UTC),
	}
}

func rulesSolution() *Solution {
	return &Solution{
		SolutionID:       "SOL-RULES-AAAA1111",
		SolutionKind:     SolutionMultiAction,
		ProblemID:        "CONF-001",
		AffectedEntities: []string{"UAL123", "DAL456"},
		ProposedActions: []ProposedAction{
			{EntityID: "UAL123", ActionKind: ActionKindAltitudeChange, Parameters: map[string]any{"delta_ft": 2000.0}},
			{EntityID: "DAL456", ActionKind: ActionKindSpeedChange, Parameters: map[string]any{"delta_kn": -15.0}},
		},
		EstimatedImpact:  EstimatedImpact{TotalDelayMinutes: 5, AffectedPassengers: 300},
		ConfidenceScore:  0.85,
		GeneratedBy:      []string{"rules-engine"},
		RequiresApproval: true,
	}
}

func TestWrapBuildsProposedFix(t *testing.T) {
	p := conflictProblem()
	s := rulesSolution()
	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)

	f := Wrap(p, s, "rules", "problem-monitor", now)

	assert.Equal(t, "CONF-001", f.CorrelationID)
	assert.Equal(t, "rules", f.Source)
	assert.Equal(t, StatusProposed, f.Status)
	assert.Equal(t, "problem-monitor", f.ProposedBy)
	assert.Equal(t, RiskHigh, f.RiskLevel, "critical severity must classify high")
	assert.True(t, f.RequiresHumanApproval)
	assert.Equal(t, s.EstimatedImpact, f.ExpectedImpact)
	assert.Contains(t, f.Title, "Conflict resolution")
	assert.Contains(t, f.Title, "ZNY-34")

	require.Len(t, f.Actions, 2)
	for _, a := range f.Actions {
		assert.Equal(t, ActionAirspaceMitigation, a.Type)
		require.NotNil(t, a.Verification)
		assert.Equal(t, "sector_congestion", a.Verification.MetricName)
		assert.Positive(t, a.Verification.WindowSeconds)
	}
	assert.Equal(t, "UAL123", f.Actions[0].Target)
	assert.Equal(t, ActionKindAltitudeChange, f.Actions[0].Params["action_kind"])
	assert.NoError(t, f.Validate())
}

func TestWrapActionMapping(t *testing.T) {
	tests := []struct {
		kind       string
		wantType   ActionType
		wantMetric string
	}{
		{ActionKindAltitudeChange, ActionAirspaceMitigation, "sector_congestion"},
		{ActionKindSpeedReduction, ActionAirspaceMitigation, "sector_congestion"},
		{ActionKindDepartureShift, ActionAirspaceMitigation, "sector_congestion"},
		{ActionKindReroute, ActionTransitReroute, "delay_reduction"},
		{ActionKindAdvisory, ActionTrafficAdvisory, "risk_score_delta"},
		{ActionKindPowerRecovery, ActionPowerRecovery, "voltage_stable"},
	}

	for _, tt := range tests {
		a := actionFor(ProposedAction{EntityID: "E1", ActionKind: tt.kind})
		assert.Equal(t, tt.wantType, a.Type, tt.kind)
		require.NotNil(t, a.Verification, tt.kind)
		assert.Equal(t, tt.wantMetric, a.Verification.MetricName, tt.kind)
	}
}

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		severity   problem.Severity
		confidence float64
		want       RiskLevel
	}{
		{problem.SeverityCritical, 0.9, RiskHigh},
		{problem.SeverityWarning, 0.9, RiskMed},
		{problem.SeverityInfo, 0.9, RiskLow},
		{problem.SeverityInfo, 0.6, RiskMed},
		{problem.SeverityInfo, 0.4, RiskHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyRisk(tt.severity, tt.confidence),
			"severity=%s confidence=%v", tt.severity, tt.confidence)
	}
}

func TestNewFixID(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	id := NewFixID(now)

	assert.True(t, strings.HasPrefix(id, "FIX-20260826-"), id)
	assert.Len(t, id, len("FIX-20260826-")+8)
	assert.Equal(t, strings.ToUpper(id), id)
}

func TestNewSolutionIDDeterministicWithSeed(t *testing.T) {
	a := NewSolutionID("rules", "CONF-001")
	b := NewSolutionID("rules", "CONF-001")
	c := NewSolutionID("rules", "CONF-002")

	assert.Equal(t, a, b, "same seed must derive the same id")
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "SOL-RULES-"), a)

	r1 := NewSolutionID("merged", "")
	r2 := NewSolutionID("merged", "")
	assert.NotEqual(t, r1, r2, "empty seed must produce fresh ids")
}

func TestVerificationRecordLifecycle(t *testing.T) {
	now := time.Date(2026, 8, 26, 10, 10, 0, 0, time.UTC)
	r := NewVerificationRecord("FIX-20260826-TEST0001", 3)

	assert.Equal(t, VerificationNotStarted, r.Status)

	r.Begin(now)
	assert.Equal(t, VerificationInProgress, r.Status)

	r.RecordAction(now.Add(2*time.Second), ActionOutcomePassed, "delay_reduction crossed threshold")
	r.RecordAction(now.Add(4*time.Second), ActionOutcomeSkipped, "no verification criteria")
	r.RecordAction(now.Add(60*time.Second), ActionOutcomeFailed, "window expired without crossing")
	r.Finish(now.Add(60 * time.Second))

	assert.Equal(t, VerificationFailed, r.Status)
	assert.Equal(t, VerificationMetrics{TotalActions: 3, Passed: 1, Failed: 1, Skipped: 1}, r.Metrics)
	// begin + three actions + finish
	assert.Len(t, r.Timeline, 5)
	require.NotNil(t, r.FinishedAt)

	ok := NewVerificationRecord("FIX-20260826-TEST0002", 1)
	ok.Begin(now)
	ok.RecordAction(now.Add(time.Second), ActionOutcomePassed, "ok")
	ok.Finish(now.Add(time.Second))
	assert.Equal(t, VerificationVerified, ok.Status)
}
