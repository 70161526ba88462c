package fix

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/google/uuid"

	"github.com/c360studio/chronos/problem"
)

// RiskLevel grades how much damage a fix could do if it is wrong.
type RiskLevel string

const (
	RiskLow  RiskLevel = "low"
	RiskMed  RiskLevel = "med"
	RiskHigh RiskLevel = "high"
)

// ActionType identifies a simulated actuation backend.
type ActionType string

const (
	ActionAirspaceMitigation ActionType = "AIRSPACE_MITIGATION_SIM"
	ActionTransitReroute     ActionType = "TRANSIT_REROUTE_SIM"
	ActionTrafficAdvisory    ActionType = "TRAFFIC_ADVISORY_SIM"
	ActionPowerRecovery      ActionType = "POWER_RECOVERY_SIM"
	ActionRollback           ActionType = "ROLLBACK_SIM"
)

// Verification names the telemetry check that judges one deployed action:
// sample MetricName until WindowSeconds elapse and require Threshold to be
// crossed in the metric's favorable direction.
type Verification struct {
	MetricName    string  `json:"metric_name"`
	Threshold     float64 `json:"threshold"`
	WindowSeconds int     `json:"window_seconds"`
}

// Action is one executable step of a Fix, addressed to a simulated actuation
// backend and carrying its own verification spec.
type Action struct {
	Type         ActionType     `json:"type"`
	Target       string         `json:"target"`
	Params       map[string]any `json:"params,omitempty"`
	Verification *Verification  `json:"verification,omitempty"`
}

// MessageType is the payload schema for fix lifecycle events. Every fix.*
// event carries the full Fix record, never a delta, so a subscriber can
// reconstruct current state from the latest event alone.
var MessageType = message.Type{Domain: "chronos", Category: "fix", Version: "v1"}

// Fix is the governed wrapper around a Solution chosen for execution. It is
// created exactly once at proposal and is append-only afterwards: every
// lifecycle transition adds fields, none are removed, so the record doubles
// as its own audit trail.
type Fix struct {
	FixID                 string          `json:"fix_id"`
	CorrelationID         string          `json:"correlation_id"`
	Source                string          `json:"source"`
	Title                 string          `json:"title"`
	Summary               string          `json:"summary"`
	Actions               []Action        `json:"actions"`
	RiskLevel             RiskLevel       `json:"risk_level"`
	ExpectedImpact        EstimatedImpact `json:"expected_impact"`
	CreatedAt             time.Time       `json:"created_at"`
	ProposedBy            string          `json:"proposed_by"`
	RequiresHumanApproval bool            `json:"requires_human_approval"`
	Status                Status          `json:"status"`

	SolutionID  string   `json:"solution_id,omitempty"`
	GeneratedBy []string `json:"generated_by,omitempty"`

	// Lifecycle-appended fields.
	ReviewNotes    []string   `json:"review_notes,omitempty"`
	ApprovedBy     string     `json:"approved_by,omitempty"`
	DeployedAt     *time.Time `json:"deployed_at,omitempty"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	RollbackReason string     `json:"rollback_reason,omitempty"`
}

// NewFixID builds a fix id like FIX-20260826-1A2B3C4D.
func NewFixID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:8]
	return fmt.Sprintf("FIX-%s-%s", now.UTC().Format("20060102"), suffix)
}

// confidence bands for risk classification.
const (
	lowRiskConfidence = 0.75
	medRiskConfidence = 0.5
)

// ClassifyRisk maps problem severity and solution confidence to a risk level.
// High severity or shaky confidence is never eligible for the autonomous path.
func ClassifyRisk(sev problem.Severity, confidence float64) RiskLevel {
	if sev == problem.SeverityCritical || confidence < medRiskConfidence {
		return RiskHigh
	}
	if sev == problem.SeverityWarning || confidence < lowRiskConfidence {
		return RiskMed
	}
	return RiskLow
}

// Wrap creates the governed Fix record for a generated Solution. The source
// tag names the strategy that produced the solution; proposedBy names the
// component proposing the fix. The returned record is in the proposed state.
func Wrap(p *problem.Problem, s *Solution, source, proposedBy string, now time.Time) *Fix {
	risk := ClassifyRisk(p.Severity, s.ConfidenceScore)

	actions := make([]Action, 0, len(s.ProposedActions))
	for _, pa := range s.ProposedActions {
		actions = append(actions, actionFor(pa))
	}

	return &Fix{
		FixID:                 NewFixID(now),
		CorrelationID:         p.ProblemID,
		Source:                source,
		Title:                 titleFor(p),
		Summary:               summaryFor(p, s),
		Actions:               actions,
		RiskLevel:             risk,
		ExpectedImpact:        s.EstimatedImpact,
		CreatedAt:             now.UTC(),
		ProposedBy:            proposedBy,
		RequiresHumanApproval: s.RequiresApproval || risk != RiskLow,
		Status:                StatusProposed,
		SolutionID:            s.SolutionID,
		GeneratedBy:           s.GeneratedBy,
	}
}

// actionFor maps a domain-level proposed action onto its simulated actuation
// backend with a default verification spec.
func actionFor(pa ProposedAction) Action {
	var (
		typ    ActionType
		verify Verification
	)
	switch pa.ActionKind {
	case ActionKindReroute:
		typ = ActionTransitReroute
		verify = Verification{MetricName: "delay_reduction", Threshold: 5, WindowSeconds: 60}
	case ActionKindAdvisory:
		typ = ActionTrafficAdvisory
		verify = Verification{MetricName: "risk_score_delta", Threshold: -0.2, WindowSeconds: 60}
	case ActionKindPowerRecovery:
		typ = ActionPowerRecovery
		verify = Verification{MetricName: "voltage_stable", Threshold: 1, WindowSeconds: 120}
	default:
		// altitude_change, speed_change, speed_reduction, departure_shift
		typ = ActionAirspaceMitigation
		verify = Verification{MetricName: "sector_congestion", Threshold: 0.1, WindowSeconds: 60}
	}

	params := make(map[string]any, len(pa.Parameters)+2)
	for k, v := range pa.Parameters {
		params[k] = v
	}
	params["action_kind"] = pa.ActionKind
	if pa.Reasoning != "" {
		params["reasoning"] = pa.Reasoning
	}

	return Action{
		Type:         typ,
		Target:       pa.EntityID,
		Params:       params,
		Verification: &verify,
	}
}

func titleFor(p *problem.Problem) string {
	var base string
	switch p.ProblemType {
	case problem.TypeConflict:
		base = "Conflict resolution"
	case problem.TypeHotspot:
		base = "Hotspot mitigation"
	case problem.TypeViolation:
		base = "Violation fix"
	default:
		base = "Corrective fix"
	}
	if p.SectorID != "" {
		return fmt.Sprintf("%s in %s", base, p.SectorID)
	}
	return base
}

func summaryFor(p *problem.Problem, s *Solution) string {
	if p.Summary != "" {
		return fmt.Sprintf("%s (%d corrective actions)", p.Summary, len(s.ProposedActions))
	}
	return fmt.Sprintf("%d corrective actions for %s", len(s.ProposedActions), p.ProblemID)
}

// AppendReviewNote records a review remark without changing state.
func (f *Fix) AppendReviewNote(note string) {
	if note == "" {
		return
	}
	f.ReviewNotes = append(f.ReviewNotes, note)
}

// Schema implements message.Payload.
func (f *Fix) Schema() message.Type {
	return MessageType
}

// Validate implements message.Payload.
func (f *Fix) Validate() error {
	if f.FixID == "" {
		return fmt.Errorf("fix_id is required")
	}
	if f.CorrelationID == "" {
		return fmt.Errorf("correlation_id is required")
	}
	if !f.Status.known() {
		return fmt.Errorf("unknown status: %q", f.Status)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f *Fix) MarshalJSON() ([]byte, error) {
	type Alias Fix
	return json.Marshal((*Alias)(f))
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Fix) UnmarshalJSON(data []byte) error {
	type Alias Fix
	return json.Unmarshal(data, (*Alias)(f))
}
