// Package fix defines the remediation models of the coordination core: the
// Solution a strategy produces, the governed Fix record wrapped around it,
// the fix lifecycle status machine, and the verification record kept while a
// deployed fix is judged against telemetry.
package fix

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/semstreams/message"
	"github.com/google/uuid"
)

// Solution kinds.
const (
	SolutionReroute         = "reroute"
	SolutionAltitudeChange  = "altitude_change"
	SolutionSpeedAdjustment = "speed_adjustment"
	SolutionMultiAction     = "multi_action"
)

// Proposed action kinds emitted by the strategies.
const (
	ActionKindAltitudeChange = "altitude_change"
	ActionKindSpeedChange    = "speed_change"
	ActionKindSpeedReduction = "speed_reduction"
	ActionKindDepartureShift = "departure_shift"
	ActionKindReroute        = "reroute"
	ActionKindAdvisory       = "advisory"
	ActionKindPowerRecovery  = "power_recovery"
)

// solutionNamespace seeds deterministic solution ids. Strategies seed with
// their problem id, so regenerating a solution for the same problem yields
// the same id and republished solutions dedupe downstream.
var solutionNamespace = uuid.MustParse("6b7a1a52-3c9d-4e61-9f0e-2f4cf1a6d9b4")

// NewSolutionID builds a solution id like SOL-RULES-1A2B3C4D. A non-empty
// seed derives the suffix from the seed (deterministic); an empty seed uses
// a fresh random UUID.
func NewSolutionID(tag, seed string) string {
	var id uuid.UUID
	if seed != "" {
		id = uuid.NewSHA1(solutionNamespace, []byte(seed))
	} else {
		id = uuid.New()
	}
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))[:8]
	return fmt.Sprintf("SOL-%s-%s", strings.ToUpper(tag), suffix)
}

// ProposedAction is one remedial step inside a Solution, expressed in domain
// terms (which entity, what to change, by how much, and why).
type ProposedAction struct {
	EntityID   string         `json:"entity_id"`
	ActionKind string         `json:"action_kind"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Reasoning  string         `json:"reasoning,omitempty"`
}

// EstimatedImpact summarizes the expected effect of applying a Solution.
type EstimatedImpact struct {
	TotalDelayMinutes  float64 `json:"total_delay_minutes"`
	FuelImpactPercent  float64 `json:"fuel_impact_percent,omitempty"`
	AffectedPassengers int     `json:"affected_passengers,omitempty"`
	RiskScoreDelta     float64 `json:"risk_score_delta,omitempty"`
	AreaAffected       string  `json:"area_affected,omitempty"`
}

// SolutionType is the payload schema for generated solutions.
var SolutionType = message.Type{Domain: "chronos", Category: "solution", Version: "v1"}

// Solution is a candidate remediation for one Problem, produced by exactly
// one strategy invocation. It is never mutated after creation; superseding a
// Solution means generating a new one.
type Solution struct {
	SolutionID       string           `json:"solution_id"`
	SolutionKind     string           `json:"solution_type"`
	ProblemID        string           `json:"problem_id"`
	AffectedEntities []string         `json:"affected_entities,omitempty"`
	ProposedActions  []ProposedAction `json:"proposed_actions"`
	EstimatedImpact  EstimatedImpact  `json:"estimated_impact"`
	ConfidenceScore  float64          `json:"confidence_score"`
	GeneratedBy      []string         `json:"generated_by"`
	RequiresApproval bool             `json:"requires_approval"`
}

// Schema implements message.Payload.
func (s *Solution) Schema() message.Type {
	return SolutionType
}

// Validate implements message.Payload.
func (s *Solution) Validate() error {
	if s.SolutionID == "" {
		return fmt.Errorf("solution_id is required")
	}
	if s.ProblemID == "" {
		return fmt.Errorf("problem_id is required")
	}
	if len(s.ProposedActions) == 0 {
		return fmt.Errorf("at least one proposed action is required")
	}
	if s.ConfidenceScore < 0 || s.ConfidenceScore > 1 {
		return fmt.Errorf("confidence_score %v out of range [0,1]", s.ConfidenceScore)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s *Solution) MarshalJSON() ([]byte, error) {
	type Alias Solution
	return json.Marshal((*Alias)(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Solution) UnmarshalJSON(data []byte) error {
	type Alias Solution
	return json.Unmarshal(data, (*Alias)(s))
}

// PartialSolutionType is the payload schema for agent partial solutions.
var PartialSolutionType = message.Type{Domain: "chronos", Category: "partial_solution", Version: "v1"}

// PartialSolution is one specialized agent's contribution to an agentic
// Solution, correlated back to its dispatch by task id.
type PartialSolution struct {
	TaskID           string           `json:"task_id"`
	ProblemID        string           `json:"problem_id"`
	SolutionKind     string           `json:"solution_type"`
	AffectedEntities []string         `json:"affected_entities,omitempty"`
	ProposedActions  []ProposedAction `json:"proposed_actions"`
	EstimatedImpact  EstimatedImpact  `json:"estimated_impact"`
	ConfidenceScore  float64          `json:"confidence_score"`
	AgentName        string           `json:"agent_name"`
}

// Schema implements message.Payload.
func (p *PartialSolution) Schema() message.Type {
	return PartialSolutionType
}

// Validate implements message.Payload.
func (p *PartialSolution) Validate() error {
	if p.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if p.ProblemID == "" {
		return fmt.Errorf("problem_id is required")
	}
	if p.AgentName == "" {
		return fmt.Errorf("agent_name is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p *PartialSolution) MarshalJSON() ([]byte, error) {
	type Alias PartialSolution
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PartialSolution) UnmarshalJSON(data []byte) error {
	type Alias PartialSolution
	return json.Unmarshal(data, (*Alias)(p))
}
