package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/google/uuid"

	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/problem"
)

// Payload schema types for the coordination traffic.
var (
	SolutionGeneratedType = message.Type{Domain: "chronos", Category: "solution_generated", Version: "v1"}
	TaskAssignmentType    = message.Type{Domain: "chronos", Category: "task", Version: "v1"}
	DecisionType          = message.Type{Domain: "chronos", Category: "decision", Version: "v1"}
	DeployReportType      = message.Type{Domain: "chronos", Category: "deploy_report", Version: "v1"}
	VerifyReportType      = message.Type{Domain: "chronos", Category: "verify_report", Version: "v1"}
	EffectType            = message.Type{Domain: "chronos", Category: "effect", Version: "v1"}
	AuditDecisionType     = message.Type{Domain: "chronos", Category: "audit_decision", Version: "v1"}
	ApprovalRequiredType  = message.Type{Domain: "chronos", Category: "approval_required", Version: "v1"}
)

// SolutionGenerated hands a generated Solution (with its originating
// Problem) from the problem-monitor to the fix-coordinator for wrapping.
type SolutionGenerated struct {
	Problem     *problem.Problem `json:"problem"`
	Solution    *fix.Solution    `json:"solution"`
	Strategy    string           `json:"strategy"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// Schema implements message.Payload.
func (s *SolutionGenerated) Schema() message.Type { return SolutionGeneratedType }

// Validate implements message.Payload.
func (s *SolutionGenerated) Validate() error {
	if s.Problem == nil {
		return fmt.Errorf("problem is required")
	}
	if s.Solution == nil {
		return fmt.Errorf("solution is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s *SolutionGenerated) MarshalJSON() ([]byte, error) {
	type Alias SolutionGenerated
	return json.Marshal((*Alias)(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *SolutionGenerated) UnmarshalJSON(data []byte) error {
	type Alias SolutionGenerated
	return json.Unmarshal(data, (*Alias)(s))
}

// TaskAssignment dispatches one typed sub-task to a solver agent. The full
// problem rides along so agents stay stateless.
type TaskAssignment struct {
	TaskID       string           `json:"task_id"`
	TaskType     string           `json:"task_type"`
	ProblemID    string           `json:"problem_id"`
	Problem      *problem.Problem `json:"problem"`
	DispatchedAt time.Time        `json:"dispatched_at"`
}

// Schema implements message.Payload.
func (t *TaskAssignment) Schema() message.Type { return TaskAssignmentType }

// Validate implements message.Payload.
func (t *TaskAssignment) Validate() error {
	if t.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if t.TaskType == "" {
		return fmt.Errorf("task_type is required")
	}
	if t.Problem == nil {
		return fmt.Errorf("problem is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t *TaskAssignment) MarshalJSON() ([]byte, error) {
	type Alias TaskAssignment
	return json.Marshal((*Alias)(t))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TaskAssignment) UnmarshalJSON(data []byte) error {
	type Alias TaskAssignment
	return json.Unmarshal(data, (*Alias)(t))
}

// Review decisions.
const (
	DecisionApprove  = "approve"
	DecisionHold     = "hold"
	DecisionDismiss  = "dismiss"
	DecisionRollback = "rollback"
)

// Decision is a human or policy decision on a fix, published by the review
// surface and applied authoritatively by the fix-coordinator.
type Decision struct {
	FixID     string    `json:"fix_id"`
	Decision  string    `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	DecidedBy string    `json:"decided_by,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Schema implements message.Payload.
func (d *Decision) Schema() message.Type { return DecisionType }

// Validate implements message.Payload.
func (d *Decision) Validate() error {
	if d.FixID == "" {
		return fmt.Errorf("fix_id is required")
	}
	switch d.Decision {
	case DecisionApprove, DecisionHold, DecisionDismiss, DecisionRollback:
	default:
		return fmt.Errorf("unknown decision: %q", d.Decision)
	}
	if d.Decision == DecisionDismiss && d.Reason == "" {
		return fmt.Errorf("dismiss requires a reason")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d *Decision) MarshalJSON() ([]byte, error) {
	type Alias Decision
	return json.Marshal((*Alias)(d))
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Decision) UnmarshalJSON(data []byte) error {
	type Alias Decision
	return json.Unmarshal(data, (*Alias)(d))
}

// Deploy phases reported by the deployer.
const (
	DeployPhaseStarted           = "started"
	DeployPhaseSucceeded         = "succeeded"
	DeployPhaseFailed            = "failed"
	DeployPhaseRollbackSucceeded = "rollback_succeeded"
)

// FailedAction captures one action's actuation failure.
type FailedAction struct {
	ActionIndex int    `json:"action_index"`
	ActionType  string `json:"action_type"`
	Error       string `json:"error"`
}

// DeployReport is the deployer's phase report for one fix. The coordinator
// turns these into lifecycle transitions.
type DeployReport struct {
	FixID         string         `json:"fix_id"`
	Phase         string         `json:"phase"`
	FailedActions []FailedAction `json:"failed_actions,omitempty"`
	Error         string         `json:"error,omitempty"`
	ReportedAt    time.Time      `json:"reported_at"`
}

// Schema implements message.Payload.
func (d *DeployReport) Schema() message.Type { return DeployReportType }

// Validate implements message.Payload.
func (d *DeployReport) Validate() error {
	if d.FixID == "" {
		return fmt.Errorf("fix_id is required")
	}
	switch d.Phase {
	case DeployPhaseStarted, DeployPhaseSucceeded, DeployPhaseFailed, DeployPhaseRollbackSucceeded:
	default:
		return fmt.Errorf("unknown deploy phase: %q", d.Phase)
	}
	return nil
}

// FailureNote renders the failed actions as one review note.
func (d *DeployReport) FailureNote() string {
	if len(d.FailedActions) == 0 {
		if d.Error != "" {
			return "deploy failed: " + d.Error
		}
		return "deploy failed"
	}
	parts := make([]string, len(d.FailedActions))
	for i, fa := range d.FailedActions {
		parts[i] = fmt.Sprintf("action %d (%s): %s", fa.ActionIndex, fa.ActionType, fa.Error)
	}
	return "deploy failed: " + strings.Join(parts, "; ")
}

// MarshalJSON implements json.Marshaler.
func (d *DeployReport) MarshalJSON() ([]byte, error) {
	type Alias DeployReport
	return json.Marshal((*Alias)(d))
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DeployReport) UnmarshalJSON(data []byte) error {
	type Alias DeployReport
	return json.Unmarshal(data, (*Alias)(d))
}

// VerifyReport is the verifier's final judgement for one fix.
type VerifyReport struct {
	FixID      string                  `json:"fix_id"`
	Passed     bool                    `json:"passed"`
	Metrics    fix.VerificationMetrics `json:"metrics"`
	Reason     string                  `json:"reason,omitempty"`
	ReportedAt time.Time               `json:"reported_at"`
}

// Schema implements message.Payload.
func (v *VerifyReport) Schema() message.Type { return VerifyReportType }

// Validate implements message.Payload.
func (v *VerifyReport) Validate() error {
	if v.FixID == "" {
		return fmt.Errorf("fix_id is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v *VerifyReport) MarshalJSON() ([]byte, error) {
	type Alias VerifyReport
	return json.Marshal((*Alias)(v))
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *VerifyReport) UnmarshalJSON(data []byte) error {
	type Alias VerifyReport
	return json.Unmarshal(data, (*Alias)(v))
}

// Effect is a simulated actuation result. simulation_mode is always true in
// this core; a real actuation backend would clear it.
type Effect struct {
	FixID          string         `json:"fix_id"`
	ActionType     string         `json:"action_type"`
	Target         string         `json:"target"`
	Params         map[string]any `json:"params,omitempty"`
	SimulationMode bool           `json:"simulation_mode"`
	AppliedAt      time.Time      `json:"applied_at"`
}

// Schema implements message.Payload.
func (e *Effect) Schema() message.Type { return EffectType }

// Validate implements message.Payload.
func (e *Effect) Validate() error {
	if e.FixID == "" {
		return fmt.Errorf("fix_id is required")
	}
	if e.ActionType == "" {
		return fmt.Errorf("action_type is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e *Effect) MarshalJSON() ([]byte, error) {
	type Alias Effect
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Effect) UnmarshalJSON(data []byte) error {
	type Alias Effect
	return json.Unmarshal(data, (*Alias)(e))
}

// AuditDecision records an autonomous routing decision for audit.
type AuditDecision struct {
	DecisionID  string    `json:"decision_id"`
	FixID       string    `json:"fix_id"`
	Mode        string    `json:"mode"`
	ActionTaken string    `json:"action_taken"`
	Reason      string    `json:"reason,omitempty"`
	DecidedAt   time.Time `json:"decided_at"`
}

// NewAuditDecisionID builds an id like DEC-2026-1A2B3C4D.
func NewAuditDecisionID(now time.Time) string {
	return fmt.Sprintf("DEC-%s-%s", now.UTC().Format("2006"), idSuffix())
}

// Schema implements message.Payload.
func (a *AuditDecision) Schema() message.Type { return AuditDecisionType }

// Validate implements message.Payload.
func (a *AuditDecision) Validate() error {
	if a.DecisionID == "" {
		return fmt.Errorf("decision_id is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a *AuditDecision) MarshalJSON() ([]byte, error) {
	type Alias AuditDecision
	return json.Marshal((*Alias)(a))
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *AuditDecision) UnmarshalJSON(data []byte) error {
	type Alias AuditDecision
	return json.Unmarshal(data, (*Alias)(a))
}

// ApprovalRequired notifies review surfaces that a fix is waiting on a
// decision. Expiry is advisory; the lifecycle itself never times out.
type ApprovalRequired struct {
	ApprovalID  string    `json:"approval_id"`
	FixID       string    `json:"fix_id"`
	RiskLevel   string    `json:"risk_level"`
	Summary     string    `json:"summary,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewApprovalID builds an id like APP-2026-1A2B3C4D.
func NewApprovalID(now time.Time) string {
	return fmt.Sprintf("APP-%s-%s", now.UTC().Format("2006"), idSuffix())
}

// Schema implements message.Payload.
func (a *ApprovalRequired) Schema() message.Type { return ApprovalRequiredType }

// Validate implements message.Payload.
func (a *ApprovalRequired) Validate() error {
	if a.ApprovalID == "" {
		return fmt.Errorf("approval_id is required")
	}
	if a.FixID == "" {
		return fmt.Errorf("fix_id is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a *ApprovalRequired) MarshalJSON() ([]byte, error) {
	type Alias ApprovalRequired
	return json.Marshal((*Alias)(a))
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *ApprovalRequired) UnmarshalJSON(data []byte) error {
	type Alias ApprovalRequired
	return json.Unmarshal(data, (*Alias)(a))
}

func idSuffix() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:8]
}
