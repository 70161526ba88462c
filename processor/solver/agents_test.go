package solver

import (
	"testing"
	"time"

	"github.com/c360studio/chronos/event"
	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/problem"
	"github.com/c360studio/chronos/strategy"
)

func conflictTask(taskType string) *event.TaskAssignment {
	return &event.TaskAssignment{
		TaskID:    "TASK-DECONF01",
		TaskType:  taskType,
		ProblemID: "CONF-001",
		Problem: &problem.Problem{
			ProblemID:       "CONF-001",
			ProblemType:     problem.TypeConflict,
			AffectedFlights: []string{"UAL123", "DAL456"},
			Severity:        problem.SeverityCritical,
			SectorID:        "ZNY-34",
			DetectedAt:      time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
			Details:         map[string]any{"conflict_time": "09:41Z"},
		},
		DispatchedAt: time.Date(2026, 3, 14, 9, 30, 1, 0, time.UTC),
	}
}

func TestDeconflictAgent(t *testing.T) {
	task := conflictTask(strategy.TaskDeconflict)

	partial, err := solveTask(task)
	if err != nil {
		t.Fatalf("solveTask() error = %v", err)
	}

	if partial.AgentName != AgentDeconflict {
		t.Errorf("agent = %q, want %q", partial.AgentName, AgentDeconflict)
	}
	if partial.TaskID != "TASK-DECONF01" || partial.ProblemID != "CONF-001" {
		t.Errorf("correlation lost: task=%q problem=%q", partial.TaskID, partial.ProblemID)
	}
	if partial.ConfidenceScore != deconflictConfidence {
		t.Errorf("confidence = %v, want %v", partial.ConfidenceScore, deconflictConfidence)
	}
	if len(partial.ProposedActions) != 2 {
		t.Fatalf("actions = %d, want 2", len(partial.ProposedActions))
	}

	climb := partial.ProposedActions[0]
	if climb.EntityID != "UAL123" || climb.ActionKind != fix.ActionKindAltitudeChange {
		t.Errorf("first action = %s on %s, want altitude_change on UAL123", climb.ActionKind, climb.EntityID)
	}
	if climb.Parameters["to_altitude_ft"] != 37000.0 {
		t.Errorf("target altitude = %v, want 37000", climb.Parameters["to_altitude_ft"])
	}

	slow := partial.ProposedActions[1]
	if slow.EntityID != "DAL456" || slow.ActionKind != fix.ActionKindSpeedChange {
		t.Errorf("second action = %s on %s, want speed_change on DAL456", slow.ActionKind, slow.EntityID)
	}
	if slow.Parameters["to_speed_kn"] != 435.0 {
		t.Errorf("target speed = %v, want 435", slow.Parameters["to_speed_kn"])
	}

	if partial.EstimatedImpact.AffectedPassengers != 300 {
		t.Errorf("passengers = %d, want 300", partial.EstimatedImpact.AffectedPassengers)
	}
}

func TestDeconflictAgent_SingleFlight(t *testing.T) {
	task := conflictTask(strategy.TaskDeconflict)
	task.Problem.AffectedFlights = []string{"UAL123"}

	partial, err := solveTask(task)
	if err != nil {
		t.Fatalf("solveTask() error = %v", err)
	}

	if len(partial.ProposedActions) != 1 {
		t.Fatalf("actions = %d, want 1", len(partial.ProposedActions))
	}
	if partial.SolutionKind != fix.SolutionAltitudeChange {
		t.Errorf("kind = %q, want %q", partial.SolutionKind, fix.SolutionAltitudeChange)
	}
}

func TestHotspotAgent_CapsAtThreeFlights(t *testing.T) {
	task := &event.TaskAssignment{
		TaskID:    "TASK-HOT01",
		TaskType:  strategy.TaskHotspotMitigation,
		ProblemID: "HOT-007",
		Problem: &problem.Problem{
			ProblemID:       "HOT-007",
			ProblemType:     problem.TypeHotspot,
			AffectedFlights: []string{"AAL10", "AAL11", "AAL12", "AAL13", "AAL14"},
			Severity:        problem.SeverityWarning,
			SectorID:        "ZNY-12",
		},
	}

	partial, err := solveTask(task)
	if err != nil {
		t.Fatalf("solveTask() error = %v", err)
	}

	if partial.AgentName != AgentHotspot {
		t.Errorf("agent = %q, want %q", partial.AgentName, AgentHotspot)
	}
	if len(partial.ProposedActions) != 3 {
		t.Fatalf("actions = %d, want 3", len(partial.ProposedActions))
	}
	for i, action := range partial.ProposedActions {
		if action.ActionKind != fix.ActionKindSpeedReduction {
			t.Errorf("action %d kind = %q, want speed_reduction", i, action.ActionKind)
		}
		if action.Parameters["to_speed_kn"] != 430.0 {
			t.Errorf("action %d target speed = %v, want 430", i, action.Parameters["to_speed_kn"])
		}
	}
	if partial.EstimatedImpact.TotalDelayMinutes != 6 {
		t.Errorf("delay = %v, want 6", partial.EstimatedImpact.TotalDelayMinutes)
	}
	if partial.EstimatedImpact.AreaAffected != "ZNY-12" {
		t.Errorf("area = %q, want ZNY-12", partial.EstimatedImpact.AreaAffected)
	}
}

func TestValidationAgent_EchoesConstraint(t *testing.T) {
	task := &event.TaskAssignment{
		TaskID:    "TASK-VAL01",
		TaskType:  strategy.TaskValidationFix,
		ProblemID: "VIO-003",
		Problem: &problem.Problem{
			ProblemID:        "VIO-003",
			ProblemType:      problem.TypeViolation,
			AffectedEntities: []string{"SWA789"},
			Severity:         problem.SeverityWarning,
			SectorID:         "ZNY-09",
			Details:          map[string]any{"constraint": "restricted corridor R-5201"},
		},
	}

	partial, err := solveTask(task)
	if err != nil {
		t.Fatalf("solveTask() error = %v", err)
	}

	if partial.AgentName != AgentValidation {
		t.Errorf("agent = %q, want %q", partial.AgentName, AgentValidation)
	}
	if len(partial.ProposedActions) != 1 {
		t.Fatalf("actions = %d, want 1", len(partial.ProposedActions))
	}
	action := partial.ProposedActions[0]
	if action.EntityID != "SWA789" || action.ActionKind != fix.ActionKindReroute {
		t.Errorf("action = %s on %s, want reroute on SWA789", action.ActionKind, action.EntityID)
	}
	want := "Reroute to clear violated constraint: restricted corridor R-5201"
	if action.Reasoning != want {
		t.Errorf("reasoning = %q, want %q", action.Reasoning, want)
	}
	if partial.ConfidenceScore != validationConfidence {
		t.Errorf("confidence = %v, want %v", partial.ConfidenceScore, validationConfidence)
	}
}

func TestSolveTask_UnknownType(t *testing.T) {
	task := conflictTask("negotiation")
	if _, err := solveTask(task); err == nil {
		t.Fatal("expected error for unknown task type")
	}
}

// Partials produced by agents must be valid bus payloads.
func TestAgents_ProduceValidPayloads(t *testing.T) {
	for _, taskType := range []string{
		strategy.TaskDeconflict,
		strategy.TaskHotspotMitigation,
		strategy.TaskValidationFix,
	} {
		task := conflictTask(taskType)
		partial, err := solveTask(task)
		if err != nil {
			t.Fatalf("solveTask(%s) error = %v", taskType, err)
		}
		if err := partial.Validate(); err != nil {
			t.Errorf("partial for %s invalid: %v", taskType, err)
		}
	}
}
