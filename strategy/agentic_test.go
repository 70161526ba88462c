package strategy

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/problem"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		p         *problem.Problem
		wantTypes []string
	}{
		{
			name:      "conflict",
			p:         conflictProblem(),
			wantTypes: []string{TaskDeconflict},
		},
		{
			name: "conflict with constraint details",
			p: func() *problem.Problem {
				p := conflictProblem()
				p.Details = map[string]any{"constraint": "crossing restriction"}
				return p
			}(),
			wantTypes: []string{TaskDeconflict, TaskValidationFix},
		},
		{
			name: "hotspot",
			p: &problem.Problem{
				ProblemID:   "HOT-001",
				ProblemType: problem.TypeHotspot,
			},
			wantTypes: []string{TaskHotspotMitigation},
		},
		{
			name: "violation",
			p: &problem.Problem{
				ProblemID:   "VIO-001",
				ProblemType: problem.TypeViolation,
			},
			wantTypes: []string{TaskValidationFix},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := Split(tt.p)
			if len(tasks) != len(tt.wantTypes) {
				t.Fatalf("expected %d tasks, got %d", len(tt.wantTypes), len(tasks))
			}
			seen := map[string]bool{}
			for i, task := range tasks {
				if task.TaskType != tt.wantTypes[i] {
					t.Errorf("task %d: expected type %q, got %q", i, tt.wantTypes[i], task.TaskType)
				}
				if task.ProblemID != tt.p.ProblemID {
					t.Errorf("task %d: expected problem %q, got %q", i, tt.p.ProblemID, task.ProblemID)
				}
				if !strings.HasPrefix(task.TaskID, "TASK-") {
					t.Errorf("task %d: unexpected id %q", i, task.TaskID)
				}
				if seen[task.TaskID] {
					t.Errorf("duplicate task id %q", task.TaskID)
				}
				seen[task.TaskID] = true
			}
		})
	}
}

func deconflictPartial(taskID string) fix.PartialSolution {
	return fix.PartialSolution{
		TaskID:           taskID,
		ProblemID:        "CONF-001",
		SolutionKind:     fix.SolutionAltitudeChange,
		AffectedEntities: []string{"UAL123", "DAL456"},
		ProposedActions: []fix.ProposedAction{
			{EntityID: "UAL123", ActionKind: fix.ActionKindAltitudeChange, Reasoning: "Climb"},
		},
		EstimatedImpact: fix.EstimatedImpact{TotalDelayMinutes: 2, FuelImpactPercent: 0.5},
		ConfidenceScore: 0.9,
		AgentName:       "deconflict-agent",
	}
}

func validationPartial(taskID string) fix.PartialSolution {
	return fix.PartialSolution{
		TaskID:           taskID,
		ProblemID:        "CONF-001",
		SolutionKind:     fix.SolutionReroute,
		AffectedEntities: []string{"DAL456", "SWA789"},
		ProposedActions: []fix.ProposedAction{
			{EntityID: "DAL456", ActionKind: fix.ActionKindReroute, Reasoning: "Avoid corridor"},
			{EntityID: "SWA789", ActionKind: fix.ActionKindAdvisory, Reasoning: "Notify"},
		},
		EstimatedImpact: fix.EstimatedImpact{TotalDelayMinutes: 4, FuelImpactPercent: 0.3},
		ConfidenceScore: 0.7,
		AgentName:       "validation-agent",
	}
}

func TestMerge_CombinesPartialsInOrder(t *testing.T) {
	p := conflictProblem()
	partials := []fix.PartialSolution{
		deconflictPartial("TASK-A"),
		validationPartial("TASK-B"),
	}

	merged, err := Merge(p, partials)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if len(merged.ProposedActions) != 3 {
		t.Fatalf("expected 3 concatenated actions, got %d", len(merged.ProposedActions))
	}
	if merged.ProposedActions[0].EntityID != "UAL123" {
		t.Error("actions must preserve task-dispatch order")
	}
	wantEntities := []string{"UAL123", "DAL456", "SWA789"}
	if len(merged.AffectedEntities) != len(wantEntities) {
		t.Fatalf("expected entity union %v, got %v", wantEntities, merged.AffectedEntities)
	}
	for i, entity := range wantEntities {
		if merged.AffectedEntities[i] != entity {
			t.Errorf("entity %d: expected %q, got %q", i, entity, merged.AffectedEntities[i])
		}
	}
	if merged.EstimatedImpact.TotalDelayMinutes != 6 {
		t.Errorf("expected summed delay 6, got %v", merged.EstimatedImpact.TotalDelayMinutes)
	}
	if math.Abs(merged.ConfidenceScore-0.8) > 1e-9 {
		t.Errorf("expected mean confidence 0.8, got %v", merged.ConfidenceScore)
	}
	if len(merged.GeneratedBy) != 2 || merged.GeneratedBy[0] != "deconflict-agent" {
		t.Errorf("unexpected provenance: %v", merged.GeneratedBy)
	}
	if !strings.HasPrefix(merged.SolutionID, "SOL-MERGED-") {
		t.Errorf("unexpected solution id: %q", merged.SolutionID)
	}
	if !merged.RequiresApproval {
		t.Error("merged solutions always require approval")
	}
	if merged.SolutionKind != fix.SolutionMultiAction {
		t.Errorf("expected multi_action, got %q", merged.SolutionKind)
	}
}

func TestMerge_SinglePartialKeepsItsShape(t *testing.T) {
	p := conflictProblem()
	partial := deconflictPartial("TASK-A")

	merged, err := Merge(p, []fix.PartialSolution{partial})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if merged.ConfidenceScore != partial.ConfidenceScore {
		t.Errorf("single-partial confidence must equal the partial's: got %v", merged.ConfidenceScore)
	}
	if len(merged.GeneratedBy) != 1 || merged.GeneratedBy[0] != "deconflict-agent" {
		t.Errorf("expected only the responding agent, got %v", merged.GeneratedBy)
	}
	if merged.SolutionKind != fix.SolutionAltitudeChange {
		t.Errorf("expected partial's kind preserved, got %q", merged.SolutionKind)
	}
}

func TestMerge_NoPartials(t *testing.T) {
	_, err := Merge(conflictProblem(), nil)
	if !errors.Is(err, ErrNoPartials) {
		t.Fatalf("expected ErrNoPartials, got %v", err)
	}
}
