package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/problem"
)

// Sub-task types routed to specialized solver agents.
const (
	TaskDeconflict        = "deconflict"
	TaskHotspotMitigation = "hotspot_mitigation"
	TaskValidationFix     = "validation_fix"
)

// ErrNoPartials reports a merge window that closed with nothing to merge.
// The caller recovers with the Rules strategy.
var ErrNoPartials = errors.New("no partial solutions received")

// SubTask is one dispatched unit of agentic work. TaskIDs are fresh per
// dispatch; determinism across restarts comes from the persisted
// generation record, not from the ids.
type SubTask struct {
	TaskID    string `json:"task_id"`
	TaskType  string `json:"task_type"`
	ProblemID string `json:"problem_id"`
}

// Split decomposes a problem into typed sub-tasks. A conflict that also
// carries constraint-violation details gets a validation task alongside
// the deconflict task.
func Split(p *problem.Problem) []SubTask {
	var types []string
	switch p.ProblemType {
	case problem.TypeConflict:
		types = append(types, TaskDeconflict)
		if hasViolationDetails(p) {
			types = append(types, TaskValidationFix)
		}
	case problem.TypeHotspot:
		types = append(types, TaskHotspotMitigation)
	default:
		types = append(types, TaskValidationFix)
	}

	tasks := make([]SubTask, len(types))
	for i, taskType := range types {
		tasks[i] = SubTask{
			TaskID:    newTaskID(),
			TaskType:  taskType,
			ProblemID: p.ProblemID,
		}
	}
	return tasks
}

func hasViolationDetails(p *problem.Problem) bool {
	if p.DetailString("constraint") != "" {
		return true
	}
	_, ok := p.Details["violations"]
	return ok
}

func newTaskID() string {
	return "TASK-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:8]
}

// Merge combines partial solutions into one Solution. Partials must be in
// task-dispatch order; the caller derives that order from its generation
// record. Zero partials returns ErrNoPartials.
//
// Actions concatenate across partials, affected entities union preserving
// first-seen order, delays and fuel impacts sum, and the merged confidence
// is the arithmetic mean of the partials' scores. Merged solutions always
// require approval.
func Merge(p *problem.Problem, partials []fix.PartialSolution) (*fix.Solution, error) {
	if len(partials) == 0 {
		return nil, fmt.Errorf("merge %s: %w", p.ProblemID, ErrNoPartials)
	}

	var (
		actions    []fix.ProposedAction
		agents     []string
		confidence float64
		impact     fix.EstimatedImpact
	)
	seen := map[string]bool{}
	var entities []string

	for _, partial := range partials {
		actions = append(actions, partial.ProposedActions...)
		agents = append(agents, partial.AgentName)
		confidence += partial.ConfidenceScore

		impact.TotalDelayMinutes += partial.EstimatedImpact.TotalDelayMinutes
		impact.FuelImpactPercent += partial.EstimatedImpact.FuelImpactPercent
		impact.AffectedPassengers += partial.EstimatedImpact.AffectedPassengers
		impact.RiskScoreDelta += partial.EstimatedImpact.RiskScoreDelta
		if impact.AreaAffected == "" {
			impact.AreaAffected = partial.EstimatedImpact.AreaAffected
		}

		for _, entity := range partial.AffectedEntities {
			if !seen[entity] {
				seen[entity] = true
				entities = append(entities, entity)
			}
		}
	}

	kind := fix.SolutionMultiAction
	if len(partials) == 1 && partials[0].SolutionKind != "" {
		kind = partials[0].SolutionKind
	}

	return &fix.Solution{
		SolutionID:       fix.NewSolutionID("MERGED", p.ProblemID),
		SolutionKind:     kind,
		ProblemID:        p.ProblemID,
		AffectedEntities: entities,
		ProposedActions:  actions,
		EstimatedImpact:  impact,
		ConfidenceScore:  confidence / float64(len(partials)),
		GeneratedBy:      agents,
		RequiresApproval: true,
	}, nil
}
