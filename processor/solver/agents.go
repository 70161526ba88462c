package solver

import (
	"fmt"

	"github.com/c360studio/chronos/event"
	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/strategy"
)

// Agent names recorded in partial solutions and merged provenance.
const (
	AgentDeconflict = "deconflict-agent"
	AgentHotspot    = "hotspot-agent"
	AgentValidation = "validation-agent"
)

// Per-agent heuristic constants. Altitudes in feet, speeds in knots,
// delays in minutes.
const (
	altitudeStepFt    = 2000.0
	altitudeCeilingFt = 41000.0
	defaultAltitudeFt = 35000.0

	speedStepKn    = 15.0
	hotspotStepKn  = 20.0
	speedFloorKn   = 300.0
	defaultSpeedKn = 450.0

	hotspotDelayMin     = 2.0
	hotspotMaxFlights   = 3
	passengersPerFlight = 150

	deconflictConfidence = 0.90
	hotspotConfidence    = 0.80
	validationConfidence = 0.70
)

// solveTask runs the specialized agent for a task assignment and returns
// its partial solution. Unknown task types are an assignment error, not a
// transient failure.
func solveTask(task *event.TaskAssignment) (*fix.PartialSolution, error) {
	switch task.TaskType {
	case strategy.TaskDeconflict:
		return deconflict(task), nil
	case strategy.TaskHotspotMitigation:
		return hotspotMitigation(task), nil
	case strategy.TaskValidationFix:
		return validationFix(task), nil
	default:
		return nil, fmt.Errorf("no agent for task type %q", task.TaskType)
	}
}

// deconflict separates the first two conflicting flights vertically and
// temporally: climb one, slow the other.
func deconflict(task *event.TaskAssignment) *fix.PartialSolution {
	p := task.Problem
	entities := p.Entities()
	baseAltitude := p.DetailFloat("altitude_ft", defaultAltitudeFt)
	baseSpeed := p.DetailFloat("speed_kn", defaultSpeedKn)

	var actions []fix.ProposedAction
	if len(entities) >= 2 {
		targetAltitude := baseAltitude + altitudeStepFt
		if targetAltitude > altitudeCeilingFt {
			targetAltitude = altitudeCeilingFt
		}
		actions = append(actions, fix.ProposedAction{
			EntityID:   entities[0],
			ActionKind: fix.ActionKindAltitudeChange,
			Parameters: map[string]any{
				"from_altitude_ft": baseAltitude,
				"to_altitude_ft":   targetAltitude,
				"delta_ft":         targetAltitude - baseAltitude,
			},
			Reasoning: "Increase altitude to create vertical separation",
		})

		targetSpeed := baseSpeed - speedStepKn
		if targetSpeed < speedFloorKn {
			targetSpeed = speedFloorKn
		}
		actions = append(actions, fix.ProposedAction{
			EntityID:   entities[1],
			ActionKind: fix.ActionKindSpeedChange,
			Parameters: map[string]any{
				"from_speed_kn": baseSpeed,
				"to_speed_kn":   targetSpeed,
				"delta_kn":      targetSpeed - baseSpeed,
			},
			Reasoning: "Reduce speed to create temporal separation",
		})
	} else {
		actions = append(actions, fix.ProposedAction{
			EntityID:   firstOr(entities, p.SectorID),
			ActionKind: fix.ActionKindAltitudeChange,
			Parameters: map[string]any{
				"from_altitude_ft": baseAltitude,
				"to_altitude_ft":   baseAltitude + altitudeStepFt,
				"delta_ft":         altitudeStepFt,
			},
			Reasoning: "Increase altitude to create vertical separation",
		})
	}

	kind := fix.SolutionMultiAction
	if len(actions) == 1 {
		kind = fix.SolutionAltitudeChange
	}

	return &fix.PartialSolution{
		TaskID:           task.TaskID,
		ProblemID:        p.ProblemID,
		SolutionKind:     kind,
		AffectedEntities: entities,
		ProposedActions:  actions,
		EstimatedImpact: fix.EstimatedImpact{
			FuelImpactPercent:  1.5,
			AffectedPassengers: len(entities) * passengersPerFlight,
			RiskScoreDelta:     -0.3,
		},
		ConfidenceScore: deconflictConfidence,
		AgentName:       AgentDeconflict,
	}
}

// hotspotMitigation slows the first flights feeding the congested sector.
func hotspotMitigation(task *event.TaskAssignment) *fix.PartialSolution {
	p := task.Problem
	entities := p.Entities()
	baseSpeed := p.DetailFloat("speed_kn", defaultSpeedKn)

	limit := len(entities)
	if limit > hotspotMaxFlights {
		limit = hotspotMaxFlights
	}

	targetSpeed := baseSpeed - hotspotStepKn
	if targetSpeed < speedFloorKn {
		targetSpeed = speedFloorKn
	}

	actions := make([]fix.ProposedAction, 0, limit)
	for _, entity := range entities[:limit] {
		actions = append(actions, fix.ProposedAction{
			EntityID:   entity,
			ActionKind: fix.ActionKindSpeedReduction,
			Parameters: map[string]any{
				"from_speed_kn": baseSpeed,
				"to_speed_kn":   targetSpeed,
				"delta_kn":      targetSpeed - baseSpeed,
				"delay_minutes": hotspotDelayMin,
			},
			Reasoning: fmt.Sprintf("Reduce speed to lower sector %s demand", p.SectorID),
		})
	}
	if len(actions) == 0 {
		actions = append(actions, fix.ProposedAction{
			EntityID:   p.SectorID,
			ActionKind: fix.ActionKindAdvisory,
			Parameters: map[string]any{
				"advisory": "expect flow restrictions",
			},
			Reasoning: fmt.Sprintf("Advise operators of demand surge in sector %s", p.SectorID),
		})
	}

	return &fix.PartialSolution{
		TaskID:           task.TaskID,
		ProblemID:        p.ProblemID,
		SolutionKind:     fix.SolutionSpeedAdjustment,
		AffectedEntities: entities,
		ProposedActions:  actions,
		EstimatedImpact: fix.EstimatedImpact{
			TotalDelayMinutes: hotspotDelayMin * float64(limit),
			FuelImpactPercent: 1.0,
			AreaAffected:      p.SectorID,
		},
		ConfidenceScore: hotspotConfidence,
		AgentName:       AgentHotspot,
	}
}

// validationFix reroutes the violating entity clear of the constraint.
func validationFix(task *event.TaskAssignment) *fix.PartialSolution {
	p := task.Problem
	entities := p.Entities()
	target := firstOr(entities, p.SectorID)

	reasoning := "Reroute to clear constraint violation"
	if constraint := p.DetailString("constraint"); constraint != "" {
		reasoning = fmt.Sprintf("Reroute to clear violated constraint: %s", constraint)
	}

	return &fix.PartialSolution{
		TaskID:           task.TaskID,
		ProblemID:        p.ProblemID,
		SolutionKind:     fix.SolutionReroute,
		AffectedEntities: entities,
		ProposedActions: []fix.ProposedAction{
			{
				EntityID:   target,
				ActionKind: fix.ActionKindReroute,
				Parameters: map[string]any{
					"constraint": p.DetailString("constraint"),
				},
				Reasoning: reasoning,
			},
		},
		EstimatedImpact: fix.EstimatedImpact{
			AreaAffected: p.SectorID,
		},
		ConfidenceScore: validationConfidence,
		AgentName:       AgentValidation,
	}
}

func firstOr(entities []string, fallback string) string {
	if len(entities) > 0 {
		return entities[0]
	}
	return fallback
}
