package strategy

import (
	"context"
	"fmt"

	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/problem"
)

// Heuristic constants. Altitudes in feet, speeds in knots, delays in
// minutes.
const (
	altitudeStepFt    = 2000.0
	altitudeCeilingFt = 41000.0
	defaultAltitudeFt = 35000.0

	speedStepKn    = 15.0
	hotspotStepKn  = 20.0
	speedFloorKn   = 300.0
	defaultSpeedKn = 450.0

	departureShiftMin   = 5.0
	hotspotDelayMin     = 2.0
	hotspotMaxFlights   = 3
	passengersPerFlight = 150

	rulesConfidence   = 0.85
	hotspotConfidence = 0.80
)

// Rules is the deterministic heuristic strategy. It is pure: identical
// input yields an identical Solution, including ids, so it can serve as
// the universal fallback and as a test oracle.
type Rules struct{}

// NewRules creates the rules strategy.
func NewRules() *Rules { return &Rules{} }

// Name implements Generator.
func (r *Rules) Name() string { return "rules" }

// Generate implements Generator. It never returns an error.
func (r *Rules) Generate(_ context.Context, p *problem.Problem) (*fix.Solution, error) {
	switch p.ProblemType {
	case problem.TypeConflict:
		return r.conflict(p), nil
	case problem.TypeHotspot:
		return r.hotspot(p), nil
	default:
		// TypeViolation and anything a future detector sends.
		return r.violation(p), nil
	}
}

func (r *Rules) conflict(p *problem.Problem) *fix.Solution {
	entities := p.Entities()
	baseAltitude := p.DetailFloat("altitude_ft", defaultAltitudeFt)
	baseSpeed := p.DetailFloat("speed_kn", defaultSpeedKn)

	var actions []fix.ProposedAction
	var delay float64

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
		// Single-entity conflict report still gets a separation action.
		actions = append(actions, fix.ProposedAction{
			EntityID:   firstEntity(entities),
			ActionKind: fix.ActionKindAltitudeChange,
			Parameters: map[string]any{
				"from_altitude_ft": baseAltitude,
				"to_altitude_ft":   baseAltitude + altitudeStepFt,
				"delta_ft":         altitudeStepFt,
			},
			Reasoning: "Increase altitude to create vertical separation",
		})
	}

	if _, ok := p.Details["conflict_time"]; ok {
		actions = append(actions, fix.ProposedAction{
			EntityID:   firstEntity(entities),
			ActionKind: fix.ActionKindDepartureShift,
			Parameters: map[string]any{
				"shift_minutes": departureShiftMin,
			},
			Reasoning: "Shift departure time to avoid conflict window",
		})
		delay += departureShiftMin
	}

	return &fix.Solution{
		SolutionID:       fix.NewSolutionID("RULES", p.ProblemID),
		SolutionKind:     fix.SolutionMultiAction,
		ProblemID:        p.ProblemID,
		AffectedEntities: entities,
		ProposedActions:  actions,
		EstimatedImpact: fix.EstimatedImpact{
			TotalDelayMinutes:  delay,
			FuelImpactPercent:  1.5,
			AffectedPassengers: len(entities) * passengersPerFlight,
		},
		ConfidenceScore:  rulesConfidence,
		GeneratedBy:      []string{"rules"},
		RequiresApproval: true,
	}
}

func (r *Rules) hotspot(p *problem.Problem) *fix.Solution {
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
		// Hotspot with no named flights becomes a sector advisory.
		actions = append(actions, fix.ProposedAction{
			EntityID:   p.SectorID,
			ActionKind: fix.ActionKindAdvisory,
			Parameters: map[string]any{
				"advisory": "expect flow restrictions",
			},
			Reasoning: fmt.Sprintf("Advise operators of demand surge in sector %s", p.SectorID),
		})
	}

	return &fix.Solution{
		SolutionID:       fix.NewSolutionID("RULES", p.ProblemID),
		SolutionKind:     fix.SolutionSpeedAdjustment,
		ProblemID:        p.ProblemID,
		AffectedEntities: entities,
		ProposedActions:  actions,
		EstimatedImpact: fix.EstimatedImpact{
			TotalDelayMinutes: hotspotDelayMin * float64(limit),
			FuelImpactPercent: 1.0,
		},
		ConfidenceScore:  hotspotConfidence,
		GeneratedBy:      []string{"rules"},
		RequiresApproval: false,
	}
}

func (r *Rules) violation(p *problem.Problem) *fix.Solution {
	entities := p.Entities()
	target := firstEntity(entities)
	if target == "" {
		target = p.SectorID
	}

	reasoning := "Reroute to clear constraint violation"
	if constraint := p.DetailString("constraint"); constraint != "" {
		reasoning = fmt.Sprintf("Reroute to clear violated constraint: %s", constraint)
	}

	return &fix.Solution{
		SolutionID:       fix.NewSolutionID("RULES", p.ProblemID),
		SolutionKind:     fix.SolutionReroute,
		ProblemID:        p.ProblemID,
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
		ConfidenceScore:  rulesConfidence,
		GeneratedBy:      []string{"rules"},
		RequiresApproval: true,
	}
}

func firstEntity(entities []string) string {
	if len(entities) == 0 {
		return ""
	}
	return entities[0]
}
