package deployer

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/chronos/event"
	"github.com/c360studio/chronos/fix"
)

// sandbox stands in for the real actuation backends. Applying an action
// produces a simulated effect event instead of touching an external system;
// the failure list makes chosen action types fail so the deploy_failed path
// can be exercised end to end.
type sandbox struct {
	failTypes map[fix.ActionType]bool
}

func newSandbox(failActions []string) *sandbox {
	failTypes := make(map[fix.ActionType]bool, len(failActions))
	for _, t := range failActions {
		failTypes[fix.ActionType(t)] = true
	}
	return &sandbox{failTypes: failTypes}
}

// effectSubjectFor routes an action type to its simulated backend subject.
func effectSubjectFor(t fix.ActionType) (string, error) {
	switch t {
	case fix.ActionAirspaceMitigation:
		return event.SubjectEffectAirspace, nil
	case fix.ActionTransitReroute:
		return event.SubjectEffectTransit, nil
	case fix.ActionPowerRecovery:
		return event.SubjectEffectPower, nil
	case fix.ActionTrafficAdvisory, fix.ActionRollback:
		return event.SubjectEffectSystem, nil
	default:
		return "", fmt.Errorf("unknown action type %q", t)
	}
}

// apply builds the simulated effect for one action, or the failure that
// stops it. The index is the action's position in the fix, carried into the
// deploy report so a reviewer can see which step broke.
func (s *sandbox) apply(fixID string, idx int, a fix.Action, now time.Time) (string, *event.Effect, *event.FailedAction) {
	subject, err := effectSubjectFor(a.Type)
	if err != nil {
		return "", nil, &event.FailedAction{
			ActionIndex: idx,
			ActionType:  string(a.Type),
			Error:       err.Error(),
		}
	}
	if s.failTypes[a.Type] {
		return "", nil, &event.FailedAction{
			ActionIndex: idx,
			ActionType:  string(a.Type),
			Error:       "injected failure",
		}
	}

	return subject, &event.Effect{
		FixID:          fixID,
		ActionType:     string(a.Type),
		Target:         a.Target,
		Params:         a.Params,
		SimulationMode: true,
		AppliedAt:      now.UTC(),
	}, nil
}

// inverse builds the rollback effect for one action: same backend, numeric
// deltas negated, marked as a rollback application. The failure injection
// list does not apply here; rollback always succeeds in the sandbox.
func (s *sandbox) inverse(fixID string, a fix.Action, now time.Time) (string, *event.Effect, error) {
	subject, err := effectSubjectFor(a.Type)
	if err != nil {
		return "", nil, err
	}

	return subject, &event.Effect{
		FixID:          fixID,
		ActionType:     string(a.Type),
		Target:         a.Target,
		Params:         inverseParams(a.Params),
		SimulationMode: true,
		AppliedAt:      now.UTC(),
	}, nil
}

// inverseParams negates the numeric adjustment parameters of an action so
// the simulated backend receives the opposite change. Non-adjustment
// parameters pass through unchanged and the result is marked as a rollback.
func inverseParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		if adjustmentKey(k) {
			if n, ok := negated(v); ok {
				out[k] = n
				continue
			}
		}
		out[k] = v
	}
	out["rollback"] = true
	return out
}

func adjustmentKey(k string) bool {
	return strings.Contains(k, "delta") || k == "shift_minutes" || k == "delay_minutes"
}

// negated flips the sign of a numeric parameter value. Values arrive as
// float64 after a JSON round trip but may still be native ints when a fix
// record is built in process.
func negated(v any) (any, bool) {
	switch n := v.(type) {
	case float64:
		return -n, true
	case float32:
		return -n, true
	case int:
		return -n, true
	case int64:
		return -n, true
	}
	return v, false
}
