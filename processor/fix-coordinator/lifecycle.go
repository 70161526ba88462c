package fixcoordinator

import (
	"fmt"
	"time"

	"github.com/c360studio/chronos/event"
	"github.com/c360studio/chronos/fix"
)

// decisionResult describes how a review decision landed on a fix record.
type decisionResult struct {
	// publish lists the lifecycle events to emit, in order.
	publish []fix.Status
	// changed reports whether the record was mutated and must be persisted.
	changed bool
}

// routeProposed moves a newly proposed fix onto its lifecycle path. A fix
// that needs no human approval goes straight to deploy_requested; everything
// else waits in review_required.
func routeProposed(f *fix.Fix, now time.Time) (fix.Status, error) {
	next := fix.StatusReviewRequired
	if !f.RequiresHumanApproval {
		next = fix.StatusDeployRequested
	}
	if err := f.Transition(next, now); err != nil {
		return "", err
	}
	return next, nil
}

// applyDecision applies one review decision to a fix record in place.
// Duplicate decisions (approving an approved fix, dismissing a rejected
// one) return an unchanged result so replayed or double-clicked decisions
// cannot emit a second terminal event. Conflicting decisions return an
// error and leave the record untouched.
func applyDecision(f *fix.Fix, d *event.Decision, now time.Time) (decisionResult, error) {
	switch d.Decision {
	case event.DecisionApprove:
		if f.ApprovedBy != "" {
			return decisionResult{}, nil
		}
		if err := f.Approve(d.DecidedBy, now); err != nil {
			return decisionResult{}, err
		}
		if err := f.Transition(fix.StatusDeployRequested, now); err != nil {
			return decisionResult{}, err
		}
		return decisionResult{
			publish: []fix.Status{fix.StatusApproved, fix.StatusDeployRequested},
			changed: true,
		}, nil

	case event.DecisionDismiss:
		if f.Status == fix.StatusRejected {
			return decisionResult{}, nil
		}
		if err := f.Reject(d.Reason, now); err != nil {
			return decisionResult{}, err
		}
		return decisionResult{publish: []fix.Status{fix.StatusRejected}, changed: true}, nil

	case event.DecisionHold:
		if f.Status != fix.StatusReviewRequired {
			return decisionResult{}, fmt.Errorf(
				"fix %s: hold applies to review_required, current status is %s", f.FixID, f.Status)
		}
		note := "held for further review"
		if d.Reason != "" {
			note = "held: " + d.Reason
		}
		if d.DecidedBy != "" {
			note += " (" + d.DecidedBy + ")"
		}
		f.AppendReviewNote(note)
		return decisionResult{changed: true}, nil

	case event.DecisionRollback:
		if f.Status == fix.StatusRollbackRequested || f.Status == fix.StatusRollbackSucceeded {
			return decisionResult{}, nil
		}
		reason := d.Reason
		if reason == "" {
			reason = "operator rollback"
		}
		if err := f.RequestRollback(reason, now); err != nil {
			return decisionResult{}, err
		}
		return decisionResult{publish: []fix.Status{fix.StatusRollbackRequested}, changed: true}, nil

	default:
		return decisionResult{}, fmt.Errorf("fix %s: unknown decision %q", f.FixID, d.Decision)
	}
}

// deployPhaseStatus maps deployer report phases onto lifecycle statuses.
var deployPhaseStatus = map[string]fix.Status{
	event.DeployPhaseStarted:           fix.StatusDeployStarted,
	event.DeployPhaseSucceeded:         fix.StatusDeploySucceeded,
	event.DeployPhaseFailed:            fix.StatusDeployFailed,
	event.DeployPhaseRollbackSucceeded: fix.StatusRollbackSucceeded,
}

// applyDeployReport folds a deployer phase report into the fix record. A
// failed deploy keeps the failing actions in the review notes.
func applyDeployReport(f *fix.Fix, report *event.DeployReport, now time.Time) (fix.Status, error) {
	status, ok := deployPhaseStatus[report.Phase]
	if !ok {
		return "", fmt.Errorf("fix %s: unknown deploy phase %q", report.FixID, report.Phase)
	}
	if err := f.Transition(status, now); err != nil {
		return "", err
	}
	if status == fix.StatusDeployFailed {
		f.AppendReviewNote(report.FailureNote())
	}
	return status, nil
}

// applyVerifyReport folds the verifier's outcome into the fix record. A
// failed verification asks the deployer to undo the fix.
func applyVerifyReport(f *fix.Fix, report *event.VerifyReport, now time.Time) (fix.Status, error) {
	if report.Passed {
		if err := f.Transition(fix.StatusVerified, now); err != nil {
			return "", err
		}
		return fix.StatusVerified, nil
	}

	reason := report.Reason
	if reason == "" {
		reason = "verification failed"
	}
	if err := f.RequestRollback(reason, now); err != nil {
		return "", err
	}
	return fix.StatusRollbackRequested, nil
}
