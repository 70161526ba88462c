package fix

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a Fix. Transitions are total-ordered per
// fix: the coordinator rejects any application that does not follow an edge
// of the graph below.
type Status string

const (
	StatusProposed          Status = "proposed"
	StatusReviewRequired    Status = "review_required"
	StatusApproved          Status = "approved"
	StatusRejected          Status = "rejected"
	StatusDeployRequested   Status = "deploy_requested"
	StatusDeployStarted     Status = "deploy_started"
	StatusDeploySucceeded   Status = "deploy_succeeded"
	StatusDeployFailed      Status = "deploy_failed"
	StatusVerified          Status = "verified"
	StatusRollbackRequested Status = "rollback_requested"
	StatusRollbackSucceeded Status = "rollback_succeeded"
)

// transitions holds the legal edges of the lifecycle graph.
//
//	proposed          -> review_required | deploy_requested (autonomous path)
//	review_required   -> approved | rejected
//	approved          -> deploy_requested
//	deploy_requested  -> deploy_started
//	deploy_started    -> deploy_succeeded | deploy_failed
//	deploy_succeeded  -> verified | rollback_requested (verification failure)
//	verified          -> rollback_requested (operator signal)
//	rollback_requested -> rollback_succeeded
var transitions = map[Status][]Status{
	StatusProposed:          {StatusReviewRequired, StatusDeployRequested},
	StatusReviewRequired:    {StatusApproved, StatusRejected},
	StatusApproved:          {StatusDeployRequested},
	StatusDeployRequested:   {StatusDeployStarted},
	StatusDeployStarted:     {StatusDeploySucceeded, StatusDeployFailed},
	StatusDeploySucceeded:   {StatusVerified, StatusRollbackRequested},
	StatusVerified:          {StatusRollbackRequested},
	StatusRollbackRequested: {StatusRollbackSucceeded},
}

func (s Status) known() bool {
	if _, ok := transitions[s]; ok {
		return true
	}
	return s == StatusRejected || s == StatusDeployFailed || s == StatusRollbackSucceeded
}

// CanTransition reports whether s -> to is a legal edge.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s. A verified fix
// is not terminal: an operator rollback signal may still arrive.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0 && s.known()
}

// InvalidTransitionError rejects a lifecycle event applied out of order. The
// fix keeps its original state.
type InvalidTransitionError struct {
	FixID string
	From  Status
	To    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("fix %s: invalid transition %s -> %s", e.FixID, e.From, e.To)
}

// Transition advances the fix to the target status, stamping the
// lifecycle-appended timestamp fields as it goes. It returns an
// *InvalidTransitionError and leaves the record untouched if the edge is
// illegal or the human-approval invariant would be violated.
func (f *Fix) Transition(to Status, at time.Time) error {
	if !f.Status.CanTransition(to) {
		return &InvalidTransitionError{FixID: f.FixID, From: f.Status, To: to}
	}

	// A fix that requires human approval may only reach deploy_requested
	// through an approved transition that recorded who approved it.
	if to == StatusDeployRequested && f.RequiresHumanApproval && f.ApprovedBy == "" {
		return &InvalidTransitionError{FixID: f.FixID, From: f.Status, To: to}
	}

	f.Status = to
	switch to {
	case StatusDeploySucceeded:
		t := at.UTC()
		f.DeployedAt = &t
	case StatusVerified:
		t := at.UTC()
		f.VerifiedAt = &t
	}
	return nil
}

// Approve applies the review_required -> approved transition, recording the
// approver. The approver must be non-empty for the later deploy gate to pass.
func (f *Fix) Approve(approvedBy string, at time.Time) error {
	if approvedBy == "" {
		return fmt.Errorf("fix %s: approval requires a non-empty approver", f.FixID)
	}
	if err := f.Transition(StatusApproved, at); err != nil {
		return err
	}
	f.ApprovedBy = approvedBy
	return nil
}

// Reject applies the review_required -> rejected transition with a reason.
func (f *Fix) Reject(reason string, at time.Time) error {
	if err := f.Transition(StatusRejected, at); err != nil {
		return err
	}
	if reason != "" {
		f.AppendReviewNote("rejected: " + reason)
	}
	return nil
}

// RequestRollback applies a transition into rollback_requested, recording why.
func (f *Fix) RequestRollback(reason string, at time.Time) error {
	if err := f.Transition(StatusRollbackRequested, at); err != nil {
		return err
	}
	f.RollbackReason = reason
	return nil
}
