// Package event defines the NATS subjects and bus payloads that connect the
// coordination core's components: problem detection in, fix lifecycle events
// out, and the internal coordination traffic (generated solutions, review
// decisions, deploy and verification reports) in between.
//
// Components publish message.BaseMessage envelopes on these subjects. Use
// ParseMessage[T] to unwrap either an envelope or a bare JSON object on the
// consumer side.
package event

import (
	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/problem"
)

// Problem detection subjects. The tail segments follow the detector
// contract (*.conflict.detected, *.hotspot.detected, *.validation.violation).
const (
	SubjectProblemConflict  = "chronos.events.problems.airspace.conflict.detected"
	SubjectProblemHotspot   = "chronos.events.problems.airspace.hotspot.detected"
	SubjectProblemViolation = "chronos.events.problems.airspace.validation.violation"
	SubjectProblemTransit   = "chronos.events.problems.transit.disruption.risk"
	SubjectProblemPower     = "chronos.events.problems.power.failure"
	SubjectProblemsAll      = "chronos.events.problems.>"
)

// Fix lifecycle subjects, one per status. FixSubject maps a status to its
// subject; every payload is the full fix record.
const (
	subjectFixPrefix = "chronos.events.fix."

	SubjectFixProposed          = subjectFixPrefix + "proposed"
	SubjectFixReviewRequired    = subjectFixPrefix + "review_required"
	SubjectFixApproved          = subjectFixPrefix + "approved"
	SubjectFixRejected          = subjectFixPrefix + "rejected"
	SubjectFixDeployRequested   = subjectFixPrefix + "deploy_requested"
	SubjectFixDeployStarted     = subjectFixPrefix + "deploy_started"
	SubjectFixDeploySucceeded   = subjectFixPrefix + "deploy_succeeded"
	SubjectFixDeployFailed      = subjectFixPrefix + "deploy_failed"
	SubjectFixVerified          = subjectFixPrefix + "verified"
	SubjectFixRollbackRequested = subjectFixPrefix + "rollback_requested"
	SubjectFixRollbackSucceeded = subjectFixPrefix + "rollback_succeeded"
	SubjectFixAll               = subjectFixPrefix + ">"
)

// Governance subjects.
const (
	SubjectAuditDecision    = "chronos.events.audit.decision"
	SubjectApprovalRequired = "chronos.events.approval.required"
)

// Simulated effect subjects, published by the deployer.
const (
	SubjectEffectAirspace = "chronos.events.effects.airspace.mitigation"
	SubjectEffectTransit  = "chronos.events.effects.transit.mitigation"
	SubjectEffectPower    = "chronos.events.effects.power.recovery"
	SubjectEffectSystem   = "chronos.events.effects.system.action"
)

// Agentic task subjects.
const (
	SubjectTaskDeconflict = "chronos.tasks.airspace.deconflict"
	SubjectTaskHotspot    = "chronos.tasks.airspace.hotspot_mitigation"
	SubjectTaskValidation = "chronos.tasks.airspace.validation_fix"
	SubjectPartialResult  = "chronos.tasks.airspace.partial_solution"
	SubjectTasksAll       = "chronos.tasks.>"
)

// Internal coordination subjects.
const (
	SubjectSolutionGenerated = "chronos.solutions.generated"
	SubjectFixDecision       = "chronos.decisions.fix"
	SubjectDeployReport      = "chronos.deployments.report"
	SubjectVerifyReport      = "chronos.verifications.report"
	SubjectTelemetrySamples  = "chronos.telemetry.samples"
)

// FixSubject returns the lifecycle subject for a fix status.
func FixSubject(status fix.Status) string {
	return subjectFixPrefix + string(status)
}

// Typed subject definitions for external consumers (dashboards, detectors).
// These provide compile-time type safety for NATS publish/subscribe.
var (
	ProblemDetectedConflict = natsclient.NewSubject[problem.Problem](SubjectProblemConflict)
	ProblemDetectedHotspot  = natsclient.NewSubject[problem.Problem](SubjectProblemHotspot)

	FixProposed          = natsclient.NewSubject[fix.Fix](SubjectFixProposed)
	FixReviewRequired    = natsclient.NewSubject[fix.Fix](SubjectFixReviewRequired)
	FixApproved          = natsclient.NewSubject[fix.Fix](SubjectFixApproved)
	FixRejected          = natsclient.NewSubject[fix.Fix](SubjectFixRejected)
	FixDeployRequested   = natsclient.NewSubject[fix.Fix](SubjectFixDeployRequested)
	FixDeployStarted     = natsclient.NewSubject[fix.Fix](SubjectFixDeployStarted)
	FixDeploySucceeded   = natsclient.NewSubject[fix.Fix](SubjectFixDeploySucceeded)
	FixDeployFailed      = natsclient.NewSubject[fix.Fix](SubjectFixDeployFailed)
	FixVerified          = natsclient.NewSubject[fix.Fix](SubjectFixVerified)
	FixRollbackRequested = natsclient.NewSubject[fix.Fix](SubjectFixRollbackRequested)
	FixRollbackSucceeded = natsclient.NewSubject[fix.Fix](SubjectFixRollbackSucceeded)

	AuditDecisionPublished = natsclient.NewSubject[AuditDecision](SubjectAuditDecision)
	ApprovalRequested      = natsclient.NewSubject[ApprovalRequired](SubjectApprovalRequired)
)
