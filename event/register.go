package event

import (
	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/chronos/fix"
	"github.com/c360studio/chronos/problem"
	"github.com/c360studio/chronos/telemetry"
)

func init() {
	registrations := []*component.PayloadRegistration{
		{
			Domain:      "chronos",
			Category:    "problem",
			Version:     "v1",
			Description: "Detected airspace, transit, or power problem",
			Factory:     func() any { return &problem.Problem{} },
		},
		{
			Domain:      "chronos",
			Category:    "solution",
			Version:     "v1",
			Description: "Corrective solution proposed for a problem",
			Factory:     func() any { return &fix.Solution{} },
		},
		{
			Domain:      "chronos",
			Category:    "partial_solution",
			Version:     "v1",
			Description: "Per-agent partial solution awaiting merge",
			Factory:     func() any { return &fix.PartialSolution{} },
		},
		{
			Domain:      "chronos",
			Category:    "fix",
			Version:     "v1",
			Description: "Governed fix record with lifecycle status",
			Factory:     func() any { return &fix.Fix{} },
		},
		{
			Domain:      "chronos",
			Category:    "verification",
			Version:     "v1",
			Description: "Post-deploy verification record for a fix",
			Factory:     func() any { return &fix.VerificationRecord{} },
		},
		{
			Domain:      "chronos",
			Category:    "solution_generated",
			Version:     "v1",
			Description: "Solution handoff from problem monitor to fix coordinator",
			Factory:     func() any { return &SolutionGenerated{} },
		},
		{
			Domain:      "chronos",
			Category:    "task",
			Version:     "v1",
			Description: "Sub-task assignment for a solver agent",
			Factory:     func() any { return &TaskAssignment{} },
		},
		{
			Domain:      "chronos",
			Category:    "decision",
			Version:     "v1",
			Description: "Review decision on a fix",
			Factory:     func() any { return &Decision{} },
		},
		{
			Domain:      "chronos",
			Category:    "deploy_report",
			Version:     "v1",
			Description: "Deployer phase report for a fix",
			Factory:     func() any { return &DeployReport{} },
		},
		{
			Domain:      "chronos",
			Category:    "verify_report",
			Version:     "v1",
			Description: "Verifier judgement for a deployed fix",
			Factory:     func() any { return &VerifyReport{} },
		},
		{
			Domain:      "chronos",
			Category:    "effect",
			Version:     "v1",
			Description: "Simulated actuation effect",
			Factory:     func() any { return &Effect{} },
		},
		{
			Domain:      "chronos",
			Category:    "audit_decision",
			Version:     "v1",
			Description: "Autonomy routing decision audit record",
			Factory:     func() any { return &AuditDecision{} },
		},
		{
			Domain:      "chronos",
			Category:    "approval_required",
			Version:     "v1",
			Description: "Approval request for a fix awaiting review",
			Factory:     func() any { return &ApprovalRequired{} },
		},
		{
			Domain:      "chronos",
			Category:    "telemetry",
			Version:     "v1",
			Description: "Observed metric sample",
			Factory:     func() any { return &telemetry.Sample{} },
		},
	}

	for _, reg := range registrations {
		if err := component.RegisterPayload(reg); err != nil {
			panic("failed to register " + reg.Category + " payload: " + err.Error())
		}
	}
}
