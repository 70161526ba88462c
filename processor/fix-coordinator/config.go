package fixcoordinator

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/chronos/event"
)

// configSchema defines the configuration schema.
var configSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the fix-coordinator processor component.
type Config struct {
	// CoordinationStream is the JetStream stream carrying solutions, decisions and reports.
	CoordinationStream string `json:"coordination_stream" schema:"type:string,description:JetStream stream for coordination traffic,category:basic,default:CHRONOS_COORDINATION"`

	// SolutionSubject is the subject generated solutions arrive on.
	SolutionSubject string `json:"solution_subject" schema:"type:string,description:Subject for generated solutions,category:advanced,default:chronos.solutions.generated"`

	// DecisionSubject is the subject review decisions arrive on.
	DecisionSubject string `json:"decision_subject" schema:"type:string,description:Subject for review decisions,category:advanced,default:chronos.decisions.fix"`

	// DeployReportSubject is the subject deployer reports arrive on.
	DeployReportSubject string `json:"deploy_report_subject" schema:"type:string,description:Subject for deploy phase reports,category:advanced,default:chronos.deployments.report"`

	// VerifyReportSubject is the subject verifier outcomes arrive on.
	VerifyReportSubject string `json:"verify_report_subject" schema:"type:string,description:Subject for verification outcome reports,category:advanced,default:chronos.verifications.report"`

	// ApprovalTTL is how long a pending approval notice stays valid.
	ApprovalTTL string `json:"approval_ttl" schema:"type:string,description:Expiry window for approval-required notices,category:advanced,default:1h"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		CoordinationStream:  "CHRONOS_COORDINATION",
		SolutionSubject:     event.SubjectSolutionGenerated,
		DecisionSubject:     event.SubjectFixDecision,
		DeployReportSubject: event.SubjectDeployReport,
		VerifyReportSubject: event.SubjectVerifyReport,
		ApprovalTTL:         "1h",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "generated-solutions",
					Type:        "jetstream",
					Subject:     event.SubjectSolutionGenerated,
					StreamName:  "CHRONOS_COORDINATION",
					Description: "Receive solutions from the problem monitor",
					Required:    true,
				},
				{
					Name:        "review-decisions",
					Type:        "jetstream",
					Subject:     event.SubjectFixDecision,
					StreamName:  "CHRONOS_COORDINATION",
					Description: "Receive approve/hold/dismiss/rollback decisions",
					Required:    true,
				},
				{
					Name:        "deploy-reports",
					Type:        "jetstream",
					Subject:     event.SubjectDeployReport,
					StreamName:  "CHRONOS_COORDINATION",
					Description: "Receive deploy phase reports",
					Required:    true,
				},
				{
					Name:        "verify-reports",
					Type:        "jetstream",
					Subject:     event.SubjectVerifyReport,
					StreamName:  "CHRONOS_COORDINATION",
					Description: "Receive verification outcome reports",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "fix-lifecycle",
					Type:        "nats",
					Subject:     event.SubjectFixAll,
					Description: "Publish fix lifecycle events",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.CoordinationStream == "" {
		return fmt.Errorf("coordination_stream is required")
	}
	if c.SolutionSubject == "" {
		return fmt.Errorf("solution_subject is required")
	}
	if c.DecisionSubject == "" {
		return fmt.Errorf("decision_subject is required")
	}
	return nil
}

// GetApprovalTTL returns the approval expiry window, defaulting to one hour.
func (c *Config) GetApprovalTTL() time.Duration {
	d, err := time.ParseDuration(c.ApprovalTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}
