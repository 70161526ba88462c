package deployer

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/chronos/event"
)

// configSchema defines the configuration schema.
var configSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the deployer processor component.
type Config struct {
	// EventsStream is the JetStream stream carrying fix lifecycle events.
	EventsStream string `json:"events_stream" schema:"type:string,description:JetStream stream for fix lifecycle events,category:basic,default:CHRONOS_EVENTS"`

	// ReportSubject is the subject deploy phase reports are published on.
	ReportSubject string `json:"report_subject" schema:"type:string,description:Subject for deploy phase reports,category:advanced,default:chronos.deployments.report"`

	// FailActions lists action types the sandbox fails on purpose. Used to
	// exercise the deploy_failed path in scenarios and tests.
	FailActions []string `json:"fail_actions,omitempty" schema:"type:object,description:Action types the sandbox rejects,category:advanced"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		EventsStream:  "CHRONOS_EVENTS",
		ReportSubject: event.SubjectDeployReport,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "deploy-requests",
					Type:        "jetstream",
					Subject:     event.SubjectFixDeployRequested,
					StreamName:  "CHRONOS_EVENTS",
					Description: "Receive fixes ready to deploy",
					Required:    true,
				},
				{
					Name:        "rollback-requests",
					Type:        "jetstream",
					Subject:     event.SubjectFixRollbackRequested,
					StreamName:  "CHRONOS_EVENTS",
					Description: "Receive fixes to roll back",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "deploy-reports",
					Type:        "nats",
					Subject:     event.SubjectDeployReport,
					Description: "Report deploy phase outcomes to the coordinator",
					Required:    true,
				},
				{
					Name:        "simulated-effects",
					Type:        "nats",
					Subject:     "chronos.events.effects.>",
					Description: "Publish simulated actuation effects",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.EventsStream == "" {
		return fmt.Errorf("events_stream is required")
	}
	if c.ReportSubject == "" {
		return fmt.Errorf("report_subject is required")
	}
	return nil
}
