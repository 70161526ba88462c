package reviewapi

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/chronos/event"
)

// configSchema defines the configuration schema.
var configSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the review-api processor component.
type Config struct {
	// DecisionSubject is the subject review decisions are published on.
	DecisionSubject string `json:"decision_subject" schema:"type:string,description:Subject for publishing review decisions,category:basic,default:chronos.decisions.fix"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		DecisionSubject: event.SubjectFixDecision,
		Ports: &component.PortConfig{
			Outputs: []component.PortDefinition{
				{
					Name:        "review-decisions",
					Type:        "nats",
					Subject:     event.SubjectFixDecision,
					Description: "Publish operator decisions for the coordinator",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DecisionSubject == "" {
		return fmt.Errorf("decision_subject is required")
	}
	return nil
}
