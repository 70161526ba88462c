package solver

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/chronos/event"
)

// configSchema defines the configuration schema.
var configSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the solver processor component.
type Config struct {
	// StreamName is the JetStream stream carrying task assignments and partial solutions.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream for agentic tasks,category:basic,default:CHRONOS_TASKS"`

	// DeconflictSubject is the subject for deconflict task assignments.
	DeconflictSubject string `json:"deconflict_subject" schema:"type:string,description:Subject for deconflict tasks,category:advanced,default:chronos.tasks.airspace.deconflict"`

	// HotspotSubject is the subject for hotspot mitigation task assignments.
	HotspotSubject string `json:"hotspot_subject" schema:"type:string,description:Subject for hotspot mitigation tasks,category:advanced,default:chronos.tasks.airspace.hotspot_mitigation"`

	// ValidationSubject is the subject for validation fix task assignments.
	ValidationSubject string `json:"validation_subject" schema:"type:string,description:Subject for validation fix tasks,category:advanced,default:chronos.tasks.airspace.validation_fix"`

	// PartialSubject is the subject partial solutions are published on.
	PartialSubject string `json:"partial_subject" schema:"type:string,description:Subject for publishing partial solutions,category:advanced,default:chronos.tasks.airspace.partial_solution"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:        "CHRONOS_TASKS",
		DeconflictSubject: event.SubjectTaskDeconflict,
		HotspotSubject:    event.SubjectTaskHotspot,
		ValidationSubject: event.SubjectTaskValidation,
		PartialSubject:    event.SubjectPartialResult,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "task-assignments",
					Type:        "jetstream",
					Subject:     event.SubjectTasksAll,
					StreamName:  "CHRONOS_TASKS",
					Description: "Receive typed sub-task assignments",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "partial-solutions",
					Type:        "nats",
					Subject:     event.SubjectPartialResult,
					Description: "Publish agent partial solutions",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.PartialSubject == "" {
		return fmt.Errorf("partial_subject is required")
	}
	return nil
}
