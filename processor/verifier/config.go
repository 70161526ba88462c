package verifier

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/chronos/event"
	"github.com/c360studio/chronos/telemetry"
)

// configSchema defines the configuration schema.
var configSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the verifier processor component.
type Config struct {
	// EventsStream is the JetStream stream carrying fix lifecycle events.
	EventsStream string `json:"events_stream" schema:"type:string,description:JetStream stream for fix lifecycle events,category:basic,default:CHRONOS_EVENTS"`

	// TelemetryStream is the JetStream stream carrying metric samples.
	TelemetryStream string `json:"telemetry_stream" schema:"type:string,description:JetStream stream for telemetry samples,category:basic,default:CHRONOS_TELEMETRY"`

	// TelemetrySubject is the subject metric samples arrive on.
	TelemetrySubject string `json:"telemetry_subject" schema:"type:string,description:Subject for telemetry samples,category:advanced,default:chronos.telemetry.samples"`

	// ReportSubject is the subject verification outcomes are published on.
	ReportSubject string `json:"report_subject" schema:"type:string,description:Subject for verification outcome reports,category:advanced,default:chronos.verifications.report"`

	// Cadence is how often each action's metric is sampled.
	Cadence string `json:"cadence" schema:"type:string,description:Metric sampling cadence,category:advanced,default:2s"`

	// Retention bounds how much telemetry history is kept per metric.
	Retention string `json:"retention" schema:"type:string,description:Telemetry window retention,category:advanced,default:10m"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Input/output port definitions,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		EventsStream:     "CHRONOS_EVENTS",
		TelemetryStream:  "CHRONOS_TELEMETRY",
		TelemetrySubject: event.SubjectTelemetrySamples,
		ReportSubject:    event.SubjectVerifyReport,
		Cadence:          "2s",
		Retention:        "10m",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "deployed-fixes",
					Type:        "jetstream",
					Subject:     event.SubjectFixDeploySucceeded,
					StreamName:  "CHRONOS_EVENTS",
					Description: "Receive deployed fixes to verify",
					Required:    true,
				},
				{
					Name:        "telemetry-samples",
					Type:        "jetstream",
					Subject:     event.SubjectTelemetrySamples,
					StreamName:  "CHRONOS_TELEMETRY",
					Description: "Receive metric samples",
					Required:    true,
				},
				{
					Name:        "rollback-signals",
					Type:        "jetstream",
					Subject:     event.SubjectFixRollbackRequested,
					StreamName:  "CHRONOS_EVENTS",
					Description: "Cancel verification runs pre-empted by rollback",
					Required:    false,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "verify-reports",
					Type:        "nats",
					Subject:     event.SubjectVerifyReport,
					Description: "Report verification outcomes to the coordinator",
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
	if c.TelemetryStream == "" {
		return fmt.Errorf("telemetry_stream is required")
	}
	if c.ReportSubject == "" {
		return fmt.Errorf("report_subject is required")
	}
	return nil
}

// GetCadence parses the configured sampling cadence, defaulting to 2s.
func (c *Config) GetCadence() time.Duration {
	d, err := time.ParseDuration(c.Cadence)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// GetRetention parses the telemetry retention window.
func (c *Config) GetRetention() time.Duration {
	d, err := time.ParseDuration(c.Retention)
	if err != nil || d <= 0 {
		return telemetry.DefaultRetention
	}
	return d
}
