// Package telemetry defines the metric sample payload and the in-memory
// window store the verifier reads from. Samples arrive over the bus from
// the scenario feed or real collectors; the store keeps a bounded recent
// window per metric.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/message"
)

// SampleType is the message type for telemetry samples.
var SampleType = message.Type{
	Domain:   "chronos",
	Category: "telemetry",
	Version:  "v1",
}

// Sample is one observed metric value. Target and FixID are optional
// attribution; verification matches on MetricName alone.
type Sample struct {
	MetricName string    `json:"metric_name"`
	Value      float64   `json:"value"`
	Target     string    `json:"target,omitempty"`
	FixID      string    `json:"fix_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Bool reads the sample as a boolean for stability-style metrics.
func (s Sample) Bool() bool { return s.Value != 0 }

// Schema implements message.Payload.
func (s *Sample) Schema() message.Type { return SampleType }

// Validate implements message.Payload.
func (s *Sample) Validate() error {
	if s.MetricName == "" {
		return fmt.Errorf("metric_name is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (s *Sample) MarshalJSON() ([]byte, error) {
	type Alias Sample
	return json.Marshal((*Alias)(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Sample) UnmarshalJSON(data []byte) error {
	type Alias Sample
	return json.Unmarshal(data, (*Alias)(s))
}
