// Package problem defines the detected-problem model the coordination core
// consumes. Problems are produced by detection collaborators (or the scenario
// feed) and are immutable once detected; every downstream Solution and Fix
// carries the problem id as its correlation id.
package problem

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/message"
)

// Type classifies a detected problem.
type Type string

const (
	TypeConflict  Type = "conflict"
	TypeHotspot   Type = "hotspot"
	TypeViolation Type = "violation"
)

// Severity grades how urgent a detected problem is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// MessageType is the payload schema for problem detection events.
var MessageType = message.Type{Domain: "chronos", Category: "problem", Version: "v1"}

// Problem identifies a detected issue: a separation conflict, a congestion
// hotspot, or a constraint violation. The detection side owns the record;
// this core only reads it.
type Problem struct {
	ProblemID        string         `json:"problem_id"`
	ProblemType      Type           `json:"problem_type"`
	AffectedFlights  []string       `json:"affected_flights,omitempty"`
	AffectedEntities []string       `json:"affected_entities,omitempty"`
	Location         map[string]any `json:"location,omitempty"`
	Severity         Severity       `json:"severity"`
	SectorID         string         `json:"sector_id,omitempty"`
	Summary          string         `json:"summary,omitempty"`
	DetectedAt       time.Time      `json:"detected_at"`
	Details          map[string]any `json:"details,omitempty"`
}

// Entities returns affected flights and other entities as a single list,
// flights first, preserving order.
func (p *Problem) Entities() []string {
	out := make([]string, 0, len(p.AffectedFlights)+len(p.AffectedEntities))
	out = append(out, p.AffectedFlights...)
	out = append(out, p.AffectedEntities...)
	return out
}

// DetailFloat reads a numeric detail, accepting the float64 and int shapes
// JSON decoding produces. Returns def when the key is absent or non-numeric.
func (p *Problem) DetailFloat(key string, def float64) float64 {
	v, ok := p.Details[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}

// DetailString reads a string detail, returning "" when absent.
func (p *Problem) DetailString(key string) string {
	if s, ok := p.Details[key].(string); ok {
		return s
	}
	return ""
}

// Schema implements message.Payload.
func (p *Problem) Schema() message.Type {
	return MessageType
}

// Validate implements message.Payload.
func (p *Problem) Validate() error {
	if p.ProblemID == "" {
		return fmt.Errorf("problem_id is required")
	}
	switch p.ProblemType {
	case TypeConflict, TypeHotspot, TypeViolation:
	default:
		return fmt.Errorf("unknown problem_type: %q", p.ProblemType)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p *Problem) MarshalJSON() ([]byte, error) {
	type Alias Problem
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Problem) UnmarshalJSON(data []byte) error {
	type Alias Problem
	return json.Unmarshal(data, (*Alias)(p))
}
