package fix

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/message"
)

// VerificationStatus is the runtime state of a fix's verification.
type VerificationStatus string

const (
	VerificationNotStarted VerificationStatus = "not_started"
	VerificationInProgress VerificationStatus = "in_progress"
	VerificationVerified   VerificationStatus = "verified"
	VerificationFailed     VerificationStatus = "failed"
)

// Per-action outcomes recorded on the timeline.
const (
	ActionOutcomePassed  = "passed"
	ActionOutcomeFailed  = "failed"
	ActionOutcomeSkipped = "skipped"
)

// VerificationMetrics counts per-action outcomes for one fix.
type VerificationMetrics struct {
	TotalActions int `json:"total_actions"`
	Passed       int `json:"passed"`
	Failed       int `json:"failed"`
	Skipped      int `json:"skipped"`
}

// TimelineEntry is one dated observation in a verification run.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
}

// VerificationRecordType is the payload schema for verification records.
var VerificationRecordType = message.Type{Domain: "chronos", Category: "verification", Version: "v1"}

// VerificationRecord tracks the telemetry-based judgement of one deployed
// fix: one record per fix, updated incrementally as each action's metric is
// sampled, with a timeline suitable for audit and dashboard replay.
type VerificationRecord struct {
	FixID    string              `json:"fix_id"`
	Status   VerificationStatus  `json:"status"`
	Metrics  VerificationMetrics `json:"metrics"`
	Timeline []TimelineEntry     `json:"timeline,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewVerificationRecord creates the not-started record for a fix.
func NewVerificationRecord(fixID string, totalActions int) *VerificationRecord {
	return &VerificationRecord{
		FixID:   fixID,
		Status:  VerificationNotStarted,
		Metrics: VerificationMetrics{TotalActions: totalActions},
	}
}

// Append adds a timeline entry.
func (r *VerificationRecord) Append(at time.Time, status, msg string) {
	r.Timeline = append(r.Timeline, TimelineEntry{
		Timestamp: at.UTC(),
		Status:    status,
		Message:   msg,
	})
}

// Begin marks the record in progress and opens the timeline.
func (r *VerificationRecord) Begin(at time.Time) {
	t := at.UTC()
	r.StartedAt = &t
	r.Status = VerificationInProgress
	r.Append(at, string(VerificationInProgress), fmt.Sprintf("verification started for %d actions", r.Metrics.TotalActions))
}

// RecordAction tallies one action outcome and logs it on the timeline.
func (r *VerificationRecord) RecordAction(at time.Time, outcome, msg string) {
	switch outcome {
	case ActionOutcomePassed:
		r.Metrics.Passed++
	case ActionOutcomeFailed:
		r.Metrics.Failed++
	case ActionOutcomeSkipped:
		r.Metrics.Skipped++
	}
	r.Append(at, outcome, msg)
}

// Finish closes the record: verified only when no action failed.
func (r *VerificationRecord) Finish(at time.Time) {
	t := at.UTC()
	r.FinishedAt = &t
	if r.Metrics.Failed > 0 {
		r.Status = VerificationFailed
	} else {
		r.Status = VerificationVerified
	}
	r.Append(at, string(r.Status),
		fmt.Sprintf("%d passed, %d failed, %d skipped of %d actions",
			r.Metrics.Passed, r.Metrics.Failed, r.Metrics.Skipped, r.Metrics.TotalActions))
}

// Schema implements message.Payload.
func (r *VerificationRecord) Schema() message.Type {
	return VerificationRecordType
}

// Validate implements message.Payload.
func (r *VerificationRecord) Validate() error {
	if r.FixID == "" {
		return fmt.Errorf("fix_id is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r *VerificationRecord) MarshalJSON() ([]byte, error) {
	type Alias VerificationRecord
	return json.Marshal((*Alias)(r))
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *VerificationRecord) UnmarshalJSON(data []byte) error {
	type Alias VerificationRecord
	return json.Unmarshal(data, (*Alias)(r))
}
