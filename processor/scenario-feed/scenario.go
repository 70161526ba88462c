package scenariofeed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/chronos/event"
	"github.com/c360studio/chronos/problem"
	"github.com/c360studio/chronos/telemetry"
)

// TimedProblem is a problem event plus its replay offset. Subject overrides
// the type-derived subject, letting a scenario target any detector subject.
type TimedProblem struct {
	OffsetSeconds float64         `json:"offset_seconds"`
	Subject       string          `json:"subject,omitempty"`
	Problem       problem.Problem `json:"problem"`
}

// TimedSample is one telemetry ramp point plus its replay offset.
type TimedSample struct {
	OffsetSeconds float64 `json:"offset_seconds"`
	MetricName    string  `json:"metric_name"`
	Value         float64 `json:"value"`
	Target        string  `json:"target,omitempty"`
	FixID         string  `json:"fix_id,omitempty"`
}

// Scenario is one replayable script of problem events and telemetry ramps.
type Scenario struct {
	Name      string         `json:"name"`
	Problems  []TimedProblem `json:"problems,omitempty"`
	Telemetry []TimedSample  `json:"telemetry,omitempty"`
}

// Validate checks every scripted entry before replay begins.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Problems) == 0 && len(s.Telemetry) == 0 {
		return fmt.Errorf("scenario %q has nothing to replay", s.Name)
	}
	for i := range s.Problems {
		if err := s.Problems[i].Problem.Validate(); err != nil {
			return fmt.Errorf("problem %d: %w", i, err)
		}
	}
	for i, ts := range s.Telemetry {
		if ts.MetricName == "" {
			return fmt.Errorf("telemetry %d: metric_name is required", i)
		}
	}
	return nil
}

// LoadScenario reads and validates one scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", filepath.Base(path), err)
	}
	if sc.Name == "" {
		sc.Name = scenarioName(path)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", filepath.Base(path), err)
	}
	return &sc, nil
}

// scenarioName derives a display name from the file name.
func scenarioName(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// findScenarios expands the glob patterns under dir into a sorted, deduped
// list of scenario files.
func findScenarios(dir string, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string

	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			if !seen[m] {
				seen[m] = true
				paths = append(paths, m)
			}
		}
	}

	sort.Strings(paths)
	return paths, nil
}

// replayEvent is one scheduled publication.
type replayEvent struct {
	offset  time.Duration
	subject string
	payload message.Payload
}

// events flattens a scenario into offset order. Problems sort before
// telemetry at equal offsets so a fix pipeline sees the problem first.
func (s *Scenario) events() []replayEvent {
	evts := make([]replayEvent, 0, len(s.Problems)+len(s.Telemetry))

	for i := range s.Problems {
		tp := &s.Problems[i]
		evts = append(evts, replayEvent{
			offset:  offsetDuration(tp.OffsetSeconds),
			subject: subjectForProblem(tp),
			payload: &tp.Problem,
		})
	}
	for _, ts := range s.Telemetry {
		evts = append(evts, replayEvent{
			offset:  offsetDuration(ts.OffsetSeconds),
			subject: event.SubjectTelemetrySamples,
			payload: &telemetry.Sample{
				MetricName: ts.MetricName,
				Value:      ts.Value,
				Target:     ts.Target,
				FixID:      ts.FixID,
			},
		})
	}

	sort.SliceStable(evts, func(i, j int) bool {
		return evts[i].offset < evts[j].offset
	})
	return evts
}

func offsetDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// subjectForProblem routes a scripted problem to its detection subject.
func subjectForProblem(tp *TimedProblem) string {
	if tp.Subject != "" {
		return tp.Subject
	}
	switch tp.Problem.ProblemType {
	case problem.TypeHotspot:
		return event.SubjectProblemHotspot
	case problem.TypeViolation:
		return event.SubjectProblemViolation
	default:
		return event.SubjectProblemConflict
	}
}
