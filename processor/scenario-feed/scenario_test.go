package scenariofeed

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/chronos/event"
	"github.com/c360studio/chronos/problem"
	"github.com/c360studio/chronos/telemetry"
)

const scenarioJSON = `{
  "name": "conflict-demo",
  "problems": [
    {
      "offset_seconds": 0,
      "problem": {
        "problem_id": "CONF-001",
        "problem_type": "conflict",
        "affected_flights": ["UAL123", "DAL456"],
        "severity": "critical",
        "details": {"altitude_ft": 35000}
      }
    },
    {
      "offset_seconds": 2,
      "subject": "chronos.events.problems.power.failure",
      "problem": {
        "problem_id": "PWR-7",
        "problem_type": "violation",
        "affected_entities": ["GRID-EAST"],
        "severity": "critical"
      }
    }
  ],
  "telemetry": [
    {"offset_seconds": 1, "metric_name": "sector_congestion", "value": 0.8},
    {"offset_seconds": 2, "metric_name": "delay_reduction", "value": 6.5, "fix_id": "FIX-1"}
  ]
}`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write scenario file: %v", err)
	}
	return path
}

func TestLoadScenario(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "conflict.json", scenarioJSON)

	sc, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario() error: %v", err)
	}

	if sc.Name != "conflict-demo" {
		t.Errorf("Name = %q, want %q", sc.Name, "conflict-demo")
	}
	if len(sc.Problems) != 2 {
		t.Fatalf("len(Problems) = %d, want 2", len(sc.Problems))
	}
	if len(sc.Telemetry) != 2 {
		t.Fatalf("len(Telemetry) = %d, want 2", len(sc.Telemetry))
	}

	first := sc.Problems[0]
	if first.Problem.ProblemID != "CONF-001" || first.Problem.ProblemType != problem.TypeConflict {
		t.Errorf("first problem = %q/%q, want CONF-001/conflict",
			first.Problem.ProblemID, first.Problem.ProblemType)
	}
	if got := first.Problem.DetailFloat("altitude_ft", 0); got != 35000 {
		t.Errorf("altitude_ft detail = %v, want 35000", got)
	}
	if sc.Problems[1].Subject != "chronos.events.problems.power.failure" {
		t.Errorf("second problem subject = %q, want power failure override", sc.Problems[1].Subject)
	}
	if sc.Telemetry[1].FixID != "FIX-1" {
		t.Errorf("telemetry fix_id = %q, want FIX-1", sc.Telemetry[1].FixID)
	}
}

func TestLoadScenarioNameFromFile(t *testing.T) {
	content := `{"telemetry": [{"offset_seconds": 0, "metric_name": "voltage_stable", "value": 1}]}`
	path := writeScenario(t, t.TempDir(), "power-ramp.json", content)

	sc, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario() error: %v", err)
	}
	if sc.Name != "power-ramp" {
		t.Errorf("Name = %q, want %q", sc.Name, "power-ramp")
	}
}

func TestLoadScenarioErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{
			name:    "missing file",
			path:    filepath.Join(dir, "absent.json"),
			wantErr: "read scenario",
		},
		{
			name:    "invalid json",
			path:    writeScenario(t, dir, "broken.json", `{"name": "broken",`),
			wantErr: "parse scenario",
		},
		{
			name:    "nothing to replay",
			path:    writeScenario(t, dir, "empty.json", `{"name": "empty"}`),
			wantErr: "nothing to replay",
		},
		{
			name: "invalid problem",
			path: writeScenario(t, dir, "badproblem.json",
				`{"name": "bad", "problems": [{"offset_seconds": 0, "problem": {"problem_id": "X", "problem_type": "earthquake"}}]}`),
			wantErr: "problem 0",
		},
		{
			name: "telemetry without metric",
			path: writeScenario(t, dir, "badsample.json",
				`{"name": "bad", "telemetry": [{"offset_seconds": 0, "value": 1}]}`),
			wantErr: "metric_name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(tt.path)
			if err == nil {
				t.Fatal("LoadScenario() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadScenario() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestScenarioEvents(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "conflict.json", scenarioJSON)
	sc, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario() error: %v", err)
	}

	evts := sc.events()
	if len(evts) != 4 {
		t.Fatalf("len(events) = %d, want 4", len(evts))
	}

	// Offset order, problems before telemetry at equal offsets.
	wantSubjects := []string{
		event.SubjectProblemConflict,
		event.SubjectTelemetrySamples,
		"chronos.events.problems.power.failure",
		event.SubjectTelemetrySamples,
	}
	for i, want := range wantSubjects {
		if evts[i].subject != want {
			t.Errorf("events[%d].subject = %q, want %q", i, evts[i].subject, want)
		}
	}

	if evts[0].offset != 0 || evts[1].offset != time.Second || evts[2].offset != 2*time.Second {
		t.Errorf("offsets = %v, %v, %v; want 0s, 1s, 2s",
			evts[0].offset, evts[1].offset, evts[2].offset)
	}

	p, ok := evts[2].payload.(*problem.Problem)
	if !ok || p.ProblemID != "PWR-7" {
		t.Errorf("events[2].payload = %#v, want problem PWR-7", evts[2].payload)
	}
	s, ok := evts[3].payload.(*telemetry.Sample)
	if !ok || s.MetricName != "delay_reduction" || s.Value != 6.5 {
		t.Errorf("events[3].payload = %#v, want delay_reduction sample", evts[3].payload)
	}
}

func TestSubjectForProblem(t *testing.T) {
	tests := []struct {
		name string
		tp   TimedProblem
		want string
	}{
		{
			name: "conflict",
			tp:   TimedProblem{Problem: problem.Problem{ProblemType: problem.TypeConflict}},
			want: event.SubjectProblemConflict,
		},
		{
			name: "hotspot",
			tp:   TimedProblem{Problem: problem.Problem{ProblemType: problem.TypeHotspot}},
			want: event.SubjectProblemHotspot,
		},
		{
			name: "violation",
			tp:   TimedProblem{Problem: problem.Problem{ProblemType: problem.TypeViolation}},
			want: event.SubjectProblemViolation,
		},
		{
			name: "explicit subject wins",
			tp: TimedProblem{
				Subject: event.SubjectProblemTransit,
				Problem: problem.Problem{ProblemType: problem.TypeViolation},
			},
			want: event.SubjectProblemTransit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := subjectForProblem(&tt.tp); got != tt.want {
				t.Errorf("subjectForProblem() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOffsetDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    time.Duration
	}{
		{0, 0},
		{-3, 0},
		{1.5, 1500 * time.Millisecond},
		{60, time.Minute},
	}

	for _, tt := range tests {
		if got := offsetDuration(tt.seconds); got != tt.want {
			t.Errorf("offsetDuration(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "b.json", "{}")
	writeScenario(t, dir, "a.json", "{}")
	writeScenario(t, dir, "notes.yaml", "{}")
	if err := os.MkdirAll(filepath.Join(dir, "archive"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeScenario(t, dir, filepath.Join("archive", "c.json"), "{}")

	paths, err := findScenarios(dir, []string{"*.json"})
	if err != nil {
		t.Fatalf("findScenarios() error: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("len(paths) = %d, want 2: %v", len(paths), paths)
	}
	if filepath.Base(paths[0]) != "a.json" || filepath.Base(paths[1]) != "b.json" {
		t.Errorf("paths = %v, want sorted a.json, b.json", paths)
	}

	// Recursive pattern reaches the subdirectory; overlaps are deduped.
	paths, err = findScenarios(dir, []string{"*.json", "**/*.json"})
	if err != nil {
		t.Fatalf("findScenarios() error: %v", err)
	}
	if len(paths) != 3 {
		t.Errorf("len(paths) = %d, want 3: %v", len(paths), paths)
	}
}

func TestGetSpeedFactor(t *testing.T) {
	tests := []struct {
		factor float64
		want   float64
	}{
		{0, 1},
		{-2, 1},
		{0.5, 0.5},
		{10, 10},
	}

	for _, tt := range tests {
		c := Config{SpeedFactor: tt.factor}
		if got := c.GetSpeedFactor(); got != tt.want {
			t.Errorf("GetSpeedFactor() with %v = %v, want %v", tt.factor, got, tt.want)
		}
	}
}

func TestWatcherMatches(t *testing.T) {
	w := &scenarioWatcher{dir: "/data/scenarios", patterns: []string{"*.json"}}

	tests := []struct {
		path string
		want bool
	}{
		{"/data/scenarios/demo.json", true},
		{"/data/scenarios/demo.yaml", false},
		{"/data/scenarios/archive/old.json", false},
	}

	for _, tt := range tests {
		if got := w.matches(tt.path); got != tt.want {
			t.Errorf("matches(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestScenarioWatcherRequeue(t *testing.T) {
	dir := t.TempDir()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	watcher, err := newScenarioWatcher(dir, []string{"*.json"}, logger)
	if err != nil {
		t.Fatalf("newScenarioWatcher() error: %v", err)
	}
	watcher.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer watcher.Stop()

	// Give the watcher time to set up.
	time.Sleep(100 * time.Millisecond)

	writeScenario(t, dir, "notes.txt", "ignored")
	target := writeScenario(t, dir, "demo.json", scenarioJSON)

	select {
	case path := <-watcher.Requeue():
		if path != target {
			t.Errorf("requeued path = %q, want %q", path, target)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for re-queue")
	}
}

func TestScenarioWatcherIgnoresRemove(t *testing.T) {
	dir := t.TempDir()
	target := writeScenario(t, dir, "demo.json", scenarioJSON)

	watcher, err := newScenarioWatcher(dir, []string{"*.json"}, slog.Default())
	if err != nil {
		t.Fatalf("newScenarioWatcher() error: %v", err)
	}
	watcher.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer watcher.Stop()

	time.Sleep(100 * time.Millisecond)

	if err := os.Remove(target); err != nil {
		t.Fatalf("remove: %v", err)
	}

	select {
	case path := <-watcher.Requeue():
		t.Errorf("unexpected re-queue for removed file: %q", path)
	case <-time.After(300 * time.Millisecond):
		// Removals are not replayed.
	}
}
