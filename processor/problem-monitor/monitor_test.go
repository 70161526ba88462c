package problemmonitor

import (
	"testing"

	"github.com/c360studio/chronos/event"
	"github.com/c360studio/chronos/problem"
	"github.com/c360studio/chronos/strategy"
)

func TestSeverityAtLeast(t *testing.T) {
	tests := []struct {
		name string
		sev  problem.Severity
		min  problem.Severity
		want bool
	}{
		{"critical meets critical", problem.SeverityCritical, problem.SeverityCritical, true},
		{"critical meets warning", problem.SeverityCritical, problem.SeverityWarning, true},
		{"warning below critical", problem.SeverityWarning, problem.SeverityCritical, false},
		{"warning meets warning", problem.SeverityWarning, problem.SeverityWarning, true},
		{"info below warning", problem.SeverityInfo, problem.SeverityWarning, false},
		{"info meets info", problem.SeverityInfo, problem.SeverityInfo, true},
		{"unknown severity ranks lowest", problem.Severity("catastrophic"), problem.SeverityWarning, false},
		{"unknown severity passes info floor", problem.Severity("catastrophic"), problem.SeverityInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := severityAtLeast(tt.sev, tt.min); got != tt.want {
				t.Errorf("severityAtLeast(%q, %q) = %v, want %v", tt.sev, tt.min, got, tt.want)
			}
		})
	}
}

func TestTaskSubjectFor(t *testing.T) {
	tests := []struct {
		taskType string
		want     string
	}{
		{strategy.TaskDeconflict, event.SubjectTaskDeconflict},
		{strategy.TaskHotspotMitigation, event.SubjectTaskHotspot},
		{strategy.TaskValidationFix, event.SubjectTaskValidation},
	}

	for _, tt := range tests {
		t.Run(tt.taskType, func(t *testing.T) {
			got, err := taskSubjectFor(tt.taskType)
			if err != nil {
				t.Fatalf("taskSubjectFor(%q): %v", tt.taskType, err)
			}
			if got != tt.want {
				t.Errorf("taskSubjectFor(%q) = %q, want %q", tt.taskType, got, tt.want)
			}
		})
	}

	if _, err := taskSubjectFor("negotiation"); err == nil {
		t.Fatal("expected error for unknown task type")
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	config := DefaultConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if config.GetMergeTimeout().Seconds() != 30 {
		t.Errorf("default merge timeout = %v, want 30s", config.GetMergeTimeout())
	}
	if config.GetSweepInterval().Seconds() != 5 {
		t.Errorf("default sweep interval = %v, want 5s", config.GetSweepInterval())
	}
}

func TestConfigValidateRejectsUnknownMode(t *testing.T) {
	config := DefaultConfig()
	config.Mode = "QUANTUM"
	if err := config.Validate(); err == nil {
		t.Fatal("expected error for unknown strategy mode")
	}
}
