package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.ApprovalWorkflow != WorkflowSemiAutomatic {
		t.Fatalf("unexpected default workflow: %s", cfg.ApprovalWorkflow)
	}
	if !cfg.RequireHumanReviewForCritical {
		t.Fatalf("critical findings must require review by default")
	}
	if cfg.HistoryLimit != 100 {
		t.Fatalf("unexpected history limit: %d", cfg.HistoryLimit)
	}
	if cfg.BackupRetention() != 7*24*time.Hour {
		t.Fatalf("unexpected retention: %s", cfg.BackupRetention())
	}
}

func TestParseYAMLOverridesAndNormalization(t *testing.T) {
	cfg, err := ParseYAML([]byte(`
approval_workflow: " Automatic "
auto_approve_safe_changes: true
approval_thresholds:
  max_violations: 3
  max_warnings: 10
stage_timeout_seconds: 60
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ApprovalWorkflow != WorkflowAutomatic {
		t.Fatalf("expected normalized workflow, got %q", cfg.ApprovalWorkflow)
	}
	if cfg.ApprovalThresholds.MaxViolations != 3 || cfg.ApprovalThresholds.MaxWarnings != 10 {
		t.Fatalf("unexpected thresholds: %#v", cfg.ApprovalThresholds)
	}
	if cfg.StageTimeout() != time.Minute {
		t.Fatalf("unexpected stage timeout: %s", cfg.StageTimeout())
	}
	// Untouched fields keep their defaults.
	if cfg.Validation.MaxCyclomaticComplexity != 10 {
		t.Fatalf("expected default complexity limit, got %d", cfg.Validation.MaxCyclomaticComplexity)
	}
}

func TestParseYAMLValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"invalid_workflow", "approval_workflow: yolo"},
		{"unknown_field", "approval_workflw: automatic"},
		{"negative_threshold", "approval_thresholds:\n  max_violations: -1"},
		{"zero_stage_timeout", "stage_timeout_seconds: 0"},
	}
	for _, tc := range tests {
		if _, err := ParseYAML([]byte(tc.yaml)); err == nil {
			t.Fatalf("%s: expected parse error", tc.name)
		}
	}
}

func TestStrictModeClosesEscapeHatches(t *testing.T) {
	cfg, err := ParseYAML([]byte(`
strict_mode: true
auto_approve_safe_changes: true
require_human_review_for_critical: false
security:
  allow_critical_vulnerabilities: true
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.AutoApproveSafeChanges {
		t.Fatalf("strict mode must disable auto-approve")
	}
	if !cfg.RequireHumanReviewForCritical {
		t.Fatalf("strict mode must force critical review")
	}
	if cfg.Security.AllowCriticalVulnerabilities {
		t.Fatalf("strict mode must not allow critical vulnerabilities")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modgate.yaml")
	if err := os.WriteFile(path, []byte("approval_workflow: manual\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ApprovalWorkflow != WorkflowManual {
		t.Fatalf("unexpected workflow: %s", cfg.ApprovalWorkflow)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
