// Package config loads and validates the gate's construction-time
// configuration: thresholds, workflow policy, and timeouts.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// ApprovalWorkflow selects how violations and warnings become a verdict.
type ApprovalWorkflow string

const (
	WorkflowAutomatic     ApprovalWorkflow = "automatic"
	WorkflowSemiAutomatic ApprovalWorkflow = "semi_automatic"
	WorkflowManual        ApprovalWorkflow = "manual"
)

var allowedWorkflows = map[ApprovalWorkflow]struct{}{
	WorkflowAutomatic:     {},
	WorkflowSemiAutomatic: {},
	WorkflowManual:        {},
}

// ApprovalThresholds are the hard overrides applied after workflow
// evaluation.
type ApprovalThresholds struct {
	MaxViolations     int `yaml:"max_violations"`
	MaxWarnings       int `yaml:"max_warnings"`
	MaxCriticalIssues int `yaml:"max_critical_issues"`
}

// ValidationThresholds bound static-analysis findings.
type ValidationThresholds struct {
	MaxCyclomaticComplexity int     `yaml:"max_cyclomatic_complexity"`
	MinMaintainability      float64 `yaml:"min_maintainability"`
	MaxTechnicalDebtRatio   float64 `yaml:"max_technical_debt_ratio"`
	MaxCodeSizeBytes        int     `yaml:"max_code_size_bytes"`
}

// SecurityThresholds bound vulnerability findings.
type SecurityThresholds struct {
	AllowCriticalVulnerabilities bool `yaml:"allow_critical_vulnerabilities"`
	AllowHighVulnerabilities     bool `yaml:"allow_high_vulnerabilities"`
	MaxHighVulnerabilities       int  `yaml:"max_high_vulnerabilities"`
}

// PerformanceThresholds bound observed runtime cost.
type PerformanceThresholds struct {
	MaxCPUPercent      float64 `yaml:"max_cpu_percent"`
	MaxMemoryBytes     uint64  `yaml:"max_memory_bytes"`
	MaxLatencyIncrease float64 `yaml:"max_latency_increase"`
	MaxErrorRate       float64 `yaml:"max_error_rate"`
}

// DependencyPolicy governs declared dependencies.
type DependencyPolicy struct {
	AllowDeprecated bool `yaml:"allow_deprecated"`
	AllowBreaking   bool `yaml:"allow_breaking"`
}

// RuntimeValidation toggles the sandbox trial.
type RuntimeValidation struct {
	Enabled        bool `yaml:"enabled"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
}

// Config is the gate's full configuration surface.
type Config struct {
	ApprovalWorkflow              ApprovalWorkflow      `yaml:"approval_workflow"`
	StrictMode                    bool                  `yaml:"strict_mode"`
	AutoApproveSafeChanges        bool                  `yaml:"auto_approve_safe_changes"`
	RequireHumanReviewForCritical bool                  `yaml:"require_human_review_for_critical"`
	ApprovalThresholds            ApprovalThresholds    `yaml:"approval_thresholds"`
	Validation                    ValidationThresholds  `yaml:"validation"`
	Security                      SecurityThresholds    `yaml:"security"`
	Performance                   PerformanceThresholds `yaml:"performance"`
	Dependencies                  DependencyPolicy      `yaml:"dependencies"`
	RuntimeValidation             RuntimeValidation     `yaml:"runtime_validation"`
	StageTimeoutSeconds           int                   `yaml:"stage_timeout_seconds"`
	BackupRetentionDays           int                   `yaml:"backup_retention_days"`
	BackupDirectory               string                `yaml:"backup_directory"`
	HistoryLimit                  int                   `yaml:"history_limit"`
	RollbackRecordLimit           int                   `yaml:"rollback_record_limit"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		ApprovalWorkflow:              WorkflowSemiAutomatic,
		AutoApproveSafeChanges:        false,
		RequireHumanReviewForCritical: true,
		ApprovalThresholds: ApprovalThresholds{
			MaxViolations:     0,
			MaxWarnings:       5,
			MaxCriticalIssues: 0,
		},
		Validation: ValidationThresholds{
			MaxCyclomaticComplexity: 10,
			MinMaintainability:      0.6,
			MaxTechnicalDebtRatio:   0.3,
			MaxCodeSizeBytes:        10000,
		},
		Security: SecurityThresholds{
			AllowCriticalVulnerabilities: false,
			AllowHighVulnerabilities:     false,
			MaxHighVulnerabilities:       0,
		},
		Performance: PerformanceThresholds{
			MaxCPUPercent:      90,
			MaxMemoryBytes:     256 << 20,
			MaxLatencyIncrease: 0.25,
			MaxErrorRate:       0.05,
		},
		RuntimeValidation: RuntimeValidation{
			Enabled:        true,
			TimeoutSeconds: 5,
		},
		StageTimeoutSeconds: 30,
		BackupRetentionDays: 7,
		HistoryLimit:        100,
		RollbackRecordLimit: 1000,
	}
}

// StageTimeout returns the per-stage execution budget.
func (c Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

// RuntimeTimeout returns the sandbox trial budget.
func (c Config) RuntimeTimeout() time.Duration {
	return time.Duration(c.RuntimeValidation.TimeoutSeconds) * time.Second
}

// BackupRetention returns the backup cleanup cutoff age.
func (c Config) BackupRetention() time.Duration {
	return time.Duration(c.BackupRetentionDays) * 24 * time.Hour
}

// ParseYAML decodes a configuration document over the defaults and
// validates it.
func ParseYAML(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.Strict()); err != nil {
		return Config{}, fmt.Errorf("parse config yaml: %w", err)
	}
	return normalize(cfg)
}

// LoadFile reads and parses a configuration file.
func LoadFile(path string) (Config, error) {
	// #nosec G304 -- config path is explicit local user input.
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseYAML(content)
}

func normalize(cfg Config) (Config, error) {
	cfg.ApprovalWorkflow = ApprovalWorkflow(strings.ToLower(strings.TrimSpace(string(cfg.ApprovalWorkflow))))
	if cfg.ApprovalWorkflow == "" {
		cfg.ApprovalWorkflow = WorkflowSemiAutomatic
	}
	if _, ok := allowedWorkflows[cfg.ApprovalWorkflow]; !ok {
		return Config{}, fmt.Errorf("invalid approval_workflow %q", cfg.ApprovalWorkflow)
	}
	if cfg.ApprovalThresholds.MaxViolations < 0 ||
		cfg.ApprovalThresholds.MaxWarnings < 0 ||
		cfg.ApprovalThresholds.MaxCriticalIssues < 0 {
		return Config{}, fmt.Errorf("approval_thresholds must be non-negative")
	}
	if cfg.StageTimeoutSeconds <= 0 {
		return Config{}, fmt.Errorf("stage_timeout_seconds must be positive")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("history_limit must be positive")
	}
	if cfg.Validation.MaxCyclomaticComplexity <= 0 {
		return Config{}, fmt.Errorf("validation.max_cyclomatic_complexity must be positive")
	}
	// Strict mode closes the escape hatches regardless of individual flags.
	if cfg.StrictMode {
		cfg.AutoApproveSafeChanges = false
		cfg.RequireHumanReviewForCritical = true
		cfg.Security.AllowCriticalVulnerabilities = false
		cfg.Dependencies.AllowBreaking = false
	}
	return cfg, nil
}
