// Package modification defines the wire types exchanged between the code
// generator, the safety gate, and the deployer. All records carry explicit
// schema identifiers so downstream consumers can reject unknown shapes.
package modification

import (
	"time"
)

const (
	ContextSchemaID  = "modgate.modification.context"
	ReportSchemaID   = "modgate.validation.report"
	BackupSchemaID   = "modgate.recovery.backup"
	RollbackSchemaID = "modgate.recovery.rollback"
	SchemaVersionV1  = "1.0.0"
)

// Severity orders rule outcomes from informational to blocking.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordering weight of a severity; unknown severities rank
// below low so a malformed rule result can never block on its own.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Blocking reports whether a failed result at this severity becomes a
// violation rather than a warning.
func (s Severity) Blocking() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Action is the gate's recommended disposition for a candidate change.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionReview  Action = "review"
	ActionModify  Action = "modify"
)

// RuleStage tags an evaluator with the pipeline phase it belongs to.
type RuleStage string

const (
	StagePreModification  RuleStage = "pre_modification"
	StagePostModification RuleStage = "post_modification"
)

// Dependency is one declared dependency of a candidate modification.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ModificationContext is the unit of work entering the gate: one candidate
// source-code change. Owned by the upstream code generator, passed by value,
// and never mutated by the gate.
type ModificationContext struct {
	SchemaID        string            `json:"schema_id"`
	SchemaVersion   string            `json:"schema_version"`
	CreatedAt       time.Time         `json:"created_at"`
	ModificationID  string            `json:"modification_id"`
	Code            string            `json:"code"`
	PreviousCode    string            `json:"previous_code,omitempty"`
	FilePath        string            `json:"file_path,omitempty"`
	Language        string            `json:"language,omitempty"`
	Dependencies    []Dependency      `json:"dependencies,omitempty"`
	Complexity      int               `json:"complexity,omitempty"`
	AffectsCore     bool              `json:"affects_core,omitempty"`
	AffectsDatabase bool              `json:"affects_database,omitempty"`
	AffectsNetwork  bool              `json:"affects_network,omitempty"`
	AffectsUI       bool              `json:"affects_ui,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// RuntimeObservation is the telemetry captured while a candidate change ran
// in the trial sandbox. Post-modification rules compare it against the
// declared baselines; it travels next to the context so the context itself
// stays immutable.
type RuntimeObservation struct {
	ExitedCleanly     bool     `json:"exited_cleanly"`
	InvocationCount   int      `json:"invocation_count"`
	ErrorCount        int      `json:"error_count"`
	RuntimeErrors     []string `json:"runtime_errors,omitempty"`
	PeakMemoryBytes   uint64   `json:"peak_memory_bytes,omitempty"`
	CPUPercent        float64  `json:"cpu_percent,omitempty"`
	LatencyMS         float64  `json:"latency_ms,omitempty"`
	BaselineLatencyMS float64  `json:"baseline_latency_ms,omitempty"`
	BehaviorDigest    string   `json:"behavior_digest,omitempty"`
	BaselineDigest    string   `json:"baseline_digest,omitempty"`
}

// ErrorRate returns observed errors as a fraction of invocations.
func (o RuntimeObservation) ErrorRate() float64 {
	if o.InvocationCount <= 0 {
		return 0
	}
	return float64(o.ErrorCount) / float64(o.InvocationCount)
}

// RuleResult is the outcome of one evaluator. Detail and Suggestions are
// optional; every other field is always populated.
type RuleResult struct {
	Passed      bool     `json:"passed"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	Detail      string   `json:"detail,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Violation is a blocking rule failure attributed to its stage and rule.
type Violation struct {
	Stage       RuleStage `json:"stage"`
	Rule        string    `json:"rule"`
	Severity    Severity  `json:"severity"`
	Reason      string    `json:"reason"`
	Detail      string    `json:"detail,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
}

// Warning is a non-blocking rule failure, recorded but not decisive alone.
type Warning struct {
	Stage    RuleStage `json:"stage"`
	Rule     string    `json:"rule"`
	Severity Severity  `json:"severity"`
	Reason   string    `json:"reason"`
	Detail   string    `json:"detail,omitempty"`
}

// StageResult is the raw outcome of one named pipeline stage.
type StageResult struct {
	Stage             string      `json:"stage"`
	Passed            bool        `json:"passed"`
	TimedOut          bool        `json:"timed_out,omitempty"`
	DurationMS        float64     `json:"duration_ms"`
	Violations        []Violation `json:"violations,omitempty"`
	Warnings          []Warning   `json:"warnings,omitempty"`
	Recommendations   []string    `json:"recommendations,omitempty"`
	RollbackTriggered bool        `json:"rollback_triggered,omitempty"`
	RollbackReason    string      `json:"rollback_reason,omitempty"`
}

// ValidationReport is the gate's sole outbound contract. Immutable once the
// orchestrator finalizes it; the deployer must treat CanProceed=false as a
// hard stop and RequiresHumanReview=true as hold-for-sign-off.
type ValidationReport struct {
	SchemaID            string        `json:"schema_id"`
	SchemaVersion       string        `json:"schema_version"`
	CreatedAt           time.Time     `json:"created_at"`
	PipelineID          string        `json:"pipeline_id"`
	ModificationID      string        `json:"modification_id"`
	ConfigDigest        string        `json:"config_digest,omitempty"`
	Stages              []StageResult `json:"stages"`
	StageCount          int           `json:"stage_count"`
	DurationMS          float64       `json:"duration_ms"`
	OverallPassed       bool          `json:"overall_passed"`
	CanProceed          bool          `json:"can_proceed"`
	RequiresHumanReview bool          `json:"requires_human_review"`
	RecommendedAction   Action        `json:"recommended_action"`
	RollbackTriggered   bool          `json:"rollback_triggered,omitempty"`
	RollbackReason      string        `json:"rollback_reason,omitempty"`
	Violations          []Violation   `json:"violations"`
	Warnings            []Warning     `json:"warnings"`
	Recommendations     []string      `json:"recommendations"`
	Summary             string        `json:"summary"`
	ReportDigest        string        `json:"report_digest,omitempty"`
}

// Backup snapshots the pre-change state of one target before a modification
// is applied.
type Backup struct {
	SchemaID       string    `json:"schema_id"`
	SchemaVersion  string    `json:"schema_version"`
	CreatedAt      time.Time `json:"created_at"`
	BackupID       string    `json:"backup_id"`
	ModificationID string    `json:"modification_id"`
	Target         string    `json:"target"`
	Code           string    `json:"code"`
	Checksum       string    `json:"checksum"`
}

// RollbackRecord is one append-only audit entry for a rollback attempt,
// written regardless of whether the restore succeeded.
type RollbackRecord struct {
	SchemaID       string    `json:"schema_id"`
	SchemaVersion  string    `json:"schema_version"`
	CreatedAt      time.Time `json:"created_at"`
	RollbackID     string    `json:"rollback_id"`
	ModificationID string    `json:"modification_id"`
	BackupID       string    `json:"backup_id,omitempty"`
	Success        bool      `json:"success"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	DurationMS     float64   `json:"duration_ms"`
}
