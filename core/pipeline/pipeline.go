// Package pipeline sequences the gate's components into named stages and
// folds their outputs into a single ValidationReport. This is the only
// package a deployer needs to call.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/katbot/modgate/core/config"
	gateerrors "github.com/katbot/modgate/core/errors"
	"github.com/katbot/modgate/core/impact"
	"github.com/katbot/modgate/core/jcs"
	"github.com/katbot/modgate/core/permission"
	"github.com/katbot/modgate/core/recovery"
	"github.com/katbot/modgate/core/rules"
	"github.com/katbot/modgate/core/sandbox"
	schemamod "github.com/katbot/modgate/core/schema/v1/modification"
)

// Pipeline stage names. The pre-modification chain runs before a change is
// applied; the post-modification chain runs against trial telemetry.
const (
	StagePermissionGate        = "PERMISSION_GATE"
	StageStaticAnalysis        = "STATIC_ANALYSIS"
	StageSecurityScanning      = "SECURITY_SCANNING"
	StagePerformanceImpact     = "PERFORMANCE_IMPACT"
	StageDynamicAnalysis       = "DYNAMIC_ANALYSIS"
	StageBehavioralConsistency = "BEHAVIORAL_CONSISTENCY"
)

// PreModificationStages is the default pre-apply chain, in order.
var PreModificationStages = []string{StageStaticAnalysis, StageSecurityScanning, StagePerformanceImpact}

// PostModificationStages is the default post-apply chain, in order.
var PostModificationStages = []string{StageDynamicAnalysis, StageBehavioralConsistency}

// securityRuleNames are the pre-modification rules that belong to the
// SECURITY_SCANNING stage; the rest run under STATIC_ANALYSIS.
var securityRuleNames = map[string]bool{
	rules.RuleNoSystemCalls:      true,
	rules.RuleNoNetworkAccess:    true,
	rules.RuleNoFilesystemAccess: true,
	rules.RuleNoEval:             true,
	rules.RuleSecurityPatterns:   true,
	rules.RuleInputSanitization:  true,
	rules.RuleOutputEncoding:     true,
}

// dynamicRuleNames run under DYNAMIC_ANALYSIS; the remaining post rules run
// under BEHAVIORAL_CONSISTENCY.
var dynamicRuleNames = map[string]bool{
	rules.RuleRuntimeBehavior: true,
	rules.RuleResourceUsage:   true,
	rules.RuleErrorRate:       true,
}

// Pipeline is the orchestrator. Safe for concurrent use; each run is
// independent except for the shared history, permission, and backup stores.
type Pipeline struct {
	cfg          config.Config
	validator    *rules.Validator
	assessor     *impact.Assessor
	permissions  *permission.Gate
	sandboxes    *sandbox.Manager
	recovery     *recovery.Manager
	history      HistoryStore
	logger       *zap.Logger
	metrics      *Metrics
	now          func() time.Time
	configDigest string
}

// Option adjusts pipeline construction.
type Option func(*Pipeline)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func WithMetrics(metrics *Metrics) Option {
	return func(p *Pipeline) { p.metrics = metrics }
}

func WithHistory(history HistoryStore) Option {
	return func(p *Pipeline) { p.history = history }
}

func WithPermissionGate(gate *permission.Gate) Option {
	return func(p *Pipeline) { p.permissions = gate }
}

func WithRecoveryManager(manager *recovery.Manager) Option {
	return func(p *Pipeline) { p.recovery = manager }
}

func WithSandboxManager(manager *sandbox.Manager) Option {
	return func(p *Pipeline) { p.sandboxes = manager }
}

func WithValidator(validator *rules.Validator) Option {
	return func(p *Pipeline) { p.validator = validator }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New assembles a pipeline from configuration. Every collaborator has a
// working default and can be replaced via options.
func New(cfg config.Config, opts ...Option) *Pipeline {
	limits := rules.Limits{
		MaxComplexity:      cfg.Validation.MaxCyclomaticComplexity,
		MaxCodeSize:        cfg.Validation.MaxCodeSizeBytes,
		MaxMemoryBytes:     cfg.Performance.MaxMemoryBytes,
		MaxCPUPercent:      cfg.Performance.MaxCPUPercent,
		MaxErrorRate:       cfg.Performance.MaxErrorRate,
		MaxLatencyIncrease: cfg.Performance.MaxLatencyIncrease,
		AllowDeprecated:    cfg.Dependencies.AllowDeprecated,
	}
	p := &Pipeline{
		cfg: cfg,
		validator: rules.NewValidator(limits, rules.Options{
			AutoApproveSafeChanges:        cfg.AutoApproveSafeChanges,
			RequireHumanReviewForCritical: cfg.RequireHumanReviewForCritical,
		}),
		assessor:    impact.NewAssessor(),
		permissions: permission.NewGate(),
		sandboxes:   sandbox.NewManager(),
		recovery:    recovery.NewManager(),
		history:     NewMemoryHistory(cfg.HistoryLimit),
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if raw, err := json.Marshal(cfg); err == nil {
		if digest, err := jcs.DigestJCS(raw); err == nil {
			p.configDigest = digest
		}
	}
	return p
}

// Validator exposes the rule validator for dynamic rule management.
func (p *Pipeline) Validator() *rules.Validator {
	return p.validator
}

// History exposes the report history store.
func (p *Pipeline) History() HistoryStore {
	return p.history
}

// RunPreModification validates a candidate before it is applied.
func (p *Pipeline) RunPreModification(ctx context.Context, mctx schemamod.ModificationContext) (schemamod.ValidationReport, error) {
	return p.run(ctx, mctx, nil, PreModificationStages)
}

// RunPostModification validates a change after trial application. When no
// observation is supplied and runtime validation is enabled, the change is
// executed in a throwaway sandbox to produce one.
func (p *Pipeline) RunPostModification(ctx context.Context, mctx schemamod.ModificationContext, obs *schemamod.RuntimeObservation) (schemamod.ValidationReport, error) {
	if obs == nil && p.cfg.RuntimeValidation.Enabled {
		obs = p.trialRun(ctx, mctx)
	}
	return p.run(ctx, mctx, obs, PostModificationStages)
}

// RunCustom runs an arbitrary subset of stages in the given order.
func (p *Pipeline) RunCustom(ctx context.Context, mctx schemamod.ModificationContext, obs *schemamod.RuntimeObservation, stages []string) (schemamod.ValidationReport, error) {
	if len(stages) == 0 {
		return schemamod.ValidationReport{}, gateerrors.NewPipelineError(
			"pipeline", "run_custom", mctx.ModificationID, "high",
			fmt.Errorf("at least one stage is required"))
	}
	for _, name := range stages {
		if _, _, err := p.stageFunc(name); err != nil {
			return schemamod.ValidationReport{}, gateerrors.NewPipelineError(
				"pipeline", "run_custom", mctx.ModificationID, "high", err)
		}
	}
	return p.run(ctx, mctx, obs, stages)
}

type stageFunc func(in rules.Input) schemamod.StageResult

func (p *Pipeline) stageFunc(name string) (stageFunc, schemamod.RuleStage, error) {
	switch name {
	case StageStaticAnalysis:
		return p.staticAnalysisStage, schemamod.StagePreModification, nil
	case StageSecurityScanning:
		return p.securityScanningStage, schemamod.StagePreModification, nil
	case StagePerformanceImpact:
		return p.performanceImpactStage, schemamod.StagePreModification, nil
	case StageDynamicAnalysis:
		return p.dynamicAnalysisStage, schemamod.StagePostModification, nil
	case StageBehavioralConsistency:
		return p.behavioralConsistencyStage, schemamod.StagePostModification, nil
	default:
		return nil, "", fmt.Errorf("unknown stage %q", name)
	}
}

func (p *Pipeline) run(ctx context.Context, mctx schemamod.ModificationContext, obs *schemamod.RuntimeObservation, stages []string) (schemamod.ValidationReport, error) {
	if mctx.ModificationID == "" {
		return schemamod.ValidationReport{}, gateerrors.NewPipelineError(
			"pipeline", "run", "", "high", fmt.Errorf("modification id is required"))
	}

	started := p.now()
	report := schemamod.ValidationReport{
		SchemaID:       schemamod.ReportSchemaID,
		SchemaVersion:  schemamod.SchemaVersionV1,
		CreatedAt:      started.UTC(),
		PipelineID:     uuid.NewString(),
		ModificationID: mctx.ModificationID,
		ConfigDigest:   p.configDigest,
	}
	in := rules.Input{Modification: mctx, Runtime: obs}

	decision := p.permissions.Check(operationFor(mctx))
	if !decision.Allowed {
		p.logger.Warn("permission denied",
			zap.String("modification_id", mctx.ModificationID),
			zap.String("reason", decision.Reason))
		report.Stages = append(report.Stages, schemamod.StageResult{
			Stage:  StagePermissionGate,
			Passed: false,
			Violations: []schemamod.Violation{{
				Stage:    schemamod.StagePreModification,
				Rule:     "permission-gate",
				Severity: schemamod.SeverityCritical,
				Reason:   decision.Reason,
			}},
		})
	} else {
		for _, name := range stages {
			fn, ruleStage, err := p.stageFunc(name)
			if err != nil {
				return schemamod.ValidationReport{}, gateerrors.NewPipelineError(
					"pipeline", "run", mctx.ModificationID, "high", err)
			}
			result := p.executeStage(ctx, name, ruleStage, in, fn)
			report.Stages = append(report.Stages, result)
			p.logger.Debug("stage finished",
				zap.String("modification_id", mctx.ModificationID),
				zap.String("stage", name),
				zap.Bool("passed", result.Passed),
				zap.Bool("timed_out", result.TimedOut))
		}
	}

	report = p.calculateOverallResults(report)
	report.DurationMS = float64(p.now().Sub(started).Microseconds()) / 1000

	if report.RollbackTriggered {
		p.metrics.observeRollback()
		p.triggerRollback(ctx, report)
	}

	if raw, err := json.Marshal(report); err == nil {
		if digest, err := jcs.DigestJCS(raw); err == nil {
			report.ReportDigest = digest
		}
	}

	if err := p.history.Append(report); err != nil {
		return schemamod.ValidationReport{}, gateerrors.NewPipelineError(
			"pipeline", "append_history", mctx.ModificationID, "critical", err)
	}

	p.metrics.observeRun(string(report.RecommendedAction), len(report.Violations))
	p.logger.Info("validation run finished",
		zap.String("modification_id", mctx.ModificationID),
		zap.String("pipeline_id", report.PipelineID),
		zap.String("action", string(report.RecommendedAction)),
		zap.Bool("can_proceed", report.CanProceed),
		zap.Int("violations", len(report.Violations)),
		zap.Int("warnings", len(report.Warnings)))
	return report, nil
}

// executeStage races one stage against the configured per-stage timeout.
// Panics and timeouts both become failed StageResults; nothing escapes a
// stage boundary.
func (p *Pipeline) executeStage(ctx context.Context, name string, ruleStage schemamod.RuleStage, in rules.Input, fn stageFunc) schemamod.StageResult {
	started := time.Now()
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout())
	defer cancel()

	done := make(chan schemamod.StageResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- schemamod.StageResult{
					Passed: false,
					Violations: []schemamod.Violation{{
						Stage:    ruleStage,
						Rule:     "stage-execution",
						Severity: schemamod.SeverityHigh,
						Reason:   "stage execution failed",
						Detail:   fmt.Sprintf("stage %s panicked: %v", name, r),
					}},
				}
			}
		}()
		done <- fn(in)
	}()

	var result schemamod.StageResult
	select {
	case result = <-done:
	case <-stageCtx.Done():
		result = schemamod.StageResult{
			Passed:   false,
			TimedOut: true,
			Violations: []schemamod.Violation{{
				Stage:    ruleStage,
				Rule:     "stage-timeout",
				Severity: schemamod.SeverityHigh,
				Reason:   fmt.Sprintf("stage exceeded its %s budget", p.cfg.StageTimeout()),
			}},
		}
	}
	result.Stage = name
	result.DurationMS = float64(time.Since(started).Microseconds()) / 1000
	p.metrics.observeStage(name, time.Since(started).Seconds())
	return result
}

func (p *Pipeline) staticAnalysisStage(in rules.Input) schemamod.StageResult {
	report := p.validator.RunFiltered(schemamod.StagePreModification, in, func(r rules.Rule) bool {
		return !securityRuleNames[r.Name()]
	})
	return fromStageReport(report)
}

func (p *Pipeline) securityScanningStage(in rules.Input) schemamod.StageResult {
	report := p.validator.RunFiltered(schemamod.StagePreModification, in, func(r rules.Rule) bool {
		return securityRuleNames[r.Name()]
	})
	return fromStageReport(report)
}

func (p *Pipeline) performanceImpactStage(in rules.Input) schemamod.StageResult {
	assessment := p.assessor.Analyze(in.Modification)
	result := schemamod.StageResult{
		Passed:          true,
		Recommendations: assessment.Recommendations,
	}
	if assessment.Level == impact.LevelHigh || assessment.Level == impact.LevelCritical {
		result.Warnings = append(result.Warnings, schemamod.Warning{
			Stage:    schemamod.StagePreModification,
			Rule:     "impact-threshold",
			Severity: schemamod.SeverityMedium,
			Reason:   fmt.Sprintf("impact level %s (score %d)", assessment.Level, assessment.Score),
		})
	}
	return result
}

func (p *Pipeline) dynamicAnalysisStage(in rules.Input) schemamod.StageResult {
	report := p.validator.RunFiltered(schemamod.StagePostModification, in, func(r rules.Rule) bool {
		return dynamicRuleNames[r.Name()]
	})
	return fromStageReport(report)
}

func (p *Pipeline) behavioralConsistencyStage(in rules.Input) schemamod.StageResult {
	report := p.validator.RunFiltered(schemamod.StagePostModification, in, func(r rules.Rule) bool {
		return !dynamicRuleNames[r.Name()]
	})
	return fromStageReport(report)
}

func fromStageReport(report rules.StageReport) schemamod.StageResult {
	return schemamod.StageResult{
		Passed:            report.Passed,
		Violations:        report.Violations,
		Warnings:          report.Warnings,
		Recommendations:   report.Suggestions,
		RollbackTriggered: report.RollbackTriggered,
		RollbackReason:    report.RollbackReason,
	}
}

// calculateOverallResults merges stage outputs and applies the approval
// workflow, then the hard threshold overrides. The report is final after
// this returns.
func (p *Pipeline) calculateOverallResults(report schemamod.ValidationReport) schemamod.ValidationReport {
	for _, stage := range report.Stages {
		report.Violations = append(report.Violations, stage.Violations...)
		report.Warnings = append(report.Warnings, stage.Warnings...)
		report.Recommendations = append(report.Recommendations, stage.Recommendations...)
		if stage.RollbackTriggered && !report.RollbackTriggered {
			report.RollbackTriggered = true
			report.RollbackReason = stage.RollbackReason
		}
	}
	if report.Violations == nil {
		report.Violations = []schemamod.Violation{}
	}
	if report.Warnings == nil {
		report.Warnings = []schemamod.Warning{}
	}
	if report.Recommendations == nil {
		report.Recommendations = []string{}
	}
	report.StageCount = len(report.Stages)

	violations := len(report.Violations)
	criticals := 0
	highs := 0
	for _, violation := range report.Violations {
		switch violation.Severity {
		case schemamod.SeverityCritical:
			criticals++
		case schemamod.SeverityHigh:
			highs++
		}
	}
	report.OverallPassed = violations == 0

	switch p.cfg.ApprovalWorkflow {
	case config.WorkflowAutomatic:
		report.CanProceed = violations == 0
		report.RequiresHumanReview = false
		if violations == 0 {
			report.RecommendedAction = schemamod.ActionApprove
		} else {
			report.RecommendedAction = schemamod.ActionReject
		}
	case config.WorkflowManual:
		report.CanProceed = false
		report.RequiresHumanReview = true
		report.RecommendedAction = schemamod.ActionReview
	default: // semi-automatic
		report.CanProceed = criticals == 0
		report.RequiresHumanReview = criticals > 0 || highs > 0
		switch {
		case criticals > 0:
			report.RecommendedAction = schemamod.ActionReview
		case violations > 0:
			report.RecommendedAction = schemamod.ActionModify
		default:
			report.RecommendedAction = schemamod.ActionApprove
		}
	}

	// Hard overrides apply regardless of workflow.
	if violations > p.cfg.ApprovalThresholds.MaxViolations {
		report.CanProceed = false
		report.RequiresHumanReview = true
		report.RecommendedAction = schemamod.ActionReject
	}
	if criticals > p.cfg.ApprovalThresholds.MaxCriticalIssues {
		report.CanProceed = false
		report.RequiresHumanReview = true
		report.RecommendedAction = schemamod.ActionReject
	}
	if len(report.Warnings) > p.cfg.ApprovalThresholds.MaxWarnings {
		report.RequiresHumanReview = true
		if report.RecommendedAction == schemamod.ActionApprove {
			report.RecommendedAction = schemamod.ActionReview
		}
	}

	passedStages := 0
	for _, stage := range report.Stages {
		if stage.Passed {
			passedStages++
		}
	}
	report.Summary = fmt.Sprintf("%d/%d stages passed; %d violation(s), %d warning(s); action=%s",
		passedStages, report.StageCount, violations, len(report.Warnings), report.RecommendedAction)
	return report
}

// triggerRollback invokes the recovery manager with the most recent backup
// for the modification. Failures are logged, never fatal to the run: the
// report already instructs the deployer to revert.
func (p *Pipeline) triggerRollback(ctx context.Context, report schemamod.ValidationReport) {
	record, err := p.recovery.Rollback(ctx, report.ModificationID, "")
	if err != nil {
		p.logger.Error("automatic rollback failed",
			zap.String("modification_id", report.ModificationID),
			zap.String("reason", report.RollbackReason),
			zap.Error(err))
		return
	}
	p.logger.Warn("automatic rollback completed",
		zap.String("modification_id", report.ModificationID),
		zap.String("backup_id", record.BackupID),
		zap.String("reason", report.RollbackReason))
}

// trialRun executes the candidate in a throwaway sandbox and folds the
// result into a runtime observation for the post-modification rules.
func (p *Pipeline) trialRun(ctx context.Context, mctx schemamod.ModificationContext) *schemamod.RuntimeObservation {
	id := "trial-" + uuid.NewString()
	if _, err := p.sandboxes.Create(id, sandbox.Options{Timeout: p.cfg.RuntimeTimeout()}); err != nil {
		return &schemamod.RuntimeObservation{
			InvocationCount: 1,
			ErrorCount:      1,
			RuntimeErrors:   []string{fmt.Sprintf("create sandbox: %v", err)},
		}
	}
	defer func() { _ = p.sandboxes.Destroy(id) }()

	result, err := p.sandboxes.Execute(ctx, id, mctx.Code)
	if err != nil {
		return &schemamod.RuntimeObservation{
			InvocationCount: 1,
			ErrorCount:      1,
			RuntimeErrors:   []string{fmt.Sprintf("trial execution: %v", err)},
		}
	}
	obs := &schemamod.RuntimeObservation{
		ExitedCleanly:   result.Success,
		InvocationCount: 1,
		LatencyMS:       result.DurationMS,
		PeakMemoryBytes: result.PeakMemoryBytes,
	}
	if !result.Success {
		obs.ErrorCount = 1
		obs.RuntimeErrors = []string{result.Error}
	}
	return obs
}

func operationFor(mctx schemamod.ModificationContext) string {
	if mctx.AffectsCore {
		return "modify_core_system"
	}
	return "modify_non_core"
}
