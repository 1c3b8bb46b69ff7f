package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/katbot/modgate/core/config"
	gateerrors "github.com/katbot/modgate/core/errors"
	"github.com/katbot/modgate/core/recovery"
	"github.com/katbot/modgate/core/rules"
	schemamod "github.com/katbot/modgate/core/schema/v1/modification"
)

func cleanContext(id string) schemamod.ModificationContext {
	return schemamod.ModificationContext{
		SchemaID:       schemamod.ContextSchemaID,
		SchemaVersion:  schemamod.SchemaVersionV1,
		ModificationID: id,
		Code:           "func add(a, b int) int { return a + b }",
		FilePath:       "internal/mathops/add.go",
		Language:       "go",
	}
}

func TestRunPreModificationCleanCodeSemiAutomatic(t *testing.T) {
	p := New(config.Default())

	report, err := p.RunPreModification(context.Background(), cleanContext("mod-clean"))
	if err != nil {
		t.Fatalf("RunPreModification: %v", err)
	}
	if !report.OverallPassed {
		t.Fatalf("expected overall pass, got violations %+v", report.Violations)
	}
	if !report.CanProceed {
		t.Fatal("clean change should be able to proceed")
	}
	if report.RecommendedAction != schemamod.ActionApprove {
		t.Fatalf("action = %s, want approve", report.RecommendedAction)
	}
	if report.StageCount != len(PreModificationStages) {
		t.Fatalf("stage count = %d, want %d", report.StageCount, len(PreModificationStages))
	}
	if report.PipelineID == "" || report.ReportDigest == "" {
		t.Fatal("pipeline id and report digest must be populated")
	}
	for i, stage := range report.Stages {
		if stage.Stage != PreModificationStages[i] {
			t.Fatalf("stage[%d] = %s, want %s", i, stage.Stage, PreModificationStages[i])
		}
	}
}

func TestRunPreModificationAutomaticWorkflow(t *testing.T) {
	cfg := config.Default()
	cfg.ApprovalWorkflow = config.WorkflowAutomatic
	p := New(cfg)

	report, err := p.RunPreModification(context.Background(), cleanContext("mod-auto"))
	if err != nil {
		t.Fatalf("RunPreModification: %v", err)
	}
	if !report.CanProceed || report.RequiresHumanReview {
		t.Fatalf("automatic workflow with zero violations should proceed unattended, got %+v", report)
	}
	if report.RecommendedAction != schemamod.ActionApprove {
		t.Fatalf("action = %s, want approve", report.RecommendedAction)
	}
}

func TestRunPreModificationManualWorkflowAlwaysReviews(t *testing.T) {
	cfg := config.Default()
	cfg.ApprovalWorkflow = config.WorkflowManual
	p := New(cfg)

	report, err := p.RunPreModification(context.Background(), cleanContext("mod-manual"))
	if err != nil {
		t.Fatalf("RunPreModification: %v", err)
	}
	if report.CanProceed {
		t.Fatal("manual workflow must never proceed automatically")
	}
	if !report.RequiresHumanReview {
		t.Fatal("manual workflow must require human review")
	}
	if report.RecommendedAction != schemamod.ActionReview {
		t.Fatalf("action = %s, want review", report.RecommendedAction)
	}
	if !report.OverallPassed {
		t.Fatal("clean code should still pass all rules under manual workflow")
	}
}

func TestMaxViolationsOverrideForcesReject(t *testing.T) {
	cfg := config.Default()
	cfg.ApprovalThresholds.MaxViolations = 1
	cfg.ApprovalThresholds.MaxCriticalIssues = 10
	p := New(cfg)

	mctx := cleanContext("mod-two-violations")
	// Trips no-network-access and no-filesystem-access, both high severity.
	mctx.Code = "data := http.get(url)\nfs.readfile(path)"

	report, err := p.RunPreModification(context.Background(), mctx)
	if err != nil {
		t.Fatalf("RunPreModification: %v", err)
	}
	if len(report.Violations) != 2 {
		t.Fatalf("violations = %d, want 2: %+v", len(report.Violations), report.Violations)
	}
	if report.CanProceed {
		t.Fatal("exceeding max_violations must block the change")
	}
	if report.RecommendedAction != schemamod.ActionReject {
		t.Fatalf("action = %s, want reject", report.RecommendedAction)
	}
	if !report.RequiresHumanReview {
		t.Fatal("threshold override must require human review")
	}
}

func TestSemiAutomaticHighViolationRecommendsModify(t *testing.T) {
	cfg := config.Default()
	cfg.ApprovalThresholds.MaxViolations = 5
	p := New(cfg)

	mctx := cleanContext("mod-high-only")
	mctx.Code = "resp := http.get(endpoint)"

	report, err := p.RunPreModification(context.Background(), mctx)
	if err != nil {
		t.Fatalf("RunPreModification: %v", err)
	}
	if len(report.Violations) != 1 {
		t.Fatalf("violations = %d, want 1: %+v", len(report.Violations), report.Violations)
	}
	if !report.CanProceed {
		t.Fatal("semi-automatic workflow blocks only on critical violations")
	}
	if report.RecommendedAction != schemamod.ActionModify {
		t.Fatalf("action = %s, want modify", report.RecommendedAction)
	}
	if !report.RequiresHumanReview {
		t.Fatal("high violation should flag the change for review")
	}
}

func TestCriticalViolationRecommendsReview(t *testing.T) {
	cfg := config.Default()
	cfg.ApprovalThresholds.MaxViolations = 5
	cfg.ApprovalThresholds.MaxCriticalIssues = 5
	p := New(cfg)

	mctx := cleanContext("mod-critical")
	mctx.Code = "result := eval(userExpression)"

	report, err := p.RunPreModification(context.Background(), mctx)
	if err != nil {
		t.Fatalf("RunPreModification: %v", err)
	}
	if report.CanProceed {
		t.Fatal("critical violation must block under semi-automatic workflow")
	}
	if report.RecommendedAction != schemamod.ActionReview {
		t.Fatalf("action = %s, want review", report.RecommendedAction)
	}
}

func TestPermissionDeniedShortCircuitsStages(t *testing.T) {
	p := New(config.Default())

	mctx := cleanContext("mod-core-change")
	mctx.AffectsCore = true

	report, err := p.RunPreModification(context.Background(), mctx)
	if err != nil {
		t.Fatalf("RunPreModification: %v", err)
	}
	if len(report.Stages) != 1 || report.Stages[0].Stage != StagePermissionGate {
		t.Fatalf("expected a lone permission stage, got %+v", report.Stages)
	}
	if report.CanProceed {
		t.Fatal("denied permission must block the change")
	}
	if report.RecommendedAction != schemamod.ActionReject {
		t.Fatalf("action = %s, want reject", report.RecommendedAction)
	}
	if len(report.Violations) != 1 || report.Violations[0].Severity != schemamod.SeverityCritical {
		t.Fatalf("expected one critical violation, got %+v", report.Violations)
	}
	if report.Violations[0].Rule != "permission-gate" {
		t.Fatalf("violation rule = %s, want permission-gate", report.Violations[0].Rule)
	}
}

func TestStageTimeoutFailsStageAndContinues(t *testing.T) {
	cfg := config.Default()
	cfg.StageTimeoutSeconds = 1
	p := New(cfg)

	stuck := rules.New("stuck-analyzer", schemamod.StagePreModification, schemamod.SeverityLow,
		func(rules.Input) schemamod.RuleResult {
			time.Sleep(5 * time.Second)
			return schemamod.RuleResult{Passed: true, Message: "never reached in time"}
		})
	if err := p.Validator().Registry().Add(stuck); err != nil {
		t.Fatalf("Add: %v", err)
	}

	report, err := p.RunPreModification(context.Background(), cleanContext("mod-slow"))
	if err != nil {
		t.Fatalf("RunPreModification: %v", err)
	}
	if len(report.Stages) != len(PreModificationStages) {
		t.Fatalf("pipeline must continue past a timed-out stage, got %d stages", len(report.Stages))
	}
	first := report.Stages[0]
	if first.Stage != StageStaticAnalysis || !first.TimedOut || first.Passed {
		t.Fatalf("expected STATIC_ANALYSIS to time out, got %+v", first)
	}
	found := false
	for _, violation := range report.Violations {
		if violation.Rule == "stage-timeout" && violation.Severity == schemamod.SeverityHigh {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a stage-timeout violation, got %+v", report.Violations)
	}
	if report.CanProceed {
		t.Fatal("timed-out stage must not leave the change approvable")
	}
}

func TestPostModificationRollbackOnCriticalFailure(t *testing.T) {
	restored := 0
	manager := recovery.NewManager(
		recovery.WithRestorer(recovery.RestorerFunc(func(context.Context, schemamod.Backup) error {
			restored++
			return nil
		})),
	)
	if _, err := manager.CreateBackup("mod-regressed", "handlers/respond.go", "previous body"); err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}

	p := New(config.Default(), WithRecoveryManager(manager))
	obs := &schemamod.RuntimeObservation{
		ExitedCleanly:   true,
		InvocationCount: 100,
		ErrorCount:      40,
	}

	report, err := p.RunPostModification(context.Background(), cleanContext("mod-regressed"), obs)
	if err != nil {
		t.Fatalf("RunPostModification: %v", err)
	}
	if !report.RollbackTriggered {
		t.Fatalf("critical error-rate failure must trigger rollback, got %+v", report.Violations)
	}
	if !strings.Contains(report.RollbackReason, rules.RuleErrorRate) {
		t.Fatalf("rollback reason = %q, want mention of %s", report.RollbackReason, rules.RuleErrorRate)
	}
	if restored != 1 {
		t.Fatalf("restorer invoked %d times, want 1", restored)
	}
	records := manager.Records()
	if len(records) != 1 || !records[0].Success {
		t.Fatalf("expected one successful rollback record, got %+v", records)
	}
}

func TestPostModificationHighFailureDoesNotRollBack(t *testing.T) {
	p := New(config.Default())
	obs := &schemamod.RuntimeObservation{
		ExitedCleanly:   true,
		InvocationCount: 10,
		PeakMemoryBytes: 1 << 40,
	}

	report, err := p.RunPostModification(context.Background(), cleanContext("mod-hungry"), obs)
	if err != nil {
		t.Fatalf("RunPostModification: %v", err)
	}
	if report.RollbackTriggered {
		t.Fatal("high-severity resource failure alone must not trigger rollback")
	}
	if len(report.Violations) == 0 {
		t.Fatal("memory budget violation should be reported")
	}
}

func TestPostModificationSandboxTrialSynthesizesObservation(t *testing.T) {
	cfg := config.Default()
	cfg.RuntimeValidation.Enabled = true
	p := New(cfg)

	report, err := p.RunPostModification(context.Background(), cleanContext("mod-trial"), nil)
	if err != nil {
		t.Fatalf("RunPostModification: %v", err)
	}
	for _, violation := range report.Violations {
		if violation.Rule == rules.RuleRuntimeBehavior {
			t.Fatalf("sandbox trial should satisfy the runtime-behavior rule, got %+v", violation)
		}
	}
	if report.RollbackTriggered {
		t.Fatal("clean trial must not trigger rollback")
	}
}

func TestPostModificationMissingObservationFailsRuntimeRule(t *testing.T) {
	cfg := config.Default()
	cfg.RuntimeValidation.Enabled = false
	p := New(cfg)

	report, err := p.RunPostModification(context.Background(), cleanContext("mod-untried"), nil)
	if err != nil {
		t.Fatalf("RunPostModification: %v", err)
	}
	found := false
	for _, violation := range report.Violations {
		if violation.Rule == rules.RuleRuntimeBehavior && violation.Severity == schemamod.SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing observation must fail runtime-behavior, got %+v", report.Violations)
	}
}

func TestRunCustomRejectsUnknownStage(t *testing.T) {
	p := New(config.Default())

	_, err := p.RunCustom(context.Background(), cleanContext("mod-custom"), nil, []string{"LINT_EVERYTHING"})
	if err == nil {
		t.Fatal("expected an error for an unknown stage name")
	}
	var perr *gateerrors.PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *PipelineError", err)
	}
	if perr.Component != "pipeline" {
		t.Fatalf("component = %s, want pipeline", perr.Component)
	}
}

func TestRunCustomSubsetOfStages(t *testing.T) {
	p := New(config.Default())

	report, err := p.RunCustom(context.Background(), cleanContext("mod-subset"), nil,
		[]string{StageSecurityScanning})
	if err != nil {
		t.Fatalf("RunCustom: %v", err)
	}
	if report.StageCount != 1 || report.Stages[0].Stage != StageSecurityScanning {
		t.Fatalf("expected a single SECURITY_SCANNING stage, got %+v", report.Stages)
	}
}

func TestRunRejectsEmptyModificationID(t *testing.T) {
	p := New(config.Default())

	_, err := p.RunPreModification(context.Background(), schemamod.ModificationContext{Code: "x := 1"})
	if err == nil {
		t.Fatal("expected an error for a missing modification id")
	}
	var perr *gateerrors.PipelineError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *PipelineError", err)
	}
}

func TestHistoryRecordsRunsInOrder(t *testing.T) {
	cfg := config.Default()
	cfg.HistoryLimit = 5
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	p := New(cfg, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}))

	const runs = 8
	var started []time.Time
	for i := 0; i < runs; i++ {
		report, err := p.RunPreModification(context.Background(), cleanContext("mod-history"))
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		started = append(started, report.CreatedAt)
	}

	kept, err := p.History().ListByModification("mod-history")
	if err != nil {
		t.Fatalf("ListByModification: %v", err)
	}
	if len(kept) != cfg.HistoryLimit {
		t.Fatalf("history kept %d reports, want %d", len(kept), cfg.HistoryLimit)
	}
	for i, report := range kept {
		want := started[runs-cfg.HistoryLimit+i]
		if !report.CreatedAt.Equal(want) {
			t.Fatalf("kept[%d].CreatedAt = %s, want %s", i, report.CreatedAt, want)
		}
	}
}

func TestImpactStageAddsWarningForHighImpact(t *testing.T) {
	cfg := config.Default()
	cfg.Validation.MaxCodeSizeBytes = 100000
	cfg.ApprovalThresholds.MaxWarnings = 50
	p := New(cfg)

	mctx := cleanContext("mod-sweeping")
	mctx.Code = strings.Repeat("x := compute(y)\n", 400)
	mctx.AffectsDatabase = true
	mctx.AffectsNetwork = true

	report, err := p.RunPreModification(context.Background(), mctx)
	if err != nil {
		t.Fatalf("RunPreModification: %v", err)
	}
	found := false
	for _, warning := range report.Warnings {
		if warning.Rule == "impact-threshold" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an impact-threshold warning, got %+v", report.Warnings)
	}
	if len(report.Recommendations) == 0 {
		t.Fatal("impact stage should surface recommendations")
	}
}
