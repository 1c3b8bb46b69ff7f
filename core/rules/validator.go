package rules

import (
	"fmt"

	schemamod "github.com/katbot/modgate/core/schema/v1/modification"
)

// StageReport is the aggregate outcome of running one stage's rule set.
// Violation and warning lists are built fresh per run and never mutated
// afterwards.
type StageReport struct {
	Stage             schemamod.RuleStage     `json:"stage"`
	Passed            bool                    `json:"passed"`
	Evaluated         int                     `json:"evaluated"`
	Violations        []schemamod.Violation   `json:"violations,omitempty"`
	Warnings          []schemamod.Warning     `json:"warnings,omitempty"`
	Suggestions       []string                `json:"suggestions,omitempty"`
	RollbackTriggered bool                    `json:"rollback_triggered,omitempty"`
	RollbackReason    string                  `json:"rollback_reason,omitempty"`
}

// Outcome is the verdict of the single-stage convenience entry point.
type Outcome struct {
	Passed              bool             `json:"passed"`
	CanProceed          bool             `json:"can_proceed"`
	RequiresHumanReview bool             `json:"requires_human_review"`
	RecommendedAction   schemamod.Action `json:"recommended_action"`
	Message             string           `json:"message"`
	Report              StageReport      `json:"report"`
}

// Options carry the validator's policy knobs.
type Options struct {
	AutoApproveSafeChanges        bool
	RequireHumanReviewForCritical bool
}

// Validator runs a registry's rules and folds their results into violations
// and warnings.
type Validator struct {
	registry *Registry
	options  Options
}

// NewValidator builds a validator over a registry seeded with the builtin
// rule sets.
func NewValidator(limits Limits, options Options) *Validator {
	registry := NewRegistry()
	for _, rule := range BuiltinPreRules(limits) {
		_ = registry.Add(rule)
	}
	for _, rule := range BuiltinPostRules(limits) {
		_ = registry.Add(rule)
	}
	return &Validator{registry: registry, options: options}
}

// NewValidatorWithRegistry wraps an externally assembled registry.
func NewValidatorWithRegistry(registry *Registry, options Options) *Validator {
	return &Validator{registry: registry, options: options}
}

// Registry exposes the underlying registry for dynamic add/remove.
func (v *Validator) Registry() *Registry {
	return v.registry
}

// evaluateRule runs one rule, converting a panic into a failed high-severity
// result so a broken evaluator surfaces as a violation instead of being
// silently dropped or killing the stage.
func evaluateRule(rule Rule, in Input) (result schemamod.RuleResult) {
	defer func() {
		if r := recover(); r != nil {
			result = schemamod.RuleResult{
				Passed:   false,
				Severity: schemamod.SeverityHigh,
				Message:  "rule execution failed",
				Detail:   fmt.Sprintf("rule %s panicked: %v", rule.Name(), r),
			}
		}
	}()
	return rule.Evaluate(in)
}

func (v *Validator) runStage(stage schemamod.RuleStage, in Input, filter func(Rule) bool) StageReport {
	report := StageReport{Stage: stage}
	for _, rule := range v.registry.Enabled(stage) {
		if filter != nil && !filter(rule) {
			continue
		}
		report.Evaluated++
		result := evaluateRule(rule, in)
		if result.Passed {
			continue
		}
		if result.Severity.Blocking() {
			report.Violations = append(report.Violations, schemamod.Violation{
				Stage:       stage,
				Rule:        rule.Name(),
				Severity:    result.Severity,
				Reason:      result.Message,
				Detail:      result.Detail,
				Suggestions: result.Suggestions,
			})
		} else {
			report.Warnings = append(report.Warnings, schemamod.Warning{
				Stage:    stage,
				Rule:     rule.Name(),
				Severity: result.Severity,
				Reason:   result.Message,
				Detail:   result.Detail,
			})
		}
		report.Suggestions = append(report.Suggestions, result.Suggestions...)
	}
	report.Passed = len(report.Violations) == 0
	return report
}

// ValidatePreModification runs every enabled pre-modification rule.
func (v *Validator) ValidatePreModification(in Input) StageReport {
	return v.runStage(schemamod.StagePreModification, in, nil)
}

// RunFiltered runs the enabled rules of a stage whose names the filter
// admits, in registration order. A nil filter admits everything. The
// orchestrator uses this to split one rule stage across pipeline stages.
func (v *Validator) RunFiltered(stage schemamod.RuleStage, in Input, filter func(Rule) bool) StageReport {
	report := v.runStage(stage, in, filter)
	if stage == schemamod.StagePostModification {
		report = withRollbackTrigger(report)
	}
	return report
}

// ValidatePostModification runs every enabled post-modification rule. A
// critical failure in this stage is the single automatic-rollback trigger
// point in the system.
func (v *Validator) ValidatePostModification(in Input) StageReport {
	return withRollbackTrigger(v.runStage(schemamod.StagePostModification, in, nil))
}

func withRollbackTrigger(report StageReport) StageReport {
	for _, violation := range report.Violations {
		if violation.Severity == schemamod.SeverityCritical {
			report.RollbackTriggered = true
			report.RollbackReason = fmt.Sprintf("%s: %s", violation.Rule, violation.Reason)
			break
		}
	}
	return report
}

// ValidateModification is the single-stage convenience entry point: run the
// pre-modification rules and turn the stage report into a verdict under the
// validator's options.
func (v *Validator) ValidateModification(in Input) Outcome {
	report := v.ValidatePreModification(in)

	if !report.Passed {
		return Outcome{
			Passed:              false,
			CanProceed:          false,
			RequiresHumanReview: true,
			RecommendedAction:   schemamod.ActionReject,
			Message:             fmt.Sprintf("%d violation(s) found", len(report.Violations)),
			Report:              report,
		}
	}

	if v.options.AutoApproveSafeChanges && len(report.Warnings) == 0 {
		return Outcome{
			Passed:            true,
			CanProceed:        true,
			RecommendedAction: schemamod.ActionApprove,
			Message:           "auto-approved: all checks passed with no warnings",
			Report:            report,
		}
	}

	if v.options.RequireHumanReviewForCritical && hasCritical(report.Violations) {
		return Outcome{
			Passed:              true,
			CanProceed:          true,
			RequiresHumanReview: true,
			RecommendedAction:   schemamod.ActionReview,
			Message:             "critical finding requires human review",
			Report:              report,
		}
	}

	return Outcome{
		Passed:            true,
		CanProceed:        true,
		RecommendedAction: schemamod.ActionApprove,
		Message:           fmt.Sprintf("passed with %d warning(s)", len(report.Warnings)),
		Report:            report,
	}
}

func hasCritical(violations []schemamod.Violation) bool {
	for _, v := range violations {
		if v.Severity == schemamod.SeverityCritical {
			return true
		}
	}
	return false
}
