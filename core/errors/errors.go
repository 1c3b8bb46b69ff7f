// Package errors classifies gate failures. Rule failures are data (a failed
// RuleResult), never errors; everything here describes defects in the
// evaluation machinery itself.
package errors

import "errors"

type Category string

const (
	CategoryInvalidInput    Category = "invalid_input"
	CategoryPermissionCheck Category = "permission_check_failed"
	CategoryRuleExecution   Category = "rule_execution_failed"
	CategoryStageTimeout    Category = "stage_timeout"
	CategoryBackupMissing   Category = "backup_missing"
	CategoryRestoreFailure  Category = "restore_failed"
	CategorySandboxFailure  Category = "sandbox_failure"
	CategoryInternalFailure Category = "internal_failure"
)

type classifiedError struct {
	category  Category
	code      string
	hint      string
	retryable bool
	cause     error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return string(e.category)
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

// Wrap attaches a category, stable code, operator hint, and retryability to a
// cause. A nil cause stays nil so call sites can wrap unconditionally.
func Wrap(cause error, category Category, code, hint string, retryable bool) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		category:  category,
		code:      code,
		hint:      hint,
		retryable: retryable,
		cause:     cause,
	}
}

func CategoryOf(err error) Category {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.category
	}
	return ""
}

func CodeOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.code
	}
	return ""
}

func HintOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.hint
	}
	return ""
}

func RetryableOf(err error) bool {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.retryable
	}
	return false
}

// PipelineError is the one failure shape the gate surfaces to callers: an
// unexpected defect escaping stage execution, tagged with the owning
// component, operation, and modification so operators can place it without
// parsing message text.
type PipelineError struct {
	Component      string
	Operation      string
	ModificationID string
	Severity       string
	Err            error
}

func (e *PipelineError) Error() string {
	msg := e.Component + "/" + e.Operation
	if e.ModificationID != "" {
		msg += " [" + e.ModificationID + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError builds a severity-tagged pipeline failure.
func NewPipelineError(component, operation, modificationID, severity string, err error) *PipelineError {
	return &PipelineError{
		Component:      component,
		Operation:      operation,
		ModificationID: modificationID,
		Severity:       severity,
		Err:            err,
	}
}
