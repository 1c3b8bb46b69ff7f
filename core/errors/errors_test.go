package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestWrapNilCause(t *testing.T) {
	if err := Wrap(nil, CategoryInternalFailure, "x", "y", false); err != nil {
		t.Fatalf("expected nil for nil cause, got %v", err)
	}
}

func TestWrapClassification(t *testing.T) {
	cause := stderrors.New("restore handle closed")
	err := Wrap(cause, CategoryRestoreFailure, "restore_io", "retry after the restore target is reachable", true)

	if CategoryOf(err) != CategoryRestoreFailure {
		t.Fatalf("unexpected category: %q", CategoryOf(err))
	}
	if CodeOf(err) != "restore_io" {
		t.Fatalf("unexpected code: %q", CodeOf(err))
	}
	if HintOf(err) == "" {
		t.Fatalf("expected hint to survive wrapping")
	}
	if !RetryableOf(err) {
		t.Fatalf("expected retryable classification")
	}
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to unwrap")
	}
}

func TestClassificationOfPlainError(t *testing.T) {
	err := stderrors.New("plain")
	if CategoryOf(err) != "" || CodeOf(err) != "" || RetryableOf(err) {
		t.Fatalf("plain errors must not classify")
	}
}

func TestPipelineErrorIdentification(t *testing.T) {
	cause := stderrors.New("history store unavailable")
	err := NewPipelineError("pipeline", "calculate_overall_results", "mod-42", "critical", cause)

	msg := err.Error()
	for _, want := range []string{"pipeline/calculate_overall_results", "mod-42", "history store unavailable"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}

	var pipelineErr *PipelineError
	if !stderrors.As(err, &pipelineErr) {
		t.Fatalf("expected errors.As to match PipelineError")
	}
	if pipelineErr.Severity != "critical" {
		t.Fatalf("unexpected severity: %q", pipelineErr.Severity)
	}
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected cause to unwrap")
	}
}
