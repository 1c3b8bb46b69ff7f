package rules

import (
	"reflect"
	"testing"

	schemamod "github.com/katbot/modgate/core/schema/v1/modification"
)

func passingRule(name string) Rule {
	return New(name, schemamod.StagePreModification, schemamod.SeverityLow, func(Input) schemamod.RuleResult {
		return schemamod.RuleResult{Passed: true, Message: "ok"}
	})
}

func TestRegistryOrderAndReplace(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"first", "second", "third"} {
		if err := registry.Add(passingRule(name)); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}

	// Replacing keeps the original position.
	replacement := New("second", schemamod.StagePreModification, schemamod.SeverityHigh, func(Input) schemamod.RuleResult {
		return schemamod.RuleResult{Passed: false, Message: "replaced"}
	})
	if err := registry.Add(replacement); err != nil {
		t.Fatalf("replace: %v", err)
	}

	names := registry.Names(schemamod.StagePreModification)
	if !reflect.DeepEqual(names, []string{"first", "second", "third"}) {
		t.Fatalf("unexpected order: %v", names)
	}

	enabled := registry.Enabled(schemamod.StagePreModification)
	if enabled[1].Severity() != schemamod.SeverityHigh {
		t.Fatalf("expected replacement to take effect")
	}
}

func TestRegistryDisableAndRemove(t *testing.T) {
	registry := NewRegistry()
	_ = registry.Add(passingRule("keep"))
	_ = registry.Add(passingRule("toggle"))

	if !registry.SetEnabled(schemamod.StagePreModification, "toggle", false) {
		t.Fatalf("expected toggle to exist")
	}
	if got := len(registry.Enabled(schemamod.StagePreModification)); got != 1 {
		t.Fatalf("expected 1 enabled rule, got %d", got)
	}

	if !registry.Remove(schemamod.StagePreModification, "toggle") {
		t.Fatalf("expected removal to succeed")
	}
	if registry.Remove(schemamod.StagePreModification, "toggle") {
		t.Fatalf("expected second removal to report missing")
	}
}

func TestRegistryRejectsAnonymousRule(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Add(passingRule("")); err == nil {
		t.Fatalf("expected error for empty rule name")
	}
}

func TestEstimateComplexity(t *testing.T) {
	tests := []struct {
		name string
		code string
		want int
	}{
		{"empty", "", 1},
		{"straight_line", "return a + b", 1},
		{"single_if", "if (a) { return b }", 2},
		{"branchy", "if (a && b) { } else if (c || d) { for (;;) { break } }", 6},
	}
	for _, tc := range tests {
		if got := EstimateComplexity(tc.code); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}
