package validate

import (
	"strings"
	"testing"
)

func TestParseContextValid(t *testing.T) {
	raw := []byte(`{
		"modification_id": " mod-7 ",
		"code": "const x = 1",
		"file_path": "src/handler.js",
		"dependencies": [{"name": "uuid", "version": "9.0.0"}],
		"complexity": 3,
		"affects_core": true,
		"metadata": {"origin": "pattern-miner"}
	}`)

	ctx, err := ParseContext(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ctx.ModificationID != "mod-7" {
		t.Fatalf("expected trimmed id, got %q", ctx.ModificationID)
	}
	if ctx.SchemaID == "" || ctx.SchemaVersion == "" {
		t.Fatalf("expected schema identifiers stamped")
	}
	if !ctx.AffectsCore || len(ctx.Dependencies) != 1 {
		t.Fatalf("unexpected decode: %#v", ctx)
	}
}

func TestParseContextRejections(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing_code", `{"modification_id": "mod-1"}`},
		{"empty_code", `{"modification_id": "mod-1", "code": ""}`},
		{"missing_id", `{"code": "x"}`},
		{"blank_id", `{"modification_id": "   ", "code": "x"}`},
		{"unknown_field", `{"modification_id": "mod-1", "code": "x", "verdict": "allow"}`},
		{"bad_dependency", `{"modification_id": "mod-1", "code": "x", "dependencies": [{"version": "1.0.0"}]}`},
		{"not_json", `{`},
	}
	for _, tc := range tests {
		if _, err := ParseContext([]byte(tc.raw)); err == nil {
			t.Fatalf("%s: expected rejection", tc.name)
		}
	}
}

func TestValidateContextJSONErrorMentionsSchema(t *testing.T) {
	err := ValidateContextJSON([]byte(`{"code": 42}`))
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("unexpected error: %v", err)
	}
}
