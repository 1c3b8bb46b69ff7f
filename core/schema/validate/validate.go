// Package validate checks inbound modification documents against the gate's
// JSON schema before any rule sees them. The schema is embedded so the gate
// stays usable as a library with no file layout assumptions.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"

	schemamod "github.com/katbot/modgate/core/schema/v1/modification"
)

const contextSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "modgate.modification.context.schema.json",
  "type": "object",
  "required": ["modification_id", "code"],
  "properties": {
    "schema_id": {"type": "string"},
    "schema_version": {"type": "string"},
    "created_at": {"type": "string"},
    "modification_id": {"type": "string", "minLength": 1},
    "code": {"type": "string", "minLength": 1},
    "previous_code": {"type": "string"},
    "file_path": {"type": "string"},
    "language": {"type": "string"},
    "dependencies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "version": {"type": "string"}
        },
        "additionalProperties": false
      }
    },
    "complexity": {"type": "integer", "minimum": 0},
    "affects_core": {"type": "boolean"},
    "affects_database": {"type": "boolean"},
    "affects_network": {"type": "boolean"},
    "affects_ui": {"type": "boolean"},
    "metadata": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  },
  "additionalProperties": false
}`

var (
	compileOnce   sync.Once
	compiled      *jsonschema.Schema
	compileFailed error
)

func contextSchemaCompiled() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		compiled, compileFailed = compiler.Compile([]byte(contextSchema))
	})
	if compileFailed != nil {
		return nil, fmt.Errorf("compile context schema: %w", compileFailed)
	}
	return compiled, nil
}

// ValidateContextJSON checks a raw modification document against the
// embedded schema.
func ValidateContextJSON(data []byte) error {
	schema, err := contextSchemaCompiled()
	if err != nil {
		return err
	}
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("context schema validation failed: %v", result.Errors)
}

// ParseContext validates and decodes a modification document, then
// normalizes it: schema identifiers stamped, id and path trimmed.
func ParseContext(data []byte) (schemamod.ModificationContext, error) {
	if err := ValidateContextJSON(data); err != nil {
		return schemamod.ModificationContext{}, err
	}
	var ctx schemamod.ModificationContext
	if err := json.Unmarshal(data, &ctx); err != nil {
		return schemamod.ModificationContext{}, fmt.Errorf("decode context: %w", err)
	}
	ctx.SchemaID = schemamod.ContextSchemaID
	ctx.SchemaVersion = schemamod.SchemaVersionV1
	ctx.ModificationID = strings.TrimSpace(ctx.ModificationID)
	ctx.FilePath = strings.TrimSpace(ctx.FilePath)
	if ctx.ModificationID == "" {
		return schemamod.ModificationContext{}, fmt.Errorf("modification_id is required")
	}
	return ctx, nil
}
