package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lorekeep/entity-extractor/constants"
)

// BuildEntityJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. We pass this to the provider as a structured output constraint
// and also use it locally to validate what came back.
func BuildEntityJSONSchema() map[string]any {
	entityProps := map[string]any{
		"entity_type": map[string]any{
			"type": "string",
			"enum": constants.EntityTypeStrings(),
		},
		"name": map[string]any{"type": "string", "minLength": 1},
		"aliases": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "minLength": 1},
		},
		"description": map[string]any{"type": "string"},
		"attributes":  map[string]any{"type": "object"},
		"context_snippet": map[string]any{
			"type": "string",
		},
		"confidence": map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"entities"},
		"properties": map[string]any{
			"entities": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties":           entityProps,
					"required":             []string{"entity_type", "name", "confidence"},
				},
			},
		},
	}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
