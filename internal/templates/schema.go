// Package templates loads, validates and caches template definitions.
package templates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/receipts-intake/constants"
)

// BuildTemplateSchema returns the JSON-Schema for one template definition.
// Rule fields are constrained to the canonical field names.
func BuildTemplateSchema(fields []string) map[string]any {
	unit := map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}
	region := map[string]any{
		"type":       "object",
		"required":   []string{"x", "y", "w", "h"},
		"properties": map[string]any{"x": unit, "y": unit, "w": unit, "h": unit},
	}
	str := map[string]any{"type": "string"}
	strList := map[string]any{"type": "array", "items": map[string]any{"type": "string", "minLength": 1}}

	rule := map[string]any{
		"type":     "object",
		"required": []string{"kind", "field"},
		"properties": map[string]any{
			"kind":     map[string]any{"enum": []string{"anchored_pattern", "positional_region", "repeated_block"}},
			"field":    map[string]any{"type": "string", "enum": fields},
			"type":     map[string]any{"enum": []string{"date", "currency", "integer", "text"}},
			"optional": map[string]any{"type": "boolean"},
			"anchor": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"labels":     strList,
					"exclude":    strList,
					"pattern":    str,
					"occurrence": map[string]any{"enum": []string{"", "first", "last"}},
					"max_edits":  map[string]any{"type": "integer", "minimum": 0, "maximum": 3},
					"next_line":  map[string]any{"type": "boolean"},
				},
			},
			"region": map[string]any{
				"type":       "object",
				"required":   []string{"box"},
				"properties": map[string]any{"box": region, "pattern": str},
			},
			"block": map[string]any{
				"type":     "object",
				"required": []string{"row"},
				"properties": map[string]any{
					"start":            str,
					"end":              str,
					"row":              map[string]any{"type": "string", "minLength": 1},
					"default_quantity": map[string]any{"type": "string", "pattern": `^\d+(\.\d+)?$`},
				},
			},
		},
		"allOf": []any{
			kindRequires("anchored_pattern", "anchor"),
			kindRequires("positional_region", "region"),
			kindRequires("repeated_block", "block"),
		},
	}

	return map[string]any{
		"type":     "object",
		"required": []string{"id", "document_type", "format_name", "fingerprint", "rules"},
		"properties": map[string]any{
			"id":             map[string]any{"type": "string", "format": "uuid"},
			"calling_app_id": str,
			"document_type":  map[string]any{"type": "string", "minLength": 1},
			"vendor":         str,
			"format_name":    map[string]any{"type": "string", "minLength": 1},
			"fingerprint":    map[string]any{"type": "array", "items": region},
			"rules":          map[string]any{"type": "array", "items": rule},
			"active":         map[string]any{"type": "boolean"},
			"success_count":  map[string]any{"type": "integer", "minimum": 0},
			"updated_at":     str,
		},
	}
}

func kindRequires(kind, payload string) map[string]any {
	return map[string]any{
		"if":   map[string]any{"properties": map[string]any{"kind": map[string]any{"const": kind}}},
		"then": map[string]any{"required": []string{payload}},
	}
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(BuildTemplateSchema(constants.FieldsAsStringSlice()))
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		if err := compiler.AddResource("template.json", bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("template.json")
	})
	return schema, schemaErr
}

// ValidateDocument checks one decoded template document against the schema.
func ValidateDocument(v any) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("template does not match schema: %w", err)
	}
	return nil
}
