package tool

import (
	"encoding/json"
	"testing"
)

func TestValidator_ValidateInput(t *testing.T) {
	validator := NewValidator()

	tests := []struct {
		name    string
		schema  ToolSchema
		input   string
		wantErr bool
	}{
		{
			name: "valid string",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"query": {Type: "string"},
				},
				Required: []string{"query"},
			},
			input:   `{"query": "pólizas vigentes"}`,
			wantErr: false,
		},
		{
			name: "wrong type - expected string got number",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"query": {Type: "string"},
				},
			},
			input:   `{"query": 123}`,
			wantErr: true,
		},
		{
			name: "missing required field",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"query": {Type: "string"},
				},
				Required: []string{"query"},
			},
			input:   `{}`,
			wantErr: true,
		},
		{
			name: "enum validation pass",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"stage": {Type: "string", Enum: []string{"ingestion", "ocr", "retrieval"}},
				},
			},
			input:   `{"stage": "ocr"}`,
			wantErr: false,
		},
		{
			name: "enum validation fail",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"stage": {Type: "string", Enum: []string{"ingestion", "ocr", "retrieval"}},
				},
			},
			input:   `{"stage": "unknown"}`,
			wantErr: true,
		},
		{
			name: "number minimum pass",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"top_k": {Type: "integer", Minimum: Float(1)},
				},
			},
			input:   `{"top_k": 5}`,
			wantErr: false,
		},
		{
			name: "number minimum fail",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"top_k": {Type: "integer", Minimum: Float(1)},
				},
			},
			input:   `{"top_k": 0}`,
			wantErr: true,
		},
		{
			name: "number maximum fail",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"top_k": {Type: "integer", Maximum: Float(50)},
				},
			},
			input:   `{"top_k": 150}`,
			wantErr: true,
		},
		{
			name: "array of strings valid",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"relationship_types": {Type: "array", Items: &PropertyDef{Type: "string"}},
				},
			},
			input:   `{"relationship_types": ["EMPLOYS", "OWNS"]}`,
			wantErr: false,
		},
		{
			name: "array of strings invalid item",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"relationship_types": {Type: "array", Items: &PropertyDef{Type: "string"}},
				},
			},
			input:   `{"relationship_types": ["EMPLOYS", 123]}`,
			wantErr: true,
		},
		{
			name: "integer valid",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"top_k": {Type: "integer"},
				},
			},
			input:   `{"top_k": 42}`,
			wantErr: false,
		},
		{
			name: "integer invalid - is float",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"top_k": {Type: "integer"},
				},
			},
			input:   `{"top_k": 3.14}`,
			wantErr: true,
		},
		{
			name: "boolean valid",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"include_expired": {Type: "boolean"},
				},
			},
			input:   `{"include_expired": true}`,
			wantErr: false,
		},
		{
			name: "boolean invalid",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"include_expired": {Type: "boolean"},
				},
			},
			input:   `{"include_expired": "yes"}`,
			wantErr: true,
		},
		{
			name: "optional field missing is ok",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"query": {Type: "string"},
					"top_k": {Type: "integer"},
				},
				Required: []string{"query"},
			},
			input:   `{"query": "facturas"}`,
			wantErr: false,
		},
		{
			name: "null value is ok",
			schema: ToolSchema{
				Type: "object",
				Properties: map[string]PropertyDef{
					"section": {Type: "string"},
				},
			},
			input:   `{"section": null}`,
			wantErr: false,
		},
		{
			name: "invalid JSON",
			schema: ToolSchema{
				Type:       "object",
				Properties: map[string]PropertyDef{},
			},
			input:   `{invalid}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateInput(tt.schema, json.RawMessage(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateInput() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidator_InvalidSchemaType(t *testing.T) {
	validator := NewValidator()

	schema := ToolSchema{
		Type: "array", // Must be "object"
	}

	err := validator.ValidateInput(schema, json.RawMessage(`[]`))
	if err == nil {
		t.Error("Expected error for non-object schema type")
	}
}

func TestValidator_NestedObject(t *testing.T) {
	validator := NewValidator()

	schema := ToolSchema{
		Type: "object",
		Properties: map[string]PropertyDef{
			"filters": {
				Type: "object",
				Properties: map[string]PropertyDef{
					"source": {Type: "string"},
					"top_k":  {Type: "number", Minimum: Float(0)},
				},
			},
		},
	}

	// Valid nested object
	err := validator.ValidateInput(schema, json.RawMessage(`{"filters": {"source": "contracts", "top_k": 10}}`))
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	// Invalid nested object (top_k below minimum)
	err = validator.ValidateInput(schema, json.RawMessage(`{"filters": {"source": "contracts", "top_k": -5}}`))
	if err == nil {
		t.Error("Expected error for negative top_k")
	}
}
