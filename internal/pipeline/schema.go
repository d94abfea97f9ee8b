package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func decimalProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^-?\d+(\.\d{1,2})?$`,
	}
}

// BuildFieldSchema returns the JSON-Schema (draft 2020-12 subset) the LLM
// stage's structured output must satisfy for a given document type. Unknown
// types get the minimal common schema.
func BuildFieldSchema(documentType string) map[string]any {
	props := map[string]any{
		"vendor_name":   map[string]any{"type": "string", "minLength": 1},
		"document_date": map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"total":         decimalProp(),
		"currency_code": map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
		"confidence":    map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
	}
	required := []string{"vendor_name", "document_date"}

	switch documentType {
	case "invoice":
		props["invoice_number"] = map[string]any{"type": "string", "minLength": 1}
		props["subtotal"] = decimalProp()
		props["tax"] = decimalProp()
		props["due_date"] = map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`}
		required = append(required, "invoice_number", "total")
	case "receipt":
		props["subtotal"] = decimalProp()
		props["tax"] = decimalProp()
		props["payment_method"] = map[string]any{"type": "string"}
		required = append(required, "total")
	case "purchase_order":
		props["po_number"] = map[string]any{"type": "string", "minLength": 1}
		props["line_items"] = map[string]any{"type": "array"}
		required = append(required, "po_number")
	case "bill_of_lading":
		props["carrier"] = map[string]any{"type": "string"}
		props["shipment_id"] = map[string]any{"type": "string", "minLength": 1}
		required = append(required, "shipment_id")
	}

	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ValidateFields checks LLM field output against the schema for the document
// type. A schema violation is advisory, not a stage failure; callers record it
// in stage metadata.
func ValidateFields(documentType string, fields map[string]any) error {
	schemaMap := BuildFieldSchema(documentType)
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
	// Round-trip so numbers validate as json.Number-compatible values.
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal fields: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("fields do not match %s schema: %w", documentType, err)
	}
	return nil
}
