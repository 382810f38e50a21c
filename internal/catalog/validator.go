package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/catalog-v1.json
var catalogSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("catalog-v1.json",
		strings.NewReader(catalogSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("catalog-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateJSON checks a JSON encoded catalog document against the schema.
func (v *Validator) ValidateJSON(data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// ValidateFile validates a decoded catalog file. YAML input is re-encoded as JSON
// so the same schema covers both formats.
func (v *Validator) ValidateFile(file *File) error {
	data, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	return v.ValidateJSON(data)
}
