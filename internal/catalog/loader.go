package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed data/judo.yaml
var defaultCatalogYAML []byte

type Loader struct {
	validator *Validator
}

func NewLoader() (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{validator: validator}, nil
}

// Load reads a catalog file. An empty path selects the built-in JUDO catalog.
func (l *Loader) Load(path string) (*Catalog, error) {
	if path == "" {
		return l.Parse(defaultCatalogYAML)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog not found: %s: %w", path, err)
	}

	cat, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// Parse decodes, validates and builds a catalog from YAML (or JSON) bytes.
func (l *Loader) Parse(data []byte) (*Catalog, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog: %w", err)
	}

	if err := l.validator.ValidateFile(&file); err != nil {
		return nil, err
	}

	return Build(&file)
}

// Default loads the built-in catalog.
func Default() (*Catalog, error) {
	l, err := NewLoader()
	if err != nil {
		return nil, err
	}
	return l.Load("")
}
