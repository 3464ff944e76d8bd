package registry

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// document is the on-disk layout of the declarative index metadata.
type document struct {
	Entities []IndexDescriptor `yaml:"entities"`
}

// Parse decodes declarative index metadata and builds a Registry from it.
// Unknown YAML fields are rejected so that typos surface at startup.
func Parse(data []byte) (*Registry, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse index metadata: %w", err)
	}
	return New(doc.Entities...)
}

// LoadFile reads index metadata from path and builds a Registry.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index metadata: %w", err)
	}
	return Parse(data)
}
