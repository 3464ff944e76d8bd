package registry

import (
	"errors"
	"strings"
)

// ErrConfiguration indicates malformed or inconsistent index metadata.
// The engine must not accept commits when the registry fails to build.
var ErrConfiguration = errors.New("invalid index configuration")

// ConfigurationError describes one problem found in the index metadata.
type ConfigurationError struct {
	EntityType string `json:"entity_type,omitempty"`
	Property   string `json:"property,omitempty"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e ConfigurationError) Error() string {
	switch {
	case e.EntityType != "" && e.Property != "":
		return e.EntityType + "." + e.Property + ": " + e.Message
	case e.EntityType != "":
		return e.EntityType + ": " + e.Message
	default:
		return e.Message
	}
}

// Unwrap returns ErrConfiguration for errors.Is() compatibility.
func (e ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// ConfigurationErrors collects every problem found while building a Registry.
type ConfigurationErrors struct {
	Errors []ConfigurationError `json:"errors"`
}

// Error implements the error interface.
func (e *ConfigurationErrors) Error() string {
	if len(e.Errors) == 0 {
		return ErrConfiguration.Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, ce := range e.Errors {
		msgs[i] = ce.Error()
	}
	return ErrConfiguration.Error() + ": " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrConfiguration for errors.Is() compatibility.
func (e *ConfigurationErrors) Unwrap() error {
	return ErrConfiguration
}
