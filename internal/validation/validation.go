package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperengineering/ripple/internal/types"
)

// Request limits.
const (
	MaxChangesPerCommit = 1000
	MaxItemsPerRequeue  = 1000
	MaxNameLength       = 255
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// validateName checks an entity type, identifier or property name.
// Only the first failure is reported per field.
func validateName(c *Collector, field, value string) {
	for _, err := range []*ValidationError{
		ValidateRequired(field, value),
		ValidateUTF8(field, value),
		ValidateNoNullBytes(field, value),
		ValidateMaxLength(field, value, MaxNameLength),
	} {
		if err != nil {
			c.Add(err)
			return
		}
	}
}

// validateRef checks both parts of an entity reference.
// '#' is rejected in the type since it separates type and id in "Type#ID".
func validateRef(c *Collector, field string, ref types.EntityRef) {
	validateName(c, field+".type", ref.Type)
	if strings.Contains(ref.Type, "#") {
		c.Add(&ValidationError{Field: field + ".type", Message: "must not contain '#'"})
	}
	validateName(c, field+".id", ref.ID)
}

// validateValue checks the entity references a property value carries.
func validateValue(c *Collector, field string, v any) {
	switch val := v.(type) {
	case types.EntityRef:
		validateRef(c, field, val)
	case []types.EntityRef:
		for i, ref := range val {
			validateRef(c, fmt.Sprintf("%s[%d]", field, i), ref)
		}
	}
}

var changeKinds = []string{
	string(types.ChangeCreated),
	string(types.ChangeUpdated),
	string(types.ChangeDeleted),
}

var operations = []string{string(types.OpIndex), string(types.OpDelete)}

// ValidateChanges checks a commit's change set and returns every problem found.
func ValidateChanges(changes []types.EntityChange) []ValidationError {
	var c Collector
	if len(changes) > MaxChangesPerCommit {
		c.Add(&ValidationError{
			Field:   "changes",
			Message: fmt.Sprintf("exceeds maximum of %d entries", MaxChangesPerCommit),
		})
		return c.Errors()
	}

	for i, change := range changes {
		prefix := fmt.Sprintf("changes[%d]", i)
		validateRef(&c, prefix+".subject", change.Subject)
		c.Add(ValidateEnum(prefix+".kind", string(change.Kind), changeKinds))

		seen := make(map[string]bool, len(change.Properties))
		for j, pc := range change.Properties {
			field := fmt.Sprintf("%s.properties[%d]", prefix, j)
			validateName(&c, field+".property", pc.Property)
			if seen[pc.Property] {
				c.Add(&ValidationError{Field: field + ".property", Message: "is recorded more than once"})
			}
			seen[pc.Property] = true
			validateValue(&c, field+".old", pc.Old)
			validateValue(&c, field+".new", pc.New)
		}
	}
	return c.Errors()
}

// ValidateQueueItems checks items handed back by a pull consumer.
func ValidateQueueItems(items []types.QueueItem) []ValidationError {
	var c Collector
	if len(items) > MaxItemsPerRequeue {
		c.Add(&ValidationError{
			Field:   "items",
			Message: fmt.Sprintf("exceeds maximum of %d entries", MaxItemsPerRequeue),
		})
		return c.Errors()
	}

	for i, item := range items {
		prefix := fmt.Sprintf("items[%d]", i)
		validateRef(&c, prefix+".root", item.Root)
		c.Add(ValidateEnum(prefix+".operation", string(item.Operation), operations))
	}
	return c.Errors()
}
