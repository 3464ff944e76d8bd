package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityRef identifies one persistent entity instance by type and identifier.
// It is a comparable value and is safe to use as a map key.
type EntityRef struct {
	Type string `json:"type" msgpack:"t"`
	ID   string `json:"id" msgpack:"i"`
}

// Ref is shorthand for building an EntityRef.
func Ref(entityType, id string) EntityRef {
	return EntityRef{Type: entityType, ID: id}
}

// IsZero reports whether the reference is unset.
func (r EntityRef) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

// String returns the "Type#ID" form used in logs and storage keys.
func (r EntityRef) String() string {
	return r.Type + "#" + r.ID
}

// ParseEntityRef parses the "Type#ID" form produced by String.
func ParseEntityRef(s string) (EntityRef, error) {
	entityType, id, ok := strings.Cut(s, "#")
	if !ok || entityType == "" || id == "" {
		return EntityRef{}, fmt.Errorf("invalid entity reference %q", s)
	}
	return EntityRef{Type: entityType, ID: id}, nil
}

// ChangeKind is the kind of mutation a commit applied to an entity.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "CREATED"
	ChangeUpdated ChangeKind = "UPDATED"
	ChangeDeleted ChangeKind = "DELETED"
)

// Valid reports whether k is one of the known change kinds.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeCreated, ChangeUpdated, ChangeDeleted:
		return true
	}
	return false
}

// IndexingOperation is what must happen to a root entity in the search index.
type IndexingOperation string

const (
	OpIndex  IndexingOperation = "INDEX"
	OpDelete IndexingOperation = "DELETE"
)

// Valid reports whether op is INDEX or DELETE.
func (op IndexingOperation) Valid() bool {
	return op == OpIndex || op == OpDelete
}

// PropertyChange records one changed field of one entity in one commit.
// Old and New hold nil, a scalar, a single EntityRef (to-one) or a
// []EntityRef (to-many).
type PropertyChange struct {
	Property string
	Old      any
	New      any
}

// EntityChange is everything a commit did to one entity.
type EntityChange struct {
	Subject    EntityRef        `json:"subject"`
	Kind       ChangeKind       `json:"kind"`
	Properties []PropertyChange `json:"properties,omitempty"`
}

// Property returns the change recorded for the named property, if any.
func (c EntityChange) Property(name string) (PropertyChange, bool) {
	for _, p := range c.Properties {
		if p.Property == name {
			return p, true
		}
	}
	return PropertyChange{}, false
}

// QueueItem is a pending instruction to INDEX or DELETE one root entity.
type QueueItem struct {
	Root       EntityRef         `json:"root" msgpack:"r"`
	Operation  IndexingOperation `json:"operation" msgpack:"o"`
	EnqueuedAt time.Time         `json:"enqueued_at" msgpack:"e"`
}

// RefsOf returns the entity references carried by a property value.
// Scalars and nil carry none.
func RefsOf(v any) []EntityRef {
	switch val := v.(type) {
	case EntityRef:
		if val.IsZero() {
			return nil
		}
		return []EntityRef{val}
	case *EntityRef:
		if val == nil || val.IsZero() {
			return nil
		}
		return []EntityRef{*val}
	case []EntityRef:
		out := make([]EntityRef, 0, len(val))
		for _, r := range val {
			if !r.IsZero() {
				out = append(out, r)
			}
		}
		return out
	}
	return nil
}

// wireRef is the JSON envelope for reference values in a PropertyChange.
type wireRef struct {
	Ref  *EntityRef  `json:"$ref,omitempty"`
	Refs []EntityRef `json:"$refs,omitempty"`
}

type wirePropertyChange struct {
	Property string          `json:"property"`
	Old      json.RawMessage `json:"old,omitempty"`
	New      json.RawMessage `json:"new,omitempty"`
}

// MarshalJSON encodes reference values as {"$ref": {...}} or {"$refs": [...]}.
func (p PropertyChange) MarshalJSON() ([]byte, error) {
	oldRaw, err := encodeValue(p.Old)
	if err != nil {
		return nil, fmt.Errorf("encode old value of %s: %w", p.Property, err)
	}
	newRaw, err := encodeValue(p.New)
	if err != nil {
		return nil, fmt.Errorf("encode new value of %s: %w", p.Property, err)
	}
	return json.Marshal(wirePropertyChange{Property: p.Property, Old: oldRaw, New: newRaw})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *PropertyChange) UnmarshalJSON(data []byte) error {
	var w wirePropertyChange
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Property == "" {
		return fmt.Errorf("property change without property name")
	}
	oldVal, err := decodeValue(w.Old)
	if err != nil {
		return fmt.Errorf("decode old value of %s: %w", w.Property, err)
	}
	newVal, err := decodeValue(w.New)
	if err != nil {
		return fmt.Errorf("decode new value of %s: %w", w.Property, err)
	}
	*p = PropertyChange{Property: w.Property, Old: oldVal, New: newVal}
	return nil
}

func encodeValue(v any) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case EntityRef:
		return json.Marshal(wireRef{Ref: &val})
	case *EntityRef:
		if val == nil {
			return nil, nil
		}
		return json.Marshal(wireRef{Ref: val})
	case []EntityRef:
		if val == nil {
			val = []EntityRef{}
		}
		return json.Marshal(struct {
			Refs []EntityRef `json:"$refs"`
		}{val})
	}
	return json.Marshal(v)
}

func decodeValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, err
		}
		if _, ok := probe["$ref"]; ok && len(probe) == 1 {
			var w wireRef
			if err := json.Unmarshal(raw, &w); err != nil {
				return nil, err
			}
			if w.Ref == nil {
				return nil, nil
			}
			return *w.Ref, nil
		}
		if _, ok := probe["$refs"]; ok && len(probe) == 1 {
			var w wireRef
			if err := json.Unmarshal(raw, &w); err != nil {
				return nil, err
			}
			if w.Refs == nil {
				return []EntityRef{}, nil
			}
			return w.Refs, nil
		}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
