package registry

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Registry maps entity types to their index descriptors.
// It is immutable once New returns and safe for concurrent reads without locking.
type Registry struct {
	descriptors map[string]*IndexDescriptor
	types       []string
	fingerprint uint64
}

// New validates the descriptors, resolves each association's ReachesRoot flag
// and returns the registry. All problems are reported together as
// *ConfigurationErrors.
func New(descs ...IndexDescriptor) (*Registry, error) {
	r := &Registry{
		descriptors: make(map[string]*IndexDescriptor, len(descs)),
		types:       make([]string, 0, len(descs)),
	}
	var errs []ConfigurationError

	for i := range descs {
		d := descs[i]
		if d.EntityType == "" {
			errs = append(errs, ConfigurationError{Message: fmt.Sprintf("descriptor %d has no entity type", i)})
			continue
		}
		if _, dup := r.descriptors[d.EntityType]; dup {
			errs = append(errs, ConfigurationError{EntityType: d.EntityType, Message: "declared more than once"})
			continue
		}
		d.IndexedProperties = slices.Clone(d.IndexedProperties)
		d.Associations = slices.Clone(d.Associations)
		errs = append(errs, checkProperties(&d)...)
		d.index()
		r.descriptors[d.EntityType] = &d
		r.types = append(r.types, d.EntityType)
	}

	for _, t := range r.types {
		d := r.descriptors[t]
		for i := range d.Associations {
			a := &d.Associations[i]
			target, ok := r.descriptors[a.TargetType]
			if !ok {
				errs = append(errs, ConfigurationError{
					EntityType: t,
					Property:   a.Property,
					Message:    fmt.Sprintf("references unknown entity type %q", a.TargetType),
				})
				continue
			}
			a.ReachesRoot = target.Root
			if a.MappedBy != "" {
				if owner, ok := target.Association(a.MappedBy); !ok || owner.TargetType != t {
					errs = append(errs, ConfigurationError{
						EntityType: t,
						Property:   a.Property,
						Message:    fmt.Sprintf("mapped_by %q is not an association of %s back to %s", a.MappedBy, a.TargetType, t),
					})
				}
			}
		}
	}

	if len(errs) > 0 {
		return nil, &ConfigurationErrors{Errors: errs}
	}

	slices.Sort(r.types)
	r.fingerprint = r.computeFingerprint()
	return r, nil
}

// checkProperties validates one descriptor's local and association properties.
func checkProperties(d *IndexDescriptor) []ConfigurationError {
	var errs []ConfigurationError
	seen := make(map[string]bool)

	for _, p := range d.IndexedProperties {
		if p == "" {
			errs = append(errs, ConfigurationError{EntityType: d.EntityType, Message: "empty indexed property name"})
			continue
		}
		if seen[p] {
			errs = append(errs, ConfigurationError{EntityType: d.EntityType, Property: p, Message: "declared more than once"})
		}
		seen[p] = true
	}

	for i := range d.Associations {
		a := &d.Associations[i]
		if a.Property == "" {
			errs = append(errs, ConfigurationError{EntityType: d.EntityType, Message: "empty association property name"})
			continue
		}
		if seen[a.Property] {
			errs = append(errs, ConfigurationError{EntityType: d.EntityType, Property: a.Property, Message: "declared as both indexed property and association, or twice"})
		}
		seen[a.Property] = true
		if a.TargetType == "" {
			errs = append(errs, ConfigurationError{EntityType: d.EntityType, Property: a.Property, Message: "association has no target type"})
		}
		switch a.Cardinality {
		case "":
			a.Cardinality = One
		case One, Many:
		default:
			errs = append(errs, ConfigurationError{
				EntityType: d.EntityType,
				Property:   a.Property,
				Message:    fmt.Sprintf("unknown cardinality %q", a.Cardinality),
			})
		}
		if a.MappedBy != "" && !a.Inverse {
			errs = append(errs, ConfigurationError{EntityType: d.EntityType, Property: a.Property, Message: "mapped_by requires inverse"})
		}
	}
	return errs
}

// Describe returns the descriptor for entityType.
// The boolean is false for entity types outside the indexing domain.
func (r *Registry) Describe(entityType string) (*IndexDescriptor, bool) {
	d, ok := r.descriptors[entityType]
	return d, ok
}

// IsRoot reports whether entityType is a root index target.
func (r *Registry) IsRoot(entityType string) bool {
	d, ok := r.descriptors[entityType]
	return ok && d.Root
}

// Types returns the registered entity types in sorted order.
func (r *Registry) Types() []string {
	return slices.Clone(r.types)
}

// Roots returns the root index target types in sorted order.
func (r *Registry) Roots() []string {
	var out []string
	for _, t := range r.types {
		if r.descriptors[t].Root {
			out = append(out, t)
		}
	}
	return out
}

// Fingerprint identifies the resolved configuration. Two registries built from
// equivalent metadata share a fingerprint regardless of declaration order of types.
func (r *Registry) Fingerprint() uint64 {
	return r.fingerprint
}

// FingerprintHex is Fingerprint as a fixed-width hex string.
func (r *Registry) FingerprintHex() string {
	return fmt.Sprintf("%016x", r.fingerprint)
}

func (r *Registry) computeFingerprint() uint64 {
	h := xxhash.New()
	for _, t := range r.types {
		d := r.descriptors[t]
		h.WriteString(t)
		h.WriteString("|" + strconv.FormatBool(d.Root))
		indexed := slices.Clone(d.IndexedProperties)
		slices.Sort(indexed)
		for _, p := range indexed {
			h.WriteString("|i:" + p)
		}
		for _, a := range d.Associations {
			h.WriteString("|a:" + a.Property + ">" + a.TargetType + "/" + string(a.Cardinality) +
				"/" + strconv.FormatBool(a.Inverse) + "/" + strconv.FormatBool(a.TowardHolder) + "/" + a.MappedBy)
		}
		h.WriteString("\n")
	}
	return h.Sum64()
}
