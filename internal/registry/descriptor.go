package registry

// Cardinality is the number of holders a reverse navigation can yield.
type Cardinality string

const (
	One  Cardinality = "one"
	Many Cardinality = "many"
)

// AssociationPath is an association property of an entity type that takes part
// in the indexed projection of some root entity.
type AssociationPath struct {
	// Property is the association property on the owning entity type.
	Property string `yaml:"property" json:"property"`

	// TargetType is the entity type at the far end of Property.
	TargetType string `yaml:"target" json:"target"`

	// Cardinality of the far end as seen from the owning entity.
	Cardinality Cardinality `yaml:"cardinality" json:"cardinality"`

	// Inverse marks the mappedBy side of a bidirectional association.
	Inverse bool `yaml:"inverse" json:"inverse"`

	// MappedBy names the owning association on TargetType for an inverse path.
	// Persistence adapters navigate through it; empty lets them infer it.
	MappedBy string `yaml:"mapped_by,omitempty" json:"mapped_by,omitempty"`

	// TowardHolder marks a path whose far end holds the owning entity in its
	// indexed projection. Reverse navigation follows only these paths.
	TowardHolder bool `yaml:"toward_holder" json:"toward_holder"`

	// ReachesRoot is resolved by the registry: the far end is a root index
	// target, so holders found through this path are affected roots.
	ReachesRoot bool `yaml:"-" json:"reaches_root"`
}

// ToMany reports whether following the path may yield more than one entity.
func (p AssociationPath) ToMany() bool {
	return p.Cardinality == Many
}

// IndexDescriptor is the static index configuration of one entity type.
type IndexDescriptor struct {
	EntityType        string            `yaml:"type" json:"type"`
	Root              bool              `yaml:"root" json:"root"`
	IndexedProperties []string          `yaml:"indexed" json:"indexed"`
	Associations      []AssociationPath `yaml:"associations" json:"associations"`

	indexed      map[string]struct{}
	associations map[string]int
}

// IsIndexed reports whether property is an indexed local property.
func (d *IndexDescriptor) IsIndexed(property string) bool {
	_, ok := d.indexed[property]
	return ok
}

// Association returns the association path declared for property.
func (d *IndexDescriptor) Association(property string) (AssociationPath, bool) {
	i, ok := d.associations[property]
	if !ok {
		return AssociationPath{}, false
	}
	return d.Associations[i], true
}

// Relevant reports whether a change to property can affect any indexed projection.
func (d *IndexDescriptor) Relevant(property string) bool {
	if d.IsIndexed(property) {
		return true
	}
	_, ok := d.associations[property]
	return ok
}

// HolderPaths returns the paths reverse navigation follows, in declaration order.
func (d *IndexDescriptor) HolderPaths() []AssociationPath {
	var out []AssociationPath
	for _, p := range d.Associations {
		if p.TowardHolder {
			out = append(out, p)
		}
	}
	return out
}

// index builds the lookup tables. Called once by New.
func (d *IndexDescriptor) index() {
	d.indexed = make(map[string]struct{}, len(d.IndexedProperties))
	for _, p := range d.IndexedProperties {
		d.indexed[p] = struct{}{}
	}
	d.associations = make(map[string]int, len(d.Associations))
	for i, a := range d.Associations {
		d.associations[a.Property] = i
	}
}
