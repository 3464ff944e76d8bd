package registry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testDescriptors mirrors a root with one-to-one, one-to-many and a two-hop chain.
func testDescriptors() []IndexDescriptor {
	return []IndexDescriptor{
		{
			EntityType:        "TestRootEntity",
			Root:              true,
			IndexedProperties: []string{"textValue", "intValue"},
			Associations: []AssociationPath{
				{Property: "oneToOneRef", TargetType: "TestReferenceA", Cardinality: One},
				{Property: "oneToManyRefs", TargetType: "TestReferenceA", Cardinality: Many},
			},
		},
		{
			EntityType:        "TestReferenceA",
			IndexedProperties: []string{"textValue"},
			Associations: []AssociationPath{
				{Property: "testRootEntity", TargetType: "TestRootEntity", Cardinality: One, Inverse: true, TowardHolder: true},
				{Property: "subReference", TargetType: "TestSubReference"},
			},
		},
		{
			EntityType:        "TestSubReference",
			IndexedProperties: []string{"textValue"},
			Associations: []AssociationPath{
				{Property: "referenceA", TargetType: "TestReferenceA", Inverse: true, TowardHolder: true},
			},
		},
	}
}

func TestNew_ResolvesDescriptors(t *testing.T) {
	r, err := New(testDescriptors()...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	root, ok := r.Describe("TestRootEntity")
	if !ok {
		t.Fatal("TestRootEntity not registered")
	}
	if !root.Root {
		t.Error("TestRootEntity should be a root")
	}
	if !root.IsIndexed("textValue") || root.IsIndexed("notIndexedValue") {
		t.Error("IsIndexed mismatch for TestRootEntity")
	}
	if !root.Relevant("oneToManyRefs") {
		t.Error("oneToManyRefs should be relevant")
	}

	refA, _ := r.Describe("TestReferenceA")
	back, ok := refA.Association("testRootEntity")
	if !ok {
		t.Fatal("testRootEntity association missing")
	}
	if !back.ReachesRoot {
		t.Error("testRootEntity should reach a root")
	}
	sub, _ := r.Describe("TestSubReference")
	up, _ := sub.Association("referenceA")
	if up.ReachesRoot {
		t.Error("referenceA leads to a non-root")
	}
	if up.Cardinality != One {
		t.Errorf("default cardinality = %q, want %q", up.Cardinality, One)
	}
}

func TestNew_UnknownTypeIsNotRegistered(t *testing.T) {
	r, err := New(testDescriptors()...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := r.Describe("AuditLog"); ok {
		t.Error("AuditLog should not be registered")
	}
	if r.IsRoot("AuditLog") {
		t.Error("unknown type reported as root")
	}
}

func TestHolderPaths_OnlyTowardHolder(t *testing.T) {
	r, _ := New(testDescriptors()...)
	refA, _ := r.Describe("TestReferenceA")

	paths := refA.HolderPaths()
	if len(paths) != 1 || paths[0].Property != "testRootEntity" {
		t.Errorf("HolderPaths() = %+v", paths)
	}
}

func TestNew_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		descs   []IndexDescriptor
		message string
	}{
		{
			name: "unknown target",
			descs: []IndexDescriptor{{
				EntityType:   "Root",
				Root:         true,
				Associations: []AssociationPath{{Property: "ghost", TargetType: "Ghost"}},
			}},
			message: `unknown entity type "Ghost"`,
		},
		{
			name: "mapped_by without inverse",
			descs: []IndexDescriptor{{
				EntityType:   "Root",
				Associations: []AssociationPath{{Property: "self", TargetType: "Root", MappedBy: "self"}},
			}},
			message: "mapped_by requires inverse",
		},
		{
			name: "mapped_by not pointing back",
			descs: []IndexDescriptor{
				{
					EntityType:   "Owner",
					Root:         true,
					Associations: []AssociationPath{{Property: "pets", TargetType: "Pet", Inverse: true, MappedBy: "name"}},
				},
				{EntityType: "Pet", IndexedProperties: []string{"name"}},
			},
			message: `mapped_by "name"`,
		},
		{
			name:    "duplicate type",
			descs:   []IndexDescriptor{{EntityType: "Root"}, {EntityType: "Root"}},
			message: "declared more than once",
		},
		{
			name:    "missing type",
			descs:   []IndexDescriptor{{Root: true}},
			message: "has no entity type",
		},
		{
			name: "property both indexed and association",
			descs: []IndexDescriptor{{
				EntityType:        "Root",
				IndexedProperties: []string{"owner"},
				Associations:      []AssociationPath{{Property: "owner", TargetType: "Root"}},
			}},
			message: "both indexed property and association",
		},
		{
			name: "bad cardinality",
			descs: []IndexDescriptor{{
				EntityType:   "Root",
				Associations: []AssociationPath{{Property: "self", TargetType: "Root", Cardinality: "some"}},
			}},
			message: `unknown cardinality "some"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.descs...)
			if err == nil {
				t.Fatal("expected configuration error")
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("error %v does not wrap ErrConfiguration", err)
			}
			var cerrs *ConfigurationErrors
			if !errors.As(err, &cerrs) || len(cerrs.Errors) == 0 {
				t.Fatalf("expected *ConfigurationErrors, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.message)
			}
		})
	}
}

func TestNew_CyclicGraphIsAccepted(t *testing.T) {
	// Given: a root that references A while A references the root back
	_, err := New(
		IndexDescriptor{
			EntityType:   "Root",
			Root:         true,
			Associations: []AssociationPath{{Property: "a", TargetType: "A", TowardHolder: true}},
		},
		IndexDescriptor{
			EntityType:   "A",
			Associations: []AssociationPath{{Property: "root", TargetType: "Root", TowardHolder: true}},
		},
	)

	// Then: cycles are a traversal concern, not a configuration error
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
}

func TestFingerprint_StableAcrossDeclarationOrder(t *testing.T) {
	descs := testDescriptors()
	a, _ := New(descs...)
	b, _ := New(descs[2], descs[0], descs[1])

	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("fingerprints differ: %s vs %s", a.FingerprintHex(), b.FingerprintHex())
	}

	descs[0].IndexedProperties = append(descs[0].IndexedProperties, "extra")
	c, _ := New(descs...)
	if c.Fingerprint() == a.Fingerprint() {
		t.Error("fingerprint did not change with configuration")
	}
	if len(a.FingerprintHex()) != 16 {
		t.Errorf("FingerprintHex() = %q, want 16 hex chars", a.FingerprintHex())
	}
}

func TestNew_DoesNotAliasInput(t *testing.T) {
	descs := testDescriptors()
	r, _ := New(descs...)

	descs[0].IndexedProperties[0] = "mutated"

	root, _ := r.Describe("TestRootEntity")
	if root.IndexedProperties[0] != "textValue" {
		t.Error("registry shares storage with caller")
	}
}

func TestRoots(t *testing.T) {
	r, _ := New(testDescriptors()...)
	roots := r.Roots()
	if len(roots) != 1 || roots[0] != "TestRootEntity" {
		t.Errorf("Roots() = %v", roots)
	}
	if len(r.Types()) != 3 {
		t.Errorf("Types() = %v", r.Types())
	}
}

const testMetadata = `
entities:
  - type: Order
    root: true
    indexed: [number, status]
    associations:
      - property: lines
        target: OrderLine
        cardinality: many
  - type: OrderLine
    indexed: [sku]
    associations:
      - property: order
        target: Order
        inverse: true
        toward_holder: true
`

func TestParse(t *testing.T) {
	r, err := Parse([]byte(testMetadata))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	line, ok := r.Describe("OrderLine")
	if !ok {
		t.Fatal("OrderLine missing")
	}
	order, ok := line.Association("order")
	if !ok || !order.ReachesRoot || !order.TowardHolder {
		t.Errorf("order association = %+v", order)
	}
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("entities:\n  - type: Order\n    rooted: true\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.yaml")
	if err := os.WriteFile(path, []byte(testMetadata), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if !r.IsRoot("Order") {
		t.Error("Order should be a root")
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
