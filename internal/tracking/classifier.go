package tracking

import (
	"log/slog"

	"github.com/hyperengineering/ripple/internal/registry"
	"github.com/hyperengineering/ripple/internal/types"
)

// ClassifiedChange is a change that can affect the search index.
type ClassifiedChange struct {
	Change types.EntityChange

	// Operation is what the change implies for the subject itself:
	// DELETE only for a deleted root, INDEX otherwise.
	Operation types.IndexingOperation

	// SelfIsRoot is true when the subject is a root index target.
	SelfIsRoot bool
}

// Subject is the entity the change was recorded on.
func (c ClassifiedChange) Subject() types.EntityRef {
	return c.Change.Subject
}

// Classifier filters a commit's changes down to the ones that matter for indexing.
type Classifier struct {
	registry *registry.Registry
}

// NewClassifier creates a Classifier over an immutable registry.
func NewClassifier(reg *registry.Registry) *Classifier {
	return &Classifier{registry: reg}
}

// Classify decides whether change is interesting and which operation it implies.
// Unknown entity types are not interesting; they are logged, never returned as errors.
func (c *Classifier) Classify(change types.EntityChange) (ClassifiedChange, bool) {
	kind := string(change.Kind)

	if change.Subject.Type == "" || change.Subject.ID == "" || !change.Kind.Valid() {
		slog.Warn("ignoring malformed entity change",
			"component", "tracking",
			"entity", change.Subject.String(),
			"kind", kind,
		)
		ClassifiedCount.WithLabelValues(kind, outcomeMalformed).Inc()
		return ClassifiedChange{}, false
	}

	desc, ok := c.registry.Describe(change.Subject.Type)
	if !ok {
		slog.Debug("entity type outside indexing domain",
			"component", "tracking",
			"entity", change.Subject.String(),
		)
		ClassifiedCount.WithLabelValues(kind, outcomeUnknownType).Inc()
		return ClassifiedChange{}, false
	}

	if !interesting(desc, change) {
		ClassifiedCount.WithLabelValues(kind, outcomeIgnored).Inc()
		return ClassifiedChange{}, false
	}

	op := types.OpIndex
	if change.Kind == types.ChangeDeleted && desc.Root {
		op = types.OpDelete
	}
	ClassifiedCount.WithLabelValues(kind, outcomeInteresting).Inc()
	return ClassifiedChange{Change: change, Operation: op, SelfIsRoot: desc.Root}, true
}

func interesting(desc *registry.IndexDescriptor, change types.EntityChange) bool {
	switch change.Kind {
	case types.ChangeDeleted:
		// A deleted non-root still changes the projection of its holders.
		return true
	case types.ChangeCreated:
		if desc.Root {
			return true
		}
		// A new non-root only matters once linked to a holder; the link may be
		// recorded here (owning side) or on the holder's own change.
		for _, p := range change.Properties {
			if a, ok := desc.Association(p.Property); ok && a.TowardHolder && len(types.RefsOf(p.New)) > 0 {
				return true
			}
		}
		return false
	default:
		for _, p := range change.Properties {
			if desc.Relevant(p.Property) {
				return true
			}
		}
		return false
	}
}
