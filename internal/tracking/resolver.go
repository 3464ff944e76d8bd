package tracking

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hyperengineering/ripple/internal/registry"
	"github.com/hyperengineering/ripple/internal/types"
)

// ReverseAssociationLookup finds the entities that hold target through path.
// Implementations must reflect post-commit state and must return an error
// rather than an empty result when the lookup cannot be performed.
type ReverseAssociationLookup interface {
	FindHolders(ctx context.Context, target types.EntityRef, path registry.AssociationPath) ([]types.EntityRef, error)
}

// DefaultMaxDepth bounds the number of reverse hops walked per change.
const DefaultMaxDepth = 16

// Resolver expands a classified change into the set of affected root entities.
type Resolver struct {
	registry    *registry.Registry
	lookup      ReverseAssociationLookup
	maxDepth    int
	concurrency int
}

// NewResolver creates a Resolver. maxDepth <= 0 selects DefaultMaxDepth;
// concurrency <= 0 runs lookups of one level sequentially.
func NewResolver(reg *registry.Registry, lookup ReverseAssociationLookup, maxDepth, concurrency int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Resolver{
		registry:    reg,
		lookup:      lookup,
		maxDepth:    maxDepth,
		concurrency: concurrency,
	}
}

// navigation is one reverse hop to evaluate for a frontier entity.
type navigation struct {
	from     types.EntityRef
	path     registry.AssociationPath
	recorded []types.EntityRef
	query    bool
}

// Resolve walks reverse associations breadth-first from the subject and returns
// affected roots in discovery order. A root is never reported twice, and cycles
// in the association graph terminate because every entity is visited once.
func (r *Resolver) Resolve(ctx context.Context, cc ClassifiedChange) ([]types.EntityRef, error) {
	subject := cc.Subject()
	var result []types.EntityRef
	if cc.SelfIsRoot {
		result = append(result, subject)
	}

	visited := map[types.EntityRef]struct{}{subject: {}}
	frontier := []types.EntityRef{subject}

	for depth := 0; len(frontier) > 0; depth++ {
		navs := r.plan(cc, frontier, depth)
		if len(navs) == 0 {
			// every frontier entity is a dead end
			break
		}
		if depth == r.maxDepth {
			return nil, fmt.Errorf("%w: %d hops from %s", ErrMaxDepthExceeded, r.maxDepth, subject)
		}

		holders, err := r.follow(ctx, navs)
		if err != nil {
			return nil, err
		}

		var next []types.EntityRef
		for _, h := range holders {
			if _, seen := visited[h.ref]; seen {
				continue
			}
			visited[h.ref] = struct{}{}
			if h.reachesRoot {
				result = append(result, h.ref)
				continue
			}
			if _, known := r.registry.Describe(h.ref.Type); !known {
				slog.Debug("holder type outside indexing domain",
					"component", "tracking",
					"entity", h.ref.String(),
				)
				continue
			}
			next = append(next, h.ref)
		}
		frontier = next
	}
	return result, nil
}

// plan lists the reverse hops for one BFS level. At the subject level the
// change's own old and new association values are holders too. For a deleted
// subject a recorded pre-delete linkage replaces the lookup, which can no
// longer see it; without one the lookup is still asked.
func (r *Resolver) plan(cc ClassifiedChange, frontier []types.EntityRef, depth int) []navigation {
	var navs []navigation
	for _, e := range frontier {
		desc, ok := r.registry.Describe(e.Type)
		if !ok {
			continue
		}
		for _, path := range desc.HolderPaths() {
			nav := navigation{from: e, path: path, query: true}
			if depth == 0 {
				if p, ok := cc.Change.Property(path.Property); ok {
					nav.recorded = append(types.RefsOf(p.Old), types.RefsOf(p.New)...)
					nav.query = cc.Change.Kind != types.ChangeDeleted
				}
			}
			navs = append(navs, nav)
		}
	}
	return navs
}

// holder is an entity reached by one reverse hop.
type holder struct {
	ref         types.EntityRef
	reachesRoot bool
}

// follow evaluates the hops of one level, running lookups concurrently up to
// the configured limit. Holders are returned in plan order.
func (r *Resolver) follow(ctx context.Context, navs []navigation) ([]holder, error) {
	found := make([][]types.EntityRef, len(navs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, nav := range navs {
		if !nav.query {
			continue
		}
		g.Go(func() error {
			holders, err := r.lookup.FindHolders(gctx, nav.from, nav.path)
			if err != nil {
				LookupErrors.Inc()
				return &ReverseLookupError{Target: nav.from, Property: nav.path.Property, Err: err}
			}
			found[i] = holders
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []holder
	for i, nav := range navs {
		for _, ref := range nav.recorded {
			out = append(out, holder{ref: ref, reachesRoot: nav.path.ReachesRoot})
		}
		for _, ref := range found[i] {
			out = append(out, holder{ref: ref, reachesRoot: nav.path.ReachesRoot})
		}
	}
	return out, nil
}
