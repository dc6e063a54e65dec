package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
	"github.com/custodia-labs/ferry/internal/logger"
)

// NodeResolver maps source node identities onto destination nodes.
type NodeResolver struct {
	store driven.NodeStore
}

// NewNodeResolver creates a resolver over the destination node store.
func NewNodeResolver(store driven.NodeStore) *NodeResolver {
	return &NodeResolver{store: store}
}

// Resolve finds the destination counterparts of a source node and its
// primary parent.
//
// A node with the same identity always wins over path matching. A parent
// path that cannot be walked yields a nil parent without error. The only
// configuration failure is a parent association naming a store that does
// not exist, reported as domain.ErrStoreNotFound.
func (r *NodeResolver) Resolve(ctx context.Context, source domain.NodeRef, primary domain.ChildAssociationRef, parentPath domain.Path) (domain.ResolvedParentChildPair, error) {
	var pair domain.ResolvedParentChildPair

	exists, err := r.store.Exists(ctx, source)
	if err != nil {
		return pair, fmt.Errorf("look up %s: %w", source, err)
	}
	if exists {
		child := source
		pair.ResolvedChild = &child
	}

	parent, err := r.resolveParent(ctx, primary.Parent, parentPath)
	if err != nil {
		return pair, err
	}
	pair.ResolvedParent = parent

	if pair.ResolvedChild == nil && parent != nil {
		assocs, err := r.store.Children(ctx, *parent, primary.Type, primary.Name)
		if err != nil {
			return pair, fmt.Errorf("children of %s: %w", parent, err)
		}
		if len(assocs) > 0 {
			child := assocs[0].Child
			pair.ResolvedChild = &child
		}
	}

	logger.Debug("resolved %s: parent=%v child=%v", source, parent, pair.ResolvedChild)
	return pair, nil
}

func (r *NodeResolver) resolveParent(ctx context.Context, parent domain.NodeRef, parentPath domain.Path) (*domain.NodeRef, error) {
	ok, err := r.store.StoreExists(ctx, parent.Store)
	if err != nil {
		return nil, fmt.Errorf("look up store %s: %w", parent.Store, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrStoreNotFound, parent.Store)
	}

	exists, err := r.store.Exists(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", parent, err)
	}
	if exists {
		return &parent, nil
	}

	cur, err := r.store.RootNode(ctx, parent.Store)
	if err != nil {
		return nil, fmt.Errorf("root of %s: %w", parent.Store, err)
	}
	for _, name := range parentPath {
		assocs, err := r.store.Children(ctx, cur, "", name)
		if err != nil {
			return nil, fmt.Errorf("children of %s: %w", cur, err)
		}
		if len(assocs) == 0 {
			return nil, nil
		}
		cur = assocs[0].Child
	}
	return &cur, nil
}
