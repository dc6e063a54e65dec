package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
	"github.com/custodia-labs/ferry/internal/logger"
)

// AlienProcessor maintains alien markings on destination nodes.
//
// A transferred node n holds repository r in its invader set when either
// r is n's own origin and n sits under a transferred parent owned by a
// different repository, or some child of n holds r and r is not n's
// origin. Walks up the tree stop at the first node that was not
// transferred.
//
// Markings must only be changed through this type, inside the transaction
// that changes the tree.
type AlienProcessor struct {
	store driven.NodeStore
}

// NewAlienProcessor creates an alien processor over the destination store.
func NewAlienProcessor(store driven.NodeStore) *AlienProcessor {
	return &AlienProcessor{store: store}
}

// IsAlien reports whether a node has been invaded by any repository.
func (p *AlienProcessor) IsAlien(ctx context.Context, ref domain.NodeRef) (bool, error) {
	m, err := p.store.Marking(ctx, ref)
	if err != nil {
		return false, err
	}
	return m.IsAlien(), nil
}

// OnCreateChild marks a child created by repositoryID under a transferred
// parent and propagates the invasion to the parent chain. When isNewNode
// is false the child may already carry invaders from its own subtree;
// those are propagated too. Repeating a call changes nothing.
func (p *AlienProcessor) OnCreateChild(ctx context.Context, assoc domain.ChildAssociationRef, repositoryID string, isNewNode bool) error {
	parent, err := p.store.Get(ctx, assoc.Parent)
	if err != nil {
		return fmt.Errorf("alien create: %w", err)
	}
	if !parent.Transferred() {
		return nil
	}

	m, err := p.store.Marking(ctx, assoc.Child)
	if err != nil {
		return fmt.Errorf("alien create: %w", err)
	}
	if m.Owner == "" {
		m.Owner = repositoryID
	}

	carry := domain.NewRepositorySet()
	if parent.Origin != repositoryID {
		if m.Invaders.Add(repositoryID) {
			if err := p.store.SaveMarking(ctx, assoc.Child, m); err != nil {
				return fmt.Errorf("alien create: %w", err)
			}
			logger.Debug("%s invaded by %s", assoc.Child, repositoryID)
		}
		carry.Add(repositoryID)
	}
	if !isNewNode {
		for id := range m.Invaders {
			carry.Add(id)
		}
	}
	return p.propagate(ctx, assoc.Parent, carry)
}

// AfterMoveAlien re-evaluates a node that has just moved to
// newAssoc.Parent. The node's own invasion flag follows the new parent;
// everything it still carries is propagated up the new parent chain.
//
// The old parent chain is cleaned up by calling BeforeDeleteAlien before
// the move.
func (p *AlienProcessor) AfterMoveAlien(ctx context.Context, newAssoc domain.ChildAssociationRef) error {
	child, err := p.store.Get(ctx, newAssoc.Child)
	if err != nil {
		return fmt.Errorf("alien move: %w", err)
	}
	if !child.Transferred() {
		return nil
	}
	parent, err := p.store.Get(ctx, newAssoc.Parent)
	if err != nil {
		return fmt.Errorf("alien move: %w", err)
	}

	m, err := p.store.Marking(ctx, newAssoc.Child)
	if err != nil {
		return fmt.Errorf("alien move: %w", err)
	}

	var changed bool
	if parent.Transferred() && parent.Origin != child.Origin {
		changed = m.Invaders.Add(child.Origin)
	} else {
		changed = m.Invaders.Remove(child.Origin)
	}
	if changed {
		if err := p.store.SaveMarking(ctx, newAssoc.Child, m); err != nil {
			return fmt.Errorf("alien move: %w", err)
		}
	}

	if !parent.Transferred() {
		return nil
	}
	return p.propagate(ctx, newAssoc.Parent, m.Invaders.Clone())
}

// BeforeDeleteAlien withdraws everything a node contributes to its parent
// chain before the node is deleted or moved away. oldAssoc names the
// parent to start from when the node is no longer reachable through its
// live primary parent; nil uses the live parent.
func (p *AlienProcessor) BeforeDeleteAlien(ctx context.Context, ref domain.NodeRef, oldAssoc *domain.ChildAssociationRef) error {
	m, err := p.store.Marking(ctx, ref)
	if err != nil {
		return fmt.Errorf("alien delete: %w", err)
	}
	if !m.IsAlien() {
		return nil
	}

	var parent domain.NodeRef
	if oldAssoc != nil {
		parent = oldAssoc.Parent
	} else {
		assoc, err := p.store.PrimaryParent(ctx, ref)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("alien delete: %w", err)
		}
		parent = assoc.Parent
	}
	return p.retract(ctx, parent, ref, m.Invaders.Clone())
}

// PruneNode removes fromRepositoryID's claim on a node and its subtree.
// Nodes left with no invaders that were invaded by, or owned by,
// fromRepositoryID are deleted along with their subtree. Nodes still
// invaded by another repository survive, unmarked for fromRepositoryID.
func (p *AlienProcessor) PruneNode(ctx context.Context, ref domain.NodeRef, fromRepositoryID string) error {
	var parent *domain.NodeRef
	assoc, err := p.store.PrimaryParent(ctx, ref)
	switch {
	case err == nil:
		parent = &assoc.Parent
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("alien prune: %w", err)
	}

	stack := []domain.NodeRef{ref}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, err := p.store.Get(ctx, cur)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("alien prune: %w", err)
		}
		m, err := p.store.Marking(ctx, cur)
		if err != nil {
			return fmt.Errorf("alien prune: %w", err)
		}

		hadRepo := m.Invaders.Remove(fromRepositoryID)
		if !hadRepo && node.Origin != fromRepositoryID {
			continue
		}
		if !m.IsAlien() {
			logger.Debug("pruning %s for %s", cur, fromRepositoryID)
			if err := p.store.DeleteNode(ctx, cur); err != nil {
				return fmt.Errorf("alien prune: %w", err)
			}
			continue
		}
		if hadRepo {
			if err := p.store.SaveMarking(ctx, cur, m); err != nil {
				return fmt.Errorf("alien prune: %w", err)
			}
		}

		children, err := p.store.Children(ctx, cur, "", "")
		if err != nil {
			return fmt.Errorf("alien prune: %w", err)
		}
		for _, c := range children {
			stack = append(stack, c.Child)
		}
	}

	if parent == nil {
		return nil
	}
	return p.retract(ctx, *parent, ref, domain.NewRepositorySet(fromRepositoryID))
}

// propagate adds the carried repositories to start and its ancestors.
// Each node drops its own origin from what it passes on. The walk ends at
// the first node that is not transferred or that already holds everything
// carried.
func (p *AlienProcessor) propagate(ctx context.Context, start domain.NodeRef, carry domain.RepositorySet) error {
	cur := start
	for len(carry) > 0 {
		node, err := p.store.Get(ctx, cur)
		if err != nil {
			return fmt.Errorf("alien propagate: %w", err)
		}
		if !node.Transferred() {
			return nil
		}
		m, err := p.store.Marking(ctx, cur)
		if err != nil {
			return fmt.Errorf("alien propagate: %w", err)
		}
		if m.Owner == "" {
			m.Owner = node.Origin
		}

		next := domain.NewRepositorySet()
		changed := false
		for id := range carry {
			if id == node.Origin {
				continue
			}
			if m.Invaders.Add(id) {
				changed = true
			}
			next.Add(id)
		}
		if !changed {
			return nil
		}
		if err := p.store.SaveMarking(ctx, cur, m); err != nil {
			return fmt.Errorf("alien propagate: %w", err)
		}
		logger.Debug("%s invaded by %v", cur, m.Invaders.Sorted())

		assoc, err := p.store.PrimaryParent(ctx, cur)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("alien propagate: %w", err)
		}
		carry = next
		cur = assoc.Parent
	}
	return nil
}

// retract removes candidate repositories from start and its ancestors.
// A node keeps a repository that is its own origin or that another child
// still supplies. excluded is ignored as a supplier of start.
func (p *AlienProcessor) retract(ctx context.Context, start, excluded domain.NodeRef, candidates domain.RepositorySet) error {
	cur := start
	first := true
	for len(candidates) > 0 {
		node, err := p.store.Get(ctx, cur)
		if err != nil {
			return fmt.Errorf("alien retract: %w", err)
		}
		if !node.Transferred() {
			return nil
		}
		m, err := p.store.Marking(ctx, cur)
		if err != nil {
			return fmt.Errorf("alien retract: %w", err)
		}

		children, err := p.store.Children(ctx, cur, "", "")
		if err != nil {
			return fmt.Errorf("alien retract: %w", err)
		}
		removed := domain.NewRepositorySet()
		for id := range candidates {
			if !m.Invaders.Has(id) || id == node.Origin {
				continue
			}
			supplied, err := p.suppliedByChild(ctx, children, id, excluded, first)
			if err != nil {
				return err
			}
			if !supplied {
				m.Invaders.Remove(id)
				removed.Add(id)
			}
		}
		if len(removed) == 0 {
			return nil
		}
		if err := p.store.SaveMarking(ctx, cur, m); err != nil {
			return fmt.Errorf("alien retract: %w", err)
		}
		logger.Debug("%s no longer invaded by %v", cur, removed.Sorted())

		assoc, err := p.store.PrimaryParent(ctx, cur)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("alien retract: %w", err)
		}
		candidates = removed
		cur = assoc.Parent
		first = false
	}
	return nil
}

func (p *AlienProcessor) suppliedByChild(ctx context.Context, children []domain.ChildAssociationRef, id string, excluded domain.NodeRef, skipExcluded bool) (bool, error) {
	for _, c := range children {
		if skipExcluded && c.Child == excluded {
			continue
		}
		cm, err := p.store.Marking(ctx, c.Child)
		if err != nil {
			return false, fmt.Errorf("alien retract: %w", err)
		}
		if cm.Invaders.Has(id) {
			return true, nil
		}
	}
	return false, nil
}
