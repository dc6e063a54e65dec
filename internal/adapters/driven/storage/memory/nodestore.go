package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
)

// Ensure NodeStore implements the interface.
var _ driven.TransactionalNodeStore = (*NodeStore)(nil)

// RootType is the node type given to store roots.
const RootType = "sys:store_root"

type nodeRecord struct {
	node     domain.Node
	parent   *domain.ChildAssociationRef
	children []domain.ChildAssociationRef
	marking  *domain.AlienMarking
}

func (r *nodeRecord) clone() *nodeRecord {
	out := &nodeRecord{
		node:     cloneNode(r.node),
		children: slices.Clone(r.children),
	}
	if r.parent != nil {
		p := *r.parent
		out.parent = &p
	}
	if r.marking != nil {
		m := domain.AlienMarking{Owner: r.marking.Owner, Invaders: r.marking.Invaders.Clone()}
		out.marking = &m
	}
	return out
}

func cloneNode(n domain.Node) domain.Node {
	n.Aspects = slices.Clone(n.Aspects)
	n.Properties = maps.Clone(n.Properties)
	return n
}

// NodeStore is an in-memory transactional node graph.
//
// Transactions are serialised. Work done inside a transaction is applied
// directly and undone from a snapshot on rollback.
type NodeStore struct {
	mu     sync.RWMutex
	roots  map[domain.StoreRef]domain.NodeRef
	nodes  map[domain.NodeRef]*nodeRecord
	txLock chan struct{}
}

// NewNodeStore creates an empty node store.
func NewNodeStore() *NodeStore {
	return &NodeStore{
		roots:  make(map[domain.StoreRef]domain.NodeRef),
		nodes:  make(map[domain.NodeRef]*nodeRecord),
		txLock: make(chan struct{}, 1),
	}
}

// AddStore creates a store with a root node and returns the root.
// Adding an existing store returns its root.
func (s *NodeStore) AddStore(store domain.StoreRef) domain.NodeRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	if root, ok := s.roots[store]; ok {
		return root
	}
	root := domain.NodeRef{Store: store, ID: uuid.NewString()}
	s.roots[store] = root
	s.nodes[root] = &nodeRecord{node: domain.Node{Ref: root, Type: RootType}}
	return root
}

// StoreExists reports whether the store is present.
func (s *NodeStore) StoreExists(_ context.Context, store domain.StoreRef) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.roots[store]
	return ok, nil
}

// RootNode returns the root node of a store.
func (s *NodeStore) RootNode(_ context.Context, store domain.StoreRef) (domain.NodeRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	root, ok := s.roots[store]
	if !ok {
		return domain.NodeRef{}, fmt.Errorf("%w: %s", domain.ErrStoreNotFound, store)
	}
	return root, nil
}

// Exists reports whether a node is present.
func (s *NodeStore) Exists(_ context.Context, ref domain.NodeRef) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[ref]
	return ok, nil
}

// Get returns a copy of a node.
func (s *NodeStore) Get(_ context.Context, ref domain.NodeRef) (*domain.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.nodes[ref]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", ref, domain.ErrNotFound)
	}
	n := cloneNode(rec.node)
	return &n, nil
}

// PrimaryParent returns the node's primary parent association.
func (s *NodeStore) PrimaryParent(_ context.Context, ref domain.NodeRef) (domain.ChildAssociationRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.nodes[ref]
	if !ok {
		return domain.ChildAssociationRef{}, fmt.Errorf("node %s: %w", ref, domain.ErrNotFound)
	}
	if rec.parent == nil {
		return domain.ChildAssociationRef{}, fmt.Errorf("parent of %s: %w", ref, domain.ErrNotFound)
	}
	return *rec.parent, nil
}

// Children returns matching child associations in creation order.
func (s *NodeStore) Children(_ context.Context, parent domain.NodeRef, assocType, name string) ([]domain.ChildAssociationRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.nodes[parent]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", parent, domain.ErrNotFound)
	}
	var out []domain.ChildAssociationRef
	for _, assoc := range rec.children {
		if assocType != "" && assoc.Type != assocType {
			continue
		}
		if name != "" && assoc.Name != name {
			continue
		}
		out = append(out, assoc)
	}
	return out, nil
}

// CreateNode creates a node under parent. A zero node.Ref is given a
// fresh identity in the parent's store.
func (s *NodeStore) CreateNode(_ context.Context, parent domain.NodeRef, assocType, name string, node domain.Node) (domain.ChildAssociationRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prec, ok := s.nodes[parent]
	if !ok {
		return domain.ChildAssociationRef{}, fmt.Errorf("parent %s: %w", parent, domain.ErrNotFound)
	}
	if node.Ref.IsZero() {
		node.Ref = domain.NodeRef{Store: parent.Store, ID: uuid.NewString()}
	}
	if _, exists := s.nodes[node.Ref]; exists {
		return domain.ChildAssociationRef{}, fmt.Errorf("node %s: %w", node.Ref, domain.ErrAlreadyExists)
	}

	assoc := domain.ChildAssociationRef{
		Type:    assocType,
		Parent:  parent,
		Name:    name,
		Child:   node.Ref,
		Primary: true,
	}
	s.nodes[node.Ref] = &nodeRecord{node: cloneNode(node), parent: &assoc}
	prec.children = append(prec.children, assoc)
	return assoc, nil
}

// UpdateNode replaces everything but the identity of a node.
func (s *NodeStore) UpdateNode(_ context.Context, node domain.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.nodes[node.Ref]
	if !ok {
		return fmt.Errorf("node %s: %w", node.Ref, domain.ErrNotFound)
	}
	rec.node = cloneNode(node)
	return nil
}

// MoveNode re-parents a node. Moving a node beneath itself fails with
// domain.ErrInvalidInput.
func (s *NodeStore) MoveNode(_ context.Context, ref, newParent domain.NodeRef, assocType, name string) (domain.ChildAssociationRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.nodes[ref]
	if !ok {
		return domain.ChildAssociationRef{}, fmt.Errorf("node %s: %w", ref, domain.ErrNotFound)
	}
	prec, ok := s.nodes[newParent]
	if !ok {
		return domain.ChildAssociationRef{}, fmt.Errorf("parent %s: %w", newParent, domain.ErrNotFound)
	}
	for cur := prec; cur != nil; {
		if cur.node.Ref == ref {
			return domain.ChildAssociationRef{}, fmt.Errorf("%w: cannot move %s beneath itself", domain.ErrInvalidInput, ref)
		}
		if cur.parent == nil {
			break
		}
		cur = s.nodes[cur.parent.Parent]
	}

	if rec.parent != nil {
		s.detach(rec.parent.Parent, ref)
	}
	assoc := domain.ChildAssociationRef{
		Type:    assocType,
		Parent:  newParent,
		Name:    name,
		Child:   ref,
		Primary: true,
	}
	rec.parent = &assoc
	prec.children = append(prec.children, assoc)
	return assoc, nil
}

// DeleteNode removes a node and all of its descendants.
func (s *NodeStore) DeleteNode(_ context.Context, ref domain.NodeRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.nodes[ref]
	if !ok {
		return fmt.Errorf("node %s: %w", ref, domain.ErrNotFound)
	}
	if rec.parent == nil {
		return fmt.Errorf("%w: cannot delete store root %s", domain.ErrInvalidInput, ref)
	}
	s.detach(rec.parent.Parent, ref)

	stack := []domain.NodeRef{ref}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if r, ok := s.nodes[cur]; ok {
			for _, c := range r.children {
				stack = append(stack, c.Child)
			}
			delete(s.nodes, cur)
		}
	}
	return nil
}

func (s *NodeStore) detach(parent, child domain.NodeRef) {
	prec, ok := s.nodes[parent]
	if !ok {
		return
	}
	prec.children = slices.DeleteFunc(prec.children, func(a domain.ChildAssociationRef) bool {
		return a.Child == child
	})
}

// Marking returns a copy of the node's alien marking.
func (s *NodeStore) Marking(_ context.Context, ref domain.NodeRef) (domain.AlienMarking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.nodes[ref]
	if !ok {
		return domain.AlienMarking{}, fmt.Errorf("node %s: %w", ref, domain.ErrNotFound)
	}
	if rec.marking == nil {
		return domain.AlienMarking{Owner: rec.node.Origin, Invaders: domain.NewRepositorySet()}, nil
	}
	return domain.AlienMarking{Owner: rec.marking.Owner, Invaders: rec.marking.Invaders.Clone()}, nil
}

// SaveMarking stores a copy of the marking. An empty marking removes it.
func (s *NodeStore) SaveMarking(_ context.Context, ref domain.NodeRef, marking domain.AlienMarking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.nodes[ref]
	if !ok {
		return fmt.Errorf("node %s: %w", ref, domain.ErrNotFound)
	}
	if !marking.IsAlien() {
		rec.marking = nil
		return nil
	}
	rec.marking = &domain.AlienMarking{Owner: marking.Owner, Invaders: marking.Invaders.Clone()}
	return nil
}

// Len returns the number of nodes, store roots included.
func (s *NodeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Begin starts a transaction, waiting for any running one to finish.
func (s *NodeStore) Begin(ctx context.Context) (driven.Transaction, error) {
	select {
	case s.txLock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.RLock()
	snap := &snapshot{
		roots: maps.Clone(s.roots),
		nodes: make(map[domain.NodeRef]*nodeRecord, len(s.nodes)),
	}
	for ref, rec := range s.nodes {
		snap.nodes[ref] = rec.clone()
	}
	s.mu.RUnlock()

	return &Transaction{store: s, snap: snap}, nil
}

type snapshot struct {
	roots map[domain.StoreRef]domain.NodeRef
	nodes map[domain.NodeRef]*nodeRecord
}

// Ensure Transaction implements the interface.
var _ driven.Transaction = (*Transaction)(nil)

// Transaction is a NodeStore transaction.
type Transaction struct {
	mu     sync.Mutex
	store  *NodeStore
	snap   *snapshot
	cause  error
	failed bool
	done   bool
}

// MarkFailed makes the transaction rollback-only. The first cause wins.
func (t *Transaction) MarkFailed(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.failed {
		t.cause = cause
	}
	t.failed = true
}

// Failed reports whether the transaction is rollback-only.
func (t *Transaction) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Cause returns the first failure cause.
func (t *Transaction) Cause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cause
}

// Commit keeps the work. A rollback-only transaction is rolled back and
// domain.ErrRollbackOnly is returned.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	failed, cause := t.failed, t.cause
	t.mu.Unlock()

	if failed {
		if err := t.Rollback(ctx); err != nil {
			return err
		}
		if cause != nil {
			return fmt.Errorf("%w: %w", domain.ErrRollbackOnly, cause)
		}
		return domain.ErrRollbackOnly
	}
	return t.finish(false)
}

// Rollback restores the store to its state at Begin.
func (t *Transaction) Rollback(_ context.Context) error {
	return t.finish(true)
}

func (t *Transaction) finish(restore bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return fmt.Errorf("%w: transaction already finished", domain.ErrInvalidInput)
	}
	t.done = true

	if restore {
		t.store.mu.Lock()
		t.store.roots = t.snap.roots
		t.store.nodes = t.snap.nodes
		t.store.mu.Unlock()
	}
	t.snap = nil
	<-t.store.txLock
	return nil
}
