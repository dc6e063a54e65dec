package driven

import (
	"context"

	"github.com/custodia-labs/ferry/internal/core/domain"
)

// NodeStore is the destination repository's node graph.
// Methods return domain.ErrNotFound for missing nodes.
type NodeStore interface {
	// StoreExists reports whether the store is present.
	StoreExists(ctx context.Context, store domain.StoreRef) (bool, error)

	// RootNode returns the root node of a store.
	RootNode(ctx context.Context, store domain.StoreRef) (domain.NodeRef, error)

	// Exists reports whether a node with the given identity is present.
	Exists(ctx context.Context, ref domain.NodeRef) (bool, error)

	// Get returns a node.
	Get(ctx context.Context, ref domain.NodeRef) (*domain.Node, error)

	// PrimaryParent returns the node's primary parent association.
	// Store roots have none and return domain.ErrNotFound.
	PrimaryParent(ctx context.Context, ref domain.NodeRef) (domain.ChildAssociationRef, error)

	// Children returns the child associations of a node in creation order.
	// Empty assocType or name match any value.
	Children(ctx context.Context, parent domain.NodeRef, assocType, name string) ([]domain.ChildAssociationRef, error)

	// CreateNode creates node.Ref as a primary child of parent.
	CreateNode(ctx context.Context, parent domain.NodeRef, assocType, name string, node domain.Node) (domain.ChildAssociationRef, error)

	// UpdateNode replaces a node's type, aspects and properties.
	UpdateNode(ctx context.Context, node domain.Node) error

	// MoveNode re-parents a node under a new primary association.
	MoveNode(ctx context.Context, ref, newParent domain.NodeRef, assocType, name string) (domain.ChildAssociationRef, error)

	// DeleteNode removes a node and its primary descendants.
	DeleteNode(ctx context.Context, ref domain.NodeRef) error

	// Marking returns the node's alien marking. Unmarked nodes return an
	// empty marking owned by the node's origin.
	Marking(ctx context.Context, ref domain.NodeRef) (domain.AlienMarking, error)

	// SaveMarking stores the node's alien marking.
	SaveMarking(ctx context.Context, ref domain.NodeRef, marking domain.AlienMarking) error
}

// Transaction is an explicit unit of work against a NodeStore.
type Transaction interface {
	// MarkFailed makes the transaction rollback-only.
	MarkFailed(cause error)

	// Failed reports whether the transaction is rollback-only.
	Failed() bool

	// Cause returns the first error passed to MarkFailed.
	Cause() error

	// Commit makes the work durable. It fails with domain.ErrRollbackOnly
	// once MarkFailed has been called.
	Commit(ctx context.Context) error

	// Rollback discards the work.
	Rollback(ctx context.Context) error
}

// TransactionalNodeStore is a NodeStore that can run transactions.
type TransactionalNodeStore interface {
	NodeStore

	// Begin starts a transaction. Transactions are serialised by the store.
	Begin(ctx context.Context) (Transaction, error)
}
