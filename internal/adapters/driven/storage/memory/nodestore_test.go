package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ferry/internal/core/domain"
)

var testStore = domain.StoreRef{Protocol: "workspace", Identifier: "SpacesStore"}

func nodeRef(id string) domain.NodeRef {
	return domain.NodeRef{Store: testStore, ID: id}
}

func mustCreate(t *testing.T, s *NodeStore, parent domain.NodeRef, id string) domain.NodeRef {
	t.Helper()
	assoc, err := s.CreateNode(context.Background(), parent, "cm:contains", id, domain.Node{Ref: nodeRef(id), Type: "cm:folder"})
	require.NoError(t, err)
	return assoc.Child
}

func TestNodeStore_AddStore(t *testing.T) {
	ctx := context.Background()
	s := NewNodeStore()

	root := s.AddStore(testStore)
	assert.Equal(t, root, s.AddStore(testStore), "adding twice returns the same root")

	ok, err := s.StoreExists(ctx, testStore)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.RootNode(ctx, testStore)
	require.NoError(t, err)
	assert.Equal(t, root, got)

	_, err = s.RootNode(ctx, domain.StoreRef{Protocol: "archive", Identifier: "SpacesStore"})
	assert.ErrorIs(t, err, domain.ErrStoreNotFound)

	_, err = s.PrimaryParent(ctx, root)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteNode(ctx, root), domain.ErrInvalidInput)
}

func TestNodeStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewNodeStore()
	root := s.AddStore(testStore)

	a := mustCreate(t, s, root, "a")
	b := mustCreate(t, s, a, "b")

	node, err := s.Get(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "cm:folder", node.Type)

	parent, err := s.PrimaryParent(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, a, parent.Parent)
	assert.Equal(t, "b", parent.Name)
	assert.True(t, parent.Primary)

	_, err = s.CreateNode(ctx, root, "cm:contains", "dup", domain.Node{Ref: a})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	_, err = s.CreateNode(ctx, nodeRef("missing"), "cm:contains", "x", domain.Node{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assoc, err := s.CreateNode(ctx, root, "cm:contains", "fresh", domain.Node{})
	require.NoError(t, err)
	assert.False(t, assoc.Child.IsZero(), "zero ref is assigned an identity")
	assert.Equal(t, testStore, assoc.Child.Store)
}

func TestNodeStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewNodeStore()
	root := s.AddStore(testStore)
	_, err := s.CreateNode(ctx, root, "cm:contains", "a", domain.Node{
		Ref:        nodeRef("a"),
		Properties: map[string]any{"cm:name": "a"},
	})
	require.NoError(t, err)

	node, err := s.Get(ctx, nodeRef("a"))
	require.NoError(t, err)
	node.Properties["cm:name"] = "changed"

	again, err := s.Get(ctx, nodeRef("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", again.Properties["cm:name"])
}

func TestNodeStore_Children(t *testing.T) {
	ctx := context.Background()
	s := NewNodeStore()
	root := s.AddStore(testStore)
	mustCreate(t, s, root, "one")
	mustCreate(t, s, root, "two")
	_, err := s.CreateNode(ctx, root, "cm:rendition", "thumb", domain.Node{Ref: nodeRef("thumb")})
	require.NoError(t, err)

	all, err := s.Children(ctx, root, "", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "one", all[0].Name, "creation order")

	named, err := s.Children(ctx, root, "cm:contains", "two")
	require.NoError(t, err)
	require.Len(t, named, 1)
	assert.Equal(t, nodeRef("two"), named[0].Child)

	typed, err := s.Children(ctx, root, "cm:rendition", "")
	require.NoError(t, err)
	assert.Len(t, typed, 1)
}

func TestNodeStore_MoveNode(t *testing.T) {
	ctx := context.Background()
	s := NewNodeStore()
	root := s.AddStore(testStore)
	a := mustCreate(t, s, root, "a")
	b := mustCreate(t, s, a, "b")
	c := mustCreate(t, s, root, "c")

	assoc, err := s.MoveNode(ctx, b, c, "cm:contains", "renamed")
	require.NoError(t, err)
	assert.Equal(t, c, assoc.Parent)

	children, err := s.Children(ctx, a, "", "")
	require.NoError(t, err)
	assert.Empty(t, children)
	children, err = s.Children(ctx, c, "", "renamed")
	require.NoError(t, err)
	assert.Len(t, children, 1)

	_, err = s.MoveNode(ctx, c, b, "cm:contains", "loop")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = s.MoveNode(ctx, nodeRef("missing"), c, "cm:contains", "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNodeStore_DeleteNodeRemovesSubtree(t *testing.T) {
	ctx := context.Background()
	s := NewNodeStore()
	root := s.AddStore(testStore)
	a := mustCreate(t, s, root, "a")
	b := mustCreate(t, s, a, "b")
	mustCreate(t, s, b, "c")
	keep := mustCreate(t, s, root, "keep")

	require.NoError(t, s.DeleteNode(ctx, a))

	for _, id := range []string{"a", "b", "c"} {
		ok, err := s.Exists(ctx, nodeRef(id))
		require.NoError(t, err)
		assert.False(t, ok, id)
	}
	ok, err := s.Exists(ctx, keep)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, s.Len())
	assert.ErrorIs(t, s.DeleteNode(ctx, a), domain.ErrNotFound)
}

func TestNodeStore_Marking(t *testing.T) {
	ctx := context.Background()
	s := NewNodeStore()
	root := s.AddStore(testStore)
	_, err := s.CreateNode(ctx, root, "cm:contains", "a", domain.Node{Ref: nodeRef("a"), Origin: "repo-a"})
	require.NoError(t, err)

	m, err := s.Marking(ctx, nodeRef("a"))
	require.NoError(t, err)
	assert.Equal(t, "repo-a", m.Owner)
	assert.False(t, m.IsAlien())

	m.Invaders.Add("repo-b")
	require.NoError(t, s.SaveMarking(ctx, nodeRef("a"), m))
	m.Invaders.Add("repo-c")

	stored, err := s.Marking(ctx, nodeRef("a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-b"}, stored.Invaders.Sorted(), "saved marking is a copy")

	stored.Invaders.Remove("repo-b")
	require.NoError(t, s.SaveMarking(ctx, nodeRef("a"), stored))
	cleared, err := s.Marking(ctx, nodeRef("a"))
	require.NoError(t, err)
	assert.False(t, cleared.IsAlien())

	_, err = s.Marking(ctx, nodeRef("missing"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransaction_RollbackRestores(t *testing.T) {
	ctx := context.Background()
	s := NewNodeStore()
	root := s.AddStore(testStore)
	a := mustCreate(t, s, root, "a")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	mustCreate(t, s, a, "b")
	require.NoError(t, s.UpdateNode(ctx, domain.Node{Ref: a, Type: "cm:content"}))
	require.NoError(t, tx.Rollback(ctx))

	assert.Equal(t, 2, s.Len())
	node, err := s.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "cm:folder", node.Type)
	children, err := s.Children(ctx, a, "", "")
	require.NoError(t, err)
	assert.Empty(t, children)

	assert.ErrorIs(t, tx.Rollback(ctx), domain.ErrInvalidInput, "finished twice")
}

func TestTransaction_Commit(t *testing.T) {
	ctx := context.Background()
	s := NewNodeStore()
	root := s.AddStore(testStore)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	mustCreate(t, s, root, "a")
	require.NoError(t, tx.Commit(ctx))

	ok, err := s.Exists(ctx, nodeRef("a"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTransaction_RollbackOnly(t *testing.T) {
	ctx := context.Background()
	s := NewNodeStore()
	root := s.AddStore(testStore)
	first := errors.New("first")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	mustCreate(t, s, root, "a")
	tx.MarkFailed(first)
	tx.MarkFailed(errors.New("second"))
	assert.True(t, tx.Failed())
	assert.Equal(t, first, tx.Cause())

	err = tx.Commit(ctx)
	assert.ErrorIs(t, err, domain.ErrRollbackOnly)
	assert.ErrorIs(t, err, first)
	assert.Equal(t, 1, s.Len(), "work rolled back")
}

func TestTransaction_Serialised(t *testing.T) {
	s := NewNodeStore()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Begin(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, tx.Commit(context.Background()))
	next, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, next.Rollback(context.Background()))
}
