package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ferry/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ferry/internal/core/domain"
)

func applyManifest(t *testing.T, f *treeFixture, monitor *memory.ProgressMonitor, records []domain.ManifestRecord, opts ...PrimaryOption) error {
	t.Helper()
	header := records[0].(domain.ManifestHeader)
	processor := NewPrimaryProcessor("T1", header.RepositoryID, f.store, monitor, opts...)
	harness := NewManifestHarness("T1", processor, monitor, nil)
	return harness.Run(f.ctx, &sliceReader{records: records})
}

// loggedNodes returns the ids of nodes logged with the given kind.
func loggedNodes(t *testing.T, monitor *memory.ProgressMonitor, kind domain.LogEntryKind) []string {
	t.Helper()
	entries, err := monitor.Entries(context.Background(), "T1")
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if e.Kind == kind && e.Node != nil {
			out = append(out, e.Node.ID)
		}
	}
	return out
}

func TestPrimaryProcessor_CreatesTree(t *testing.T) {
	f := newTreeFixture(t)
	monitor := newHarnessMonitor(t)
	m := newManifest(repoA).
		folder("a", "").
		folder("b", "a", "a").
		folder("c", "b", "a", "b")

	require.NoError(t, applyManifest(t, f, monitor, m.build()))

	c, err := f.store.Get(f.ctx, ref("c"))
	require.NoError(t, err)
	assert.Equal(t, repoA, c.Origin)
	assert.Equal(t, "cm:folder", c.Type)
	parent, err := f.store.PrimaryParent(f.ctx, ref("c"))
	require.NoError(t, err)
	assert.Equal(t, ref("b"), parent.Parent)

	a, err := f.store.PrimaryParent(f.ctx, ref("a"))
	require.NoError(t, err)
	assert.Equal(t, f.root, a.Parent, "source root maps to destination root by path")

	assert.Equal(t, []string{"a", "b", "c"}, loggedNodes(t, monitor, domain.LogCreated))
}

func TestPrimaryProcessor_OrphanPlacedWhenParentArrives(t *testing.T) {
	f := newTreeFixture(t)
	monitor := newHarnessMonitor(t)
	m := newManifest(repoA).
		folder("a", "").
		folder("c", "b", "a", "b").
		folder("d", "c", "a", "b", "c").
		folder("b", "a", "a")

	require.NoError(t, applyManifest(t, f, monitor, m.build()))

	for _, id := range []string{"a", "b", "c", "d"} {
		assert.True(t, f.exists(id), id)
	}
	parent, err := f.store.PrimaryParent(f.ctx, ref("d"))
	require.NoError(t, err)
	assert.Equal(t, ref("c"), parent.Parent)
	assert.Equal(t, []string{"a", "b", "c", "d"}, loggedNodes(t, monitor, domain.LogCreated))
}

func TestPrimaryProcessor_OrphansRemainAtEnd(t *testing.T) {
	f := newTreeFixture(t)
	monitor := newHarnessMonitor(t)
	m := newManifest(repoA).
		folder("a", "").
		folder("c", "b", "a", "b")

	err := applyManifest(t, f, monitor, m.build())

	assert.ErrorIs(t, err, domain.ErrOrphansRemain)
	assert.ErrorIs(t, err, domain.ErrFatal)
	assert.Contains(t, loggedNodes(t, monitor, domain.LogError), "c")
	assert.False(t, f.exists("c"))
}

func TestPrimaryProcessor_UnknownStoreIsFatal(t *testing.T) {
	f := newTreeFixture(t)
	monitor := newHarnessMonitor(t)
	records := newManifest(repoA).folder("a", "").build()
	node := records[1].(*domain.NormalNode)
	node.Primary.Parent.Store = domain.StoreRef{Protocol: "archive", Identifier: "SpacesStore"}

	err := applyManifest(t, f, monitor, records)

	assert.ErrorIs(t, err, domain.ErrStoreNotFound)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestPrimaryProcessor_UpdatesAndMoves(t *testing.T) {
	f := newTreeFixture(t)
	monitor := newHarnessMonitor(t)
	first := newManifest(repoA).
		folder("a", "").
		folder("d", "").
		folder("b", "a", "a")
	require.NoError(t, applyManifest(t, f, monitor, first.build()))

	second := newManifest(repoA).folder("b", "d", "d").build()
	second[1].(*domain.NormalNode).Properties = map[string]any{"cm:title": "moved"}
	require.NoError(t, applyManifest(t, f, monitor, second))

	parent, err := f.store.PrimaryParent(f.ctx, ref("b"))
	require.NoError(t, err)
	assert.Equal(t, ref("d"), parent.Parent)
	children, err := f.store.Children(f.ctx, ref("a"), "", "")
	require.NoError(t, err)
	assert.Empty(t, children)

	b, err := f.store.Get(f.ctx, ref("b"))
	require.NoError(t, err)
	assert.Equal(t, "moved", b.Properties["cm:title"])
	assert.Equal(t, []string{"b"}, loggedNodes(t, monitor, domain.LogMoved))
}

func TestPrimaryProcessor_AdoptsLocalNodeByPath(t *testing.T) {
	f := newTreeFixture(t)
	monitor := newHarnessMonitor(t)
	_, err := f.store.CreateNode(f.ctx, f.root, "cm:contains", "shared",
		domain.Node{Ref: ref("local-shared"), Type: "cm:folder"})
	require.NoError(t, err)

	records := newManifest(repoA).folder("shared", "").build()
	node := records[1].(*domain.NormalNode)
	node.Ref = ref("src-shared")
	node.Primary.Child = node.Ref
	require.NoError(t, applyManifest(t, f, monitor, records))

	local, err := f.store.Get(f.ctx, ref("local-shared"))
	require.NoError(t, err)
	assert.Equal(t, repoA, local.Origin, "local node now belongs to the sender")
	assert.False(t, f.exists("src-shared"))
	assert.Equal(t, 2, f.store.Len())
}

func TestPrimaryProcessor_ReadOnlyManifest(t *testing.T) {
	f := newTreeFixture(t)
	monitor := newHarnessMonitor(t)
	records := newManifest(repoA).folder("a", "").build()
	header := records[0].(domain.ManifestHeader)
	header.ReadOnly = true
	records[0] = header

	require.NoError(t, applyManifest(t, f, monitor, records))

	a, err := f.store.Get(f.ctx, ref("a"))
	require.NoError(t, err)
	assert.Contains(t, a.Aspects, ReadOnlyAspect)
}

func TestPrimaryProcessor_DeletesNode(t *testing.T) {
	f := newTreeFixture(t)
	monitor := newHarnessMonitor(t)
	require.NoError(t, applyManifest(t, f, monitor, newManifest(repoA).
		folder("a", "").
		folder("b", "a", "a").
		folder("c", "b", "a", "b").
		build()))

	require.NoError(t, applyManifest(t, f, monitor, newManifest(repoA).
		deleted("b", "a", "a").
		deleted("gone", "a", "a").
		build()))

	assert.True(t, f.exists("a"))
	assert.False(t, f.exists("b"))
	assert.False(t, f.exists("c"))
	assert.Equal(t, []string{"b"}, loggedNodes(t, monitor, domain.LogDeleted))
}

func TestPrimaryProcessor_DeletePrunesAlienNode(t *testing.T) {
	f := newTreeFixture(t)
	monitor := newHarnessMonitor(t)
	require.NoError(t, applyManifest(t, f, monitor, newManifest(repoA).folder("a", "").build()))
	require.NoError(t, applyManifest(t, f, monitor, newManifest(repoB).
		folder("b", "a", "a").
		folder("b2", "b", "a", "b").
		build()))
	require.NoError(t, applyManifest(t, f, monitor, newManifest(repoC).folder("c", "b", "a", "b").build()))
	require.Equal(t, []string{repoB, repoC}, f.invaders("a"))
	assertMarkings(t, f.store, f.root)

	require.NoError(t, applyManifest(t, f, monitor, newManifest(repoB).deleted("b", "a", "a").build()))

	assert.True(t, f.exists("b"), "repo-c content still lives under b")
	assert.False(t, f.exists("b2"))
	assert.True(t, f.exists("c"))
	assert.Equal(t, []string{repoC}, f.invaders("a"))
	assert.Equal(t, []string{repoC}, f.invaders("b"))
}

func TestPrimaryProcessor_MarkingsAcrossRepositories(t *testing.T) {
	f := newTreeFixture(t)
	monitor := newHarnessMonitor(t)

	require.NoError(t, applyManifest(t, f, monitor, newManifest(repoA).
		folder("home", "").
		folder("docs", "home", "home").
		build()))
	require.NoError(t, applyManifest(t, f, monitor, newManifest(repoB).
		folder("inbox", "docs", "home", "docs").
		folder("mail", "inbox", "home", "docs", "inbox").
		build()))
	require.NoError(t, applyManifest(t, f, monitor, newManifest(repoC).
		folder("att", "mail", "home", "docs", "inbox", "mail").
		build()))
	assertMarkings(t, f.store, f.root)

	require.NoError(t, applyManifest(t, f, monitor, newManifest(repoB).
		folder("mail", "docs", "home", "docs").
		build()))
	assertMarkings(t, f.store, f.root)
	assert.Equal(t, []string{repoB, repoC}, f.invaders("docs"))
	assert.Equal(t, []string{repoB}, f.invaders("inbox"), "inbox keeps only its own invasion")
	assert.Equal(t, []string{repoB, repoC}, f.invaders("mail"))
}

func TestPrimaryProcessor_ContentHandler(t *testing.T) {
	f := newTreeFixture(t)
	monitor := newHarnessMonitor(t)
	content := domain.ContentData{URL: "store://2024/1/1/abc.bin", Size: 42, MimeType: "text/plain"}
	var placed []string

	err := applyManifest(t, f, monitor, newManifest(repoA).
		folder("a", "").
		file("doc", "a", content, "a").
		build(),
		WithContentHandler(func(_ context.Context, c domain.ContentData) error {
			placed = append(placed, c.URL)
			return nil
		}))
	require.NoError(t, err)

	assert.Equal(t, []string{content.URL}, placed)
	doc, err := f.store.Get(f.ctx, ref("doc"))
	require.NoError(t, err)
	assert.Equal(t, content, doc.Properties["cm:content"])
}

func TestPrimaryProcessor_ContentHandlerFailure(t *testing.T) {
	f := newTreeFixture(t)
	monitor := newHarnessMonitor(t)
	missing := errors.New("content gone")

	err := applyManifest(t, f, monitor, newManifest(repoA).
		file("doc", "", domain.ContentData{URL: "store://x.bin", Size: 1}).
		build(),
		WithContentHandler(func(context.Context, domain.ContentData) error { return missing }))

	assert.ErrorIs(t, err, missing)
	assert.False(t, f.exists("doc"))
}
