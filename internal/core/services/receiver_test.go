package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ferry/internal/adapters/driven/content/filesystem"
	"github.com/custodia-labs/ferry/internal/adapters/driven/manifest/jsonl"
	"github.com/custodia-labs/ferry/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driving"
)

const receiverRepo = "repo-dest"

type receiverFixture struct {
	t        *testing.T
	ctx      context.Context
	store    *memory.NodeStore
	root     domain.NodeRef
	staging  *filesystem.Staging
	content  *filesystem.Store
	monitor  *memory.ProgressMonitor
	receiver *ReceiverService
}

func newReceiverFixture(t *testing.T, opts ...ReceiverOption) *receiverFixture {
	t.Helper()
	store := memory.NewNodeStore()
	f := &receiverFixture{
		t:       t,
		ctx:     context.Background(),
		store:   store,
		root:    store.AddStore(spaces),
		staging: filesystem.NewStaging(t.TempDir()),
		content: filesystem.NewStore(t.TempDir()),
		monitor: memory.NewProgressMonitor(0),
	}
	f.receiver = NewReceiverService(receiverRepo, store, f.staging, f.content, f.monitor, jsonl.New(), opts...)
	t.Cleanup(f.receiver.Wait)
	return f
}

func (f *receiverFixture) begin(from string) string {
	f.t.Helper()
	resp, err := f.receiver.Begin(f.ctx, driving.BeginRequest{FromRepositoryID: from, FromVersion: domain.CurrentVersion})
	require.NoError(f.t, err)
	return resp.TransferID
}

func (f *receiverFixture) snapshot(id string, m *manifest) *domain.DeltaList {
	f.t.Helper()
	var encoded, out bytes.Buffer
	require.NoError(f.t, jsonl.New().Encode(&encoded, m.build()))
	require.NoError(f.t, f.receiver.SaveSnapshot(f.ctx, id, &encoded, &out))
	delta := domain.NewDeltaList()
	require.NoError(f.t, json.Unmarshal(out.Bytes(), delta))
	return delta
}

// commit prepares and commits id, then waits for the outcome.
func (f *receiverFixture) commit(id string) *domain.TransferProgress {
	f.t.Helper()
	require.NoError(f.t, f.receiver.Prepare(f.ctx, id))
	require.NoError(f.t, f.receiver.Commit(f.ctx, id))
	f.receiver.Wait()
	p, err := f.receiver.Status(f.ctx, id)
	require.NoError(f.t, err)
	return p
}

func TestReceiverService_FullTransfer(t *testing.T) {
	f := newReceiverFixture(t)
	doc := domain.ContentData{URL: "store://sha256/abc", Size: 5}
	m := newManifest(repoA).
		folder("a", "").
		file("doc", "a", doc, "a")

	id := f.begin(repoA)
	active, ok := f.receiver.Active()
	require.True(t, ok)
	assert.Equal(t, id, active)

	delta := f.snapshot(id, m)
	assert.Equal(t, []string{doc.URL}, delta.URLs())

	require.NoError(t, f.receiver.SaveContent(f.ctx, id, doc.PartName(), strings.NewReader("hello")))
	require.NoError(t, f.receiver.Prepare(f.ctx, id))

	p := f.commit(id)
	assert.Equal(t, domain.StatusComplete, p.Status)
	assert.Nil(t, p.Error)
	assert.Equal(t, 2, p.EndPosition)
	assert.Equal(t, 2, p.CurrentPosition)

	node, err := f.store.Get(f.ctx, ref("doc"))
	require.NoError(t, err)
	assert.Equal(t, repoA, node.Origin)
	held, err := f.content.Has(f.ctx, doc.URL)
	require.NoError(t, err)
	assert.True(t, held)

	_, ok = f.receiver.Active()
	assert.False(t, ok, "lock released after commit")
	_, err = f.staging.OpenManifest(f.ctx, id)
	assert.ErrorIs(t, err, domain.ErrUnknownTransfer, "staging removed after commit")

	var report bytes.Buffer
	require.NoError(t, f.receiver.Report(f.ctx, id, &report))
	kinds := map[domain.LogEntryKind]int{}
	scanner := bufio.NewScanner(&report)
	for scanner.Scan() {
		var e domain.LogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		assert.Equal(t, id, e.TransferID)
		kinds[e.Kind]++
	}
	assert.Equal(t, 2, kinds[domain.LogCreated])
	assert.Zero(t, kinds[domain.LogError])
}

func TestReceiverService_UnchangedContentNotRequested(t *testing.T) {
	f := newReceiverFixture(t)
	doc := domain.ContentData{URL: "store://sha256/abc", Size: 5}
	m := newManifest(repoA).file("doc", "", doc)

	id := f.begin(repoA)
	f.snapshot(id, m)
	require.NoError(t, f.receiver.SaveContent(f.ctx, id, doc.PartName(), strings.NewReader("hello")))
	require.Equal(t, domain.StatusComplete, f.commit(id).Status)

	id = f.begin(repoA)
	delta := f.snapshot(id, m)
	assert.Zero(t, delta.Len())
	require.NoError(t, f.receiver.Prepare(f.ctx, id))
	assert.Equal(t, domain.StatusComplete, f.commit(id).Status, "content already held by the store")
}

func TestReceiverService_BeginRules(t *testing.T) {
	f := newReceiverFixture(t)

	_, err := f.receiver.Begin(f.ctx, driving.BeginRequest{FromRepositoryID: receiverRepo})
	assert.ErrorIs(t, err, domain.ErrTransferToSelf)
	var te *domain.TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, MsgTransferToSelf, te.MessageID)

	resp, err := f.receiver.Begin(f.ctx, driving.BeginRequest{FromRepositoryID: receiverRepo, AllowTransferToSelf: true})
	require.NoError(t, err)
	assert.Equal(t, domain.CurrentVersion, resp.Version)

	_, err = f.receiver.Begin(f.ctx, driving.BeginRequest{FromRepositoryID: repoA})
	assert.ErrorIs(t, err, domain.ErrTransferInProgress)

	require.NoError(t, f.receiver.Abort(f.ctx, resp.TransferID))
	f.begin(repoA)
}

func TestReceiverService_PrepareRequiresContent(t *testing.T) {
	f := newReceiverFixture(t)
	id := f.begin(repoA)
	f.snapshot(id, newManifest(repoA).file("doc", "", domain.ContentData{URL: "store://sha256/abc", Size: 5}))

	err := f.receiver.Prepare(f.ctx, id)

	assert.ErrorIs(t, err, domain.ErrContentMissing)
	var te *domain.TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, []string{"store://sha256/abc"}, te.Params)
}

func TestReceiverService_Abort(t *testing.T) {
	f := newReceiverFixture(t)
	id := f.begin(repoA)
	f.snapshot(id, newManifest(repoA).folder("a", ""))

	require.NoError(t, f.receiver.Abort(f.ctx, id))

	p, err := f.receiver.Status(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, p.Status)
	_, ok := f.receiver.Active()
	assert.False(t, ok)
	assert.False(t, f.existsInStore("a"))

	require.NoError(t, f.receiver.Abort(f.ctx, id), "aborting twice is harmless")
	assert.ErrorIs(t, f.receiver.Abort(f.ctx, "never-began"), domain.ErrUnknownTransfer)
}

func TestReceiverService_AbortAfterCommitIgnored(t *testing.T) {
	f := newReceiverFixture(t)
	id := f.begin(repoA)
	f.snapshot(id, newManifest(repoA).folder("a", ""))
	require.Equal(t, domain.StatusComplete, f.commit(id).Status)

	require.NoError(t, f.receiver.Abort(f.ctx, id))

	p, err := f.receiver.Status(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, p.Status)
	assert.True(t, f.existsInStore("a"))
}

func TestReceiverService_FailedCommitRollsBack(t *testing.T) {
	hook := &recordingHook{}
	f := newReceiverFixture(t, WithReceiverFailureHook(hook))
	before := f.store.Len()

	id := f.begin(repoA)
	f.snapshot(id, newManifest(repoA).
		folder("a", "").
		folder("orphan", "missing", "a", "missing"))

	p := f.commit(id)

	assert.Equal(t, domain.StatusError, p.Status)
	require.NotNil(t, p.Error)
	assert.Contains(t, p.Error.Error(), domain.ErrOrphansRemain.Error())
	assert.Equal(t, before, f.store.Len(), "created nodes rolled back")
	assert.NotEmpty(t, hook.nodes)
	_, ok := f.receiver.Active()
	assert.False(t, ok)
}

func TestReceiverService_CommitRequiresPrepare(t *testing.T) {
	f := newReceiverFixture(t)
	doc := domain.ContentData{URL: "store://sha256/abc", Size: 5}
	id := f.begin(repoA)
	f.snapshot(id, newManifest(repoA).file("doc", "", doc))

	err := f.receiver.Commit(f.ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	var te *domain.TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, MsgWrongPhase, te.MessageID)

	require.NoError(t, f.receiver.SaveContent(f.ctx, id, doc.PartName(), strings.NewReader("hello")))
	require.NoError(t, f.receiver.Prepare(f.ctx, id))
	require.NoError(t, f.receiver.SaveContent(f.ctx, id, doc.PartName(), strings.NewReader("hello")))
	assert.ErrorIs(t, f.receiver.Commit(f.ctx, id), domain.ErrInvalidInput, "upload after prepare")

	p, err := f.receiver.Status(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPreCommit, p.Status)

	assert.Equal(t, domain.StatusComplete, f.commit(id).Status)
}

func TestReceiverService_UnknownTransfer(t *testing.T) {
	f := newReceiverFixture(t)

	err := f.receiver.SaveContent(f.ctx, "nope", "part", strings.NewReader("x"))
	assert.ErrorIs(t, err, domain.ErrUnknownTransfer)

	_, err = f.receiver.Status(f.ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrUnknownTransfer)
	var te *domain.TransferError
	assert.True(t, errors.As(err, &te))

	assert.ErrorIs(t, f.receiver.Report(f.ctx, "nope", &bytes.Buffer{}), domain.ErrUnknownTransfer)
	assert.ErrorIs(t, f.receiver.Commit(f.ctx, "nope"), domain.ErrUnknownTransfer)
}

func TestReceiverService_FixedTransferIDs(t *testing.T) {
	f := newReceiverFixture(t, WithTransferIDs(func() string { return "T-1" }))

	assert.Equal(t, "T-1", f.begin(repoA))
	assert.NoError(t, f.receiver.Test(f.ctx))
}

func (f *receiverFixture) existsInStore(id string) bool {
	f.t.Helper()
	ok, err := f.store.Exists(f.ctx, ref(id))
	require.NoError(f.t, err)
	return ok
}
