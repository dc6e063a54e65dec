package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ferry/internal/adapters/driven/manifest/jsonl"
	"github.com/custodia-labs/ferry/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
	"github.com/custodia-labs/ferry/internal/core/ports/driving"
)

var errLoopback = errors.New("loopback failure")

// loopbackTransmitter speaks to an in-process receiver.
type loopbackTransmitter struct {
	receiver *ReceiverService
	content  map[string]string
	failOn   string
	status   func(*domain.TransferProgress) *domain.TransferProgress

	mu    sync.Mutex
	calls []string
}

var _ driven.Transmitter = (*loopbackTransmitter)(nil)

func (l *loopbackTransmitter) record(phase string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, phase)
	if l.failOn == phase {
		return &domain.TransmitterError{Phase: phase, Target: "loopback", Err: errLoopback}
	}
	return nil
}

func (l *loopbackTransmitter) called(phase string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.calls {
		if c == phase {
			return true
		}
	}
	return false
}

func (l *loopbackTransmitter) VerifyTarget(ctx context.Context, _ domain.TransferTarget) error {
	if err := l.record("test"); err != nil {
		return err
	}
	return l.receiver.Test(ctx)
}

func (l *loopbackTransmitter) Begin(ctx context.Context, target domain.TransferTarget, from string, version domain.TransferVersion) (*domain.Transfer, error) {
	if err := l.record("begin"); err != nil {
		return nil, err
	}
	resp, err := l.receiver.Begin(ctx, driving.BeginRequest{FromRepositoryID: from, FromVersion: version})
	if err != nil {
		return nil, err
	}
	return &domain.Transfer{ID: resp.TransferID, Target: target, FromVersion: version, ToVersion: resp.Version, Status: domain.StatusPreCommit}, nil
}

func (l *loopbackTransmitter) SendManifest(ctx context.Context, t *domain.Transfer, manifest io.Reader, result io.Writer) error {
	if err := l.record("post-snapshot"); err != nil {
		return err
	}
	return l.receiver.SaveSnapshot(ctx, t.ID, manifest, result)
}

func (l *loopbackTransmitter) SendContent(ctx context.Context, t *domain.Transfer, batch []domain.ContentData) error {
	if err := l.record("post-content"); err != nil {
		return err
	}
	for _, c := range batch {
		if err := l.receiver.SaveContent(ctx, t.ID, c.PartName(), strings.NewReader(l.content[c.URL])); err != nil {
			return err
		}
	}
	return nil
}

func (l *loopbackTransmitter) Prepare(ctx context.Context, t *domain.Transfer) error {
	if err := l.record("prepare"); err != nil {
		return err
	}
	return l.receiver.Prepare(ctx, t.ID)
}

func (l *loopbackTransmitter) Commit(ctx context.Context, t *domain.Transfer) error {
	if err := l.record("commit"); err != nil {
		return err
	}
	return l.receiver.Commit(ctx, t.ID)
}

func (l *loopbackTransmitter) Abort(ctx context.Context, t *domain.Transfer) error {
	if err := l.record("abort"); err != nil {
		return err
	}
	return l.receiver.Abort(ctx, t.ID)
}

func (l *loopbackTransmitter) GetStatus(ctx context.Context, t *domain.Transfer) (*domain.TransferProgress, error) {
	if err := l.record("status"); err != nil {
		return nil, err
	}
	p, err := l.receiver.Status(ctx, t.ID)
	if err != nil || l.status == nil {
		return p, err
	}
	return l.status(p), nil
}

func (l *loopbackTransmitter) GetTransferReport(ctx context.Context, t *domain.Transfer, w io.Writer) error {
	if err := l.record("report"); err != nil {
		return err
	}
	return l.receiver.Report(ctx, t.ID, w)
}

type transferFixture struct {
	*receiverFixture
	config      *memory.ConfigStore
	transmitter *loopbackTransmitter
	service     *TransferService
}

func newTransferFixture(t *testing.T) *transferFixture {
	t.Helper()
	rf := newReceiverFixture(t)
	config := memory.NewConfigStore()
	_ = config.Set("transfer.repository_id", repoA)
	_ = config.Set("transfer.poll_interval_ms", 5)
	_ = config.Set("targets.dest.endpoint", "http://dest.example.com/transfer")
	transmitter := &loopbackTransmitter{receiver: rf.receiver, content: map[string]string{}}
	return &transferFixture{
		receiverFixture: rf,
		config:          config,
		transmitter:     transmitter,
		service:         NewTransferService(NewSettingsService(config), transmitter, jsonl.New()),
	}
}

func (f *transferFixture) manifest() []domain.ManifestRecord {
	one := domain.ContentData{URL: "store://sha256/one", Size: 3}
	two := domain.ContentData{URL: "store://sha256/two", Size: 3}
	f.transmitter.content[one.URL] = "one"
	f.transmitter.content[two.URL] = "two"
	return newManifest(repoA).
		folder("a", "").
		file("one", "a", one, "a").
		file("two", "a", two, "a").
		build()
}

func TestTransferService_Transfer(t *testing.T) {
	f := newTransferFixture(t)
	var seen []domain.TransferStatus

	result, err := f.service.Transfer(f.ctx, driving.TransferRequest{
		Target:   "dest",
		Manifest: f.manifest(),
		OnProgress: func(p domain.TransferProgress) {
			seen = append(seen, p.Status)
		},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, result.Progress.Status)
	assert.Equal(t, domain.StatusComplete, result.Transfer.Status)
	assert.Equal(t, domain.CurrentVersion, result.Transfer.ToVersion)
	assert.Equal(t, 2, result.ContentTotal)
	assert.Equal(t, 2, result.ContentSent)
	assert.NotEmpty(t, seen)
	assert.Equal(t, domain.StatusComplete, seen[len(seen)-1])
	assert.True(t, f.existsInStore("two"))
	assert.False(t, f.transmitter.called("abort"))
}

func TestTransferService_SendsOnlyMissingContent(t *testing.T) {
	f := newTransferFixture(t)
	records := f.manifest()
	_, err := f.service.Transfer(f.ctx, driving.TransferRequest{Target: "dest", Manifest: records})
	require.NoError(t, err)

	result, err := f.service.Transfer(f.ctx, driving.TransferRequest{Target: "dest", Manifest: records})

	require.NoError(t, err)
	assert.Equal(t, 2, result.ContentTotal)
	assert.Zero(t, result.ContentSent)
}

func TestTransferService_AbortsOnFailureBeforeCommit(t *testing.T) {
	f := newTransferFixture(t)
	f.transmitter.failOn = "post-content"

	result, err := f.service.Transfer(f.ctx, driving.TransferRequest{Target: "dest", Manifest: f.manifest()})

	assert.Nil(t, result)
	assert.ErrorIs(t, err, errLoopback)
	var te *domain.TransmitterError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "post-content", te.Phase)
	assert.True(t, f.transmitter.called("abort"))
	_, active := f.receiver.Active()
	assert.False(t, active, "receiver lock released by abort")
	assert.False(t, f.transmitter.called("commit"))
}

func TestTransferService_ReceiverCommitFailure(t *testing.T) {
	f := newTransferFixture(t)
	records := newManifest(repoA).folder("orphan", "missing", "missing").build()

	result, err := f.service.Transfer(f.ctx, driving.TransferRequest{Target: "dest", Manifest: records})

	require.Error(t, err)
	var te *domain.TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, MsgCommitFailed, te.MessageID)
	require.NotNil(t, result)
	assert.Equal(t, domain.StatusError, result.Progress.Status)
	assert.False(t, f.transmitter.called("abort"), "no abort once commit was accepted")
}

func TestTransferService_CancelWhileCommitting(t *testing.T) {
	f := newTransferFixture(t)
	f.transmitter.status = func(p *domain.TransferProgress) *domain.TransferProgress {
		stuck := *p
		stuck.Status = domain.StatusCommitting
		return &stuck
	}
	ctx, cancel := context.WithTimeout(f.ctx, 200*time.Millisecond)
	defer cancel()

	_, err := f.service.Transfer(ctx, driving.TransferRequest{Target: "dest", Manifest: f.manifest()})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, f.transmitter.called("abort"))
	f.receiver.Wait()
	assert.True(t, f.existsInStore("a"), "abort after commit started is ignored")
}

func TestTransferService_CancelledStatus(t *testing.T) {
	f := newTransferFixture(t)
	f.transmitter.status = func(p *domain.TransferProgress) *domain.TransferProgress {
		return &domain.TransferProgress{Status: domain.StatusCancelled}
	}

	_, err := f.service.Transfer(f.ctx, driving.TransferRequest{Target: "dest", Manifest: f.manifest()})

	assert.ErrorIs(t, err, domain.ErrCancelled)
}

func TestTransferService_ConfigurationErrors(t *testing.T) {
	f := newTransferFixture(t)

	_, err := f.service.Transfer(f.ctx, driving.TransferRequest{Target: "elsewhere", Manifest: f.manifest()})
	assert.ErrorIs(t, err, domain.ErrTargetNotFound)

	_ = f.config.Set("transfer.repository_id", "")
	_, err = f.service.Transfer(f.ctx, driving.TransferRequest{Target: "dest", Manifest: f.manifest()})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	assert.False(t, f.transmitter.called("begin"))
}

func TestTransferService_VerifyStatusReport(t *testing.T) {
	f := newTransferFixture(t)
	result, err := f.service.Transfer(f.ctx, driving.TransferRequest{Target: "dest", Manifest: f.manifest()})
	require.NoError(t, err)
	id := result.Transfer.ID

	require.NoError(t, f.service.Verify(f.ctx, "dest"))

	p, err := f.service.Status(f.ctx, "dest", id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, p.Status)

	var report bytes.Buffer
	require.NoError(t, f.service.Report(f.ctx, "dest", id, &report))
	assert.Contains(t, report.String(), `"kind":"created"`)

	assert.ErrorIs(t, f.service.Verify(f.ctx, "nowhere"), domain.ErrTargetNotFound)
}
