package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
	"github.com/custodia-labs/ferry/internal/core/ports/driving"
	"github.com/custodia-labs/ferry/internal/logger"
)

// Ensure ReceiverService implements the interface.
var _ driving.TransferReceiver = (*ReceiverService)(nil)

// Message ids carried by receiver errors.
const (
	MsgTransferInProgress = "transfer_service.receiver.lock_unavailable"
	MsgTransferToSelf     = "transfer_service.receiver.transfer_to_self"
	MsgUnknownTransfer    = "transfer_service.receiver.unknown_transfer"
	MsgContentMissing     = "transfer_service.receiver.content_missing"
	MsgWrongPhase         = "transfer_service.receiver.wrong_phase"
	MsgCommitFailed       = "transfer_service.receiver.commit_failed"
)

type activeTransfer struct {
	id       string
	fromRepo string
	status   domain.TransferStatus
	// prepared is set by a successful Prepare and cleared by any later
	// upload.
	prepared bool
}

// ReceiverService is the receiving end of the transfer protocol. It holds
// a single transfer lock: one transfer is open at a time, from begin
// until it completes, fails or is aborted.
type ReceiverService struct {
	repositoryID string
	store        driven.TransactionalNodeStore
	staging      driven.StagingArea
	content      driven.ContentStore
	monitor      driven.ProgressMonitor
	codec        driven.ManifestCodec
	hook         driven.FailureHook
	newID        func() string

	mu      sync.Mutex
	active  *activeTransfer
	commits sync.WaitGroup
}

// ReceiverOption configures a ReceiverService.
type ReceiverOption func(*ReceiverService)

// WithReceiverFailureHook sets the hook run when a manifest record fails
// during commit.
func WithReceiverFailureHook(hook driven.FailureHook) ReceiverOption {
	return func(r *ReceiverService) {
		if hook != nil {
			r.hook = hook
		}
	}
}

// WithTransferIDs replaces the transfer id generator.
func WithTransferIDs(next func() string) ReceiverOption {
	return func(r *ReceiverService) {
		r.newID = next
	}
}

// NewReceiverService creates a receiver for the repository repositoryID.
func NewReceiverService(
	repositoryID string,
	store driven.TransactionalNodeStore,
	staging driven.StagingArea,
	content driven.ContentStore,
	monitor driven.ProgressMonitor,
	codec driven.ManifestCodec,
	opts ...ReceiverOption,
) *ReceiverService {
	r := &ReceiverService{
		repositoryID: repositoryID,
		store:        store,
		staging:      staging,
		content:      content,
		monitor:      monitor,
		codec:        codec,
		hook:         NoopFailureHook{},
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Test confirms the receiver is up.
func (r *ReceiverService) Test(context.Context) error {
	return nil
}

// Begin takes the transfer lock and opens a transfer.
func (r *ReceiverService) Begin(ctx context.Context, req driving.BeginRequest) (*driving.BeginResponse, error) {
	if !req.AllowTransferToSelf && req.FromRepositoryID == r.repositoryID {
		return nil, protocolError(domain.ErrTransferToSelf, MsgTransferToSelf, req.FromRepositoryID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return nil, protocolError(domain.ErrTransferInProgress, MsgTransferInProgress, r.active.id)
	}

	id := r.newID()
	if err := r.staging.Create(ctx, id); err != nil {
		return nil, fmt.Errorf("create staging area: %w", err)
	}
	if err := r.monitor.Start(ctx, id); err != nil {
		_ = r.staging.Remove(ctx, id)
		return nil, fmt.Errorf("start progress: %w", err)
	}
	r.active = &activeTransfer{id: id, fromRepo: req.FromRepositoryID, status: domain.StatusPreCommit}
	r.comment(ctx, id, fmt.Sprintf("transfer from %s (%s) began", req.FromRepositoryID, req.FromVersion))
	logger.Info("Began transfer %s from %s", id, req.FromRepositoryID)

	return &driving.BeginResponse{TransferID: id, Version: domain.CurrentVersion}, nil
}

// SaveSnapshot stores the manifest and writes the delta list to out.
func (r *ReceiverService) SaveSnapshot(ctx context.Context, transferID string, manifest io.Reader, out io.Writer) error {
	t, err := r.precommit(transferID)
	if err != nil {
		return err
	}
	r.setPrepared(t, false)
	if err := r.staging.SaveManifest(ctx, transferID, manifest); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}

	requisite := NewRequisiteProcessor(r.store, out)
	if err := r.runManifest(ctx, transferID, requisite, nil, WithoutProgress()); err != nil {
		return err
	}
	r.comment(ctx, transferID, fmt.Sprintf("manifest received, %d content items required", requisite.Delta().Len()))
	return nil
}

// SaveContent stores one content part.
func (r *ReceiverService) SaveContent(ctx context.Context, transferID, partName string, body io.Reader) error {
	t, err := r.precommit(transferID)
	if err != nil {
		return err
	}
	r.setPrepared(t, false)
	if err := r.staging.SaveContent(ctx, transferID, partName, body); err != nil {
		return fmt.Errorf("save content %s: %w", partName, err)
	}
	return nil
}

// Prepare checks that every required content item has arrived.
func (r *ReceiverService) Prepare(ctx context.Context, transferID string) error {
	t, err := r.precommit(transferID)
	if err != nil {
		return err
	}

	requisite := NewRequisiteProcessor(r.store, nil)
	if err := r.runManifest(ctx, transferID, requisite, nil, WithoutProgress()); err != nil {
		return err
	}
	for _, url := range requisite.Delta().URLs() {
		ok, err := r.staging.HasContent(ctx, transferID, domain.ContentPartName(url))
		if err != nil {
			return fmt.Errorf("check content %s: %w", url, err)
		}
		if !ok {
			return protocolError(domain.ErrContentMissing, MsgContentMissing, url)
		}
	}
	r.setPrepared(t, true)
	r.comment(ctx, transferID, "prepared")
	return nil
}

// Commit starts applying the manifest in the background and returns.
// The transfer must have been prepared since its last upload.
func (r *ReceiverService) Commit(ctx context.Context, transferID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookup(transferID)
	if err != nil {
		return err
	}
	if t.status.HasCommitStarted() {
		return nil
	}
	if !t.prepared {
		return protocolError(domain.ErrInvalidInput, MsgWrongPhase, transferID, "not prepared")
	}
	if err := r.monitor.UpdateStatus(ctx, transferID, domain.StatusCommitRequested); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	t.status = domain.StatusCommitRequested

	r.commits.Add(1)
	go func() {
		defer r.commits.Done()
		r.commit(context.WithoutCancel(ctx), t)
	}()
	return nil
}

func (r *ReceiverService) commit(ctx context.Context, t *activeTransfer) {
	defer r.release(ctx, t)

	r.setStatus(t, domain.StatusCommitting)
	if err := r.monitor.UpdateStatus(ctx, t.id, domain.StatusCommitting); err != nil {
		logger.Warn("transfer %s: update status: %v", t.id, err)
	}

	err := r.applyManifest(ctx, t)
	if err != nil {
		logger.Error("transfer %s failed: %v", t.id, err)
		if failErr := r.monitor.Fail(ctx, t.id, transferErrorFor(err)); failErr != nil {
			logger.Warn("transfer %s: record failure: %v", t.id, failErr)
		}
		r.setStatus(t, domain.StatusError)
		return
	}

	if err := r.monitor.UpdateStatus(ctx, t.id, domain.StatusComplete); err != nil {
		logger.Warn("transfer %s: update status: %v", t.id, err)
	}
	r.setStatus(t, domain.StatusComplete)
	r.comment(ctx, t.id, "committed")
	logger.Info("Committed transfer %s", t.id)
}

func (r *ReceiverService) applyManifest(ctx context.Context, t *activeTransfer) error {
	txn, err := r.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	primary := NewPrimaryProcessor(t.id, t.fromRepo, r.store, r.monitor,
		WithContentHandler(func(ctx context.Context, c domain.ContentData) error {
			return r.promote(ctx, t.id, c)
		}))
	runErr := r.runManifest(ctx, t.id, primary, txn, WithFailureHook(r.hook))
	if runErr == nil && txn.Failed() {
		runErr = txn.Cause()
	}
	if runErr != nil {
		if rbErr := txn.Rollback(ctx); rbErr != nil {
			logger.Warn("transfer %s: rollback: %v", t.id, rbErr)
		}
		return runErr
	}
	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// promote moves a staged content part into the content store. Content the
// sender did not send must already be held by the store.
func (r *ReceiverService) promote(ctx context.Context, transferID string, c domain.ContentData) error {
	part := c.PartName()
	staged, err := r.staging.HasContent(ctx, transferID, part)
	if err != nil {
		return err
	}
	if !staged {
		held, err := r.content.Has(ctx, c.URL)
		if err != nil {
			return err
		}
		if !held {
			return protocolError(domain.ErrContentMissing, MsgContentMissing, c.URL)
		}
		return nil
	}
	rc, err := r.staging.OpenContent(ctx, transferID, part)
	if err != nil {
		return err
	}
	defer rc.Close()
	return r.content.Put(ctx, c.URL, rc)
}

func (r *ReceiverService) runManifest(ctx context.Context, transferID string, processor driven.ManifestProcessor, txn driven.Transaction, opts ...HarnessOption) error {
	rc, err := r.staging.OpenManifest(ctx, transferID)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer rc.Close()

	harness := NewManifestHarness(transferID, processor, r.monitor, txn, opts...)
	return harness.Run(ctx, r.codec.NewReader(rc))
}

// Abort cancels a transfer that has not started committing. Aborting a
// transfer that is committing or finished does nothing.
func (r *ReceiverService) Abort(ctx context.Context, transferID string) error {
	r.mu.Lock()
	t, err := r.lookup(transferID)
	if err != nil {
		r.mu.Unlock()
		if errors.Is(err, domain.ErrUnknownTransfer) {
			if _, perr := r.monitor.Progress(ctx, transferID); perr == nil {
				return nil
			}
		}
		return err
	}
	if t.status.HasCommitStarted() {
		r.mu.Unlock()
		logger.Info("Ignoring abort of transfer %s: commit already started", transferID)
		return nil
	}
	t.status = domain.StatusCancelled
	r.mu.Unlock()

	if err := r.monitor.UpdateStatus(ctx, transferID, domain.StatusCancelled); err != nil {
		logger.Warn("transfer %s: update status: %v", transferID, err)
	}
	r.comment(ctx, transferID, "aborted")
	r.release(ctx, t)
	return nil
}

// Status returns a transfer's progress.
func (r *ReceiverService) Status(ctx context.Context, transferID string) (*domain.TransferProgress, error) {
	p, err := r.monitor.Progress(ctx, transferID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTransfer) {
			return nil, protocolError(domain.ErrUnknownTransfer, MsgUnknownTransfer, transferID)
		}
		return nil, err
	}
	return p, nil
}

// Report writes the transfer's log to w as JSON lines.
func (r *ReceiverService) Report(ctx context.Context, transferID string, w io.Writer) error {
	entries, err := r.monitor.Entries(ctx, transferID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTransfer) {
			return protocolError(domain.ErrUnknownTransfer, MsgUnknownTransfer, transferID)
		}
		return err
	}
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return nil
}

// Wait blocks until background commits have finished.
func (r *ReceiverService) Wait() {
	r.commits.Wait()
}

// Active returns the id of the open transfer, if any.
func (r *ReceiverService) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return "", false
	}
	return r.active.id, true
}

func (r *ReceiverService) precommit(transferID string) (*activeTransfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookup(transferID)
	if err != nil {
		return nil, err
	}
	if t.status != domain.StatusPreCommit {
		return nil, protocolError(domain.ErrInvalidInput, MsgWrongPhase, transferID, string(t.status))
	}
	return t, nil
}

// lookup returns the open transfer with the given id. Caller holds mu.
func (r *ReceiverService) lookup(transferID string) (*activeTransfer, error) {
	if r.active == nil || r.active.id != transferID {
		return nil, protocolError(domain.ErrUnknownTransfer, MsgUnknownTransfer, transferID)
	}
	return r.active, nil
}

func (r *ReceiverService) setStatus(t *activeTransfer, status domain.TransferStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.status = status
}

func (r *ReceiverService) setPrepared(t *activeTransfer, prepared bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.prepared = prepared
}

// release drops the staging area and the transfer lock.
func (r *ReceiverService) release(ctx context.Context, t *activeTransfer) {
	if err := r.staging.Remove(ctx, t.id); err != nil {
		logger.Warn("transfer %s: remove staging area: %v", t.id, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == t {
		r.active = nil
	}
}

func (r *ReceiverService) comment(ctx context.Context, transferID, msg string) {
	err := r.monitor.Log(ctx, domain.LogEntry{TransferID: transferID, Kind: domain.LogComment, Message: msg})
	if err != nil {
		logger.Warn("transfer %s: log: %v", transferID, err)
	}
}

// receiverError pairs a sentinel with the structured error sent to the
// client.
type receiverError struct {
	sentinel error
	te       *domain.TransferError
}

func (e *receiverError) Error() string { return e.te.Error() }

func (e *receiverError) Unwrap() []error { return []error{e.sentinel, e.te} }

func protocolError(sentinel error, messageID string, params ...string) error {
	te := domain.NewTransferError(messageID, params...)
	te.Message = sentinel.Error()
	return &receiverError{sentinel: sentinel, te: te}
}

func transferErrorFor(err error) *domain.TransferError {
	var te *domain.TransferError
	if errors.As(err, &te) {
		return te
	}
	return &domain.TransferError{Message: err.Error(), MessageID: MsgCommitFailed, Params: []string{err.Error()}}
}
