package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
	"github.com/custodia-labs/ferry/internal/logger"
)

// ProgressInterval is how many node records pass between progress reports.
const ProgressInterval = 20

// Ensure NoopFailureHook implements the interface.
var _ driven.FailureHook = NoopFailureHook{}

// NoopFailureHook is the default failure hook. It does nothing.
type NoopFailureHook struct{}

// OnRecordFailure does nothing.
func (NoopFailureHook) OnRecordFailure(context.Context, string, *domain.NodeRef, error) error {
	return nil
}

// ManifestHarness feeds manifest records to a ManifestProcessor for one
// transfer, reporting progress and isolating per-record failures.
//
// Every failure is logged to the progress monitor, marks the transaction
// rollback-only and runs the failure hook. Failures wrapped with
// domain.Recoverable let processing continue; any other failure is fatal,
// returned as a *domain.NodeError, and every later record is refused with
// domain.ErrManifestAborted.
type ManifestHarness struct {
	transferID string
	processor  driven.ManifestProcessor
	monitor    driven.ProgressMonitor
	txn        driven.Transaction
	hook       driven.FailureHook
	progress   bool

	counter   int
	start     int
	sinceAt   int
	target    int
	hasHeader bool
	fatal     error
}

// HarnessOption configures a ManifestHarness.
type HarnessOption func(*ManifestHarness)

// WithFailureHook sets the hook run after each failed record.
func WithFailureHook(hook driven.FailureHook) HarnessOption {
	return func(h *ManifestHarness) {
		if hook != nil {
			h.hook = hook
		}
	}
}

// WithoutProgress stops the harness from moving progress positions.
// Failures are still logged to the monitor.
func WithoutProgress() HarnessOption {
	return func(h *ManifestHarness) {
		h.progress = false
	}
}

// NewManifestHarness creates a harness for one pass over a transfer's
// manifest. txn may be nil for passes that do not write.
func NewManifestHarness(
	transferID string,
	processor driven.ManifestProcessor,
	monitor driven.ProgressMonitor,
	txn driven.Transaction,
	opts ...HarnessOption,
) *ManifestHarness {
	h := &ManifestHarness{
		transferID: transferID,
		processor:  processor,
		monitor:    monitor,
		txn:        txn,
		hook:       NoopFailureHook{},
		progress:   true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Processed returns how many node records have been seen.
func (h *ManifestHarness) Processed() int {
	return h.counter
}

// StartManifest prepares the harness and the processor.
func (h *ManifestHarness) StartManifest(ctx context.Context) error {
	if h.fatal != nil {
		return h.aborted()
	}
	h.counter = 0
	h.sinceAt = 0
	h.hasHeader = false
	return h.handle(ctx, nil, h.processor.StartManifest(ctx))
}

// ProcessHeader widens the progress range by the header's node count.
func (h *ManifestHarness) ProcessHeader(ctx context.Context, header domain.ManifestHeader) error {
	if h.fatal != nil {
		return h.aborted()
	}
	if h.progress {
		p, err := h.monitor.Progress(ctx, h.transferID)
		if err != nil {
			return h.handle(ctx, nil, fmt.Errorf("read progress: %w", err))
		}
		h.start = p.CurrentPosition
		h.sinceAt = h.counter
		h.target = p.EndPosition + header.NodeCount
		if err := h.monitor.UpdateProgressRange(ctx, h.transferID, h.start, h.target); err != nil {
			return h.handle(ctx, nil, fmt.Errorf("update progress: %w", err))
		}
	}
	h.hasHeader = true
	return h.handle(ctx, nil, h.processor.ProcessHeader(ctx, header))
}

// ProcessNormalNode applies one node record.
func (h *ManifestHarness) ProcessNormalNode(ctx context.Context, node *domain.NormalNode) error {
	if h.fatal != nil {
		return h.aborted()
	}
	h.tick(ctx)
	ref := node.Ref
	return h.handle(ctx, &ref, h.processor.ProcessNormalNode(ctx, node))
}

// ProcessDeletedNode applies one deletion record.
func (h *ManifestHarness) ProcessDeletedNode(ctx context.Context, node *domain.DeletedNode) error {
	if h.fatal != nil {
		return h.aborted()
	}
	h.tick(ctx)
	ref := node.Ref
	return h.handle(ctx, &ref, h.processor.ProcessDeletedNode(ctx, node))
}

// EndManifest moves progress to the header's target and finishes the
// processor.
func (h *ManifestHarness) EndManifest(ctx context.Context) error {
	if h.fatal != nil {
		return h.aborted()
	}
	if h.progress && h.hasHeader {
		if err := h.monitor.UpdateProgress(ctx, h.transferID, h.target); err != nil {
			logger.Warn("transfer %s: update progress: %v", h.transferID, err)
		}
	}
	return h.handle(ctx, nil, h.processor.EndManifest(ctx))
}

// Run drives every record from reader through the harness in order.
// It stops at the end record, on a fatal failure or when ctx is done.
func (h *ManifestHarness) Run(ctx context.Context, reader driven.ManifestReader) error {
	if err := h.StartManifest(ctx); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return h.handle(ctx, nil, err)
		}
		rec, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			return h.handle(ctx, nil, fmt.Errorf("%w: manifest has no end record", domain.ErrInvalidInput))
		}
		if err != nil {
			return h.handle(ctx, nil, fmt.Errorf("read manifest: %w", err))
		}

		switch r := rec.(type) {
		case domain.ManifestHeader:
			err = h.ProcessHeader(ctx, r)
		case *domain.NormalNode:
			err = h.ProcessNormalNode(ctx, r)
		case *domain.DeletedNode:
			err = h.ProcessDeletedNode(ctx, r)
		case domain.ManifestEnd:
			return h.EndManifest(ctx)
		default:
			err = h.handle(ctx, nil, fmt.Errorf("%w: unexpected manifest record %T", domain.ErrInvalidInput, rec))
		}
		if err != nil {
			return err
		}
	}
}

func (h *ManifestHarness) tick(ctx context.Context) {
	h.counter++
	if !h.progress || h.counter%ProgressInterval != 0 {
		return
	}
	if err := h.monitor.UpdateProgress(ctx, h.transferID, h.start+h.counter-h.sinceAt); err != nil {
		logger.Warn("transfer %s: update progress: %v", h.transferID, err)
	}
}

// handle classifies a record's outcome. Cleanup failures are logged and
// never replace err.
func (h *ManifestHarness) handle(ctx context.Context, node *domain.NodeRef, err error) error {
	if err == nil {
		return nil
	}

	entry := domain.LogEntry{
		TransferID: h.transferID,
		Kind:       domain.LogError,
		Node:       node,
		Message:    err.Error(),
	}
	if logErr := h.monitor.Log(ctx, entry); logErr != nil {
		logger.Warn("transfer %s: log failure: %v", h.transferID, logErr)
	}
	if h.txn != nil {
		h.txn.MarkFailed(err)
	}
	if hookErr := h.hook.OnRecordFailure(ctx, h.transferID, node, err); hookErr != nil {
		logger.Warn("transfer %s: failure hook: %v", h.transferID, hookErr)
	}

	if domain.IsRecoverable(err) {
		logger.Warn("transfer %s: recoverable failure on %v: %v", h.transferID, node, err)
		return nil
	}

	var nodeErr *domain.NodeError
	if !errors.As(err, &nodeErr) {
		nodeErr = &domain.NodeError{Node: node, Err: err}
	}
	h.fatal = nodeErr
	logger.Info("transfer %s: aborting manifest: %v", h.transferID, nodeErr)
	return nodeErr
}

func (h *ManifestHarness) aborted() error {
	return fmt.Errorf("%w: %w", domain.ErrManifestAborted, h.fatal)
}
