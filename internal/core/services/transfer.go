package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/ferry/internal/chunker"
	"github.com/custodia-labs/ferry/internal/core/domain"
	"github.com/custodia-labs/ferry/internal/core/ports/driven"
	"github.com/custodia-labs/ferry/internal/core/ports/driving"
	"github.com/custodia-labs/ferry/internal/logger"
)

// Ensure TransferService implements the interface.
var _ driving.TransferService = (*TransferService)(nil)

// TransferService drives complete transfers from this repository.
type TransferService struct {
	settings    driving.SettingsService
	transmitter driven.Transmitter
	codec       driven.ManifestCodec
}

// NewTransferService creates a transfer service.
func NewTransferService(
	settings driving.SettingsService,
	transmitter driven.Transmitter,
	codec driven.ManifestCodec,
) *TransferService {
	return &TransferService{
		settings:    settings,
		transmitter: transmitter,
		codec:       codec,
	}
}

// Transfer runs begin, manifest, content, prepare and commit against the
// target, then polls until the receiver reaches a terminal status.
// Failures before commit abort the transfer on the receiver.
//
//nolint:gocyclo // Protocol driver with necessary sequential phases
func (s *TransferService) Transfer(ctx context.Context, req driving.TransferRequest) (*driving.TransferResult, error) {
	// 1. Resolve settings and target
	cfg := s.settings.Transfer()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	target, err := s.settings.Target(req.Target)
	if err != nil {
		return nil, err
	}

	// 2. Begin
	logger.Section("Transfer to " + target.String())
	transfer, err := s.transmitter.Begin(ctx, target, cfg.RepositoryID, domain.CurrentVersion)
	if err != nil {
		return nil, err
	}
	logger.Info("Began transfer %s (receiver %s)", transfer.ID, transfer.ToVersion)
	result := &driving.TransferResult{Transfer: transfer}

	committed := false
	defer func() {
		if committed || err == nil {
			return
		}
		// Abort on a context that outlives cancellation of ctx.
		if abortErr := s.transmitter.Abort(context.WithoutCancel(ctx), transfer); abortErr != nil {
			logger.Warn("abort of transfer %s failed: %v", transfer.ID, abortErr)
		}
	}()

	// 3. Manifest, receiving the delta list
	delta, err := s.sendManifest(ctx, transfer, req.Manifest)
	if err != nil {
		return nil, err
	}

	// 4. Content the receiver asked for, in size-bounded batches
	batches := chunker.New(func(ctx context.Context, batch []domain.ContentData) error {
		logger.Debug("Sending %d content items", len(batch))
		if err := s.transmitter.SendContent(ctx, transfer, batch); err != nil {
			return err
		}
		result.ContentSent += len(batch)
		return nil
	}, chunker.WithChunkSize(cfg.ChunkSize))

	for _, rec := range req.Manifest {
		node, ok := rec.(*domain.NormalNode)
		if !ok {
			continue
		}
		for _, c := range node.Content {
			result.ContentTotal++
			if !delta.Contains(c.URL) {
				continue
			}
			if err = batches.Add(ctx, c); err != nil {
				return nil, err
			}
		}
	}
	if err = batches.Flush(ctx); err != nil {
		return nil, err
	}
	logger.Info("Sent %d of %d content items", result.ContentSent, result.ContentTotal)

	// 5. Prepare and commit
	if err = s.transmitter.Prepare(ctx, transfer); err != nil {
		return nil, err
	}
	if err = s.transmitter.Commit(ctx, transfer); err != nil {
		return nil, err
	}
	committed = true
	transfer.Status = domain.StatusCommitRequested

	// 6. Wait for the receiver
	progress, err := s.poll(ctx, transfer, cfg.PollInterval, req.OnProgress)
	if progress != nil {
		result.Progress = *progress
	}
	if err != nil {
		return result, err
	}
	return result, nil
}

func (s *TransferService) sendManifest(ctx context.Context, transfer *domain.Transfer, records []domain.ManifestRecord) (*domain.DeltaList, error) {
	pr, pw := io.Pipe()
	var reply bytes.Buffer

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.codec.Encode(pw, records)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := s.transmitter.SendManifest(gctx, transfer, pr, &reply)
		pr.CloseWithError(err)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	delta := domain.NewDeltaList()
	if reply.Len() == 0 {
		return delta, nil
	}
	if err := json.Unmarshal(reply.Bytes(), delta); err != nil {
		return nil, fmt.Errorf("parse delta list: %w", err)
	}
	logger.Debug("Receiver requires %d content items", delta.Len())
	return delta, nil
}

// poll waits for a terminal status. Cancelling ctx sends an abort, which
// the receiver ignores once commit is under way.
func (s *TransferService) poll(ctx context.Context, transfer *domain.Transfer, interval time.Duration, onProgress func(domain.TransferProgress)) (*domain.TransferProgress, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *domain.TransferProgress
	for {
		select {
		case <-ctx.Done():
			if err := s.transmitter.Abort(context.WithoutCancel(ctx), transfer); err != nil {
				logger.Warn("abort of transfer %s failed: %v", transfer.ID, err)
			}
			return last, ctx.Err()
		case <-ticker.C:
		}

		p, err := s.transmitter.GetStatus(ctx, transfer)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			return last, err
		}
		last = p
		transfer.Status = p.Status
		if onProgress != nil {
			onProgress(*p)
		}
		logger.Debug("Transfer %s: %s %d/%d", transfer.ID, p.Status, p.CurrentPosition, p.EndPosition)

		switch p.Status {
		case domain.StatusComplete:
			return p, nil
		case domain.StatusCancelled:
			return p, fmt.Errorf("transfer %s: %w", transfer.ID, domain.ErrCancelled)
		case domain.StatusError:
			if p.Error != nil {
				return p, fmt.Errorf("transfer %s: %w", transfer.ID, p.Error)
			}
			return p, fmt.Errorf("transfer %s failed on the receiver", transfer.ID)
		}
	}
}

// Verify checks a configured target.
func (s *TransferService) Verify(ctx context.Context, name string) error {
	target, err := s.settings.Target(name)
	if err != nil {
		return err
	}
	return s.transmitter.VerifyTarget(ctx, target)
}

// Status asks a target for the progress of a transfer.
func (s *TransferService) Status(ctx context.Context, name, transferID string) (*domain.TransferProgress, error) {
	target, err := s.settings.Target(name)
	if err != nil {
		return nil, err
	}
	return s.transmitter.GetStatus(ctx, &domain.Transfer{ID: transferID, Target: target})
}

// Report streams a target's report for a transfer to w.
func (s *TransferService) Report(ctx context.Context, name, transferID string, w io.Writer) error {
	target, err := s.settings.Target(name)
	if err != nil {
		return err
	}
	return s.transmitter.GetTransferReport(ctx, &domain.Transfer{ID: transferID, Target: target}, w)
}
